package utils

import "testing"

func TestMaskEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"jane.doe@example.com", "j*******@example.com"},
		{"a@b.io", "*@b.io"},
		{"nobody", "******"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := MaskEmail(tt.in); got != tt.want {
			t.Errorf("MaskEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFingerprint(t *testing.T) {
	a := FingerprintString("data:image/png;base64,AAAA")
	b := FingerprintString("data:image/png;base64,AAAA")
	c := FingerprintString("data:image/png;base64,AAAB")
	if a != b {
		t.Errorf("Fingerprint() not stable: %q vs %q", a, b)
	}
	if a == c {
		t.Errorf("Fingerprint() collided for different inputs")
	}
	if len(a) != 16 {
		t.Errorf("len(Fingerprint()) = %d, want 16", len(a))
	}
}
