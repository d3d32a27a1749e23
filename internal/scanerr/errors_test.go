package scanerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorsIsMatchesKind(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := fmt.Errorf("failed to analyze: %w", Wrap(KindNetwork, cause))

	if !errors.Is(err, ErrNetwork) {
		t.Errorf("errors.Is(err, ErrNetwork) = false")
	}
	if errors.Is(err, ErrBlocked) {
		t.Errorf("errors.Is(err, ErrBlocked) = true")
	}
	if !errors.Is(err, cause) {
		t.Errorf("cause not reachable through Unwrap")
	}
	if KindOf(err) != KindNetwork {
		t.Errorf("KindOf() = %v, want network", KindOf(err))
	}
}

func TestUserMessage(t *testing.T) {
	if msg := UserMessage(Wrap(KindNetwork, errors.New("x"))); !strings.Contains(msg, "connection") {
		t.Errorf("network message %q does not mention connectivity", msg)
	}
	if msg := UserMessage(errors.New("raw transport text")); strings.Contains(msg, "raw transport") {
		t.Errorf("UserMessage() leaked raw error: %q", msg)
	}
	if msg := UserMessage(Wrapf(KindPdfProcessing, errors.New("bad xref"), "PDF Error: %s", "bad xref")); msg != "PDF Error: bad xref" {
		t.Errorf("UserMessage() = %q", msg)
	}
}

func TestTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{New(KindServiceUnavailable, ""), true},
		{New(KindNetwork, ""), true},
		{New(KindInvalidRequest, ""), false},
		{New(KindMalformedResponse, ""), false},
		{errors.New("plain"), false},
	}
	for _, tt := range tests {
		if got := Transient(tt.err); got != tt.want {
			t.Errorf("Transient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
