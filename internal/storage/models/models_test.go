package models

import (
	"encoding/json"
	"testing"
)

func TestAnnotationBounds(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		wantOK bool
		want   BoundingBox
	}{
		{
			name:   "numeric",
			raw:    `{"x_min":0.1,"y_min":0.2,"x_max":0.3,"y_max":0.4}`,
			wantOK: true,
			want:   BoundingBox{XMin: 0.1, YMin: 0.2, XMax: 0.3, YMax: 0.4},
		},
		{name: "string coordinate", raw: `{"x_min":"abc","y_min":0.2,"x_max":0.3,"y_max":0.4}`},
		{name: "null coordinate", raw: `{"x_min":null,"y_min":0.2,"x_max":0.3,"y_max":0.4}`},
		{name: "missing coordinate", raw: `{"x_min":0.1,"y_min":0.2,"x_max":0.3}`},
		{name: "null box", raw: `null`},
		{name: "array box", raw: `[0.1,0.2,0.3,0.4]`},
		{name: "absent", raw: ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Annotation{BoundingBox: json.RawMessage(tt.raw)}
			got, ok := a.Bounds()
			if ok != tt.wantOK {
				t.Fatalf("Bounds() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("Bounds() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAnalysisResultDecodesMalformedBox(t *testing.T) {
	raw := `{"diagnosis":"Sinus Tachycardia","confidence":0.9,"annotations":[
		{"label":"bad","boundingBox":{"x_min":"abc","y_min":0,"x_max":1,"y_max":1}},
		{"label":"good","boundingBox":{"x_min":0,"y_min":0,"x_max":1,"y_max":1}}]}`

	var r AnalysisResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(r.Annotations) != 2 {
		t.Fatalf("len(Annotations) = %d, want 2", len(r.Annotations))
	}
	if _, ok := r.Annotations[0].Bounds(); ok {
		t.Errorf("Bounds() of malformed box reported ok")
	}
	if _, ok := r.Annotations[1].Bounds(); !ok {
		t.Errorf("Bounds() of valid box reported not ok")
	}
}

func TestPatientContextComplete(t *testing.T) {
	full := PatientContext{Name: "Jane", ID: "P-1", Age: "54", Gender: GenderFemale}
	if !full.Complete() {
		t.Errorf("Complete() = false for %+v", full)
	}

	noGender := full
	noGender.Gender = GenderUnspecified
	if noGender.Complete() {
		t.Errorf("Complete() = true without gender")
	}

	blankName := full
	blankName.Name = "   "
	if blankName.Complete() {
		t.Errorf("Complete() = true with blank name")
	}
}

func TestUrgency(t *testing.T) {
	tests := map[string]Urgency{
		"Immediate: activate cath lab": UrgencyImmediate,
		"Urgent: cardiology review":    UrgencyUrgent,
		" Routine: follow up":          UrgencyRoutine,
		"Follow up with GP":            UrgencyUnknown,
	}
	for rec, want := range tests {
		r := AnalysisResult{Recommendation: rec}
		if got := r.Urgency(); got != want {
			t.Errorf("Urgency(%q) = %q, want %q", rec, got, want)
		}
	}
}

func TestAnalysisResultCloneIsDeep(t *testing.T) {
	note := "limited by baseline wander"
	orig := &AnalysisResult{
		Diagnosis:    "Atrial Fibrillation",
		AnalysisNote: &note,
		Annotations: []Annotation{{
			Label:       "Irregular RR",
			BoundingBox: RawBox(BoundingBox{XMin: 0.1, YMin: 0.1, XMax: 0.2, YMax: 0.2}),
		}},
		DifferentialDiagnosis: []DifferentialDiagnosis{{Diagnosis: "MAT"}},
	}

	c := orig.Clone()
	*c.AnalysisNote = "changed"
	c.Annotations[0].Label = "changed"
	c.Annotations[0].BoundingBox[0] = 'X'
	c.DifferentialDiagnosis[0].Diagnosis = "changed"

	if *orig.AnalysisNote != note {
		t.Errorf("AnalysisNote aliased")
	}
	if orig.Annotations[0].Label != "Irregular RR" {
		t.Errorf("Annotations aliased")
	}
	if _, ok := orig.Annotations[0].Bounds(); !ok {
		t.Errorf("BoundingBox bytes aliased")
	}
	if orig.DifferentialDiagnosis[0].Diagnosis != "MAT" {
		t.Errorf("DifferentialDiagnosis aliased")
	}
}

func TestStoredUserJSONShape(t *testing.T) {
	u := StoredUser{User: User{Email: "a@b.c", Name: "A", Role: RoleUser}, CredentialToken: "$2a$token"}
	data, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, key := range []string{"email", "name", "role", "passwordHash"} {
		if _, ok := flat[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
}

func TestAnalysisResultCheckRanges(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *AnalysisResult)
		wantErr bool
	}{
		{name: "in range", mutate: func(r *AnalysisResult) {}},
		{name: "bounds inclusive", mutate: func(r *AnalysisResult) { r.Confidence, r.EmergencyLevel = 1, 100 }},
		{name: "confidence above one", mutate: func(r *AnalysisResult) { r.Confidence = 1.7 }, wantErr: true},
		{name: "negative confidence", mutate: func(r *AnalysisResult) { r.Confidence = -0.1 }, wantErr: true},
		{name: "emergency above 100", mutate: func(r *AnalysisResult) { r.EmergencyLevel = 250 }, wantErr: true},
		{name: "negative emergency", mutate: func(r *AnalysisResult) { r.EmergencyLevel = -1 }, wantErr: true},
		{name: "negative heart rate", mutate: func(r *AnalysisResult) { r.HeartRateBPM = -40 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := AnalysisResult{Diagnosis: "Atrial Fibrillation", Confidence: 0.8, EmergencyLevel: 40, HeartRateBPM: 110}
			tt.mutate(&r)
			if err := r.CheckRanges(); (err != nil) != tt.wantErr {
				t.Errorf("CheckRanges() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
