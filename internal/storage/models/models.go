package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

type Gender string

const (
	GenderMale        Gender = "Male"
	GenderFemale      Gender = "Female"
	GenderUnspecified Gender = ""
)

func (g Gender) Valid() bool {
	return g == GenderMale || g == GenderFemale || g == GenderUnspecified
}

// PatientContext is the patient metadata submitted with a scan. JSON names
// follow the backup file format.
type PatientContext struct {
	Name     string `json:"name"`
	ID       string `json:"id"`
	Age      string `json:"age"`
	Gender   Gender `json:"gender"`
	Symptoms string `json:"symptoms,omitempty"`
}

// Complete reports whether the fields required to start an analysis are set.
func (p PatientContext) Complete() bool {
	return strings.TrimSpace(p.Name) != "" &&
		strings.TrimSpace(p.ID) != "" &&
		strings.TrimSpace(p.Age) != "" &&
		p.Gender != GenderUnspecified
}

type BoundingBox struct {
	XMin float64 `json:"x_min"`
	YMin float64 `json:"y_min"`
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
}

type Category string

const (
	CategoryClinical Category = "clinical"
	CategoryArtifact Category = "artifact"
)

type Certainty string

const (
	CertaintyHigh     Certainty = "High"
	CertaintyModerate Certainty = "Moderate"
	CertaintyLow      Certainty = "Low"
)

type AnnotationType string

const (
	AnnotationPoint   AnnotationType = "point"
	AnnotationSegment AnnotationType = "segment"
	AnnotationArea    AnnotationType = "area"
)

type Annotation struct {
	Label       string `json:"label"`
	Description string `json:"description"`
	// BoundingBox is kept undecoded so a single bad coordinate does not
	// reject the whole result; see Bounds.
	BoundingBox json.RawMessage `json:"boundingBox,omitempty"`
	Type        AnnotationType  `json:"annotationType"`
	Category    Category        `json:"category"`
	Certainty   Certainty       `json:"certainty"`
}

// RawBox encodes b for use as Annotation.BoundingBox.
func RawBox(b BoundingBox) json.RawMessage {
	data, _ := json.Marshal(b)
	return data
}

// Bounds decodes the bounding box. It returns false when the box is missing,
// any coordinate is absent, null or non-numeric, or a value is not finite.
func (a Annotation) Bounds() (BoundingBox, bool) {
	if len(a.BoundingBox) == 0 {
		return BoundingBox{}, false
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(a.BoundingBox, &raw); err != nil || raw == nil {
		return BoundingBox{}, false
	}

	var box BoundingBox
	for key, dst := range map[string]*float64{
		"x_min": &box.XMin,
		"y_min": &box.YMin,
		"x_max": &box.XMax,
		"y_max": &box.YMax,
	} {
		v, ok := raw[key]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return BoundingBox{}, false
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return BoundingBox{}, false
		}
		if math.IsNaN(*dst) || math.IsInf(*dst, 0) {
			return BoundingBox{}, false
		}
	}
	return box, true
}

type EcgParameters struct {
	HR                 string `json:"hr"`
	Rhythm             string `json:"rhythm"`
	Axis               string `json:"axis"`
	PRInterval         string `json:"prInterval"`
	QRSComplex         string `json:"qrsComplex"`
	QTInterval         string `json:"qtInterval"`
	STDeviations       string `json:"stDeviations"`
	TWaveAbnormalities string `json:"tWaveAbnormalities"`
	OtherFindings      string `json:"otherFindings"`
}

type DifferentialDiagnosis struct {
	Diagnosis string `json:"diagnosis"`
	Rationale string `json:"rationale"`
}

type AuditStatus string

const (
	AuditPass AuditStatus = "Pass"
	AuditFail AuditStatus = "Fail"
)

type FinalAudit struct {
	Status    AuditStatus `json:"status"`
	Rationale string      `json:"rationale"`
}

type AnalysisResult struct {
	Diagnosis             string                  `json:"diagnosis"`
	Summary               string                  `json:"summary"`
	Recommendation        string                  `json:"recommendation"`
	AnalysisNote          *string                 `json:"analysisNote,omitempty"`
	Confidence            float64                 `json:"confidence"`
	EmergencyLevel        int                     `json:"emergencyLevel"`
	HeartRateBPM          int                     `json:"heartRateBPM"`
	IsCritical            bool                    `json:"isCritical"`
	EcgParameters         EcgParameters           `json:"ecgParameters"`
	Annotations           []Annotation            `json:"annotations"`
	DifferentialDiagnosis []DifferentialDiagnosis `json:"differentialDiagnosis"`
	FinalAudit            FinalAudit              `json:"finalAudit"`
}

const MaxEmergencyLevel = 100

// CheckRanges returns an error naming the first numeric field outside its
// range: confidence in [0,1], emergency level in [0,100], heart rate >= 0.
func (r *AnalysisResult) CheckRanges() error {
	switch {
	case math.IsNaN(r.Confidence) || r.Confidence < 0 || r.Confidence > 1:
		return fmt.Errorf("confidence must be between 0 and 1, got %v", r.Confidence)
	case r.EmergencyLevel < 0 || r.EmergencyLevel > MaxEmergencyLevel:
		return fmt.Errorf("emergency level must be between 0 and %d, got %d", MaxEmergencyLevel, r.EmergencyLevel)
	case r.HeartRateBPM < 0:
		return fmt.Errorf("heart rate must not be negative, got %d", r.HeartRateBPM)
	}
	return nil
}

type Urgency string

const (
	UrgencyImmediate Urgency = "Immediate"
	UrgencyUrgent    Urgency = "Urgent"
	UrgencyRoutine   Urgency = "Routine"
	UrgencyUnknown   Urgency = ""
)

// Urgency reads the tier prefix of the recommendation.
func (r *AnalysisResult) Urgency() Urgency {
	for _, u := range []Urgency{UrgencyImmediate, UrgencyUrgent, UrgencyRoutine} {
		if strings.HasPrefix(strings.TrimSpace(r.Recommendation), string(u)+":") {
			return u
		}
	}
	return UrgencyUnknown
}

func (r *AnalysisResult) Clone() *AnalysisResult {
	if r == nil {
		return nil
	}
	out := *r
	if r.AnalysisNote != nil {
		note := *r.AnalysisNote
		out.AnalysisNote = &note
	}
	if r.Annotations != nil {
		out.Annotations = make([]Annotation, len(r.Annotations))
		for i, a := range r.Annotations {
			a.BoundingBox = append(json.RawMessage(nil), a.BoundingBox...)
			out.Annotations[i] = a
		}
	}
	if r.DifferentialDiagnosis != nil {
		out.DifferentialDiagnosis = append([]DifferentialDiagnosis(nil), r.DifferentialDiagnosis...)
	}
	return &out
}

// ScanRecord is one persisted analysis. JSON names match the backup format.
type ScanRecord struct {
	ScanID         string         `json:"scanId"`
	PatientInfo    PatientContext `json:"patientInfo"`
	AnalysisResult AnalysisResult `json:"analysisResult"`
	ImageDataURI   string         `json:"ecgImageBase64"`
	Timestamp      time.Time      `json:"timestamp"`
}

func (s ScanRecord) Clone() ScanRecord {
	out := s
	out.AnalysisResult = *s.AnalysisResult.Clone()
	return out
}

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

type User struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
}

// StoredUser is a user as persisted and exported. CredentialToken is an
// opaque bcrypt hash; plaintext passwords are never stored.
type StoredUser struct {
	User
	CredentialToken string `json:"passwordHash"`
}

type UserWithHistory struct {
	User
	History []ScanRecord `json:"history"`
}

// Backup is the full export snapshot.
type Backup struct {
	Users     []StoredUser            `json:"users"`
	Histories map[string][]ScanRecord `json:"histories"`
}
