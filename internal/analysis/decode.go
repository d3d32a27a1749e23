package analysis

import (
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"strings"

	"github.com/cardioscan/backend/internal/scanerr"
	"github.com/cardioscan/backend/internal/storage/models"
)

var (
	errIncomplete = errors.New("invalid or incomplete analysis data")
	errConfidence = errors.New("confidence outside [0,1]")
)

// wireResult mirrors models.AnalysisResult with pointers where presence
// must be checked and floats where models sometimes send 42.0 for integers.
type wireResult struct {
	Diagnosis             string                         `json:"diagnosis"`
	Summary               string                         `json:"summary"`
	Recommendation        string                         `json:"recommendation"`
	AnalysisNote          *string                        `json:"analysisNote"`
	Confidence            *float64                       `json:"confidence"`
	EmergencyLevel        float64                        `json:"emergencyLevel"`
	HeartRateBPM          float64                        `json:"heartRateBPM"`
	IsCritical            bool                           `json:"isCritical"`
	EcgParameters         models.EcgParameters           `json:"ecgParameters"`
	Annotations           []models.Annotation            `json:"annotations"`
	DifferentialDiagnosis []models.DifferentialDiagnosis `json:"differentialDiagnosis"`
	FinalAudit            *models.FinalAudit             `json:"finalAudit"`
}

var trailingComma = regexp.MustCompile(`,(\s*[}\]])`)

// sanitizeModelJSON strips code fences and trailing commas and keeps the
// outermost object.
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = trailingComma.ReplaceAllString(raw, "$1")

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

// Decode parses a model reply into an AnalysisResult. A reply that is not
// JSON, lacks a diagnosis, a numeric confidence in [0,1] or the final audit,
// is a MalformedResponse. Emergency level is clamped to [0,100] and heart
// rate to >= 0.
func Decode(content string) (*models.AnalysisResult, error) {
	var w wireResult
	if err := json.Unmarshal([]byte(sanitizeModelJSON(content)), &w); err != nil {
		return nil, scanerr.Wrap(scanerr.KindMalformedResponse, err)
	}
	if strings.TrimSpace(w.Diagnosis) == "" || w.Confidence == nil || w.FinalAudit == nil {
		return nil, scanerr.Wrap(scanerr.KindMalformedResponse, errIncomplete)
	}
	if c := *w.Confidence; math.IsNaN(c) || c < 0 || c > 1 {
		return nil, scanerr.Wrap(scanerr.KindMalformedResponse, errConfidence)
	}

	result := &models.AnalysisResult{
		Diagnosis:             w.Diagnosis,
		Summary:               w.Summary,
		Recommendation:        w.Recommendation,
		Confidence:            *w.Confidence,
		EmergencyLevel:        int(math.Round(clamp(w.EmergencyLevel, 0, models.MaxEmergencyLevel))),
		HeartRateBPM:          int(math.Round(math.Max(w.HeartRateBPM, 0))),
		IsCritical:            w.IsCritical,
		EcgParameters:         w.EcgParameters,
		Annotations:           w.Annotations,
		DifferentialDiagnosis: w.DifferentialDiagnosis,
		FinalAudit:            *w.FinalAudit,
	}
	if w.AnalysisNote != nil && strings.TrimSpace(*w.AnalysisNote) != "" {
		note := *w.AnalysisNote
		result.AnalysisNote = &note
	}
	if result.Annotations == nil {
		result.Annotations = []models.Annotation{}
	}
	if result.DifferentialDiagnosis == nil {
		result.DifferentialDiagnosis = []models.DifferentialDiagnosis{}
	}
	return result, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
