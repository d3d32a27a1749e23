package analysis

import (
	"fmt"
	"strings"

	"github.com/cardioscan/backend/internal/storage/models"
)

const (
	overrideDiagnosis      = "Corrected Contradiction"
	overrideRecommendation = "Routine: AI-reported urgency was inconsistent with its diagnosis and has been overridden. A manual review is recommended."
	overrideEmergencyLevel = 5

	// Emergency levels above this contradict a normal diagnosis.
	normalEmergencyCeiling = 20
)

var normalMarkers = []string{"normal", "within normal limits", "sinus rhythm"}

// IsNormalDiagnosis is a case-insensitive substring test, so "Abnormal T
// waves" counts as normal-sounding.
func IsNormalDiagnosis(diagnosis string) bool {
	d := strings.ToLower(diagnosis)
	for _, m := range normalMarkers {
		if strings.Contains(d, m) {
			return true
		}
	}
	return false
}

// ApplySafetyOverride rewrites r in place when a normal-sounding diagnosis
// is paired with a critical flag or a high emergency level. It reports
// whether the override fired.
func ApplySafetyOverride(r *models.AnalysisResult) bool {
	if !IsNormalDiagnosis(r.Diagnosis) {
		return false
	}
	if !r.IsCritical && r.EmergencyLevel <= normalEmergencyCeiling {
		return false
	}

	original := r.Diagnosis
	level := r.EmergencyLevel

	r.Diagnosis = overrideDiagnosis
	r.Summary = fmt.Sprintf("SYSTEM SAFETY OVERRIDE: The AI reported a normal diagnosis of '%s' but paired it with an inappropriately high emergency level (%d/100). The system has automatically corrected this to a non-critical finding. Please review manually.", original, level)
	r.Recommendation = overrideRecommendation
	r.IsCritical = false
	r.EmergencyLevel = overrideEmergencyLevel
	r.FinalAudit = models.FinalAudit{
		Status:    models.AuditFail,
		Rationale: fmt.Sprintf("System override: AI reported a normal diagnosis with a critical emergency level (%d).", level),
	}
	return true
}
