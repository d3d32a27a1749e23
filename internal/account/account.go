package account

import (
	"context"

	"github.com/cardioscan/backend/internal/storage/models"
)

// Identity is an authenticated user. Token is the account service's bearer
// token and is empty in local mode.
type Identity struct {
	User  models.User
	Token string
}

// ResetTicket describes a pending password reset. Code is only populated
// when no mail channel exists to deliver it.
type ResetTicket struct {
	MaskedEmail string `json:"maskedEmail"`
	UserName    string `json:"userName"`
	Code        string `json:"code,omitempty"`
}

type Authenticator interface {
	Login(ctx context.Context, email, password string) (*Identity, error)
	Signup(ctx context.Context, name, email, password string) (*Identity, error)
	RequestReset(ctx context.Context, email string) (*ResetTicket, error)
	VerifyReset(ctx context.Context, email, code string) error
	FinalizeReset(ctx context.Context, email, newPassword, code string) error
}

// Feedback is a manual correction reported back to the account service.
type Feedback struct {
	CorrectedPrediction string                 `json:"corrected_prediction"`
	Notes               string                 `json:"notes,omitempty"`
	FeedbackType        string                 `json:"feedback_type,omitempty"`
	NewConfidence       *float64               `json:"new_confidence,omitempty"`
	AnalysisDetails     *models.AnalysisResult `json:"analysis_details,omitempty"`
}

const FeedbackCorrection = "correction"

// FeedbackFor builds the correction report for an edited record.
func FeedbackFor(original, corrected models.ScanRecord) Feedback {
	confidence := corrected.AnalysisResult.Confidence
	fb := Feedback{
		CorrectedPrediction: corrected.AnalysisResult.Diagnosis,
		FeedbackType:        FeedbackCorrection,
		NewConfidence:       &confidence,
		AnalysisDetails:     corrected.AnalysisResult.Clone(),
	}
	if original.AnalysisResult.Diagnosis != corrected.AnalysisResult.Diagnosis {
		fb.Notes = "Diagnosis corrected from \"" + original.AnalysisResult.Diagnosis + "\""
	}
	return fb
}
