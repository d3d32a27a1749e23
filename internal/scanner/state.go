package scanner

import (
	"time"

	"github.com/cardioscan/backend/internal/ingestion"
	"github.com/cardioscan/backend/internal/storage/models"
)

type Status string

const (
	StatusIdle          Status = "idle"
	StatusProcessingPDF Status = "processing_pdf"
	StatusAnalyzing     Status = "analyzing"
	StatusSuccess       Status = "success"
	StatusError         Status = "error"
)

// Busy reports whether the session is waiting on ingestion or analysis.
func (s Status) Busy() bool {
	return s == StatusProcessingPDF || s == StatusAnalyzing
}

type FileInfo struct {
	Name      string `json:"name"`
	MediaType string `json:"mediaType"`
	Size      int    `json:"size"`
}

// State is one scanner session. Preview and File being set are data, not
// statuses: a preview can exist alongside idle, success or error.
type State struct {
	Status            Status                 `json:"status"`
	Patient           models.PatientContext  `json:"patient"`
	File              *FileInfo              `json:"file,omitempty"`
	Preview           *ingestion.Preview     `json:"preview,omitempty"`
	Result            *models.AnalysisResult `json:"result,omitempty"`
	Error             string                 `json:"error,omitempty"`
	ActiveAnnotation  *int                   `json:"activeAnnotation"`
	HoveredAnnotation *int                   `json:"hoveredAnnotation"`
	// Generation changes whenever an in-flight analysis must be abandoned.
	Generation        uint64                 `json:"generation"`
	AnalysisStartedAt time.Time              `json:"analysisStartedAt,omitzero"`
}

func Initial() State {
	return State{Status: StatusIdle}
}

// Clone copies everything a caller could mutate.
func (s State) Clone() State {
	out := s
	if s.File != nil {
		f := *s.File
		out.File = &f
	}
	if s.Preview != nil {
		p := *s.Preview
		out.Preview = &p
	}
	out.Result = s.Result.Clone()
	out.ActiveAnnotation = cloneIndex(s.ActiveAnnotation)
	out.HoveredAnnotation = cloneIndex(s.HoveredAnnotation)
	return out
}

func cloneIndex(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

func Index(i int) *int {
	return &i
}
