package scanner

import (
	"strings"
	"time"

	"github.com/cardioscan/backend/internal/ingestion"
	"github.com/cardioscan/backend/internal/storage/models"
)

// Event is a scanner transition. The set is closed.
type Event interface {
	event()
}

type SetPatient struct {
	Patient models.PatientContext
}

type SetPatientField struct {
	Field string
	Value string
}

type SelectFile struct {
	File FileInfo
}

type PdfRasterized struct {
	Preview ingestion.Preview
}

type ImageRasterized struct {
	Preview ingestion.Preview
}

type StartAnalysis struct {
	At time.Time
}

type AnalysisSucceeded struct {
	Result *models.AnalysisResult
}

type AnalysisFailed struct {
	Message string
}

type SelectAnnotation struct {
	Index *int
}

type HoverAnnotation struct {
	Index *int
}

type ClearFile struct{}

type Reset struct{}

func (SetPatient) event()        {}
func (SetPatientField) event()   {}
func (SelectFile) event()        {}
func (PdfRasterized) event()     {}
func (ImageRasterized) event()   {}
func (StartAnalysis) event()     {}
func (AnalysisSucceeded) event() {}
func (AnalysisFailed) event()    {}
func (SelectAnnotation) event()  {}
func (HoverAnnotation) event()   {}
func (ClearFile) event()         {}
func (Reset) event()             {}

// PatientFields lists the names accepted by SetPatientField.
var PatientFields = []string{"name", "id", "age", "gender", "symptoms"}

// Transition applies e to s. It has no side effects; guards live in Session.
func Transition(s State, e Event) State {
	switch e := e.(type) {
	case SetPatient:
		s.Patient = e.Patient

	case SetPatientField:
		s.Patient = setField(s.Patient, e.Field, e.Value)

	case SelectFile:
		next := Initial()
		next.Patient = s.Patient
		next.Generation = s.Generation + 1
		file := e.File
		next.File = &file
		if ingestion.IsPDF(file.MediaType) {
			next.Status = StatusProcessingPDF
		}
		return next

	case PdfRasterized:
		p := e.Preview
		s.Preview = &p
		s.Status = StatusIdle

	case ImageRasterized:
		p := e.Preview
		s.Preview = &p

	case StartAnalysis:
		s.Status = StatusAnalyzing
		s.Generation++
		s.AnalysisStartedAt = e.At
		s.Result = nil
		s.Error = ""
		s.ActiveAnnotation = nil
		s.HoveredAnnotation = nil

	case AnalysisSucceeded:
		s.Status = StatusSuccess
		s.Result = e.Result

	case AnalysisFailed:
		s.Status = StatusError
		s.Error = e.Message
		s.Result = nil

	case SelectAnnotation:
		s.ActiveAnnotation = e.Index

	case HoverAnnotation:
		s.HoveredAnnotation = e.Index

	case ClearFile:
		s.File = nil
		s.Preview = nil
		s.Result = nil
		s.Error = ""
		s.ActiveAnnotation = nil
		s.HoveredAnnotation = nil
		s.Status = StatusIdle
		s.Generation++

	case Reset:
		next := Initial()
		next.Generation = s.Generation + 1
		return next
	}
	return s
}

func setField(p models.PatientContext, field, value string) models.PatientContext {
	switch strings.ToLower(field) {
	case "name":
		p.Name = value
	case "id":
		p.ID = value
	case "age":
		p.Age = value
	case "gender":
		p.Gender = models.Gender(value)
	case "symptoms":
		p.Symptoms = value
	}
	return p
}
