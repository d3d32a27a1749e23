package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cardioscan/backend/internal/analysis"
	"github.com/cardioscan/backend/internal/ingestion"
	"github.com/cardioscan/backend/internal/metrics"
	"github.com/cardioscan/backend/internal/overlay"
	"github.com/cardioscan/backend/internal/scanerr"
	"github.com/cardioscan/backend/internal/storage/models"
	"github.com/cardioscan/backend/pkg/logger"
	"github.com/cardioscan/backend/pkg/utils"
)

// Recorder persists finished scans and supplies correction examples.
type Recorder interface {
	Append(ctx context.Context, email string, record models.ScanRecord) error
	CorrectionExamples(ctx context.Context, n int) ([]models.ScanRecord, error)
}

// Session is the scanner of one user. All methods are safe for concurrent
// use; at most one analysis is in flight at a time.
type Session struct {
	owner    string
	analyzer analysis.Analyzer
	ingestor *ingestion.Processor
	recorder Recorder
	settings settings

	mu          sync.Mutex
	state       State
	subscribers map[int]chan State
	nextSubID   int
	inflight    sync.WaitGroup
}

func newSession(owner string, analyzer analysis.Analyzer, ingestor *ingestion.Processor, recorder Recorder, s settings) *Session {
	return &Session{
		owner:       owner,
		analyzer:    analyzer,
		ingestor:    ingestor,
		recorder:    recorder,
		settings:    s,
		state:       Initial(),
		subscribers: make(map[int]chan State),
	}
}

func (s *Session) Owner() string {
	return s.owner
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// dispatch applies e and notifies subscribers. Callers hold s.mu.
func (s *Session) dispatch(e Event) State {
	s.state = Transition(s.state, e)
	snapshot := s.state.Clone()
	for _, ch := range s.subscribers {
		select {
		case ch <- snapshot:
		default:
		}
	}
	return snapshot
}

// Subscribe delivers a snapshot after every transition. Slow readers miss
// intermediate states. The returned func unsubscribes.
func (s *Session) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	ch := make(chan State, 8)
	s.subscribers[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(ch)
		}
	}
}

func (s *Session) SetPatient(p models.PatientContext) (State, error) {
	if !p.Gender.Valid() {
		return State{}, scanerr.New(scanerr.KindValidation, "Gender must be Male or Female.")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatch(SetPatient{Patient: p}), nil
}

func (s *Session) SetPatientField(field, value string) (State, error) {
	known := false
	for _, f := range PatientFields {
		if f == field {
			known = true
			break
		}
	}
	if !known {
		return State{}, scanerr.New(scanerr.KindValidation, fmt.Sprintf("Unknown patient field %q.", field))
	}
	if field == "gender" && !models.Gender(value).Valid() {
		return State{}, scanerr.New(scanerr.KindValidation, "Gender must be Male or Female.")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatch(SetPatientField{Field: field, Value: value}), nil
}

// SelectFile replaces the current file and ingests it. Unsupported files
// and selection while busy are rejected without a transition. Ingestion
// failures land in the session as an error status.
func (s *Session) SelectFile(ctx context.Context, f ingestion.File) (State, error) {
	mediaType := f.MediaType
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = ingestion.DetectMediaType(f.Name, f.Data)
	}
	if !ingestion.Accepted(mediaType) {
		return State{}, scanerr.New(scanerr.KindFormat, "Unsupported file type. Please select a PNG, JPEG, WEBP, HEIC or PDF file.")
	}
	f.MediaType = mediaType

	s.mu.Lock()
	if s.state.Status.Busy() {
		s.mu.Unlock()
		return State{}, scanerr.Wrap(scanerr.KindBusy, errors.New("file selection while "+string(s.state.Status)))
	}
	s.dispatch(SelectFile{File: FileInfo{Name: f.Name, MediaType: mediaType, Size: len(f.Data)}})
	gen := s.state.Generation
	s.mu.Unlock()

	preview, err := s.ingestor.Ingest(ctx, f)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Generation != gen {
		logger.Debug("Discarding stale ingestion result", zap.String("owner", utils.MaskEmail(s.owner)))
		return s.state.Clone(), nil
	}
	switch {
	case err != nil:
		return s.dispatch(AnalysisFailed{Message: scanerr.UserMessage(err)}), nil
	case ingestion.IsPDF(mediaType):
		return s.dispatch(PdfRasterized{Preview: *preview}), nil
	default:
		return s.dispatch(ImageRasterized{Preview: *preview}), nil
	}
}

type job struct {
	generation uint64
	imageURI   string
	patient    models.PatientContext
}

// begin checks the start guards and moves the session to analyzing.
func (s *Session) begin() (job, State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state.Status == StatusAnalyzing:
		return job{}, State{}, scanerr.New(scanerr.KindBusy, "An analysis is already in progress.")
	case s.state.Status == StatusProcessingPDF:
		return job{}, State{}, scanerr.New(scanerr.KindBusy, "The PDF is still being processed.")
	case !s.state.Patient.Complete():
		return job{}, State{}, scanerr.New(scanerr.KindValidation, "Please fill in all required patient fields (name, ID, age, gender).")
	case s.state.Preview == nil:
		return job{}, State{}, scanerr.New(scanerr.KindValidation, "Please select an ECG image first.")
	}

	snapshot := s.dispatch(StartAnalysis{At: s.settings.clock()})
	s.inflight.Add(1)
	return job{
		generation: s.state.Generation,
		imageURI:   s.state.Preview.DataURI,
		patient:    s.state.Patient,
	}, snapshot, nil
}

// StartAnalysis submits the current preview in the background and returns
// the analyzing state. The request outlives ctx cancellation; abandoning it
// is done with Reset, ClearFile or SelectFile.
func (s *Session) StartAnalysis(ctx context.Context) (State, error) {
	j, snapshot, err := s.begin()
	if err != nil {
		return State{}, err
	}
	go func() {
		_, _ = s.execute(context.WithoutCancel(ctx), j)
	}()
	return snapshot, nil
}

// Analyze runs the analysis to completion. The returned error is the
// analysis failure, which is also recorded in the state.
func (s *Session) Analyze(ctx context.Context) (State, error) {
	j, _, err := s.begin()
	if err != nil {
		return State{}, err
	}
	return s.execute(ctx, j)
}

func (s *Session) execute(ctx context.Context, j job) (State, error) {
	defer s.inflight.Done()
	owner := utils.MaskEmail(s.owner)

	examples, err := s.recorder.CorrectionExamples(ctx, s.settings.exampleCount)
	if err != nil {
		logger.Warn("Correction examples unavailable", zap.String("owner", owner), zap.Error(err))
		examples = nil
	}

	start := time.Now()
	result, analyzeErr := s.analyzer.Analyze(ctx, j.imageURI, j.patient, examples)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Generation != j.generation {
		metrics.AnalysisTotal.WithLabelValues("discarded").Inc()
		logger.Info("Discarding stale analysis result",
			zap.String("owner", owner),
			zap.Uint64("generation", j.generation),
			zap.Uint64("current", s.state.Generation),
		)
		return s.state.Clone(), nil
	}

	if analyzeErr != nil {
		kind := scanerr.KindOf(analyzeErr)
		metrics.AnalysisTotal.WithLabelValues(kind.String()).Inc()
		logger.Error("Analysis failed",
			zap.String("owner", owner),
			zap.String("kind", kind.String()),
			zap.Error(analyzeErr),
		)
		return s.dispatch(AnalysisFailed{Message: scanerr.UserMessage(analyzeErr)}), analyzeErr
	}

	snapshot := s.dispatch(AnalysisSucceeded{Result: result})
	metrics.AnalysisTotal.WithLabelValues("success").Inc()

	record := models.ScanRecord{
		ScanID:         s.settings.newID(),
		PatientInfo:    j.patient,
		AnalysisResult: *result.Clone(),
		ImageDataURI:   j.imageURI,
		Timestamp:      s.settings.clock().UTC(),
	}
	if err := s.recorder.Append(ctx, s.owner, record); err != nil {
		logger.Error("Failed to save scan", zap.String("owner", owner), zap.Error(err))
		return snapshot, fmt.Errorf("failed to save scan: %w", err)
	}

	logger.Info("Scan saved",
		zap.String("owner", owner),
		zap.String("scan_id", record.ScanID),
		zap.Duration("elapsed", time.Since(start)),
	)
	return snapshot, nil
}

func (s *Session) annotationIndex(idx *int) error {
	if idx == nil {
		return nil
	}
	if s.state.Result == nil || *idx < 0 || *idx >= len(s.state.Result.Annotations) {
		return scanerr.New(scanerr.KindValidation, fmt.Sprintf("Annotation %d does not exist.", *idx))
	}
	return nil
}

func (s *Session) SelectAnnotation(idx *int) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.annotationIndex(idx); err != nil {
		return State{}, err
	}
	return s.dispatch(SelectAnnotation{Index: cloneIndex(idx)}), nil
}

func (s *Session) HoverAnnotation(idx *int) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.annotationIndex(idx); err != nil {
		return State{}, err
	}
	return s.dispatch(HoverAnnotation{Index: cloneIndex(idx)}), nil
}

// NextAnnotation and PrevAnnotation cycle the active annotation.
func (s *Session) NextAnnotation() (State, error) {
	return s.step(overlay.Next)
}

func (s *Session) PrevAnnotation() (State, error) {
	return s.step(overlay.Prev)
}

func (s *Session) step(move func(active *int, n int) *int) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Result == nil || len(s.state.Result.Annotations) == 0 {
		return State{}, scanerr.New(scanerr.KindValidation, "There are no annotations to navigate.")
	}
	return s.dispatch(SelectAnnotation{Index: move(s.state.ActiveAnnotation, len(s.state.Result.Annotations))}), nil
}

func (s *Session) ClearFile() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatch(ClearFile{})
}

func (s *Session) Reset() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatch(Reset{})
}

// Progress returns the cosmetic progress display for the current status.
func (s *Session) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state.Status {
	case StatusAnalyzing:
		return ProgressAt(s.settings.clock().Sub(s.state.AnalysisStartedAt))
	case StatusProcessingPDF:
		return Progress{Status: StatusProcessingPDF, Title: "Processing PDF...", Detail: "Extracting high-resolution ECG image.", Indeterminate: true}
	default:
		return Progress{Status: s.state.Status}
	}
}

// Wait blocks until background analyses have finished.
func (s *Session) Wait() {
	s.inflight.Wait()
}

// NewScanID returns a fresh history record id.
func NewScanID() string {
	return "scan_" + uuid.NewString()
}
