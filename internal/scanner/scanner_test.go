package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cardioscan/backend/internal/history"
	"github.com/cardioscan/backend/internal/ingestion"
	"github.com/cardioscan/backend/internal/scanerr"
	"github.com/cardioscan/backend/internal/storage/kv"
	"github.com/cardioscan/backend/internal/storage/models"
	"github.com/cardioscan/backend/pkg/config"
)

type fakeAnalyzer struct {
	mu       sync.Mutex
	result   *models.AnalysisResult
	err      error
	gate     chan struct{}
	calls    int
	examples int
	uri      string
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, uri string, patient models.PatientContext, examples []models.ScanRecord) (*models.AnalysisResult, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.examples = len(examples)
	f.uri = uri
	if f.err != nil {
		return nil, f.err
	}
	return f.result.Clone(), nil
}

type fakeRasterizer struct {
	err error
}

func (f fakeRasterizer) FirstPage(ctx context.Context, pdf []byte, dpi float64) (image.Image, error) {
	if f.err != nil {
		return nil, f.err
	}
	return image.NewRGBA(image.Rect(0, 0, 60, 30)), nil
}

func stemi() *models.AnalysisResult {
	return &models.AnalysisResult{
		Diagnosis:      "Acute anterior STEMI",
		Recommendation: "Immediate: activate cath lab.",
		Confidence:     0.93,
		EmergencyLevel: 95,
		IsCritical:     true,
		Annotations: []models.Annotation{
			{Label: "ST elevation V2", BoundingBox: json.RawMessage(`{"x_min":0.1,"y_min":0.1,"x_max":0.2,"y_max":0.2}`), Type: models.AnnotationArea},
			{Label: "ST elevation V3", BoundingBox: json.RawMessage(`{"x_min":0.3,"y_min":0.1,"x_max":0.4,"y_max":0.2}`), Type: models.AnnotationArea},
			{Label: "Baseline wander", BoundingBox: json.RawMessage(`{"x_min":0.5,"y_min":0.7,"x_max":0.9,"y_max":0.8}`), Type: models.AnnotationArea, Category: models.CategoryArtifact},
		},
		DifferentialDiagnosis: []models.DifferentialDiagnosis{},
		FinalAudit:            models.FinalAudit{Status: models.AuditPass, Rationale: "Consistent."},
	}
}

var patient = models.PatientContext{Name: "Jane Roe", ID: "P-1", Age: "61", Gender: models.GenderFemale}

func pngFile(t *testing.T) ingestion.File {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 4))); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return ingestion.File{Name: "ecg.png", MediaType: ingestion.MediaPNG, Data: buf.Bytes()}
}

type fixture struct {
	manager  *Manager
	history  *history.Store
	analyzer *fakeAnalyzer
	now      time.Time
}

func newFixture(t *testing.T, analyzer *fakeAnalyzer, raster ingestion.Rasterizer) *fixture {
	t.Helper()
	if raster == nil {
		raster = fakeRasterizer{}
	}
	store := history.New(kv.NewMemory())
	ingestor := ingestion.NewProcessor(config.IngestionConfig{}, ingestion.WithRasterizer(raster))
	f := &fixture{history: store, analyzer: analyzer, now: time.Date(2026, 10, 17, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))}
	n := 0
	f.manager = NewManager(analyzer, ingestor, store,
		WithClock(func() time.Time { return f.now }),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("scan_%d", n) }),
	)
	return f
}

func ready(t *testing.T, s *Session) {
	t.Helper()
	if _, err := s.SetPatient(patient); err != nil {
		t.Fatalf("SetPatient() error = %v", err)
	}
	st, err := s.SelectFile(context.Background(), pngFile(t))
	if err != nil {
		t.Fatalf("SelectFile() error = %v", err)
	}
	if st.Preview == nil || st.Status != StatusIdle {
		t.Fatalf("after SelectFile state = %+v", st)
	}
}

func TestSession_AnalyzeAppendsExactlyOneRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeAnalyzer{result: stemi()}, nil)
	s := f.manager.Session("Ann@Example.com")
	ready(t, s)

	st, err := s.Analyze(ctx)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if st.Status != StatusSuccess || st.Result == nil || st.Result.Diagnosis != "Acute anterior STEMI" {
		t.Fatalf("state = %+v", st)
	}

	records, err := f.history.History(ctx, "ann@example.com")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(History()) = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.ScanID != "scan_1" || rec.PatientInfo != patient || rec.ImageDataURI != st.Preview.DataURI {
		t.Errorf("record = %+v", rec)
	}
	if rec.Timestamp.Location() != time.UTC || !rec.Timestamp.Equal(f.now) {
		t.Errorf("Timestamp = %v, want %v in UTC", rec.Timestamp, f.now)
	}
	if f.analyzer.uri != st.Preview.DataURI {
		t.Errorf("analyzer got a different image")
	}
}

func TestSession_StartAnalysisGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeAnalyzer{result: stemi()}, nil)
	s := f.manager.Session("a@b.c")

	if _, err := s.StartAnalysis(ctx); !errors.Is(err, scanerr.ErrValidation) {
		t.Errorf("StartAnalysis() without patient error = %v", err)
	}
	_, _ = s.SetPatient(patient)
	if _, err := s.StartAnalysis(ctx); !errors.Is(err, scanerr.ErrValidation) {
		t.Errorf("StartAnalysis() without preview error = %v", err)
	}

	incomplete := patient
	incomplete.Gender = models.GenderUnspecified
	_, _ = s.SelectFile(ctx, pngFile(t))
	_, _ = s.SetPatient(incomplete)
	if _, err := s.StartAnalysis(ctx); !errors.Is(err, scanerr.ErrValidation) {
		t.Errorf("StartAnalysis() with incomplete patient error = %v", err)
	}
	if s.State().Status != StatusIdle {
		t.Errorf("guard failure changed status to %s", s.State().Status)
	}
	if f.analyzer.calls != 0 {
		t.Errorf("analyzer called %d times", f.analyzer.calls)
	}
}

func TestSession_OneAnalysisInFlight(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	f := newFixture(t, &fakeAnalyzer{result: stemi(), gate: gate}, nil)
	s := f.manager.Session("a@b.c")
	ready(t, s)

	st, err := s.StartAnalysis(ctx)
	if err != nil {
		t.Fatalf("StartAnalysis() error = %v", err)
	}
	if st.Status != StatusAnalyzing {
		t.Fatalf("Status = %s", st.Status)
	}
	if _, err := s.StartAnalysis(ctx); !errors.Is(err, scanerr.ErrBusy) {
		t.Errorf("second StartAnalysis() error = %v, want busy", err)
	}
	if _, err := s.SelectFile(ctx, pngFile(t)); !errors.Is(err, scanerr.ErrBusy) {
		t.Errorf("SelectFile() while analyzing error = %v, want busy", err)
	}

	close(gate)
	s.Wait()

	if got := s.State().Status; got != StatusSuccess {
		t.Errorf("Status = %s, want success", got)
	}
	records, _ := f.history.History(ctx, "a@b.c")
	if len(records) != 1 {
		t.Errorf("len(History()) = %d, want 1", len(records))
	}
}

func TestSession_StaleResultDiscarded(t *testing.T) {
	tests := []struct {
		name    string
		abandon func(s *Session)
	}{
		{name: "reset", abandon: func(s *Session) { s.Reset() }},
		{name: "clear file", abandon: func(s *Session) { s.ClearFile() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			gate := make(chan struct{})
			f := newFixture(t, &fakeAnalyzer{result: stemi(), gate: gate}, nil)
			s := f.manager.Session("a@b.c")
			ready(t, s)

			if _, err := s.StartAnalysis(ctx); err != nil {
				t.Fatalf("StartAnalysis() error = %v", err)
			}
			tt.abandon(s)
			close(gate)
			s.Wait()

			st := s.State()
			if st.Status != StatusIdle || st.Result != nil {
				t.Errorf("stale result applied: %+v", st)
			}
			records, _ := f.history.History(ctx, "a@b.c")
			if len(records) != 0 {
				t.Errorf("stale result persisted: %d records", len(records))
			}
		})
	}
}

func TestSession_AnalysisFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeAnalyzer{err: scanerr.Wrap(scanerr.KindServiceUnavailable, errors.New("503"))}, nil)
	s := f.manager.Session("a@b.c")
	ready(t, s)

	st, err := s.Analyze(ctx)
	if !errors.Is(err, scanerr.ErrServiceUnavailable) {
		t.Fatalf("Analyze() error = %v", err)
	}
	if st.Status != StatusError || st.Result != nil || !strings.Contains(st.Error, "unavailable") {
		t.Errorf("state = %+v", st)
	}
	records, _ := f.history.History(ctx, "a@b.c")
	if len(records) != 0 {
		t.Errorf("failed analysis persisted")
	}

	// Error is re-enterable: a retry from the same preview is allowed.
	f.analyzer.err = nil
	f.analyzer.result = stemi()
	if st, err := s.Analyze(ctx); err != nil || st.Status != StatusSuccess {
		t.Errorf("retry = %s, %v", st.Status, err)
	}
}

func TestSession_PDF(t *testing.T) {
	ctx := context.Background()
	pdf := ingestion.File{Name: "ecg.pdf", MediaType: ingestion.MediaPDF, Data: []byte("%PDF-1.4")}

	f := newFixture(t, &fakeAnalyzer{result: stemi()}, nil)
	s := f.manager.Session("a@b.c")
	st, err := s.SelectFile(ctx, pdf)
	if err != nil {
		t.Fatalf("SelectFile() error = %v", err)
	}
	if st.Status != StatusIdle || st.Preview == nil || st.Preview.MediaType != ingestion.MediaJPEG {
		t.Errorf("state = %+v", st)
	}

	f = newFixture(t, &fakeAnalyzer{result: stemi()}, fakeRasterizer{err: errors.New("corrupt xref")})
	s = f.manager.Session("a@b.c")
	st, err = s.SelectFile(ctx, pdf)
	if err != nil {
		t.Fatalf("SelectFile() error = %v", err)
	}
	if st.Status != StatusError || st.Error != "PDF Error: corrupt xref" || st.Preview != nil {
		t.Errorf("state = %+v", st)
	}
}

func TestSession_RejectsUnsupportedFile(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{result: stemi()}, nil)
	s := f.manager.Session("a@b.c")
	ready(t, s)
	before := s.State()

	_, err := s.SelectFile(context.Background(), ingestion.File{Name: "notes.txt", MediaType: "text/plain", Data: []byte("hi")})
	if !errors.Is(err, scanerr.ErrFormat) {
		t.Fatalf("SelectFile() error = %v, want format", err)
	}
	if after := s.State(); after.Generation != before.Generation || after.Preview == nil {
		t.Errorf("rejected file changed state")
	}
}

func TestSession_Annotations(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{result: stemi()}, nil)
	s := f.manager.Session("a@b.c")

	if _, err := s.SelectAnnotation(Index(0)); !errors.Is(err, scanerr.ErrValidation) {
		t.Errorf("SelectAnnotation() without result error = %v", err)
	}

	ready(t, s)
	if _, err := s.Analyze(context.Background()); err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if _, err := s.SelectAnnotation(Index(3)); !errors.Is(err, scanerr.ErrValidation) {
		t.Errorf("SelectAnnotation(3) error = %v", err)
	}
	st, err := s.HoverAnnotation(Index(1))
	if err != nil || *st.HoveredAnnotation != 1 {
		t.Errorf("HoverAnnotation(1) = %v, %v", st.HoveredAnnotation, err)
	}

	st, _ = s.PrevAnnotation()
	if *st.ActiveAnnotation != 2 {
		t.Errorf("Prev from none = %d, want 2", *st.ActiveAnnotation)
	}
	st, _ = s.NextAnnotation()
	if *st.ActiveAnnotation != 0 {
		t.Errorf("Next from last = %d, want 0", *st.ActiveAnnotation)
	}
	st, _ = s.SelectAnnotation(nil)
	if st.ActiveAnnotation != nil {
		t.Errorf("SelectAnnotation(nil) left %d active", *st.ActiveAnnotation)
	}
}

func TestSession_SubscribeAndProgress(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, &fakeAnalyzer{result: stemi(), gate: gate}, nil)
	s := f.manager.Session("a@b.c")
	ready(t, s)

	updates, cancel := s.Subscribe()
	defer cancel()

	if _, err := s.StartAnalysis(context.Background()); err != nil {
		t.Fatalf("StartAnalysis() error = %v", err)
	}
	if st := <-updates; st.Status != StatusAnalyzing {
		t.Errorf("first update = %s", st.Status)
	}

	f.now = f.now.Add(3500 * time.Millisecond)
	if p := s.Progress(); p.Step != 2 || p.Indeterminate {
		t.Errorf("Progress() = %+v", p)
	}

	close(gate)
	if st := <-updates; st.Status != StatusSuccess {
		t.Errorf("second update = %s", st.Status)
	}
	s.Wait()
}

func TestTransition(t *testing.T) {
	s := Initial()
	s = Transition(s, SetPatient{Patient: patient})
	s = Transition(s, SelectFile{File: FileInfo{Name: "a.pdf", MediaType: ingestion.MediaPDF}})
	if s.Status != StatusProcessingPDF || s.Patient != patient || s.Generation != 1 {
		t.Fatalf("after SelectFile(pdf) = %+v", s)
	}
	s = Transition(s, PdfRasterized{Preview: ingestion.Preview{DataURI: "data:image/jpeg;base64,AA=="}})
	if s.Status != StatusIdle || s.Preview == nil {
		t.Fatalf("after PdfRasterized = %+v", s)
	}

	s = Transition(s, StartAnalysis{})
	s = Transition(s, AnalysisSucceeded{Result: stemi()})
	s = Transition(s, SelectAnnotation{Index: Index(1)})

	next := Transition(s, SelectFile{File: FileInfo{Name: "b.png", MediaType: ingestion.MediaPNG}})
	if next.Status != StatusIdle || next.Result != nil || next.Preview != nil || next.ActiveAnnotation != nil {
		t.Errorf("SelectFile did not clear prior scan: %+v", next)
	}
	if next.Patient != patient {
		t.Errorf("SelectFile dropped the patient")
	}
	if s.Result == nil {
		t.Errorf("Transition mutated its input")
	}

	cleared := Transition(s, ClearFile{})
	if cleared.Status != StatusIdle || cleared.Preview != nil || cleared.Patient != patient || cleared.Generation != s.Generation+1 {
		t.Errorf("ClearFile = %+v", cleared)
	}

	reset := Transition(s, Reset{})
	if reset.Patient != (models.PatientContext{}) || reset.Generation != s.Generation+1 || reset.Status != StatusIdle {
		t.Errorf("Reset = %+v", reset)
	}

	failed := Transition(s, AnalysisFailed{Message: "boom"})
	if failed.Status != StatusError || failed.Result != nil || failed.Error != "boom" {
		t.Errorf("AnalysisFailed = %+v", failed)
	}
}

func TestProgressAt(t *testing.T) {
	tests := []struct {
		elapsed       time.Duration
		step          int
		indeterminate bool
	}{
		{0, 0, false},
		{1199 * time.Millisecond, 0, false},
		{1200 * time.Millisecond, 1, false},
		{2999 * time.Millisecond, 1, false},
		{3000 * time.Millisecond, 2, false},
		{5000 * time.Millisecond, 3, false},
		{7499 * time.Millisecond, 3, false},
		{7500 * time.Millisecond, 3, true},
		{time.Minute, 3, true},
	}
	for _, tt := range tests {
		p := ProgressAt(tt.elapsed)
		if p.Step != tt.step || p.Indeterminate != tt.indeterminate || p.Total != 4 {
			t.Errorf("ProgressAt(%v) = step %d indeterminate %v, want %d %v", tt.elapsed, p.Step, p.Indeterminate, tt.step, tt.indeterminate)
		}
	}
}
