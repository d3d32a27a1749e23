package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"regexp"
	"strconv"
	"time"

	"github.com/cardioscan/backend/internal/storage/models"
	"github.com/cardioscan/backend/pkg/datauri"
)

//go:embed templates/report.html.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/report.html.tmpl"))

const Disclaimer = "This report was generated with AI assistance and is not a medical device output. It must be reviewed by a qualified clinician before any clinical decision is made."

type recordView struct {
	Patient     models.PatientContext
	Result      models.AnalysisResult
	Date        string
	Confidence  string
	AuditFailed bool
	Image       template.URL
	Disclaimer  string
}

type batchView struct {
	Owner   string
	Records []recordView
}

func newRecordView(r models.ScanRecord) recordView {
	v := recordView{
		Patient:     r.PatientInfo,
		Result:      r.AnalysisResult,
		Date:        r.Timestamp.UTC().Format("2006-01-02 15:04 MST"),
		Confidence:  strconv.Itoa(int(r.AnalysisResult.Confidence*100+0.5)) + "%",
		AuditFailed: r.AnalysisResult.FinalAudit.Status == models.AuditFail,
		Disclaimer:  Disclaimer,
	}
	// Only base64 image data is trusted as an image source.
	if _, err := datauri.ParseImage(r.ImageDataURI); err == nil {
		v.Image = template.URL(r.ImageDataURI)
	}
	return v
}

// RenderSingle renders one scan as a self-contained HTML document.
func RenderSingle(r models.ScanRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "single", newRecordView(r)); err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderBatch renders a title section for owner followed by one
// page-break section per record, in the given order.
func RenderBatch(records []models.ScanRecord, owner string) ([]byte, error) {
	view := batchView{Owner: owner, Records: make([]recordView, 0, len(records))}
	for _, r := range records {
		view.Records = append(view.Records, newRecordView(r))
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "batch", view); err != nil {
		return nil, fmt.Errorf("failed to render history report: %w", err)
	}
	return buf.Bytes(), nil
}

var whitespace = regexp.MustCompile(`\s`)

func SingleFilename(r models.ScanRecord, now time.Time) string {
	return fmt.Sprintf("ECG_Report_%s_%s.html", whitespace.ReplaceAllString(r.PatientInfo.Name, "_"), now.UTC().Format("2006-01-02"))
}

func BatchFilename(owner string, now time.Time) string {
	return fmt.Sprintf("ECG_History_%s_%s.html", whitespace.ReplaceAllString(owner, "_"), now.UTC().Format("2006-01-02"))
}
