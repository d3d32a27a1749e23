package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/cardioscan/backend/internal/storage/models"
)

func sampleRecord() models.ScanRecord {
	note := "Lead V6 partially cropped."
	return models.ScanRecord{
		ScanID: "scan_1",
		PatientInfo: models.PatientContext{
			Name: "Jane Roe", ID: "P-100", Age: "61", Gender: models.GenderFemale,
			Symptoms: "Chest pain on exertion",
		},
		AnalysisResult: models.AnalysisResult{
			Diagnosis:      "Atrial Fibrillation",
			Summary:        "Irregularly irregular rhythm without discernible P waves.",
			Recommendation: "Urgent: cardiology review within 24 hours.",
			AnalysisNote:   &note,
			Confidence:     0.87,
			EmergencyLevel: 60,
			HeartRateBPM:   118,
			IsCritical:     true,
			EcgParameters: models.EcgParameters{
				HR: "118 bpm", Rhythm: "Irregular", Axis: "Normal", PRInterval: "N/A",
				QRSComplex: "90 ms", QTInterval: "380/430 ms", STDeviations: "None",
				TWaveAbnormalities: "None", OtherFindings: "None",
			},
			Annotations: []models.Annotation{
				{Label: "Absent P waves", Description: "Fibrillatory baseline in II", Category: models.CategoryClinical, Certainty: models.CertaintyHigh},
				{Label: "Baseline wander", Description: "Lead V1", Category: models.CategoryArtifact, Certainty: models.CertaintyLow},
			},
			DifferentialDiagnosis: []models.DifferentialDiagnosis{
				{Diagnosis: "Multifocal atrial tachycardia", Rationale: "Irregular rhythm"},
			},
			FinalAudit: models.FinalAudit{Status: models.AuditPass, Rationale: "Findings consistent."},
		},
		ImageDataURI: "data:image/jpeg;base64,/9j/4AAQSkZJRg==",
		Timestamp:    time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC),
	}
}

func parse(t *testing.T, data []byte) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewDocumentFromReader() error = %v", err)
	}
	return doc
}

func TestRenderSingle_Sections(t *testing.T) {
	out, err := RenderSingle(sampleRecord())
	if err != nil {
		t.Fatalf("RenderSingle() error = %v", err)
	}
	doc := parse(t, out)

	if got := strings.TrimSpace(doc.Find(".report-header h1").Text()); got != "ECG Analysis Report" {
		t.Errorf("header = %q", got)
	}
	if got := doc.Find(".patient-name").Text(); got != "Jane Roe" {
		t.Errorf("patient name = %q", got)
	}
	if got := doc.Find(".symptoms .notes").Text(); got != "Chest pain on exertion" {
		t.Errorf("symptoms = %q", got)
	}
	if !doc.Find(".recommendation").HasClass("critical") {
		t.Errorf("recommendation is not marked critical")
	}
	if n := doc.Find(".findings-list .finding-item").Length(); n != 2 {
		t.Errorf("findings = %d, want 2", n)
	}
	if !doc.Find(".finding-item").Last().HasClass("artifact") {
		t.Errorf("artifact finding not classed")
	}
	if n := doc.Find(".parameters .grid .label").Length(); n != 9 {
		t.Errorf("parameter rows = %d, want 9", n)
	}
	if !strings.Contains(doc.Find(".analysis-note").Text(), "Lead V6 partially cropped.") {
		t.Errorf("analysis note missing")
	}
	if doc.Find(".differential li").Length() != 1 {
		t.Errorf("differential diagnosis missing")
	}
	if !doc.Find(".audit").HasClass("pass") {
		t.Errorf("audit not marked pass")
	}
	if doc.Find(".disclaimer").Text() != Disclaimer {
		t.Errorf("disclaimer missing")
	}

	img := doc.Find("img.ecg-image")
	if src, _ := img.Attr("src"); src != "data:image/jpeg;base64,/9j/4AAQSkZJRg==" {
		t.Errorf("img src = %q", src)
	}
	if alt, _ := img.Attr("alt"); alt != "ECG for Jane Roe" {
		t.Errorf("img alt = %q", alt)
	}
}

func TestRenderSingle_OptionalSectionsOmitted(t *testing.T) {
	r := sampleRecord()
	r.PatientInfo.Symptoms = ""
	r.AnalysisResult.Annotations = nil
	r.AnalysisResult.AnalysisNote = nil
	r.AnalysisResult.DifferentialDiagnosis = nil
	r.AnalysisResult.IsCritical = false

	out, err := RenderSingle(r)
	if err != nil {
		t.Fatalf("RenderSingle() error = %v", err)
	}
	doc := parse(t, out)
	for _, sel := range []string{".symptoms", ".findings", ".analysis-note", ".differential"} {
		if doc.Find(sel).Length() != 0 {
			t.Errorf("%s rendered for empty input", sel)
		}
	}
	if !doc.Find(".recommendation").HasClass("normal") {
		t.Errorf("recommendation is not marked normal")
	}
}

func TestRenderSingle_EscapesText(t *testing.T) {
	r := sampleRecord()
	r.PatientInfo.Name = `<script>alert(1)</script>`
	r.AnalysisResult.Summary = `<img src=x onerror=alert(1)>`

	out, err := RenderSingle(r)
	if err != nil {
		t.Fatalf("RenderSingle() error = %v", err)
	}
	if bytes.Contains(out, []byte("<script>alert")) || bytes.Contains(out, []byte("<img src=x")) {
		t.Fatalf("unescaped markup in output:\n%s", out)
	}
	doc := parse(t, out)
	if got := doc.Find(".patient-name").Text(); got != r.PatientInfo.Name {
		t.Errorf("patient name = %q", got)
	}
}

func TestRenderSingle_UntrustedImageDropped(t *testing.T) {
	for _, uri := range []string{"javascript:alert(1)", "https://example.com/ecg.png", ""} {
		r := sampleRecord()
		r.ImageDataURI = uri
		out, err := RenderSingle(r)
		if err != nil {
			t.Fatalf("RenderSingle() error = %v", err)
		}
		doc := parse(t, out)
		if doc.Find("img").Length() != 0 {
			t.Errorf("image rendered for %q", uri)
		}
	}
}

func TestRenderBatch(t *testing.T) {
	a := sampleRecord()
	b := sampleRecord()
	b.ScanID = "scan_2"
	b.PatientInfo.Name = "John Doe"

	out, err := RenderBatch([]models.ScanRecord{a, b}, "Ann Smith")
	if err != nil {
		t.Fatalf("RenderBatch() error = %v", err)
	}
	doc := parse(t, out)
	if got := doc.Find("title").Text(); got != "ECG History Report for Ann Smith" {
		t.Errorf("title = %q", got)
	}
	if !strings.Contains(doc.Find(".archive-title").Text(), "User: Ann Smith") {
		t.Errorf("archive title missing owner")
	}
	pages := doc.Find(".container.page-break")
	if pages.Length() != 2 {
		t.Fatalf("pages = %d, want 2", pages.Length())
	}
	if got := pages.Eq(1).Find(".patient-name").Text(); got != "John Doe" {
		t.Errorf("second page patient = %q", got)
	}
	if doc.Find(".no-history").Length() != 0 {
		t.Errorf("empty marker rendered for non-empty batch")
	}

	empty, err := RenderBatch(nil, "Ann Smith")
	if err != nil {
		t.Fatalf("RenderBatch(nil) error = %v", err)
	}
	if parse(t, empty).Find(".no-history").Length() != 1 {
		t.Errorf("empty batch has no marker")
	}
}

func TestFilenames(t *testing.T) {
	now := time.Date(2026, 10, 17, 23, 0, 0, 0, time.UTC)
	if got := SingleFilename(sampleRecord(), now); got != "ECG_Report_Jane_Roe_2026-10-17.html" {
		t.Errorf("SingleFilename() = %q", got)
	}
	if got := BatchFilename("Ann  Smith", now); got != "ECG_History_Ann__Smith_2026-10-17.html" {
		t.Errorf("BatchFilename() = %q", got)
	}
}
