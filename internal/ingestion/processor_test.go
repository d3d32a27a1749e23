package ingestion

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/cardioscan/backend/internal/scanerr"
	"github.com/cardioscan/backend/pkg/config"
	"github.com/cardioscan/backend/pkg/datauri"
)

type fakeRasterizer struct {
	img     image.Image
	err     error
	lastDPI float64
}

func (f *fakeRasterizer) FirstPage(ctx context.Context, pdf []byte, dpi float64) (image.Image, error) {
	f.lastDPI = dpi
	return f.img, f.err
}

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{R: 255, A: 255})
	}
	return img
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage(w, h)); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

var pdfHeader = []byte("%PDF-1.4\n%fake\n")

func TestIngest_PDFRasterizesFirstPage(t *testing.T) {
	fake := &fakeRasterizer{img: testImage(300, 150)}
	p := NewProcessor(config.IngestionConfig{PDFScale: 2.5, PDFQuality: 95}, WithRasterizer(fake))

	preview, err := p.Ingest(context.Background(), File{Name: "ecg.pdf", MediaType: MediaPDF, Data: pdfHeader})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if fake.lastDPI != 180 {
		t.Errorf("dpi = %v, want 180", fake.lastDPI)
	}
	if preview.MediaType != MediaJPEG || !strings.HasPrefix(preview.DataURI, "data:image/jpeg;base64,") {
		t.Errorf("preview = %s %.40s", preview.MediaType, preview.DataURI)
	}
	if preview.Width != 300 || preview.Height != 150 {
		t.Errorf("size = %dx%d", preview.Width, preview.Height)
	}

	img, err := datauri.ParseImage(preview.DataURI)
	if err != nil {
		t.Fatalf("ParseImage() error = %v", err)
	}
	data, _ := img.Bytes()
	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err != nil || format != "jpeg" {
		t.Errorf("DecodeConfig() = %q, %v", format, err)
	}
}

func TestIngest_PDFAsWEBPWithMaxDimension(t *testing.T) {
	fake := &fakeRasterizer{img: testImage(2000, 1000)}
	p := NewProcessor(config.IngestionConfig{PDFScale: 2.5, PDFFormat: "webp", MaxDimension: 500}, WithRasterizer(fake))

	preview, err := p.Ingest(context.Background(), File{Name: "ecg.pdf", MediaType: MediaPDF, Data: pdfHeader})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if preview.MediaType != MediaWEBP {
		t.Errorf("MediaType = %s", preview.MediaType)
	}
	if preview.Width != 500 || preview.Height != 250 {
		t.Errorf("size = %dx%d, want 500x250", preview.Width, preview.Height)
	}
}

func TestIngest_PDFFailure(t *testing.T) {
	fake := &fakeRasterizer{err: errors.New("no pages")}
	p := NewProcessor(config.IngestionConfig{}, WithRasterizer(fake))

	_, err := p.Ingest(context.Background(), File{Name: "ecg.pdf", MediaType: MediaPDF, Data: pdfHeader})
	if !errors.Is(err, scanerr.ErrPdfProcessing) {
		t.Fatalf("Ingest() error = %v, want pdf processing", err)
	}
	if got := scanerr.UserMessage(err); got != "PDF Error: no pages" {
		t.Errorf("UserMessage() = %q", got)
	}
}

func TestIngest_ImageEmbeddedUnchanged(t *testing.T) {
	data := pngBytes(t, 40, 20)
	p := NewProcessor(config.IngestionConfig{})

	preview, err := p.Ingest(context.Background(), File{Name: "ecg.png", MediaType: "image/png", Data: data})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if preview.DataURI != datauri.Encode(MediaPNG, data) {
		t.Errorf("image was re-encoded")
	}
	if preview.Width != 40 || preview.Height != 20 {
		t.Errorf("size = %dx%d", preview.Width, preview.Height)
	}
}

func TestIngest_HEICHasNoDimensions(t *testing.T) {
	heic := append([]byte{0, 0, 0, 24}, []byte("ftypheic\x00\x00\x00\x00mif1heic")...)
	p := NewProcessor(config.IngestionConfig{})

	preview, err := p.Ingest(context.Background(), File{Name: "ecg.heic", Data: heic})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if preview.MediaType != MediaHEIC || preview.Width != 0 || preview.Height != 0 {
		t.Errorf("preview = %+v", preview)
	}
}

func TestIngest_Rejects(t *testing.T) {
	p := NewProcessor(config.IngestionConfig{})
	tests := []File{
		{Name: "notes.txt", MediaType: "text/plain", Data: []byte("hello")},
		{Name: "scan.gif", MediaType: "image/gif", Data: []byte("GIF89a")},
		{Name: "empty.png", MediaType: MediaPNG},
	}
	for _, f := range tests {
		if _, err := p.Ingest(context.Background(), f); !errors.Is(err, scanerr.ErrFormat) {
			t.Errorf("Ingest(%s) error = %v, want format", f.Name, err)
		}
	}
}

func TestDetectMediaType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{name: "a.bin", data: pngBytes(t, 2, 2), want: MediaPNG},
		{name: "scan.pdf", data: pdfHeader, want: MediaPDF},
		{name: "photo", data: append([]byte{0, 0, 0, 24}, []byte("ftypheic")...), want: MediaHEIC},
		{name: "photo.HEIC", data: []byte{1, 2, 3}, want: MediaHEIC},
		{name: "x.jpg", data: []byte{1, 2, 3}, want: MediaJPEG},
	}
	for _, tt := range tests {
		if got := DetectMediaType(tt.name, tt.data); got != tt.want {
			t.Errorf("DetectMediaType(%s) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestAccepted(t *testing.T) {
	for _, mt := range []string{"image/png", "IMAGE/JPEG", "image/jpg", "image/webp", "image/heic", "application/pdf"} {
		if !Accepted(mt) {
			t.Errorf("Accepted(%q) = false", mt)
		}
	}
	for _, mt := range []string{"image/gif", "text/html", ""} {
		if Accepted(mt) {
			t.Errorf("Accepted(%q) = true", mt)
		}
	}
}
