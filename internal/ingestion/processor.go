package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"

	"github.com/cardioscan/backend/internal/metrics"
	"github.com/cardioscan/backend/internal/scanerr"
	"github.com/cardioscan/backend/pkg/config"
	"github.com/cardioscan/backend/pkg/datauri"
	"github.com/cardioscan/backend/pkg/logger"
	"github.com/cardioscan/backend/pkg/utils"
)

const (
	pdfBaseDPI = 72

	FormatJPEG = "jpeg"
	FormatWEBP = "webp"
)

type File struct {
	Name      string
	MediaType string
	Data      []byte
}

// Preview is the embeddable image shown to the user and sent for analysis.
// Width and Height are 0 when the format cannot be decoded locally (HEIC).
type Preview struct {
	DataURI   string `json:"dataUri"`
	MediaType string `json:"mediaType"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type Processor struct {
	rasterizer   Rasterizer
	scale        float64
	quality      int
	format       string
	maxDimension int
}

type Option func(*Processor)

func WithRasterizer(r Rasterizer) Option {
	return func(p *Processor) {
		p.rasterizer = r
	}
}

func NewProcessor(cfg config.IngestionConfig, opts ...Option) *Processor {
	p := &Processor{
		rasterizer:   FitzRasterizer{},
		scale:        cfg.PDFScale,
		quality:      cfg.PDFQuality,
		format:       strings.ToLower(cfg.PDFFormat),
		maxDimension: cfg.MaxDimension,
	}
	if p.scale <= 0 {
		p.scale = 2.5
	}
	if p.quality <= 0 || p.quality > 100 {
		p.quality = 95
	}
	if p.format == "" {
		p.format = FormatJPEG
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest turns an uploaded file into a preview. PDFs are rasterized from
// their first page; other images are embedded byte for byte.
func (p *Processor) Ingest(ctx context.Context, f File) (*Preview, error) {
	mediaType := normalize(f.MediaType)
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = DetectMediaType(f.Name, f.Data)
	}
	if !Accepted(mediaType) {
		metrics.IngestionTotal.WithLabelValues("other", "rejected").Inc()
		return nil, scanerr.Wrapf(scanerr.KindFormat, fmt.Errorf("media type %q", mediaType),
			"Unsupported file type. Please select a PNG, JPEG, WEBP, HEIC or PDF file.")
	}
	if len(f.Data) == 0 {
		metrics.IngestionTotal.WithLabelValues(mediaType, "rejected").Inc()
		return nil, scanerr.Wrap(scanerr.KindFormat, errors.New("empty file"))
	}

	logger.Info("Ingesting file",
		zap.String("media_type", mediaType),
		zap.Int("bytes", len(f.Data)),
		zap.String("fingerprint", utils.Fingerprint(f.Data)),
	)

	var (
		preview *Preview
		err     error
	)
	if mediaType == MediaPDF {
		preview, err = p.rasterizePDF(ctx, f.Data)
	} else {
		preview = p.embedImage(mediaType, f.Data)
	}
	if err != nil {
		metrics.IngestionTotal.WithLabelValues(mediaType, "error").Inc()
		return nil, err
	}

	metrics.IngestionTotal.WithLabelValues(mediaType, "ok").Inc()
	return preview, nil
}

func (p *Processor) rasterizePDF(ctx context.Context, data []byte) (*Preview, error) {
	start := time.Now()
	img, err := p.rasterizer.FirstPage(ctx, data, pdfBaseDPI*p.scale)
	metrics.RasterizeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		logger.Warn("PDF rasterization failed", zap.Error(err))
		return nil, pdfError(err)
	}

	if p.maxDimension > 0 {
		b := img.Bounds()
		if b.Dx() > p.maxDimension || b.Dy() > p.maxDimension {
			img = imaging.Fit(img, p.maxDimension, p.maxDimension, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	mediaType := MediaJPEG
	switch p.format {
	case FormatWEBP:
		mediaType = MediaWEBP
		err = webp.Encode(&buf, img, &webp.Options{Quality: float32(p.quality)})
	default:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.quality))
	}
	if err != nil {
		return nil, pdfError(fmt.Errorf("failed to encode page: %w", err))
	}

	b := img.Bounds()
	logger.Debug("PDF rasterized",
		zap.Int("width", b.Dx()),
		zap.Int("height", b.Dy()),
		zap.String("format", mediaType),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &Preview{
		DataURI:   datauri.Encode(mediaType, buf.Bytes()),
		MediaType: mediaType,
		Width:     b.Dx(),
		Height:    b.Dy(),
	}, nil
}

func (p *Processor) embedImage(mediaType string, data []byte) *Preview {
	preview := &Preview{
		DataURI:   datauri.Encode(mediaType, data),
		MediaType: mediaType,
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		preview.Width, preview.Height = cfg.Width, cfg.Height
	} else {
		logger.Debug("Image dimensions unavailable", zap.String("media_type", mediaType), zap.Error(err))
	}
	return preview
}

func pdfError(cause error) error {
	return scanerr.Wrapf(scanerr.KindPdfProcessing, cause, "PDF Error: %s", cause.Error())
}
