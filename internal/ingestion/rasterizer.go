package ingestion

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
)

// Rasterizer renders the first page of a PDF.
type Rasterizer interface {
	FirstPage(ctx context.Context, pdf []byte, dpi float64) (image.Image, error)
}

// FitzRasterizer renders with MuPDF.
type FitzRasterizer struct{}

func (FitzRasterizer) FirstPage(ctx context.Context, pdf []byte, dpi float64) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() < 1 {
		return nil, errors.New("document has no pages")
	}

	img, err := doc.ImageDPI(0, dpi)
	if err != nil {
		return nil, fmt.Errorf("failed to render page 1: %w", err)
	}
	return img, nil
}
