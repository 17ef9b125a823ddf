package raster

import (
	"context"
	"fmt"

	"github.com/dgallion1/irdigest/internal/deck"
	"github.com/gen2brain/go-fitz"
)

// Fitz renders in-process with MuPDF.
type Fitz struct {
	opts Options
}

func NewFitz(opts Options) *Fitz {
	return &Fitz{opts: opts.withDefaults()}
}

func (f *Fitz) Rasterize(ctx context.Context, data []byte) ([]deck.Page, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	defer doc.Close()

	n := doc.NumPage()
	pages := make([]deck.Page, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.ImageDPI(i, float64(f.opts.DPI))
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", i+1, err)
		}
		page, err := encodePage(i+1, img, f.opts)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}
