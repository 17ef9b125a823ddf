// Package raster converts PDF bytes into pre-scaled JPEG page images.
package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dgallion1/irdigest/internal/deck"
	pdflib "github.com/ledongthuc/pdf"
)

var (
	// ErrToolMissing means the external rasterization tool is not installed.
	ErrToolMissing = errors.New("rasterization tool missing")
	// ErrInvalidDocument means the input could not be read as a PDF.
	ErrInvalidDocument = errors.New("invalid pdf document")
)

// Options control rendering resolution and output encoding.
type Options struct {
	DPI         int
	MaxWidth    int
	JPEGQuality int
}

// DefaultOptions matches what vision models handle well for slides.
func DefaultOptions() Options {
	return Options{DPI: 120, MaxWidth: 1600, JPEGQuality: 85}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.DPI <= 0 {
		o.DPI = def.DPI
	}
	if o.MaxWidth <= 0 {
		o.MaxWidth = def.MaxWidth
	}
	if o.JPEGQuality <= 0 || o.JPEGQuality > 100 {
		o.JPEGQuality = def.JPEGQuality
	}
	return o
}

// Rasterizer renders every page of a PDF, in page order.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf []byte) ([]deck.Page, error)
}

// New returns the rasterizer for engine ("fitz" or "poppler").
func New(engine string, opts Options) (Rasterizer, error) {
	switch engine {
	case "", "fitz":
		return NewFitz(opts), nil
	case "poppler":
		return NewPoppler(opts), nil
	default:
		return nil, fmt.Errorf("unknown raster engine %q", engine)
	}
}

var pdfMagic = []byte("%PDF-")

// Validate performs the cheap structural checks done before rendering.
func Validate(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty input", ErrInvalidDocument)
	}
	// The header may follow a few bytes of junk; readers accept it within
	// the first kilobyte.
	head := data[:min(len(data), 1024)]
	if !bytes.Contains(head, pdfMagic) {
		return fmt.Errorf("%w: missing %%PDF- header", ErrInvalidDocument)
	}
	return nil
}

// PageCount reads the page tree without rendering.
func PageCount(data []byte) (n int, err error) {
	if err := Validate(data); err != nil {
		return 0, err
	}
	// The pdf reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("%w: %v", ErrInvalidDocument, r)
		}
	}()
	reader, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return reader.NumPage(), nil
}
