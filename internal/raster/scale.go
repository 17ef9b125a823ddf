package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/dgallion1/irdigest/internal/deck"
	"golang.org/x/image/draw"
)

// Fit downscales img to at most maxWidth pixels wide, keeping the aspect
// ratio. Narrower images are returned unchanged.
func Fit(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	h := b.Dy() * maxWidth / b.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func encodePage(index int, img image.Image, opts Options) (deck.Page, error) {
	img = Fit(img, opts.MaxWidth)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: opts.JPEGQuality}); err != nil {
		return deck.Page{}, fmt.Errorf("encode page %d: %w", index, err)
	}
	b := img.Bounds()
	return deck.Page{
		Index:  index,
		Image:  buf.Bytes(),
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}
