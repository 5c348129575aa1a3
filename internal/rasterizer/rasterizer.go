// Package rasterizer renders PDF pages to PNG images with MuPDF.
package rasterizer

import (
	"fmt"

	"github.com/gen2brain/go-fitz"
)

const defaultDPI = 150

type Rasterizer struct {
	dpi float64
}

func New(dpi float64) *Rasterizer {
	if dpi <= 0 {
		dpi = defaultDPI
	}
	return &Rasterizer{dpi: dpi}
}

// EachPage renders every page of the PDF at path and hands the PNG to fn
// with its 1-based page number. It stops at the first error fn returns.
func (r *Rasterizer) EachPage(path string, fn func(pageNumber int, png []byte) error) error {
	doc, err := fitz.New(path)
	if err != nil {
		return fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	for i := 0; i < doc.NumPage(); i++ {
		img, err := doc.ImagePNG(i, r.dpi)
		if err != nil {
			return fmt.Errorf("failed to render page %d: %w", i+1, err)
		}
		if err := fn(i+1, img); err != nil {
			return err
		}
	}
	return nil
}
