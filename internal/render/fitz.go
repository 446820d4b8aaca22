package render

import (
	"context"
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
)

// FitzRenderer renders pages with MuPDF.
type FitzRenderer struct {
	DPI int
}

func (r *FitzRenderer) PageCount(pdf []byte) (int, error) {
	return PageCount(pdf)
}

// Render rasterises the 0-based page. MuPDF cannot be interrupted, so a
// cancelled context returns early and the render finishes in the background.
func (r *FitzRenderer) Render(ctx context.Context, pdf []byte, page int) (image.Image, error) {
	if err := checkPage(pdf, page); err != nil {
		return nil, err
	}

	dpi := r.DPI
	if dpi <= 0 {
		dpi = DefaultDPI
	}

	type result struct {
		img image.Image
		err error
	}
	done := make(chan result, 1)
	go func() {
		img, err := fitzRender(pdf, page, dpi)
		done <- result{img, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.img, res.err
	}
}

func fitzRender(pdf []byte, page, dpi int) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, &Error{Page: -1, Err: fmt.Errorf("%w: %v", ErrInvalidPDF, err)}
	}
	defer doc.Close()

	if page >= doc.NumPage() {
		return nil, &Error{Page: page, Err: ErrPageOutOfRange}
	}

	img, err := doc.ImageDPI(page, float64(dpi))
	if err != nil {
		return nil, &Error{Page: page, Err: err}
	}
	return img, nil
}
