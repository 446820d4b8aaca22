// Package render rasterises single PDF pages.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

const (
	// DefaultDPI is used when a renderer is configured without a resolution.
	DefaultDPI = 300

	KindFitz     = "fitz"
	KindPdftoppm = "pdftoppm"
)

var (
	// ErrInvalidPDF is returned when the input bytes are not a readable PDF.
	ErrInvalidPDF = errors.New("invalid pdf")

	// ErrPageOutOfRange is returned when the requested page does not exist.
	ErrPageOutOfRange = errors.New("page out of range")

	ErrUnknownRenderer = errors.New("unknown renderer")
)

// Error describes a failed render. Page is the 0-based index, or -1 when the
// failure concerns the whole document.
type Error struct {
	Page int
	Err  error
}

func (e *Error) Error() string {
	if e.Page < 0 {
		return fmt.Sprintf("render: %v", e.Err)
	}
	return fmt.Sprintf("render page %d: %v", e.Page, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Renderer turns PDF pages into raster images. Implementations hold no
// per-document state, so the same input and DPI always give the same pixels.
type Renderer interface {
	PageCount(pdf []byte) (int, error)
	Render(ctx context.Context, pdf []byte, page int) (image.Image, error)
}

// New returns the renderer for kind at dpi. An empty kind selects fitz.
func New(kind string, dpi int) (Renderer, error) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	switch kind {
	case "", KindFitz:
		return &FitzRenderer{DPI: dpi}, nil
	case KindPdftoppm:
		return &PdftoppmRenderer{DPI: dpi}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownRenderer, kind)
	}
}

// PageCount validates pdf with pdfcpu and returns its number of pages.
func PageCount(pdf []byte) (int, error) {
	if len(pdf) == 0 {
		return 0, &Error{Page: -1, Err: fmt.Errorf("%w: empty input", ErrInvalidPDF)}
	}
	n, err := api.PageCount(bytes.NewReader(pdf), nil)
	if err != nil {
		return 0, &Error{Page: -1, Err: fmt.Errorf("%w: %v", ErrInvalidPDF, err)}
	}
	return n, nil
}

// checkPage validates pdf and that page is a valid 0-based index into it.
func checkPage(pdf []byte, page int) error {
	n, err := PageCount(pdf)
	if err != nil {
		return err
	}
	if page < 0 || page >= n {
		return &Error{Page: page, Err: fmt.Errorf("%w: document has %d pages", ErrPageOutOfRange, n)}
	}
	return nil
}
