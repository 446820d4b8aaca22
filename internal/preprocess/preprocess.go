// Package preprocess prepares rendered page images for OCR: it corrects skew,
// binarizes, and splits multi-column pages into ordered regions.
package preprocess

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
)

// ErrEmptyImage is returned for nil or zero-area images.
var ErrEmptyImage = errors.New("empty image")

// Error describes a preprocessing failure.
type Error struct {
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("preprocess: %v", e.Err) }

func (e *Error) Unwrap() error { return e.Err }

const (
	OrderLTR = "ltr"
	OrderRTL = "rtl"
)

// Config holds the layout heuristics. Fractions are relative to the page
// image's width or height.
type Config struct {
	// MaxSkewDegrees bounds the deskew search. Zero disables deskewing.
	MaxSkewDegrees float64
	// SkewStepDegrees is the search resolution.
	SkewStepDegrees float64
	// GutterInkRatio is the highest fraction of ink pixels a column may hold
	// and still count as whitespace.
	GutterInkRatio float64
	// GutterCoverage is the central fraction of page height a gutter must be
	// clear over. Headers and footers outside it may span columns.
	GutterCoverage float64
	// MinGutterWidth is the narrowest whitespace run accepted as a gutter.
	MinGutterWidth float64
	// MinRegionWidth is the narrowest region emitted standalone; narrower
	// ones are merged into a neighbour.
	MinRegionWidth float64
	// ReadingOrder is "ltr" or "rtl".
	ReadingOrder string

	Logger *slog.Logger
}

// DefaultConfig returns the defaults used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		MaxSkewDegrees:  5,
		SkewStepDegrees: 0.5,
		GutterInkRatio:  0.01,
		GutterCoverage:  0.8,
		MinGutterWidth:  0.02,
		MinRegionWidth:  0.15,
		ReadingOrder:    OrderLTR,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxSkewDegrees < 0 {
		c.MaxSkewDegrees = 0
	} else if c.MaxSkewDegrees == 0 {
		c.MaxSkewDegrees = d.MaxSkewDegrees
	}
	if c.SkewStepDegrees <= 0 {
		c.SkewStepDegrees = d.SkewStepDegrees
	}
	if c.GutterInkRatio <= 0 {
		c.GutterInkRatio = d.GutterInkRatio
	}
	if c.GutterCoverage <= 0 || c.GutterCoverage > 1 {
		c.GutterCoverage = d.GutterCoverage
	}
	if c.MinGutterWidth <= 0 {
		c.MinGutterWidth = d.MinGutterWidth
	}
	if c.MinRegionWidth <= 0 {
		c.MinRegionWidth = d.MinRegionWidth
	}
	if c.ReadingOrder != OrderRTL {
		c.ReadingOrder = OrderLTR
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Region is one column of a page in reading order. Bounds are in the
// coordinates of the deskewed page image; Image is a copy with its origin at
// (0,0).
type Region struct {
	Index  int
	Bounds image.Rectangle
	Image  *image.Gray
}

// Preprocessor runs the pipeline of image steps. It holds no state between
// calls, so the same image always yields the same regions.
type Preprocessor struct {
	cfg Config
}

// New creates a Preprocessor. Zero fields in cfg take their defaults; a
// negative MaxSkewDegrees disables deskewing.
func New(cfg Config) *Preprocessor {
	return &Preprocessor{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (p *Preprocessor) Config() Config { return p.cfg }

// Process deskews and binarizes img, then splits it at column gutters. A page
// without gutters is returned as one full-page region.
func (p *Preprocessor) Process(img image.Image) ([]Region, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, &Error{Err: ErrEmptyImage}
	}

	gray := toGray(img)

	if p.cfg.MaxSkewDegrees > 0 {
		ink := binarize(gray, otsuThreshold(gray))
		angle := estimateSkew(ink, p.cfg.MaxSkewDegrees, p.cfg.SkewStepDegrees)
		if angle != 0 {
			p.cfg.Logger.Debug("deskewing page", "degrees", angle)
			gray = rotate(gray, angle)
		}
	}

	bin := binarize(gray, otsuThreshold(gray))

	cuts := findGutters(bin, p.cfg)
	spans := mergeNarrow(splitAt(bin.Rect.Dx(), cuts), int(p.cfg.MinRegionWidth*float64(bin.Rect.Dx())))

	if p.cfg.ReadingOrder == OrderRTL {
		for i, j := 0, len(spans)-1; i < j; i, j = i+1, j-1 {
			spans[i], spans[j] = spans[j], spans[i]
		}
	}

	h := bin.Rect.Dy()
	regions := make([]Region, len(spans))
	for i, s := range spans {
		r := image.Rect(s.start, 0, s.end, h)
		regions[i] = Region{Index: i, Bounds: r, Image: crop(bin, r)}
	}
	return regions, nil
}
