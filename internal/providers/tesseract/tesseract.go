// Package tesseract provides a local OCR provider backed by Tesseract via
// gosseract. It lives outside package providers so that only binaries which
// link libtesseract need cgo.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/jackzampolin/pdfmark/internal/providers"
)

const (
	// Name is the provider type used in config.
	Name = "tesseract"

	defaultLanguage = "eng"
)

// Config holds Tesseract settings.
type Config struct {
	Languages []string
	RPS       float64 // 0 means unlimited; Tesseract is CPU bound and local
}

// Provider implements providers.OCRProvider on top of gosseract.
type Provider struct {
	languages     []string
	rps           float64
	clientFactory func() *gosseract.Client
}

// New creates a Tesseract provider.
func New(cfg Config) *Provider {
	langs := cfg.Languages
	if len(langs) == 0 {
		langs = []string{defaultLanguage}
	}
	return &Provider{
		languages:     langs,
		rps:           cfg.RPS,
		clientFactory: gosseract.NewClient,
	}
}

// Factory builds a Provider from registry config. Language may hold several
// codes separated by '+', as Tesseract itself accepts.
func Factory(cfg providers.OCRProviderConfig) (providers.OCRProvider, error) {
	var langs []string
	for _, l := range strings.Split(cfg.Language, "+") {
		if l = strings.TrimSpace(l); l != "" {
			langs = append(langs, l)
		}
	}
	return New(Config{Languages: langs, RPS: cfg.RateLimit}), nil
}

// Register makes the "tesseract" type available to providers.NewRegistryFromConfig.
func Register() {
	providers.RegisterOCRType(Name, Factory)
}

func (p *Provider) Name() string { return Name }

func (p *Provider) RequestsPerSecond() float64 { return p.rps }

// ProcessImage runs Tesseract over one image. Undecodable input is reported as
// providers.ErrUnsupportedImage; failures inside the engine as
// providers.ErrEngineCrashed.
func (p *Provider) ProcessImage(ctx context.Context, img []byte, pageNum int) (*providers.OCRResult, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrUnsupportedImage, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, fmt.Errorf("%w: zero-area image", providers.ErrUnsupportedImage)
	}

	c := p.clientFactory()
	defer c.Close()

	if err := c.SetLanguage(p.languages...); err != nil {
		return nil, fmt.Errorf("%w: set languages: %v", providers.ErrEngineCrashed, err)
	}
	if err := c.SetImageFromBytes(img); err != nil {
		return nil, fmt.Errorf("%w: set image: %v", providers.ErrEngineCrashed, err)
	}

	text, err := c.Text()
	if err != nil {
		return nil, fmt.Errorf("%w: recognize text: %v", providers.ErrEngineCrashed, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	blocks, conf := wordBlocks(c)

	return &providers.OCRResult{
		Text:       strings.TrimSpace(text),
		Confidence: conf,
		Blocks:     blocks,
		Metadata: map[string]any{
			"page_num":  pageNum,
			"languages": strings.Join(p.languages, "+"),
			"width":     cfg.Width,
			"height":    cfg.Height,
		},
		ExecutionTime: time.Since(start),
	}, nil
}

func wordBlocks(c *gosseract.Client) ([]providers.OCRBlock, float64) {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return nil, 0
	}
	blocks := make([]providers.OCRBlock, 0, len(boxes))
	var sum float64
	for _, b := range boxes {
		conf := b.Confidence / 100.0
		sum += conf
		blocks = append(blocks, providers.OCRBlock{
			Text:       b.Word,
			Confidence: conf,
			X0:         b.Box.Min.X,
			Y0:         b.Box.Min.Y,
			X1:         b.Box.Max.X,
			Y1:         b.Box.Max.Y,
		})
	}
	return blocks, sum / float64(len(blocks))
}

var _ providers.OCRProvider = (*Provider)(nil)
