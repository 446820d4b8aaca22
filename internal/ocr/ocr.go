// Package ocr adapts OCR providers to the pipeline: it encodes region images,
// applies rate limits and timeouts, and sorts failures into transient and
// fatal errors.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"time"

	"github.com/jackzampolin/pdfmark/internal/metrics"
	"github.com/jackzampolin/pdfmark/internal/providers"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 2 * time.Minute

// Request identifies one region to read. Indices are 0-based.
type Request struct {
	Image       image.Image
	PageIndex   int
	RegionIndex int
}

// Block is a recognised run of text and its box in region pixels.
type Block struct {
	Text       string          `json:"text"`
	Confidence float64         `json:"confidence"`
	Bounds     image.Rectangle `json:"bounds"`
}

// Result is the text read from one region.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Blocks     []Block `json:"blocks,omitempty"`
	Provider   string  `json:"provider"`
}

// Config configures an Adapter.
type Config struct {
	Provider providers.OCRProvider
	Timeout  time.Duration
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
}

// Adapter calls an OCR provider for region images.
type Adapter struct {
	provider providers.OCRProvider
	limiter  *providers.RateLimiter
	timeout  time.Duration
	metrics  *metrics.Recorder
	logger   *slog.Logger
}

// NewAdapter creates an Adapter. The rate limit comes from the provider.
func NewAdapter(cfg Config) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Adapter{
		provider: cfg.Provider,
		limiter:  providers.NewRateLimiter(cfg.Provider.RequestsPerSecond()),
		timeout:  cfg.Timeout,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With("component", "ocr", "provider", cfg.Provider.Name()),
	}
}

// Name returns the underlying provider's name.
func (a *Adapter) Name() string { return a.provider.Name() }

// Extract reads the text of one region. Failures are *TransientError or
// *FatalError, except that cancellation of ctx is returned as ctx.Err().
func (a *Adapter) Extract(ctx context.Context, req Request) (Result, error) {
	name := a.provider.Name()

	if req.Image == nil || req.Image.Bounds().Empty() {
		return Result{}, &FatalError{Provider: name, Err: providers.ErrUnsupportedImage}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, req.Image); err != nil {
		return Result{}, &FatalError{Provider: name, Err: fmt.Errorf("encode region: %w", err)}
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	res, err := a.provider.ProcessImage(callCtx, buf.Bytes(), req.PageIndex+1)
	if !isCancelled(ctx) {
		a.metrics.RecordOCRCall(ctx, metrics.RecordOpts{
			Stage:       metrics.StageOCR,
			PageIndex:   req.PageIndex,
			RegionIndex: req.RegionIndex,
			Provider:    name,
		}, time.Since(start), err)
	}
	if err != nil {
		if isCancelled(ctx) {
			return Result{}, ctx.Err()
		}
		if isRateLimited(err) {
			a.limiter.Record429()
		}
		a.logger.Debug("ocr call failed",
			"page", req.PageIndex, "region", req.RegionIndex,
			"duration", time.Since(start), "error", err)
		return Result{}, classify(name, err)
	}
	if res == nil {
		return Result{}, &TransientError{Provider: name, Err: errors.New("provider returned no result")}
	}

	out := Result{
		Text:       res.Text,
		Confidence: res.Confidence,
		Provider:   name,
	}
	for _, b := range res.Blocks {
		out.Blocks = append(out.Blocks, Block{
			Text:       b.Text,
			Confidence: b.Confidence,
			Bounds:     image.Rect(b.X0, b.Y0, b.X1, b.Y1),
		})
	}

	a.logger.Debug("ocr complete",
		"page", req.PageIndex, "region", req.RegionIndex,
		"chars", len(out.Text), "confidence", out.Confidence,
		"duration", time.Since(start))
	return out, nil
}
