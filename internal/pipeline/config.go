package pipeline

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/pdfmark/internal/artifacts"
	"github.com/jackzampolin/pdfmark/internal/assemble"
	"github.com/jackzampolin/pdfmark/internal/ocr"
	"github.com/jackzampolin/pdfmark/internal/preprocess"
	"github.com/jackzampolin/pdfmark/internal/reconcile"
	"github.com/jackzampolin/pdfmark/internal/render"
	"github.com/jackzampolin/pdfmark/internal/store"
)

const (
	DefaultMaxConcurrentPages = 4
	DefaultMaxAttempts        = 3
	DefaultBaseDelay          = time.Second
	DefaultMaxDelay           = 30 * time.Second
	DefaultRenderTimeout      = time.Minute
)

// Extractor reads the text of a region image; *ocr.Adapter implements it.
type Extractor interface {
	Extract(ctx context.Context, req ocr.Request) (ocr.Result, error)
}

// Transcriber turns a region image into Markdown; *reconcile.Reconciler
// implements it.
type Transcriber interface {
	Reconcile(ctx context.Context, req reconcile.Request) (string, error)
}

// TableWriter rewrites an assembled table as prose; *reconcile.Reconciler
// implements it.
type TableWriter interface {
	DescribeTable(ctx context.Context, req reconcile.TableRequest) (string, error)
}

// Splitter divides a page image into regions; *preprocess.Preprocessor
// implements it.
type Splitter interface {
	Process(img image.Image) ([]preprocess.Region, error)
}

// RetryConfig bounds the exponential backoff applied to transient failures.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Timer replaces the wall clock between attempts. Tests pass a fake.
	Timer retry.Timer
}

// Config wires the orchestrator to its engines and storage.
type Config struct {
	Store     store.Store
	Artifacts artifacts.Store

	// OCR may be nil, in which case every region is transcribed from the
	// image alone.
	OCR Extractor
	LLM Transcriber
	// Tables serves documents with TableText set. Nil leaves tables as
	// Markdown.
	Tables TableWriter

	// NewRenderer builds the renderer for a document's options.
	// Defaults to render.New.
	NewRenderer func(kind string, dpi int) (render.Renderer, error)
	// NewSplitter builds the preprocessor for a document's reading order.
	// Defaults to preprocess.New over Preprocess.
	NewSplitter func(readingOrder string) Splitter
	Preprocess  preprocess.Config

	// Defaults apply to documents that leave an option unset.
	Defaults store.Options

	HeadingCutoff      int
	MaxConcurrentPages int
	RenderTimeout      time.Duration
	Retry              RetryConfig

	// Now defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.NewRenderer == nil {
		c.NewRenderer = render.New
	}
	if c.NewSplitter == nil {
		base := c.Preprocess
		c.NewSplitter = func(order string) Splitter {
			cfg := base
			if order != "" {
				cfg.ReadingOrder = order
			}
			return preprocess.New(cfg)
		}
	}
	if c.Defaults.DPI <= 0 {
		c.Defaults.DPI = render.DefaultDPI
	}
	if c.Defaults.Renderer == "" {
		c.Defaults.Renderer = render.KindFitz
	}
	if c.Defaults.ReadingOrder == "" {
		c.Defaults.ReadingOrder = preprocess.OrderLTR
	}
	if c.Defaults.ChunkLevel <= 0 {
		c.Defaults.ChunkLevel = assemble.DefaultChunkLevel
	}
	if c.HeadingCutoff <= 0 {
		c.HeadingCutoff = assemble.DefaultHeadingCutoff
	}
	if c.MaxConcurrentPages <= 0 {
		c.MaxConcurrentPages = DefaultMaxConcurrentPages
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = DefaultRenderTimeout
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = DefaultBaseDelay
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = DefaultMaxDelay
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// StartConfig describes one conversion request.
type StartConfig struct {
	Filename string
	// HeadingCutoff is the level the shallowest heading is moved to.
	// Zero uses the orchestrator default.
	HeadingCutoff int
	// Options left zero take the orchestrator defaults.
	Options store.Options
}

func (c Config) resolveOptions(o store.Options) store.Options {
	if o.DPI <= 0 {
		o.DPI = c.Defaults.DPI
	}
	if o.Renderer == "" {
		o.Renderer = c.Defaults.Renderer
	}
	if o.ReadingOrder == "" {
		o.ReadingOrder = c.Defaults.ReadingOrder
	}
	if o.ChunkLevel <= 0 {
		o.ChunkLevel = c.Defaults.ChunkLevel
	}
	if !o.SkipOCR {
		o.SkipOCR = c.Defaults.SkipOCR
	}
	if !o.TableText {
		o.TableText = c.Defaults.TableText
	}
	return o
}
