// Package reconcile turns a region image and its OCR hint into Markdown using
// a multimodal language model.
package reconcile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackzampolin/pdfmark/internal/metrics"
	"github.com/jackzampolin/pdfmark/internal/providers"
)

// DefaultTimeout bounds a single model call.
const DefaultTimeout = 3 * time.Minute

// Request describes one region to transcribe. Indices are 0-based.
type Request struct {
	Image       image.Image
	OCRText     string
	Filename    string
	PageIndex   int
	RegionIndex int
	RegionCount int
}

// Config configures a Reconciler.
type Config struct {
	Client      providers.LLMClient
	Model       string // empty uses the client's default
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Metrics     *metrics.Recorder
	Logger      *slog.Logger
}

// Reconciler makes one model call per region. It never retries.
type Reconciler struct {
	client      providers.LLMClient
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	limiter     *providers.RateLimiter
	metrics     *metrics.Recorder
	logger      *slog.Logger
}

// New creates a Reconciler.
func New(cfg Config) *Reconciler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reconciler{
		client:      cfg.Client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		limiter:     providers.NewRateLimiter(cfg.Client.RequestsPerSecond()),
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.With("component", "reconcile", "provider", cfg.Client.Name()),
	}
}

// Name returns the underlying client's name.
func (r *Reconciler) Name() string { return r.client.Name() }

// Reconcile transcribes one region. Failures are *TransientError or
// *FatalError, except that cancellation of ctx is returned as ctx.Err(). A
// blank region may legitimately produce an empty fragment.
func (r *Reconciler) Reconcile(ctx context.Context, req Request) (string, error) {
	name := r.client.Name()

	if req.Image == nil || req.Image.Bounds().Empty() {
		return "", &FatalError{Provider: name, Err: providers.ErrUnsupportedImage}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, req.Image); err != nil {
		return "", &FatalError{Provider: name, Err: fmt.Errorf("encode region: %w", err)}
	}

	md, err := r.complete(ctx, []providers.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userMessage(req), Images: [][]byte{buf.Bytes()}},
	}, metrics.RecordOpts{
		Stage:       metrics.StageReconcile,
		PageIndex:   req.PageIndex,
		RegionIndex: req.RegionIndex,
	})
	if err != nil {
		return "", err
	}
	r.logger.Debug("region reconciled", "page", req.PageIndex, "region", req.RegionIndex, "chars", len(md))
	return md, nil
}

// TableRequest describes one Markdown table to rewrite as sentences.
type TableRequest struct {
	Table string
	// Heading is the section the table sits in, given to the model as
	// context.
	Heading  string
	Filename string
	Index    int
}

// DescribeTable rewrites a Markdown table as one sentence per data cell, so
// retrieval over the document can match individual values. Errors are
// classified as for Reconcile.
func (r *Reconciler) DescribeTable(ctx context.Context, req TableRequest) (string, error) {
	if strings.TrimSpace(req.Table) == "" {
		return "", &FatalError{Provider: r.client.Name(), Err: errors.New("empty table")}
	}
	text, err := r.complete(ctx, []providers.Message{
		{Role: "system", Content: tablePrompt},
		{Role: "user", Content: tableMessage(req)},
	}, metrics.RecordOpts{
		Stage:       metrics.StageTables,
		RegionIndex: req.Index,
	})
	if err != nil {
		return "", err
	}
	r.logger.Debug("table described", "table", req.Index, "chars", len(text))
	return text, nil
}

// complete makes one rate-limited, time-bounded model call and returns its
// cleaned content.
func (r *Reconciler) complete(ctx context.Context, msgs []providers.Message, opts metrics.RecordOpts) (string, error) {
	name := r.client.Name()
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	res, err := r.client.Chat(callCtx, &providers.ChatRequest{
		Model:       r.model,
		Temperature: r.temperature,
		MaxTokens:   r.maxTokens,
		Messages:    msgs,
	})
	if !errors.Is(ctx.Err(), context.Canceled) {
		opts.Provider, opts.Model = name, r.model
		r.metrics.RecordLLMCall(ctx, opts, res, time.Since(start), err)
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", ctx.Err()
		}
		var se *providers.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests {
			r.limiter.Record429()
		}
		r.logger.Debug("model call failed",
			"stage", opts.Stage, "page", opts.PageIndex, "region", opts.RegionIndex,
			"duration", time.Since(start), "error", err)
		if providers.IsFatal(err) {
			return "", &FatalError{Provider: name, Err: err}
		}
		return "", &TransientError{Provider: name, Err: err}
	}
	if res == nil {
		return "", &TransientError{Provider: name, Err: errors.New("client returned no result")}
	}

	if !utf8.ValidString(res.Content) {
		return "", &FatalError{Provider: name, Err: ErrInvalidText}
	}
	if res.FinishReason == "content_filter" || isRefusal(res.Content) {
		return "", &TransientError{Provider: name, Err: ErrRefusal}
	}
	r.logger.Debug("model call done",
		"stage", opts.Stage, "tokens", res.TotalTokens, "duration", time.Since(start))
	return clean(res.Content), nil
}

// clean drops code-fence lines, which models wrap around Markdown despite
// instructions, and trims surrounding whitespace.
func clean(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimLeft(l, " "), "`") {
			continue
		}
		kept = append(kept, l)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

var refusalPrefixes = []string{
	"i'm sorry",
	"i am sorry",
	"sorry, i",
	"i cannot",
	"i can't",
	"i can not",
	"i'm unable",
	"i am unable",
	"i'm not able",
	"as an ai",
}

// maxRefusalLen keeps long transcriptions that happen to open with an apology
// from being mistaken for refusals.
const maxRefusalLen = 300

func isRefusal(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxRefusalLen {
		return false
	}
	s = strings.ToLower(strings.ReplaceAll(s, "’", "'"))
	for _, p := range refusalPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
