package svcctx

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackzampolin/pdfmark/internal/config"
	"github.com/jackzampolin/pdfmark/internal/metrics"
	"github.com/jackzampolin/pdfmark/internal/ocr"
	"github.com/jackzampolin/pdfmark/internal/providers"
	"github.com/jackzampolin/pdfmark/internal/reconcile"
)

// registryOCR resolves the default OCR provider on every call so a config
// reload takes effect for the next region. Adapters are cached per provider
// instance to keep their rate limiters.
type registryOCR struct {
	registry *providers.Registry
	config   *config.Manager
	metrics  *metrics.Recorder
	logger   *slog.Logger

	mu     sync.Mutex
	cached map[string]cachedOCR
}

type cachedOCR struct {
	provider providers.OCRProvider
	adapter  *ocr.Adapter
}

func newRegistryOCR(reg *providers.Registry, cfg *config.Manager, rec *metrics.Recorder, logger *slog.Logger) *registryOCR {
	return &registryOCR{registry: reg, config: cfg, metrics: rec, logger: logger, cached: make(map[string]cachedOCR)}
}

// Extract reads req with the configured provider. No configured provider
// yields an empty hint.
func (r *registryOCR) Extract(ctx context.Context, req ocr.Request) (ocr.Result, error) {
	c := r.config.Get()
	name := c.Defaults.OCRProvider
	if name == "" {
		return ocr.Result{}, nil
	}
	provider, err := r.registry.GetOCR(name)
	if err != nil {
		return ocr.Result{}, &ocr.FatalError{Provider: name, Err: err}
	}

	r.mu.Lock()
	entry, ok := r.cached[name]
	if !ok || entry.provider != provider {
		entry = cachedOCR{
			provider: provider,
			adapter: ocr.NewAdapter(ocr.Config{
				Provider: provider,
				Timeout:  c.Pipeline.OCRTimeout,
				Metrics:  r.metrics,
				Logger:   r.logger,
			}),
		}
		r.cached[name] = entry
	}
	r.mu.Unlock()

	return entry.adapter.Extract(ctx, req)
}

// registryLLM is the reconcile counterpart of registryOCR.
type registryLLM struct {
	registry *providers.Registry
	config   *config.Manager
	metrics  *metrics.Recorder
	logger   *slog.Logger

	mu     sync.Mutex
	cached map[string]cachedLLM
}

type cachedLLM struct {
	client     providers.LLMClient
	model      string
	reconciler *reconcile.Reconciler
}

func newRegistryLLM(reg *providers.Registry, cfg *config.Manager, rec *metrics.Recorder, logger *slog.Logger) *registryLLM {
	return &registryLLM{registry: reg, config: cfg, metrics: rec, logger: logger, cached: make(map[string]cachedLLM)}
}

func (r *registryLLM) Reconcile(ctx context.Context, req reconcile.Request) (string, error) {
	rc, err := r.reconciler()
	if err != nil {
		return "", err
	}
	return rc.Reconcile(ctx, req)
}

// DescribeTable rewrites one table with the same model that reconciles regions.
func (r *registryLLM) DescribeTable(ctx context.Context, req reconcile.TableRequest) (string, error) {
	rc, err := r.reconciler()
	if err != nil {
		return "", err
	}
	return rc.DescribeTable(ctx, req)
}

func (r *registryLLM) reconciler() (*reconcile.Reconciler, error) {
	c := r.config.Get()
	name := c.Defaults.LLMProvider
	client, err := r.registry.GetLLM(name)
	if err != nil {
		return nil, &reconcile.FatalError{Provider: name, Err: fmt.Errorf("no language model: %w", err)}
	}
	model := c.LLMProviders[name].Model

	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cached[name]
	if !ok || entry.client != client || entry.model != model {
		entry = cachedLLM{
			client: client,
			model:  model,
			reconciler: reconcile.New(reconcile.Config{
				Client:  client,
				Model:   model,
				Timeout: c.Pipeline.LLMTimeout,
				Metrics: r.metrics,
				Logger:  r.logger,
			}),
		}
		r.cached[name] = entry
	}
	return entry.reconciler, nil
}
