package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/jackzampolin/pdfmark/internal/providers"
)

// Recorder keeps metrics in memory, grouped by document. A nil *Recorder
// discards everything.
type Recorder struct {
	mu    sync.Mutex
	byDoc map[string][]Metric
	now   func() time.Time
}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{byDoc: make(map[string][]Metric), now: time.Now}
}

// RecordOpts provides context for a metric recording.
type RecordOpts struct {
	Stage       string
	PageIndex   int
	RegionIndex int
	Provider    string
	Model       string
}

// Record stores a single metric.
func (r *Recorder) Record(m Metric) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.now()
	}
	r.byDoc[m.DocumentID] = append(r.byDoc[m.DocumentID], m)
}

func (r *Recorder) base(ctx context.Context, opts RecordOpts, elapsed time.Duration, err error) Metric {
	m := Metric{
		DocumentID:       DocumentFrom(ctx),
		Stage:            opts.Stage,
		PageIndex:        opts.PageIndex,
		RegionIndex:      opts.RegionIndex,
		Provider:         opts.Provider,
		Model:            opts.Model,
		ExecutionSeconds: elapsed.Seconds(),
		Success:          err == nil,
	}
	if err != nil {
		m.Error = err.Error()
	}
	return m
}

// RecordLLMCall records the outcome of a model call. result may be nil when
// err is set.
func (r *Recorder) RecordLLMCall(ctx context.Context, opts RecordOpts, result *providers.ChatResult, elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	m := r.base(ctx, opts, elapsed, err)
	if result != nil {
		m.PromptTokens = result.PromptTokens
		m.CompletionTokens = result.CompletionTokens
		m.TotalTokens = result.TotalTokens
		if result.ModelUsed != "" {
			m.Model = result.ModelUsed
		}
	}
	r.Record(m)
}

// RecordOCRCall records the outcome of an OCR call.
func (r *Recorder) RecordOCRCall(ctx context.Context, opts RecordOpts, elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	r.Record(r.base(ctx, opts, elapsed, err))
}

// List returns the metrics of a document in recording order.
func (r *Recorder) List(documentID string) []Metric {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Metric(nil), r.byDoc[documentID]...)
}

// Forget drops the metrics of a document.
func (r *Recorder) Forget(documentID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.byDoc, documentID)
	r.mu.Unlock()
}
