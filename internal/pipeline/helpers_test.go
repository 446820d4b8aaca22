package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/pdfmark/internal/artifacts"
	"github.com/jackzampolin/pdfmark/internal/ocr"
	"github.com/jackzampolin/pdfmark/internal/reconcile"
	"github.com/jackzampolin/pdfmark/internal/render"
	"github.com/jackzampolin/pdfmark/internal/store"
)

var errFlaky = errors.New("flaky")

// fakeRenderer serves synthetic page images. PDFs whose bytes are "bad" are
// rejected like unreadable input.
type fakeRenderer struct {
	pages int
	// page returns the image for a page; blank single-column pages by default
	page func(index int) image.Image
	// fail, when set, may return an error for a page and attempt
	fail func(index, attempt int) error

	mu       sync.Mutex
	attempts map[int]int
}

func (f *fakeRenderer) PageCount(pdf []byte) (int, error) {
	if string(pdf) == "bad" {
		return 0, &render.Error{Page: -1, Err: render.ErrInvalidPDF}
	}
	return f.pages, nil
}

func (f *fakeRenderer) Render(ctx context.Context, _ []byte, index int) (image.Image, error) {
	f.mu.Lock()
	if f.attempts == nil {
		f.attempts = make(map[int]int)
	}
	f.attempts[index]++
	attempt := f.attempts[index]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.fail != nil {
		if err := f.fail(index, attempt); err != nil {
			return nil, err
		}
	}
	if f.page != nil {
		return f.page(index), nil
	}
	return blankPage(), nil
}

func (f *fakeRenderer) Attempts(index int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[index]
}

func blankPage() image.Image {
	return whitePage(200, 300)
}

func whitePage(w, h int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = 0xff
	}
	return g
}

// twoColumnPage looks like two blocks of text lines separated by a wide
// gutter.
func twoColumnPage() image.Image {
	g := whitePage(1000, 800)
	bars := func(x0, x1 int) {
		for y := 100; y < 700; y++ {
			if (y-100)%16 >= 8 {
				continue
			}
			for x := x0; x < x1; x++ {
				g.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}
	bars(100, 450)
	bars(550, 900)
	return g
}

type fakeOCR struct {
	fn func(req ocr.Request) (ocr.Result, error)

	mu    sync.Mutex
	calls []ocr.Request
}

func (f *fakeOCR) Extract(ctx context.Context, req ocr.Request) (ocr.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return ocr.Result{}, err
	}
	if f.fn == nil {
		return ocr.Result{Text: "ocr text", Confidence: 0.9}, nil
	}
	return f.fn(req)
}

func (f *fakeOCR) Calls() []ocr.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ocr.Request(nil), f.calls...)
}

type fakeLLM struct {
	fn func(ctx context.Context, req reconcile.Request) (string, error)

	mu    sync.Mutex
	calls []reconcile.Request
}

func (f *fakeLLM) Reconcile(ctx context.Context, req reconcile.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.fn == nil {
		return fmt.Sprintf("page %d", req.PageIndex+1), nil
	}
	return f.fn(ctx, req)
}

func (f *fakeLLM) Calls() []reconcile.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]reconcile.Request(nil), f.calls...)
}

func (f *fakeLLM) CallsFor(page int) int {
	n := 0
	for _, c := range f.Calls() {
		if c.PageIndex == page {
			n++
		}
	}
	return n
}

// fakeTimer fires immediately and records the requested delays.
type fakeTimer struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (t *fakeTimer) After(d time.Duration) <-chan time.Time {
	t.mu.Lock()
	t.delays = append(t.delays, d)
	t.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func (t *fakeTimer) Delays() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.delays...)
}

type harness struct {
	orch      *Orchestrator
	store     *store.MemoryStore
	artifacts *artifacts.Memory
	renderer  *fakeRenderer
	ocr       *fakeOCR
	llm       *fakeLLM
	timer     *fakeTimer
}

// newHarness builds an orchestrator over in-memory storage and fakes.
// configure may adjust the config before the orchestrator is created.
func newHarness(t *testing.T, pages int, configure func(*Config, *harness)) *harness {
	t.Helper()
	h := &harness{
		store:     store.NewMemoryStore(),
		artifacts: artifacts.NewMemory(),
		renderer:  &fakeRenderer{pages: pages},
		ocr:       &fakeOCR{},
		llm:       &fakeLLM{},
		timer:     &fakeTimer{},
	}
	cfg := Config{
		Store:     h.store,
		Artifacts: h.artifacts,
		OCR:       h.ocr,
		LLM:       h.llm,
		NewRenderer: func(string, int) (render.Renderer, error) {
			return h.renderer, nil
		},
		MaxConcurrentPages: 4,
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   10 * time.Millisecond,
			MaxDelay:    time.Second,
			Timer:       h.timer,
		},
	}
	if configure != nil {
		configure(&cfg, h)
	}
	orch, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.orch = orch
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		orch.Shutdown(ctx)
	})
	return h
}

// convert starts a conversion and waits for it to finish.
func (h *harness) convert(t *testing.T, sc StartConfig) (string, Status) {
	t.Helper()
	id, err := h.orch.StartConversion(context.Background(), []byte("%PDF"), sc)
	if err != nil {
		t.Fatalf("StartConversion() error = %v", err)
	}
	return id, h.wait(t, id)
}

func (h *harness) wait(t *testing.T, id string) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := h.orch.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return st
}

func (h *harness) result(t *testing.T, id string) string {
	t.Helper()
	md, err := h.orch.GetResult(context.Background(), id)
	if err != nil {
		t.Fatalf("GetResult() error = %v", err)
	}
	return md
}
