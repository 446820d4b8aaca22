package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/jackzampolin/pdfmark/internal/artifacts"
	"github.com/jackzampolin/pdfmark/internal/reconcile"
	"github.com/jackzampolin/pdfmark/internal/store"
)

// seed writes the state a crashed process would leave behind: page 0 done,
// page 1 mid-flight with the given region.
func seed(t *testing.T, h *harness, withSource bool, region store.Region) string {
	t.Helper()
	ctx := context.Background()
	const id = "3f1c2b9e-0000-4000-8000-000000000001"
	doc := store.Document{
		ID:            id,
		Filename:      "crashed.pdf",
		PageCount:     2,
		Status:        store.DocExtracting,
		HeadingCutoff: 1,
		Options:       store.Options{DPI: 300, Renderer: "fitz", ReadingOrder: "ltr", ChunkLevel: 3},
		CreatedAt:     time.Now(),
	}
	if err := h.store.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if withSource {
		h.artifacts.Put(ctx, artifacts.SourceKey(id), []byte("%PDF"))
	}
	h.store.UpsertPage(ctx, store.Page{DocumentID: id, Index: 0, Status: store.PageAssembled, RegionCount: 1})
	h.store.UpsertRegion(ctx, store.Region{
		DocumentID: id, PageIndex: 0, Index: 0,
		Bounds:   store.Rect{X1: 200, Y1: 300},
		OCRText:  store.Str("zero"),
		Markdown: store.Str("zero"),
		Status:   store.RegionReconciled,
	})
	h.store.UpsertPage(ctx, store.Page{DocumentID: id, Index: 1, Status: store.PageReconciling, RegionCount: 1})
	region.DocumentID, region.PageIndex, region.Index = id, 1, 0
	h.store.UpsertRegion(ctx, region)
	return id
}

func TestResume(t *testing.T) {
	t.Run("reconciled regions are reused", func(t *testing.T) {
		h := newHarness(t, 2, nil)
		id := seed(t, h, true, store.Region{
			Bounds:   store.Rect{X1: 200, Y1: 300},
			OCRText:  store.Str("one"),
			Markdown: store.Str("one"),
			Status:   store.RegionReconciled,
		})

		n, err := h.orch.Resume(context.Background())
		if err != nil || n != 1 {
			t.Fatalf("Resume() = %d, %v; want 1", n, err)
		}
		st := h.wait(t, id)
		if st.State != store.DocComplete {
			t.Fatalf("state = %s (%s)", st.State, st.Error)
		}
		if len(h.llm.Calls()) != 0 || len(h.ocr.Calls()) != 0 {
			t.Errorf("engines called on resume: llm=%d ocr=%d", len(h.llm.Calls()), len(h.ocr.Calls()))
		}
		if h.renderer.Attempts(0) != 0 {
			t.Error("finished page 0 was rendered again")
		}
		if got := h.result(t, id); got != "zero\n\none" {
			t.Errorf("result = %q", got)
		}
	})

	t.Run("extracted region skips ocr", func(t *testing.T) {
		h := newHarness(t, 2, func(cfg *Config, h *harness) {
			h.llm.fn = func(_ context.Context, req reconcile.Request) (string, error) {
				return "from " + req.OCRText, nil
			}
		})
		id := seed(t, h, true, store.Region{
			Bounds:  store.Rect{X1: 200, Y1: 300},
			OCRText: store.Str("hint"),
			Status:  store.RegionExtracted,
		})

		h.orch.Resume(context.Background())
		st := h.wait(t, id)
		if st.State != store.DocComplete {
			t.Fatalf("state = %s (%s)", st.State, st.Error)
		}
		if len(h.ocr.Calls()) != 0 {
			t.Errorf("OCR re-run for an extracted region")
		}
		if got := h.result(t, id); got != "zero\n\nfrom hint" {
			t.Errorf("result = %q", got)
		}
	})

	t.Run("missing source fails the document", func(t *testing.T) {
		h := newHarness(t, 2, nil)
		id := seed(t, h, false, store.Region{Status: store.RegionPending})

		n, err := h.orch.Resume(context.Background())
		if err != nil || n != 0 {
			t.Fatalf("Resume() = %d, %v; want 0", n, err)
		}
		st, _ := h.orch.GetStatus(context.Background(), id)
		if st.State != store.DocFailed {
			t.Errorf("state = %s, want failed", st.State)
		}
	})

	t.Run("terminal documents are left alone", func(t *testing.T) {
		h := newHarness(t, 1, nil)
		h.convert(t, StartConfig{})
		if n, _ := h.orch.Resume(context.Background()); n != 0 {
			t.Errorf("Resume() = %d, want 0", n)
		}
	})
}

func TestShutdownThenResume(t *testing.T) {
	blocked := make(chan struct{})
	first := newHarness(t, 2, func(cfg *Config, h *harness) {
		cfg.MaxConcurrentPages = 1
		h.llm.fn = func(ctx context.Context, req reconcile.Request) (string, error) {
			if req.PageIndex == 0 {
				return "zero", nil
			}
			close(blocked)
			<-ctx.Done()
			return "", ctx.Err()
		}
	})
	ctx := context.Background()

	id, err := first.orch.StartConversion(ctx, []byte("%PDF"), StartConfig{})
	if err != nil {
		t.Fatal(err)
	}
	<-blocked
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := first.orch.Shutdown(sctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	doc, _ := first.store.GetDocument(ctx, id)
	if doc.Status.Terminal() {
		t.Fatalf("interrupted document is %s, want non-terminal", doc.Status)
	}

	llm := &fakeLLM{}
	second, err := New(Config{
		Store:       first.store,
		Artifacts:   first.artifacts,
		LLM:         llm,
		NewRenderer: first.orch.cfg.NewRenderer,
		Retry:       RetryConfig{Timer: &fakeTimer{}},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer second.Shutdown(sctx)
	if n, err := second.Resume(ctx); err != nil || n != 1 {
		t.Fatalf("Resume() = %d, %v", n, err)
	}
	st, err := second.Wait(sctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != store.DocComplete {
		t.Fatalf("state = %s (%s)", st.State, st.Error)
	}
	if llm.CallsFor(0) != 0 || llm.CallsFor(1) != 1 {
		t.Errorf("calls after resume: page0=%d page1=%d", llm.CallsFor(0), llm.CallsFor(1))
	}
	md, err := second.GetResult(ctx, id)
	if err != nil || md != "zero\n\npage 2" {
		t.Errorf("GetResult() = %q, %v", md, err)
	}
}
