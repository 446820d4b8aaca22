package svcctx

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/pdfmark/internal/config"
	"github.com/jackzampolin/pdfmark/internal/home"
	"github.com/jackzampolin/pdfmark/internal/ocr"
	"github.com/jackzampolin/pdfmark/internal/pipeline"
	"github.com/jackzampolin/pdfmark/internal/providers"
	"github.com/jackzampolin/pdfmark/internal/reconcile"
	"github.com/jackzampolin/pdfmark/internal/store"
	"github.com/jackzampolin/pdfmark/internal/testutil"
)

const memoryConfig = `
defaults:
  llm_provider: mock
  ocr_provider: mock-ocr
store:
  driver: memory
artifacts:
  backend: memory
pipeline:
  base_delay: 10ms
  max_delay: 20ms
`

func newManager(t *testing.T, content string) *config.Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	mgr, err := config.NewManager(path)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return mgr
}

func mockRegistry() (*providers.Registry, *providers.MockClient, *providers.MockOCRProvider) {
	reg := providers.NewRegistry()
	llm := providers.NewMockClient()
	llm.Latency = 0
	llm.ResponseText = "# Title\n\nBody text."
	ocrp := providers.NewMockOCRProvider()
	ocrp.Latency = 0
	reg.RegisterLLM("mock", llm)
	reg.RegisterOCR("mock-ocr", ocrp)
	return reg, llm, ocrp
}

func region() image.Image {
	img := image.NewGray(image.Rect(0, 0, 40, 20))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.SetGray(5, 5, color.Gray{})
	return img
}

func TestContextExtractors(t *testing.T) {
	if ServicesFrom(context.Background()) != nil {
		t.Error("expected nil services on bare context")
	}
	if OrchestratorFrom(context.Background()) != nil || RegistryFrom(context.Background()) != nil {
		t.Error("expected nil extractors on bare context")
	}

	reg := providers.NewRegistry()
	h, _ := home.New(t.TempDir())
	s := &Services{Registry: reg, Home: h}
	ctx := WithServices(context.Background(), s)

	if ServicesFrom(ctx) != s {
		t.Error("ServicesFrom returned a different value")
	}
	if RegistryFrom(ctx) != reg {
		t.Error("RegistryFrom returned a different registry")
	}
	if HomeFrom(ctx) != h {
		t.Error("HomeFrom returned a different home")
	}
	if PostgresFrom(ctx) != nil {
		t.Error("PostgresFrom should be nil without a managed container")
	}
}

func TestRegistryOCR(t *testing.T) {
	t.Run("uses the configured provider", func(t *testing.T) {
		reg, _, ocrp := mockRegistry()
		ocrp.ResponseText = "hint"
		r := newRegistryOCR(reg, newManager(t, memoryConfig), nil, nil)

		res, err := r.Extract(context.Background(), ocr.Request{Image: region()})
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if res.Text != "hint" {
			t.Errorf("Text = %q", res.Text)
		}
	})

	t.Run("empty provider yields no hint", func(t *testing.T) {
		reg, _, ocrp := mockRegistry()
		r := newRegistryOCR(reg, newManager(t, "defaults:\n  llm_provider: mock\n  ocr_provider: \"\"\n"), nil, nil)

		res, err := r.Extract(context.Background(), ocr.Request{Image: region()})
		if err != nil || res.Text != "" {
			t.Errorf("Extract() = %+v, %v", res, err)
		}
		if ocrp.RequestCount() != 0 {
			t.Errorf("provider called %d times", ocrp.RequestCount())
		}
	})

	t.Run("unregistered provider is fatal", func(t *testing.T) {
		r := newRegistryOCR(providers.NewRegistry(), newManager(t, memoryConfig), nil, nil)

		_, err := r.Extract(context.Background(), ocr.Request{Image: region()})
		var fe *ocr.FatalError
		if !errors.As(err, &fe) {
			t.Errorf("err = %v, want FatalError", err)
		}
	})

	t.Run("replaced provider is picked up", func(t *testing.T) {
		reg, _, first := mockRegistry()
		r := newRegistryOCR(reg, newManager(t, memoryConfig), nil, nil)

		if _, err := r.Extract(context.Background(), ocr.Request{Image: region()}); err != nil {
			t.Fatal(err)
		}
		second := providers.NewMockOCRProvider()
		second.Latency = 0
		second.ResponseText = "second"
		reg.RegisterOCR("mock-ocr", second)

		res, err := r.Extract(context.Background(), ocr.Request{Image: region()})
		if err != nil {
			t.Fatal(err)
		}
		if res.Text != "second" || first.RequestCount() != 1 || second.RequestCount() != 1 {
			t.Errorf("text=%q first=%d second=%d", res.Text, first.RequestCount(), second.RequestCount())
		}
	})
}

func TestRegistryLLM(t *testing.T) {
	t.Run("transcribes with the configured client", func(t *testing.T) {
		reg, llm, _ := mockRegistry()
		r := newRegistryLLM(reg, newManager(t, memoryConfig), nil, nil)

		md, err := r.Reconcile(context.Background(), reconcile.Request{Image: region(), RegionCount: 1})
		if err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
		if md != llm.ResponseText || llm.RequestCount() != 1 {
			t.Errorf("md = %q, calls = %d", md, llm.RequestCount())
		}
	})

	t.Run("describes tables with the configured client", func(t *testing.T) {
		reg, llm, _ := mockRegistry()
		r := newRegistryLLM(reg, newManager(t, memoryConfig), nil, nil)

		text, err := r.DescribeTable(context.Background(), reconcile.TableRequest{Table: "| a |\n| - |\n| 1 |"})
		if err != nil {
			t.Fatalf("DescribeTable() error = %v", err)
		}
		if text != llm.ResponseText || llm.RequestCount() != 1 {
			t.Errorf("text = %q, calls = %d", text, llm.RequestCount())
		}
	})

	t.Run("missing client is fatal", func(t *testing.T) {
		r := newRegistryLLM(providers.NewRegistry(), newManager(t, memoryConfig), nil, nil)

		_, err := r.Reconcile(context.Background(), reconcile.Request{Image: region(), RegionCount: 1})
		if err == nil || reconcile.IsTransient(err) {
			t.Errorf("err = %v, want fatal", err)
		}
	})
}

func TestPipelineConfig(t *testing.T) {
	c := config.DefaultConfig()
	c.Pipeline.DPI = 144
	c.Pipeline.MaxAttempts = 5
	c.Preprocess.ReadingOrder = "rtl"

	pc := PipelineConfig(c, store.NewMemoryStore(), nil, nil, nil, nil)
	if pc.Defaults.DPI != 144 || pc.Defaults.ReadingOrder != "rtl" || pc.Defaults.ChunkLevel != 3 {
		t.Errorf("Defaults = %+v", pc.Defaults)
	}
	if pc.Retry.MaxAttempts != 5 || pc.Retry.BaseDelay != time.Second {
		t.Errorf("Retry = %+v", pc.Retry)
	}
	if pc.Preprocess.MinRegionWidth != 0.15 || pc.Preprocess.ReadingOrder != "rtl" {
		t.Errorf("Preprocess = %+v", pc.Preprocess)
	}
	if pc.Tables != nil || pc.Defaults.TableText {
		t.Errorf("table text enabled without a model: %+v", pc.Defaults)
	}

	c.Pipeline.TableText = true
	llm := newRegistryLLM(providers.NewRegistry(), nil, nil, nil)
	pc = PipelineConfig(c, store.NewMemoryStore(), nil, nil, llm, nil)
	if pc.Tables == nil || !pc.Defaults.TableText {
		t.Errorf("Tables = %v, TableText = %v", pc.Tables, pc.Defaults.TableText)
	}
}

func TestBuild(t *testing.T) {
	t.Run("rejects invalid config", func(t *testing.T) {
		mgr := newManager(t, "store:\n  driver: mongo\n")
		if _, err := Build(context.Background(), BuildConfig{Config: mgr}); err == nil {
			t.Error("expected error for unknown store driver")
		}
	})

	t.Run("sqlite and fs default into home", func(t *testing.T) {
		h, _ := home.New(t.TempDir())
		reg, _, _ := mockRegistry()
		mgr := newManager(t, "defaults:\n  llm_provider: mock\n")

		s, err := Build(context.Background(), BuildConfig{Config: mgr, Home: h, Registry: reg})
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		defer s.Close(context.Background())

		if _, ok := s.Store.(*store.SQLStore); !ok {
			t.Errorf("Store = %T, want *store.SQLStore", s.Store)
		}
		if _, err := os.Stat(h.DatabasePath()); err != nil {
			t.Errorf("database not created in home: %v", err)
		}
	})
}

func TestBuild_Convert(t *testing.T) {
	reg, llm, _ := mockRegistry()
	s, err := Build(context.Background(), BuildConfig{
		Config:   newManager(t, memoryConfig),
		Registry: reg,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer s.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	id, err := s.Orchestrator.StartConversion(ctx, testutil.MinimalPDF(1), pipeline.StartConfig{Filename: "one.pdf"})
	if err != nil {
		t.Fatalf("StartConversion() error = %v", err)
	}
	st, err := s.Orchestrator.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if st.State != store.DocComplete {
		t.Fatalf("state = %s (%s)", st.State, st.Error)
	}

	md, err := s.Orchestrator.GetResult(ctx, id)
	if err != nil {
		t.Fatalf("GetResult() error = %v", err)
	}
	if !strings.Contains(md, "# Title") || !strings.Contains(md, "Body text.") {
		t.Errorf("result = %q", md)
	}
	if llm.RequestCount() == 0 {
		t.Error("language model was not called")
	}
}
