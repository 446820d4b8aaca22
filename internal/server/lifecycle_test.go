package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/pdfmark/internal/api"
	"github.com/jackzampolin/pdfmark/internal/server/endpoints"
	"github.com/jackzampolin/pdfmark/internal/store"
	"github.com/jackzampolin/pdfmark/internal/testutil"
)

// waitState polls the conversion until it reaches a terminal state.
func waitState(t *testing.T, client *api.Client, id string) endpoints.ConversionResponse {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		var resp endpoints.ConversionResponse
		if err := client.Get(context.Background(), "/api/conversions/"+id, &resp); err != nil {
			t.Fatalf("get conversion: %v", err)
		}
		if resp.State.Terminal() {
			return resp
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("conversion %s did not finish", id)
	return endpoints.ConversionResponse{}
}

func TestServer_FullLifecycle(t *testing.T) {
	reg, _ := mockRegistry(0)
	srv, cfg := newTestServer(t, memoryConfig, reg)
	starter := start(t, srv, cfg.URL())

	t.Run("health_endpoint", func(t *testing.T) {
		resp, err := testutil.HTTPClient().Get(cfg.URL() + "/health")
		if err != nil {
			t.Fatalf("health check failed: %v", err)
		}
		defer resp.Body.Close()

		var health endpoints.HealthResponse
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.StatusCode != http.StatusOK || health.Status != "ok" {
			t.Errorf("health = %d %+v", resp.StatusCode, health)
		}
	})

	t.Run("status_endpoint", func(t *testing.T) {
		status, err := testutil.GetStatus(cfg.URL())
		if err != nil {
			t.Fatal(err)
		}
		if status.Server != "running" || status.Store.Driver != "memory" {
			t.Errorf("status = %+v", status)
		}
	})

	t.Run("convert", func(t *testing.T) {
		client := api.NewClient(cfg.URL())
		var sub endpoints.SubmitConversionResponse
		if err := client.PostFile(context.Background(), "/api/conversions", "doc.pdf", testutil.MinimalPDF(3), nil, &sub); err != nil {
			t.Fatalf("submit: %v", err)
		}

		final := waitState(t, client, sub.ID)
		if final.State != store.DocComplete {
			t.Fatalf("state = %s (%s)", final.State, final.Error)
		}

		var result endpoints.ResultResponse
		if err := client.Get(context.Background(), "/api/conversions/"+sub.ID+"/result", &result); err != nil {
			t.Fatal(err)
		}
		if strings.Count(result.Markdown, "Paragraph.") != 3 {
			t.Errorf("markdown = %q", result.Markdown)
		}
	})

	t.Run("is_running", func(t *testing.T) {
		if !srv.IsRunning() || srv.Services() == nil {
			t.Error("server should be running with services")
		}
	})

	starter.Stop()

	t.Run("not_running_after_shutdown", func(t *testing.T) {
		if srv.IsRunning() {
			t.Error("IsRunning() = true after shutdown, want false")
		}
		if srv.Services() != nil {
			t.Error("services should be released after shutdown")
		}
	})
}

func TestServer_ResumeAfterRestart(t *testing.T) {
	content := `
defaults:
  llm_provider: mock
  ocr_provider: mock-ocr
store:
  driver: sqlite
pipeline:
  base_delay: 10ms
  max_delay: 20ms
`
	// both servers share one home so the sqlite db and artifacts persist
	slowReg, slowLLM := mockRegistry(time.Minute)
	first, firstCfg := newTestServer(t, content, slowReg)
	starter := start(t, first, firstCfg.URL())

	client := api.NewClient(firstCfg.URL())
	var sub endpoints.SubmitConversionResponse
	if err := client.PostFile(context.Background(), "/api/conversions", "slow.pdf", testutil.MinimalPDF(2), nil, &sub); err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for slowLLM.RequestCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	starter.Stop()

	fastReg, fastLLM := mockRegistry(0)
	second, secondCfg := newTestServerInHome(t, content, fastReg, firstCfg.HomePath)
	starter = start(t, second, secondCfg.URL())
	defer starter.Stop()

	final := waitState(t, api.NewClient(secondCfg.URL()), sub.ID)
	if final.State != store.DocComplete {
		t.Fatalf("state after resume = %s (%s)", final.State, final.Error)
	}
	if fastLLM.RequestCount() == 0 {
		t.Error("resumed conversion did not reach the new provider")
	}
}
