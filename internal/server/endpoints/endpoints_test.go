package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/pdfmark/internal/api"
	"github.com/jackzampolin/pdfmark/internal/config"
	"github.com/jackzampolin/pdfmark/internal/metrics"
	"github.com/jackzampolin/pdfmark/internal/providers"
	"github.com/jackzampolin/pdfmark/internal/store"
	"github.com/jackzampolin/pdfmark/internal/svcctx"
	"github.com/jackzampolin/pdfmark/internal/testutil"
)

const testConfig = `
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

type testEnv struct {
	server   *httptest.Server
	services *svcctx.Services
	llm      *providers.MockClient
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(testConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	mgr, err := config.NewManager(path)
	if err != nil {
		t.Fatal(err)
	}

	reg := providers.NewRegistry()
	llm := providers.NewMockClient()
	llm.Latency = 0
	llm.ResponseText = "# Chapter One\n\nIt begins.\n\n## Part A\n\nMore."
	ocrp := providers.NewMockOCRProvider()
	ocrp.Latency = 0
	reg.RegisterLLM("mock", llm)
	reg.RegisterOCR("mock-ocr", ocrp)

	s, err := svcctx.Build(context.Background(), svcctx.BuildConfig{Config: mgr, Registry: reg})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })

	registry := api.NewRegistry()
	registry.Register(All()...)
	mux := http.NewServeMux()
	registry.RegisterRoutes(mux, func(h http.HandlerFunc) http.HandlerFunc { return h })
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r.WithContext(svcctx.WithServices(r.Context(), s)))
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, services: s, llm: llm}
}

func (e *testEnv) upload(t *testing.T, pdf []byte, fields map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	part, _ := mw.CreateFormFile("file", "book.pdf")
	part.Write(pdf)
	mw.Close()

	resp, err := http.Post(e.server.URL+"/api/conversions", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	return resp
}

func (e *testEnv) submit(t *testing.T, pages int) string {
	t.Helper()
	resp := e.upload(t, testutil.MinimalPDF(pages), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var out SubmitConversionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out.ID
}

func (e *testEnv) wait(t *testing.T, id string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := e.services.Orchestrator.Wait(ctx, id); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if v != nil {
		json.NewDecoder(resp.Body).Decode(v)
	}
	return resp.StatusCode
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	var health HealthResponse
	if code := getJSON(t, env.server.URL+"/health", &health); code != http.StatusOK || health.Status != "ok" {
		t.Errorf("/health = %d %+v", code, health)
	}

	var ready HealthResponse
	if code := getJSON(t, env.server.URL+"/ready", &ready); code != http.StatusOK || ready.Store != "ok" {
		t.Errorf("/ready = %d %+v", code, ready)
	}

	var status StatusResponse
	if code := getJSON(t, env.server.URL+"/status", &status); code != http.StatusOK {
		t.Fatalf("/status = %d", code)
	}
	if status.Server != "running" || status.Store.Driver != "memory" || status.Defaults.LLM != "mock" {
		t.Errorf("status = %+v", status)
	}
	if len(status.Providers.LLM) != 1 || status.Providers.LLM[0] != "mock" {
		t.Errorf("LLM providers = %v", status.Providers.LLM)
	}
}

func TestReady_NotInitialized(t *testing.T) {
	rec := httptest.NewRecorder()
	(&ReadyEndpoint{}).handler(rec, httptest.NewRequest("GET", "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
}

func TestConversionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	id := env.submit(t, 2)
	env.wait(t, id)

	t.Run("get", func(t *testing.T) {
		var resp ConversionResponse
		if code := getJSON(t, env.server.URL+"/api/conversions/"+id, &resp); code != http.StatusOK {
			t.Fatalf("code = %d", code)
		}
		if resp.State != store.DocComplete || resp.PageCount != 2 || len(resp.Pages) != 2 {
			t.Errorf("resp = %+v", resp)
		}
		if resp.Filename != "book.pdf" {
			t.Errorf("Filename = %q", resp.Filename)
		}
	})

	t.Run("list", func(t *testing.T) {
		var resp ListConversionsResponse
		if code := getJSON(t, env.server.URL+"/api/conversions", &resp); code != http.StatusOK {
			t.Fatalf("code = %d", code)
		}
		if resp.Total != 1 || resp.Conversions[0].ID != id {
			t.Errorf("resp = %+v", resp)
		}
	})

	t.Run("result", func(t *testing.T) {
		var resp ResultResponse
		if code := getJSON(t, env.server.URL+"/api/conversions/"+id+"/result", &resp); code != http.StatusOK {
			t.Fatalf("code = %d", code)
		}
		if resp.ID != id || !strings.Contains(resp.Markdown, "# Chapter One") {
			t.Errorf("markdown = %q", resp.Markdown)
		}
	})

	t.Run("raw result", func(t *testing.T) {
		resp, err := http.Get(env.server.URL + "/api/conversions/" + id + "/result?format=raw")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/markdown") {
			t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
		}
		if !strings.Contains(string(body), "It begins.") {
			t.Errorf("body = %q", body)
		}
	})

	t.Run("chunks", func(t *testing.T) {
		var resp ChunksResponse
		if code := getJSON(t, env.server.URL+"/api/conversions/"+id+"/chunks?level=1", &resp); code != http.StatusOK {
			t.Fatalf("code = %d", code)
		}
		if len(resp.Chunks) == 0 || resp.Level != 1 {
			t.Errorf("resp = %+v", resp)
		}
		if code := getJSON(t, env.server.URL+"/api/conversions/"+id+"/chunks?level=9", nil); code != http.StatusBadRequest {
			t.Errorf("level=9 code = %d, want 400", code)
		}
	})

	t.Run("usage", func(t *testing.T) {
		var resp UsageResponse
		if code := getJSON(t, env.server.URL+"/api/conversions/"+id+"/usage", &resp); code != http.StatusOK {
			t.Fatalf("code = %d", code)
		}
		rc := resp.ByStage[metrics.StageReconcile]
		if rc.Count == 0 || rc.ErrorCount != 0 || resp.Total.TotalTokens == 0 {
			t.Errorf("usage = %+v", resp.Usage)
		}
		if resp.ByStage[metrics.StageOCR].Count == 0 {
			t.Error("no OCR calls recorded")
		}
	})

	t.Run("cancel finished", func(t *testing.T) {
		resp, err := http.Post(env.server.URL+"/api/conversions/"+id+"/cancel", "application/json", nil)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("code = %d, want 409", resp.StatusCode)
		}
	})

	t.Run("delete", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodDelete, env.server.URL+"/api/conversions/"+id, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("code = %d, want 204", resp.StatusCode)
		}
		if code := getJSON(t, env.server.URL+"/api/conversions/"+id, nil); code != http.StatusNotFound {
			t.Errorf("get after delete = %d, want 404", code)
		}
		if n := len(env.services.Metrics.List(id)); n != 0 {
			t.Errorf("%d metrics left after delete", n)
		}
	})
}

func TestSubmitConversion_Rejects(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		pdf    []byte
		fields map[string]string
	}{
		{"not a pdf", []byte("hello"), nil},
		{"cutoff out of range", testutil.MinimalPDF(1), map[string]string{"heading_cutoff": "7"}},
		{"cutoff not a number", testutil.MinimalPDF(1), map[string]string{"heading_cutoff": "two"}},
		{"unknown renderer", testutil.MinimalPDF(1), map[string]string{"renderer": "ghostscript"}},
		{"bad skip_ocr", testutil.MinimalPDF(1), map[string]string{"skip_ocr": "maybe"}},
		{"bad table_text", testutil.MinimalPDF(1), map[string]string{"table_text": "sometimes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.upload(t, tt.pdf, tt.fields)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				body, _ := io.ReadAll(resp.Body)
				t.Errorf("code = %d, want 400: %s", resp.StatusCode, body)
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		mw.WriteField("heading_cutoff", "1")
		mw.Close()
		resp, err := http.Post(env.server.URL+"/api/conversions", mw.FormDataContentType(), &buf)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("code = %d, want 400", resp.StatusCode)
		}
	})
}

func TestConversion_NotFound(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/conversions/nope", "/api/conversions/nope/result", "/api/conversions/nope/chunks", "/api/conversions/nope/usage"} {
		if code := getJSON(t, env.server.URL+path, nil); code != http.StatusNotFound {
			t.Errorf("%s = %d, want 404", path, code)
		}
	}
}

func TestConversion_RunningAndCancelled(t *testing.T) {
	env := newTestEnv(t)
	env.llm.Latency = time.Minute
	id := env.submit(t, 1)

	if code := getJSON(t, env.server.URL+"/api/conversions/"+id+"/result", nil); code != http.StatusConflict {
		t.Errorf("result while running = %d, want 409", code)
	}

	resp, err := http.Post(env.server.URL+"/api/conversions/"+id+"/cancel", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	var status ConversionResponse
	json.NewDecoder(resp.Body).Decode(&status)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || status.State != store.DocCancelled {
		t.Fatalf("cancel = %d %s", resp.StatusCode, status.State)
	}

	if code := getJSON(t, env.server.URL+"/api/conversions/"+id+"/result", nil); code != http.StatusGone {
		t.Errorf("result after cancel = %d, want 410", code)
	}
}

func TestClientCommands(t *testing.T) {
	env := newTestEnv(t)
	client := api.NewClient(env.server.URL)
	ctx := context.Background()

	var sub SubmitConversionResponse
	if err := client.PostFile(ctx, "/api/conversions", "cli.pdf", testutil.MinimalPDF(1), map[string]string{"heading_cutoff": "2"}, &sub); err != nil {
		t.Fatalf("PostFile() error = %v", err)
	}
	env.wait(t, sub.ID)

	var st ConversionResponse
	if err := client.Get(ctx, "/api/conversions/"+sub.ID, &st); err != nil {
		t.Fatal(err)
	}
	if st.HeadingCutoff != 2 || st.Filename != "cli.pdf" {
		t.Errorf("status = %+v", st.Status)
	}
	if !strings.Contains(st.Text(), "1/1 pages") {
		t.Errorf("Text() = %q", st.Text())
	}

	err := client.Get(ctx, "/api/conversions/missing", &st)
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("err = %v, want 404 api.Error", err)
	}
}

func TestBuildCommands(t *testing.T) {
	registry := api.NewRegistry()
	registry.Register(All()...)
	root := registry.BuildCommands(func() string { return "http://localhost:0" })

	for _, path := range [][]string{
		{"health"},
		{"status"},
		{"conversions", "submit"},
		{"conversions", "result"},
		{"conversions", "cancel"},
		{"conversions", "usage"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not found: %v", path, err)
		}
	}
}
