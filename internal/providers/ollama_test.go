package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaClient_Chat(t *testing.T) {
	t.Run("flattens messages into generate call", func(t *testing.T) {
		var got ollamaGenerateRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/generate" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			json.NewDecoder(r.Body).Decode(&got)
			json.NewEncoder(w).Encode(ollamaGenerateResponse{
				Model:           got.Model,
				Response:        "# Hello\nWorld",
				Done:            true,
				PromptEvalCount: 12,
				EvalCount:       4,
			})
		}))
		defer server.Close()

		client := NewOllamaClient(OllamaConfig{BaseURL: server.URL + "/"})

		result, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{
				{Role: "system", Content: "be precise"},
				{Role: "user", Content: "transcribe", Images: [][]byte{[]byte("png")}},
			},
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}

		if got.System != "be precise" || got.Prompt != "transcribe" {
			t.Errorf("system=%q prompt=%q", got.System, got.Prompt)
		}
		if got.Stream {
			t.Error("stream should be false")
		}
		if len(got.Images) != 1 || got.Images[0] != base64.StdEncoding.EncodeToString([]byte("png")) {
			t.Errorf("images = %v", got.Images)
		}
		if got.Model != ollamaDefaultModel {
			t.Errorf("model = %q, want default", got.Model)
		}
		if result.Content != "# Hello\nWorld" || result.TotalTokens != 16 {
			t.Errorf("result = %+v", result)
		}
	})

	t.Run("error field is transient", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"error": "model is loading"})
		}))
		defer server.Close()

		client := NewOllamaClient(OllamaConfig{BaseURL: server.URL})
		_, err := client.Chat(context.Background(), &ChatRequest{})
		if !IsRetryable(err) {
			t.Errorf("err = %v, want retryable", err)
		}
	})

	t.Run("not found model is fatal", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"model not found"}`))
		}))
		defer server.Close()

		client := NewOllamaClient(OllamaConfig{BaseURL: server.URL})
		_, err := client.Chat(context.Background(), &ChatRequest{})
		var se *StatusError
		if !errors.As(err, &se) || !IsFatal(err) {
			t.Errorf("err = %v, want fatal StatusError", err)
		}
	})
}
