package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMockClient(t *testing.T) {
	t.Run("chat", func(t *testing.T) {
		c := NewMockClient()
		c.ResponseText = "hello world"

		result, err := c.Chat(context.Background(), &ChatRequest{
			Model:    "test-model",
			Messages: []Message{{Role: "user", Content: "test"}},
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if result.Content != "hello world" {
			t.Errorf("Content = %q, want %q", result.Content, "hello world")
		}
		if c.RequestCount() != 1 {
			t.Errorf("RequestCount = %d, want 1", c.RequestCount())
		}
	})

	t.Run("failure is retryable by default", func(t *testing.T) {
		c := NewMockClient()
		c.ShouldFail = true

		_, err := c.Chat(context.Background(), &ChatRequest{})
		if err == nil {
			t.Fatal("expected error")
		}
		if !IsRetryable(err) {
			t.Errorf("IsRetryable(%v) = false, want true", err)
		}
	})

	t.Run("fail after N", func(t *testing.T) {
		c := NewMockClient()
		c.Latency = 0
		c.FailAfter = 2

		for i := 0; i < 2; i++ {
			if _, err := c.Chat(context.Background(), &ChatRequest{}); err != nil {
				t.Fatalf("request %d: unexpected error %v", i, err)
			}
		}
		if _, err := c.Chat(context.Background(), &ChatRequest{}); err == nil {
			t.Error("expected third request to fail")
		}
	})

	t.Run("respond hook", func(t *testing.T) {
		c := NewMockClient()
		c.Respond = func(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
			return &ChatResult{Content: req.Messages[0].Content + "!"}, nil
		}

		result, err := c.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if result.Content != "hi!" {
			t.Errorf("Content = %q, want %q", result.Content, "hi!")
		}
	})

	t.Run("respects cancellation", func(t *testing.T) {
		c := NewMockClient()
		c.Latency = time.Second

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := c.Chat(ctx, &ChatRequest{}); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}

func TestMockOCRProvider(t *testing.T) {
	t.Run("process image", func(t *testing.T) {
		p := NewMockOCRProvider()
		p.ResponseText = "Hello World"

		result, err := p.ProcessImage(context.Background(), []byte("img"), 3)
		if err != nil {
			t.Fatalf("ProcessImage() error = %v", err)
		}
		if result.Text != "Hello World" {
			t.Errorf("Text = %q", result.Text)
		}
		if result.Metadata["page_num"] != 3 {
			t.Errorf("page_num = %v, want 3", result.Metadata["page_num"])
		}
	})

	t.Run("default failure is an engine crash", func(t *testing.T) {
		p := NewMockOCRProvider()
		p.ShouldFail = true

		_, err := p.ProcessImage(context.Background(), nil, 0)
		if !errors.Is(err, ErrEngineCrashed) {
			t.Errorf("err = %v, want ErrEngineCrashed", err)
		}
	})
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		fatal     bool
	}{
		{"nil", nil, false, false},
		{"rate limited", &StatusError{StatusCode: 429}, true, false},
		{"server error", &StatusError{StatusCode: 503}, true, false},
		{"request timeout", &StatusError{StatusCode: 408}, true, false},
		{"cloudflare", &StatusError{StatusCode: 524}, true, false},
		{"bad request", &StatusError{StatusCode: 400}, false, true},
		{"unsupported media", &StatusError{StatusCode: 415}, false, true},
		{"wrapped status", fmt.Errorf("call: %w", &StatusError{StatusCode: 502}), true, false},
		{"unsupported image", fmt.Errorf("decode: %w", ErrUnsupportedImage), false, true},
		{"malformed", ErrMalformedResponse, false, true},
		{"engine crash", ErrEngineCrashed, true, false},
		{"deadline", context.DeadlineExceeded, true, false},
		{"net timeout", fmt.Errorf("request failed: %w", timeoutErr{}), true, false},
		{"unknown", errors.New("something odd"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal() = %v, want %v", got, tt.fatal)
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	t.Run("allows burst", func(t *testing.T) {
		rl := NewRateLimiter(5)
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			if err := rl.Wait(ctx); err != nil {
				t.Fatalf("Wait() error = %v", err)
			}
		}
		if rl.TryConsume() {
			t.Error("TryConsume() = true after burst exhausted")
		}
	})

	t.Run("status", func(t *testing.T) {
		rl := NewRateLimiter(10)
		rl.TryConsume()

		status := rl.Status()
		if status.TokensLimit != 10 {
			t.Errorf("TokensLimit = %d, want 10", status.TokensLimit)
		}
		if status.TotalConsumed != 1 {
			t.Errorf("TotalConsumed = %d, want 1", status.TotalConsumed)
		}
	})

	t.Run("record 429 drains bucket", func(t *testing.T) {
		rl := NewRateLimiter(1)
		rl.Record429()

		if rl.TryConsume() {
			t.Error("TryConsume() = true after Record429")
		}
		if rl.Status().Last429Time.IsZero() {
			t.Error("Last429Time not set")
		}
	})

	t.Run("zero rps is unlimited", func(t *testing.T) {
		rl := NewRateLimiter(0)
		for i := 0; i < 100; i++ {
			if !rl.TryConsume() {
				t.Fatalf("TryConsume() = false at %d", i)
			}
		}
	})

	t.Run("nil limiter is unlimited", func(t *testing.T) {
		var rl *RateLimiter
		if err := rl.Wait(context.Background()); err != nil {
			t.Errorf("Wait() error = %v", err)
		}
	})

	t.Run("respects cancellation", func(t *testing.T) {
		rl := NewRateLimiter(0.01)
		rl.TryConsume()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Wait() error = %v, want DeadlineExceeded", err)
		}
	})

	t.Run("concurrent requests", func(t *testing.T) {
		rl := NewRateLimiter(20)
		var consumed atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if rl.TryConsume() {
					consumed.Add(1)
				}
			}()
		}
		wg.Wait()
		if got := consumed.Load(); got < 20 || got > 21 {
			t.Errorf("consumed = %d, want ~20", got)
		}
	})
}

func TestTestConfig(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "or-key")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("MISTRAL_API_KEY", "")
	t.Setenv("OLLAMA_URL", "http://localhost:11434")

	cfg := LoadTestConfig()
	if !cfg.HasAnyLLM() {
		t.Fatal("HasAnyLLM() = false")
	}

	rc := cfg.ToRegistryConfig()
	if _, ok := rc.LLMProviders[OpenRouterName]; !ok {
		t.Error("openrouter missing from registry config")
	}
	if _, ok := rc.LLMProviders[OllamaName]; !ok {
		t.Error("ollama missing from registry config")
	}
	if len(rc.OCRProviders) != 0 {
		t.Errorf("OCRProviders = %v, want empty", rc.OCRProviders)
	}
}
