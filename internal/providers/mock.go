package providers

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

const MockClientName = "mock"

// MockClient is an LLMClient for testing.
type MockClient struct {
	// Configurable behavior
	Latency      time.Duration
	ShouldFail   bool
	FailWith     error // Returned when ShouldFail is set (default: a 503 StatusError)
	FailAfter    int   // Fail after N requests (0 = never)
	ResponseText string
	RPS          float64

	// Respond, when set, replaces the canned behaviour above.
	Respond func(ctx context.Context, req *ChatRequest) (*ChatResult, error)

	requestCount atomic.Int64
}

// NewMockClient creates a new mock client with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		Latency:      10 * time.Millisecond,
		ResponseText: "mock response",
	}
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return MockClientName
}

// RequestsPerSecond returns the rate limit. Zero means unlimited.
func (c *MockClient) RequestsPerSecond() float64 {
	return c.RPS
}

// Chat sends a mock chat request.
func (c *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	count := c.requestCount.Add(1)

	if c.Respond != nil {
		return c.Respond(ctx, req)
	}

	if c.ShouldFail || (c.FailAfter > 0 && int(count) > c.FailAfter) {
		if c.FailWith != nil {
			return nil, c.FailWith
		}
		return nil, &StatusError{Provider: MockClientName, StatusCode: 503, Message: "mock client configured to fail"}
	}

	select {
	case <-time.After(c.Latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	promptTokens := 0
	for _, m := range req.Messages {
		promptTokens += len(m.Content) / 4 // Rough estimate
	}
	completionTokens := len(c.ResponseText) / 4

	return &ChatResult{
		Content:          c.ResponseText,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		ExecutionTime:    time.Since(start),
		Provider:         MockClientName,
		ModelUsed:        req.Model,
		RequestID:        fmt.Sprintf("mock-%d", count),
	}, nil
}

// RequestCount returns the number of requests made.
func (c *MockClient) RequestCount() int64 {
	return c.requestCount.Load()
}

// Reset resets the request counter.
func (c *MockClient) Reset() {
	c.requestCount.Store(0)
}

// Verify interface
var _ LLMClient = (*MockClient)(nil)

// MockOCRProvider is an OCRProvider for testing.
type MockOCRProvider struct {
	ProviderName string
	Latency      time.Duration
	ShouldFail   bool
	FailWith     error
	FailAfter    int
	ResponseText string
	Confidence   float64
	RPS          float64

	// Respond, when set, replaces the canned behaviour above.
	Respond func(ctx context.Context, image []byte, pageNum int) (*OCRResult, error)

	requestCount atomic.Int64
}

// NewMockOCRProvider creates a new mock OCR provider.
func NewMockOCRProvider() *MockOCRProvider {
	return &MockOCRProvider{
		ProviderName: "mock-ocr",
		Latency:      10 * time.Millisecond,
		ResponseText: "mock OCR text",
		Confidence:   0.9,
	}
}

// Name returns the provider identifier.
func (p *MockOCRProvider) Name() string {
	return p.ProviderName
}

// RequestsPerSecond returns the rate limit. Zero means unlimited.
func (p *MockOCRProvider) RequestsPerSecond() float64 {
	return p.RPS
}

// ProcessImage extracts text from an image.
func (p *MockOCRProvider) ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error) {
	start := time.Now()
	count := p.requestCount.Add(1)

	if p.Respond != nil {
		return p.Respond(ctx, image, pageNum)
	}

	if p.ShouldFail || (p.FailAfter > 0 && int(count) > p.FailAfter) {
		if p.FailWith != nil {
			return nil, p.FailWith
		}
		return nil, fmt.Errorf("mock OCR provider: %w", ErrEngineCrashed)
	}

	select {
	case <-time.After(p.Latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return &OCRResult{
		Text:          p.ResponseText,
		Confidence:    p.Confidence,
		Blocks:        []OCRBlock{{Text: p.ResponseText, Confidence: p.Confidence}},
		ExecutionTime: time.Since(start),
		Metadata: map[string]any{
			"page_num":    pageNum,
			"provider":    p.ProviderName,
			"image_bytes": len(image),
		},
	}, nil
}

// RequestCount returns the number of requests made.
func (p *MockOCRProvider) RequestCount() int64 {
	return p.requestCount.Load()
}

// Reset resets the request counter.
func (p *MockOCRProvider) Reset() {
	p.requestCount.Store(0)
}

// Verify interface
var _ OCRProvider = (*MockOCRProvider)(nil)
