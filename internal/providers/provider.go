package providers

import (
	"context"
	"time"
)

// LLMClient is the interface for multimodal chat/completion requests.
type LLMClient interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error)

	// Name returns the client identifier (e.g., "openrouter").
	Name() string

	// RequestsPerSecond returns the rate limit callers should respect.
	RequestsPerSecond() float64
}

// OCRProvider handles image-to-text extraction.
// Separate from LLM because it has different rate limiting
// and result handling (plain text with boxes vs free-form responses).
type OCRProvider interface {
	// Name returns the provider identifier (e.g., "tesseract", "mistral-ocr").
	Name() string

	// ProcessImage extracts text from a PNG-encoded image.
	ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error)

	// RequestsPerSecond returns the rate limit callers should respect.
	RequestsPerSecond() float64
}

// Message represents a chat message.
type Message struct {
	Role    string   `json:"role"` // "system", "user", "assistant"
	Content string   `json:"content"`
	Images  [][]byte `json:"-"` // PNG bytes for vision models (base64 encoded in request)
}

// ChatRequest is a request to an LLM.
type ChatRequest struct {
	// Required
	Messages []Message `json:"messages"`

	// Model selection (uses client default if empty)
	Model string `json:"model,omitempty"`

	// Generation parameters
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	// Request tracking
	RequestID string `json:"-"`
}

// ChatResult is the complete response from an LLM call.
type ChatResult struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason,omitempty"`

	// Token counts
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	ExecutionTime time.Duration `json:"execution_time"`

	// Provider info
	Provider  string `json:"provider"`
	ModelUsed string `json:"model_used"`

	RequestID string `json:"request_id"`
}

// OCRBlock is one recognised block of text with its bounding box in
// image pixel coordinates.
type OCRBlock struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"` // 0..1
	X0         int     `json:"x0"`
	Y0         int     `json:"y0"`
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
}

// OCRResult is the response from an OCR provider.
type OCRResult struct {
	Text       string     `json:"text"`
	Confidence float64    `json:"confidence"` // Mean block confidence, 0..1
	Blocks     []OCRBlock `json:"blocks,omitempty"`

	// Metadata from provider (dimensions, model, etc.)
	Metadata map[string]any `json:"metadata,omitempty"`

	ExecutionTime time.Duration `json:"execution_time"`
}
