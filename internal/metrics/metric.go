// Package metrics provides usage tracking for OCR and language model calls.
package metrics

import (
	"context"
	"time"
)

// Stages a metric can be attributed to.
const (
	StageOCR       = "ocr"
	StageReconcile = "reconcile"
	StageTables    = "tables"
)

// Metric represents a single recorded OCR or model call.
type Metric struct {
	// Attribution
	DocumentID  string `json:"document_id,omitempty"`
	Stage       string `json:"stage"`
	PageIndex   int    `json:"page_index"`
	RegionIndex int    `json:"region_index"`

	// Provider info
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// Tokens (model calls only)
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`

	ExecutionSeconds float64 `json:"execution_seconds"`

	// Status
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type documentKey struct{}

// WithDocument attributes calls made with the returned context to a
// document.
func WithDocument(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, documentKey{}, id)
}

// DocumentFrom returns the document a context is attributed to.
func DocumentFrom(ctx context.Context) string {
	id, _ := ctx.Value(documentKey{}).(string)
	return id
}
