package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	OllamaName    = "ollama"
	OllamaBaseURL = "http://localhost:11434"

	ollamaDefaultModel = "mistral-small3.1"
)

// OllamaConfig holds configuration for a locally served Ollama model.
type OllamaConfig struct {
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	RPS          float64 // Requests per second (default: 1, local models are slow)
	HTTPClient   *http.Client
}

// OllamaClient implements LLMClient against Ollama's /api/generate endpoint.
type OllamaClient struct {
	baseURL      string
	defaultModel string
	rps          float64
	client       *http.Client
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OllamaBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = ollamaDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.RPS == 0 {
		cfg.RPS = 1.0
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OllamaClient{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		defaultModel: cfg.DefaultModel,
		rps:          cfg.RPS,
		client:       httpClient,
	}
}

// Name returns the client identifier.
func (c *OllamaClient) Name() string {
	return OllamaName
}

// RequestsPerSecond returns the RPS limit for rate limiting.
func (c *OllamaClient) RequestsPerSecond() float64 {
	return c.rps
}

// Chat flattens the conversation into Ollama's single-prompt generate call.
// System messages become the system field, other messages are joined in order
// and all attached images are forwarded.
func (c *OllamaClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	genReq := ollamaGenerateRequest{
		Model:  model,
		Stream: false,
	}
	var system, prompt []string
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		prompt = append(prompt, m.Content)
		for _, img := range m.Images {
			genReq.Images = append(genReq.Images, base64.StdEncoding.EncodeToString(img))
		}
	}
	genReq.System = strings.Join(system, "\n\n")
	genReq.Prompt = strings.Join(prompt, "\n\n")
	if req.Temperature > 0 || req.MaxTokens > 0 {
		genReq.Options = &ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens}
	}

	bodyBytes, err := json.Marshal(genReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Provider: OllamaName, StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var genResp ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if genResp.Error != "" {
		return nil, &StatusError{Provider: OllamaName, StatusCode: http.StatusInternalServerError, Message: genResp.Error}
	}

	return &ChatResult{
		Content:          genResp.Response,
		FinishReason:     genResp.DoneReason,
		PromptTokens:     genResp.PromptEvalCount,
		CompletionTokens: genResp.EvalCount,
		TotalTokens:      genResp.PromptEvalCount + genResp.EvalCount,
		ExecutionTime:    time.Since(start),
		Provider:         OllamaName,
		ModelUsed:        genResp.Model,
		RequestID:        requestID,
	}, nil
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Images  []string       `json:"images,omitempty"`
	Stream  bool           `json:"stream"`
	Options *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaGenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error,omitempty"`
}

// Verify interface
var _ LLMClient = (*OllamaClient)(nil)
