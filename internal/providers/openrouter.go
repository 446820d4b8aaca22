package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	OpenRouterName    = "openrouter"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"

	openRouterDefaultModel = "mistralai/mistral-small-3.1-24b-instruct"
)

// OpenRouterConfig holds configuration for the OpenRouter client.
type OpenRouterConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	RPS          float64 // Requests per second (default: 150)
	HTTPClient   *http.Client
}

// OpenRouterClient implements LLMClient using the OpenRouter API.
// It performs exactly one HTTP call per Chat; retries belong to the caller.
type OpenRouterClient struct {
	apiKey       string
	baseURL      string
	defaultModel string
	rps          float64
	client       *http.Client
}

// NewOpenRouterClient creates a new OpenRouter client.
func NewOpenRouterClient(cfg OpenRouterConfig) *OpenRouterClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OpenRouterBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = openRouterDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.RPS == 0 {
		cfg.RPS = 150.0
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenRouterClient{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		defaultModel: cfg.DefaultModel,
		rps:          cfg.RPS,
		client:       httpClient,
	}
}

// Name returns the client identifier.
func (c *OpenRouterClient) Name() string {
	return OpenRouterName
}

// RequestsPerSecond returns the RPS limit for rate limiting.
func (c *OpenRouterClient) RequestsPerSecond() float64 {
	return c.rps
}

// Chat sends a chat completion request.
func (c *OpenRouterClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	orReq := openRouterRequest{
		Model:       model,
		Messages:    make([]openRouterMessage, 0, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	for _, m := range req.Messages {
		orMsg := openRouterMessage{Role: m.Role}

		if len(m.Images) > 0 {
			content := []openRouterContent{
				{Type: "text", Text: m.Content},
			}
			for _, img := range m.Images {
				content = append(content, openRouterContent{
					Type: "image_url",
					ImageURL: &openRouterImageURL{
						URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(img),
					},
				})
			}
			orMsg.Content = content
		} else {
			orMsg.Content = m.Content
		}

		orReq.Messages = append(orReq.Messages, orMsg)
	}

	orResp, err := c.doRequest(ctx, "/chat/completions", &orReq)
	if err != nil {
		return nil, err
	}

	if orResp.Error != nil {
		return nil, &StatusError{
			Provider:   OpenRouterName,
			StatusCode: openRouterErrorStatus(orResp.Error.Code),
			Message:    orResp.Error.Message,
		}
	}
	if len(orResp.Choices) == 0 {
		// Empty choices on a 200 is transient on OpenRouter.
		return nil, &StatusError{
			Provider:   OpenRouterName,
			StatusCode: http.StatusBadGateway,
			Message:    fmt.Sprintf("empty choices in response (model=%s, id=%s)", orResp.Model, orResp.ID),
		}
	}

	content, err := openRouterText(orResp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	return &ChatResult{
		Content:          content,
		FinishReason:     orResp.Choices[0].FinishReason,
		PromptTokens:     orResp.Usage.PromptTokens,
		CompletionTokens: orResp.Usage.CompletionTokens,
		TotalTokens:      orResp.Usage.TotalTokens,
		ExecutionTime:    elapsed,
		Provider:         OpenRouterName,
		ModelUsed:        orResp.Model,
		RequestID:        requestID,
	}, nil
}

// doRequest posts body to path and decodes the response.
func (c *OpenRouterClient) doRequest(ctx context.Context, path string, body *openRouterRequest) (*openRouterResponse, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", "https://github.com/jackzampolin/pdfmark")
	req.Header.Set("X-Title", "pdfmark")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Provider: OpenRouterName, StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var orResp openRouterResponse
	if err := json.Unmarshal(respBody, &orResp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return &orResp, nil
}

// openRouterText extracts plain text from a message content that is either
// a string or a list of typed parts.
func openRouterText(content any) (string, error) {
	switch v := content.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []any:
		var buf bytes.Buffer
		for _, part := range v {
			m, ok := part.(map[string]any)
			if !ok {
				return "", fmt.Errorf("%w: unexpected content part %T", ErrMalformedResponse, part)
			}
			if text, ok := m["text"].(string); ok {
				buf.WriteString(text)
			}
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: unexpected content type %T", ErrMalformedResponse, content)
	}
}

// openRouterErrorStatus maps an in-body error code onto an HTTP status so
// StatusError can classify it.
func openRouterErrorStatus(code any) int {
	switch v := code.(type) {
	case float64:
		return int(v)
	case string:
		switch v {
		case "overloaded", "503":
			return http.StatusServiceUnavailable
		case "rate_limit_exceeded":
			return http.StatusTooManyRequests
		case "502":
			return http.StatusBadGateway
		case "500":
			return http.StatusInternalServerError
		}
	}
	return http.StatusBadRequest
}

// OpenRouter API types

type openRouterRequest struct {
	Model       string              `json:"model"`
	Messages    []openRouterMessage `json:"messages"`
	Temperature float64             `json:"temperature,omitempty"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []openRouterContent
}

type openRouterContent struct {
	Type     string              `json:"type"`
	Text     string              `json:"text,omitempty"`
	ImageURL *openRouterImageURL `json:"image_url,omitempty"`
}

type openRouterImageURL struct {
	URL string `json:"url"`
}

type openRouterResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Verify interface
var _ LLMClient = (*OpenRouterClient)(nil)
