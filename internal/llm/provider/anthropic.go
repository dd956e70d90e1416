package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	anthropicBaseURL     = "https://api.anthropic.com/v1"
	anthropicAPIVersion  = "2023-06-01"
	anthropicDefaultMax  = 4096
)

func init() {
	RegisterFactory("anthropic", func(config map[string]any) (Provider, error) {
		apiKey := ""
		if key, ok := config["api_key"].(string); ok {
			apiKey = key
		}
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}

		model := "claude-3-5-sonnet-latest"
		if m, ok := config["model"].(string); ok && m != "" {
			model = m
		}

		return NewAnthropicProvider(apiKey, model), nil
	})
}

// AnthropicProvider implements Provider for Anthropic's Messages API.
// Grounded on the Messages API request/response shape used by a
// reference agent's internal/llm/anthropic.go, adapted to this package's
// Provider/CompletionRequest/CompletionResponse contract.
type AnthropicProvider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	return NewAnthropicProviderWithBaseURL(apiKey, model, anthropicBaseURL)
}

// NewAnthropicProviderWithBaseURL creates a new Anthropic provider against
// a custom base URL, letting tests point it at an httptest server.
func NewAnthropicProviderWithBaseURL(apiKey, model, baseURL string) *AnthropicProvider {
	if model == "" {
		model = "claude-3-5-sonnet-latest"
	}
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	return &AnthropicProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// CreateCompletion implements Provider.
func (p *AnthropicProvider) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages, system := splitSystemMessage(req.Messages)
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = anthropicDefaultMax
	}

	areq := anthropicRequest{Model: model, Messages: messages, System: system, MaxTokens: maxTokens}
	body, err := json.Marshal(areq)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewProviderError("anthropic", ErrorCodeTimeout, err.Error(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, p.handleErrorResponse(resp)
	}

	var aresp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&aresp); err != nil {
		return nil, err
	}
	return p.parseResponse(&aresp)
}

// CreateStructured implements Provider by requesting a response and
// treating its content as the structured payload; Anthropic's Messages
// API has no native JSON-schema response-format parameter.
func (p *AnthropicProvider) CreateStructured(ctx context.Context, req StructuredRequest) (*StructuredResponse, error) {
	comp, err := p.CreateCompletion(ctx, req.CompletionRequest)
	if err != nil {
		return nil, err
	}
	return &StructuredResponse{Data: json.RawMessage(comp.Content), CompletionResponse: *comp}, nil
}

// CreateStreaming is not implemented for Anthropic in the gateway: the
// cascade/cost-accounting pipeline only ever issues single-shot calls.
func (p *AnthropicProvider) CreateStreaming(ctx context.Context, req CompletionRequest) (Stream, error) {
	return nil, NewProviderError("anthropic", ErrorCodeInvalidRequest, "streaming not supported", nil)
}

func (p *AnthropicProvider) handleErrorResponse(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	var aresp anthropicResponse
	if err := json.Unmarshal(data, &aresp); err == nil && aresp.Error != nil {
		code := ErrorCodeUnknown
		switch resp.StatusCode {
		case 401:
			code = ErrorCodeAuthentication
		case 429:
			code = ErrorCodeRateLimit
		case 400:
			code = ErrorCodeInvalidRequest
		default:
			if resp.StatusCode >= 500 {
				code = ErrorCodeServerError
			}
		}
		return &ProviderError{
			Provider:    "anthropic",
			Code:        code,
			Message:     aresp.Error.Message,
			Type:        aresp.Error.Type,
			StatusCode:  resp.StatusCode,
			IsRetryable: code == ErrorCodeRateLimit || code == ErrorCodeServerError,
		}
	}
	return NewProviderError("anthropic", ErrorCodeUnknown, string(data), nil)
}

func (p *AnthropicProvider) parseResponse(resp *anthropicResponse) (*CompletionResponse, error) {
	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	return &CompletionResponse{
		Content:      content,
		FinishReason: resp.StopReason,
		Usage: Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		Raw: resp,
	}, nil
}

// splitSystemMessage pulls system-role messages out into Anthropic's
// separate `system` field, mirroring the Messages API's shape.
func splitSystemMessage(messages []Message) ([]anthropicMessage, string) {
	var system string
	out := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		out = append(out, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	return out, system
}
