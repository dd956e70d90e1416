package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicProvider_Name(t *testing.T) {
	p := NewAnthropicProvider("test-key", "claude-3-5-sonnet-latest")
	if p.Name() != "anthropic" {
		t.Errorf("Name() = %q, want %q", p.Name(), "anthropic")
	}
}

func TestAnthropicProvider_CreateCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Method = %q, want POST", r.Method)
		}
		if r.URL.Path != "/messages" {
			t.Errorf("Path = %q, want /messages", r.URL.Path)
		}
		if key := r.Header.Get("x-api-key"); key != "test-key" {
			t.Errorf("x-api-key = %q, want test-key", key)
		}
		if v := r.Header.Get("anthropic-version"); v != anthropicAPIVersion {
			t.Errorf("anthropic-version = %q, want %q", v, anthropicAPIVersion)
		}

		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.System != "be concise" {
			t.Errorf("System = %q, want %q", req.System, "be concise")
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Fatalf("Messages = %+v, want one user message", req.Messages)
		}

		resp := anthropicResponse{
			StopReason: "end_turn",
		}
		resp.Content = []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{{Type: "text", Text: "hello from claude"}}
		resp.Usage.InputTokens = 12
		resp.Usage.OutputTokens = 4

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := NewAnthropicProviderWithBaseURL("test-key", "claude-3-5-sonnet-latest", server.URL)

	resp, err := p.CreateCompletion(context.Background(), CompletionRequest{
		Messages: []Message{
			{Role: "system", Content: "be concise"},
			{Role: "user", Content: "hi"},
		},
	})
	if err != nil {
		t.Fatalf("CreateCompletion() error = %v", err)
	}
	if resp.Content != "hello from claude" {
		t.Errorf("Content = %q, want %q", resp.Content, "hello from claude")
	}
	if resp.Usage.TotalTokens != 16 {
		t.Errorf("TotalTokens = %d, want 16", resp.Usage.TotalTokens)
	}
}

func TestAnthropicProvider_ErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"type": "rate_limit_error", "message": "slow down"},
		})
	}))
	defer server.Close()

	p := NewAnthropicProviderWithBaseURL("test-key", "claude-3-5-sonnet-latest", server.URL)

	_, err := p.CreateCompletion(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	perr, ok := err.(*ProviderError)
	if !ok {
		t.Fatalf("error type = %T, want *ProviderError", err)
	}
	if perr.Code != ErrorCodeRateLimit || !perr.IsRetryable {
		t.Errorf("Code = %q IsRetryable = %v, want rate_limit_exceeded/true", perr.Code, perr.IsRetryable)
	}
}

func TestAnthropicProvider_CreateStreamingUnsupported(t *testing.T) {
	p := NewAnthropicProvider("test-key", "claude-3-5-sonnet-latest")
	if _, err := p.CreateStreaming(context.Background(), CompletionRequest{}); err == nil {
		t.Fatal("expected an error for unsupported streaming")
	}
}
