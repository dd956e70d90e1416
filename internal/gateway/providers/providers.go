// Package providers adapts internal/llm/provider's LLM clients to the
// orchestrator.ProviderCaller seam, so ProcessQuery can drive real
// completions instead of a test double. Grounded on cmd/aixgo/main.go's
// registry-driven construction: one provider.Provider instance per name,
// resolved once at startup and reused across requests.
package providers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aixgo-dev/gateway/internal/gateway/quality"
	"github.com/aixgo-dev/gateway/internal/llm/provider"
	"github.com/aixgo-dev/gateway/pkg/config"
)

// searchProviders marks providers whose responses carry citations,
// matching quality.Response.IsSearchProvider's effect on the grounding
// signal.
var searchProviders = map[string]bool{
	"perplexity": true,
}

// Caller implements orchestrator.ProviderCaller over a set of named
// provider.Provider instances.
type Caller struct {
	providers map[string]provider.Provider

	mu    sync.Mutex
	stats map[string]*callStats
}

// callStats accumulates the figures GET /api/health reports per
// provider: whether it is configured (live), whether its most recent call
// succeeded (healthy), its last observed latency, and its success rate
// over calls made since startup.
type callStats struct {
	calls       int64
	successes   int64
	lastLatency time.Duration
	lastHealthy bool
}

// Status is one entry of GET /api/health's `providers` map.
type Status struct {
	Live        bool    `json:"live"`
	Healthy     bool    `json:"healthy"`
	LatencyMs   int64   `json:"latencyMs"`
	SuccessRate float64 `json:"successRate"`
}

// New builds a Caller from the gateway's provider configuration, using
// each provider's RegisterFactory-registered constructor. A provider
// missing its credentials is skipped rather than failing startup, so the
// gateway still runs against whichever providers are actually configured.
func New(cfg config.ProvidersConfig) (*Caller, error) {
	c := &Caller{providers: make(map[string]provider.Provider), stats: make(map[string]*callStats)}

	specs := []struct {
		name   string
		config map[string]any
	}{
		{"openai", map[string]any{"api_key": cfg.OpenAIKey}},
		{"anthropic", map[string]any{"api_key": cfg.AnthropicKey}},
		{"perplexity", map[string]any{"api_key": cfg.PerplexityKey}},
		{"ollama", map[string]any{"base_url": cfg.OllamaBaseURL}},
		{"gemini", map[string]any{"api_key": cfg.GeminiKey}},
		{"xai", map[string]any{"api_key": cfg.XAIKey}},
		// vertexai authenticates via Application Default Credentials
		// (GOOGLE_CLOUD_PROJECT/VERTEX_AI_LOCATION env vars), not a config key.
		{"vertexai", map[string]any{}},
	}

	for _, s := range specs {
		p, err := provider.NewFromFactory(s.name, s.config)
		if err != nil {
			continue
		}
		c.providers[s.name] = p
	}

	if len(c.providers) == 0 {
		return nil, fmt.Errorf("providers: no provider configured (set at least one API key)")
	}
	return c, nil
}

// Register adds or replaces a provider instance directly, bypassing the
// factory registry. Used by tests and by callers wiring a custom Provider.
func (c *Caller) Register(name string, p provider.Provider) {
	c.providers[name] = p
	if c.stats == nil {
		c.stats = make(map[string]*callStats)
	}
}

// Call implements orchestrator.ProviderCaller.
func (c *Caller) Call(ctx context.Context, providerName, model, query string) (quality.Response, error) {
	p, ok := c.providers[providerName]
	if !ok {
		return quality.Response{}, fmt.Errorf("providers: %s not configured", providerName)
	}

	start := time.Now()
	resp, err := p.CreateCompletion(ctx, provider.CompletionRequest{
		Messages: []provider.Message{{Role: "user", Content: query}},
		Model:    model,
	})
	c.recordCall(providerName, time.Since(start), err == nil)
	if err != nil {
		return quality.Response{}, err
	}

	return quality.Response{
		Content:          resp.Content,
		Provider:         providerName,
		IsSearchProvider: searchProviders[providerName],
		InputTokens:      resp.Usage.PromptTokens,
		OutputTokens:     resp.Usage.CompletionTokens,
		LatencyMs:        time.Since(start).Milliseconds(),
	}, nil
}

func (c *Caller) recordCall(providerName string, latency time.Duration, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stats == nil {
		c.stats = make(map[string]*callStats)
	}
	s, ok := c.stats[providerName]
	if !ok {
		s = &callStats{}
		c.stats[providerName] = s
	}
	s.calls++
	if success {
		s.successes++
	}
	s.lastLatency = latency
	s.lastHealthy = success
}

// ProviderStatus reports GET /api/health's per-provider block: `live` is
// true for every configured adapter, `healthy` reflects the outcome of its
// most recent call (true until a call has actually been made), and
// `successRate` is the fraction of calls that succeeded since startup.
func (c *Caller) ProviderStatus() map[string]Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]Status, len(c.providers))
	for name := range c.providers {
		s, ok := c.stats[name]
		if !ok || s.calls == 0 {
			out[name] = Status{Live: true, Healthy: true, SuccessRate: 1}
			continue
		}
		out[name] = Status{
			Live:        true,
			Healthy:     s.lastHealthy,
			LatencyMs:   s.lastLatency.Milliseconds(),
			SuccessRate: float64(s.successes) / float64(s.calls),
		}
	}
	return out
}
