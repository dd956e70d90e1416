// Package costbook is the static registry of model cost profiles and the
// pure cost-estimation functions the router and orchestrator share. Adapted from internal/llm/cost.Calculator: same
// prefix-fallback pricing lookup, but a missing model resolves to an
// explicit zero-cost estimate rather than an error (spec.md §4.2).
package costbook

import (
	"sort"
	"strings"
	"sync"

	"github.com/aixgo-dev/gateway/internal/gateway/classify"
)

// Capability is a coarse capability tag a model may advertise.
type Capability string

const (
	CapabilityWebSearch  Capability = "web_search"
	CapabilityReasoning  Capability = "reasoning"
	CapabilityCode       Capability = "code"
	CapabilityVision     Capability = "vision"
)

// ModelCostProfile is spec.md's process-lifetime constant registry entry.
type ModelCostProfile struct {
	Provider        string
	Model           string
	InputCostPer1k  float64
	OutputCostPer1k float64
	PerRequestCost  float64
	ContextWindow   int
	MaxOutputTokens int
	SuitableFor     map[classify.Complexity]bool
	Capabilities    map[Capability]bool
}

// CostEstimate is spec.md's immutable, purely-derived estimate.
type CostEstimate struct {
	Provider             string
	Model                string
	EstimatedInputTokens  int
	EstimatedOutputTokens int
	EstimatedCost         float64
	Breakdown             CostBreakdown
}

// CostBreakdown itemizes an estimate so `inputCost + outputCost +
// perRequestCost = estimatedCost` exactly, per spec.md's global invariant.
type CostBreakdown struct {
	InputCost      float64
	OutputCost     float64
	PerRequestCost float64
}

// Book is the registry. Safe for concurrent reads; AddProfile is rare
// (startup-time configuration) and takes a write lock.
type Book struct {
	mu       sync.RWMutex
	profiles map[string]*ModelCostProfile // keyed by "provider/model"
	order    []string                     // insertion order, for deterministic fallback tie-breaks
}

// New returns a Book pre-loaded with the default profile set.
func New() *Book {
	b := &Book{profiles: make(map[string]*ModelCostProfile)}
	for _, p := range defaultProfiles() {
		b.AddProfile(p)
	}
	return b
}

func profileKey(provider, model string) string { return provider + "/" + model }

// AddProfile registers or replaces a model's cost profile.
func (b *Book) AddProfile(p ModelCostProfile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := profileKey(p.Provider, p.Model)
	if _, exists := b.profiles[key]; !exists {
		b.order = append(b.order, key)
	}
	cp := p
	b.profiles[key] = &cp
}

// lookup resolves a profile in priority order: exact (provider, model);
// exact model match against any provider (so callers that only know the
// model name, or pass an empty provider, still resolve); longest-prefix
// match on model within the given provider; then longest-prefix match
// against any provider. Mirrors internal/llm/cost.Calculator's
// GetPricing exact-then-prefix fallback, but keyed by provider too, since
// two providers (gemini, vertexai) can expose a model under the identical
// name with different pricing — the exact (provider, model) case must
// never fall through to the wrong provider's entry.
func (b *Book) lookup(provider, model string) (*ModelCostProfile, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if p, ok := b.profiles[profileKey(provider, model)]; ok {
		cp := *p
		return &cp, true
	}

	type candidate struct {
		key   string
		model string
	}
	var sameProvider, any []candidate
	for key, p := range b.profiles {
		c := candidate{key: key, model: p.Model}
		any = append(any, c)
		if p.Provider == provider {
			sameProvider = append(sameProvider, c)
		}
		if p.Model == model {
			cp := *p
			return &cp, true
		}
	}

	for _, group := range [][]candidate{sameProvider, any} {
		sort.Slice(group, func(i, j int) bool { return len(group[i].model) > len(group[j].model) })
		for _, c := range group {
			if strings.HasPrefix(model, c.model) {
				cp := *b.profiles[c.key]
				return &cp, true
			}
		}
	}
	return nil, false
}

// EstimateCost is spec.md's pure `estimateCost`. A missing model returns a
// zero-cost sentinel estimate, never an error — this is the one deliberate
// deviation from the teacher's Calculator.Calculate, per spec.md §4.2.
func (b *Book) EstimateCost(provider, model string, inTok, outTok int) CostEstimate {
	p, ok := b.lookup(provider, model)
	if !ok {
		return CostEstimate{Provider: provider, Model: model, EstimatedInputTokens: inTok, EstimatedOutputTokens: outTok}
	}
	inputCost := round4(float64(inTok) / 1000 * p.InputCostPer1k)
	outputCost := round4(float64(outTok) / 1000 * p.OutputCostPer1k)
	total := round4(inputCost + outputCost + p.PerRequestCost)
	return CostEstimate{
		Provider:              p.Provider,
		Model:                 p.Model,
		EstimatedInputTokens:  inTok,
		EstimatedOutputTokens: outTok,
		EstimatedCost:         total,
		Breakdown: CostBreakdown{
			InputCost:      inputCost,
			OutputCost:     outputCost,
			PerRequestCost: p.PerRequestCost,
		},
	}
}

// round4 rounds to the nearest tenth of a cent (4 decimal places of USD),
// per spec.md's exactness invariant.
func round4(v float64) float64 {
	const f = 10000.0
	if v < 0 {
		return float64(int64(v*f-0.5)) / f
	}
	return float64(int64(v*f+0.5)) / f
}

// EstimateOutputTokens implements spec.md's literal per-complexity bands.
func EstimateOutputTokens(c classify.Complexity, inTok int) int {
	switch c {
	case classify.ComplexitySimple:
		return clamp(2*inTok, 50, 200)
	case classify.ComplexityMedium:
		return clamp(3*inTok, 200, 800)
	default:
		return clamp(4*inTok, 500, 4000)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ListModelsByCost returns profiles suitable for the complexity, sorted
// ascending by estimated cost for the given token counts.
func (b *Book) ListModelsByCost(c classify.Complexity, inTok, outTok int) []ModelCostProfile {
	b.mu.RLock()
	keys := make([]string, len(b.order))
	copy(keys, b.order)
	b.mu.RUnlock()

	var suitable []ModelCostProfile
	for _, key := range keys {
		b.mu.RLock()
		p, ok := b.profiles[key]
		var pc ModelCostProfile
		if ok {
			pc = *p
		}
		b.mu.RUnlock()
		if !ok || !pc.SuitableFor[c] {
			continue
		}
		suitable = append(suitable, pc)
	}
	sort.SliceStable(suitable, func(i, j int) bool {
		ei := b.EstimateCost(suitable[i].Provider, suitable[i].Model, inTok, outTok).EstimatedCost
		ej := b.EstimateCost(suitable[j].Provider, suitable[j].Model, inTok, outTok).EstimatedCost
		return ei < ej
	})
	return suitable
}

// CheapestModelWithinBudget returns the first ranked entry whose estimated
// cost fits within remaining, or nil if none does.
func (b *Book) CheapestModelWithinBudget(c classify.Complexity, inTok, outTok int, remaining float64) *ModelCostProfile {
	for _, p := range b.ListModelsByCost(c, inTok, outTok) {
		est := b.EstimateCost(p.Provider, p.Model, inTok, outTok)
		if est.EstimatedCost <= remaining {
			pc := p
			return &pc
		}
	}
	return nil
}

func defaultProfiles() []ModelCostProfile {
	all := map[classify.Complexity]bool{classify.ComplexitySimple: true, classify.ComplexityMedium: true, classify.ComplexityComplex: true}
	mc := func(c ...classify.Complexity) map[classify.Complexity]bool {
		m := make(map[classify.Complexity]bool, len(c))
		for _, x := range c {
			m[x] = true
		}
		return m
	}
	caps := func(c ...Capability) map[Capability]bool {
		m := make(map[Capability]bool, len(c))
		for _, x := range c {
			m[x] = true
		}
		return m
	}
	return []ModelCostProfile{
		{Provider: "perplexity", Model: "sonar", InputCostPer1k: 0.001, OutputCostPer1k: 0.001, PerRequestCost: 0.005,
			ContextWindow: 128000, MaxOutputTokens: 4000, SuitableFor: all, Capabilities: caps(CapabilityWebSearch)},
		{Provider: "openai", Model: "gpt-4o-mini", InputCostPer1k: 0.00015, OutputCostPer1k: 0.0006,
			ContextWindow: 128000, MaxOutputTokens: 16384, SuitableFor: mc(classify.ComplexitySimple, classify.ComplexityMedium), Capabilities: caps(CapabilityCode)},
		{Provider: "openai", Model: "gpt-4o", InputCostPer1k: 0.0025, OutputCostPer1k: 0.01,
			ContextWindow: 128000, MaxOutputTokens: 16384, SuitableFor: mc(classify.ComplexityMedium, classify.ComplexityComplex), Capabilities: caps(CapabilityCode, CapabilityVision)},
		{Provider: "openai", Model: "o1-mini", InputCostPer1k: 0.003, OutputCostPer1k: 0.012,
			ContextWindow: 128000, MaxOutputTokens: 65536, SuitableFor: mc(classify.ComplexityComplex), Capabilities: caps(CapabilityReasoning, CapabilityCode)},
		{Provider: "anthropic", Model: "claude-3-5-haiku-20241022", InputCostPer1k: 0.001, OutputCostPer1k: 0.005,
			ContextWindow: 200000, MaxOutputTokens: 8192, SuitableFor: mc(classify.ComplexitySimple, classify.ComplexityMedium), Capabilities: caps()},
		{Provider: "anthropic", Model: "claude-3-5-sonnet-20241022", InputCostPer1k: 0.003, OutputCostPer1k: 0.015,
			ContextWindow: 200000, MaxOutputTokens: 8192, SuitableFor: mc(classify.ComplexityMedium, classify.ComplexityComplex), Capabilities: caps(CapabilityReasoning, CapabilityCode)},
		{Provider: "anthropic", Model: "claude-3-opus-20240229", InputCostPer1k: 0.015, OutputCostPer1k: 0.075,
			ContextWindow: 200000, MaxOutputTokens: 4096, SuitableFor: mc(classify.ComplexityComplex), Capabilities: caps(CapabilityReasoning)},
		{Provider: "ollama", Model: "ollama/llama3.1", InputCostPer1k: 0, OutputCostPer1k: 0,
			ContextWindow: 128000, MaxOutputTokens: 4096, SuitableFor: mc(classify.ComplexitySimple), Capabilities: caps()},
		{Provider: "gemini", Model: "gemini-1.5-flash", InputCostPer1k: 0.000075, OutputCostPer1k: 0.0003,
			ContextWindow: 1000000, MaxOutputTokens: 8192, SuitableFor: mc(classify.ComplexitySimple, classify.ComplexityMedium), Capabilities: caps(CapabilityVision)},
		{Provider: "gemini", Model: "gemini-1.5-pro", InputCostPer1k: 0.00125, OutputCostPer1k: 0.005,
			ContextWindow: 2000000, MaxOutputTokens: 8192, SuitableFor: mc(classify.ComplexityMedium, classify.ComplexityComplex), Capabilities: caps(CapabilityReasoning, CapabilityVision)},
		{Provider: "vertexai", Model: "gemini-1.5-pro", InputCostPer1k: 0.00125, OutputCostPer1k: 0.005,
			ContextWindow: 2000000, MaxOutputTokens: 8192, SuitableFor: mc(classify.ComplexityComplex), Capabilities: caps(CapabilityReasoning, CapabilityVision)},
		{Provider: "xai", Model: "grok-2-latest", InputCostPer1k: 0.002, OutputCostPer1k: 0.01,
			ContextWindow: 131072, MaxOutputTokens: 8192, SuitableFor: mc(classify.ComplexityMedium, classify.ComplexityComplex), Capabilities: caps(CapabilityReasoning)},
	}
}
