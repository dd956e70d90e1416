// Package router resolves a classified query and budget state into a
// RoutingDecision: the strategy (priority/cost-optimized/cascade/
// emergency) and, for cascade, the ordered chain of steps to try. Grounded
// on internal/orchestration/router.go's classify-then-dispatch shape,
// generalized from agent routing to model routing, and on
// other_examples' clawinfra-evoclaw router's tier-threshold gating for the
// cascade chain (spec.md §4.6).
package router

import (
	"github.com/aixgo-dev/gateway/internal/gateway/classify"
	"github.com/aixgo-dev/gateway/internal/gateway/costbook"
)

// Strategy names which algorithm produced a RoutingDecision.
type Strategy string

const (
	StrategyPriority      Strategy = "priority"
	StrategyCostOptimized Strategy = "cost-optimized"
	StrategyCascade       Strategy = "cascade"
	StrategyEmergency     Strategy = "emergency"
)

// CascadeStep is spec.md's immutable chain entry.
type CascadeStep struct {
	Provider        string
	Model           string
	QualityThreshold float64
	MaxCost         float64
}

// Decision is spec.md's RoutingDecision.
type Decision struct {
	Provider      string
	Model         string
	Strategy      Strategy
	Reason        string
	EstimatedCost float64
	CascadeChain  []CascadeStep // non-empty only for StrategyCascade
	EmergencyMode bool
}

// BudgetState is the narrow slice of budget.Tracker the router needs,
// defined here (not imported from package budget) to keep router
// dependency-light and independently testable.
type BudgetState struct {
	EmergencyActive bool
	DailyRemaining  float64
	IsProviderDisabled func(provider string) bool
}

// DefaultCascadeMinQuality is spec.md §6's routing.cascadeMinQuality default.
const DefaultCascadeMinQuality = 7.0

// Route resolves a RoutingDecision, spec.md §4.6. override, when non-empty,
// forces a strategy other than the emergency/default resolution.
func Route(book *costbook.Book, q classify.ClassifiedQuery, budget BudgetState, override Strategy) Decision {
	strategy := resolveStrategy(budget, override)

	var d Decision
	switch strategy {
	case StrategyPriority:
		d = priorityDecision(book, q)
	case StrategyCostOptimized:
		d = costOptimizedDecision(book, q)
	case StrategyEmergency:
		d = emergencyDecision(book, q, budget)
	default:
		d = cascadeDecision(book, q)
	}
	d.Strategy = strategy

	if strategy != StrategyEmergency && budget.IsProviderDisabled != nil && budget.IsProviderDisabled(d.Provider) {
		d = emergencyDecision(book, q, budget)
		d.Strategy = StrategyEmergency
	}
	d.EmergencyMode = budget.EmergencyActive

	outTok := costbook.EstimateOutputTokens(q.Complexity, q.EstimatedTokens)
	d.EstimatedCost = book.EstimateCost(d.Provider, d.Model, q.EstimatedTokens, outTok).EstimatedCost
	return d
}

func resolveStrategy(budget BudgetState, override Strategy) Strategy {
	if budget.EmergencyActive {
		return StrategyEmergency
	}
	if override != "" {
		return override
	}
	return StrategyCascade
}

// priorityDecision implements spec.md's branching table.
func priorityDecision(book *costbook.Book, q classify.ClassifiedQuery) Decision {
	var capability costbook.Capability
	switch {
	case q.IsRealtime || q.Intent == classify.IntentSearch:
		capability = costbook.CapabilityWebSearch
	case q.Intent == classify.IntentReasoning:
		capability = costbook.CapabilityReasoning
	case q.Intent == classify.IntentCode:
		capability = costbook.CapabilityCode
	}

	candidates := book.ListModelsByCost(q.Complexity, q.EstimatedTokens, costbook.EstimateOutputTokens(q.Complexity, q.EstimatedTokens))
	if capability != "" {
		if p := firstWithCapability(candidates, capability); p != nil {
			return Decision{Provider: p.Provider, Model: p.Model, Reason: "priority: capability match " + string(capability)}
		}
	}
	if q.Complexity == classify.ComplexityComplex && len(candidates) > 0 {
		top := candidates[len(candidates)-1]
		return Decision{Provider: top.Provider, Model: top.Model, Reason: "priority: highest tier for complex query"}
	}
	if len(candidates) > 0 {
		cheapest := candidates[0]
		return Decision{Provider: cheapest.Provider, Model: cheapest.Model, Reason: "priority: cheapest suitable"}
	}
	return fallbackDecision()
}

func firstWithCapability(candidates []costbook.ModelCostProfile, cap costbook.Capability) *costbook.ModelCostProfile {
	for _, c := range candidates {
		if c.Capabilities[cap] {
			cc := c
			return &cc
		}
	}
	return nil
}

// costOptimizedDecision implements spec.md's ranking-head selection.
func costOptimizedDecision(book *costbook.Book, q classify.ClassifiedQuery) Decision {
	candidates := book.ListModelsByCost(q.Complexity, q.EstimatedTokens, costbook.EstimateOutputTokens(q.Complexity, q.EstimatedTokens))
	if q.IsRealtime || q.Intent == classify.IntentSearch {
		var filtered []costbook.ModelCostProfile
		for _, c := range candidates {
			if c.Capabilities[costbook.CapabilityWebSearch] {
				filtered = append(filtered, c)
			}
		}
		if len(filtered) > 0 {
			candidates = filtered
		}
	}
	if len(candidates) == 0 {
		return fallbackDecision()
	}
	head := candidates[0]
	return Decision{Provider: head.Provider, Model: head.Model, Reason: "cost-optimized: cheapest ranked candidate"}
}

// cascadeDecision builds spec.md's fixed three-tier ladder by complexity,
// pinning tier 1 to a search-capable model for realtime queries.
func cascadeDecision(book *costbook.Book, q classify.ClassifiedQuery) Decision {
	outTok := costbook.EstimateOutputTokens(q.Complexity, q.EstimatedTokens)
	candidates := book.ListModelsByCost(q.Complexity, q.EstimatedTokens, outTok)
	if len(candidates) == 0 {
		return fallbackDecision()
	}

	chain := buildChain(candidates, q)
	first := chain[0]
	return Decision{
		Provider:     first.Provider,
		Model:        first.Model,
		Reason:       "cascade: starting at cheapest search-capable tier",
		CascadeChain: chain,
	}
}

func buildChain(candidates []costbook.ModelCostProfile, q classify.ClassifiedQuery) []CascadeStep {
	thresholds := []float64{DefaultCascadeMinQuality - 2, DefaultCascadeMinQuality, DefaultCascadeMinQuality + 1.5}
	n := 3
	if len(candidates) < n {
		n = len(candidates)
	}

	var chain []CascadeStep
	if (q.IsRealtime || q.Intent == classify.IntentSearch) && len(candidates) > 0 {
		if p := firstWithCapability(candidates, costbook.CapabilityWebSearch); p != nil {
			chain = append(chain, CascadeStep{Provider: p.Provider, Model: p.Model, QualityThreshold: thresholds[0]})
		}
	}
	for i := 0; i < n && len(chain) < 3; i++ {
		c := candidates[i]
		dup := false
		for _, s := range chain {
			if s.Model == c.Model {
				dup = true
			}
		}
		if dup {
			continue
		}
		chain = append(chain, CascadeStep{Provider: c.Provider, Model: c.Model, QualityThreshold: thresholds[len(chain)%len(thresholds)]})
	}
	if len(chain) == 0 {
		chain = append(chain, CascadeStep{Provider: candidates[0].Provider, Model: candidates[0].Model, QualityThreshold: thresholds[0]})
	}
	return chain
}

// emergencyDecision implements spec.md's cheapestModelWithinBudget call
// with a hardcoded fallback, skipping any provider emergency mode itself
// disabled — otherwise the cheapest-within-budget pick could land right
// back on the provider the caller is in emergency mode to avoid.
func emergencyDecision(book *costbook.Book, q classify.ClassifiedQuery, budget BudgetState) Decision {
	outTok := costbook.EstimateOutputTokens(q.Complexity, q.EstimatedTokens)
	for _, p := range book.ListModelsByCost(q.Complexity, q.EstimatedTokens, outTok) {
		if budget.IsProviderDisabled != nil && budget.IsProviderDisabled(p.Provider) {
			continue
		}
		if book.EstimateCost(p.Provider, p.Model, q.EstimatedTokens, outTok).EstimatedCost <= budget.DailyRemaining {
			return Decision{Provider: p.Provider, Model: p.Model, Reason: "emergency: cheapest model within remaining daily budget"}
		}
	}
	return fallbackDecision()
}

func fallbackDecision() Decision {
	return Decision{Provider: "ollama", Model: "ollama/llama3.1", Reason: "fallback: hardcoded cheapest model"}
}
