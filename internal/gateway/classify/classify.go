// Package classify turns raw query text into a ClassifiedQuery: a pure,
// side-effect-free estimate of complexity, intent, and real-time-ness used
// by the router and budget admission to make cheap decisions before any
// provider is called.
package classify

import (
	"regexp"
	"sort"
	"strings"
)

// Complexity is the derived difficulty band of a query.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Intent is the best-guess purpose of a query.
type Intent string

const (
	IntentSearch    Intent = "search"
	IntentReasoning Intent = "reasoning"
	IntentChat      Intent = "chat"
	IntentCreative  Intent = "creative"
	IntentCode      Intent = "code"
)

// ClassifiedQuery is the immutable output of Classify.
type ClassifiedQuery struct {
	Text               string
	Complexity         Complexity
	ComplexityScore    float64
	Intent             Intent
	IsRealtime         bool
	EstimatedTokens    int
	MatchedIndicators  []string
}

// Thresholds configures where the complexity score bands switch over.
// Mirrors spec.md §4.1: "Thresholds are configurable."
type Thresholds struct {
	Medium  float64 // default 0.30
	Complex float64 // default 0.70
}

// DefaultThresholds matches spec.md's literal ≤0.30/≤0.70 bands.
var DefaultThresholds = Thresholds{Medium: 0.30, Complex: 0.70}

var (
	complexKeywords = map[string]float64{
		"architect": 0.25, "prove": 0.25, "optimize": 0.2, "algorithm": 0.2,
		"design a": 0.2, "comprehensive": 0.15, "analyze": 0.15, "in depth": 0.15,
		"compare and contrast": 0.2, "trade-off": 0.2, "tradeoffs": 0.2,
	}
	mediumKeywords = map[string]float64{
		"explain": 0.1, "summarize": 0.08, "describe": 0.08, "how does": 0.1,
		"what are the": 0.08, "list": 0.05, "difference between": 0.1,
	}
	simpleKeywords = map[string]float64{
		"hi": 0.15, "hello": 0.15, "thanks": 0.15, "yes": 0.2, "no": 0.2,
		"what is": 0.05, "who is": 0.05,
	}

	reasoningKeywords = []string{"why", "prove", "derive", "reason", "logic", "step by step", "analyze"}
	codeKeywords      = []string{"code", "function", "bug", "debug", "compile", "python", "golang", "refactor", "stack trace"}
	creativeKeywords  = []string{"poem", "story", "write a", "imagine", "creative", "lyrics", "fiction"}
	searchKeywords    = []string{"search", "find", "lookup", "news", "price", "current", "latest"}
	realtimeKeywords  = []string{"today", "latest", "now", "breaking", "current", "this week", "right now", "live"}

	listMarkerRe = regexp.MustCompile(`(?m)^\s*([-*]|\d+[.)])\s`)
	sentenceRe   = regexp.MustCompile(`[.!?]+\s`)
)

// Classify is pure: identical input always yields an identical output.
func Classify(text string) ClassifiedQuery {
	lower := strings.ToLower(strings.TrimSpace(text))

	score, indicators := complexityScore(lower)
	complexity := bandFor(score, DefaultThresholds)

	intent, isRealtime := classifyIntent(lower)

	return ClassifiedQuery{
		Text:              text,
		Complexity:        complexity,
		ComplexityScore:   score,
		Intent:            intent,
		IsRealtime:        isRealtime,
		EstimatedTokens:   EstimateTokens(text),
		MatchedIndicators: indicators,
	}
}

// ClassifyWithThresholds allows callers (e.g. configuration-driven routing)
// to override the band thresholds without changing the scoring itself.
func ClassifyWithThresholds(text string, th Thresholds) ClassifiedQuery {
	q := Classify(text)
	q.Complexity = bandFor(q.ComplexityScore, th)
	return q
}

// EstimateTokens implements spec.md's ⌈length/4⌉ token estimator.
func EstimateTokens(text string) int {
	n := len(text)
	return (n + 3) / 4
}

func bandFor(score float64, th Thresholds) Complexity {
	switch {
	case score <= th.Medium:
		return ComplexitySimple
	case score <= th.Complex:
		return ComplexityMedium
	default:
		return ComplexityComplex
	}
}

// complexityScore composes the length term, keyword matches (diminishing
// returns beyond the first match per list), and structural boosts, clamped
// to [0,1].
func complexityScore(lower string) (float64, []string) {
	var indicators []string
	score := lengthTerm(len(lower))

	applyKeywords := func(kws map[string]float64, sign float64) {
		keys := make([]string, 0, len(kws))
		for kw := range kws {
			keys = append(keys, kw)
		}
		sort.Strings(keys)
		matched := false
		for _, kw := range keys {
			if strings.Contains(lower, kw) {
				w := kws[kw]
				if matched {
					w *= 0.35 // diminishing returns beyond first match
				}
				score += sign * w
				indicators = append(indicators, kw)
				matched = true
			}
		}
	}
	applyKeywords(complexKeywords, 1)
	applyKeywords(mediumKeywords, 1)
	applyKeywords(simpleKeywords, -1)

	if sentenceRe.FindAllStringIndex(lower, -1) != nil {
		if n := len(sentenceRe.FindAllStringIndex(lower, -1)); n >= 2 {
			score += 0.1
		}
	}
	if strings.Count(lower, "?") >= 2 {
		score += 0.1
	}
	if listMarkerRe.MatchString(lower) {
		score += 0.1
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, indicators
}

// lengthTerm is monotonically non-decreasing in token count.
func lengthTerm(charLen int) float64 {
	tokens := charLen / 4
	switch {
	case tokens <= 15:
		return 0.05
	case tokens <= 50:
		return 0.15
	case tokens <= 150:
		return 0.3
	case tokens <= 400:
		return 0.45
	default:
		return 0.6
	}
}

func classifyIntent(lower string) (Intent, bool) {
	isRealtime := containsAny(lower, realtimeKeywords)

	scores := map[Intent]float64{
		IntentChat:      0.15, // base prior
		IntentSearch:    scoreFor(lower, searchKeywords),
		IntentReasoning: scoreFor(lower, reasoningKeywords),
		IntentCode:      scoreFor(lower, codeKeywords),
		IntentCreative:  scoreFor(lower, creativeKeywords),
	}
	if len(lower) <= 20 {
		scores[IntentChat] += 0.2 // short-message bonus
	}
	if isRealtime {
		scores[IntentSearch] += 0.5
	}

	best := IntentChat
	bestScore := -1.0
	for _, intent := range []Intent{IntentChat, IntentSearch, IntentReasoning, IntentCode, IntentCreative} {
		if s := scores[intent]; s > bestScore {
			best, bestScore = intent, s
		}
	}
	return best, isRealtime
}

func scoreFor(lower string, kws []string) float64 {
	score := 0.0
	matched := false
	for _, kw := range kws {
		if strings.Contains(lower, kw) {
			if matched {
				score += 0.05
			} else {
				score += 0.3
			}
			matched = true
		}
	}
	return score
}

func containsAny(lower string, kws []string) bool {
	for _, kw := range kws {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ShouldSkipCache mirrors spec.md's derived policy helper: realtime and
// creative queries bypass the semantic cache.
func ShouldSkipCache(q ClassifiedQuery) bool {
	return q.IsRealtime || q.Intent == IntentCreative
}

// SuggestCacheTTLMs mirrors spec.md's derived policy helper.
func SuggestCacheTTLMs(q ClassifiedQuery) int64 {
	switch {
	case q.IsRealtime:
		return 5 * 60 * 1000
	case q.Intent == IntentSearch:
		return 30 * 60 * 1000
	default:
		return 60 * 60 * 1000
	}
}
