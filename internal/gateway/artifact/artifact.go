// Package artifact is the bounded ring buffer of immutable routing-decision
// records: spec.md §4.8. Grounded on pkg/vectorstore/memory/memory.go's
// scope/time/tag brute-force index pattern, applied to artifacts instead of
// vector documents, plus the cost-savings and insights supplements from
// SPEC_FULL.md §C (provider performance is kept by providers.Caller).
package artifact

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type discriminates the artifact's shape, per spec.md §9's "tagged
// variant over artifact kinds with a shared header" re-architecture note.
type Type string

const (
	TypeCacheHit         Type = "cache_hit"
	TypeBudgetReject     Type = "budget_reject"
	TypeRouteDecision    Type = "route_decision"
	TypeCascadeEscalation Type = "cascade_escalation"
	TypeCascadeSuccess   Type = "cascade_success"
)

// ComplexitySnapshot freezes the classifier output at decision time.
type ComplexitySnapshot struct {
	Complexity string
	Intent     string
	IsRealtime bool
}

// CascadeStep records one step's outcome in a cascade trail.
type CascadeStep struct {
	Provider string
	Model    string
	Score    float64
	Accepted bool
}

// CacheInfo records a cache_hit artifact's matched-entry detail.
type CacheInfo struct {
	Similarity float64
	Hash       string
}

// BudgetSnapshot freezes budget state at decision time.
type BudgetSnapshot struct {
	PercentUsed float64
	Remaining   float64
}

// ResponseInfo records the final accepted response's shape.
type ResponseInfo struct {
	ContentLength int
	FinishReason  string
}

// Artifact is spec.md's RoutingArtifact: a shared header plus the optional
// fields relevant to its Type.
type Artifact struct {
	ID              string
	QueryID         string
	EpochMs         int64
	Type            Type
	Complexity      ComplexitySnapshot
	SelectedModel   string
	SelectedProvider string
	EstimatedCost   float64
	ActualCost      *float64
	Confidence      float64
	Reasoning       string
	CascadeTrail    []CascadeStep
	Quality         *float64
	Cache           *CacheInfo
	Budget          *BudgetSnapshot
	Response        *ResponseInfo
	Tags            map[string]bool
}

// Store is the single-lock-guarded ring buffer.
type Store struct {
	mu       sync.Mutex
	capacity int
	buf      []Artifact // index 0 = most recent
	events   EventPublisher
	now      func() time.Time
}

// EventPublisher is the narrow interface artifact.Store needs from the
// event hub — defined here to avoid a dependency cycle (eventhub imports
// artifact's types for payloads, not the other way around).
type EventPublisher interface {
	PublishArtifact(Artifact)
}

// noopPublisher is used when Store is constructed without an event hub.
type noopPublisher struct{}

func (noopPublisher) PublishArtifact(Artifact) {}

// New constructs a Store with the given ring-buffer capacity (spec.md
// default 5000).
func New(capacity int, events EventPublisher) *Store {
	if capacity <= 0 {
		capacity = 5000
	}
	if events == nil {
		events = noopPublisher{}
	}
	return &Store{capacity: capacity, events: events, now: time.Now}
}

// Record constructs, stores, and publishes an artifact, returning it.
func (s *Store) Record(a Artifact) Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.EpochMs == 0 {
		a.EpochMs = s.now().UnixMilli()
	}
	if a.Tags == nil {
		a.Tags = make(map[string]bool)
	}

	s.buf = append([]Artifact{a}, s.buf...)
	if len(s.buf) > s.capacity {
		s.buf = s.buf[:s.capacity]
	}
	s.events.PublishArtifact(a)
	return a
}

// EnrichWithResponse is the only permitted in-place mutation: it attaches
// actual cost, response info, and optional quality to the one artifact
// matching id.
func (s *Store) EnrichWithResponse(id string, actualCost float64, resp ResponseInfo, quality *float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.buf {
		if s.buf[i].ID == id {
			s.buf[i].ActualCost = &actualCost
			s.buf[i].Response = &resp
			if quality != nil {
				s.buf[i].Quality = quality
				s.buf[i].Confidence = *quality / 10
			}
			return true
		}
	}
	return false
}

// GetRecent returns up to n of the most recent artifacts.
func (s *Store) GetRecent(n int) []Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.buf) {
		n = len(s.buf)
	}
	out := make([]Artifact, n)
	copy(out, s.buf[:n])
	return out
}

// GetByQueryID returns every artifact sharing a queryId, in recorded order.
func (s *Store) GetByQueryID(id string) []Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Artifact
	for i := len(s.buf) - 1; i >= 0; i-- {
		if s.buf[i].QueryID == id {
			out = append(out, s.buf[i])
		}
	}
	return out
}

// GetByType returns up to n artifacts of the given type (0 = unlimited).
func (s *Store) GetByType(t Type, n int) []Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Artifact
	for _, a := range s.buf {
		if a.Type == t {
			out = append(out, a)
			if n > 0 && len(out) >= n {
				break
			}
		}
	}
	return out
}

// GetByTag returns up to n artifacts carrying tag (0 = unlimited).
func (s *Store) GetByTag(tag string, n int) []Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Artifact
	for _, a := range s.buf {
		if a.Tags[tag] {
			out = append(out, a)
			if n > 0 && len(out) >= n {
				break
			}
		}
	}
	return out
}

// GetByTimeRange returns artifacts with epochMs in [a,b].
func (s *Store) GetByTimeRange(a, b int64) []Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Artifact
	for _, art := range s.buf {
		if art.EpochMs >= a && art.EpochMs <= b {
			out = append(out, art)
		}
	}
	return out
}

// Summary is spec.md's getSummary() result.
type Summary struct {
	TodayCount          int
	CountsByType        map[Type]int
	TotalCostToday      float64
	CascadeEscalations  int
	CacheHits           int
	AverageConfidence   float64
}

// GetSummary computes the aggregate view over all buffered artifacts.
func (s *Store) GetSummary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).UnixMilli()

	summary := Summary{CountsByType: make(map[Type]int)}
	var confSum float64
	var confN int

	for _, a := range s.buf {
		summary.CountsByType[a.Type]++
		if a.EpochMs >= todayStart {
			summary.TodayCount++
			if a.ActualCost != nil {
				summary.TotalCostToday += *a.ActualCost
			}
		}
		if a.Type == TypeCascadeEscalation {
			summary.CascadeEscalations++
		}
		if a.Type == TypeCacheHit {
			summary.CacheHits++
		}
		if a.Confidence > 0 {
			confSum += a.Confidence
			confN++
		}
	}
	if confN > 0 {
		summary.AverageConfidence = confSum / float64(confN)
	}
	return summary
}

// CostSavings is the SPEC_FULL.md §C supplement: baseline-vs-routed cost,
// grounded on other_examples' clawinfra-evoclaw router's CostSavings.
type CostSavings struct {
	TotalRequests  int
	EstimatedCost  float64
	BaselineCost   float64
	SavedUSD       float64
	SavingsPercent float64
}

// CostSavingsSnapshot computes savings from route_decision artifacts: the
// estimated cost actually routed vs. what the most expensive suitable
// model for each request would have cost.
func (s *Store) CostSavingsSnapshot(baselineCostFor func(a Artifact) float64) CostSavings {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cs CostSavings
	for _, a := range s.buf {
		if a.Type != TypeRouteDecision {
			continue
		}
		cs.TotalRequests++
		cs.EstimatedCost += a.EstimatedCost
		cs.BaselineCost += baselineCostFor(a)
	}
	cs.SavedUSD = cs.BaselineCost - cs.EstimatedCost
	if cs.BaselineCost > 0 {
		cs.SavingsPercent = cs.SavedUSD / cs.BaselineCost * 100
	}
	return cs
}

// Insights derives a small set of human-readable observations from the
// current window, grounded on other_examples' Your-PaL-MoE analytics
// package's GenerateInsights. Advisory text only; never fed back into
// routing automatically.
func (s *Store) Insights() []string {
	summary := s.GetSummary()
	var out []string

	if summary.CacheHits > 0 && summary.TodayCount > 0 {
		pct := float64(summary.CacheHits) / float64(summary.TodayCount) * 100
		out = append(out, fmt.Sprintf("cache hit rate today is %.1f%%", pct))
	}
	if summary.CascadeEscalations > 0 {
		out = append(out, fmt.Sprintf("cascade escalated on %d requests in this window", summary.CascadeEscalations))
	}
	if summary.AverageConfidence > 0 && summary.AverageConfidence < 0.5 {
		out = append(out, "average routing confidence is below 0.5 — consider reviewing quality thresholds")
	}
	return out
}
