// Package orchestrator composes classify, costbook, budget, cache, router,
// cascade, quality, artifact and eventhub into spec.md §4.9's processQuery
// pipeline. Grounded on cmd/aixgo/main.go's goroutine+error-channel
// composition style and internal/llm/provider/instrumented.go's
// span-per-call pattern, generalized to a whole-request span.
package orchestrator

import (
	"context"
	"errors"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/aixgo-dev/gateway/internal/gateway/artifact"
	"github.com/aixgo-dev/gateway/internal/gateway/budget"
	"github.com/aixgo-dev/gateway/internal/gateway/cache"
	"github.com/aixgo-dev/gateway/internal/gateway/cascade"
	"github.com/aixgo-dev/gateway/internal/gateway/classify"
	"github.com/aixgo-dev/gateway/internal/gateway/costbook"
	"github.com/aixgo-dev/gateway/internal/gateway/eventhub"
	"github.com/aixgo-dev/gateway/internal/gateway/quality"
	"github.com/aixgo-dev/gateway/internal/gateway/router"
	"github.com/aixgo-dev/gateway/pkg/observability"
)

var tracer = otel.Tracer("github.com/aixgo-dev/gateway/internal/gateway/orchestrator")

// ErrBudgetExceeded surfaces budget.BudgetExceeded through the orchestrator
// boundary so HTTP shells can map it to 402/429 without importing package
// budget directly.
var ErrBudgetExceeded = errors.New("query rejected: budget exceeded")

// ProviderCaller issues the actual LLM call for one (provider, model) pair.
// Implemented by providers.Caller over internal/llm/provider.
type ProviderCaller interface {
	Call(ctx context.Context, provider, model, query string) (quality.Response, error)
}

// Request is spec.md's incoming query payload.
type Request struct {
	QueryID  string
	Text     string
	Strategy router.Strategy // optional override, "" lets the router decide
}

// Result is spec.md's processQuery return value.
type Result struct {
	QueryID    string
	Response   quality.Response
	Decision   router.Decision
	Quality    quality.Report
	Classified classify.ClassifiedQuery
	CacheHit   bool
	Artifacts  []artifact.Artifact
}

// Orchestrator wires the gateway's core packages into one entry point.
type Orchestrator struct {
	Book     *costbook.Book
	Budget   *budget.Tracker
	Cache    *cache.Cache
	Artifact *artifact.Store
	Events   *eventhub.Hub
	Caller   ProviderCaller
}

// New constructs an Orchestrator from already-built component instances.
func New(book *costbook.Book, b *budget.Tracker, c *cache.Cache, a *artifact.Store, events *eventhub.Hub, caller ProviderCaller) *Orchestrator {
	return &Orchestrator{Book: book, Budget: b, Cache: c, Artifact: a, Events: events, Caller: caller}
}

// ProcessQuery runs spec.md §4.9's nine steps:
//  1. classify
//  2. cache lookup (exact then semantic)
//  3. budget admission check
//  4. route
//  5. execute (direct call or cascade)
//  6. score quality
//  7. cost accounting
//  8. cache store + route-artifact enrichment (parallel)
//  9. budget record, then event publish
func (o *Orchestrator) ProcessQuery(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "orchestrator.ProcessQuery", trace.WithAttributes(attribute.String("query.id", req.QueryID)))
	defer span.End()

	q := classify.Classify(req.Text)
	span.SetAttributes(attribute.String("query.complexity", string(q.Complexity)), attribute.String("query.intent", string(q.Intent)))

	skipCache := classify.ShouldSkipCache(q)
	if !skipCache {
		if hit, ok := o.Cache.Lookup(req.Text); ok {
			log.Printf("orchestrator: cache hit query=%s similarity=%.3f", req.QueryID, hit.Similarity)
			o.recordArtifact(req.QueryID, artifact.TypeCacheHit, q, router.Decision{Provider: hit.Entry.Provider, Model: hit.Entry.Model}, nil, &hit.Similarity)
			if hit.Similarity >= 1.0 {
				observability.RecordCacheLookup("exact_hit")
			} else {
				observability.RecordCacheLookup("semantic_hit")
			}
			observability.RecordQuery(string(req.Strategy), hit.Entry.Provider, "cache_hit", time.Since(start))
			return Result{
				QueryID:    req.QueryID,
				Classified: q,
				CacheHit:   true,
				Response:   quality.Response{Content: hit.Entry.Response, Provider: hit.Entry.Provider},
			}, nil
		}
		observability.RecordCacheLookup("miss")
	}

	observability.SetEmergencyModeActive(o.Budget.IsEmergencyModeActive())
	if err := o.Budget.CheckAdmission(); err != nil {
		var exceeded *budget.BudgetExceeded
		if errors.As(err, &exceeded) {
			o.recordArtifact(req.QueryID, artifact.TypeBudgetReject, q, router.Decision{}, nil, nil)
			observability.RecordQuery(string(req.Strategy), "", "budget_rejected", time.Since(start))
			return Result{}, errors.Join(ErrBudgetExceeded, err)
		}
		return Result{}, err
	}

	budgetState := router.BudgetState{
		EmergencyActive:    o.Budget.IsEmergencyModeActive(),
		DailyRemaining:     o.remainingDaily(),
		IsProviderDisabled: o.Budget.IsProviderDisabled,
	}
	decision := router.Route(o.Book, q, budgetState, req.Strategy)
	routeArt := o.recordArtifact(req.QueryID, artifact.TypeRouteDecision, q, decision, nil, nil)

	var resp quality.Response
	var report quality.Report
	var actualCost float64

	if decision.Strategy == router.StrategyCascade && len(decision.CascadeChain) > 0 {
		lastProvider := decision.CascadeChain[0].Provider
		outcome, err := cascade.Execute(ctx, decision.CascadeChain, o.runStep(req.Text), func(r interface{}) float64 {
			rr := r.(quality.Response)
			return quality.Estimate(rr, q).OverallScore
		}, func(provider, model string, score float64, index int, err error) {
			if err != nil {
				log.Printf("orchestrator: cascade step failed query=%s provider=%s model=%s err=%v", req.QueryID, provider, model, err)
				return
			}
			if index > 0 {
				o.recordArtifact(req.QueryID, artifact.TypeCascadeEscalation, q, router.Decision{Provider: provider, Model: model}, nil, nil)
				observability.RecordCascadeEscalation(lastProvider, provider)
			}
			lastProvider = provider
		})
		if err != nil {
			observability.RecordQuery(string(decision.Strategy), decision.Provider, "error", time.Since(start))
			return Result{}, err
		}
		resp = outcome.Response.(quality.Response)
		report = quality.Estimate(resp, q)
		actualCost = o.Book.EstimateCost(outcome.Provider, outcome.Model, resp.InputTokens, resp.OutputTokens).EstimatedCost
		decision.Provider, decision.Model = outcome.Provider, outcome.Model
		o.recordArtifact(req.QueryID, artifact.TypeCascadeSuccess, q, decision, &report.OverallScore, nil)
	} else {
		var err error
		resp, err = o.Caller.Call(ctx, decision.Provider, decision.Model, req.Text)
		if err != nil {
			observability.RecordQuery(string(decision.Strategy), decision.Provider, "error", time.Since(start))
			return Result{}, err
		}
		report = quality.Estimate(resp, q)
		actualCost = o.Book.EstimateCost(decision.Provider, decision.Model, resp.InputTokens, resp.OutputTokens).EstimatedCost
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if skipCache {
			return nil
		}
		ttl := time.Duration(classify.SuggestCacheTTLMs(q)) * time.Millisecond
		return o.Cache.Store(req.Text, resp.Content, decision.Provider, decision.Model, actualCost, resp.InputTokens+resp.OutputTokens, ttl)
	})
	g.Go(func() error {
		_ = gctx
		overall := report.OverallScore
		o.Artifact.EnrichWithResponse(routeArt.ID, actualCost, artifact.ResponseInfo{ContentLength: len(resp.Content)}, &overall)
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Printf("orchestrator: post-step error query=%s err=%v", req.QueryID, err)
	}

	o.Budget.RecordCost(budget.ActualCost{
		Provider: decision.Provider, Model: decision.Model,
		InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens,
		TotalCost: actualCost, Timestamp: time.Now(),
	})
	if o.Events != nil {
		o.Events.Publish(eventhub.ChannelEvent, Result{QueryID: req.QueryID, Decision: decision, Quality: report})
	}

	dailyStatus := o.Budget.GetStatus(budget.PeriodDaily)
	observability.SetBudgetStatus("daily", dailyStatus.Spent, dailyStatus.PercentUsed)
	observability.RecordQuery(string(decision.Strategy), decision.Provider, "success", time.Since(start))

	return Result{
		QueryID:    req.QueryID,
		Response:   resp,
		Decision:   decision,
		Quality:    report,
		Classified: q,
		Artifacts:  o.Artifact.GetByQueryID(req.QueryID),
	}, nil
}

func (o *Orchestrator) runStep(text string) cascade.RunFunc {
	return func(ctx context.Context, provider, model string) (interface{}, error) {
		return o.Caller.Call(ctx, provider, model, text)
	}
}

func (o *Orchestrator) remainingDaily() float64 {
	status := o.Budget.GetStatus(budget.PeriodDaily)
	return status.Remaining
}

func (o *Orchestrator) recordArtifact(queryID string, t artifact.Type, q classify.ClassifiedQuery, d router.Decision, qualityScore *float64, similarity *float64) artifact.Artifact {
	a := artifact.Artifact{
		QueryID: queryID,
		Type:    t,
		Complexity: artifact.ComplexitySnapshot{
			Complexity: string(q.Complexity),
			Intent:     string(q.Intent),
			IsRealtime: q.IsRealtime,
		},
		SelectedModel:    d.Model,
		SelectedProvider: d.Provider,
		EstimatedCost:    d.EstimatedCost,
		Quality:          qualityScore,
	}
	if similarity != nil {
		a.Cache = &artifact.CacheInfo{Similarity: *similarity}
	}
	return o.Artifact.Record(a)
}
