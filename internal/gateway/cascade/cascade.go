// Package cascade drives an ordered provider chain with quality-gated
// escalation, spec.md §4.7. Per-step tracing follows
// internal/llm/provider/instrumented.go's span + cost-attribution decorator
// pattern, adapted from wrapping a whole Provider call to wrapping each
// cascade step.
package cascade

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aixgo-dev/gateway/internal/gateway/router"
)

var tracer = otel.Tracer("github.com/aixgo-dev/gateway/internal/gateway/cascade")

// ErrAllStepsFailed is spec.md's AllCascadeStepsFailed.
var ErrAllStepsFailed = errors.New("all cascade steps failed")

// Result is the outcome of one successful step's run+evaluate.
type Result struct {
	Response interface{}
	Score    float64
}

// RunFunc calls the provider for one step and returns its raw response.
type RunFunc func(ctx context.Context, provider, model string) (interface{}, error)

// EvaluateFunc scores a response.
type EvaluateFunc func(response interface{}) float64

// StepObserver is invoked after each step's evaluation, successful or not.
type StepObserver func(provider, model string, score float64, index int, err error)

// Outcome is returned by Execute: the accepted step and its score, plus
// whether a threshold was actually met or the best-effort fallback fired.
type Outcome struct {
	StepIndex    int
	Provider     string
	Model        string
	Response     interface{}
	Score        float64
	ThresholdMet bool
}

// Execute iterates chain in order per spec.md §4.7's literal algorithm.
func Execute(ctx context.Context, chain []router.CascadeStep, run RunFunc, evaluate EvaluateFunc, onStep StepObserver) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "cascade.Execute", trace.WithAttributes(attribute.Int("cascade.chain_length", len(chain))))
	defer span.End()

	var best *Outcome

	for i, step := range chain {
		resp, err := runStep(ctx, step, run)
		if err != nil {
			if onStep != nil {
				onStep(step.Provider, step.Model, 0, i, err)
			}
			continue
		}

		score := evaluate(resp)
		if onStep != nil {
			onStep(step.Provider, step.Model, score, i, nil)
		}

		if score >= step.QualityThreshold {
			best = &Outcome{StepIndex: i, Provider: step.Provider, Model: step.Model, Response: resp, Score: score, ThresholdMet: true}
			return *best, nil
		}

		if best == nil || score > best.Score {
			best = &Outcome{StepIndex: i, Provider: step.Provider, Model: step.Model, Response: resp, Score: score}
		}
	}

	if best == nil {
		return Outcome{}, ErrAllStepsFailed
	}
	return *best, nil
}

func runStep(ctx context.Context, step router.CascadeStep, run RunFunc) (interface{}, error) {
	ctx, span := tracer.Start(ctx, "cascade.step",
		trace.WithAttributes(
			attribute.String("cascade.provider", step.Provider),
			attribute.String("cascade.model", step.Model),
		))
	defer span.End()
	return run(ctx, step.Provider, step.Model)
}
