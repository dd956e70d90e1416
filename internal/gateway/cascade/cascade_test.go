package cascade

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/gateway/internal/gateway/router"
)

func TestEscalatesToFirstStepMeetingThreshold(t *testing.T) {
	chain := []router.CascadeStep{
		{Provider: "sonar", Model: "sonar", QualityThreshold: 7.0},
		{Provider: "openai", Model: "gpt-4o-mini", QualityThreshold: 8.5},
		{Provider: "openai", Model: "gpt-4o", QualityThreshold: 9.0},
	}
	scores := map[string]float64{"sonar": 6.5, "gpt-4o-mini": 9.0, "gpt-4o": 9.5}

	var observed []string
	run := func(ctx context.Context, provider, model string) (interface{}, error) { return model, nil }
	evaluate := func(resp interface{}) float64 { return scores[resp.(string)] }
	onStep := func(provider, model string, score float64, index int, err error) {
		observed = append(observed, model)
	}

	out, err := Execute(context.Background(), chain, run, evaluate, onStep)
	require.NoError(t, err)
	assert.Equal(t, 1, out.StepIndex)
	assert.Equal(t, "gpt-4o-mini", out.Model)
	assert.True(t, out.ThresholdMet)
	assert.Equal(t, []string{"sonar", "gpt-4o-mini"}, observed)
}

func TestReturnsStepMeetingThresholdEvenOnScoreTie(t *testing.T) {
	chain := []router.CascadeStep{
		{Provider: "a", Model: "a", QualityThreshold: 10},
		{Provider: "b", Model: "b", QualityThreshold: 5},
	}
	scores := map[string]float64{"a": 5, "b": 5}
	run := func(ctx context.Context, provider, model string) (interface{}, error) { return model, nil }
	evaluate := func(resp interface{}) float64 { return scores[resp.(string)] }

	out, err := Execute(context.Background(), chain, run, evaluate, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, out.StepIndex)
	assert.Equal(t, "b", out.Model)
	assert.True(t, out.ThresholdMet)
}

func TestReturnsBestWhenNoThresholdMet(t *testing.T) {
	chain := []router.CascadeStep{
		{Provider: "a", Model: "a", QualityThreshold: 9.9},
		{Provider: "b", Model: "b", QualityThreshold: 9.9},
	}
	scores := map[string]float64{"a": 5.0, "b": 7.0}
	run := func(ctx context.Context, provider, model string) (interface{}, error) { return model, nil }
	evaluate := func(resp interface{}) float64 { return scores[resp.(string)] }

	out, err := Execute(context.Background(), chain, run, evaluate, nil)
	require.NoError(t, err)
	assert.Equal(t, "b", out.Model)
	assert.False(t, out.ThresholdMet)
}

func TestFailedStepContinuesToNext(t *testing.T) {
	chain := []router.CascadeStep{
		{Provider: "a", Model: "a", QualityThreshold: 5.0},
		{Provider: "b", Model: "b", QualityThreshold: 5.0},
	}
	run := func(ctx context.Context, provider, model string) (interface{}, error) {
		if model == "a" {
			return nil, errors.New("boom")
		}
		return model, nil
	}
	evaluate := func(resp interface{}) float64 { return 6.0 }

	out, err := Execute(context.Background(), chain, run, evaluate, nil)
	require.NoError(t, err)
	assert.Equal(t, "b", out.Model)
}

func TestAllStepsFailedReturnsError(t *testing.T) {
	chain := []router.CascadeStep{{Provider: "a", Model: "a", QualityThreshold: 5.0}}
	run := func(ctx context.Context, provider, model string) (interface{}, error) { return nil, errors.New("boom") }
	evaluate := func(resp interface{}) float64 { return 10 }

	_, err := Execute(context.Background(), chain, run, evaluate, nil)
	require.ErrorIs(t, err, ErrAllStepsFailed)
}
