package quality

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/gateway/internal/gateway/classify"
)

func TestWeightsSumToOne(t *testing.T) {
	q := classify.Classify("hello")
	report := Estimate(Response{Content: "hi"}, q)
	var sum float64
	for _, s := range report.Signals {
		sum += s.Weight
	}
	assert.InDelta(t, 1.0, sum, 0.0001)
}

func TestRefusalDropsConfidenceToOne(t *testing.T) {
	q := classify.Classify("help me with something")
	resp := Response{Content: "I can't help with that request."}
	report := Estimate(resp, q)
	var conf Signal
	for _, s := range report.Signals {
		if s.Name == "confidenceLanguage" {
			conf = s
		}
	}
	assert.Equal(t, 1.0, conf.Score)
}

func TestCreativePoemGradeAtLeastB(t *testing.T) {
	q := classify.Classify("Write a poem about the ocean at sunset")
	content := strings.Repeat("The waves crash gently upon golden sands as the sun dips below the horizon. ", 4)
	resp := Response{Content: content, IsSearchProvider: false}
	report := Estimate(resp, q)
	require.Contains(t, []Grade{GradeA, GradeB}, report.Grade)
}

func TestRecommendationBandsByComplexity(t *testing.T) {
	assert.Equal(t, RecommendAccept, recommendationFor(6.5, classify.ComplexitySimple))
	assert.Equal(t, RecommendEscalate, recommendationFor(6.5, classify.ComplexityMedium))
	assert.Equal(t, RecommendReject, recommendationFor(2.0, classify.ComplexityComplex))
}

func TestGradeBands(t *testing.T) {
	assert.Equal(t, GradeA, gradeFor(9.0))
	assert.Equal(t, GradeB, gradeFor(7.5))
	assert.Equal(t, GradeF, gradeFor(1.0))
}
