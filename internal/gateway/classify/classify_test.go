package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateTokens(t *testing.T) {
	require.Equal(t, 1, EstimateTokens("ab"))
	require.Equal(t, 3, EstimateTokens("abcdefghij")) // 10 chars -> ceil(10/4)=3
}

func TestClassifyBitcoinPrice(t *testing.T) {
	q := Classify("What is the current Bitcoin price?")
	assert.Equal(t, ComplexitySimple, q.Complexity)
	assert.Equal(t, IntentSearch, q.Intent)
	assert.True(t, q.IsRealtime)
	assert.True(t, ShouldSkipCache(q))
}

func TestClassifyCreativePoem(t *testing.T) {
	q := Classify("Write a poem about the ocean at sunset")
	assert.Equal(t, IntentCreative, q.Intent)
	assert.True(t, ShouldSkipCache(q))
}

func TestClassifyPure(t *testing.T) {
	a := Classify("Explain quantum computing in depth, step by step.")
	b := Classify("Explain quantum computing in depth, step by step.")
	assert.Equal(t, a, b)
}

func TestSuggestCacheTTL(t *testing.T) {
	realtime := Classify("What is happening right now in the news today")
	assert.Equal(t, int64(5*60*1000), SuggestCacheTTLMs(realtime))

	search := Classify("search for the best pizza recipe")
	assert.Equal(t, int64(30*60*1000), SuggestCacheTTLMs(search))

	chat := Classify("hello")
	assert.Equal(t, int64(60*60*1000), SuggestCacheTTLMs(chat))
}

func TestComplexityBands(t *testing.T) {
	simple := Classify("hi")
	assert.Equal(t, ComplexitySimple, simple.Complexity)

	complex := Classify("Architect a comprehensive, in depth distributed system that can prove correctness of its consensus algorithm and analyze trade-offs between designs, comparing and contrasting each candidate architecture with detailed justification for every decision made along the way including failure modes and recovery procedures across multiple regions.")
	assert.Equal(t, ComplexityComplex, complex.Complexity)
}
