package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashDeterministicAndNormalized(t *testing.T) {
	a := Hash("  Explain Quantum Computing  ")
	b := Hash("explain quantum computing")
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
}

func TestStoreThenExactHit(t *testing.T) {
	c := New(NewMemoryAdapter(), Config{})
	require.NoError(t, c.Store("Explain quantum computing", "resp", "openai", "gpt-4o-mini", 0.001, 100, time.Hour))

	res, ok := c.Lookup("Explain quantum computing")
	require.True(t, ok)
	assert.Equal(t, 1.0, res.Similarity)
	assert.Equal(t, 1, res.Entry.HitCount)
}

func TestSemanticNearDuplicateHit(t *testing.T) {
	c := New(NewMemoryAdapter(), Config{SimilarityThreshold: 0.82})
	require.NoError(t, c.Store("Explain quantum computing", "resp", "openai", "gpt-4o-mini", 0.001, 100, time.Hour))

	res, ok := c.Lookup("explain quantum computing.")
	require.True(t, ok)
	assert.GreaterOrEqual(t, res.Similarity, 0.82)
}

func TestExpiredEntryNeverReturnedAsHit(t *testing.T) {
	c := New(NewMemoryAdapter(), Config{})
	c.now = func() time.Time { return time.Unix(1000, 0) }
	require.NoError(t, c.Store("hello there", "resp", "openai", "gpt-4o-mini", 0, 1, time.Second))

	c.now = func() time.Time { return time.Unix(2000, 0) } // well past expiry
	_, ok := c.Lookup("hello there")
	require.False(t, ok)
}

func TestEvictionLeastValuableThenOldest(t *testing.T) {
	c := New(NewMemoryAdapter(), Config{MaxEntries: 2})
	base := time.Unix(1000, 0)
	c.now = func() time.Time { return base }
	require.NoError(t, c.Store("first query", "r1", "p", "m", 0, 1, time.Hour))

	c.now = func() time.Time { return base.Add(time.Minute) }
	require.NoError(t, c.Store("second query", "r2", "p", "m", 0, 1, time.Hour))

	// Bump hit count on "second query" so "first query" becomes least valuable.
	_, _ = c.Lookup("second query")

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	require.NoError(t, c.Store("third query", "r3", "p", "m", 0, 1, time.Hour))

	entries, _ := c.Entries(0)
	var texts []string
	for _, e := range entries {
		texts = append(texts, e.QueryText)
	}
	assert.NotContains(t, texts, "first query")
	assert.Contains(t, texts, "second query")
	assert.Contains(t, texts, "third query")
}

func TestPruneExpired(t *testing.T) {
	c := New(NewMemoryAdapter(), Config{})
	base := time.Unix(1000, 0)
	c.now = func() time.Time { return base }
	require.NoError(t, c.Store("expiring soon", "r", "p", "m", 0, 1, time.Second))

	c.now = func() time.Time { return base.Add(time.Hour) }
	require.NoError(t, c.PruneExpired())

	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Size)
}
