package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct{ published []Artifact }

func (f *fakePublisher) PublishArtifact(a Artifact) { f.published = append(f.published, a) }

func TestRecordAssignsIDAndPublishes(t *testing.T) {
	pub := &fakePublisher{}
	s := New(10, pub)

	a := s.Record(Artifact{QueryID: "q1", Type: TypeRouteDecision})
	require.NotEmpty(t, a.ID)
	require.Len(t, pub.published, 1)
}

func TestRingBufferNeverExceedsCapacity(t *testing.T) {
	s := New(3, nil)
	for i := 0; i < 10; i++ {
		s.Record(Artifact{QueryID: "q", Type: TypeRouteDecision})
	}
	assert.Len(t, s.GetRecent(100), 3)
}

func TestRingBufferEvictsOldestFirst(t *testing.T) {
	s := New(2, nil)
	s.Record(Artifact{QueryID: "first"})
	s.Record(Artifact{QueryID: "second"})
	s.Record(Artifact{QueryID: "third"})

	recent := s.GetRecent(2)
	var ids []string
	for _, a := range recent {
		ids = append(ids, a.QueryID)
	}
	assert.Contains(t, ids, "third")
	assert.Contains(t, ids, "second")
	assert.NotContains(t, ids, "first")
}

func TestEnrichWithResponseMutatesOnlyMatchingArtifact(t *testing.T) {
	s := New(10, nil)
	a := s.Record(Artifact{QueryID: "q1"})
	s.Record(Artifact{QueryID: "q2"})

	q := 8.5
	ok := s.EnrichWithResponse(a.ID, 0.002, ResponseInfo{ContentLength: 120}, &q)
	require.True(t, ok)

	all := s.GetByQueryID("q1")
	require.Len(t, all, 1)
	require.NotNil(t, all[0].ActualCost)
	assert.InDelta(t, 0.002, *all[0].ActualCost, 0.0001)
	assert.InDelta(t, 0.85, all[0].Confidence, 0.0001)
}

func TestGetByTypeAndTag(t *testing.T) {
	s := New(10, nil)
	s.Record(Artifact{Type: TypeCacheHit, Tags: map[string]bool{"fast": true}})
	s.Record(Artifact{Type: TypeRouteDecision, Tags: map[string]bool{"fast": true}})
	s.Record(Artifact{Type: TypeRouteDecision})

	assert.Len(t, s.GetByType(TypeRouteDecision, 0), 2)
	assert.Len(t, s.GetByTag("fast", 0), 2)
}

func TestGetSummaryCounts(t *testing.T) {
	s := New(10, nil)
	s.Record(Artifact{Type: TypeCacheHit})
	s.Record(Artifact{Type: TypeCascadeEscalation})
	s.Record(Artifact{Type: TypeRouteDecision})

	summary := s.GetSummary()
	assert.Equal(t, 1, summary.CacheHits)
	assert.Equal(t, 1, summary.CascadeEscalations)
	assert.Equal(t, 3, summary.TodayCount)
}
