package maintenance

import (
	"context"
	"fmt"

	"github.com/aixgo-dev/gateway/internal/gateway/budget"
	"github.com/aixgo-dev/gateway/internal/gateway/cache"
)

// BudgetPruneTask drops cost records older than the tracker's retention
// window (spec.md's budget.RetentionDays, default 90).
type BudgetPruneTask struct {
	Tracker *budget.Tracker
}

func (t BudgetPruneTask) Name() string { return "budget-prune" }

func (t BudgetPruneTask) Execute(ctx context.Context) TaskResult {
	before := t.Tracker.RecordCount()
	t.Tracker.Prune()
	after := t.Tracker.RecordCount()
	return TaskResult{Success: true, Message: fmt.Sprintf("pruned %d records (%d -> %d)", before-after, before, after)}
}

// CachePruneTask evicts expired entries from the semantic cache.
type CachePruneTask struct {
	Cache *cache.Cache
}

func (t CachePruneTask) Name() string { return "cache-prune" }

func (t CachePruneTask) Execute(ctx context.Context) TaskResult {
	if err := t.Cache.PruneExpired(); err != nil {
		return TaskResult{Success: false, Error: err}
	}
	return TaskResult{Success: true, Message: "expired cache entries evicted"}
}
