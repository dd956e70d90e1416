package maintenance

import (
	"context"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"github.com/aixgo-dev/gateway/internal/gateway/budget"
	"github.com/aixgo-dev/gateway/internal/gateway/cache"
)

type fakeTask struct {
	name string
	runs int
	err  error
}

func (f *fakeTask) Name() string { return f.name }

func (f *fakeTask) Execute(ctx context.Context) TaskResult {
	f.runs++
	if f.err != nil {
		return TaskResult{Success: false, Error: f.err}
	}
	return TaskResult{Success: true, Message: "ok"}
}

func testLogger() *log.Logger {
	return log.New(os.Stdout, "[test] ", log.LstdFlags)
}

func TestSchedulerRunNow(t *testing.T) {
	s := NewScheduler("@hourly", testLogger())
	task := &fakeTask{name: "fake"}
	s.RegisterTask(task)

	s.RunNow(context.Background())

	if task.runs != 1 {
		t.Fatalf("expected task to run once, ran %d times", task.runs)
	}

	status := s.GetStatus()
	st, ok := status["fake"]
	if !ok {
		t.Fatal("expected status for registered task")
	}
	if !st.LastResult.Success {
		t.Fatalf("expected successful result, got %+v", st.LastResult)
	}
}

func TestSchedulerRunNowRecordsFailure(t *testing.T) {
	s := NewScheduler("@hourly", testLogger())
	task := &fakeTask{name: "failing", err: errors.New("boom")}
	s.RegisterTask(task)

	s.RunNow(context.Background())

	status := s.GetStatus()
	st := status["failing"]
	if st.LastResult.Success {
		t.Fatal("expected failure to be recorded")
	}
	if st.LastResult.Error == nil {
		t.Fatal("expected error to be recorded")
	}
}

func TestSchedulerStartTwiceErrors(t *testing.T) {
	s := NewScheduler("@hourly", testLogger())
	s.RegisterTask(&fakeTask{name: "fake"})

	if err := s.Start(); err != nil {
		t.Fatalf("unexpected error on first Start: %v", err)
	}
	defer s.Stop()

	if err := s.Start(); err == nil {
		t.Fatal("expected error starting an already-running scheduler")
	}
}

func TestBudgetPruneTask(t *testing.T) {
	tracker := budget.New(budget.Config{DailyLimit: 100, RetentionDays: 1})
	tracker.RecordCost(budget.ActualCost{
		Provider: "openai", Model: "gpt-4o-mini",
		TotalCost: 1.0, Timestamp: time.Now().AddDate(0, 0, -30),
	})
	tracker.RecordCost(budget.ActualCost{
		Provider: "openai", Model: "gpt-4o-mini",
		TotalCost: 1.0, Timestamp: time.Now(),
	})

	task := BudgetPruneTask{Tracker: tracker}
	result := task.Execute(context.Background())

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if got := tracker.RecordCount(); got != 1 {
		t.Fatalf("expected 1 record remaining after prune, got %d", got)
	}
}

func TestCachePruneTask(t *testing.T) {
	c := cache.New(cache.NewMemoryAdapter(), cache.Config{
		SimilarityThreshold: 0.9,
		MaxEntries:          10,
		DefaultTTL:          time.Millisecond,
	})
	if err := c.Store("hello world", "hi there", "openai", "gpt-4o-mini", 0.01, 10, 0); err != nil {
		t.Fatalf("store: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	task := CachePruneTask{Cache: c}
	result := task.Execute(context.Background())

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
}
