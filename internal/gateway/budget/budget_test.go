package budget

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

func TestRecordAndStatusSum(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 7, 15, 10, 0, 0, 0, time.UTC)}
	tr := NewWithClock(Config{DailyLimit: 5.0}, clock)

	tr.RecordCost(ActualCost{Provider: "openai", Model: "gpt-4o-mini", TotalCost: 1.5, Timestamp: clock.Now()})
	tr.RecordCost(ActualCost{Provider: "openai", Model: "gpt-4o-mini", TotalCost: 2.0, Timestamp: clock.Now()})

	status := tr.GetStatus(PeriodDaily)
	assert.InDelta(t, 3.5, status.Spent, 0.0001)
	assert.InDelta(t, 1.5, status.Remaining, 0.0001)
}

func TestRecordOutsidePeriodExcluded(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 7, 15, 10, 0, 0, 0, time.UTC)}
	tr := NewWithClock(Config{DailyLimit: 5.0}, clock)

	yesterday := clock.Now().AddDate(0, 0, -1)
	tr.RecordCost(ActualCost{TotalCost: 4.0, Timestamp: yesterday})
	tr.RecordCost(ActualCost{TotalCost: 1.0, Timestamp: clock.Now()})

	status := tr.GetStatus(PeriodDaily)
	assert.InDelta(t, 1.0, status.Spent, 0.0001)
}

func TestBudgetExceededAdmission(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 7, 15, 10, 0, 0, 0, time.UTC)}
	tr := NewWithClock(Config{DailyLimit: 5.0}, clock)

	tr.RecordCost(ActualCost{TotalCost: 4.99, Timestamp: clock.Now()})
	require.NoError(t, tr.CheckAdmission())

	tr.RecordCost(ActualCost{TotalCost: 0.02, Timestamp: clock.Now()})
	err := tr.CheckAdmission()
	require.Error(t, err)
	var be *BudgetExceeded
	require.True(t, errors.As(err, &be))
}

func TestEmergencyLatchMonotonicUntilReset(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 7, 15, 10, 0, 0, 0, time.UTC)}
	tr := NewWithClock(Config{
		DailyLimit:       10.0,
		EmergencyEnabled: true,
		Alerts:           []AlertThreshold{{Percentage: 90, Action: ActionEmergencyMode}},
	}, clock)

	tr.RecordCost(ActualCost{TotalCost: 9.5, Timestamp: clock.Now()})
	assert.True(t, tr.IsEmergencyModeActive())

	tr.RecordCost(ActualCost{TotalCost: 0.01, Timestamp: clock.Now()})
	assert.True(t, tr.IsEmergencyModeActive(), "latch stays true")

	tr.ResetAlerts()
	assert.False(t, tr.IsEmergencyModeActive())
}

func TestIsProviderDisabledOnlyWhenEmergency(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	tr := NewWithClock(Config{
		DailyLimit:        10.0,
		EmergencyEnabled:  true,
		DisabledProviders: map[string]bool{"anthropic": true},
		Alerts:            []AlertThreshold{{Percentage: 50, Action: ActionEmergencyMode}},
	}, clock)

	require.False(t, tr.IsProviderDisabled("anthropic"))
	tr.RecordCost(ActualCost{TotalCost: 6.0, Timestamp: clock.Now()})
	require.True(t, tr.IsProviderDisabled("anthropic"))
	require.False(t, tr.IsProviderDisabled("openai"))
}

func TestPrune(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 7, 15, 10, 0, 0, 0, time.UTC)}
	tr := NewWithClock(Config{DailyLimit: 100, RetentionDays: 90}, clock)
	old := clock.Now().AddDate(0, 0, -100)
	tr.RecordCost(ActualCost{TotalCost: 1.0, Timestamp: old})
	tr.RecordCost(ActualCost{TotalCost: 2.0, Timestamp: clock.Now()})

	tr.Prune()
	assert.Len(t, tr.records, 1)
}

func TestWeeklyBoundsISOWeek(t *testing.T) {
	// 2026-07-15 is a Wednesday.
	monday, nextMonday := periodBounds(PeriodWeekly, time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Monday, monday.Weekday())
	assert.Equal(t, 7, int(nextMonday.Sub(monday).Hours()/24))
}
