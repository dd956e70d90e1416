// Package budget implements the rolling-window spend tracker: it records
// actual costs, exposes daily/weekly/monthly snapshots, fires alert
// transitions, and latches an emergency-mode flag. Grounded on
// other_examples' leandrotocalini-CodeButler internal/budget Tracker
// (injectable Clock, defensive-copy snapshot getters, append-only ledger),
// adapted to spec.md §4.3's period semantics and dropping file persistence
// since the gateway core is in-memory only.
package budget

import (
	"fmt"
	"sync"
	"time"
)

// Period names the rolling window a BudgetStatus is computed over.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// AlertAction names what a crossed threshold does.
type AlertAction string

const (
	ActionLog           AlertAction = "log"
	ActionNotify        AlertAction = "notify"
	ActionEmergencyMode AlertAction = "emergency_mode"
)

// AlertThreshold fires once per period when percentUsed crosses Percentage.
type AlertThreshold struct {
	Percentage float64
	Action     AlertAction
}

// ActualCost is spec.md's immutable post-call cost record.
type ActualCost struct {
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	TotalCost    float64
	Timestamp    time.Time
}

// BudgetStatus is a derived, read-only snapshot.
type BudgetStatus struct {
	Period      Period
	Limit       float64
	Spent       float64
	Remaining   float64
	PercentUsed float64
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// Clock is injected so period-boundary tests are deterministic, mirroring
// the CodeButler Tracker's Clock seam.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config holds the ceilings and alert ladder.
type Config struct {
	DailyLimit        float64
	WeeklyLimit       float64
	MonthlyLimit      float64
	EmergencyEnabled  bool
	DisabledProviders map[string]bool
	Alerts            []AlertThreshold
	RetentionDays     int // prune() drops records older than this; default 90
}

// BudgetExceeded is returned by CheckAdmission when the daily percentUsed is
// already ≥ 100.
type BudgetExceeded struct {
	Period Period
	Limit  float64
	Spent  float64
}

func (e *BudgetExceeded) Error() string {
	return fmt.Sprintf("budget exceeded: %s spent %.4f of limit %.4f", e.Period, e.Spent, e.Limit)
}

// Tracker is the single-writer-locked ledger, spec.md §4.3/§5.
type Tracker struct {
	mu                  sync.Mutex
	cfg                 Config
	clock               Clock
	records             []ActualCost
	emergencyModeActive bool
	fired               map[string]bool // alert-keys already fired this period
	notifyCh            []chan AlertEvent
}

// AlertEvent is published to notify-channel subscribers when a threshold
// with action `notify` fires.
type AlertEvent struct {
	Period     Period
	Threshold  AlertThreshold
	Status     BudgetStatus
	FiredAt    time.Time
}

// New constructs a Tracker using the real wall clock.
func New(cfg Config) *Tracker {
	return NewWithClock(cfg, realClock{})
}

// NewWithClock constructs a Tracker with an injectable clock for tests.
func NewWithClock(cfg Config, clock Clock) *Tracker {
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = 90
	}
	return &Tracker{cfg: cfg, clock: clock, fired: make(map[string]bool)}
}

// RecordCost appends a cost record and checks alerts, per spec.md §4.3.
func (t *Tracker) RecordCost(c ActualCost) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, c)
	t.checkAlertsLocked()
}

// GetStatus computes spend by filter-and-sum over the period bounds.
func (t *Tracker) GetStatus(period Period) BudgetStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked(period)
}

func (t *Tracker) statusLocked(period Period) BudgetStatus {
	now := t.clock.Now()
	start, end := periodBounds(period, now)
	limit := t.limitForLocked(period)

	var spent float64
	for _, r := range t.records {
		if !r.Timestamp.Before(start) && r.Timestamp.Before(end) {
			spent += r.TotalCost
		}
	}
	spent = roundMicro(spent)
	remaining := roundMicro(limit - spent)
	if remaining < 0 {
		remaining = 0
	}
	percent := 0.0
	if limit > 0 {
		percent = roundPercent(spent / limit * 100)
	}
	return BudgetStatus{
		Period: period, Limit: limit, Spent: spent, Remaining: remaining,
		PercentUsed: percent, PeriodStart: start, PeriodEnd: end,
	}
}

func (t *Tracker) limitForLocked(p Period) float64 {
	switch p {
	case PeriodDaily:
		return t.cfg.DailyLimit
	case PeriodWeekly:
		return t.cfg.WeeklyLimit
	default:
		return t.cfg.MonthlyLimit
	}
}

// CheckAdmission returns BudgetExceeded if the daily period is already at
// or beyond 100% used — the orchestrator's admission gate, spec.md §4.9 step 4.
func (t *Tracker) CheckAdmission() error {
	t.mu.Lock()
	status := t.statusLocked(PeriodDaily)
	t.mu.Unlock()
	if status.PercentUsed >= 100 {
		return &BudgetExceeded{Period: PeriodDaily, Limit: status.Limit, Spent: status.Spent}
	}
	return nil
}

// checkAlertsLocked fires any threshold whose alert-key has not yet fired
// this period. Must be called with t.mu held.
func (t *Tracker) checkAlertsLocked() {
	status := t.statusLocked(PeriodDaily)
	for _, th := range t.cfg.Alerts {
		key := alertKey(status.PeriodStart, th)
		if status.PercentUsed >= th.Percentage && !t.fired[key] {
			t.fired[key] = true
			switch th.Action {
			case ActionEmergencyMode:
				if t.cfg.EmergencyEnabled {
					t.emergencyModeActive = true
				}
			case ActionNotify:
				ev := AlertEvent{Period: PeriodDaily, Threshold: th, Status: status, FiredAt: t.clock.Now()}
				for _, ch := range t.notifyCh {
					select {
					case ch <- ev:
					default:
					}
				}
			case ActionLog:
				// informational only; only the fired alert-key is recorded, no I/O here.
			}
		}
	}
}

func alertKey(periodStart time.Time, th AlertThreshold) string {
	return fmt.Sprintf("%d-%v-%s", periodStart.Unix(), th.Percentage, th.Action)
}

// Subscribe returns a channel of fired notify-action alerts.
func (t *Tracker) Subscribe(buffer int) <-chan AlertEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan AlertEvent, buffer)
	t.notifyCh = append(t.notifyCh, ch)
	return ch
}

// IsEmergencyModeActive reports the latch, observable to in-flight requests
// on their next read, per spec.md §5.
func (t *Tracker) IsEmergencyModeActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.emergencyModeActive
}

// IsProviderDisabled returns true only when emergency mode is active and
// the provider is on the disable list.
func (t *Tracker) IsProviderDisabled(provider string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.emergencyModeActive && t.cfg.DisabledProviders[provider]
}

// ResetAlerts clears fired alert-keys and the emergency latch — explicit
// reset only, as spec.md requires.
func (t *Tracker) ResetAlerts() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fired = make(map[string]bool)
	t.emergencyModeActive = false
}

// Prune drops records older than cfg.RetentionDays.
func (t *Tracker) Prune() {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock.Now().AddDate(0, 0, -t.cfg.RetentionDays)
	kept := t.records[:0:0]
	for _, r := range t.records {
		if r.Timestamp.After(cutoff) {
			kept = append(kept, r)
		}
	}
	t.records = kept
}

// RecordCount reports how many cost records are currently retained, for
// maintenance tasks to report progress after a Prune.
func (t *Tracker) RecordCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// ByProvider and ByModel support spec.md §6's GET /api/budget breakdowns.
func (t *Tracker) ByProvider() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]float64)
	for _, r := range t.records {
		out[r.Provider] = roundMicro(out[r.Provider] + r.TotalCost)
	}
	return out
}

func (t *Tracker) ByModel() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]float64)
	for _, r := range t.records {
		out[r.Model] = roundMicro(out[r.Model] + r.TotalCost)
	}
	return out
}

func periodBounds(p Period, now time.Time) (time.Time, time.Time) {
	switch p {
	case PeriodDaily:
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		return start, start.AddDate(0, 0, 1)
	case PeriodWeekly:
		wd := int(now.Weekday())
		if wd == 0 {
			wd = 7 // ISO week: Sunday = 7
		}
		monday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, -(wd - 1))
		return monday, monday.AddDate(0, 0, 7)
	default: // monthly
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return start, start.AddDate(0, 1, 0)
	}
}

func roundMicro(v float64) float64 {
	const f = 1000000.0
	if v < 0 {
		return float64(int64(v*f-0.5)) / f
	}
	return float64(int64(v*f+0.5)) / f
}

func roundPercent(v float64) float64 {
	const f = 100.0
	return float64(int64(v*f+0.5)) / f
}
