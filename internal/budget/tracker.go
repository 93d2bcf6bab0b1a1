// Package budget tracks process-wide upstream token spend against daily and
// monthly caps.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/promptrelay/internal/domain"
	"github.com/kailas-cloud/promptrelay/internal/metrics"
)

// Action defines behavior when the spend cap is reached.
type Action string

const (
	// ActionWarn logs a warning but allows the request.
	ActionWarn Action = "warn"
	// ActionReject blocks the request.
	ActionReject Action = "reject"
)

// Store is the persistence interface for spend counters.
// Implementations must be idempotent (IncrBy can be called repeatedly).
type Store interface {
	IncrBy(ctx context.Context, key string, val int64) error
	Get(ctx context.Context, key string) (int64, error)
}

// Tracker is an in-memory token spend tracker with optional persistence.
// Hot path (Check) is in-memory only, no round-trip.
// Record updates in-memory first, then write-behind to the store.
type Tracker struct {
	mu             sync.Mutex
	dailyUsed      int64
	monthlyUsed    int64
	dailyLimit     int64
	monthlyLimit   int64
	action         Action
	model          string
	lastDayReset   time.Time
	lastMonthReset time.Time
	store          Store
	logger         *zap.Logger
}

// NewTracker creates a spend tracker with the given caps. A zero limit means
// that dimension is unlimited.
func NewTracker(model string, dailyLimit, monthlyLimit int64, action Action, logger *zap.Logger) *Tracker {
	now := time.Now().UTC()
	return &Tracker{
		dailyLimit:     dailyLimit,
		monthlyLimit:   monthlyLimit,
		action:         action,
		model:          model,
		lastDayReset:   truncateToDay(now),
		lastMonthReset: truncateToMonth(now),
		logger:         logger,
	}
}

// WithStore attaches a persistence store and loads current counters, so a
// restart does not forget the spend already accumulated today.
func (t *Tracker) WithStore(ctx context.Context, store Store) *Tracker {
	t.store = store
	t.loadFromStore(ctx)
	return t
}

func (t *Tracker) loadFromStore(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()

	if val, err := t.store.Get(ctx, t.dailyKey(now)); err == nil {
		t.dailyUsed = val
	} else {
		t.logger.Warn("Failed to load daily spend from store", zap.Error(err))
	}

	if val, err := t.store.Get(ctx, t.monthlyKey(now)); err == nil {
		t.monthlyUsed = val
	} else {
		t.logger.Warn("Failed to load monthly spend from store", zap.Error(err))
	}

	t.logger.Info("Spend budget loaded from store",
		zap.String("model", t.model),
		zap.Int64("daily_used", t.dailyUsed),
		zap.Int64("monthly_used", t.monthlyUsed),
	)
	t.updateGaugesLocked()
}

func (t *Tracker) dailyKey(ts time.Time) string {
	return fmt.Sprintf("%sbudget:%s:daily:%s", domain.KeyPrefix, t.model, ts.Format("2006-01-02"))
}

func (t *Tracker) monthlyKey(ts time.Time) string {
	return fmt.Sprintf("%sbudget:%s:monthly:%s", domain.KeyPrefix, t.model, ts.Format("2006-01"))
}

// Check verifies the budget allows a new request. In-memory only (hot path).
func (t *Tracker) Check(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfNeeded()

	dailyExceeded := t.dailyLimit > 0 && t.dailyUsed >= t.dailyLimit
	monthlyExceeded := t.monthlyLimit > 0 && t.monthlyUsed >= t.monthlyLimit

	if !dailyExceeded && !monthlyExceeded {
		return nil
	}

	if t.action == ActionReject {
		return domain.ErrBudgetExhausted
	}

	// action=warn: log but allow the request through
	t.logger.Warn("Token spend cap exceeded",
		zap.String("model", t.model),
		zap.Int64("daily_used", t.dailyUsed),
		zap.Int64("daily_limit", t.dailyLimit),
		zap.Int64("monthly_used", t.monthlyUsed),
		zap.Int64("monthly_limit", t.monthlyLimit),
	)
	return nil
}

// Record registers consumed tokens after a completed request.
// Updates in-memory counters, then write-behind to the store (if attached).
func (t *Tracker) Record(tokens int64) {
	t.mu.Lock()
	t.resetIfNeeded()
	t.dailyUsed += tokens
	t.monthlyUsed += tokens
	t.updateGaugesLocked()
	store := t.store
	now := time.Now().UTC()
	dailyKey := t.dailyKey(now)
	monthlyKey := t.monthlyKey(now)
	t.mu.Unlock()

	if store == nil {
		return
	}

	// Write-behind: fire-and-forget INCRBY so store writes don't block the caller.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := store.IncrBy(ctx, dailyKey, tokens); err != nil {
		t.logger.Warn("Failed to persist daily spend", zap.String("key", dailyKey), zap.Error(err))
	}
	if err := store.IncrBy(ctx, monthlyKey, tokens); err != nil {
		t.logger.Warn("Failed to persist monthly spend", zap.String("key", monthlyKey), zap.Error(err))
	}
}

// RemainingDaily returns tokens left under the daily cap (-1 if unlimited).
func (t *Tracker) RemainingDaily() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfNeeded()
	return remaining(t.dailyLimit, t.dailyUsed)
}

// RemainingMonthly returns tokens left under the monthly cap (-1 if unlimited).
func (t *Tracker) RemainingMonthly() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfNeeded()
	return remaining(t.monthlyLimit, t.monthlyUsed)
}

// DailyLimit returns the daily token cap.
func (t *Tracker) DailyLimit() int64 { return t.dailyLimit }

// MonthlyLimit returns the monthly token cap.
func (t *Tracker) MonthlyLimit() int64 { return t.monthlyLimit }

// DailyUsed returns tokens consumed today.
func (t *Tracker) DailyUsed() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetIfNeeded()
	return t.dailyUsed
}

// MonthlyUsed returns tokens consumed this month.
func (t *Tracker) MonthlyUsed() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetIfNeeded()
	return t.monthlyUsed
}

func (t *Tracker) updateGaugesLocked() {
	if t.dailyLimit > 0 {
		metrics.BudgetTokensRemaining.WithLabelValues("daily").Set(float64(remaining(t.dailyLimit, t.dailyUsed)))
	}
	if t.monthlyLimit > 0 {
		metrics.BudgetTokensRemaining.WithLabelValues("monthly").Set(float64(remaining(t.monthlyLimit, t.monthlyUsed)))
	}
}

func remaining(limit, used int64) int64 {
	if limit == 0 {
		return -1 // unlimited
	}
	left := limit - used
	if left < 0 {
		return 0
	}
	return left
}

// resetIfNeeded zeroes counters when the day or month rolls over.
func (t *Tracker) resetIfNeeded() {
	now := time.Now().UTC()
	today := truncateToDay(now)
	thisMonth := truncateToMonth(now)

	if today.After(t.lastDayReset) {
		t.dailyUsed = 0
		t.lastDayReset = today
	}
	if thisMonth.After(t.lastMonthReset) {
		t.monthlyUsed = 0
		t.lastMonthReset = thisMonth
	}
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func truncateToMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
