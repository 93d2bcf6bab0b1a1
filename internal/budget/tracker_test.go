package budget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/promptrelay/internal/domain"
)

func TestTracker_RejectWhenExhausted(t *testing.T) {
	tr := NewTracker("gpt-4o-mini", 100, 0, ActionReject, zap.NewNop())

	tr.Record(100)

	err := tr.Check(context.Background())
	if !errors.Is(err, domain.ErrBudgetExhausted) {
		t.Fatalf("expected domain.ErrBudgetExhausted, got %v", err)
	}
}

func TestTracker_WarnWhenExhausted(t *testing.T) {
	tr := NewTracker("gpt-4o-mini", 100, 0, ActionWarn, zap.NewNop())

	tr.Record(200)

	err := tr.Check(context.Background())
	if err != nil {
		t.Fatalf("expected nil error for warn action, got %v", err)
	}
}

func TestTracker_MonthlyReject(t *testing.T) {
	tr := NewTracker("gpt-4o-mini", 0, 500, ActionReject, zap.NewNop())

	tr.Record(500)

	err := tr.Check(context.Background())
	if !errors.Is(err, domain.ErrBudgetExhausted) {
		t.Fatalf("expected domain.ErrBudgetExhausted for monthly cap, got %v", err)
	}
}

func TestTracker_UnlimitedWhenZero(t *testing.T) {
	tr := NewTracker("gpt-4o-mini", 0, 0, ActionReject, zap.NewNop())

	tr.Record(999999999)

	if err := tr.Check(context.Background()); err != nil {
		t.Fatalf("expected nil error for unlimited budget, got %v", err)
	}
}

func TestTracker_Remaining(t *testing.T) {
	tr := NewTracker("gpt-4o-mini", 1000, 10000, ActionWarn, zap.NewNop())

	tr.Record(300)

	if got := tr.RemainingDaily(); got != 700 {
		t.Errorf("expected daily remaining 700, got %d", got)
	}
	if got := tr.RemainingMonthly(); got != 9700 {
		t.Errorf("expected monthly remaining 9700, got %d", got)
	}
}

func TestTracker_RemainingUnlimited(t *testing.T) {
	tr := NewTracker("gpt-4o-mini", 0, 0, ActionWarn, zap.NewNop())

	if got := tr.RemainingDaily(); got != -1 {
		t.Errorf("expected -1 for unlimited daily, got %d", got)
	}
	if got := tr.RemainingMonthly(); got != -1 {
		t.Errorf("expected -1 for unlimited monthly, got %d", got)
	}
}

func TestTracker_DayRollover(t *testing.T) {
	tr := NewTracker("gpt-4o-mini", 100, 0, ActionReject, zap.NewNop())

	tr.Record(100)
	if err := tr.Check(context.Background()); err == nil {
		t.Fatal("expected rejection at daily cap")
	}

	// Pretend the last reset happened yesterday.
	tr.mu.Lock()
	tr.lastDayReset = tr.lastDayReset.Add(-24 * time.Hour)
	tr.mu.Unlock()

	if err := tr.Check(context.Background()); err != nil {
		t.Fatalf("expected budget cleared after day rollover, got %v", err)
	}
	if got := tr.DailyUsed(); got != 0 {
		t.Errorf("expected daily_used=0 after rollover, got %d", got)
	}
}

// --- Mock Store ---

type mockStore struct {
	mu     sync.Mutex
	data   map[string]int64
	getErr error
	incErr error
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string]int64)}
}

func (m *mockStore) IncrBy(_ context.Context, key string, val int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incErr != nil {
		return m.incErr
	}
	m.data[key] += val
	return nil
}

func (m *mockStore) Get(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return 0, m.getErr
	}
	return m.data[key], nil
}

func TestTracker_WithStore_LoadsValues(t *testing.T) {
	store := newMockStore()

	tr := NewTracker("gpt-4o-mini", 1000, 10000, ActionReject, zap.NewNop())
	store.data[tr.dailyKey(tr.lastDayReset)] = 300
	store.data[tr.monthlyKey(tr.lastMonthReset)] = 5000

	tr.WithStore(context.Background(), store)

	if tr.DailyUsed() != 300 {
		t.Errorf("expected daily_used=300, got %d", tr.DailyUsed())
	}
	if tr.MonthlyUsed() != 5000 {
		t.Errorf("expected monthly_used=5000, got %d", tr.MonthlyUsed())
	}
}

func TestTracker_Record_PersistsToStore(t *testing.T) {
	store := newMockStore()
	tr := NewTracker("gpt-4o-mini", 1000, 10000, ActionWarn, zap.NewNop())
	tr.WithStore(context.Background(), store)

	tr.Record(100)
	tr.Record(200)

	if tr.DailyUsed() != 300 {
		t.Errorf("expected daily_used=300, got %d", tr.DailyUsed())
	}

	dailyKey := tr.dailyKey(tr.lastDayReset)
	store.mu.Lock()
	val := store.data[dailyKey]
	store.mu.Unlock()
	if val != 300 {
		t.Errorf("expected store daily=300, got %d", val)
	}
}

func TestTracker_WithStore_LoadError(t *testing.T) {
	store := newMockStore()
	store.getErr = errors.New("connection refused")

	tr := NewTracker("gpt-4o-mini", 1000, 10000, ActionReject, zap.NewNop())
	tr.WithStore(context.Background(), store)

	if tr.DailyUsed() != 0 {
		t.Errorf("expected daily_used=0 on load error, got %d", tr.DailyUsed())
	}
}

func TestTracker_Record_StoreWriteError(t *testing.T) {
	store := newMockStore()
	store.incErr = errors.New("connection refused")

	tr := NewTracker("gpt-4o-mini", 1000, 10000, ActionWarn, zap.NewNop())
	tr.WithStore(context.Background(), store)

	// Write-behind failures must not lose the in-memory count.
	tr.Record(42)

	if tr.DailyUsed() != 42 {
		t.Errorf("expected daily_used=42 despite store error, got %d", tr.DailyUsed())
	}
}
