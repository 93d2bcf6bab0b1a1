package usage

import (
	"context"
	"testing"
	"time"

	"github.com/kailas-cloud/promptrelay/internal/quota"
)

// --- Mocks ---

type mockLedgerReader struct {
	snap   quota.Snapshot
	limits quota.Limits
}

func (m *mockLedgerReader) SessionUsage(string) quota.Snapshot { return m.snap }
func (m *mockLedgerReader) SessionLimits() quota.Limits        { return m.limits }

type mockBudgetReader struct {
	dailyLimit, monthlyLimit int64
	dailyUsed, monthlyUsed   int64
}

func (m *mockBudgetReader) DailyLimit() int64   { return m.dailyLimit }
func (m *mockBudgetReader) MonthlyLimit() int64 { return m.monthlyLimit }
func (m *mockBudgetReader) DailyUsed() int64    { return m.dailyUsed }
func (m *mockBudgetReader) MonthlyUsed() int64  { return m.monthlyUsed }
func (m *mockBudgetReader) RemainingDaily() int64 {
	return m.dailyLimit - m.dailyUsed
}
func (m *mockBudgetReader) RemainingMonthly() int64 {
	return m.monthlyLimit - m.monthlyUsed
}

// --- Tests ---

func TestGetReport(t *testing.T) {
	resetAt := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	ledger := &mockLedgerReader{
		snap:   quota.Snapshot{Requests: 12, Tokens: 3400, WindowResetAt: resetAt},
		limits: quota.Limits{MaxRequests: 50, MaxTokens: 20000},
	}
	br := &mockBudgetReader{dailyLimit: 100000, dailyUsed: 3400, monthlyLimit: 2000000, monthlyUsed: 3400}

	r := New(ledger, br).GetReport(context.Background(), "s1")

	if r.Session.SessionID != "s1" {
		t.Errorf("unexpected session id %q", r.Session.SessionID)
	}
	if r.Session.Requests != 12 || r.Session.Tokens != 3400 {
		t.Errorf("unexpected counters %d/%d", r.Session.Requests, r.Session.Tokens)
	}
	if r.Session.RemainingRequests != 38 {
		t.Errorf("expected 38 requests remaining, got %d", r.Session.RemainingRequests)
	}
	if r.Session.RemainingTokens != 16600 {
		t.Errorf("expected 16600 tokens remaining, got %d", r.Session.RemainingTokens)
	}
	if !r.Session.WindowResetAt.Equal(resetAt) {
		t.Errorf("unexpected reset time %v", r.Session.WindowResetAt)
	}
	if r.Budget == nil {
		t.Fatal("expected budget section")
	}
	if r.Budget.DailyRemaining != 96600 {
		t.Errorf("expected daily remaining 96600, got %d", r.Budget.DailyRemaining)
	}
}

func TestGetReport_UnlimitedLimits(t *testing.T) {
	ledger := &mockLedgerReader{snap: quota.Snapshot{Requests: 5}}

	r := New(ledger, nil).GetReport(context.Background(), "s1")

	if r.Session.RemainingRequests != -1 || r.Session.RemainingTokens != -1 {
		t.Errorf("expected -1 remaining for unlimited ceilings, got %d/%d",
			r.Session.RemainingRequests, r.Session.RemainingTokens)
	}
	if r.Budget != nil {
		t.Error("expected no budget section without a budget reader")
	}
}

func TestGetReport_OverCeilingClampsToZero(t *testing.T) {
	ledger := &mockLedgerReader{
		snap:   quota.Snapshot{Requests: 55, Tokens: 100},
		limits: quota.Limits{MaxRequests: 50, MaxTokens: 20000},
	}

	r := New(ledger, nil).GetReport(context.Background(), "s1")

	if r.Session.RemainingRequests != 0 {
		t.Errorf("expected 0 requests remaining when over ceiling, got %d", r.Session.RemainingRequests)
	}
}
