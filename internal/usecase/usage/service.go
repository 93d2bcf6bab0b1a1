// Package usage builds per-session usage reports.
package usage

import (
	"context"
	"time"
)

// SessionReport describes one session's consumption within the current window.
// Remaining counts are -1 when the matching ceiling is unlimited.
type SessionReport struct {
	SessionID         string
	Requests          int
	Tokens            int
	MaxRequests       int
	MaxTokens         int
	RemainingRequests int
	RemainingTokens   int
	WindowResetAt     time.Time
}

// BudgetReport describes the process-wide token spend state.
type BudgetReport struct {
	DailyLimit       int64
	DailyUsed        int64
	DailyRemaining   int64
	MonthlyLimit     int64
	MonthlyUsed      int64
	MonthlyRemaining int64
}

// Report combines session and budget state.
type Report struct {
	Session SessionReport
	Budget  *BudgetReport
}

// Service handles usage reporting.
type Service struct {
	ledger LedgerReader
	br     BudgetReader
}

// New creates a Service. br can be nil (unlimited mode).
func New(ledger LedgerReader, br BudgetReader) *Service {
	return &Service{ledger: ledger, br: br}
}

// GetReport builds a usage report for the given session.
func (s *Service) GetReport(_ context.Context, sessionID string) Report {
	snap := s.ledger.SessionUsage(sessionID)
	limits := s.ledger.SessionLimits()

	report := Report{
		Session: SessionReport{
			SessionID:         sessionID,
			Requests:          snap.Requests,
			Tokens:            snap.Tokens,
			MaxRequests:       limits.MaxRequests,
			MaxTokens:         limits.MaxTokens,
			RemainingRequests: remaining(limits.MaxRequests, snap.Requests),
			RemainingTokens:   remaining(limits.MaxTokens, snap.Tokens),
			WindowResetAt:     snap.WindowResetAt,
		},
	}

	if s.br != nil {
		report.Budget = &BudgetReport{
			DailyLimit:       s.br.DailyLimit(),
			DailyUsed:        s.br.DailyUsed(),
			DailyRemaining:   s.br.RemainingDaily(),
			MonthlyLimit:     s.br.MonthlyLimit(),
			MonthlyUsed:      s.br.MonthlyUsed(),
			MonthlyRemaining: s.br.RemainingMonthly(),
		}
	}

	return report
}

func remaining(ceiling, used int) int {
	if ceiling <= 0 {
		return -1 // unlimited
	}
	left := ceiling - used
	if left < 0 {
		return 0
	}
	return left
}
