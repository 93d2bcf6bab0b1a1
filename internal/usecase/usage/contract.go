package usage

import "github.com/kailas-cloud/promptrelay/internal/quota"

// LedgerReader provides read-only access to usage counters.
type LedgerReader interface {
	SessionUsage(sessionID string) quota.Snapshot
	SessionLimits() quota.Limits
}

// BudgetReader provides read-only access to token spend state.
type BudgetReader interface {
	DailyLimit() int64
	MonthlyLimit() int64
	DailyUsed() int64
	MonthlyUsed() int64
	RemainingDaily() int64
	RemainingMonthly() int64
}
