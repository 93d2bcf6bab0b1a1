package domain

import "context"

// Completer is the shared completion contract between layers.
// Implementations talk to exactly one upstream API and translate its
// response/error shape; retries and caching are the caller's decision.
type Completer interface {
	Complete(ctx context.Context, prompt string) (CompletionResult, error)
}

// HealthChecker verifies completion provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CompletionResult carries the completion text and token usage.
type CompletionResult struct {
	Text       string
	TokensUsed int
}
