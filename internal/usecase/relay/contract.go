package relay

import "context"

// Ledger tracks per-session and per-IP usage within the current window.
type Ledger interface {
	CheckSession(sessionID string) error
	CheckIP(ip string) error
	RecordSession(sessionID string, tokensUsed int)
	RecordIP(ip, sessionID string, tokensUsed int)
	ClearSession(sessionID string)
}

// Cache stores completed answers keyed by session and prompt.
type Cache interface {
	Lookup(sessionID, prompt string) (string, bool)
	Store(sessionID, prompt, response string)
	ClearSession(sessionID string)
}

// Enricher wraps a raw question with domain instructions and examples.
type Enricher interface {
	Enrich(question string) string
}

// Budget guards process-wide upstream token spend.
type Budget interface {
	Check(ctx context.Context) error
	Record(tokens int64)
}
