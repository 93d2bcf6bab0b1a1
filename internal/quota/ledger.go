// Package quota tracks per-session and per-IP usage against hourly ceilings.
package quota

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/promptrelay/internal/domain"
)

// Limits holds the per-window ceilings for one identity kind.
type Limits struct {
	MaxRequests int
	MaxTokens   int
}

// Config holds ledger windows and ceilings.
type Config struct {
	Window        time.Duration // counter window length (default 1h)
	SessionExpiry time.Duration // idle time before a record is dropped (default 2h)
	SweepInterval time.Duration // minimum interval between opportunistic sweeps (default 1h)
	SessionLimits Limits
	IPLimits      Limits
}

// Snapshot is a point-in-time view of one usage record.
type Snapshot struct {
	Requests       int
	Tokens         int
	WindowResetAt  time.Time
	LastActivityAt time.Time
}

// record holds counters for one key within the current window.
type record struct {
	requests       int
	tokens         int
	windowResetAt  time.Time
	lastActivityAt time.Time
}

// ipRecord adds the non-owning session back-references used to cascade cleanup.
type ipRecord struct {
	record
	sessions map[string]struct{}
}

// Ledger owns the session and IP usage maps. All mutation goes through its
// methods under a single mutex; no lock is held across any suspension point.
// Window resets are lazy: every read re-checks windowResetAt, so no background
// timer is needed. Stale records are swept opportunistically, at most once per
// SweepInterval, piggybacked on quota checks.
type Ledger struct {
	mu        sync.Mutex
	sessions  map[string]*record
	ips       map[string]*ipRecord
	cfg       Config
	lastSweep time.Time
	logger    *zap.Logger
	now       func() time.Time
}

// NewLedger creates a usage ledger. Zero config fields get defaults.
func NewLedger(cfg Config, logger *zap.Logger) *Ledger {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.SessionExpiry <= 0 {
		cfg.SessionExpiry = 2 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	return &Ledger{
		sessions:  make(map[string]*record),
		ips:       make(map[string]*ipRecord),
		cfg:       cfg,
		lastSweep: time.Now(),
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the time source. Test seam.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	l.lastSweep = now()
	return l
}

// SessionLimits returns the configured per-session ceilings.
func (l *Ledger) SessionLimits() Limits { return l.cfg.SessionLimits }

// IPLimits returns the configured per-IP ceilings.
func (l *Ledger) IPLimits() Limits { return l.cfg.IPLimits }

// SessionUsage returns the session record, lazily creating or resetting it.
// Touches lastActivityAt.
func (l *Ledger) SessionUsage(sessionID string) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionLocked(sessionID).snapshot()
}

// IPUsage returns the IP record, lazily creating or resetting it.
// Touches lastActivityAt.
func (l *Ledger) IPUsage(ip string) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ipLocked(ip).snapshot()
}

// CheckSession fails with a QuotaExceededError if the session is at or over
// either ceiling. The check precedes any increment, so the request that causes
// an overshoot still completes and the next one fails (soft ceiling).
func (l *Ledger) CheckSession(sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeSweepLocked()
	rec := l.sessionLocked(sessionID)
	return l.checkLocked(&rec.requests, &rec.tokens, rec.windowResetAt,
		domain.QuotaKindSession, l.cfg.SessionLimits, sessionID)
}

// CheckIP fails with a QuotaExceededError if the IP is at or over either ceiling.
func (l *Ledger) CheckIP(ip string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeSweepLocked()
	rec := l.ipLocked(ip)
	return l.checkLocked(&rec.requests, &rec.tokens, rec.windowResetAt,
		domain.QuotaKindIP, l.cfg.IPLimits, ip)
}

// RecordSession adds one request and tokensUsed tokens to the session counters.
func (l *Ledger) RecordSession(sessionID string, tokensUsed int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := l.sessionLocked(sessionID)
	rec.requests++
	rec.tokens += tokensUsed
}

// RecordIP adds one request and tokensUsed tokens to the IP counters and links
// sessionID into the IP's session set for cascade cleanup.
func (l *Ledger) RecordIP(ip, sessionID string, tokensUsed int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := l.ipLocked(ip)
	rec.requests++
	rec.tokens += tokensUsed
	if sessionID != "" {
		rec.sessions[sessionID] = struct{}{}
	}
}

// ExpireStale removes records idle longer than SessionExpiry. IP records lose
// dead session references first and are dropped only once their session set is
// empty and they are past expiry themselves.
func (l *Ledger) ExpireStale() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expireStaleLocked()
}

// ClearSession drops the session record and unlinks the session from every IP
// record, pruning IP records whose session set becomes empty.
func (l *Ledger) ClearSession(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.sessions, sessionID)
	for ip, rec := range l.ips {
		delete(rec.sessions, sessionID)
		if len(rec.sessions) == 0 {
			delete(l.ips, ip)
		}
	}
}

func (l *Ledger) sessionLocked(sessionID string) *record {
	now := l.now()
	rec, ok := l.sessions[sessionID]
	if !ok {
		rec = &record{windowResetAt: now.Add(l.cfg.Window)}
		l.sessions[sessionID] = rec
	}
	rec.touch(now, l.cfg.Window)
	return rec
}

func (l *Ledger) ipLocked(ip string) *ipRecord {
	now := l.now()
	rec, ok := l.ips[ip]
	if !ok {
		rec = &ipRecord{
			record:   record{windowResetAt: now.Add(l.cfg.Window)},
			sessions: make(map[string]struct{}),
		}
		l.ips[ip] = rec
	}
	rec.touch(now, l.cfg.Window)
	return rec
}

func (l *Ledger) checkLocked(
	requests, tokens *int, resetAt time.Time,
	kind domain.QuotaKind, limits Limits, key string,
) error {
	var dim domain.QuotaDimension
	var current, ceiling int

	switch {
	case limits.MaxRequests > 0 && *requests >= limits.MaxRequests:
		dim, current, ceiling = domain.QuotaDimensionRequests, *requests, limits.MaxRequests
	case limits.MaxTokens > 0 && *tokens >= limits.MaxTokens:
		dim, current, ceiling = domain.QuotaDimensionTokens, *tokens, limits.MaxTokens
	default:
		return nil
	}

	wait := int(math.Ceil(resetAt.Sub(l.now()).Seconds()))
	if wait < 0 {
		wait = 0
	}
	l.logger.Warn("quota exceeded",
		zap.String("kind", string(kind)),
		zap.String("key", key),
		zap.String("dimension", string(dim)),
		zap.Int("current", current),
		zap.Int("max", ceiling),
		zap.Time("reset_at", resetAt),
	)
	return &domain.QuotaExceededError{
		Kind:        kind,
		Dimension:   dim,
		Current:     current,
		Max:         ceiling,
		ResetAt:     resetAt,
		WaitSeconds: wait,
	}
}

// maybeSweepLocked runs the stale-record sweep at most once per SweepInterval.
func (l *Ledger) maybeSweepLocked() {
	now := l.now()
	if now.Sub(l.lastSweep) < l.cfg.SweepInterval {
		return
	}
	l.lastSweep = now
	l.expireStaleLocked()
}

func (l *Ledger) expireStaleLocked() {
	now := l.now()
	removed := 0

	for id, rec := range l.sessions {
		if now.Sub(rec.lastActivityAt) > l.cfg.SessionExpiry {
			delete(l.sessions, id)
			removed++
		}
	}

	for ip, rec := range l.ips {
		for sid := range rec.sessions {
			if _, alive := l.sessions[sid]; !alive {
				delete(rec.sessions, sid)
			}
		}
		if len(rec.sessions) == 0 && now.Sub(rec.lastActivityAt) > l.cfg.SessionExpiry {
			delete(l.ips, ip)
			removed++
		}
	}

	if removed > 0 {
		l.logger.Debug("expired stale usage records", zap.Int("removed", removed))
	}
}

// touch applies the lazy window reset and updates lastActivityAt.
func (r *record) touch(now time.Time, window time.Duration) {
	if !now.Before(r.windowResetAt) {
		r.requests = 0
		r.tokens = 0
		r.windowResetAt = now.Add(window)
	}
	r.lastActivityAt = now
}

func (r *record) snapshot() Snapshot {
	return Snapshot{
		Requests:       r.requests,
		Tokens:         r.tokens,
		WindowResetAt:  r.windowResetAt,
		LastActivityAt: r.lastActivityAt,
	}
}
