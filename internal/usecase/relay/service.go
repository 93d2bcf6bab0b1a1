// Package relay orchestrates one chat question through quota checks, the
// response cache, and the completion API.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kailas-cloud/promptrelay/internal/domain"
	"github.com/kailas-cloud/promptrelay/internal/metrics"
)

// Config holds relay pacing and validation settings.
type Config struct {
	MaxPromptChars int           // longest accepted question, in runes (default 500)
	RequestDelay   time.Duration // minimum spacing between upstream calls per session
}

// Result is the answer to one relayed question.
type Result struct {
	Answer     string
	TokensUsed int
	Cached     bool
}

// Service relays chat questions to the completion API. Quota checks run before
// any spend; a cache hit short-circuits the upstream call entirely.
type Service struct {
	ledger    Ledger
	cache     Cache
	enricher  Enricher
	completer domain.Completer
	budget    Budget
	cfg       Config
	logger    *zap.Logger

	mu       sync.Mutex
	lastCall map[string]time.Time
	now      func() time.Time
}

// New creates a relay service.
func New(
	ledger Ledger, cache Cache, enricher Enricher,
	completer domain.Completer, budget Budget,
	cfg Config, logger *zap.Logger,
) *Service {
	if cfg.MaxPromptChars <= 0 {
		cfg.MaxPromptChars = 500
	}
	return &Service{
		ledger:    ledger,
		cache:     cache,
		enricher:  enricher,
		completer: completer,
		budget:    budget,
		cfg:       cfg,
		logger:    logger,
		lastCall:  make(map[string]time.Time),
		now:       time.Now,
	}
}

// Relay answers one question for a session. ip may be empty when the client
// address is unknown; IP accounting is skipped then.
//
// Usage is recorded only after a successful completion, so a failed upstream
// call costs the caller nothing. The quota check precedes the recording of the
// same request, which lets the request at the ceiling through and rejects the
// next one.
func (s *Service) Relay(ctx context.Context, sessionID, ip, question string) (Result, error) {
	question, err := s.validate(question)
	if err != nil {
		metrics.RelayRequestsTotal.WithLabelValues("rejected").Inc()
		return Result{}, err
	}

	if err := s.ledger.CheckSession(sessionID); err != nil {
		s.noteRejection(err)
		return Result{}, err
	}
	if ip != "" {
		if err := s.ledger.CheckIP(ip); err != nil {
			s.noteRejection(err)
			return Result{}, err
		}
	}

	if answer, ok := s.cache.Lookup(sessionID, question); ok {
		// A served cache entry still counts as one request against the IP,
		// with zero tokens.
		if ip != "" {
			s.ledger.RecordIP(ip, sessionID, 0)
		}
		metrics.RelayRequestsTotal.WithLabelValues("cached").Inc()
		return Result{Answer: answer, Cached: true}, nil
	}

	if err := s.pace(ctx, sessionID); err != nil {
		metrics.RelayRequestsTotal.WithLabelValues("failed").Inc()
		return Result{}, err
	}

	if err := s.budget.Check(ctx); err != nil {
		metrics.RelayRequestsTotal.WithLabelValues("rejected").Inc()
		return Result{}, err
	}

	prompt := s.enricher.Enrich(question)

	completion, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		s.logger.Warn("completion failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		metrics.RelayRequestsTotal.WithLabelValues("failed").Inc()
		return Result{}, fmt.Errorf("%w: %w", domain.ErrRelayFailed, err)
	}

	s.ledger.RecordSession(sessionID, completion.TokensUsed)
	if ip != "" {
		s.ledger.RecordIP(ip, sessionID, completion.TokensUsed)
	}
	s.budget.Record(int64(completion.TokensUsed))
	s.cache.Store(sessionID, question, completion.Text)

	metrics.RelayRequestsTotal.WithLabelValues("completed").Inc()
	return Result{Answer: completion.Text, TokensUsed: completion.TokensUsed}, nil
}

// ClearSession drops the session's usage counters and cached answers.
func (s *Service) ClearSession(sessionID string) {
	s.ledger.ClearSession(sessionID)
	s.cache.ClearSession(sessionID)

	s.mu.Lock()
	delete(s.lastCall, sessionID)
	s.mu.Unlock()
}

// validate trims the question and enforces the length ceiling in runes.
func (s *Service) validate(question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("%w: empty question", domain.ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(question); n > s.cfg.MaxPromptChars {
		return "", fmt.Errorf("%w: question is %d characters, limit is %d",
			domain.ErrInvalidInput, n, s.cfg.MaxPromptChars)
	}
	return question, nil
}

// pace delays until the session's minimum spacing since its previous upstream
// call has elapsed. Context cancellation aborts the wait.
func (s *Service) pace(ctx context.Context, sessionID string) error {
	if s.cfg.RequestDelay <= 0 {
		return nil
	}

	s.mu.Lock()
	now := s.now()
	wait := s.cfg.RequestDelay - now.Sub(s.lastCall[sessionID])
	s.lastCall[sessionID] = now
	if wait > 0 {
		s.lastCall[sessionID] = now.Add(wait)
	}
	s.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

func (s *Service) noteRejection(err error) {
	metrics.RelayRequestsTotal.WithLabelValues("rejected").Inc()

	var qe *domain.QuotaExceededError
	if errors.As(err, &qe) {
		metrics.QuotaRejectionsTotal.WithLabelValues(string(qe.Kind), string(qe.Dimension)).Inc()
	}
}
