// Package chi exposes the relay service over HTTP.
package chi

import (
	"encoding/json"
	"errors"
	"html"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/promptrelay/internal/domain"
	healthuc "github.com/kailas-cloud/promptrelay/internal/usecase/health"
	relayuc "github.com/kailas-cloud/promptrelay/internal/usecase/relay"
	usageuc "github.com/kailas-cloud/promptrelay/internal/usecase/usage"
)

// Error codes returned to clients.
const (
	codeBadRequest      = "bad_request"
	codeInvalidInput    = "invalid_input"
	codeQuotaExceeded   = "quota_exceeded"
	codeBudgetExhausted = "budget_exhausted"
	codeUpstreamError   = "upstream_error"
	codeInternalError   = "internal_error"
)

// errorResponse is the JSON error body.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server routes chat, session, and usage requests to the use case layer.
type Server struct {
	relay         *relayuc.Service
	usage         *usageuc.Service
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	relay *relayuc.Service,
	usage *usageuc.Service,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	s := &Server{
		relay:  relay,
		usage:  usage,
		health: health,
		logger: logger,
	}
	s.errorHandlers = []errorHandler{
		quotaExceededHandler,
		sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest, codeInvalidInput),
		sentinelHandler(domain.ErrBudgetExhausted, http.StatusPaymentRequired, codeBudgetExhausted),
		// Upstream details stay out of client responses; the log line carries them.
		sentinelHandler(domain.ErrRelayFailed, http.StatusBadGateway, codeUpstreamError),
		sentinelHandler(domain.ErrUpstream, http.StatusBadGateway, codeUpstreamError),
		sentinelHandler(domain.ErrMalformedResponse, http.StatusBadGateway, codeUpstreamError),
	}
	return s
}

// Register mounts all routes on the router.
func (s *Server) Register(r chi.Router) {
	r.Post("/api/v1/chat", s.Chat)
	r.Delete("/api/v1/sessions/{sessionID}", s.DeleteSession)
	r.Get("/api/v1/usage", s.GetUsage)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// chatRequest is the POST /api/v1/chat body.
type chatRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
}

// chatResponse is the POST /api/v1/chat reply.
type chatResponse struct {
	Answer     string `json:"answer"`
	Cached     bool   `json:"cached"`
	TokensUsed int    `json:"tokens_used"`
}

// Chat handles POST /api/v1/chat.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "session_id is required")
		return
	}

	result, err := s.relay.Relay(r.Context(), req.SessionID, clientIP(r), req.Question)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	// Answers are rendered into the widget's DOM; escape them server-side.
	writeJSON(w, http.StatusOK, chatResponse{
		Answer:     html.EscapeString(result.Answer),
		Cached:     result.Cached,
		TokensUsed: result.TokensUsed,
	})
}

// DeleteSession handles DELETE /api/v1/sessions/{sessionID}.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "session id is required")
		return
	}

	s.relay.ClearSession(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// usageResponse is the GET /api/v1/usage reply.
type usageResponse struct {
	SessionID         string       `json:"session_id"`
	Requests          int          `json:"requests"`
	Tokens            int          `json:"tokens"`
	MaxRequests       int          `json:"max_requests"`
	MaxTokens         int          `json:"max_tokens"`
	RemainingRequests int          `json:"remaining_requests"`
	RemainingTokens   int          `json:"remaining_tokens"`
	WindowResetAt     time.Time    `json:"window_reset_at"`
	Budget            *usageBudget `json:"budget,omitempty"`
}

type usageBudget struct {
	DailyLimit       int64 `json:"daily_limit"`
	DailyUsed        int64 `json:"daily_used"`
	DailyRemaining   int64 `json:"daily_remaining"`
	MonthlyLimit     int64 `json:"monthly_limit"`
	MonthlyUsed      int64 `json:"monthly_used"`
	MonthlyRemaining int64 `json:"monthly_remaining"`
}

// GetUsage handles GET /api/v1/usage?session_id=...
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "session_id query parameter is required")
		return
	}

	report := s.usage.GetReport(r.Context(), sessionID)

	resp := usageResponse{
		SessionID:         report.Session.SessionID,
		Requests:          report.Session.Requests,
		Tokens:            report.Session.Tokens,
		MaxRequests:       report.Session.MaxRequests,
		MaxTokens:         report.Session.MaxTokens,
		RemainingRequests: report.Session.RemainingRequests,
		RemainingTokens:   report.Session.RemainingTokens,
		WindowResetAt:     report.Session.WindowResetAt.UTC(),
	}
	if report.Budget != nil {
		resp.Budget = &usageBudget{
			DailyLimit:       report.Budget.DailyLimit,
			DailyUsed:        report.Budget.DailyUsed,
			DailyRemaining:   report.Budget.DailyRemaining,
			MonthlyLimit:     report.Budget.MonthlyLimit,
			MonthlyUsed:      report.Budget.MonthlyUsed,
			MonthlyRemaining: report.Budget.MonthlyRemaining,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// quotaExceededHandler handles ErrQuotaExceeded with a Retry-After header and
// limit details.
func quotaExceededHandler(w http.ResponseWriter, err error, msg string) bool {
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		return false
	}
	var qe *domain.QuotaExceededError
	if errors.As(err, &qe) {
		w.Header().Set("Retry-After", strconv.Itoa(qe.WaitSeconds))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"code":                codeQuotaExceeded,
			"message":             msg,
			"kind":                qe.Kind,
			"dimension":           qe.Dimension,
			"retry_after_seconds": qe.WaitSeconds,
			"reset_at":            qe.ResetAt.UTC(),
		})
		return true
	}
	writeError(w, http.StatusTooManyRequests, codeQuotaExceeded, msg)
	return true
}

// clientIP returns the originating client address: the first entry of
// X-Forwarded-For when present, otherwise the socket peer.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	var qe *domain.QuotaExceededError
	if errors.As(err, &qe) {
		return qe.Error()
	}
	if errors.Is(err, domain.ErrInvalidInput) {
		return err.Error()
	}
	sentinels := []error{
		domain.ErrQuotaExceeded,
		domain.ErrBudgetExhausted,
		domain.ErrRelayFailed,
		domain.ErrUpstream,
		domain.ErrMalformedResponse,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}
