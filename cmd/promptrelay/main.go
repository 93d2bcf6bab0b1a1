package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	budgetuc "github.com/kailas-cloud/promptrelay/internal/budget"
	"github.com/kailas-cloud/promptrelay/internal/config"
	"github.com/kailas-cloud/promptrelay/internal/db"
	dbRedis "github.com/kailas-cloud/promptrelay/internal/db/redis"
	logpkg "github.com/kailas-cloud/promptrelay/internal/logger"
	"github.com/kailas-cloud/promptrelay/internal/metrics"
	"github.com/kailas-cloud/promptrelay/internal/prompt"
	"github.com/kailas-cloud/promptrelay/internal/quota"
	budgetrepo "github.com/kailas-cloud/promptrelay/internal/repository/budget"
	"github.com/kailas-cloud/promptrelay/internal/repository/respcache"
	chiTransport "github.com/kailas-cloud/promptrelay/internal/transport/chi"
	openaiTransport "github.com/kailas-cloud/promptrelay/internal/transport/openai"
	healthuc "github.com/kailas-cloud/promptrelay/internal/usecase/health"
	relayuc "github.com/kailas-cloud/promptrelay/internal/usecase/relay"
	usageuc "github.com/kailas-cloud/promptrelay/internal/usecase/usage"
	"github.com/kailas-cloud/promptrelay/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting promptrelay API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("model", cfg.Upstream.Model),
	)

	ctx := context.Background()

	// Optional key-value store, used only for budget persistence
	var store db.Store
	if len(cfg.Database.Addrs) > 0 {
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Password: cfg.Database.Password,
		})
		if err != nil {
			logger.Fatal("Failed to create database store", zap.Error(err))
		}
		defer store.Close()

		if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
			logger.Fatal("Database not ready", zap.Error(err))
		}
		logger.Info("Connected to database")
	}

	// Register relay metrics explicitly (no init())
	metrics.RegisterRelayMetrics()

	// Single spend tracker shared across the relay and usage services.
	var budget *budgetuc.Tracker
	budgetCfg := cfg.Relay.Budget
	if budgetCfg.DailyTokenLimit > 0 || budgetCfg.MonthlyTokenLimit > 0 {
		action := budgetuc.ActionWarn
		if budgetCfg.Action == "reject" {
			action = budgetuc.ActionReject
		}
		budget = budgetuc.NewTracker(
			cfg.Upstream.Model, budgetCfg.DailyTokenLimit, budgetCfg.MonthlyTokenLimit, action, logger,
		)
		// Connect persistence store — loads current counters from DB.
		if store != nil {
			budgetStore := budgetrepo.New(store, 48*time.Hour, 62*24*time.Hour)
			budget.WithStore(ctx, budgetStore)
		}
	}

	// Pass nil interface (not typed nil pointer!) if budget is not configured.
	var budgetGuard relayuc.Budget = noopBudget{}
	var budgetReader usageuc.BudgetReader
	if budget != nil {
		budgetGuard = budget
		budgetReader = budget
	}

	ledger := quota.NewLedger(quota.Config{
		SessionExpiry: time.Duration(cfg.Relay.SessionExpiryMs) * time.Millisecond,
		SweepInterval: time.Duration(cfg.Relay.CleanupIntervalMs) * time.Millisecond,
		SessionLimits: quota.Limits{
			MaxRequests: cfg.Relay.SessionLimits.RequestsPerHour,
			MaxTokens:   cfg.Relay.SessionLimits.TokensPerHour,
		},
		IPLimits: quota.Limits{
			MaxRequests: cfg.Relay.IPLimits.RequestsPerHour,
			MaxTokens:   cfg.Relay.IPLimits.TokensPerHour,
		},
	}, logger)

	cache := respcache.New(
		time.Duration(cfg.Relay.CacheDurationMs)*time.Millisecond,
		metrics.ResponseCacheTotal,
		logger,
	)

	completer := openaiTransport.NewCompleter(&openaiTransport.Config{
		APIKey:           cfg.Upstream.APIKey,
		BaseURL:          cfg.Upstream.BaseURL,
		Model:            cfg.Upstream.Model,
		MaxTokens:        cfg.Upstream.MaxTokens,
		Temperature:      cfg.Upstream.Temperature,
		PresencePenalty:  cfg.Upstream.PresencePenalty,
		FrequencyPenalty: cfg.Upstream.FrequencyPenalty,
		Timeout:          time.Duration(cfg.Upstream.TimeoutSec) * time.Second,
		Logger:           logger,
	})

	relaySvc := relayuc.New(
		ledger, cache, prompt.NewEnricher(), completer, budgetGuard,
		relayuc.Config{
			MaxPromptChars: cfg.Relay.MaxPromptChars,
			RequestDelay:   time.Duration(cfg.Relay.RequestDelayMs) * time.Millisecond,
		},
		logger,
	)
	usageSvc := usageuc.New(ledger, budgetReader)

	var storePinger healthuc.StorePinger
	if store != nil {
		storePinger = store
	}
	healthSvc := healthuc.New(storePinger, completer)

	server := chiTransport.NewServer(relaySvc, usageSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// noopBudget is used when no spend caps are configured.
type noopBudget struct{}

func (noopBudget) Check(context.Context) error { return nil }
func (noopBudget) Record(int64)                {}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
