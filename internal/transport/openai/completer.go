// Package openai adapts the OpenAI-compatible completion API to the
// domain.Completer interface.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/promptrelay/internal/domain"
	"github.com/kailas-cloud/promptrelay/internal/metrics"
)

// Completer calls the completion API with fixed sampling parameters.
type Completer struct {
	client           *openai.Client
	model            string
	maxTokens        int
	temperature      float32
	presencePenalty  float32
	frequencyPenalty float32
	timeout          time.Duration
	logger           *zap.Logger
}

// Config holds the completion provider settings.
type Config struct {
	APIKey           string
	BaseURL          string
	Model            string
	MaxTokens        int
	Temperature      float32
	PresencePenalty  float32
	FrequencyPenalty float32
	Timeout          time.Duration
	Logger           *zap.Logger
}

// NewCompleter creates an OpenAI-compatible completion client.
func NewCompleter(cfg *Config) *Completer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Completer{
		client:           openai.NewClientWithConfig(clientCfg),
		model:            cfg.Model,
		maxTokens:        cfg.MaxTokens,
		temperature:      cfg.Temperature,
		presencePenalty:  cfg.PresencePenalty,
		frequencyPenalty: cfg.FrequencyPenalty,
		timeout:          cfg.Timeout,
		logger:           cfg.Logger,
	}
}

// Complete implements domain.Completer. Sends one prompt, no retries; a failed
// call surfaces to the caller as an upstream or malformed-response error.
func (c *Completer) Complete(ctx context.Context, prompt string) (domain.CompletionResult, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:        c.maxTokens,
		Temperature:      c.temperature,
		PresencePenalty:  c.presencePenalty,
		FrequencyPenalty: c.frequencyPenalty,
	}

	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, req)

	duration := time.Since(start)

	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues(c.model, "error").Inc()
		return domain.CompletionResult{}, parseAPIError(err)
	}

	if len(resp.Choices) == 0 {
		metrics.UpstreamRequestsTotal.WithLabelValues(c.model, "error").Inc()
		return domain.CompletionResult{}, fmt.Errorf("no choices in completion: %w", domain.ErrMalformedResponse)
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		metrics.UpstreamRequestsTotal.WithLabelValues(c.model, "error").Inc()
		return domain.CompletionResult{}, fmt.Errorf("empty completion text: %w", domain.ErrMalformedResponse)
	}

	metrics.UpstreamRequestsTotal.WithLabelValues(c.model, "success").Inc()
	metrics.UpstreamRequestDuration.WithLabelValues(c.model).Observe(duration.Seconds())

	tokens := resp.Usage.TotalTokens
	if tokens > 0 {
		metrics.UpstreamTokensTotal.WithLabelValues(c.model).Add(float64(tokens))
	}

	return domain.CompletionResult{Text: text, TokensUsed: tokens}, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (c *Completer) HealthCheck(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// parseAPIError maps client errors onto the domain taxonomy. All of them
// unwrap to domain.ErrUpstream for 502 mapping at the transport layer.
func parseAPIError(err error) error {
	if isTimeout(err) {
		return domain.NewUpstreamTimeout(err.Error())
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractMessage(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
		return domain.NewUpstreamError(reqErr.HTTPStatusCode, detail)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return domain.NewUpstreamError(apiErr.HTTPStatusCode, apiErr.Message)
	}

	return domain.NewUpstreamError(0, err.Error())
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// extractMessage pulls the error message out of an OpenAI-style JSON error body.
func extractMessage(body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return ""
}
