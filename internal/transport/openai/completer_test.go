package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/promptrelay/internal/domain"
	"github.com/kailas-cloud/promptrelay/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterRelayMetrics()
	os.Exit(m.Run())
}

// chatResponse mirrors the OpenAI-compatible chat completion response.
type chatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func chatOK(content string, totalTokens int) chatResponse {
	resp := chatResponse{ID: "chatcmpl-test", Object: "chat.completion", Model: "test-model"}
	resp.Choices = append(resp.Choices, struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	}{Index: 0, FinishReason: "stop"})
	resp.Choices[0].Message.Role = "assistant"
	resp.Choices[0].Message.Content = content
	resp.Usage.TotalTokens = totalTokens
	return resp
}

func testCompleter(baseURL string) *Completer {
	return NewCompleter(&Config{
		APIKey:    "test-key",
		BaseURL:   baseURL,
		Model:     "test-model",
		MaxTokens: 300,
		Logger:    zap.NewNop(),
	})
}

func TestCompleter_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			MaxTokens int `json:"max_tokens"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("unexpected model %q", req.Model)
		}
		if req.MaxTokens != 300 {
			t.Errorf("unexpected max_tokens %d", req.MaxTokens)
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "hello prompt" {
			t.Errorf("unexpected messages %+v", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatOK("Hello! How can I help?", 57))
	}))
	defer server.Close()

	result, err := testCompleter(server.URL).Complete(context.Background(), "hello prompt")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if result.Text != "Hello! How can I help?" {
		t.Errorf("unexpected text %q", result.Text)
	}
	if result.TokensUsed != 57 {
		t.Errorf("expected 57 tokens, got %d", result.TokensUsed)
	}
}

func TestCompleter_UpstreamStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"upstream exploded","type":"server_error"}}`))
	}))
	defer server.Close()

	_, err := testCompleter(server.URL).Complete(context.Background(), "hello")
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}

	var ue *domain.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatal("expected *domain.UpstreamError")
	}
	if ue.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", ue.StatusCode)
	}
}

func TestCompleter_MalformedNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"chatcmpl-test","object":"chat.completion","choices":[],"usage":{"total_tokens":5}}`))
	}))
	defer server.Close()

	_, err := testCompleter(server.URL).Complete(context.Background(), "hello")
	if !errors.Is(err, domain.ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestCompleter_MalformedEmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatOK("   ", 5))
	}))
	defer server.Close()

	_, err := testCompleter(server.URL).Complete(context.Background(), "hello")
	if !errors.Is(err, domain.ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestCompleter_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		json.NewEncoder(w).Encode(chatOK("too slow", 5))
	}))
	defer server.Close()

	c := NewCompleter(&Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "test-model",
		Timeout: 50 * time.Millisecond,
		Logger:  zap.NewNop(),
	})

	_, err := c.Complete(context.Background(), "hello")
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}

	var ue *domain.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *domain.UpstreamError, got %v", err)
	}
	if !ue.Timeout {
		t.Errorf("expected timeout flag set, got %+v", ue)
	}
}

func TestCompleter_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(chatOK("too late", 5))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testCompleter(server.URL).Complete(ctx, "hello")
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("expected ErrUpstream for canceled context, got %v", err)
	}
}

func TestCompleter_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[{"id":"test-model","object":"model"}]}`))
	}))
	defer server.Close()

	if err := testCompleter(server.URL).HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
}
