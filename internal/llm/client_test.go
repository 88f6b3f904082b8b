package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{}, zaptest.NewLogger(t))
	if err == nil {
		t.Fatalf("expected validation error, got nil")
	}
}

func TestChatCompletionSuccess(t *testing.T) {
	t.Parallel()

	var gotReq wireRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}

		gotAuth = r.Header.Get("Authorization")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("unmarshal request: %v", err)
		}

		writeCompletion(t, w, "response")
	}))
	defer srv.Close()

	client := newTestClient(t, Config{BaseURL: srv.URL, APIKey: "test-key"})

	req := &ChatRequest{
		Model: "gpt-4o-mini",
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: "You analyse app reviews."},
			{Role: RoleUser, Content: "ping"},
		},
		Temperature: 0.3,
		MaxTokens:   50,
	}

	resp, err := client.ChatCompletion(context.Background(), req)
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected Authorization header: %s", gotAuth)
	}
	if gotReq.Model != req.Model {
		t.Fatalf("expected model %s, got %s", req.Model, gotReq.Model)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[1].Content != "ping" {
		t.Fatalf("unexpected request messages: %#v", gotReq.Messages)
	}
	if resp.Text() != "response" {
		t.Fatalf("unexpected response text: %q", resp.Text())
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 5 {
		t.Fatalf("usage not mapped correctly: %#v", resp.Usage)
	}
}

func TestChatCompletionPerRequestKey(t *testing.T) {
	t.Parallel()

	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		writeCompletion(t, w, "ok")
	}))
	defer srv.Close()

	client := newTestClient(t, Config{BaseURL: srv.URL, APIKey: "fallback"})

	req := userRequest("hi")
	req.APIKey = "sk-user"
	if _, err := client.ChatCompletion(context.Background(), req); err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if got := gotAuth.Load(); got != "Bearer sk-user" {
		t.Fatalf("expected request key to win, got %v", got)
	}
}

func TestChatCompletionMissingKey(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("server should not be called without a key")
	}))
	defer srv.Close()

	client := newTestClient(t, Config{BaseURL: srv.URL})

	_, err := client.ChatCompletion(context.Background(), userRequest("hi"))
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestChatCompletionValidationError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("server should not be called for invalid request")
	}))
	defer srv.Close()

	client := newTestClient(t, Config{BaseURL: srv.URL, APIKey: "key"})

	_, err := client.ChatCompletion(context.Background(), &ChatRequest{})
	if err == nil || !strings.Contains(err.Error(), "invalid request") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestChatCompletionUpstreamError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	client := newTestClient(t, Config{BaseURL: srv.URL, APIKey: "bad"})

	_, err := client.ChatCompletion(context.Background(), userRequest("hi"))

	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UpstreamError, got %T %v", err, err)
	}
	if ue.Status != http.StatusUnauthorized || ue.Type != "invalid_request_error" {
		t.Fatalf("unexpected upstream error: %+v", ue)
	}
	if !ue.ClientFault() {
		t.Fatalf("401 should be a client fault")
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not be retried, got %d calls", calls.Load())
	}
}

func TestChatCompletionRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeCompletion(t, w, "second time lucky")
	}))
	defer srv.Close()

	client := newTestClient(t, Config{
		BaseURL:     srv.URL,
		APIKey:      "key",
		BaseBackoff: time.Millisecond,
	})

	resp, err := client.ChatCompletion(context.Background(), userRequest("hi"))
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if resp.Text() != "second time lucky" {
		t.Fatalf("unexpected text: %q", resp.Text())
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestCircuitBreakerOpens(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, Config{
		BaseURL:            srv.URL,
		APIKey:             "key",
		MaxRetries:         1,
		BaseBackoff:        time.Millisecond,
		BreakerMinRequests: 2,
		BreakerOpenTimeout: time.Minute,
	})

	for i := 0; i < 2; i++ {
		if _, err := client.ChatCompletion(context.Background(), userRequest("hi")); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}
	before := calls.Load()

	_, err := client.ChatCompletion(context.Background(), userRequest("hi"))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable once the breaker is open, got %v", err)
	}
	if calls.Load() != before {
		t.Fatalf("open breaker must not reach the provider")
	}
}

func TestClientFaultsDoNotTripBreaker(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := newTestClient(t, Config{
		BaseURL:            srv.URL,
		APIKey:             "key",
		BreakerMinRequests: 2,
	})

	for i := 0; i < 5; i++ {
		_, err := client.ChatCompletion(context.Background(), userRequest("hi"))
		if errors.Is(err, ErrUnavailable) {
			t.Fatalf("call %d: breaker tripped on client faults", i)
		}
	}
}

func TestComputeBackoffBounds(t *testing.T) {
	t.Parallel()

	for attempt := 0; attempt < 20; attempt++ {
		d := computeBackoff(100*time.Millisecond, attempt)
		if d < 0 || d > maxBackoff {
			t.Fatalf("attempt %d: backoff %v out of range", attempt, d)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	cases := map[string]time.Duration{
		"":       0,
		"3":      3 * time.Second,
		"-1":     0,
		"soon":   0,
		"100000": maxRetryAfter,
	}
	for header, want := range cases {
		resp := &http.Response{Header: http.Header{}}
		if header != "" {
			resp.Header.Set("Retry-After", header)
		}
		if got := parseRetryAfter(resp); got != want {
			t.Fatalf("Retry-After %q: expected %v, got %v", header, want, got)
		}
	}
}

func newTestClient(t *testing.T, cfg Config) Client {
	t.Helper()

	client, err := NewClient(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { closeClient(client) })
	return client
}

func userRequest(content string) *ChatRequest {
	return &ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []ChatMessage{{Role: RoleUser, Content: content}},
	}
}

func writeCompletion(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()

	resp := wireResponse{
		ID:      "chatcmpl-1",
		Object:  "chat.completion",
		Created: time.Unix(1_700_000_000, 0).Unix(),
		Model:   "gpt-4o-mini",
		Choices: []wireChoice{{
			Message:      ChatMessage{Role: RoleAssistant, Content: content},
			FinishReason: "stop",
		}},
		Usage: &Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func closeClient(c Client) {
	if closer, ok := c.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}
