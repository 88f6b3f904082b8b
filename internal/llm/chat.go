package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	// Reviews travel inline in the user message, so bodies get large.
	maxBodyBytes    = 8 << 20
	maxMessageBytes = 4 << 20

	maxErrorBodyBytes = 64 << 10
)

// ErrMissingAPIKey is returned when neither the request nor the config
// carries a key.
var ErrMissingAPIKey = errors.New("llmclient: api key is required")

// ChatCompletion sends req upstream through the circuit breaker. The key in
// req.APIKey wins over the configured one.
func (c *client) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	body, apiKey, err := c.encode(req)
	if err != nil {
		return nil, err
	}

	log := c.logger.With(zap.String("model", req.Model))
	log.Debug("chat completion",
		zap.Int("messages", len(req.Messages)),
		zap.Int("body_bytes", len(body)),
	)

	began := time.Now()
	resp, err := c.guard(func() (*ChatResponse, error) {
		return c.send(ctx, apiKey, body)
	})
	took := zap.Duration("duration", time.Since(began))
	if err != nil {
		log.Warn("chat completion failed", took, zap.Error(err))
		return nil, err
	}

	log.Info("chat completion done", took,
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return resp, nil
}

// encode validates req and returns the wire body and the key to send.
func (c *client) encode(req *ChatRequest) ([]byte, string, error) {
	if req == nil {
		return nil, "", errors.New("llmclient: request is nil")
	}
	if err := req.Validate(); err != nil {
		return nil, "", fmt.Errorf("llmclient: invalid request: %w", err)
	}
	for i, m := range req.Messages {
		if n := len(m.Content); n > maxMessageBytes {
			return nil, "", fmt.Errorf("llmclient: messages[%d] is %d bytes, limit %d", i, n, maxMessageBytes)
		}
	}

	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = c.cfg.APIKey
	}
	if apiKey == "" {
		return nil, "", ErrMissingAPIKey
	}

	body, err := json.Marshal(toWire(req))
	if err != nil {
		return nil, "", fmt.Errorf("llmclient: encode request: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, "", fmt.Errorf("llmclient: request body is %d bytes, limit %d", len(body), maxBodyBytes)
	}
	return body, apiKey, nil
}

// send is one breaker-guarded call: retries included, bounded by
// UpstreamTimeout.
func (c *client) send(ctx context.Context, apiKey string, body []byte) (*ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.UpstreamTimeout)
	defer cancel()

	endpoint := c.cfg.BaseURL + "/v1/chat/completions"
	attempt := func(ctx context.Context, payload []byte) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("llmclient: new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+apiKey)
		return c.httpClient.Do(req)
	}

	resp, err := c.doWithRetry(ctx, body, attempt)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, decodeUpstreamError(resp.StatusCode, raw)
	}

	var wr wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, fmt.Errorf("llmclient: decode response: %w", err)
	}
	if len(wr.Choices) == 0 {
		return nil, errors.New("llmclient: response has no choices")
	}
	return wr.chatResponse(), nil
}
