package llm

import (
	"encoding/json"
	"net/http"
	"time"
)

// Wire shapes of the OpenAI-compatible /v1/chat/completions endpoint.

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float32       `json:"temperature,omitempty"`
	TopP        float32       `json:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

func toWire(r *ChatRequest) wireRequest {
	return wireRequest{
		Model:       r.Model,
		Messages:    r.Messages,
		Temperature: r.Temperature,
		TopP:        r.TopP,
		MaxTokens:   r.MaxTokens,
		Stop:        r.Stop,
	}
}

type wireChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

type wireResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

// chatResponse converts the wire answer. Usage is never nil on the result.
func (w wireResponse) chatResponse() *ChatResponse {
	choices := make([]ChatChoice, len(w.Choices))
	for i, c := range w.Choices {
		choices[i] = ChatChoice(c)
	}
	usage := Usage{}
	if w.Usage != nil {
		usage = *w.Usage
	}
	return &ChatResponse{
		ID:      w.ID,
		Created: time.Unix(w.Created, 0),
		Model:   w.Model,
		Choices: choices,
		Usage:   &usage,
	}
}

type wireError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// decodeUpstreamError builds an UpstreamError from a non-2xx body, falling
// back to the raw text when the provider did not send its error object.
func decodeUpstreamError(status int, body []byte) *UpstreamError {
	var we wireError
	if json.Unmarshal(body, &we) == nil && we.Error.Message != "" {
		return &UpstreamError{Status: status, Type: we.Error.Type, Message: we.Error.Message}
	}
	msg := clip(string(body), 200)
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &UpstreamError{Status: status, Message: msg}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
