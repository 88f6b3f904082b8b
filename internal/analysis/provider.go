// Package analysis turns a batch of reviews into LLM-written reports:
// a sentiment summary, user personas and improvement recommendations.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"reviewpulse/internal/llm"
	"reviewpulse/internal/review"
)

// ErrUnknownProvider is returned by NewProvider for names it does not serve.
var ErrUnknownProvider = errors.New("analysis: unknown provider")

// Provider produces the three analysis reports. apiKey is the caller's own
// provider key and is used for that call only.
type Provider interface {
	AnalyzeSentiment(ctx context.Context, apiKey string, reviews []review.Review) (string, error)
	CreatePersonas(ctx context.Context, apiKey string, reviews []review.Review) (string, error)
	GenerateImprovements(ctx context.Context, apiKey string, reviews []review.Review) (string, error)
}

// NewProvider returns the provider registered under name. Anthropic is not
// wired and falls back to the OpenAI-compatible client with a warning.
func NewProvider(name string, client llm.Client, model string, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch strings.ToLower(name) {
	case ProviderOpenAI:
		return newChatProvider(client, model, logger), nil
	case ProviderAnthropic:
		logger.Warn("anthropic provider is not available, using openai",
			zap.String("requested", name),
		)
		return newChatProvider(client, model, logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
}
