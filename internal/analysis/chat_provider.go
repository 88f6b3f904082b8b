package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"reviewpulse/internal/llm"
	"reviewpulse/internal/metrics"
	"reviewpulse/internal/review"
	"reviewpulse/pkg/logging/logging"
)

const DefaultModel = "gpt-4o-mini"

// Kind names one analysis report.
type Kind string

const (
	KindSentiment    Kind = "sentiment"
	KindPersonas     Kind = "personas"
	KindImprovements Kind = "improvements"
)

type prompt struct {
	system      string
	instruction string
	temperature float32
	maxTokens   int
}

var prompts = map[Kind]prompt{
	KindSentiment: {
		system: "You are an expert in analysing user reviews. Determine the overall " +
			"sentiment, the main topics and the most pressing problems.",
		instruction: "Analyse the following mobile app reviews. Give a detailed report on " +
			"sentiment, common complaints, praise and suggested fixes:",
		temperature: 0.3,
		maxTokens:   2000,
	},
	KindPersonas: {
		system: "You are a user experience researcher. Derive distinct user personas " +
			"from the reviews.",
		instruction: "Create between 3 and 5 user personas from the following mobile app " +
			"reviews. For each persona describe behaviour, needs, expectations and experience level:",
		temperature: 0.4,
		maxTokens:   2000,
	},
	KindImprovements: {
		system: "You are a product consultant. Turn user feedback into concrete " +
			"improvement recommendations.",
		instruction: "Propose prioritised improvements based on the following mobile app " +
			"reviews. Recommendations must be concrete and actionable:",
		temperature: 0.3,
		maxTokens:   2000,
	},
}

type chatProvider struct {
	client llm.Client
	model  string
	logger *zap.Logger
}

func newChatProvider(client llm.Client, model string, logger *zap.Logger) *chatProvider {
	if model == "" {
		model = DefaultModel
	}
	return &chatProvider{client: client, model: model, logger: logger}
}

func (p *chatProvider) AnalyzeSentiment(ctx context.Context, apiKey string, reviews []review.Review) (string, error) {
	return p.run(ctx, KindSentiment, apiKey, reviews)
}

func (p *chatProvider) CreatePersonas(ctx context.Context, apiKey string, reviews []review.Review) (string, error) {
	return p.run(ctx, KindPersonas, apiKey, reviews)
}

func (p *chatProvider) GenerateImprovements(ctx context.Context, apiKey string, reviews []review.Review) (string, error) {
	return p.run(ctx, KindImprovements, apiKey, reviews)
}

func (p *chatProvider) run(ctx context.Context, kind Kind, apiKey string, reviews []review.Review) (string, error) {
	pr, ok := prompts[kind]
	if !ok {
		return "", fmt.Errorf("analysis: no prompt for %q", kind)
	}

	payload, err := json.Marshal(reviews)
	if err != nil {
		return "", fmt.Errorf("analysis: encode reviews: %w", err)
	}

	logger := logging.L(ctx).With(
		zap.String("analysis", string(kind)),
		zap.Int("review_count", len(reviews)),
	)
	logger.Info("analysis starting")
	start := time.Now()

	resp, err := p.client.ChatCompletion(ctx, &llm.ChatRequest{
		Model: p.model,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: pr.system},
			{Role: llm.RoleUser, Content: pr.instruction + "\n\n" + string(payload)},
		},
		Temperature: pr.temperature,
		MaxTokens:   pr.maxTokens,
		APIKey:      apiKey,
	})
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(string(kind), outcome(err)).Inc()
		logger.Error("analysis failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return "", fmt.Errorf("analysis: %s: %w", kind, err)
	}

	text := resp.Text()
	if text == "" {
		metrics.LLMRequestsTotal.WithLabelValues(string(kind), "empty").Inc()
		return "", fmt.Errorf("analysis: %s: provider returned an empty answer", kind)
	}

	metrics.LLMRequestsTotal.WithLabelValues(string(kind), "ok").Inc()
	logger.Info("analysis completed", zap.Duration("duration", time.Since(start)))
	return text, nil
}

func outcome(err error) string {
	var ue *llm.UpstreamError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, llm.ErrUnavailable):
		return "breaker_open"
	case errors.As(err, &ue) && ue.ClientFault():
		return "rejected"
	default:
		return "error"
	}
}
