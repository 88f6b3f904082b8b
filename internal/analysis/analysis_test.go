package analysis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"reviewpulse/internal/llm"
	"reviewpulse/internal/review"
)

type fakeClient struct {
	mu    sync.Mutex
	reqs  []*llm.ChatRequest
	reply string
	err   error
}

func (f *fakeClient) ChatCompletion(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{
		Choices: []llm.ChatChoice{{Message: llm.ChatMessage{Role: llm.RoleAssistant, Content: f.reply}}},
	}, nil
}

func (f *fakeClient) last() *llm.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func sampleReviews() []review.Review {
	return []review.Review{
		{ID: "r1", Date: "2024-01-01", Score: "5", Text: "Great app"},
		{ID: "r2", Date: "2024-01-02", Score: "1", Text: "Crashes on login"},
	}
}

func TestNewProvider(t *testing.T) {
	client := &fakeClient{}
	logger := zaptest.NewLogger(t)

	p, err := NewProvider("openai", client, "", logger)
	require.NoError(t, err)
	assert.NotNil(t, p)

	p, err = NewProvider("Anthropic", client, "", logger)
	require.NoError(t, err, "anthropic falls back to openai")
	assert.NotNil(t, p)

	_, err = NewProvider("gemini", client, "", logger)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestProviderBuildsRequest(t *testing.T) {
	client := &fakeClient{reply: "mostly positive"}
	p, err := NewProvider(ProviderOpenAI, client, "gpt-test", zaptest.NewLogger(t))
	require.NoError(t, err)

	out, err := p.AnalyzeSentiment(context.Background(), "sk-user", sampleReviews())
	require.NoError(t, err)
	assert.Equal(t, "mostly positive", out)

	req := client.last()
	assert.Equal(t, "gpt-test", req.Model)
	assert.Equal(t, "sk-user", req.APIKey)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[1].Content, `"Crashes on login"`)
	assert.InDelta(t, 0.3, req.Temperature, 1e-6)
}

func TestProviderKindsUseDistinctPrompts(t *testing.T) {
	client := &fakeClient{reply: "ok"}
	p, err := NewProvider(ProviderOpenAI, client, "", zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = p.CreatePersonas(ctx, "k", sampleReviews())
	require.NoError(t, err)
	personas := client.last()

	_, err = p.GenerateImprovements(ctx, "k", sampleReviews())
	require.NoError(t, err)
	improvements := client.last()

	assert.Equal(t, DefaultModel, personas.Model)
	assert.NotEqual(t, personas.Messages[0].Content, improvements.Messages[0].Content)
	assert.InDelta(t, 0.4, personas.Temperature, 1e-6)
}

func TestProviderPropagatesErrors(t *testing.T) {
	upstream := &llm.UpstreamError{Status: 401, Message: "bad key"}
	client := &fakeClient{err: upstream}
	p, err := NewProvider(ProviderOpenAI, client, "", zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = p.AnalyzeSentiment(context.Background(), "k", sampleReviews())

	var ue *llm.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, 401, ue.Status)
	assert.Equal(t, "rejected", outcome(err))
}

func TestProviderRejectsEmptyAnswer(t *testing.T) {
	client := &fakeClient{reply: ""}
	p, err := NewProvider(ProviderOpenAI, client, "", zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = p.CreatePersonas(context.Background(), "k", sampleReviews())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty answer")
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "cancelled", outcome(context.Canceled))
	assert.Equal(t, "breaker_open", outcome(errors.Join(llm.ErrUnavailable, errors.New("open"))))
	assert.Equal(t, "error", outcome(&llm.UpstreamError{Status: 503}))
}

func TestRequestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr string
	}{
		{name: "defaults provider", req: Request{Reviews: sampleReviews(), Platform: "android"}},
		{name: "platform optional", req: Request{Reviews: sampleReviews()}},
		{name: "missing reviews", req: Request{Platform: "ios"}, wantErr: "reviews must be a non-empty array"},
		{name: "empty reviews", req: Request{Reviews: []review.Review{}}, wantErr: "reviews must be a non-empty array"},
		{name: "bad platform", req: Request{Reviews: sampleReviews(), Platform: "windows"}, wantErr: "platform must be one of"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			err := req.Normalize()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, strings.Contains(err.Error(), tt.wantErr), err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultProvider, req.Provider)
		})
	}
}

func TestRequestNormalizeLowercases(t *testing.T) {
	req := Request{Reviews: sampleReviews(), Platform: " IOS ", Provider: "OpenAI"}
	require.NoError(t, req.Normalize())
	assert.Equal(t, "ios", req.Platform)
	assert.Equal(t, "openai", req.Provider)
}
