package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"reviewpulse/internal/analysis"
	"reviewpulse/internal/cache"
	"reviewpulse/internal/llm"
	"reviewpulse/internal/middleware"
	"reviewpulse/internal/review"
	"reviewpulse/pkg/logging/logging"
)

const (
	NamespaceSentiment    = "analysis:sentiment"
	NamespacePersonas     = "analysis:personas"
	NamespaceImprovements = "analysis:improvements"
	NamespaceFull         = "analysis:full"
)

// ProviderFactory resolves a provider name from the request body.
type ProviderFactory func(name string) (analysis.Provider, error)

// AnalysisHandler serves the LLM analysis endpoints. Results are cached by
// platform, provider and review fingerprint.
type AnalysisHandler struct {
	Store     *cache.Store
	TTL       time.Duration
	Providers ProviderFactory
}

func NewAnalysisHandler(store *cache.Store, ttl time.Duration, providers ProviderFactory) *AnalysisHandler {
	return &AnalysisHandler{Store: store, TTL: ttl, Providers: providers}
}

// Result is the body of the single analysis endpoints.
type Result struct {
	Result string `json:"result"`
}

// FullResult is the body of /full-analysis.
type FullResult struct {
	SentimentAnalysis string `json:"sentimentAnalysis"`
	Personas          string `json:"personas"`
	Improvements      string `json:"improvements"`
}

type analysisCall struct {
	req      analysis.Request
	apiKey   string
	provider analysis.Provider
}

func (c analysisCall) keyInput() cache.KeyInput {
	return cache.KeyInput{
		Platform: c.req.Platform,
		Provider: c.req.Provider,
		Reviews:  c.req.Reviews,
	}
}

type runFunc func(ctx context.Context, apiKey string, reviews []review.Review) (string, error)

func (h *AnalysisHandler) Sentiment(w http.ResponseWriter, r *http.Request) {
	h.single(w, r, NamespaceSentiment, func(p analysis.Provider) runFunc { return p.AnalyzeSentiment })
}

func (h *AnalysisHandler) Personas(w http.ResponseWriter, r *http.Request) {
	h.single(w, r, NamespacePersonas, func(p analysis.Provider) runFunc { return p.CreatePersonas })
}

func (h *AnalysisHandler) Improvements(w http.ResponseWriter, r *http.Request) {
	h.single(w, r, NamespaceImprovements, func(p analysis.Provider) runFunc { return p.GenerateImprovements })
}

func (h *AnalysisHandler) single(w http.ResponseWriter, r *http.Request, namespace string, pick func(analysis.Provider) runFunc) {
	call, ok := h.prepare(w, r, namespace)
	if !ok {
		return
	}

	text, err := h.cached(r.Context(), namespace, call, pick(call.provider))
	if err != nil {
		h.fail(w, r, namespace, err)
		return
	}
	respondData(w, Result{Result: text})
}

// Full handles POST /api/analysis/full-analysis. The three analyses run
// concurrently and each is cached under its own namespace as well.
func (h *AnalysisHandler) Full(w http.ResponseWriter, r *http.Request) {
	call, ok := h.prepare(w, r, NamespaceFull)
	if !ok {
		return
	}

	out, err := cache.WithCache(r.Context(), h.Store, NamespaceFull, call.keyInput(), h.TTL,
		func(ctx context.Context) (FullResult, error) {
			var res FullResult
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() (err error) {
				res.SentimentAnalysis, err = h.cached(gctx, NamespaceSentiment, call, call.provider.AnalyzeSentiment)
				return err
			})
			g.Go(func() (err error) {
				res.Personas, err = h.cached(gctx, NamespacePersonas, call, call.provider.CreatePersonas)
				return err
			})
			g.Go(func() (err error) {
				res.Improvements, err = h.cached(gctx, NamespaceImprovements, call, call.provider.GenerateImprovements)
				return err
			})
			if err := g.Wait(); err != nil {
				return FullResult{}, err
			}
			return res, nil
		})
	if err != nil {
		h.fail(w, r, NamespaceFull, err)
		return
	}
	respondData(w, out)
}

func (h *AnalysisHandler) cached(ctx context.Context, namespace string, call analysisCall, run runFunc) (string, error) {
	return cache.WithCache(ctx, h.Store, namespace, call.keyInput(), h.TTL,
		func(ctx context.Context) (string, error) {
			return run(ctx, call.apiKey, call.req.Reviews)
		})
}

// prepare decodes and validates the body, checks the key and resolves the
// provider. It answers the request itself when any step fails.
func (h *AnalysisHandler) prepare(w http.ResponseWriter, r *http.Request, namespace string) (analysisCall, bool) {
	logger := logging.L(r.Context())

	var req analysis.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return analysisCall{}, false
		}
		logger.Warn("invalid analysis request", zap.Error(err))
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return analysisCall{}, false
	}
	if err := req.Normalize(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return analysisCall{}, false
	}

	apiKey := r.Header.Get(middleware.APIKeyHeader)
	if apiKey == "" {
		respondError(w, http.StatusUnauthorized, "API key is missing")
		return analysisCall{}, false
	}

	provider, err := h.Providers(req.Provider)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return analysisCall{}, false
	}

	logger.Info("analysis requested",
		zap.String("analysis", namespace),
		zap.String("platform", req.Platform),
		zap.String("provider", req.Provider),
		zap.Int("review_count", len(req.Reviews)),
	)
	return analysisCall{req: req, apiKey: apiKey, provider: provider}, true
}

func (h *AnalysisHandler) fail(w http.ResponseWriter, r *http.Request, namespace string, err error) {
	logging.L(r.Context()).Error("analysis failed",
		zap.String("analysis", namespace),
		zap.Error(err),
	)

	var ue *llm.UpstreamError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "analysis timed out")
	case errors.Is(err, llm.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, "analysis provider temporarily unavailable")
	case errors.As(err, &ue):
		respondError(w, http.StatusBadGateway, ue.Message)
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
