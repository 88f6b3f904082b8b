package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"reviewpulse/internal/analysis"
	"reviewpulse/internal/cache"
	"reviewpulse/internal/catalog"
	"reviewpulse/internal/handlers"
	"reviewpulse/internal/review"
)

type countingSource struct {
	reviewCalls atomic.Int32
}

func (s *countingSource) AppInfo(context.Context, catalog.AppQuery) (json.RawMessage, error) {
	return json.RawMessage(`{"title":"Wallet"}`), nil
}

func (s *countingSource) Reviews(_ context.Context, q catalog.ReviewQuery) ([]review.Review, error) {
	s.reviewCalls.Add(1)
	return []review.Review{{ID: q.AppID + "-1", Date: "2024-01-01", Score: "5"}}, nil
}

type nopProvider struct{}

func (nopProvider) AnalyzeSentiment(context.Context, string, []review.Review) (string, error) {
	return "ok", nil
}
func (nopProvider) CreatePersonas(context.Context, string, []review.Review) (string, error) {
	return "ok", nil
}
func (nopProvider) GenerateImprovements(context.Context, string, []review.Review) (string, error) {
	return "ok", nil
}

func newRouter(t *testing.T, store *cache.Store, src catalog.Source) *chi.Mux {
	t.Helper()

	r := chi.NewRouter()
	SetupRouter(r, Deps{
		Logger:   zaptest.NewLogger(t),
		Store:    store,
		Android:  handlers.NewCatalogHandler("android", src, ""),
		IOS:      handlers.NewCatalogHandler("ios", src, ""),
		Analysis: handlers.NewAnalysisHandler(store, time.Hour, func(string) (analysis.Provider, error) { return nopProvider{}, nil }),
		Cache:    handlers.NewCacheHandler(store, false),
		Health:   &handlers.HealthHandler{Store: store},

		AdminAPIKey:    "admin",
		RequestTimeout: 5 * time.Second,
		AppInfoTTL:     time.Hour,
		ReviewsTTL:     time.Hour,
	})
	return r
}

func newStore(t *testing.T) *cache.Store {
	t.Helper()
	mem := cache.NewMemoryBackend(time.Minute)
	t.Cleanup(func() { mem.Close() })
	return cache.NewStore(mem, cache.Options{Enabled: true})
}

func get(r http.Handler, url string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, url, nil))
	return rr
}

func TestReviewsReadThrough(t *testing.T) {
	src := &countingSource{}
	r := newRouter(t, newStore(t), src)

	first := get(r, "/api/android/reviews?appId=com.example&sort=recent")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	// the store write happens in the background
	var second *httptest.ResponseRecorder
	require.Eventually(t, func() bool {
		second = get(r, "/api/android/reviews?sort=recent&appId=com.example")
		return second.Header().Get("X-Cache") == "HIT"
	}, 2*time.Second, 10*time.Millisecond)

	assert.JSONEq(t, first.Body.String(), second.Body.String())

	// namespaces keep platforms apart
	ios := get(r, "/api/ios/reviews?appId=com.example&sort=recent")
	assert.Equal(t, "MISS", ios.Header().Get("X-Cache"))
}

func TestReviewsWithoutCache(t *testing.T) {
	src := &countingSource{}
	r := newRouter(t, cache.Disabled(), src)

	for i := 0; i < 3; i++ {
		rr := get(r, "/api/ios/reviews?appId=1")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, rr.Header().Get("X-Cache"))
	}
	assert.Equal(t, int32(3), src.reviewCalls.Load())
}

func TestAdminRoutesRequireKey(t *testing.T) {
	r := newRouter(t, newStore(t), &countingSource{})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/cache/clear/android", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodDelete, "/api/cache/clear/android:reviews", nil)
	req.Header.Set("X-API-Key", "admin")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"prefix":"android:reviews"`)

	req = httptest.NewRequest(http.MethodDelete, "/api/cache/clear-all", nil)
	req.Header.Set("X-API-Key", "admin")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAnalysisRoute(t *testing.T) {
	r := newRouter(t, newStore(t), &countingSource{})

	req := httptest.NewRequest(http.MethodPost, "/api/analysis/full-analysis",
		strings.NewReader(`{"platform":"ios","reviews":[{"id":"1","date":"d","score":5}]}`))
	req.Header.Set("X-API-Key", "sk")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"sentimentAnalysis":"ok"`)
}

func TestHealthAndMetrics(t *testing.T) {
	r := newRouter(t, newStore(t), &countingSource{})

	assert.Equal(t, http.StatusOK, get(r, "/health").Code)
	assert.Equal(t, http.StatusOK, get(r, "/metrics").Code)
	assert.Equal(t, http.StatusOK, get(r, "/api/cache/status").Code)
}

func TestRatingRouteKeyMergesPathParam(t *testing.T) {
	store := newStore(t)
	src := &countingSource{}
	r := newRouter(t, store, src)

	first := get(r, "/api/ios/reviews/rating/5?appId=1&maxPages=2")
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	assert.Contains(t, first.Body.String(), `"totalPages":2`)

	key := cache.BuildKey(NamespaceIOSRatingReviews, map[string]any{"appId": "1", "maxPages": "2", "rating": "5"})
	assert.Equal(t, "ios:reviews:rating:appId=1:maxPages=2:rating=5", key)
	require.Eventually(t, func() bool {
		var v json.RawMessage
		return store.Get(context.Background(), key, &v)
	}, 2*time.Second, 10*time.Millisecond)

	second := get(r, "/api/ios/reviews/rating/5?maxPages=2&appId=1")
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	// another rating is another key
	other := get(r, "/api/ios/reviews/rating/4?appId=1&maxPages=2")
	require.Equal(t, http.StatusOK, other.Code)
	assert.Equal(t, "MISS", other.Header().Get("X-Cache"))
	assert.Contains(t, other.Body.String(), `"data":[]`)
}

func TestRatingRouteRejectsOutOfRange(t *testing.T) {
	store := newStore(t)
	r := newRouter(t, store, &countingSource{})

	for i := 0; i < 2; i++ {
		rr := get(r, "/api/android/reviews/rating/9?appId=com.example")
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "MISS", rr.Header().Get("X-Cache"), "errors are never cached")
	}
}

func TestAllReviewsRoute(t *testing.T) {
	store := newStore(t)
	src := &countingSource{}
	r := newRouter(t, store, src)

	rr := get(r, "/api/android/reviews/all?appId=com.example&maxPages=3")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"totalPages":3`)
	assert.Equal(t, int32(3), src.reviewCalls.Load())

	key := cache.BuildKey(NamespaceAndroidAllReviews, map[string]any{"appId": "com.example", "maxPages": "3"})
	require.Eventually(t, func() bool {
		var v json.RawMessage
		return store.Get(context.Background(), key, &v)
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "HIT", get(r, "/api/android/reviews/all?maxPages=3&appId=com.example").Header().Get("X-Cache"))
	assert.Equal(t, int32(3), src.reviewCalls.Load())

	// the plain reviews route keeps its own key
	assert.Equal(t, "MISS", get(r, "/api/android/reviews?appId=com.example&maxPages=3").Header().Get("X-Cache"))
}
