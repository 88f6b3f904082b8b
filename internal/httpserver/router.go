package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"reviewpulse/internal/cache"
	"reviewpulse/internal/handlers"
	"reviewpulse/internal/metrics"
	"reviewpulse/internal/middleware"
)

// Cache namespaces of the store endpoints.
// The multi-page namespaces sit under the reviews one, so clearing
// "android:reviews" clears them too.
const (
	NamespaceAndroidAppInfo       = "android:app-info"
	NamespaceAndroidReviews       = "android:reviews"
	NamespaceAndroidAllReviews    = "android:reviews:all"
	NamespaceAndroidRatingReviews = "android:reviews:rating"
	NamespaceIOSAppInfo           = "ios:app-info"
	NamespaceIOSReviews           = "ios:reviews"
	NamespaceIOSAllReviews        = "ios:reviews:all"
	NamespaceIOSRatingReviews     = "ios:reviews:rating"
)

// Deps is everything the router wires together.
type Deps struct {
	Logger *zap.Logger
	Store  *cache.Store

	Android  *handlers.CatalogHandler
	IOS      *handlers.CatalogHandler
	Analysis *handlers.AnalysisHandler
	Cache    *handlers.CacheHandler
	Health   *handlers.HealthHandler

	AdminAPIKey    string
	RequestTimeout time.Duration
	AppInfoTTL     time.Duration
	ReviewsTTL     time.Duration
}

func SetupRouter(r *chi.Mux, d Deps) {
	r.Use(metrics.Middleware)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.APIKeyHeader},
		ExposedHeaders: []string{"X-Cache", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Use(middleware.LoggingContext(d.Logger))
	r.Use(middleware.Recoverer())
	r.Use(middleware.Timeout(d.RequestTimeout))
	r.Use(middleware.MaxBodySize(middleware.DefaultMaxBodySize))

	r.Route("/api", func(r chi.Router) {
		r.Route("/android", func(r chi.Router) {
			r.With(cache.ReadThrough(d.Store, NamespaceAndroidAppInfo, d.AppInfoTTL)).
				Get("/app-info", d.Android.AppInfo)
			r.With(cache.ReadThrough(d.Store, NamespaceAndroidReviews, d.ReviewsTTL)).
				Get("/reviews", d.Android.Reviews)
			r.With(cache.ReadThrough(d.Store, NamespaceAndroidAllReviews, d.ReviewsTTL)).
				Get("/reviews/all", d.Android.AllReviews)
			r.With(cache.ReadThrough(d.Store, NamespaceAndroidRatingReviews, d.ReviewsTTL)).
				Get("/reviews/rating/{rating}", d.Android.RatingReviews)
		})

		r.Route("/ios", func(r chi.Router) {
			r.With(cache.ReadThrough(d.Store, NamespaceIOSAppInfo, d.AppInfoTTL)).
				Get("/app-info", d.IOS.AppInfo)
			r.With(cache.ReadThrough(d.Store, NamespaceIOSReviews, d.ReviewsTTL)).
				Get("/reviews", d.IOS.Reviews)
			r.With(cache.ReadThrough(d.Store, NamespaceIOSAllReviews, d.ReviewsTTL)).
				Get("/reviews/all", d.IOS.AllReviews)
			r.With(cache.ReadThrough(d.Store, NamespaceIOSRatingReviews, d.ReviewsTTL)).
				Get("/reviews/rating/{rating}", d.IOS.RatingReviews)
		})

		r.Route("/analysis", func(r chi.Router) {
			r.Post("/sentiment", d.Analysis.Sentiment)
			r.Post("/personas", d.Analysis.Personas)
			r.Post("/improvements", d.Analysis.Improvements)
			r.Post("/full-analysis", d.Analysis.Full)
		})

		r.Route("/cache", func(r chi.Router) {
			r.Get("/status", d.Cache.Status)
			r.Group(func(r chi.Router) {
				r.Use(middleware.AdminAuth(d.AdminAPIKey))
				r.Delete("/clear/{prefix}", d.Cache.ClearPrefix)
				r.Delete("/clear-all", d.Cache.ClearAll)
			})
		})
	})

	r.Get("/health", d.Health.Health)
	r.Handle("/metrics", metrics.Handler())
}
