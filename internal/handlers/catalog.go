package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"reviewpulse/internal/catalog"
	"reviewpulse/internal/review"
	"reviewpulse/pkg/logging/logging"
)

// CatalogHandler serves app-info and reviews for one store. Caching is
// applied around it by the router.
type CatalogHandler struct {
	Source       catalog.Source
	Platform     string
	DefaultAppID string
}

func NewCatalogHandler(platform string, source catalog.Source, defaultAppID string) *CatalogHandler {
	return &CatalogHandler{
		Source:       source,
		Platform:     platform,
		DefaultAppID: defaultAppID,
	}
}

func (h *CatalogHandler) appID(r *http.Request) string {
	if id := r.URL.Query().Get("appId"); id != "" {
		return id
	}
	return h.DefaultAppID
}

// AppInfo handles GET /api/{platform}/app-info.
func (h *CatalogHandler) AppInfo(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	appID := h.appID(r)
	if appID == "" {
		respondError(w, http.StatusBadRequest, "appId is required")
		return
	}

	info, err := h.Source.AppInfo(r.Context(), catalog.AppQuery{
		AppID:   appID,
		Country: q.Get("country"),
		Lang:    q.Get("lang"),
	})
	if err != nil {
		h.fail(w, r, "app info", appID, err)
		return
	}
	respondData(w, info)
}

// Reviews handles GET /api/{platform}/reviews.
func (h *CatalogHandler) Reviews(w http.ResponseWriter, r *http.Request) {
	q, ok := h.reviewQuery(w, r)
	if !ok {
		return
	}

	reviews, err := h.Source.Reviews(r.Context(), q)
	if err != nil {
		h.fail(w, r, "reviews", q.AppID, err)
		return
	}
	respondData(w, reviews)
}

// reviewPages is the body of the endpoints that read several pages.
type reviewPages struct {
	Success    bool            `json:"success"`
	Data       []review.Review `json:"data"`
	TotalPages int             `json:"totalPages"`
}

// AllReviews handles GET /api/{platform}/reviews/all, reading pages until the
// store runs out or maxPages (default 10) is reached.
func (h *CatalogHandler) AllReviews(w http.ResponseWriter, r *http.Request) {
	q, ok := h.reviewQuery(w, r)
	if !ok {
		return
	}
	maxPages, ok := h.maxPages(w, r, catalog.DefaultAllPages)
	if !ok {
		return
	}

	reviews, pages, err := catalog.Collect(r.Context(), h.Source, q, maxPages, nil)
	if err != nil {
		h.fail(w, r, "reviews", q.AppID, err)
		return
	}
	writeJSON(w, http.StatusOK, reviewPages{Success: true, Data: reviews, TotalPages: pages})
}

// ratingOverscan is how many reviews are requested per review wanted, since
// most of a page is filtered out.
const ratingOverscan = 3

// RatingReviews handles GET /api/{platform}/reviews/rating/{rating}: up to
// limit reviews whose rounded score equals rating, from at most maxPages
// (default 5) pages.
func (h *CatalogHandler) RatingReviews(w http.ResponseWriter, r *http.Request) {
	stars, err := strconv.Atoi(chi.URLParam(r, "rating"))
	if err != nil || stars < 1 || stars > 5 {
		respondError(w, http.StatusBadRequest, "rating must be between 1 and 5")
		return
	}
	q, ok := h.reviewQuery(w, r)
	if !ok {
		return
	}
	maxPages, ok := h.maxPages(w, r, catalog.DefaultRatingPages)
	if !ok {
		return
	}

	limit := q.Limit
	if limit == 0 {
		limit = catalog.DefaultLimit
	}
	q.Limit = limit * ratingOverscan

	reviews, pages, err := catalog.Collect(r.Context(), h.Source, q, maxPages, catalog.WithStars(stars))
	if err != nil {
		h.fail(w, r, "reviews", q.AppID, err)
		return
	}
	if len(reviews) > limit {
		reviews = reviews[:limit]
	}
	writeJSON(w, http.StatusOK, reviewPages{Success: true, Data: reviews, TotalPages: pages})
}

// reviewQuery reads appId, country, lang, sort, page and limit, answering 400
// itself when they are unusable.
func (h *CatalogHandler) reviewQuery(w http.ResponseWriter, r *http.Request) (catalog.ReviewQuery, bool) {
	q := r.URL.Query()
	appID := h.appID(r)
	if appID == "" {
		respondError(w, http.StatusBadRequest, "appId is required")
		return catalog.ReviewQuery{}, false
	}

	page, ok := intParam(q.Get("page"))
	if !ok {
		respondError(w, http.StatusBadRequest, "page must be a positive integer")
		return catalog.ReviewQuery{}, false
	}
	limit, ok := intParam(q.Get("limit"))
	if !ok {
		respondError(w, http.StatusBadRequest, "limit must be a positive integer")
		return catalog.ReviewQuery{}, false
	}

	return catalog.ReviewQuery{
		AppID:   appID,
		Country: q.Get("country"),
		Lang:    q.Get("lang"),
		Sort:    q.Get("sort"),
		Page:    page,
		Limit:   limit,
	}, true
}

func (h *CatalogHandler) maxPages(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	n, ok := intParam(r.URL.Query().Get("maxPages"))
	if !ok {
		respondError(w, http.StatusBadRequest, "maxPages must be a positive integer")
		return 0, false
	}
	if n == 0 {
		n = def
	}
	return n, true
}

func (h *CatalogHandler) fail(w http.ResponseWriter, r *http.Request, what, appID string, err error) {
	logging.L(r.Context()).Error("store request failed",
		zap.String("platform", h.Platform),
		zap.String("resource", what),
		zap.String("app_id", appID),
		zap.Error(err),
	)

	if errors.Is(err, catalog.ErrNotFound) {
		respondError(w, http.StatusNotFound, h.Platform+" app not found")
		return
	}
	respondError(w, http.StatusServiceUnavailable,
		h.Platform+" "+what+" temporarily unavailable")
}

// intParam parses an optional positive integer. Empty means "use default".
func intParam(s string) (int, bool) {
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
