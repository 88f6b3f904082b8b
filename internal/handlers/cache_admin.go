package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"reviewpulse/internal/cache"
	"reviewpulse/pkg/logging/logging"
)

// CacheHandler exposes the administrative cache operations.
type CacheHandler struct {
	Store *cache.Store
	// AllowFlush gates clear-all. Only development deployments set it.
	AllowFlush bool
}

func NewCacheHandler(store *cache.Store, allowFlush bool) *CacheHandler {
	return &CacheHandler{Store: store, AllowFlush: allowFlush}
}

type clearResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	ClearedCount int    `json:"clearedCount"`
	Prefix       string `json:"prefix"`
}

// ClearPrefix handles DELETE /api/cache/clear/{prefix}.
func (h *CacheHandler) ClearPrefix(w http.ResponseWriter, r *http.Request) {
	prefix := strings.TrimSpace(chi.URLParam(r, "prefix"))
	if prefix == "" {
		respondError(w, http.StatusBadRequest, "cache prefix is required")
		return
	}

	logging.L(r.Context()).Info("cache clear requested", zap.String("prefix", prefix))
	n := h.Store.DeleteByPrefix(r.Context(), prefix)

	writeJSON(w, http.StatusOK, clearResponse{
		Success:      true,
		Message:      fmt.Sprintf("%d cache entries cleared", n),
		ClearedCount: n,
		Prefix:       prefix,
	})
}

// ClearAll handles DELETE /api/cache/clear-all.
func (h *CacheHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	if !h.AllowFlush {
		respondError(w, http.StatusForbidden, "clearing the whole cache is only allowed in development")
		return
	}

	logging.L(r.Context()).Warn("full cache clear requested")
	if !h.Store.ClearAll(r.Context()) {
		respondError(w, http.StatusInternalServerError, "cache could not be cleared")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "cache cleared",
	})
}

type cacheStatus struct {
	Connected bool `json:"connected"`
	Enabled   bool `json:"enabled"`
}

// Status handles GET /api/cache/status.
func (h *CacheHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status": cacheStatus{
			Connected: h.Store.Connected(r.Context()),
			Enabled:   h.Store.Enabled(),
		},
	})
}
