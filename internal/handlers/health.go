package handlers

import (
	"net/http"
	"time"

	"reviewpulse/internal/cache"
)

type HealthHandler struct {
	Store        *cache.Store
	Version      string
	Environment  string
	CacheEnabled bool // configured, regardless of whether the store answers
}

type healthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Version     string    `json:"version"`
	Environment string    `json:"environment"`
	Services    struct {
		Redis struct {
			Status  string `json:"status"`
			Enabled bool   `json:"enabled"`
		} `json:"redis"`
	} `json:"services"`
}

// Health always answers 200: the service works without its cache.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	var resp healthResponse
	resp.Status = "ok"
	resp.Timestamp = time.Now().UTC()
	resp.Version = h.Version
	resp.Environment = h.Environment

	resp.Services.Redis.Enabled = h.CacheEnabled
	resp.Services.Redis.Status = "disconnected"
	if h.Store != nil && h.Store.Connected(r.Context()) {
		resp.Services.Redis.Status = "connected"
	}

	writeJSON(w, http.StatusOK, resp)
}
