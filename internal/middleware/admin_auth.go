package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"reviewpulse/pkg/logging/logging"
)

// APIKeyHeader carries both the admin key and the caller's LLM key.
const APIKeyHeader = "X-API-Key"

// AdminAuth admits requests whose X-API-Key equals adminKey. An empty
// adminKey locks the routes entirely.
func AdminAuth(adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(APIKeyHeader)
			if adminKey == "" || got == "" ||
				subtle.ConstantTimeCompare([]byte(got), []byte(adminKey)) != 1 {
				logging.L(r.Context()).Warn("unauthorized admin request",
					zap.String("path", r.URL.Path),
				)
				writeError(w, http.StatusUnauthorized, "not authorized for this operation")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg})
}
