package middleware

import "net/http"

// DefaultMaxBodySize matches what the dashboard posts for a full analysis.
const DefaultMaxBodySize = 10 << 20

// MaxBodySize caps request bodies at n bytes. Decoders reading past the cap
// get an *http.MaxBytesError.
func MaxBodySize(n int64) func(http.Handler) http.Handler {
	if n <= 0 {
		n = DefaultMaxBodySize
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > n {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}
