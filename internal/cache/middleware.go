package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"reviewpulse/internal/metrics"
	"reviewpulse/pkg/logging/logging"
)

// storeTimeout bounds the background write after a miss.
const storeTimeout = 2 * time.Second

// ReadThrough caches successful JSON responses of GET endpoints under
// namespace for ttl. The key is built from the chi URL params merged with the
// query string (query wins on a name clash).
//
// A hit is answered from the store and the wrapped handler does not run. On a
// miss the handler runs normally; a 2xx JSON body is then written to the store
// in the background so the response is never held up by the cache.
//
// With a disabled store the wrapped handler is returned as is.
func ReadThrough(store *Store, namespace string, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil || !store.Enabled() {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			key := BuildKey(namespace, requestParams(r))

			var cached json.RawMessage
			if store.Get(ctx, key, &cached) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Cache", "HIT")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(cached)
				return
			}

			w.Header().Set("X-Cache", "MISS")
			rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.statusCode < 200 || rec.statusCode >= 300 {
				return
			}
			body := bytes.TrimSpace(rec.body.Bytes())
			if len(body) == 0 || !json.Valid(body) {
				return
			}

			payload := json.RawMessage(bytes.Clone(body))
			go storeDetached(ctx, store, namespace, key, payload, ttl)
		})
	}
}

// storeDetached writes payload outside the request lifetime. The Store has
// already logged any availability change, so a failed write is only counted.
func storeDetached(reqCtx context.Context, store *Store, namespace, key string, payload json.RawMessage, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(reqCtx), storeTimeout)
	defer cancel()

	if !store.Set(ctx, key, payload, ttl) {
		metrics.CacheRequestsTotal.WithLabelValues(namespace, "store_failed").Inc()
		logging.L(ctx).Debug("cache_store_failed",
			zap.String("namespace", namespace),
			zap.String("cache_key", key),
		)
	}
}

// requestParams merges route params and query values. Repeated query values
// are joined with ",".
func requestParams(r *http.Request) map[string]any {
	params := make(map[string]any)

	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		for i, k := range rctx.URLParams.Keys {
			if k == "" || k == "*" {
				continue
			}
			if i < len(rctx.URLParams.Values) {
				params[k] = rctx.URLParams.Values[i]
			}
		}
	}

	for k, vs := range r.URL.Query() {
		params[k] = strings.Join(vs, ",")
	}

	return params
}

// responseRecorder passes the response through while keeping a copy of the
// status and body.
type responseRecorder struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.statusCode = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.wroteHeader = true
	}
	if r.statusCode >= 200 && r.statusCode < 300 {
		r.body.Write(b)
	}
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
