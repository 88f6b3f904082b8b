package middleware

import (
	"bytes"
	"context"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"reviewpulse/pkg/logging/logging"
)

// Timeout cancels the request context after d and answers 504 if the handler
// has not written anything by then. Later writes from the handler are
// discarded.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			log := logging.L(r.Context())
			tw := &timeoutWriter{w: w, h: make(http.Header)}
			done := make(chan struct{})
			panicked := make(chan handlerPanic, 1)

			go func() {
				defer func() {
					v := recover()
					if v == nil {
						return
					}
					p := handlerPanic{value: v, stack: debug.Stack()}
					// decided under the lock the timeout path takes, so the
					// panic is either re-raised or logged, never lost
					tw.mu.Lock()
					defer tw.mu.Unlock()
					if tw.timedOut {
						logLatePanic(log, p)
						return
					}
					panicked <- p
				}()
				next.ServeHTTP(tw, r.WithContext(ctx))
				close(done)
			}()

			select {
			case p := <-panicked:
				panic(p.value)
			case <-done:
				tw.mu.Lock()
				defer tw.mu.Unlock()
				tw.flushTo(w)
			case <-ctx.Done():
				tw.mu.Lock()
				defer tw.mu.Unlock()
				tw.timedOut = true
				select {
				case p := <-panicked:
					logLatePanic(log, p)
				default:
				}
				if r.Context().Err() != nil {
					// client went away, nobody to answer
					return
				}
				log.Warn("request timeout", zap.Duration("timeout", d))
				writeError(w, http.StatusGatewayTimeout, "request timed out")
			}
		})
	}
}

type handlerPanic struct {
	value any
	stack []byte
}

func logLatePanic(log *zap.Logger, p handlerPanic) {
	log.Error("panic after request timeout",
		zap.Any("panic", p.value),
		zap.ByteString("stack", p.stack),
	)
}

// timeoutWriter buffers the handler's answer so that only one of the handler
// and the timeout path ever writes to the real ResponseWriter.
type timeoutWriter struct {
	w        http.ResponseWriter
	h        http.Header
	mu       sync.Mutex
	buf      bytes.Buffer
	status   int
	timedOut bool
}

func (tw *timeoutWriter) Header() http.Header { return tw.h }

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut || tw.status != 0 {
		return
	}
	tw.status = code
}

func (tw *timeoutWriter) Write(p []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	if tw.status == 0 {
		tw.status = http.StatusOK
	}
	return tw.buf.Write(p)
}

func (tw *timeoutWriter) flushTo(w http.ResponseWriter) {
	dst := w.Header()
	for k, vv := range tw.h {
		dst[k] = vv
	}
	if tw.status == 0 {
		tw.status = http.StatusOK
	}
	w.WriteHeader(tw.status)
	_, _ = w.Write(tw.buf.Bytes())
}
