package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"reviewpulse/internal/metrics"
	"reviewpulse/pkg/logging/logging"
)

// Options configures a Store.
type Options struct {
	// Enabled is the process-wide switch. When false the Store never touches
	// its backend and every call is a no-op.
	Enabled bool
	Logger  *zap.Logger
}

// Store is the only way the rest of the service touches the cache. It is a
// best-effort accelerator: no method returns an error, and a broken or
// missing backend degrades to "always miss".
type Store struct {
	backend Backend
	enabled bool
	logger  *zap.Logger

	// refused is sticky: once the store refuses a connection caching stays
	// off until restart.
	refused   atomic.Bool
	available atomic.Bool

	flight singleflight.Group
}

// NewStore takes ownership of backend. A nil backend yields a disabled store.
func NewStore(backend Backend, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		backend: backend,
		enabled: opts.Enabled && backend != nil,
		logger:  logger.Named("cache"),
	}
	s.available.Store(true)
	if s.enabled {
		metrics.CacheStoreAvailable.Set(1)
	} else {
		metrics.CacheStoreAvailable.Set(0)
	}
	return s
}

// Disabled returns a store with caching switched off.
func Disabled() *Store {
	return NewStore(nil, Options{})
}

// Enabled reports whether the store will try its backend at all.
func (s *Store) Enabled() bool {
	return s.enabled && !s.refused.Load()
}

// Get decodes the value at key into dest and reports whether it did. Misses,
// store errors and undecodable payloads all return false.
func (s *Store) Get(ctx context.Context, key string, dest any) bool {
	if !s.Enabled() {
		return false
	}

	data, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		s.observe(ctx, err)
		return false
	}
	s.markAvailable()
	if !ok {
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		logging.L(ctx).Warn("cache_decode_error",
			zap.String("cache_key", key),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Set JSON-encodes value and writes it with the given ttl, replacing whatever
// was there. It reports success; failures are logged, never returned.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	if !s.enabled {
		return true
	}
	if s.refused.Load() {
		return false
	}

	data, err := json.Marshal(value)
	if err != nil {
		logging.L(ctx).Warn("cache_encode_error",
			zap.String("cache_key", key),
			zap.Error(err),
		)
		return false
	}

	if err := s.backend.Set(ctx, key, data, ttl); err != nil {
		s.observe(ctx, err)
		return false
	}
	s.markAvailable()
	return true
}

// Delete removes a single key.
func (s *Store) Delete(ctx context.Context, key string) bool {
	if !s.enabled {
		return true
	}
	if s.refused.Load() {
		return false
	}
	if err := s.backend.Delete(ctx, key); err != nil {
		s.observe(ctx, err)
		return false
	}
	s.markAvailable()
	return true
}

// DeleteByPrefix removes every key starting with prefix and returns how many
// went away. Zero when disabled or unreachable.
func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) int {
	if !s.Enabled() {
		return 0
	}
	n, err := s.backend.DeleteByPrefix(ctx, prefix)
	if err != nil {
		s.observe(ctx, err)
		return n
	}
	s.markAvailable()
	logging.L(ctx).Info("cache_cleared_prefix",
		zap.String("prefix", prefix),
		zap.Int("deleted", n),
	)
	return n
}

// ClearAll flushes the whole store. Restricting this to non-production
// environments is up to the caller.
func (s *Store) ClearAll(ctx context.Context) bool {
	if !s.enabled {
		return true
	}
	if s.refused.Load() {
		return false
	}
	if err := s.backend.Flush(ctx); err != nil {
		s.observe(ctx, err)
		return false
	}
	s.markAvailable()
	logging.L(ctx).Warn("cache_cleared_all")
	return true
}

// Connected pings the backend. It backs /api/cache/status and /health.
func (s *Store) Connected(ctx context.Context) bool {
	if !s.Enabled() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if err := s.backend.Ping(ctx); err != nil {
		s.observe(ctx, err)
		return false
	}
	s.markAvailable()
	return true
}

// observe classifies a backend error and logs only on state transitions.
func (s *Store) observe(ctx context.Context, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		logging.L(ctx).Debug("cache_call_abandoned", zap.Error(err))
		return
	}

	if isConnectionRefused(err) {
		if s.refused.CompareAndSwap(false, true) {
			s.available.Store(false)
			metrics.CacheStoreAvailable.Set(0)
			s.logger.Error("cache store refused connection, caching disabled until restart", zap.Error(err))
		}
		return
	}

	if s.available.CompareAndSwap(true, false) {
		metrics.CacheStoreAvailable.Set(0)
		s.logger.Warn("cache store unavailable, serving uncached", zap.Error(err))
	}
}

func (s *Store) markAvailable() {
	if s.available.CompareAndSwap(false, true) {
		metrics.CacheStoreAvailable.Set(1)
		s.logger.Info("cache store available again")
	}
}
