package cache

import (
	"context"
	"strings"
	"time"

	"reviewpulse/internal/metrics"
	"reviewpulse/pkg/logging/logging"

	"go.uber.org/zap"
)

// LoggingBackend wraps a Backend with logging + metrics. Per-operation lines
// are Debug; the Store logs availability transitions.
type LoggingBackend struct {
	inner Backend
}

// NewLoggingBackend returns a backend that logs and records metrics.
func NewLoggingBackend(inner Backend) Backend {
	return &LoggingBackend{inner: inner}
}

func (c *LoggingBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := c.inner.Get(ctx, key)
	elapsed := time.Since(start)

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
	}

	ns := namespaceOf(key)
	metrics.CacheRequestsTotal.WithLabelValues(ns, result).Inc()
	metrics.CacheOperationSeconds.WithLabelValues("get", result).Observe(elapsed.Seconds())

	fields := []zap.Field{
		zap.String("cache_key", key),
		zap.String("namespace", ns),
		zap.String("cache_result", result),
		zap.Float64("latency_ms", ms(elapsed)),
	}

	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	logging.L(ctx).Debug("cache_get", fields...)

	return value, ok, err
}

func (c *LoggingBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.inner.Set(ctx, key, value, ttl)
	c.record(ctx, "set", start, err,
		zap.String("cache_key", key),
		zap.Duration("ttl", ttl),
		zap.Int("bytes", len(value)),
	)
	return err
}

func (c *LoggingBackend) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := c.inner.Delete(ctx, key)
	c.record(ctx, "delete", start, err, zap.String("cache_key", key))
	return err
}

func (c *LoggingBackend) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	start := time.Now()
	n, err := c.inner.DeleteByPrefix(ctx, prefix)
	c.record(ctx, "delete_prefix", start, err,
		zap.String("prefix", prefix),
		zap.Int("deleted", n),
	)
	return n, err
}

func (c *LoggingBackend) Flush(ctx context.Context) error {
	start := time.Now()
	err := c.inner.Flush(ctx)
	c.record(ctx, "flush", start, err)
	return err
}

func (c *LoggingBackend) Ping(ctx context.Context) error {
	return c.inner.Ping(ctx)
}

func (c *LoggingBackend) record(ctx context.Context, op string, start time.Time, err error, fields ...zap.Field) {
	elapsed := time.Since(start)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.CacheOperationSeconds.WithLabelValues(op, result).Observe(elapsed.Seconds())

	fields = append(fields, zap.Float64("latency_ms", ms(elapsed)))
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	logging.L(ctx).Debug("cache_"+op, fields...)
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

// namespaceOf recovers the namespace from a key built by BuildKey: every
// segment before the first name=value pair.
//
//	analysis:sentiment:hash=1a:platform=ios -> analysis:sentiment
func namespaceOf(key string) string {
	parts := strings.Split(key, Delimiter)
	n := 0
	for n < len(parts) && !strings.Contains(parts[n], "=") {
		n++
	}
	if n == len(parts) && n > 1 {
		// token key: the last segment is the token
		n--
	}
	return strings.Join(parts[:n], Delimiter)
}
