package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config is the cache section of the service configuration.
type Config struct {
	Enabled bool
	Backend string // "redis" or "memory"
	Prefix  string

	Redis DialConfig

	CleanupInterval time.Duration // memory backend sweeper
}

// NewBackend builds the configured backend wrapped with logging.
func NewBackend(cfg Config, redisClient *redis.Client) Backend {
	switch {
	case cfg.Backend == "redis" && redisClient != nil:
		return NewLoggingBackend(NewRedisBackend(redisClient, RedisConfig{
			Prefix: cfg.Prefix,
		}))
	default:
		return NewLoggingBackend(NewMemoryBackend(cfg.CleanupInterval))
	}
}

// Open builds the Store for cfg. It never fails: when caching is switched
// off, or Redis cannot be reached, a disabled store is returned and the
// service runs uncached. The returned func releases backend resources.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, func() error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	noop := func() error { return nil }

	if !cfg.Enabled {
		logger.Info("cache disabled by configuration")
		return Disabled(), noop
	}

	if cfg.Backend != "redis" {
		mem := NewMemoryBackend(cfg.CleanupInterval)
		store := NewStore(NewLoggingBackend(mem), Options{Enabled: true, Logger: logger})
		return store, mem.Close
	}

	client, err := Dial(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Error("cache store unreachable, continuing without cache", zap.Error(err))
		return Disabled(), noop
	}

	store := NewStore(NewBackend(cfg, client), Options{Enabled: true, Logger: logger})
	return store, client.Close
}
