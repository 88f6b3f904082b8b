package cache

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DialConfig describes how to reach Redis and how hard to try.
type DialConfig struct {
	Addr     string
	Password string
	DB       int

	MaxAttempts int           // default 10
	BaseBackoff time.Duration // default 100ms
	MaxBackoff  time.Duration // default 3s
	MaxElapsed  time.Duration // default 1m
	DialTimeout time.Duration // default 5s
}

func (c DialConfig) withDefaults() DialConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 3 * time.Second
	}
	if c.MaxElapsed <= 0 {
		c.MaxElapsed = time.Minute
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	return c
}

// Dial opens a Redis client and waits until it answers PING.
//
// A refused connection returns ErrConnectionRefused at once: nothing is
// listening, so retrying only floods the log. Other failures are retried with
// exponential backoff until MaxAttempts or MaxElapsed is reached, then
// ErrGaveUp is returned. On error the client is closed.
func Dial(ctx context.Context, cfg DialConfig, logger *zap.Logger) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		DialTimeout:     cfg.DialTimeout,
		MaxRetries:      3,
		MinRetryBackoff: cfg.BaseBackoff,
		MaxRetryBackoff: cfg.MaxBackoff,
	})

	if err := waitReady(ctx, client, cfg, logger, time.Sleep); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("redis connection established", zap.String("addr", cfg.Addr))
	return client, nil
}

type pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

func waitReady(
	ctx context.Context,
	p pinger,
	cfg DialConfig,
	logger *zap.Logger,
	sleep func(time.Duration),
) error {
	start := time.Now()
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := p.Ping(ctx).Err()
		if err == nil {
			return nil
		}
		if isConnectionRefused(err) {
			logger.Error("redis connection refused, caching disabled",
				zap.String("addr", cfg.Addr),
				zap.Error(err),
			)
			return fmt.Errorf("%w: %w", ErrConnectionRefused, err)
		}
		lastErr = err
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		wait := backoff(cfg.BaseBackoff, cfg.MaxBackoff, attempt)
		if time.Since(start)+wait > cfg.MaxElapsed {
			break
		}
		logger.Warn("redis not ready, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		sleep(wait)
	}

	return fmt.Errorf("%w: %w", ErrGaveUp, lastErr)
}

// backoff is base * 2^attempt capped at maxWait.
func backoff(base, maxWait time.Duration, attempt int) time.Duration {
	const maxExponent = 16
	if attempt > maxExponent {
		attempt = maxExponent
	}
	d := base << attempt
	if d <= 0 || d > maxWait {
		return maxWait
	}
	return d
}

func isConnectionRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, ErrConnectionRefused)
}
