package cache

import (
	"context"
	"errors"
	"time"

	"reviewpulse/internal/review"
)

// KeyInput is what identifies an analysis call: the same reviews analysed
// for the same platform by the same provider give the same answer.
type KeyInput struct {
	Platform string
	Provider string
	Reviews  []review.Review
}

// AnalysisKey builds the key for an analysis call under namespace.
func AnalysisKey(namespace string, in KeyInput) string {
	return BuildKey(namespace, map[string]any{
		"platform": in.Platform,
		"provider": in.Provider,
		"hash":     Fingerprint(in.Reviews),
	})
}

// WithCache returns the stored result for in under namespace, or runs op,
// stores what it returns for ttl and returns it. An op error is returned
// unchanged and nothing is stored. With a disabled store op is called
// directly and no key is computed.
func WithCache[T any](
	ctx context.Context,
	store *Store,
	namespace string,
	in KeyInput,
	ttl time.Duration,
	op func(context.Context) (T, error),
) (T, error) {
	if store == nil || !store.Enabled() {
		return op(ctx)
	}
	return Cached(ctx, store, AnalysisKey(namespace, in), ttl, op)
}

// Cached is WithCache for a key the caller already built.
//
// Concurrent misses on one key share a single op call. op runs with the
// context of the caller that started it; a waiting caller whose own context
// ends first returns ctx.Err() and leaves the shared call running.
func Cached[T any](
	ctx context.Context,
	store *Store,
	key string,
	ttl time.Duration,
	op func(context.Context) (T, error),
) (T, error) {
	var zero T
	if store == nil || !store.Enabled() {
		return op(ctx)
	}

	var cached T
	if store.Get(ctx, key, &cached) {
		return cached, nil
	}

	ch := store.flight.DoChan(key, func() (any, error) {
		var again T
		if store.Get(ctx, key, &again) {
			return again, nil
		}
		v, err := op(ctx)
		if err != nil {
			return nil, err
		}
		persist(ctx, store, key, v, ttl)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			if res.Shared && isContextErr(res.Err) && ctx.Err() == nil {
				// the caller that started the call gave up, we did not
				return runAndStore(ctx, store, key, ttl, op)
			}
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func runAndStore[T any](
	ctx context.Context,
	store *Store,
	key string,
	ttl time.Duration,
	op func(context.Context) (T, error),
) (T, error) {
	v, err := op(ctx)
	if err != nil {
		return v, err
	}
	persist(ctx, store, key, v, ttl)
	return v, nil
}

// persist stores v even if the request context is about to end: the result
// was paid for.
func persist(ctx context.Context, store *Store, key string, v any, ttl time.Duration) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	store.Set(sctx, key, v, ttl)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
