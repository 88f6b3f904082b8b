package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewpulse/internal/review"
)

type result struct {
	X int `json:"x"`
}

func sampleInput() KeyInput {
	return KeyInput{
		Platform: "android",
		Provider: "openai",
		Reviews: []review.Review{
			{ID: "1", Date: "2024-01-01", Score: "5"},
			{ID: "2", Date: "2024-01-02", Score: "3"},
		},
	}
}

func TestAnalysisKey(t *testing.T) {
	in := sampleInput()
	want := "analysis:sentiment:hash=" + Fingerprint(in.Reviews) + ":platform=android:provider=openai"
	assert.Equal(t, want, AnalysisKey("analysis:sentiment", in))

	// review order does not matter
	in.Reviews[0], in.Reviews[1] = in.Reviews[1], in.Reviews[0]
	assert.Equal(t, want, AnalysisKey("analysis:sentiment", in))
}

func TestWithCacheMissThenHit(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx := context.Background()
	calls := 0
	op := func(context.Context) (result, error) {
		calls++
		return result{X: 1}, nil
	}

	first, err := WithCache(ctx, store, "analysis:personas", sampleInput(), 24*time.Hour, op)
	require.NoError(t, err)
	second, err := WithCache(ctx, store, "analysis:personas", sampleInput(), 24*time.Hour, op)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
}

func TestWithCacheHitSkipsThrowingOp(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx := context.Background()

	got, err := WithCache(ctx, store, "analysis:personas", sampleInput(), 86400*time.Second,
		func(context.Context) (result, error) { return result{X: 1}, nil })
	require.NoError(t, err)
	require.Equal(t, result{X: 1}, got)

	got, err = WithCache(ctx, store, "analysis:personas", sampleInput(), 86400*time.Second,
		func(context.Context) (result, error) {
			t.Fatal("op must not run on a hit")
			return result{}, errors.New("unreachable")
		})
	require.NoError(t, err)
	assert.Equal(t, result{X: 1}, got)
}

func TestWithCacheDoesNotStoreFailures(t *testing.T) {
	store, mem := newMemoryStore(t)
	ctx := context.Background()
	upstream := errors.New("provider returned 500")

	calls := 0
	op := func(context.Context) (result, error) {
		calls++
		return result{}, upstream
	}

	_, err := WithCache(ctx, store, "analysis:sentiment", sampleInput(), time.Hour, op)
	assert.Same(t, upstream, err)
	_, err = WithCache(ctx, store, "analysis:sentiment", sampleInput(), time.Hour, op)
	assert.Same(t, upstream, err)

	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, mem.Len())
}

func TestWithCacheDisabledAlwaysRunsOp(t *testing.T) {
	store := NewStore(forbiddenBackend{t}, Options{Enabled: false})
	calls := 0
	op := func(context.Context) (result, error) {
		calls++
		return result{X: calls}, nil
	}

	for i := 1; i <= 3; i++ {
		got, err := WithCache(context.Background(), store, "analysis:sentiment", sampleInput(), time.Hour, op)
		require.NoError(t, err)
		assert.Equal(t, i, got.X)
	}
	assert.Equal(t, 3, calls)
}

func TestWithCacheUnavailableStoreStillWorks(t *testing.T) {
	b := newFlakyBackend(t)
	b.setErr(errors.New("broken pipe"))
	store := NewStore(b, Options{Enabled: true})

	got, err := WithCache(context.Background(), store, "analysis:sentiment", sampleInput(), time.Hour,
		func(context.Context) (result, error) { return result{X: 9}, nil })
	require.NoError(t, err)
	assert.Equal(t, 9, got.X)
}

func TestCachedCoalescesConcurrentMisses(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	op := func(context.Context) (result, error) {
		calls.Add(1)
		<-release
		return result{X: 5}, nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]result, n)
	started := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			v, err := Cached(ctx, store, "analysis:full:k=1", time.Hour, op)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	for i := 0; i < n; i++ {
		<-started
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, 5, r.X)
	}
}

func TestCachedWaiterHonoursOwnDeadline(t *testing.T) {
	store, _ := newMemoryStore(t)

	release := make(chan struct{})
	defer close(release)
	leaderStarted := make(chan struct{})
	go func() {
		_, _ = Cached(context.Background(), store, "analysis:slow:k=1", time.Hour,
			func(context.Context) (result, error) {
				close(leaderStarted)
				<-release
				return result{X: 1}, nil
			})
	}()
	<-leaderStarted

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Cached(ctx, store, "analysis:slow:k=1", time.Hour,
		func(context.Context) (result, error) { return result{X: 2}, nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
