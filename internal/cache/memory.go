package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	data    []byte
	expires time.Time
}

func (e memoryEntry) expired(now time.Time) bool { return !now.Before(e.expires) }

// MemoryBackend keeps entries in process. It is what CACHE_BACKEND=memory
// selects and what most tests run against.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryBackend starts a sweeper that drops expired entries every
// interval (5m when <= 0). Call Close to stop it.
func NewMemoryBackend(interval time.Duration) *MemoryBackend {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	m := &MemoryBackend{
		entries: map[string]memoryEntry{},
		done:    make(chan struct{}),
	}
	go m.sweepEvery(interval)
	return m
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	switch {
	case !ok:
		return nil, false, nil
	case e.expired(time.Now()):
		// lazily evicted; the sweeper would get it eventually
		m.remove(key, e.expires)
		return nil, false, nil
	default:
		return e.data, true, nil
	}
}

// remove deletes key only if it still holds the entry that expired at exp,
// so a concurrent Set is not lost.
func (m *MemoryBackend) remove(key string, exp time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[key]; ok && cur.expires.Equal(exp) {
		delete(m.entries, key)
	}
}

// Set overwrites key. A non-positive ttl removes it instead.
func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ttl <= 0 {
		delete(m.entries, key)
		return nil
	}
	m.entries[key] = memoryEntry{
		data:    append([]byte(nil), value...),
		expires: time.Now().Add(ttl),
	}
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// DeleteByPrefix removes every key starting with prefix and reports how many
// of them were still live.
func (m *MemoryBackend) DeleteByPrefix(_ context.Context, prefix string) (int, error) {
	now := time.Now()
	live := 0

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if !e.expired(now) {
			live++
		}
		delete(m.entries, k)
	}
	return live, nil
}

func (m *MemoryBackend) Flush(context.Context) error {
	m.mu.Lock()
	clear(m.entries)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Ping(context.Context) error { return nil }

// sweep drops everything expired at now and returns how many went.
func (m *MemoryBackend) sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

func (m *MemoryBackend) sweepEvery(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case now := <-t.C:
			m.sweep(now)
		case <-m.done:
			return
		}
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (m *MemoryBackend) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

// Len returns the number of entries, expired ones included until swept.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
