package engine

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// RATE LIMITER - Fixed window per key
// =============================================================================
// The webhook endpoint is limited per payment reference: a misbehaving
// gateway retrying in a tight loop must not hammer the reconciler, which
// takes a member lock per call. The Redis implementation (store/redis)
// covers multi-instance deployments; this one covers a single process.

// Limiter answers whether one more hit for key is allowed right now.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type windowEntry struct {
	start time.Time
	count int
}

// WindowLimiter is an in-memory fixed-window limiter: at most limit hits
// per key per window.
type WindowLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	entries map[string]*windowEntry
	now     func() time.Time
}

func NewWindowLimiter(limit int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{
		limit:   limit,
		window:  window,
		entries: make(map[string]*windowEntry),
		now:     time.Now,
	}
}

func (l *WindowLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[key]
	if !ok || now.Sub(e.start) >= l.window {
		l.entries[key] = &windowEntry{start: now, count: 1}
		// Opportunistic cleanup keeps the map from growing unbounded on
		// high-cardinality keys.
		if len(l.entries) > 4096 {
			for k, v := range l.entries {
				if now.Sub(v.start) >= l.window {
					delete(l.entries, k)
				}
			}
		}
		return true, nil
	}
	if e.count >= l.limit {
		return false, nil
	}
	e.count++
	return true, nil
}

// NopLimiter allows everything. Used when no limiter is configured.
type NopLimiter struct{}

func (NopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }
