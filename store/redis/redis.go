/*
Package redis provides Redis-backed coordination helpers for multi-instance
deployments.

PURPOSE:
  The engine's per-member mutexes only serialize within one process. When
  several instances sit behind a load balancer, the webhook rate limiter
  and the reconcile dedup guard need shared state; Redis carries both.

COMPONENTS:
  Limiter:   fixed-window rate limiter (INCR + PEXPIRE in one script)
  DedupGuard: SetNX-based "first caller wins" marker for webhook events

FAILURE POLICY:
  Both components fail OPEN: if Redis is down the caller proceeds. The
  reconciler itself is idempotent, so losing the guard costs a wasted
  settle attempt, never a double application.
*/
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript counts hits in the current window, setting the expiry
// on the first hit so the window slides forward automatically.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// Limiter is a Redis-backed fixed-window rate limiter. It implements
// engine.Limiter.
type Limiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewLimiter creates a limiter allowing limit hits per key per window.
func NewLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *Limiter {
	if prefix == "" {
		prefix = "dues:rate"
	}
	return &Limiter{client: client, prefix: prefix, limit: limit, window: window}
}

// Allow reports whether one more hit for key fits in the current window.
// Redis errors fail open.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	full := fmt.Sprintf("%s:%s", l.prefix, key)
	count, err := fixedWindowScript.Run(ctx, l.client, []string{full}, l.window.Milliseconds()).Int64()
	if err != nil {
		return true, err
	}
	return count <= int64(l.limit), nil
}

// DedupGuard marks webhook deliveries so only the first of a redelivered
// burst does work. The mark expires; after that a redelivery falls through
// to the reconciler's own idempotency check.
type DedupGuard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewDedupGuard(client *redis.Client, prefix string, ttl time.Duration) *DedupGuard {
	if prefix == "" {
		prefix = "dues:seen"
	}
	return &DedupGuard{client: client, prefix: prefix, ttl: ttl}
}

// FirstSeen returns true if this is the first time key has been marked
// within the TTL. Redis errors fail open (treated as first).
func (g *DedupGuard) FirstSeen(ctx context.Context, key string) (bool, error) {
	full := fmt.Sprintf("%s:%s", g.prefix, key)
	ok, err := g.client.SetNX(ctx, full, "1", g.ttl).Result()
	if err != nil {
		return true, err
	}
	return ok, nil
}

// Ping verifies connectivity at startup.
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}
