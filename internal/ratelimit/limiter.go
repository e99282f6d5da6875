// Package ratelimit implements fixed-window admission control for the
// realtime mutation paths. A window starts on the first request and resets
// at a discrete deadline; a burst of up to 2x the limit is possible across
// a window boundary, which is the documented behavior.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the whole seconds until the window resets, at least 1.
func (d Decision) RetryAfter(now time.Time) int {
	secs := int(d.ResetAt.Sub(now).Seconds()) + 1
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter is implemented by the in-process counter store and the redis-backed
// one. Implementations never return an error: when the backing store is
// unreachable the redis limiter fails open and admits the request.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) Decision
}

// OpLimit configures a per-operation limit consulted in addition to the
// per-identity global limit.
type OpLimit struct {
	Limit  int
	Window time.Duration
}

// Guard composes the coarse per-identity limiter with per-operation limits.
// Both are consulted; the first denial wins.
type Guard struct {
	limiter      Limiter
	globalLimit  int
	globalWindow time.Duration
	ops          map[string]OpLimit
}

func NewGuard(limiter Limiter, globalLimit int, globalWindow time.Duration) *Guard {
	return &Guard{
		limiter:      limiter,
		globalLimit:  globalLimit,
		globalWindow: globalWindow,
		ops:          make(map[string]OpLimit),
	}
}

// WithOpLimit registers a per-operation limit keyed by identity:operation.
func (g *Guard) WithOpLimit(op string, limit int, window time.Duration) *Guard {
	g.ops[op] = OpLimit{Limit: limit, Window: window}
	return g
}

// Admit checks the global limit, then the operation limit when one is
// configured for op.
func (g *Guard) Admit(ctx context.Context, identityKey, op string) Decision {
	decision := g.limiter.Allow(ctx, identityKey, g.globalLimit, g.globalWindow)
	if !decision.Allowed {
		return decision
	}

	opLimit, ok := g.ops[op]
	if !ok {
		return decision
	}
	return g.limiter.Allow(ctx, identityKey+":"+op, opLimit.Limit, opLimit.Window)
}
