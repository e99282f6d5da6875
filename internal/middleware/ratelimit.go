package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/meetsync/realtime-server-go/internal/audit"
	apperrors "github.com/meetsync/realtime-server-go/internal/errors"
	"github.com/meetsync/realtime-server-go/internal/ratelimit"
)

// RateLimitMiddleware applies the per-identity global limit to authenticated
// REST routes. It must run after AuthMiddleware.
type RateLimitMiddleware struct {
	guard *ratelimit.Guard
	now   func() time.Time
}

func NewRateLimitMiddleware(guard *ratelimit.Guard) *RateLimitMiddleware {
	return &RateLimitMiddleware{guard: guard, now: time.Now}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := GetIdentity(r.Context())
		if identity == nil {
			writeError(w, apperrors.Unauthorized("Authentication required"))
			return
		}

		decision := m.guard.Admit(r.Context(), identity.Key(), r.Method+" "+r.URL.Path)

		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", decision.ResetAt.Unix()))

		if !decision.Allowed {
			retryAfter := decision.RetryAfter(m.now())
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			audit.LogFromRequest(r, audit.Event{
				Type:      audit.EventRateLimitExceed,
				UserID:    identity.UserID,
				SessionID: identity.SessionID,
				Details:   map[string]interface{}{"path": r.URL.Path},
			})
			writeError(w, apperrors.RateLimitExceeded(retryAfter))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// IPRateLimitMiddleware throttles unauthenticated routes by client address.
// Used on session creation so one host cannot mint guest identities in bulk.
type IPRateLimitMiddleware struct {
	limiter ratelimit.Limiter
	limit   int
	window  time.Duration
	prefix  string
	now     func() time.Time
}

func NewIPRateLimitMiddleware(limiter ratelimit.Limiter, limit int, window time.Duration, prefix string) *IPRateLimitMiddleware {
	return &IPRateLimitMiddleware{
		limiter: limiter,
		limit:   limit,
		window:  window,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (m *IPRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := fmt.Sprintf("ip:%s:%s", m.prefix, r.RemoteAddr)
		decision := m.limiter.Allow(r.Context(), key, m.limit, m.window)

		if !decision.Allowed {
			retryAfter := decision.RetryAfter(m.now())
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			writeError(w, apperrors.RateLimitExceeded(retryAfter))
			return
		}

		next.ServeHTTP(w, r)
	})
}
