// Package session holds ephemeral guest identities. A guest session carries
// only a display name and a 24 hour lifetime; there is no password and no
// durable account behind it.
package session

import (
	"context"

	"github.com/meetsync/realtime-server-go/internal/model"
)

// Store is implemented by the in-process map and by the redis-backed store.
// Both must behave identically from the caller's point of view: an expired
// session is absent, and CountActive never includes expired entries.
type Store interface {
	Create(ctx context.Context, displayName string) (*model.GuestSession, error)
	// Get returns (nil, nil) when the session does not exist or has expired.
	Get(ctx context.Context, sessionID string) (*model.GuestSession, error)
	Delete(ctx context.Context, sessionID string) (bool, error)
	CountActive(ctx context.Context) (int, error)
	// DeleteExpired removes expired records and reports how many were dropped.
	// The redis store relies on native TTLs and only prunes its index.
	DeleteExpired(ctx context.Context) (int64, error)
}
