package realtime

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/meetsync/realtime-server-go/internal/auth"
	apperrors "github.com/meetsync/realtime-server-go/internal/errors"
	"github.com/meetsync/realtime-server-go/internal/model"
	"github.com/meetsync/realtime-server-go/internal/session"
)

// Credentials is what a client presents at connect time: a bearer token for
// registered users, a session id for guests. Exactly one must resolve.
type Credentials struct {
	Token     string
	SessionID string
}

// Registry authenticates new connections and tracks every live connection by
// its ephemeral id. It is the only owner of Connection objects.
type Registry struct {
	verifier auth.TokenVerifier
	sessions session.Store

	mu    sync.RWMutex
	conns map[string]*Connection
}

func NewRegistry(verifier auth.TokenVerifier, sessions session.Store) *Registry {
	return &Registry{
		verifier: verifier,
		sessions: sessions,
		conns:    make(map[string]*Connection),
	}
}

// Authenticate resolves the credential bundle to an identity. The token is
// tried first; an invalid token falls through to the session id when one was
// presented. No anonymous access: when neither resolves, the connection is
// rejected.
func (r *Registry) Authenticate(ctx context.Context, creds Credentials) (model.Identity, error) {
	if creds.Token != "" {
		claims, err := r.verifier.Verify(ctx, creds.Token)
		if err == nil {
			return model.Identity{
				UserID:      claims.Subject,
				DisplayName: claims.DisplayName,
				IsGuest:     false,
			}, nil
		}
		if creds.SessionID == "" {
			return model.Identity{}, err
		}
		log.Debug().Err(err).Msg("token rejected, trying session id")
	}

	if creds.SessionID != "" {
		sess, err := r.sessions.Get(ctx, creds.SessionID)
		if err != nil {
			// Fail closed on a session store outage: the identity cannot be
			// confirmed, so the connection is rejected.
			log.Warn().Err(err).Msg("session lookup failed during authentication")
			return model.Identity{}, apperrors.Unauthorized("Authentication failed")
		}
		if sess != nil {
			return sess.Identity(), nil
		}
	}

	return model.Identity{}, apperrors.Unauthorized("Authentication failed")
}

// Add registers a live connection.
func (r *Registry) Add(conn *Connection) {
	r.mu.Lock()
	r.conns[conn.ID] = conn
	r.mu.Unlock()
}

// Remove forgets a connection by id.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	delete(r.conns, connID)
	r.mu.Unlock()
}

// Get returns the connection for an id, or nil.
func (r *Registry) Get(connID string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[connID]
}

// Count reports how many connections are live.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
