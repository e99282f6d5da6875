package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/meetsync/realtime-server-go/internal/audit"
	"github.com/meetsync/realtime-server-go/internal/auth"
	apperrors "github.com/meetsync/realtime-server-go/internal/errors"
	"github.com/meetsync/realtime-server-go/internal/model"
	"github.com/meetsync/realtime-server-go/internal/session"
)

type contextKey string

const IdentityContextKey contextKey = "identity"

func GetIdentity(ctx context.Context) *model.Identity {
	if identity, ok := ctx.Value(IdentityContextKey).(*model.Identity); ok {
		return identity
	}
	return nil
}

// AuthMiddleware resolves the caller to an identity: a bearer token for
// registered users, an X-Session-Id header for guests. The token wins when
// both are presented and valid.
type AuthMiddleware struct {
	verifier auth.TokenVerifier
	sessions session.Store
}

func NewAuthMiddleware(verifier auth.TokenVerifier, sessions session.Store) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier, sessions: sessions}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := m.resolve(r)
		if err != nil {
			audit.LogFromRequest(r, audit.Event{Type: audit.EventAuthFailure})
			writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), IdentityContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) resolve(r *http.Request) (*model.Identity, error) {
	if token := extractToken(r); token != "" {
		claims, err := m.verifier.Verify(r.Context(), token)
		if err == nil {
			return &model.Identity{
				UserID:      claims.Subject,
				DisplayName: claims.DisplayName,
				IsGuest:     false,
			}, nil
		}
		if r.Header.Get("X-Session-Id") == "" {
			return nil, err
		}
		log.Debug().Err(err).Msg("token rejected, trying session id")
	}

	if sessionID := r.Header.Get("X-Session-Id"); sessionID != "" {
		sess, err := m.sessions.Get(r.Context(), sessionID)
		if err != nil {
			log.Warn().Err(err).Msg("session lookup failed")
			return nil, apperrors.Unauthorized("Authentication failed")
		}
		if sess != nil {
			identity := sess.Identity()
			return &identity, nil
		}
	}

	return nil, apperrors.Unauthorized("Authentication required")
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
