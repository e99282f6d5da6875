package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetsync/realtime-server-go/internal/auth"
	apperrors "github.com/meetsync/realtime-server-go/internal/errors"
	"github.com/meetsync/realtime-server-go/internal/model"
	"github.com/meetsync/realtime-server-go/internal/session"
)

const testSecret = "registry-test-secret"

type failingSessionStore struct{}

func (failingSessionStore) Create(ctx context.Context, displayName string) (*model.GuestSession, error) {
	return nil, errors.New("store down")
}

func (failingSessionStore) Get(ctx context.Context, sessionID string) (*model.GuestSession, error) {
	return nil, errors.New("store down")
}

func (failingSessionStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	return false, errors.New("store down")
}

func (failingSessionStore) CountActive(ctx context.Context) (int, error) {
	return 0, errors.New("store down")
}

func (failingSessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	return 0, errors.New("store down")
}

func signTestToken(t *testing.T, subject, displayName string) string {
	t.Helper()
	token, err := auth.SignToken(testSecret, auth.Claims{
		Subject:     subject,
		DisplayName: displayName,
		ExpiresAt:   time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)
	return token
}

func TestRegistryAuthenticate(t *testing.T) {
	ctx := context.Background()
	sessions := session.NewMemoryStore(24 * time.Hour)
	registry := NewRegistry(auth.NewHMACVerifier(testSecret), sessions)

	t.Run("valid token resolves a registered user", func(t *testing.T) {
		identity, err := registry.Authenticate(ctx, Credentials{
			Token: signTestToken(t, "user-1", "Hana"),
		})
		require.NoError(t, err)
		assert.Equal(t, "user-1", identity.UserID)
		assert.Equal(t, "Hana", identity.DisplayName)
		assert.False(t, identity.IsGuest)
	})

	t.Run("valid session id resolves a guest", func(t *testing.T) {
		sess, err := sessions.Create(ctx, "Guest Kim")
		require.NoError(t, err)

		identity, err := registry.Authenticate(ctx, Credentials{SessionID: sess.SessionID})
		require.NoError(t, err)
		assert.Equal(t, sess.SessionID, identity.SessionID)
		assert.Equal(t, "Guest Kim", identity.DisplayName)
		assert.True(t, identity.IsGuest)
	})

	t.Run("invalid token falls through to session id", func(t *testing.T) {
		sess, err := sessions.Create(ctx, "Fallback Guest")
		require.NoError(t, err)

		identity, err := registry.Authenticate(ctx, Credentials{
			Token:     "garbage.token",
			SessionID: sess.SessionID,
		})
		require.NoError(t, err)
		assert.True(t, identity.IsGuest)
		assert.Equal(t, sess.SessionID, identity.SessionID)
	})

	t.Run("invalid token without session id is rejected", func(t *testing.T) {
		_, err := registry.Authenticate(ctx, Credentials{Token: "garbage.token"})
		assert.Error(t, err)
	})

	t.Run("unknown session id is rejected", func(t *testing.T) {
		_, err := registry.Authenticate(ctx, Credentials{SessionID: "never-created"})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeUnauthorized, apperrors.GetCode(err))
	})

	t.Run("no credentials is rejected", func(t *testing.T) {
		_, err := registry.Authenticate(ctx, Credentials{})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeUnauthorized, apperrors.GetCode(err))
	})

	t.Run("session store outage fails closed", func(t *testing.T) {
		broken := NewRegistry(auth.NewHMACVerifier(testSecret), failingSessionStore{})
		_, err := broken.Authenticate(ctx, Credentials{SessionID: "some-session"})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeUnauthorized, apperrors.GetCode(err))
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		token, err := auth.SignToken(testSecret, auth.Claims{
			Subject:     "user-1",
			DisplayName: "Hana",
			ExpiresAt:   time.Now().Add(-time.Minute).Unix(),
		})
		require.NoError(t, err)

		_, err = registry.Authenticate(ctx, Credentials{Token: token})
		assert.Error(t, err)
	})
}

func TestRegistryConnections(t *testing.T) {
	registry := NewRegistry(auth.NewHMACVerifier(testSecret), session.NewMemoryStore(time.Hour))

	conn := testConn("a")
	registry.Add(conn)
	assert.Equal(t, 1, registry.Count())
	assert.Same(t, conn, registry.Get(conn.ID))

	registry.Remove(conn.ID)
	assert.Equal(t, 0, registry.Count())
	assert.Nil(t, registry.Get(conn.ID))
}
