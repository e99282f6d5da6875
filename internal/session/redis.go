package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	apperrors "github.com/meetsync/realtime-server-go/internal/errors"
	"github.com/meetsync/realtime-server-go/internal/model"
	redisclient "github.com/meetsync/realtime-server-go/internal/redis"
)

// RedisStore keeps guest sessions in redis with native per-key expiry, so
// multiple server instances observe the same sessions. An index set backs
// CountActive; it is pruned against the keys that actually still exist.
type RedisStore struct {
	client *redisclient.Client
	ttl    time.Duration
}

func NewRedisStore(client *redisclient.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Create(ctx context.Context, displayName string) (*model.GuestSession, error) {
	now := time.Now()
	sess := &model.GuestSession{
		SessionID:   uuid.NewString(),
		DisplayName: displayName,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisclient.SessionKey(sess.SessionID), data, s.ttl)
	pipe.SAdd(ctx, redisclient.SessionIndexKey(), sess.SessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}

	return sess, nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*model.GuestSession, error) {
	data, err := s.client.Get(ctx, redisclient.SessionKey(sessionID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		// Fail closed: the TTL already removed the value, drop the index entry.
		s.client.SRem(ctx, redisclient.SessionIndexKey(), sessionID)
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}

	var sess model.GuestSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	if sess.Expired(time.Now()) {
		_, _ = s.Delete(ctx, sessionID)
		return nil, nil
	}
	return &sess, nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, redisclient.SessionKey(sessionID))
	pipe.SRem(ctx, redisclient.SessionIndexKey(), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, apperrors.StoreUnavailable(err)
	}
	return del.Val() > 0, nil
}

func (s *RedisStore) CountActive(ctx context.Context) (int, error) {
	ids, err := s.client.SMembers(ctx, redisclient.SessionIndexKey()).Result()
	if err != nil {
		return 0, apperrors.StoreUnavailable(err)
	}

	count := 0
	for _, id := range ids {
		exists, err := s.client.Exists(ctx, redisclient.SessionKey(id)).Result()
		if err != nil {
			return 0, apperrors.StoreUnavailable(err)
		}
		if exists == 0 {
			s.client.SRem(ctx, redisclient.SessionIndexKey(), id)
			continue
		}
		count++
	}
	return count, nil
}

func (s *RedisStore) DeleteExpired(ctx context.Context) (int64, error) {
	// Values expire on their own; this prunes dangling index entries.
	ids, err := s.client.SMembers(ctx, redisclient.SessionIndexKey()).Result()
	if err != nil {
		return 0, apperrors.StoreUnavailable(err)
	}

	var pruned int64
	for _, id := range ids {
		exists, err := s.client.Exists(ctx, redisclient.SessionKey(id)).Result()
		if err != nil {
			log.Warn().Err(err).Str("sessionId", id).Msg("session index prune failed")
			continue
		}
		if exists == 0 {
			s.client.SRem(ctx, redisclient.SessionIndexKey(), id)
			pruned++
		}
	}
	return pruned, nil
}
