package location

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	apperrors "github.com/meetsync/realtime-server-go/internal/errors"
	"github.com/meetsync/realtime-server-go/internal/model"
	redisclient "github.com/meetsync/realtime-server-go/internal/redis"
)

// RedisStore shares location records between instances. Each record lives
// under its own key with the staleness threshold as TTL, so redis itself is
// the eviction safety net; appointment membership is a set per appointment.
type RedisStore struct {
	client   *redisclient.Client
	staleTTL time.Duration
}

func NewRedisStore(client *redisclient.Client, staleTTL time.Duration) *RedisStore {
	return &RedisStore{client: client, staleTTL: staleTTL}
}

func (s *RedisStore) Update(ctx context.Context, connID string, rec model.LocationRecord) error {
	key := redisclient.LocationKey(connID)

	existing, err := s.get(ctx, key)
	if err != nil {
		return err
	}
	if existing != nil {
		if rec.Timestamp.Before(existing.Timestamp) {
			return nil
		}
		if existing.AppointmentID != rec.AppointmentID {
			s.client.SRem(ctx, redisclient.AppointmentIndexKey(existing.AppointmentID), connID)
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, s.staleTTL)
	pipe.SAdd(ctx, redisclient.AppointmentIndexKey(rec.AppointmentID), connID)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.StoreUnavailable(err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, connID string) error {
	key := redisclient.LocationKey(connID)

	rec, err := s.get(ctx, key)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, redisclient.AppointmentIndexKey(rec.AppointmentID), connID)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.StoreUnavailable(err)
	}
	return nil
}

func (s *RedisStore) ListByAppointment(ctx context.Context, appointmentID string) ([]model.LocationRecord, error) {
	indexKey := redisclient.AppointmentIndexKey(appointmentID)
	connIDs, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}

	records := make([]model.LocationRecord, 0, len(connIDs))
	for _, connID := range connIDs {
		rec, err := s.get(ctx, redisclient.LocationKey(connID))
		if err != nil {
			return nil, err
		}
		if rec == nil {
			// Value expired under the index entry; prune it.
			s.client.SRem(ctx, indexKey, connID)
			continue
		}
		records = append(records, *rec)
	}
	return records, nil
}

func (s *RedisStore) Appointments(ctx context.Context) ([]string, error) {
	prefix := redisclient.AppointmentIndexKey("")
	var ids []string
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisclient.AppointmentIndexKey("*"), 100).Result()
		if err != nil {
			return nil, apperrors.StoreUnavailable(err)
		}
		for _, key := range keys {
			ids = append(ids, strings.TrimPrefix(key, prefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return ids, nil
}

// EvictStale prunes index entries whose record TTL already fired. Values
// themselves expire natively; maxAge is ignored here because the TTL was
// armed at write time.
func (s *RedisStore) EvictStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	var pruned int64
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisclient.AppointmentIndexKey("*"), 100).Result()
		if err != nil {
			return pruned, apperrors.StoreUnavailable(err)
		}

		for _, indexKey := range keys {
			connIDs, err := s.client.SMembers(ctx, indexKey).Result()
			if err != nil {
				log.Warn().Err(err).Str("key", indexKey).Msg("location index sweep failed")
				continue
			}
			for _, connID := range connIDs {
				exists, err := s.client.Exists(ctx, redisclient.LocationKey(connID)).Result()
				if err != nil {
					continue
				}
				if exists == 0 {
					s.client.SRem(ctx, indexKey, connID)
					pruned++
				}
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return pruned, nil
}

func (s *RedisStore) ActiveCount(ctx context.Context) (int, error) {
	var count int
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisclient.LocationKey("*"), 100).Result()
		if err != nil {
			return 0, apperrors.StoreUnavailable(err)
		}
		for _, key := range keys {
			// Index sets share the "location:" prefix; skip them.
			if strings.HasPrefix(key, redisclient.AppointmentIndexKey("")) {
				continue
			}
			count++
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return count, nil
}

func (s *RedisStore) get(ctx context.Context, key string) (*model.LocationRecord, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}

	var rec model.LocationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
