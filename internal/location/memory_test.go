package location

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetsync/realtime-server-go/internal/model"
)

func record(connID, appointmentID string, lat, lon float64, ts time.Time) model.LocationRecord {
	return model.LocationRecord{
		Identity:      model.Identity{UserID: "u-" + connID, DisplayName: connID},
		AppointmentID: appointmentID,
		Latitude:      lat,
		Longitude:     lon,
		Timestamp:     ts,
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("update then list returns the exact coordinates", func(t *testing.T) {
		store := NewMemoryStore()
		now := time.Now()

		err := store.Update(ctx, "conn-a", record("conn-a", "appt-1", 35.6812, 139.7671, now))
		require.NoError(t, err)

		records, err := store.ListByAppointment(ctx, "appt-1")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, 35.6812, records[0].Latitude)
		assert.Equal(t, 139.7671, records[0].Longitude)
	})

	t.Run("at most one record per connection", func(t *testing.T) {
		store := NewMemoryStore()
		now := time.Now()

		require.NoError(t, store.Update(ctx, "conn-a", record("conn-a", "appt-1", 1, 2, now)))
		require.NoError(t, store.Update(ctx, "conn-a", record("conn-a", "appt-1", 3, 4, now.Add(time.Second))))

		records, err := store.ListByAppointment(ctx, "appt-1")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, 3.0, records[0].Latitude)
	})

	t.Run("older timestamps never overwrite newer records", func(t *testing.T) {
		store := NewMemoryStore()
		now := time.Now()

		require.NoError(t, store.Update(ctx, "conn-a", record("conn-a", "appt-1", 3, 4, now)))
		require.NoError(t, store.Update(ctx, "conn-a", record("conn-a", "appt-1", 9, 9, now.Add(-time.Minute))))

		records, err := store.ListByAppointment(ctx, "appt-1")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, 3.0, records[0].Latitude)
	})

	t.Run("changing appointment moves the index entry", func(t *testing.T) {
		store := NewMemoryStore()
		now := time.Now()

		require.NoError(t, store.Update(ctx, "conn-a", record("conn-a", "appt-1", 1, 2, now)))
		require.NoError(t, store.Update(ctx, "conn-a", record("conn-a", "appt-2", 1, 2, now.Add(time.Second))))

		old, err := store.ListByAppointment(ctx, "appt-1")
		require.NoError(t, err)
		assert.Empty(t, old)

		moved, err := store.ListByAppointment(ctx, "appt-2")
		require.NoError(t, err)
		assert.Len(t, moved, 1)
	})

	t.Run("remove cleans the reverse index", func(t *testing.T) {
		store := NewMemoryStore()
		now := time.Now()

		require.NoError(t, store.Update(ctx, "conn-a", record("conn-a", "appt-1", 1, 2, now)))
		require.NoError(t, store.Remove(ctx, "conn-a"))

		records, err := store.ListByAppointment(ctx, "appt-1")
		require.NoError(t, err)
		assert.Empty(t, records)
		assert.Equal(t, 0, store.ActiveAppointments())
	})

	t.Run("remove is a no-op for unknown connections", func(t *testing.T) {
		store := NewMemoryStore()
		assert.NoError(t, store.Remove(ctx, "never-seen"))
	})

	t.Run("two connections share an appointment snapshot", func(t *testing.T) {
		store := NewMemoryStore()
		now := time.Now()

		require.NoError(t, store.Update(ctx, "conn-a", record("conn-a", "appt-1", 35.6812, 139.7671, now)))
		require.NoError(t, store.Update(ctx, "conn-b", record("conn-b", "appt-1", 34.1, 135.2, now)))

		records, err := store.ListByAppointment(ctx, "appt-1")
		require.NoError(t, err)
		assert.Len(t, records, 2)

		require.NoError(t, store.Remove(ctx, "conn-a"))

		records, err = store.ListByAppointment(ctx, "appt-1")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, 34.1, records[0].Latitude)
	})

	t.Run("evict stale removes old records and not fresh ones", func(t *testing.T) {
		store := NewMemoryStore()
		base := time.Now()
		store.now = func() time.Time { return base }

		require.NoError(t, store.Update(ctx, "old", record("old", "appt-1", 1, 2, base.Add(-6*time.Minute))))
		require.NoError(t, store.Update(ctx, "fresh", record("fresh", "appt-1", 3, 4, base.Add(-time.Minute))))

		evicted, err := store.EvictStale(ctx, 5*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), evicted)

		records, err := store.ListByAppointment(ctx, "appt-1")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, 3.0, records[0].Latitude)
	})

	t.Run("evict stale keeps records exactly at the threshold", func(t *testing.T) {
		store := NewMemoryStore()
		base := time.Now()
		store.now = func() time.Time { return base }

		require.NoError(t, store.Update(ctx, "edge", record("edge", "appt-1", 1, 2, base.Add(-5*time.Minute))))

		evicted, err := store.EvictStale(ctx, 5*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(0), evicted)
	})

	t.Run("active count tracks live records", func(t *testing.T) {
		store := NewMemoryStore()
		now := time.Now()

		require.NoError(t, store.Update(ctx, "a", record("a", "appt-1", 1, 2, now)))
		require.NoError(t, store.Update(ctx, "b", record("b", "appt-2", 1, 2, now)))

		count, err := store.ActiveCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})
}
