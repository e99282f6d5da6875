package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetsync/realtime-server-go/internal/auth"
	apperrors "github.com/meetsync/realtime-server-go/internal/errors"
	"github.com/meetsync/realtime-server-go/internal/location"
	"github.com/meetsync/realtime-server-go/internal/model"
	"github.com/meetsync/realtime-server-go/internal/ratelimit"
	"github.com/meetsync/realtime-server-go/internal/session"
)

type recordingAudit struct {
	joined []string
	left   []string
}

func (a *recordingAudit) EnqueueJoined(ctx context.Context, identity model.Identity, appointmentID string) {
	a.joined = append(a.joined, identity.Ref()+"/"+appointmentID)
}

func (a *recordingAudit) EnqueueLeft(ctx context.Context, identity model.Identity, appointmentID string) {
	a.left = append(a.left, identity.Ref()+"/"+appointmentID)
}

func newTestHandler(t *testing.T) (*Handler, *recordingAudit, *location.MemoryStore) {
	t.Helper()
	locations := location.NewMemoryStore()
	hub := NewHub(locations)
	dispatcher := NewDispatcher(nil, hub)
	hub.AttachDispatcher(dispatcher)

	guard := ratelimit.NewGuard(ratelimit.NewMemoryLimiter(), 1000, time.Minute)
	audit := &recordingAudit{}
	registry := NewRegistry(auth.NewHMACVerifier(testSecret), session.NewMemoryStore(time.Hour))
	return NewHandler(registry, hub, locations, dispatcher, guard, audit), audit, locations
}

func envelope(t *testing.T, msgType string, payload any) *Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &Envelope{Type: msgType, Data: data}
}

func decodeEvent[T any](t *testing.T, ev Event) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(ev.Data, &out))
	return out
}

func TestHandlerJoinLeave(t *testing.T) {
	ctx := context.Background()

	t.Run("join acks and records the audit event", func(t *testing.T) {
		h, audit, _ := newTestHandler(t)
		conn := testConn("a")

		h.handleMessage(ctx, conn, envelope(t, MsgJoinAppointment, RoomPayload{AppointmentID: "appt-1"}))

		events := drainEvents(t, conn)
		assert.Contains(t, eventTypes(events), EventJoined)
		assert.Contains(t, eventTypes(events), EventUserJoined)
		assert.True(t, h.hub.IsMember(conn.ID, "appt-1"))
		assert.Equal(t, []string{"a/appt-1"}, audit.joined)
	})

	t.Run("missing appointment id yields a validation error event", func(t *testing.T) {
		h, _, _ := newTestHandler(t)
		conn := testConn("a")

		h.handleMessage(ctx, conn, envelope(t, MsgJoinAppointment, RoomPayload{}))

		events := drainEvents(t, conn)
		require.Len(t, events, 1)
		assert.Equal(t, EventError, events[0].Type)
		payload := decodeEvent[ErrorPayload](t, events[0])
		assert.Equal(t, apperrors.ErrCodeMissingRequired, payload.Code)
	})

	t.Run("leave acks and stops membership", func(t *testing.T) {
		h, audit, _ := newTestHandler(t)
		conn := testConn("a")
		h.handleMessage(ctx, conn, envelope(t, MsgJoinAppointment, RoomPayload{AppointmentID: "appt-1"}))
		drainEvents(t, conn)

		h.handleMessage(ctx, conn, envelope(t, MsgLeaveAppointment, RoomPayload{AppointmentID: "appt-1"}))

		events := drainEvents(t, conn)
		assert.Contains(t, eventTypes(events), EventLeft)
		assert.False(t, h.hub.IsMember(conn.ID, "appt-1"))
		assert.Equal(t, []string{"a/appt-1"}, audit.left)
	})
}

func TestHandlerUpdateLocation(t *testing.T) {
	ctx := context.Background()

	t.Run("stores the record and fans out to the room", func(t *testing.T) {
		h, _, locations := newTestHandler(t)
		a, b := testConn("a"), testConn("b")
		h.handleMessage(ctx, a, envelope(t, MsgJoinAppointment, RoomPayload{AppointmentID: "appt-1"}))
		h.handleMessage(ctx, b, envelope(t, MsgJoinAppointment, RoomPayload{AppointmentID: "appt-1"}))
		drainEvents(t, a)
		drainEvents(t, b)

		h.handleMessage(ctx, a, envelope(t, MsgUpdateLocation, UpdateLocationPayload{
			AppointmentID: "appt-1",
			Latitude:      35.6812,
			Longitude:     139.7671,
		}))

		for _, conn := range []*Connection{a, b} {
			events := drainEvents(t, conn)
			require.Len(t, events, 1)
			assert.Equal(t, EventLocationUpdated, events[0].Type)
			payload := decodeEvent[LocationUpdatedPayload](t, events[0])
			assert.Equal(t, "a", payload.UserID)
			assert.Equal(t, 35.6812, payload.Latitude)
			assert.Equal(t, 139.7671, payload.Longitude)
		}

		records, err := locations.ListByAppointment(ctx, "appt-1")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, 35.6812, records[0].Latitude)
	})

	t.Run("rejected for non-members", func(t *testing.T) {
		h, _, locations := newTestHandler(t)
		conn := testConn("a")

		h.handleMessage(ctx, conn, envelope(t, MsgUpdateLocation, UpdateLocationPayload{
			AppointmentID: "appt-1",
			Latitude:      1,
			Longitude:     1,
		}))

		events := drainEvents(t, conn)
		require.Len(t, events, 1)
		payload := decodeEvent[ErrorPayload](t, events[0])
		assert.Equal(t, apperrors.ErrCodeForbidden, payload.Code)

		count, err := locations.ActiveCount(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("out of range coordinates never reach the store", func(t *testing.T) {
		h, _, locations := newTestHandler(t)
		conn := testConn("a")
		h.handleMessage(ctx, conn, envelope(t, MsgJoinAppointment, RoomPayload{AppointmentID: "appt-1"}))
		drainEvents(t, conn)

		h.handleMessage(ctx, conn, envelope(t, MsgUpdateLocation, UpdateLocationPayload{
			AppointmentID: "appt-1",
			Latitude:      91,
			Longitude:     0,
		}))

		events := drainEvents(t, conn)
		require.Len(t, events, 1)
		assert.Equal(t, EventError, events[0].Type)

		count, err := locations.ActiveCount(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestHandlerGetLocations(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the room snapshot to the requester only", func(t *testing.T) {
		h, _, _ := newTestHandler(t)
		a, b := testConn("a"), testConn("b")
		h.handleMessage(ctx, a, envelope(t, MsgJoinAppointment, RoomPayload{AppointmentID: "appt-1"}))
		h.handleMessage(ctx, b, envelope(t, MsgJoinAppointment, RoomPayload{AppointmentID: "appt-1"}))
		h.handleMessage(ctx, a, envelope(t, MsgUpdateLocation, UpdateLocationPayload{
			AppointmentID: "appt-1", Latitude: 35.0, Longitude: 139.0,
		}))
		drainEvents(t, a)
		drainEvents(t, b)

		h.handleMessage(ctx, b, envelope(t, MsgGetLocations, RoomPayload{AppointmentID: "appt-1"}))

		assert.Empty(t, drainEvents(t, a))
		events := drainEvents(t, b)
		require.Len(t, events, 1)
		assert.Equal(t, EventLocations, events[0].Type)
		payload := decodeEvent[LocationsPayload](t, events[0])
		assert.Equal(t, "appt-1", payload.AppointmentID)
		require.Len(t, payload.Locations, 1)
		assert.Equal(t, "a", payload.Locations[0].Identity.SessionID)
	})

	t.Run("rejected for non-members", func(t *testing.T) {
		h, _, _ := newTestHandler(t)
		conn := testConn("a")

		h.handleMessage(ctx, conn, envelope(t, MsgGetLocations, RoomPayload{AppointmentID: "appt-1"}))

		events := drainEvents(t, conn)
		require.Len(t, events, 1)
		payload := decodeEvent[ErrorPayload](t, events[0])
		assert.Equal(t, apperrors.ErrCodeForbidden, payload.Code)
	})
}

func TestHandlerChat(t *testing.T) {
	ctx := context.Background()

	t.Run("message reaches every member including the sender", func(t *testing.T) {
		h, _, _ := newTestHandler(t)
		a, b := testConn("a"), testConn("b")
		h.handleMessage(ctx, a, envelope(t, MsgJoinAppointment, RoomPayload{AppointmentID: "appt-1"}))
		h.handleMessage(ctx, b, envelope(t, MsgJoinAppointment, RoomPayload{AppointmentID: "appt-1"}))
		drainEvents(t, a)
		drainEvents(t, b)

		h.handleMessage(ctx, a, envelope(t, MsgSendMessage, ChatMessagePayload{
			AppointmentID: "appt-1",
			Content:       "running late, sorry",
		}))

		for _, conn := range []*Connection{a, b} {
			events := drainEvents(t, conn)
			require.Len(t, events, 1)
			assert.Equal(t, EventNewMessage, events[0].Type)
			payload := decodeEvent[ChatEventPayload](t, events[0])
			assert.Equal(t, "running late, sorry", payload.Content)
			assert.Equal(t, "a", payload.UserID)
			assert.NotEmpty(t, payload.ID)
		}
	})

	t.Run("typing indicator excludes the sender", func(t *testing.T) {
		h, _, _ := newTestHandler(t)
		a, b := testConn("a"), testConn("b")
		h.handleMessage(ctx, a, envelope(t, MsgJoinAppointment, RoomPayload{AppointmentID: "appt-1"}))
		h.handleMessage(ctx, b, envelope(t, MsgJoinAppointment, RoomPayload{AppointmentID: "appt-1"}))
		drainEvents(t, a)
		drainEvents(t, b)

		h.handleMessage(ctx, a, envelope(t, MsgStartTyping, RoomPayload{AppointmentID: "appt-1"}))

		assert.Empty(t, drainEvents(t, a))
		events := drainEvents(t, b)
		require.Len(t, events, 1)
		assert.Equal(t, EventUserStartedTyping, events[0].Type)
		payload := decodeEvent[TypingPayload](t, events[0])
		assert.Equal(t, "a", payload.UserID)
	})
}

func TestHandlerRateLimit(t *testing.T) {
	ctx := context.Background()

	t.Run("denied request gets a rate limit error with retryAfter", func(t *testing.T) {
		h, _, _ := newTestHandler(t)
		h.guard = ratelimit.NewGuard(ratelimit.NewMemoryLimiter(), 1, time.Minute)
		conn := testConn("a")

		h.handleMessage(ctx, conn, envelope(t, MsgJoinAppointment, RoomPayload{AppointmentID: "appt-1"}))
		drainEvents(t, conn)

		h.handleMessage(ctx, conn, envelope(t, MsgStartTyping, RoomPayload{AppointmentID: "appt-1"}))

		events := drainEvents(t, conn)
		require.Len(t, events, 1)
		assert.Equal(t, EventError, events[0].Type)
		payload := decodeEvent[ErrorPayload](t, events[0])
		assert.Equal(t, apperrors.ErrCodeRateLimitExceeded, payload.Code)
		assert.GreaterOrEqual(t, payload.RetryAfter, 1)
	})

	t.Run("per-operation limit throttles location updates separately", func(t *testing.T) {
		h, _, locations := newTestHandler(t)
		h.guard = ratelimit.NewGuard(ratelimit.NewMemoryLimiter(), 1000, time.Minute).
			WithOpLimit(MsgUpdateLocation, 1, time.Second)
		conn := testConn("a")
		h.handleMessage(ctx, conn, envelope(t, MsgJoinAppointment, RoomPayload{AppointmentID: "appt-1"}))
		drainEvents(t, conn)

		update := envelope(t, MsgUpdateLocation, UpdateLocationPayload{
			AppointmentID: "appt-1", Latitude: 1, Longitude: 1,
		})
		h.handleMessage(ctx, conn, update)
		h.handleMessage(ctx, conn, update)

		events := drainEvents(t, conn)
		require.Len(t, events, 2)
		assert.Equal(t, EventLocationUpdated, events[0].Type)
		assert.Equal(t, EventError, events[1].Type)

		count, err := locations.ActiveCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}
