package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/meetsync/realtime-server-go/internal/config"
	apperrors "github.com/meetsync/realtime-server-go/internal/errors"
	"github.com/meetsync/realtime-server-go/internal/httputil"
	"github.com/meetsync/realtime-server-go/internal/location"
	"github.com/meetsync/realtime-server-go/internal/model"
	"github.com/meetsync/realtime-server-go/internal/ratelimit"
)

// ParticipantAudit receives join/leave notifications for durable recording.
// Implemented by the task queue client; nil disables auditing.
type ParticipantAudit interface {
	EnqueueJoined(ctx context.Context, identity model.Identity, appointmentID string)
	EnqueueLeft(ctx context.Context, identity model.Identity, appointmentID string)
}

// Handler upgrades websocket requests and runs the per-connection read loop.
type Handler struct {
	registry   *Registry
	hub        *Hub
	locations  location.Store
	dispatcher *Dispatcher
	guard      *ratelimit.Guard
	audit      ParticipantAudit

	upgrader websocket.Upgrader
	now      func() time.Time
}

func NewHandler(registry *Registry, hub *Hub, locations location.Store, dispatcher *Dispatcher, guard *ratelimit.Guard, audit ParticipantAudit) *Handler {
	return &Handler{
		registry:   registry,
		hub:        hub,
		locations:  locations,
		dispatcher: dispatcher,
		guard:      guard,
		audit:      audit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin enforcement belongs to the reverse proxy in front of
			// this service.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		now: time.Now,
	}
}

// ServeWS authenticates the request, upgrades it and runs the read loop
// until the client goes away.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	creds := credentialsFromRequest(r)
	identity, err := h.registry.Authenticate(r.Context(), creds)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := NewConnection(identity, ws)
	h.registry.Add(conn)
	conn.Start()

	log.Info().
		Str("connId", conn.ID).
		Str("identity", identity.Key()).
		Msg("websocket connected")

	h.readLoop(conn, ws)
	h.teardown(conn)
}

func credentialsFromRequest(r *http.Request) Credentials {
	creds := Credentials{
		Token:     r.URL.Query().Get("token"),
		SessionID: r.URL.Query().Get("sessionId"),
	}
	if creds.Token == "" {
		if bearer := r.Header.Get("Authorization"); len(bearer) > 7 && bearer[:7] == "Bearer " {
			creds.Token = bearer[7:]
		}
	}
	if creds.SessionID == "" {
		creds.SessionID = r.Header.Get("X-Session-Id")
	}
	return creds
}

func (h *Handler) readLoop(conn *Connection, ws *websocket.Conn) {
	ws.SetReadLimit(config.WSMaxMessageSize)
	_ = ws.SetReadDeadline(h.now().Add(config.WSPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(h.now().Add(config.WSPongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("connId", conn.ID).Msg("websocket read error")
			}
			return
		}

		env, err := ParseEnvelope(raw)
		if err != nil {
			// Protocol corruption terminates this connection only; rooms and
			// other connections are untouched.
			log.Warn().Err(err).Str("connId", conn.ID).Msg("closing connection on malformed frame")
			conn.Close(websocket.CloseUnsupportedData, "malformed message")
			return
		}

		h.handleMessage(context.Background(), conn, env)
	}
}

func (h *Handler) handleMessage(ctx context.Context, conn *Connection, env *Envelope) {
	decision := h.guard.Admit(ctx, conn.Identity.Key(), env.Type)
	if !decision.Allowed {
		h.dispatcher.SendToConnection(conn, errorEvent(
			apperrors.RateLimitExceeded(decision.RetryAfter(h.now()))))
		return
	}

	var err error
	switch env.Type {
	case MsgJoinAppointment:
		err = h.handleJoin(ctx, conn, env)
	case MsgLeaveAppointment:
		err = h.handleLeave(ctx, conn, env)
	case MsgUpdateLocation:
		err = h.handleUpdateLocation(ctx, conn, env)
	case MsgGetLocations:
		err = h.handleGetLocations(ctx, conn, env)
	case MsgSendMessage:
		err = h.handleSendMessage(ctx, conn, env)
	case MsgStartTyping:
		err = h.handleTyping(ctx, conn, env, EventUserStartedTyping)
	case MsgStopTyping:
		err = h.handleTyping(ctx, conn, env, EventUserStoppedTyping)
	}
	if err != nil {
		h.dispatcher.SendToConnection(conn, errorEvent(err))
	}
}

func (h *Handler) handleJoin(ctx context.Context, conn *Connection, env *Envelope) error {
	var payload RoomPayload
	if err := decodePayload(env, &payload); err != nil {
		return err
	}

	h.hub.Join(ctx, conn, payload.AppointmentID)

	ack, err := NewEvent(EventJoined, RoomAckPayload{AppointmentID: payload.AppointmentID})
	if err != nil {
		return err
	}
	h.dispatcher.SendToConnection(conn, ack)

	if h.audit != nil {
		h.audit.EnqueueJoined(ctx, conn.Identity, payload.AppointmentID)
	}
	return nil
}

func (h *Handler) handleLeave(ctx context.Context, conn *Connection, env *Envelope) error {
	var payload RoomPayload
	if err := decodePayload(env, &payload); err != nil {
		return err
	}

	h.hub.Leave(ctx, conn, payload.AppointmentID)

	ack, err := NewEvent(EventLeft, RoomAckPayload{AppointmentID: payload.AppointmentID})
	if err != nil {
		return err
	}
	h.dispatcher.SendToConnection(conn, ack)

	if h.audit != nil {
		h.audit.EnqueueLeft(ctx, conn.Identity, payload.AppointmentID)
	}
	return nil
}

func (h *Handler) handleUpdateLocation(ctx context.Context, conn *Connection, env *Envelope) error {
	var payload UpdateLocationPayload
	if err := decodePayload(env, &payload); err != nil {
		return err
	}
	if !h.hub.IsMember(conn.ID, payload.AppointmentID) {
		return apperrors.Forbidden("Join the appointment before sharing location")
	}

	rec := model.LocationRecord{
		Identity:      conn.Identity,
		AppointmentID: payload.AppointmentID,
		Latitude:      payload.Latitude,
		Longitude:     payload.Longitude,
		Timestamp:     h.now(),
	}
	if err := h.locations.Update(ctx, conn.ID, rec); err != nil {
		// Presence fan-out carries on even when the cache write fails; the
		// next successful update repairs the snapshot.
		log.Warn().Err(err).Str("connId", conn.ID).Msg("location store update failed")
	}

	event, err := NewEvent(EventLocationUpdated, LocationUpdatedPayload{
		UserID:      conn.Identity.Ref(),
		DisplayName: conn.Identity.DisplayName,
		IsGuest:     conn.Identity.IsGuest,
		Latitude:    rec.Latitude,
		Longitude:   rec.Longitude,
		Timestamp:   rec.Timestamp,
	})
	if err != nil {
		return err
	}
	h.dispatcher.BroadcastToRoom(ctx, payload.AppointmentID, event, "")
	return nil
}

func (h *Handler) handleGetLocations(ctx context.Context, conn *Connection, env *Envelope) error {
	var payload RoomPayload
	if err := decodePayload(env, &payload); err != nil {
		return err
	}
	if !h.hub.IsMember(conn.ID, payload.AppointmentID) {
		return apperrors.Forbidden("Join the appointment to read locations")
	}

	records, err := h.locations.ListByAppointment(ctx, payload.AppointmentID)
	if err != nil {
		return apperrors.StoreUnavailable(err)
	}

	event, err := NewEvent(EventLocations, LocationsPayload{
		AppointmentID: payload.AppointmentID,
		Locations:     records,
	})
	if err != nil {
		return err
	}
	h.dispatcher.SendToConnection(conn, event)
	return nil
}

func (h *Handler) handleSendMessage(ctx context.Context, conn *Connection, env *Envelope) error {
	var payload ChatMessagePayload
	if err := decodePayload(env, &payload); err != nil {
		return err
	}
	if !h.hub.IsMember(conn.ID, payload.AppointmentID) {
		return apperrors.Forbidden("Join the appointment to chat")
	}

	event, err := NewEvent(EventNewMessage, ChatEventPayload{
		ID:            uuid.NewString(),
		AppointmentID: payload.AppointmentID,
		UserID:        conn.Identity.Ref(),
		DisplayName:   conn.Identity.DisplayName,
		Content:       payload.Content,
		SentAt:        h.now(),
	})
	if err != nil {
		return err
	}
	h.dispatcher.BroadcastToRoom(ctx, payload.AppointmentID, event, "")
	return nil
}

func (h *Handler) handleTyping(ctx context.Context, conn *Connection, env *Envelope, eventType string) error {
	var payload RoomPayload
	if err := decodePayload(env, &payload); err != nil {
		return err
	}
	if !h.hub.IsMember(conn.ID, payload.AppointmentID) {
		return apperrors.Forbidden("Join the appointment to chat")
	}

	event, err := NewEvent(eventType, typingPayload(conn.Identity, payload.AppointmentID))
	if err != nil {
		return err
	}
	// The sender already knows its own typing state.
	h.dispatcher.BroadcastToRoom(ctx, payload.AppointmentID, event, conn.ID)
	return nil
}

// teardown runs once the read loop exits, whether the client left cleanly or
// the transport dropped. Typing indicators are cleared first so peers never
// see a ghost typing banner from a dead connection.
func (h *Handler) teardown(conn *Connection) {
	ctx := context.Background()

	rooms := h.hub.RoomsOf(conn.ID)
	for _, appointmentID := range rooms {
		if event, err := NewEvent(EventUserStoppedTyping, typingPayload(conn.Identity, appointmentID)); err == nil {
			h.dispatcher.BroadcastToRoom(ctx, appointmentID, event, conn.ID)
		}
	}

	h.hub.OnDisconnect(ctx, conn)
	h.registry.Remove(conn.ID)
	conn.Close(websocket.CloseNormalClosure, "")

	if h.audit != nil {
		for _, appointmentID := range rooms {
			h.audit.EnqueueLeft(ctx, conn.Identity, appointmentID)
		}
	}

	log.Info().
		Str("connId", conn.ID).
		Str("identity", conn.Identity.Key()).
		Int("rooms", len(rooms)).
		Msg("websocket disconnected")
}
