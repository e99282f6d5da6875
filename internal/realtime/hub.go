package realtime

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/meetsync/realtime-server-go/internal/location"
)

// Hub owns room membership: per-appointment sets of live connections and the
// reverse view of which rooms a connection joined. Rooms are created lazily
// on first join and deleted when their member set empties.
type Hub struct {
	mu        sync.Mutex
	rooms     map[string]map[string]*Connection
	connRooms map[string]map[string]struct{}

	locations  location.Store
	dispatcher *Dispatcher
}

func NewHub(locations location.Store) *Hub {
	return &Hub{
		rooms:     make(map[string]map[string]*Connection),
		connRooms: make(map[string]map[string]struct{}),
		locations: locations,
	}
}

// AttachDispatcher wires the dispatcher after construction; the dispatcher
// needs the hub as its RoomSource.
func (h *Hub) AttachDispatcher(d *Dispatcher) {
	h.dispatcher = d
}

// RoomConnections implements RoomSource.
func (h *Hub) RoomConnections(appointmentID string) []*Connection {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[appointmentID]
	if len(room) == 0 {
		return nil
	}
	conns := make([]*Connection, 0, len(room))
	for _, conn := range room {
		conns = append(conns, conn)
	}
	return conns
}

// RoomsOf returns the appointment ids the connection has joined.
func (h *Hub) RoomsOf(connID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	memberships := h.connRooms[connID]
	if len(memberships) == 0 {
		return nil
	}
	rooms := make([]string, 0, len(memberships))
	for appointmentID := range memberships {
		rooms = append(rooms, appointmentID)
	}
	return rooms
}

// Join adds the connection to the room and announces it to every member,
// including the joiner, so everyone sees a consistent participant list.
// Joining a room twice is a no-op that still succeeds.
func (h *Hub) Join(ctx context.Context, conn *Connection, appointmentID string) {
	h.mu.Lock()
	room := h.rooms[appointmentID]
	if room == nil {
		room = make(map[string]*Connection)
		h.rooms[appointmentID] = room
	}
	if _, already := room[conn.ID]; already {
		h.mu.Unlock()
		return
	}

	firstMember := len(room) == 0
	room[conn.ID] = conn

	memberships := h.connRooms[conn.ID]
	if memberships == nil {
		memberships = make(map[string]struct{})
		h.connRooms[conn.ID] = memberships
	}
	memberships[appointmentID] = struct{}{}
	h.mu.Unlock()

	if firstMember {
		h.dispatcher.RoomOpened(appointmentID)
	}

	log.Info().
		Str("connId", conn.ID).
		Str("identity", conn.Identity.Key()).
		Str("appointmentId", appointmentID).
		Msg("connection joined room")

	event, err := NewEvent(EventUserJoined, presencePayload(conn.Identity))
	if err != nil {
		log.Error().Err(err).Msg("failed to build join event")
		return
	}
	h.dispatcher.BroadcastToRoom(ctx, appointmentID, event, "")
}

// Leave removes the membership, drops the connection's location record and
// announces the departure to the remaining members. No-op if the connection
// is not a member.
func (h *Hub) Leave(ctx context.Context, conn *Connection, appointmentID string) {
	if !h.removeMembership(conn.ID, appointmentID) {
		return
	}

	if err := h.locations.Remove(ctx, conn.ID); err != nil {
		log.Warn().Err(err).Str("connId", conn.ID).Msg("failed to drop location record")
	}

	log.Info().
		Str("connId", conn.ID).
		Str("identity", conn.Identity.Key()).
		Str("appointmentId", appointmentID).
		Msg("connection left room")

	event, err := NewEvent(EventUserLeft, presencePayload(conn.Identity))
	if err != nil {
		log.Error().Err(err).Msg("failed to build leave event")
		return
	}
	h.dispatcher.BroadcastToRoom(ctx, appointmentID, event, "")
}

// OnDisconnect performs the equivalent of Leave for every room the
// connection belonged to. This is the failure-recovery path: a dropped
// client must not leave presence or location state behind. All membership is
// removed before any broadcast, so a re-join by the same identity observes
// clean state.
func (h *Hub) OnDisconnect(ctx context.Context, conn *Connection) {
	h.mu.Lock()
	memberships := h.connRooms[conn.ID]
	left := make([]string, 0, len(memberships))
	for appointmentID := range memberships {
		left = append(left, appointmentID)
		h.dropFromRoomLocked(conn.ID, appointmentID)
	}
	delete(h.connRooms, conn.ID)
	h.mu.Unlock()

	for _, appointmentID := range left {
		h.notifyRoomClosedIfEmpty(appointmentID)
	}

	if err := h.locations.Remove(ctx, conn.ID); err != nil {
		log.Warn().Err(err).Str("connId", conn.ID).Msg("failed to drop location record")
	}

	if len(left) == 0 {
		return
	}

	event, err := NewEvent(EventUserLeft, presencePayload(conn.Identity))
	if err != nil {
		log.Error().Err(err).Msg("failed to build leave event")
		return
	}
	for _, appointmentID := range left {
		h.dispatcher.BroadcastToRoom(ctx, appointmentID, event, "")
	}
}

// removeMembership drops one connection-room pair. Returns false when the
// connection was not a member.
func (h *Hub) removeMembership(connID, appointmentID string) bool {
	h.mu.Lock()
	room := h.rooms[appointmentID]
	if _, ok := room[connID]; !ok {
		h.mu.Unlock()
		return false
	}
	h.dropFromRoomLocked(connID, appointmentID)
	if memberships := h.connRooms[connID]; len(memberships) == 0 {
		delete(h.connRooms, connID)
	}
	h.mu.Unlock()

	h.notifyRoomClosedIfEmpty(appointmentID)
	return true
}

func (h *Hub) dropFromRoomLocked(connID, appointmentID string) {
	room := h.rooms[appointmentID]
	if room == nil {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(h.rooms, appointmentID)
	}
	if memberships, ok := h.connRooms[connID]; ok {
		delete(memberships, appointmentID)
	}
}

func (h *Hub) notifyRoomClosedIfEmpty(appointmentID string) {
	h.mu.Lock()
	_, stillOpen := h.rooms[appointmentID]
	h.mu.Unlock()
	if !stillOpen {
		h.dispatcher.RoomClosed(appointmentID)
	}
}

// IsMember reports whether the connection has joined the room.
func (h *Hub) IsMember(connID, appointmentID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.rooms[appointmentID][connID]
	return ok
}

// RoomCount reports how many rooms currently have members.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}
