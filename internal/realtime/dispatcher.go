package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	redisclient "github.com/meetsync/realtime-server-go/internal/redis"
)

// RoomSource resolves the connections currently in a room. The Hub implements
// it; the indirection keeps the dispatcher free of membership bookkeeping.
type RoomSource interface {
	RoomConnections(appointmentID string) []*Connection
}

// wireBroadcast is the pubsub frame exchanged between instances.
type wireBroadcast struct {
	Origin        string `json:"origin"`
	AppointmentID string `json:"appointmentId"`
	Exclude       string `json:"exclude,omitempty"`
	Event         Event  `json:"event"`
}

// Dispatcher fans events out to every connection in a room. With a redis
// client attached it also bridges broadcasts across server instances over
// pubsub: each instance subscribes to the channels of the rooms it has local
// members in and replays foreign broadcasts locally.
type Dispatcher struct {
	instanceID string
	redis      *redisclient.Client
	rooms      RoomSource

	mu   sync.Mutex
	subs map[string]context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher builds a dispatcher. redisClient may be nil for
// single-instance deployments; fan-out is then purely local.
func NewDispatcher(redisClient *redisclient.Client, rooms RoomSource) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		instanceID: uuid.NewString(),
		redis:      redisClient,
		rooms:      rooms,
		subs:       make(map[string]context.CancelFunc),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// BroadcastToRoom delivers event to every member of the room at the time of
// the call, skipping excludeConnID when non-empty. Delivery is best-effort
// per connection; a full send buffer closes that connection and never aborts
// delivery to the rest of the room.
func (d *Dispatcher) BroadcastToRoom(ctx context.Context, appointmentID string, event Event, excludeConnID string) {
	d.deliverLocal(appointmentID, event, excludeConnID)

	if d.redis == nil {
		return
	}

	frame := wireBroadcast{
		Origin:        d.instanceID,
		AppointmentID: appointmentID,
		Exclude:       excludeConnID,
		Event:         event,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal broadcast frame")
		return
	}
	if err := d.redis.Publish(ctx, redisclient.RoomChannel(appointmentID), data).Err(); err != nil {
		// Local members already got the event; cross-instance delivery is
		// best-effort over pubsub.
		log.Warn().Err(err).Str("appointmentId", appointmentID).Msg("pubsub publish failed")
	}
}

// SendToConnection delivers an event to a single connection.
func (d *Dispatcher) SendToConnection(conn *Connection, event Event) {
	payload, err := event.Marshal()
	if err != nil {
		log.Error().Err(err).Str("event", event.Type).Msg("failed to marshal event")
		return
	}
	if err := conn.Send(payload); err != nil {
		log.Debug().Str("connId", conn.ID).Str("event", event.Type).Msg("send failed, connection going away")
	}
}

func (d *Dispatcher) deliverLocal(appointmentID string, event Event, excludeConnID string) {
	payload, err := event.Marshal()
	if err != nil {
		log.Error().Err(err).Str("event", event.Type).Msg("failed to marshal event")
		return
	}

	for _, conn := range d.rooms.RoomConnections(appointmentID) {
		if conn.ID == excludeConnID {
			continue
		}
		if err := conn.Send(payload); err != nil {
			log.Debug().Str("connId", conn.ID).Str("event", event.Type).Msg("send failed, connection going away")
		}
	}
}

// RoomOpened is called by the hub when the first local member joins a room.
func (d *Dispatcher) RoomOpened(appointmentID string) {
	if d.redis == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subs[appointmentID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(d.ctx)
	d.subs[appointmentID] = cancel
	go d.subscribeLoop(ctx, appointmentID)
}

// RoomClosed is called by the hub when the last local member leaves a room.
func (d *Dispatcher) RoomClosed(appointmentID string) {
	if d.redis == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if cancel, ok := d.subs[appointmentID]; ok {
		cancel()
		delete(d.subs, appointmentID)
	}
}

func (d *Dispatcher) subscribeLoop(ctx context.Context, appointmentID string) {
	channel := redisclient.RoomChannel(appointmentID)
	pubsub := d.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("appointmentId", appointmentID).
		Str("channel", channel).
		Msg("room pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var frame wireBroadcast
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal broadcast frame")
				continue
			}
			if frame.Origin == d.instanceID {
				// Already delivered locally at publish time.
				continue
			}

			d.deliverLocal(frame.AppointmentID, frame.Event, frame.Exclude)
		}
	}
}

// Close stops all pubsub subscriptions.
func (d *Dispatcher) Close() {
	d.cancel()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = make(map[string]context.CancelFunc)
}
