// Package queue moves durable participant writes off the realtime path.
// Join/leave audit rows and coordinate mirrors are enqueued as tasks and
// retried by the worker, so a database hiccup never blocks the event loop.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"github.com/meetsync/realtime-server-go/internal/model"
	"github.com/meetsync/realtime-server-go/internal/repository"
)

const (
	TaskParticipantJoined = "participant:joined"
	TaskParticipantLeft   = "participant:left"
	TaskMirrorCoordinates = "participant:mirror"
)

type ParticipantEventPayload struct {
	AppointmentID string    `json:"appointmentId"`
	UserID        string    `json:"userId,omitempty"`
	SessionID     string    `json:"sessionId,omitempty"`
	DisplayName   string    `json:"displayName"`
	OccurredAt    time.Time `json:"occurredAt"`
}

type MirrorPayload struct {
	AppointmentID string    `json:"appointmentId"`
	UserID        string    `json:"userId,omitempty"`
	SessionID     string    `json:"sessionId,omitempty"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Timestamp     time.Time `json:"timestamp"`
}

func participantEvent(identity model.Identity, appointmentID string) ParticipantEventPayload {
	p := ParticipantEventPayload{
		AppointmentID: appointmentID,
		DisplayName:   identity.DisplayName,
		OccurredAt:    time.Now(),
	}
	if identity.IsGuest {
		p.SessionID = identity.SessionID
	} else {
		p.UserID = identity.UserID
	}
	return p
}

// Client enqueues participant tasks. Enqueueing is best-effort from the
// caller's perspective: failures are logged, never surfaced to the
// connection that triggered the write.
type Client struct {
	client *asynq.Client
}

func NewClient(redisURL string) (*Client, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, err
	}
	return &Client{client: asynq.NewClient(opt)}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) EnqueueJoined(ctx context.Context, identity model.Identity, appointmentID string) {
	c.enqueue(ctx, TaskParticipantJoined, participantEvent(identity, appointmentID))
}

func (c *Client) EnqueueLeft(ctx context.Context, identity model.Identity, appointmentID string) {
	c.enqueue(ctx, TaskParticipantLeft, participantEvent(identity, appointmentID))
}

func (c *Client) EnqueueMirror(ctx context.Context, rec model.LocationRecord) {
	payload := MirrorPayload{
		AppointmentID: rec.AppointmentID,
		Latitude:      rec.Latitude,
		Longitude:     rec.Longitude,
		Timestamp:     rec.Timestamp,
	}
	if rec.Identity.IsGuest {
		payload.SessionID = rec.Identity.SessionID
	} else {
		payload.UserID = rec.Identity.UserID
	}
	c.enqueue(ctx, TaskMirrorCoordinates, payload)
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("task", taskType).Msg("failed to marshal task payload")
		return
	}
	task := asynq.NewTask(taskType, data)
	if _, err := c.client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		log.Warn().Err(err).Str("task", taskType).Msg("failed to enqueue task")
	}
}

// Server runs the worker side of the queue.
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewServer(redisURL string, participants repository.ParticipantRepository) (*Server, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, err
	}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: 5,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error().Err(err).Str("task", task.Type()).Msg("task failed")
		}),
	})

	mux := asynq.NewServeMux()
	registerHandlers(mux, participants)

	return &Server{server: srv, mux: mux}, nil
}

func registerHandlers(mux *asynq.ServeMux, participants repository.ParticipantRepository) {
	mux.HandleFunc(TaskParticipantJoined, func(ctx context.Context, t *asynq.Task) error {
		var p ParticipantEventPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return err
		}
		return participants.RecordJoin(ctx, repository.ParticipantEvent{
			AppointmentID: p.AppointmentID,
			UserID:        p.UserID,
			SessionID:     p.SessionID,
			DisplayName:   p.DisplayName,
			OccurredAt:    p.OccurredAt,
		})
	})

	mux.HandleFunc(TaskParticipantLeft, func(ctx context.Context, t *asynq.Task) error {
		var p ParticipantEventPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return err
		}
		return participants.RecordLeave(ctx, repository.ParticipantEvent{
			AppointmentID: p.AppointmentID,
			UserID:        p.UserID,
			SessionID:     p.SessionID,
			DisplayName:   p.DisplayName,
			OccurredAt:    p.OccurredAt,
		})
	})

	mux.HandleFunc(TaskMirrorCoordinates, func(ctx context.Context, t *asynq.Task) error {
		var p MirrorPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return err
		}
		return participants.MirrorCoordinates(ctx, repository.CoordinateMirror{
			AppointmentID: p.AppointmentID,
			UserID:        p.UserID,
			SessionID:     p.SessionID,
			Latitude:      p.Latitude,
			Longitude:     p.Longitude,
			Timestamp:     p.Timestamp,
		})
	})
}

// Start launches the worker loop.
func (s *Server) Start() error {
	return s.server.Start(s.mux)
}

// Shutdown drains in-flight tasks and stops the worker.
func (s *Server) Shutdown() {
	s.server.Shutdown()
}
