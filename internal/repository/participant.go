package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/meetsync/realtime-server-go/internal/model"
)

// ParticipantEvent carries a join or leave recorded from the realtime layer.
// Exactly one of UserID and SessionID is set.
type ParticipantEvent struct {
	AppointmentID string
	UserID        string
	SessionID     string
	DisplayName   string
	OccurredAt    time.Time
}

// CoordinateMirror is a periodic snapshot of a participant's last known
// position, written so appointments survive a server restart with
// approximate state.
type CoordinateMirror struct {
	AppointmentID string
	UserID        string
	SessionID     string
	Latitude      float64
	Longitude     float64
	Timestamp     time.Time
}

type ParticipantRepository interface {
	FindByAppointmentAndIdentity(ctx context.Context, appointmentID string, identity model.Identity) (*model.Participant, error)
	FindActiveByAppointment(ctx context.Context, appointmentID string) ([]model.Participant, error)
	RecordJoin(ctx context.Context, event ParticipantEvent) error
	RecordLeave(ctx context.Context, event ParticipantEvent) error
	MirrorCoordinates(ctx context.Context, mirror CoordinateMirror) error
	CountActiveByAppointment(ctx context.Context, appointmentID string) (int, error)
}

type participantRepo struct {
	db *sqlx.DB
}

func NewParticipantRepository(db *sqlx.DB) ParticipantRepository {
	return &participantRepo{db: db}
}

func (r *participantRepo) FindByAppointmentAndIdentity(ctx context.Context, appointmentID string, identity model.Identity) (*model.Participant, error) {
	var p model.Participant
	var err error
	if identity.IsGuest {
		err = r.db.GetContext(ctx, &p, `
			SELECT * FROM appointment_participants
			WHERE appointment_id = $1 AND session_id = $2
		`, appointmentID, identity.SessionID)
	} else {
		err = r.db.GetContext(ctx, &p, `
			SELECT * FROM appointment_participants
			WHERE appointment_id = $1 AND user_id = $2
		`, appointmentID, identity.UserID)
	}
	return HandleNotFound(&p, err)
}

func (r *participantRepo) FindActiveByAppointment(ctx context.Context, appointmentID string) ([]model.Participant, error) {
	var ps []model.Participant
	err := r.db.SelectContext(ctx, &ps, `
		SELECT * FROM appointment_participants
		WHERE appointment_id = $1 AND left_at IS NULL
		ORDER BY joined_at ASC
	`, appointmentID)
	return ps, err
}

func (r *participantRepo) RecordJoin(ctx context.Context, event ParticipantEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO appointment_participants
			(appointment_id, user_id, session_id, display_name, joined_at, last_seen_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $5)
		ON CONFLICT (appointment_id, (COALESCE(user_id, session_id))) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			last_seen_at = EXCLUDED.last_seen_at,
			left_at = NULL
	`, event.AppointmentID, event.UserID, event.SessionID, event.DisplayName, event.OccurredAt)
	return err
}

func (r *participantRepo) RecordLeave(ctx context.Context, event ParticipantEvent) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE appointment_participants SET
			left_at = $4,
			last_seen_at = $4
		WHERE appointment_id = $1
		AND COALESCE(user_id, session_id) = COALESCE(NULLIF($2, ''), NULLIF($3, ''))
	`, event.AppointmentID, event.UserID, event.SessionID, event.OccurredAt)
	return err
}

func (r *participantRepo) MirrorCoordinates(ctx context.Context, mirror CoordinateMirror) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE appointment_participants SET
			last_latitude = $4,
			last_longitude = $5,
			last_seen_at = $6
		WHERE appointment_id = $1
		AND COALESCE(user_id, session_id) = COALESCE(NULLIF($2, ''), NULLIF($3, ''))
	`, mirror.AppointmentID, mirror.UserID, mirror.SessionID,
		mirror.Latitude, mirror.Longitude, mirror.Timestamp)
	return err
}

func (r *participantRepo) CountActiveByAppointment(ctx context.Context, appointmentID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM appointment_participants
		WHERE appointment_id = $1 AND left_at IS NULL
	`, appointmentID)
	return count, err
}
