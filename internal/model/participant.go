package model

import "time"

// Participant is the durable participant row owned by the external store.
// The realtime core reads it for authorization and mirrors last-known
// coordinates into it periodically.
type Participant struct {
	ID            string     `db:"id" json:"id"`
	AppointmentID string     `db:"appointment_id" json:"appointmentId"`
	UserID        *string    `db:"user_id" json:"userId,omitempty"`
	SessionID     *string    `db:"session_id" json:"sessionId,omitempty"`
	DisplayName   string     `db:"display_name" json:"displayName"`
	LastLatitude  *float64   `db:"last_latitude" json:"lastLatitude,omitempty"`
	LastLongitude *float64   `db:"last_longitude" json:"lastLongitude,omitempty"`
	LastSeenAt    *time.Time `db:"last_seen_at" json:"lastSeenAt,omitempty"`
	JoinedAt      time.Time  `db:"joined_at" json:"joinedAt"`
	LeftAt        *time.Time `db:"left_at" json:"leftAt,omitempty"`
}
