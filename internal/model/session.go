package model

import "time"

// GuestSession is a passwordless guest identity with a bounded lifetime.
// Once past ExpiresAt the record is treated as absent everywhere.
type GuestSession struct {
	SessionID   string    `json:"sessionId"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func (s *GuestSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

func (s *GuestSession) Identity() Identity {
	return Identity{
		SessionID:   s.SessionID,
		DisplayName: s.DisplayName,
		IsGuest:     true,
	}
}
