package model

import "fmt"

// Identity is the resolved principal behind a connection: either a durable
// registered user or an ephemeral guest session. Exactly one of UserID and
// SessionID is set.
type Identity struct {
	UserID      string `json:"userId,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
	DisplayName string `json:"displayName"`
	IsGuest     bool   `json:"isGuest"`
}

// Ref returns the identity reference sent in broadcast payloads: the user id
// for registered users, the session id for guests.
func (i Identity) Ref() string {
	if i.IsGuest {
		return i.SessionID
	}
	return i.UserID
}

// Key returns a namespaced identifier suitable for rate-limit and audit keys.
func (i Identity) Key() string {
	if i.IsGuest {
		return fmt.Sprintf("session:%s", i.SessionID)
	}
	return fmt.Sprintf("user:%s", i.UserID)
}
