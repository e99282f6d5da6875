package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/meetsync/realtime-server-go/internal/errors"
	"github.com/meetsync/realtime-server-go/internal/model"
)

// Client message types.
const (
	MsgJoinAppointment  = "joinAppointment"
	MsgLeaveAppointment = "leaveAppointment"
	MsgUpdateLocation   = "updateLocation"
	MsgGetLocations     = "getAppointmentLocations"
	MsgSendMessage      = "sendMessage"
	MsgStartTyping      = "startTyping"
	MsgStopTyping       = "stopTyping"
)

// Server event types.
const (
	EventJoined            = "joined"
	EventLeft              = "left"
	EventUserJoined        = "userJoined"
	EventUserLeft          = "userLeft"
	EventLocationUpdated   = "locationUpdated"
	EventLocations         = "locations"
	EventNewMessage        = "newMessage"
	EventUserStartedTyping = "userStartedTyping"
	EventUserStoppedTyping = "userStoppedTyping"
	EventError             = "error"
)

// Envelope is the tagged wire frame in both directions. Payload shapes are
// validated at this boundary; nothing dynamically typed reaches the core.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ParseEnvelope decodes one inbound frame. A frame that is not a JSON
// envelope with a known type is protocol corruption and terminates the
// connection; payload-level problems are recoverable validation failures.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	switch env.Type {
	case MsgJoinAppointment, MsgLeaveAppointment, MsgUpdateLocation,
		MsgGetLocations, MsgSendMessage, MsgStartTyping, MsgStopTyping:
		return &env, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}

type RoomPayload struct {
	AppointmentID string `json:"appointmentId"`
}

func (p *RoomPayload) Validate() error {
	if p.AppointmentID == "" {
		return apperrors.MissingRequired("appointmentId")
	}
	return nil
}

type UpdateLocationPayload struct {
	AppointmentID string  `json:"appointmentId"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
}

func (p *UpdateLocationPayload) Validate() error {
	if p.AppointmentID == "" {
		return apperrors.MissingRequired("appointmentId")
	}
	if p.Latitude < model.MinLatitude || p.Latitude > model.MaxLatitude {
		return apperrors.InvalidInput("latitude", "must be between -90 and 90")
	}
	if p.Longitude < model.MinLongitude || p.Longitude > model.MaxLongitude {
		return apperrors.InvalidInput("longitude", "must be between -180 and 180")
	}
	return nil
}

const maxChatMessageLen = 2000

type ChatMessagePayload struct {
	AppointmentID string `json:"appointmentId"`
	Content       string `json:"content"`
}

func (p *ChatMessagePayload) Validate() error {
	if p.AppointmentID == "" {
		return apperrors.MissingRequired("appointmentId")
	}
	if p.Content == "" {
		return apperrors.MissingRequired("content")
	}
	if len(p.Content) > maxChatMessageLen {
		return apperrors.InvalidInput("content", "too long")
	}
	return nil
}

func decodePayload(env *Envelope, dst interface{ Validate() error }) error {
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return apperrors.ValidationError("Malformed payload").WithCause(err)
	}
	return dst.Validate()
}

// Event is an outbound payload before framing.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEvent frames an outbound event.
func NewEvent(eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Data: data}, nil
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Outbound payload shapes.

type PresencePayload struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	IsGuest     bool   `json:"isGuest"`
}

func presencePayload(identity model.Identity) PresencePayload {
	return PresencePayload{
		UserID:      identity.Ref(),
		DisplayName: identity.DisplayName,
		IsGuest:     identity.IsGuest,
	}
}

type RoomAckPayload struct {
	AppointmentID string `json:"appointmentId"`
}

type LocationUpdatedPayload struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	IsGuest     bool      `json:"isGuest"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Timestamp   time.Time `json:"timestamp"`
}

type LocationsPayload struct {
	AppointmentID string                 `json:"appointmentId"`
	Locations     []model.LocationRecord `json:"locations"`
}

type TypingPayload struct {
	AppointmentID string `json:"appointmentId"`
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
	IsGuest       bool   `json:"isGuest"`
}

func typingPayload(identity model.Identity, appointmentID string) TypingPayload {
	return TypingPayload{
		AppointmentID: appointmentID,
		UserID:        identity.Ref(),
		DisplayName:   identity.DisplayName,
		IsGuest:       identity.IsGuest,
	}
}

type ChatEventPayload struct {
	ID            string    `json:"id"`
	AppointmentID string    `json:"appointmentId"`
	UserID        string    `json:"userId"`
	DisplayName   string    `json:"displayName"`
	Content       string    `json:"content"`
	SentAt        time.Time `json:"sentAt"`
}

type ErrorPayload struct {
	Code       apperrors.ErrorCode `json:"code"`
	Message    string              `json:"message"`
	RetryAfter int                 `json:"retryAfter,omitempty"`
}

func errorEvent(err error) Event {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		appErr = apperrors.Internal("An unexpected error occurred")
	}

	payload := ErrorPayload{Code: appErr.Code, Message: appErr.Message}
	if details, ok := appErr.Details.(map[string]int); ok {
		payload.RetryAfter = details["retryAfter"]
	}

	event, _ := NewEvent(EventError, payload)
	return event
}
