package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/meetsync/realtime-server-go/internal/errors"
	"github.com/meetsync/realtime-server-go/internal/httputil"
	"github.com/meetsync/realtime-server-go/internal/location"
	"github.com/meetsync/realtime-server-go/internal/middleware"
	"github.com/meetsync/realtime-server-go/internal/repository"
)

// AppointmentHandler serves read-only REST views of realtime state for
// clients that are not holding a websocket, like a meetup detail page doing
// an initial render before the socket connects.
type AppointmentHandler struct {
	locations    location.Store
	participants repository.ParticipantRepository
}

func NewAppointmentHandler(locations location.Store, participants repository.ParticipantRepository) *AppointmentHandler {
	return &AppointmentHandler{locations: locations, participants: participants}
}

func (h *AppointmentHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/{appointmentID}/locations", h.GetLocations)
	r.Get("/{appointmentID}/participants", h.GetParticipants)

	return r
}

// GET /v1/appointments/{appointmentID}/locations
func (h *AppointmentHandler) GetLocations(w http.ResponseWriter, r *http.Request) {
	appointmentID := chi.URLParam(r, "appointmentID")
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Authentication required"))
		return
	}

	participant, err := h.participants.FindByAppointmentAndIdentity(r.Context(), appointmentID, *identity)
	if err != nil {
		log.Error().Err(err).Msg("participant lookup failed")
		httputil.WriteError(w, apperrors.Database(err))
		return
	}
	if participant == nil {
		httputil.WriteError(w, apperrors.Forbidden("Not a participant of this appointment"))
		return
	}

	records, err := h.locations.ListByAppointment(r.Context(), appointmentID)
	if err != nil {
		log.Error().Err(err).Msg("failed to list appointment locations")
		httputil.WriteError(w, apperrors.StoreUnavailable(err))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"appointmentId": appointmentID,
		"locations":     records,
	})
}

// GET /v1/appointments/{appointmentID}/participants
func (h *AppointmentHandler) GetParticipants(w http.ResponseWriter, r *http.Request) {
	appointmentID := chi.URLParam(r, "appointmentID")
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Authentication required"))
		return
	}

	participant, err := h.participants.FindByAppointmentAndIdentity(r.Context(), appointmentID, *identity)
	if err != nil {
		log.Error().Err(err).Msg("participant lookup failed")
		httputil.WriteError(w, apperrors.Database(err))
		return
	}
	if participant == nil {
		httputil.WriteError(w, apperrors.Forbidden("Not a participant of this appointment"))
		return
	}

	participants, err := h.participants.FindActiveByAppointment(r.Context(), appointmentID)
	if err != nil {
		log.Error().Err(err).Msg("failed to list participants")
		httputil.WriteError(w, apperrors.Database(err))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"appointmentId": appointmentID,
		"participants":  participants,
	})
}
