package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/meetsync/realtime-server-go/internal/audit"
	apperrors "github.com/meetsync/realtime-server-go/internal/errors"
	"github.com/meetsync/realtime-server-go/internal/httputil"
	"github.com/meetsync/realtime-server-go/internal/session"
	"github.com/meetsync/realtime-server-go/internal/util"
)

type SessionHandler struct {
	sessions session.Store
}

func NewSessionHandler(sessions session.Store) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateSession)
	r.Delete("/{sessionID}", h.DeleteSession)
	r.Get("/stats", h.Stats)

	return r
}

type createSessionRequest struct {
	DisplayName string `json:"displayName"`
}

// POST /v1/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if !util.IsValidDisplayName(req.DisplayName) {
		httputil.WriteError(w, apperrors.InvalidInput("displayName", "must be 1-64 characters"))
		return
	}

	sess, err := h.sessions.Create(r.Context(), req.DisplayName)
	if err != nil {
		log.Error().Err(err).Msg("failed to create guest session")
		httputil.WriteError(w, apperrors.StoreUnavailable(err))
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSessionCreate,
		SessionID: sess.SessionID,
	})

	httputil.WriteJSON(w, http.StatusCreated, sess)
}

// DELETE /v1/sessions/{sessionID}
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !util.IsValidUUID(sessionID) {
		httputil.WriteError(w, apperrors.InvalidInput("sessionID", "must be a UUID"))
		return
	}

	deleted, err := h.sessions.Delete(r.Context(), sessionID)
	if err != nil {
		log.Error().Err(err).Msg("failed to delete guest session")
		httputil.WriteError(w, apperrors.StoreUnavailable(err))
		return
	}
	if !deleted {
		httputil.WriteError(w, apperrors.NotFound("Session"))
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSessionDelete,
		SessionID: sessionID,
	})

	w.WriteHeader(http.StatusNoContent)
}

// GET /v1/sessions/stats
func (h *SessionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	count, err := h.sessions.CountActive(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to count active sessions")
		httputil.WriteError(w, apperrors.StoreUnavailable(err))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"activeSessions": count,
	})
}
