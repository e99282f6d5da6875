package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetsync/realtime-server-go/internal/location"
	"github.com/meetsync/realtime-server-go/internal/middleware"
	"github.com/meetsync/realtime-server-go/internal/model"
	"github.com/meetsync/realtime-server-go/internal/repository"
)

type mockParticipantRepo struct {
	participants map[string]*model.Participant
}

func (m *mockParticipantRepo) FindByAppointmentAndIdentity(ctx context.Context, appointmentID string, identity model.Identity) (*model.Participant, error) {
	return m.participants[appointmentID+"/"+identity.Ref()], nil
}

func (m *mockParticipantRepo) FindActiveByAppointment(ctx context.Context, appointmentID string) ([]model.Participant, error) {
	var out []model.Participant
	for _, p := range m.participants {
		if p.AppointmentID == appointmentID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockParticipantRepo) RecordJoin(ctx context.Context, event repository.ParticipantEvent) error {
	return nil
}

func (m *mockParticipantRepo) RecordLeave(ctx context.Context, event repository.ParticipantEvent) error {
	return nil
}

func (m *mockParticipantRepo) MirrorCoordinates(ctx context.Context, mirror repository.CoordinateMirror) error {
	return nil
}

func (m *mockParticipantRepo) CountActiveByAppointment(ctx context.Context, appointmentID string) (int, error) {
	return 0, nil
}

func withIdentity(identity *model.Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), middleware.IdentityContextKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newAppointmentServer(t *testing.T, identity *model.Identity, repo repository.ParticipantRepository, locations location.Store) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/v1/appointments", func(r chi.Router) {
		if identity != nil {
			r.Use(withIdentity(identity))
		}
		r.Mount("/", NewAppointmentHandler(locations, repo).Routes())
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestGetAppointmentLocations(t *testing.T) {
	identity := model.Identity{UserID: "user-1", DisplayName: "Hana"}
	repo := &mockParticipantRepo{participants: map[string]*model.Participant{
		"appt-1/user-1": {AppointmentID: "appt-1", DisplayName: "Hana"},
	}}

	t.Run("participant gets the live snapshot", func(t *testing.T) {
		locations := location.NewMemoryStore()
		require.NoError(t, locations.Update(context.Background(), "conn-1", model.LocationRecord{
			Identity:      identity,
			AppointmentID: "appt-1",
			Latitude:      35.6812,
			Longitude:     139.7671,
			Timestamp:     time.Now(),
		}))
		srv := newAppointmentServer(t, &identity, repo, locations)

		resp, err := http.Get(srv.URL + "/v1/appointments/appt-1/locations")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			AppointmentID string                 `json:"appointmentId"`
			Locations     []model.LocationRecord `json:"locations"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "appt-1", body.AppointmentID)
		require.Len(t, body.Locations, 1)
		assert.Equal(t, 35.6812, body.Locations[0].Latitude)
	})

	t.Run("non-participant is forbidden", func(t *testing.T) {
		srv := newAppointmentServer(t, &identity, repo, location.NewMemoryStore())

		resp, err := http.Get(srv.URL + "/v1/appointments/appt-2/locations")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("unauthenticated is rejected", func(t *testing.T) {
		srv := newAppointmentServer(t, nil, repo, location.NewMemoryStore())

		resp, err := http.Get(srv.URL + "/v1/appointments/appt-1/locations")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestGetAppointmentParticipants(t *testing.T) {
	identity := model.Identity{SessionID: "guest-1", DisplayName: "Guest Kim", IsGuest: true}
	repo := &mockParticipantRepo{participants: map[string]*model.Participant{
		"appt-1/guest-1": {AppointmentID: "appt-1", DisplayName: "Guest Kim"},
	}}

	t.Run("participant sees the roster", func(t *testing.T) {
		srv := newAppointmentServer(t, &identity, repo, location.NewMemoryStore())

		resp, err := http.Get(srv.URL + "/v1/appointments/appt-1/participants")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Participants []model.Participant `json:"participants"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Len(t, body.Participants, 1)
	})

	t.Run("non-participant is forbidden", func(t *testing.T) {
		srv := newAppointmentServer(t, &identity, repo, location.NewMemoryStore())

		resp, err := http.Get(srv.URL + "/v1/appointments/appt-9/participants")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}
