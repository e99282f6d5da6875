package location

import (
	"context"
	"sync"
	"time"

	"github.com/meetsync/realtime-server-go/internal/model"
)

// MemoryStore keeps location records in process memory: a primary map keyed
// by connection id and a non-owning reverse index keyed by appointment id.
type MemoryStore struct {
	mu            sync.RWMutex
	records       map[string]*model.LocationRecord
	byAppointment map[string]map[string]struct{}
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:       make(map[string]*model.LocationRecord),
		byAppointment: make(map[string]map[string]struct{}),
		now:           time.Now,
	}
}

func (s *MemoryStore) Update(ctx context.Context, connID string, rec model.LocationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[connID]; ok {
		if rec.Timestamp.Before(existing.Timestamp) {
			// Out-of-order update; keep the newer record.
			return nil
		}
		if existing.AppointmentID != rec.AppointmentID {
			s.dropFromIndex(existing.AppointmentID, connID)
		}
	}

	s.records[connID] = &rec

	members := s.byAppointment[rec.AppointmentID]
	if members == nil {
		members = make(map[string]struct{})
		s.byAppointment[rec.AppointmentID] = members
	}
	members[connID] = struct{}{}

	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(connID)
	return nil
}

func (s *MemoryStore) removeLocked(connID string) {
	rec, ok := s.records[connID]
	if !ok {
		return
	}
	s.dropFromIndex(rec.AppointmentID, connID)
	delete(s.records, connID)
}

func (s *MemoryStore) dropFromIndex(appointmentID, connID string) {
	members := s.byAppointment[appointmentID]
	if members == nil {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(s.byAppointment, appointmentID)
	}
}

func (s *MemoryStore) ListByAppointment(ctx context.Context, appointmentID string) ([]model.LocationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := s.byAppointment[appointmentID]
	if len(members) == 0 {
		return nil, nil
	}

	records := make([]model.LocationRecord, 0, len(members))
	for connID := range members {
		if rec, ok := s.records[connID]; ok {
			records = append(records, *rec)
		}
	}
	return records, nil
}

func (s *MemoryStore) Appointments(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.byAppointment))
	for appointmentID := range s.byAppointment {
		ids = append(ids, appointmentID)
	}
	return ids, nil
}

func (s *MemoryStore) EvictStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	var evicted int64
	for connID, rec := range s.records {
		if rec.Timestamp.Before(cutoff) {
			s.removeLocked(connID)
			evicted++
		}
	}
	return evicted, nil
}

func (s *MemoryStore) ActiveCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// ActiveAppointments reports how many appointments currently have at least
// one tracked connection.
func (s *MemoryStore) ActiveAppointments() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byAppointment)
}
