// Package location caches the latest known position per live connection,
// with a reverse index by appointment for room snapshots. Records disappear
// when the owning connection goes away or when they outlive the staleness
// threshold.
package location

import (
	"context"
	"time"

	"github.com/meetsync/realtime-server-go/internal/model"
)

// Store is implemented in-process and against redis. The in-process store is
// authoritative within one instance; the redis store lets several instances
// share one view.
type Store interface {
	// Update upserts the record for connID. Updates older than the stored
	// record are dropped so timestamps stay monotonic.
	Update(ctx context.Context, connID string, rec model.LocationRecord) error
	// Remove deletes the record and cleans the appointment index, dropping
	// the index entry when its member set becomes empty.
	Remove(ctx context.Context, connID string) error
	// ListByAppointment returns the current snapshot. Order is incidental.
	ListByAppointment(ctx context.Context, appointmentID string) ([]model.LocationRecord, error)
	// Appointments lists the appointment ids with at least one record.
	Appointments(ctx context.Context) ([]string, error)
	// EvictStale removes records older than maxAge and reports the count.
	// Safety net for disconnects the transport never signaled.
	EvictStale(ctx context.Context, maxAge time.Duration) (int64, error)
	// ActiveCount reports how many records are currently held.
	ActiveCount(ctx context.Context) (int, error)
}
