package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meetsync/realtime-server-go/internal/location"
	"github.com/meetsync/realtime-server-go/internal/model"
)

// MirrorEnqueuer hands coordinate snapshots to the task queue. Implemented
// by the queue client.
type MirrorEnqueuer interface {
	EnqueueMirror(ctx context.Context, rec model.LocationRecord)
}

// MirrorJob periodically snapshots every live location record into the
// durable participant table via the task queue. The realtime path never
// touches postgres; this job is how last-known positions survive a restart.
type MirrorJob struct {
	locations location.Store
	enqueuer  MirrorEnqueuer
	interval  time.Duration
	done      chan struct{}
}

func NewMirrorJob(locations location.Store, enqueuer MirrorEnqueuer, interval time.Duration) *MirrorJob {
	return &MirrorJob{
		locations: locations,
		enqueuer:  enqueuer,
		interval:  interval,
		done:      make(chan struct{}),
	}
}

func (j *MirrorJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("coordinate mirror job started")
}

func (j *MirrorJob) Stop() {
	close(j.done)
	log.Info().Msg("coordinate mirror job stopped")
}

func (j *MirrorJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.mirror()
		}
	}
}

func (j *MirrorJob) mirror() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	appointments, err := j.locations.Appointments(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("mirror tick skipped, appointment listing failed")
		return
	}

	var mirrored int
	for _, appointmentID := range appointments {
		records, err := j.locations.ListByAppointment(ctx, appointmentID)
		if err != nil {
			log.Warn().Err(err).Str("appointmentId", appointmentID).Msg("mirror listing failed")
			continue
		}
		for _, rec := range records {
			j.enqueuer.EnqueueMirror(ctx, rec)
			mirrored++
		}
	}

	if mirrored > 0 {
		log.Debug().Int("count", mirrored).Msg("mirrored coordinate snapshots")
	}
}
