package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meetsync/realtime-server-go/internal/location"
	"github.com/meetsync/realtime-server-go/internal/ratelimit"
	"github.com/meetsync/realtime-server-go/internal/session"
)

// CleanupJob periodically drops expired guest sessions, evicts stale
// location records and sweeps dead rate limit windows. It is the safety net
// behind lazy expiry: state left behind by connections that never said
// goodbye goes away here.
type CleanupJob struct {
	sessions  session.Store
	locations location.Store
	limiter   *ratelimit.MemoryLimiter
	staleAge  time.Duration
	interval  time.Duration
	done      chan struct{}
}

// NewCleanupJob wires the job. limiter may be nil when the redis limiter is
// in use; its counters expire natively.
func NewCleanupJob(
	sessions session.Store,
	locations location.Store,
	limiter *ratelimit.MemoryLimiter,
	staleAge time.Duration,
	interval time.Duration,
) *CleanupJob {
	return &CleanupJob{
		sessions:  sessions,
		locations: locations,
		limiter:   limiter,
		staleAge:  staleAge,
		interval:  interval,
		done:      make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	j.runCleanup(ctx, "guest sessions", j.sessions.DeleteExpired)
	j.runCleanup(ctx, "stale locations", func(ctx context.Context) (int64, error) {
		return j.locations.EvictStale(ctx, j.staleAge)
	})
	if j.limiter != nil {
		j.runCleanup(ctx, "rate limit windows", func(ctx context.Context) (int64, error) {
			return j.limiter.Sweep(), nil
		})
	}
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
