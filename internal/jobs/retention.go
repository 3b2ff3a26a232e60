// retention.go implements the RetentionSweepJob, which periodically deletes
// access events older than the configured maximum age so the store does not
// grow without bound. Pruning is safe with respect to ingestion: the ingest
// cursor tracks the log file, not the store, so purged events are never
// re-ingested on a later poll.
package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/aihub/gateway-monitor/internal/db/repositories"
	"github.com/aihub/gateway-monitor/internal/telemetry"
)

// RetentionSweepJob prunes events past the configured maximum age.
type RetentionSweepJob struct {
	events     *repositories.EventRepository
	maxAgeDays int
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// NewRetentionSweepJob creates a new retention sweep job.
func NewRetentionSweepJob(events *repositories.EventRepository, maxAgeDays int) *RetentionSweepJob {
	return &RetentionSweepJob{
		events:     events,
		maxAgeDays: maxAgeDays,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the periodic sweep loop. The first sweep runs immediately so a
// monitor restarted after a long outage reclaims space without waiting a full
// interval.
func (j *RetentionSweepJob) Start(ctx context.Context, intervalMinutes int) {
	log.Printf("Starting retention sweep job with interval of %d minutes (max age %d days)",
		intervalMinutes, j.maxAgeDays)

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()

		ticker := time.NewTicker(time.Duration(intervalMinutes) * time.Minute)
		defer ticker.Stop()

		j.runSweep(ctx)

		for {
			select {
			case <-ticker.C:
				j.runSweep(ctx)
			case <-j.stopCh:
				log.Println("Retention sweep job stopped")
				return
			case <-ctx.Done():
				log.Println("Retention sweep job context cancelled")
				return
			}
		}
	}()
}

// Stop stops the sweep job and waits for the loop to exit.
func (j *RetentionSweepJob) Stop() {
	close(j.stopCh)
	j.wg.Wait()
}

// runSweep deletes events older than the retention cutoff.
func (j *RetentionSweepJob) runSweep(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -j.maxAgeDays)

	purged, err := j.events.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		log.Printf("Retention sweep: failed to purge events: %v", err)
		return
	}

	if purged > 0 {
		telemetry.StorePurgedEventsTotal.Add(float64(purged))
		log.Printf("Retention sweep: purged %d events older than %s", purged, cutoff.Format(time.RFC3339))
	}
}
