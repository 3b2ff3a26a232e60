// Package jobs contains background workers that run on a schedule.
// The ingest poller keeps the event store caught up with the gateway's access log between dashboard requests; the retention sweeper prunes events past the configured age; the alert notifier evaluates the traffic heuristics and ships findings to external sinks.
// Jobs are idempotent: re-running after a crash produces the same result as a clean run.
package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/aihub/gateway-monitor/internal/ingest"
)

// IngestPollJob periodically drains the access log into the event store so
// dashboard requests find the store already caught up.
type IngestPollJob struct {
	ingester *ingest.Ingester
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewIngestPollJob creates a new ingest poll job.
func NewIngestPollJob(ingester *ingest.Ingester) *IngestPollJob {
	return &IngestPollJob{
		ingester: ingester,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic poll loop. It runs an initial poll immediately,
// then repeats on the configured interval until ctx is cancelled or Stop() is
// called.
func (j *IngestPollJob) Start(ctx context.Context, intervalSeconds int) {
	log.Printf("Starting ingest poll job with interval of %d seconds", intervalSeconds)

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()

		ticker := time.NewTicker(time.Duration(intervalSeconds) * time.Second)
		defer ticker.Stop()

		// Run initial poll immediately
		j.runPoll(ctx)

		for {
			select {
			case <-ticker.C:
				j.runPoll(ctx)
			case <-j.stopCh:
				log.Println("Ingest poll job stopped")
				return
			case <-ctx.Done():
				log.Println("Ingest poll job context cancelled")
				return
			}
		}
	}()
}

// Stop stops the poll job and waits for the loop to exit.
func (j *IngestPollJob) Stop() {
	close(j.stopCh)
	j.wg.Wait()
}

// runPoll drains the access log. A single poll reads at most one scan batch,
// so loop until the source reports no further backlog.
func (j *IngestPollJob) runPoll(ctx context.Context) {
	for {
		outcome, err := j.ingester.Poll(ctx)
		if err != nil {
			log.Printf("Ingest poll: %v", err)
			return
		}
		if outcome.Skipped || !outcome.More {
			return
		}

		select {
		case <-j.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
	}
}
