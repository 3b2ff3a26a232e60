// alert_notify.go implements the AlertNotifyJob, which periodically evaluates
// the traffic heuristics against the freshest event window and ships findings
// to the configured notification sinks. Firing state is held in memory per
// alert key so a sustained condition produces one notification per episode
// rather than one per cycle; a restart re-arms every alert, which at worst
// repeats a notification but never drops one.
package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/aihub/gateway-monitor/internal/db/repositories"
	"github.com/aihub/gateway-monitor/internal/monitor"
	"github.com/aihub/gateway-monitor/internal/notify"
	"github.com/aihub/gateway-monitor/internal/telemetry"
)

// AlertNotifyJob evaluates alert rules on a schedule and pushes findings to
// external sinks, independent of anyone watching the dashboard.
type AlertNotifyJob struct {
	events          *repositories.EventRepository
	engine          *monitor.Engine
	shippers        *notify.MultiShipper
	ignoredClients  []string
	suppressRepeats bool

	// active tracks alert keys currently firing. Only touched from the job
	// goroutine.
	active map[string]bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewAlertNotifyJob creates a new alert notify job. ignoredClients are
// excluded from evaluation the same way they are excluded from the dashboard,
// so a monitoring probe cannot trip its own burst alert.
func NewAlertNotifyJob(
	events *repositories.EventRepository,
	engine *monitor.Engine,
	shippers *notify.MultiShipper,
	ignoredClients []string,
	suppressRepeats bool,
) *AlertNotifyJob {
	return &AlertNotifyJob{
		events:          events,
		engine:          engine,
		shippers:        shippers,
		ignoredClients:  ignoredClients,
		suppressRepeats: suppressRepeats,
		active:          make(map[string]bool),
		stopCh:          make(chan struct{}),
	}
}

// Start begins the periodic evaluation loop. It runs an initial evaluation
// immediately, then repeats on the configured interval until ctx is cancelled
// or Stop() is called.
func (j *AlertNotifyJob) Start(ctx context.Context, intervalSeconds int) {
	log.Printf("Starting alert notifier with interval of %d seconds (window %d minutes, sinks: %d)",
		intervalSeconds, j.engine.WindowMinutes(), j.shippers.Active())

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()

		ticker := time.NewTicker(time.Duration(intervalSeconds) * time.Second)
		defer ticker.Stop()

		j.runEvaluation(ctx)

		for {
			select {
			case <-ticker.C:
				j.runEvaluation(ctx)
			case <-j.stopCh:
				log.Println("Alert notifier stopped")
				return
			case <-ctx.Done():
				log.Println("Alert notifier context cancelled")
				return
			}
		}
	}()
}

// Stop stops the notify job and waits for the loop to exit.
func (j *AlertNotifyJob) Stop() {
	close(j.stopCh)
	j.wg.Wait()
}

// runEvaluation loads the evaluation window, runs the rules, and ships any
// alert that was not already firing in the previous cycle.
func (j *AlertNotifyJob) runEvaluation(ctx context.Context) {
	now := time.Now().UTC()
	since := now.Add(-time.Duration(j.engine.WindowMinutes()) * time.Minute)

	events, _, _, err := j.events.ListEvents(ctx, repositories.EventFilters{
		Since:          &since,
		IgnoredClients: j.ignoredClients,
	}, 0)
	if err != nil {
		log.Printf("Alert notifier: failed to load recent events: %v", err)
		return
	}

	alerts := j.engine.Evaluate(events, now)

	levels := map[string]int{
		monitor.LevelInfo:    0,
		monitor.LevelWarning: 0,
		monitor.LevelDanger:  0,
	}
	for _, alert := range alerts {
		levels[alert.Level]++
	}
	for level, count := range levels {
		telemetry.AlertsActive.WithLabelValues(level).Set(float64(count))
	}

	firing := make(map[string]bool, len(alerts))
	for _, alert := range alerts {
		firing[alert.Key] = true

		if j.suppressRepeats && j.active[alert.Key] {
			continue
		}

		if err := j.shippers.Ship(ctx, notify.FromAlert(alert, now)); err != nil {
			// Not marked active: the next cycle retries delivery.
			log.Printf("Alert notifier: failed to ship %s alert: %v", alert.Type, err)
			continue
		}
		j.active[alert.Key] = true
	}

	// Conditions that cleared re-arm so the next episode notifies again.
	for key := range j.active {
		if !firing[key] {
			delete(j.active, key)
		}
	}
}
