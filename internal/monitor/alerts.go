// alerts.go evaluates the heuristic security rules over a window of events.
// Evaluation is stateless: every call re-derives the full alert set, so an
// ongoing condition is re-raised each cycle until its traffic leaves the
// window. Episode suppression, when wanted, lives in the notifier.
package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/aihub/gateway-monitor/internal/db/models"
)

// Alert levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelDanger  = "danger"
)

// Alert types, in evaluation order.
const (
	AlertRequestBurst   = "request_burst"
	AlertClientErrors   = "client_errors"
	AlertMissingAPIKeys = "missing_api_keys"
	AlertSuspiciousPath = "suspicious_path"
)

// Alert is one raised condition. Key identifies the condition independent
// of its changing count (type plus client, plus path for probes); it is
// what the notifier's episode suppression hangs on to and is not part of
// the API payload.
type Alert struct {
	Type          string `json:"type"`
	Level         string `json:"level"`
	Message       string `json:"message"`
	Client        string `json:"client,omitempty"`
	Count         int    `json:"count,omitempty"`
	WindowMinutes int    `json:"window_minutes"`
	Key           string `json:"-"`
}

// Thresholds configure the rules. A count must strictly exceed its
// threshold to fire; hitting it exactly stays quiet.
type Thresholds struct {
	WindowMinutes        int
	RateThreshold        int
	ClientErrorThreshold int
	MissingKeyThreshold  int
}

const (
	defaultAlertWindowMinutes   = 5
	defaultRateThreshold        = 120
	defaultClientErrorThreshold = 20
	defaultMissingKeyThreshold  = 10
)

// Engine evaluates the alert rules.
type Engine struct {
	cfg Thresholds
}

// NewEngine creates an engine, substituting defaults for unset values.
func NewEngine(cfg Thresholds) *Engine {
	if cfg.WindowMinutes <= 0 {
		cfg.WindowMinutes = defaultAlertWindowMinutes
	}
	if cfg.RateThreshold <= 0 {
		cfg.RateThreshold = defaultRateThreshold
	}
	if cfg.ClientErrorThreshold <= 0 {
		cfg.ClientErrorThreshold = defaultClientErrorThreshold
	}
	if cfg.MissingKeyThreshold <= 0 {
		cfg.MissingKeyThreshold = defaultMissingKeyThreshold
	}
	return &Engine{cfg: cfg}
}

// WindowMinutes exposes the evaluation window for response payloads.
func (e *Engine) WindowMinutes() int {
	return e.cfg.WindowMinutes
}

// orderedCounter counts values while preserving first-appearance order, so
// alert output is deterministic run to run.
type orderedCounter struct {
	counts map[string]int
	order  []string
}

func newOrderedCounter() *orderedCounter {
	return &orderedCounter{counts: make(map[string]int)}
}

func (c *orderedCounter) add(value string) {
	if _, ok := c.counts[value]; !ok {
		c.order = append(c.order, value)
	}
	c.counts[value]++
}

// Evaluate runs every rule over the events that fall inside the alert
// window ending at now. The input slice is newest-first (it may span a
// wider query window; out-of-window events are skipped here). Alerts come
// back in rule order, first-seen order within a rule.
func (e *Engine) Evaluate(events []*models.AccessEvent, now time.Time) []Alert {
	cutoff := now.Add(-time.Duration(e.cfg.WindowMinutes) * time.Minute)

	requests := newOrderedCounter()
	clientErrors := newOrderedCounter()
	probes := newOrderedCounter() // keyed "client|path"
	missingKeys := 0

	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.Timestamp.Before(cutoff) {
			continue
		}

		requests.add(ev.ClientIP)
		if ev.HasFlag(models.FlagClientError) {
			clientErrors.add(ev.ClientIP)
		}
		if ev.HasFlag(models.FlagNoAPIKey) {
			missingKeys++
		}
		if ev.HasFlag(models.FlagSuspiciousPath) {
			probes.add(ev.ClientIP + "|" + ev.Path)
		}
	}

	alerts := make([]Alert, 0)

	for _, client := range requests.order {
		count := requests.counts[client]
		if count > e.cfg.RateThreshold {
			alerts = append(alerts, Alert{
				Type:  AlertRequestBurst,
				Level: LevelWarning,
				Message: fmt.Sprintf("client %s sent %d requests in the last %d minutes (threshold %d)",
					client, count, e.cfg.WindowMinutes, e.cfg.RateThreshold),
				Client:        client,
				Count:         count,
				WindowMinutes: e.cfg.WindowMinutes,
				Key:           AlertRequestBurst + "|" + client,
			})
		}
	}

	for _, client := range clientErrors.order {
		count := clientErrors.counts[client]
		if count > e.cfg.ClientErrorThreshold {
			alerts = append(alerts, Alert{
				Type:  AlertClientErrors,
				Level: LevelWarning,
				Message: fmt.Sprintf("client %s produced %d 4xx responses in the last %d minutes (threshold %d)",
					client, count, e.cfg.WindowMinutes, e.cfg.ClientErrorThreshold),
				Client:        client,
				Count:         count,
				WindowMinutes: e.cfg.WindowMinutes,
				Key:           AlertClientErrors + "|" + client,
			})
		}
	}

	if missingKeys > e.cfg.MissingKeyThreshold {
		alerts = append(alerts, Alert{
			Type:  AlertMissingAPIKeys,
			Level: LevelWarning,
			Message: fmt.Sprintf("%d requests without an api key in the last %d minutes (threshold %d)",
				missingKeys, e.cfg.WindowMinutes, e.cfg.MissingKeyThreshold),
			Count:         missingKeys,
			WindowMinutes: e.cfg.WindowMinutes,
			Key:           AlertMissingAPIKeys,
		})
	}

	for _, pair := range probes.order {
		count := probes.counts[pair]
		client, path, _ := strings.Cut(pair, "|")
		alerts = append(alerts, Alert{
			Type:  AlertSuspiciousPath,
			Level: LevelDanger,
			Message: fmt.Sprintf("client %s probed suspicious path %s (%d hits in the last %d minutes)",
				client, path, count, e.cfg.WindowMinutes),
			Client:        client,
			Count:         count,
			WindowMinutes: e.cfg.WindowMinutes,
			Key:           AlertSuspiciousPath + "|" + pair,
		})
	}

	return alerts
}
