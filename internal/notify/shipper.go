// Package notify delivers alert notifications raised by the traffic heuristics
// to external sinks. Notifications are kept separate from application logs:
// logs are debug output for whoever runs the monitor itself, while
// notifications are signals for whoever runs the gateway, and usually land in
// a chat channel or pager webhook. The package supports multiple simultaneous
// destinations (file, webhook) via the Shipper interface so alerts can reach
// an on-disk feed and an HTTP endpoint independently of the logging pipeline.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/aihub/gateway-monitor/internal/config"
	"github.com/aihub/gateway-monitor/internal/monitor"
	"github.com/aihub/gateway-monitor/internal/safego"
	"github.com/aihub/gateway-monitor/internal/telemetry"
)

// Notification is the wire form of an alert sent to external sinks.
type Notification struct {
	Timestamp     time.Time `json:"timestamp"`
	Type          string    `json:"type"`
	Level         string    `json:"level"`
	Message       string    `json:"message"`
	Client        string    `json:"client,omitempty"`
	Count         int       `json:"count,omitempty"`
	WindowMinutes int       `json:"window_minutes"`
}

// FromAlert converts an evaluated alert into its notification form.
func FromAlert(alert monitor.Alert, at time.Time) *Notification {
	return &Notification{
		Timestamp:     at.UTC(),
		Type:          alert.Type,
		Level:         alert.Level,
		Message:       alert.Message,
		Client:        alert.Client,
		Count:         alert.Count,
		WindowMinutes: alert.WindowMinutes,
	}
}

// Shipper defines the interface for alert notification delivery
type Shipper interface {
	// Ship sends a notification to the destination
	Ship(ctx context.Context, n *Notification) error
	// Close cleans up any resources
	Close() error
}

// MultiShipper ships to multiple destinations
type MultiShipper struct {
	shippers []Shipper
	mu       sync.RWMutex
}

// NewMultiShipper creates a new multi-shipper from the notify configuration.
// Disabled shippers are skipped; an empty result is valid and ships nothing.
func NewMultiShipper(cfg *config.NotifyConfig) (*MultiShipper, error) {
	ms := &MultiShipper{
		shippers: make([]Shipper, 0),
	}
	if cfg == nil {
		return ms, nil
	}

	for _, sc := range cfg.Shippers {
		if !sc.Enabled {
			continue
		}

		var shipper Shipper
		var err error

		switch sc.Type {
		case "webhook":
			if sc.Webhook == nil {
				return nil, fmt.Errorf("webhook config is required for webhook shipper")
			}
			shipper, err = NewWebhookShipper(sc.Webhook)
		case "file":
			if sc.File == nil {
				return nil, fmt.Errorf("file config is required for file shipper")
			}
			shipper, err = NewFileShipper(sc.File)
		default:
			return nil, fmt.Errorf("unknown shipper type: %s", sc.Type)
		}

		if err != nil {
			return nil, fmt.Errorf("failed to create %s shipper: %w", sc.Type, err)
		}

		ms.shippers = append(ms.shippers, shipper)
	}

	return ms, nil
}

// Active returns the number of configured destinations.
func (ms *MultiShipper) Active() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.shippers)
}

// Ship sends a notification to all configured shippers. A failing destination
// does not stop delivery to the others; the last error is returned.
func (ms *MultiShipper) Ship(ctx context.Context, n *Notification) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var lastErr error
	for _, shipper := range ms.shippers {
		if err := shipper.Ship(ctx, n); err != nil {
			lastErr = err
			slog.Error("alert shipper failed", "error", err)
		}
	}
	return lastErr
}

// Close closes all shippers
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var lastErr error
	for _, shipper := range ms.shippers {
		if err := shipper.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// WebhookShipper posts notifications to an HTTP endpoint, optionally batched
type WebhookShipper struct {
	cfg       *config.NotifyWebhookConfig
	client    *http.Client
	timeout   time.Duration
	batchCh   chan *Notification
	batch     []*Notification
	batchMu   sync.Mutex
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewWebhookShipper creates a new webhook shipper
func NewWebhookShipper(cfg *config.NotifyWebhookConfig) (*WebhookShipper, error) {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	ws := &WebhookShipper{
		cfg:     cfg,
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
		batchCh: make(chan *Notification, 1000),
		batch:   make([]*Notification, 0),
		closeCh: make(chan struct{}),
	}

	// Start batch processor if batching is enabled. A panic here would
	// silently stop flushing queued notifications, so the launcher recovers.
	if cfg.BatchSize > 0 {
		safego.Go(ws.processBatches)
	}

	return ws, nil
}

// processBatches handles batched sending
func (ws *WebhookShipper) processBatches() {
	flushInterval := time.Duration(ws.cfg.FlushInterval) * time.Second
	if flushInterval == 0 {
		flushInterval = 5 * time.Second
	}

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case n := <-ws.batchCh:
			ws.batchMu.Lock()
			ws.batch = append(ws.batch, n)
			if len(ws.batch) >= ws.cfg.BatchSize {
				ws.flushBatch()
			}
			ws.batchMu.Unlock()
		case <-ticker.C:
			ws.batchMu.Lock()
			if len(ws.batch) > 0 {
				ws.flushBatch()
			}
			ws.batchMu.Unlock()
		case <-ws.closeCh:
			// Flush remaining
			ws.batchMu.Lock()
			if len(ws.batch) > 0 {
				ws.flushBatch()
			}
			ws.batchMu.Unlock()
			return
		}
	}
}

// flushBatch sends the current batch. Callers must hold batchMu.
func (ws *WebhookShipper) flushBatch() {
	if len(ws.batch) == 0 {
		return
	}

	data, err := json.Marshal(ws.batch)
	if err != nil {
		slog.Error("failed to marshal alert batch", "error", err)
		ws.batch = ws.batch[:0]
		return
	}
	sent := len(ws.batch)

	ctx, cancel := context.WithTimeout(context.Background(), ws.timeout)
	defer cancel()

	if err := ws.sendRequest(ctx, data); err != nil {
		slog.Error("failed to send alert batch", "error", err, "batch_size", sent)
	} else {
		telemetry.AlertsShippedTotal.WithLabelValues("webhook").Add(float64(sent))
	}

	ws.batch = ws.batch[:0]
}

// Ship sends a notification to the webhook
func (ws *WebhookShipper) Ship(ctx context.Context, n *Notification) error {
	// If batching is enabled, queue the notification
	if ws.cfg.BatchSize > 0 {
		select {
		case ws.batchCh <- n:
			return nil
		default:
			// Channel full, send directly
		}
	}

	// Send directly
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if err := ws.sendRequest(ctx, data); err != nil {
		return err
	}
	telemetry.AlertsShippedTotal.WithLabelValues("webhook").Inc()
	return nil
}

// sendRequest sends the HTTP request
func (ws *WebhookShipper) sendRequest(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, "POST", ws.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// Close closes the webhook shipper
func (ws *WebhookShipper) Close() error {
	ws.closeOnce.Do(func() {
		close(ws.closeCh)
	})
	return nil
}

// FileShipper appends notifications to a file as JSON lines
type FileShipper struct {
	path string
	mu   sync.Mutex
}

// NewFileShipper creates a new file shipper. The file is opened per append
// rather than held open: the host's logrotate may rename the feed at any
// moment, and reopening by path keeps writes going to the live file.
func NewFileShipper(cfg *config.NotifyFileConfig) (*FileShipper, error) {
	f, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open alert feed file: %w", err)
	}
	f.Close()

	return &FileShipper{path: cfg.Path}, nil
}

// Ship appends a notification to the file
func (fs *FileShipper) Ship(ctx context.Context, n *Notification) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open alert feed file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write notification: %w", err)
	}

	telemetry.AlertsShippedTotal.WithLabelValues("file").Inc()
	return nil
}

// Close is a no-op; the feed file is not held open between writes.
func (fs *FileShipper) Close() error {
	return nil
}
