// Package ingest tails the gateway access log and turns it into durable
// store rows. It combines an incremental file source (rotation and
// truncation aware), a tolerant line parser, and the ingester that commits
// each batch together with the advanced cursor so every completed log line
// becomes visible exactly once.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aihub/gateway-monitor/internal/db/models"
	"github.com/aihub/gateway-monitor/internal/db/repositories"
	"github.com/aihub/gateway-monitor/internal/telemetry"
)

// Ingester drives poll cycles: read new lines, parse them, and commit the
// batch atomically with the cursor. Only one cycle runs at a time; a caller
// that finds a cycle already in flight proceeds with the data already in
// the store instead of waiting behind it.
type Ingester struct {
	source *Source
	parser *Parser
	events *repositories.EventRepository

	mu sync.Mutex // serializes poll cycles

	parseFailures atomic.Int64
	degraded      atomic.Bool
	lastError     atomic.Value // string
	lastPollAt    atomic.Value // time.Time
}

// NewIngester creates an ingester over the given source, parser, and store.
func NewIngester(source *Source, parser *Parser, events *repositories.EventRepository) *Ingester {
	return &Ingester{source: source, parser: parser, events: events}
}

// PollOutcome reports what one triggered cycle did.
type PollOutcome struct {
	Skipped  bool // another cycle was already running
	Degraded bool // log unavailable; existing data is still served
	Rotated  bool
	Lines    int
	Events   int
	Failures int
	More     bool // scan cap reached; the next poll continues
}

// Status is the ingester's self-reported health for the status endpoint.
type Status struct {
	Degraded      bool       `json:"degraded"`
	LastError     string     `json:"last_error,omitempty"`
	ParseFailures int64      `json:"parse_failures"`
	LastPollAt    *time.Time `json:"last_poll_at,omitempty"`
}

// Poll runs one ingest cycle. An unavailable log degrades: the outcome flags
// it and the error is nil, so callers serve stale data. Cursor-load and
// store failures are returned; the cursor is never advanced past a batch
// that did not commit.
func (ing *Ingester) Poll(ctx context.Context) (PollOutcome, error) {
	if !ing.mu.TryLock() {
		return PollOutcome{Skipped: true, Degraded: ing.degraded.Load()}, nil
	}
	defer ing.mu.Unlock()

	out := PollOutcome{}
	start := time.Now()
	defer func() {
		ing.lastPollAt.Store(start)
		telemetry.IngestPollDuration.Observe(time.Since(start).Seconds())
	}()

	cursor, err := ing.events.GetCursor(ctx)
	if err != nil {
		ing.fail(err)
		return out, fmt.Errorf("failed to load ingest cursor: %w", err)
	}

	batch, err := ing.source.Poll(cursor)
	if err != nil {
		if errors.Is(err, ErrLogUnavailable) {
			ing.fail(err)
			out.Degraded = true
			return out, nil
		}
		ing.fail(err)
		return out, fmt.Errorf("failed to read access log: %w", err)
	}

	out.Rotated = batch.Rotated
	out.Lines = len(batch.Lines)
	out.More = batch.More
	if batch.Rotated {
		telemetry.IngestRotationsTotal.Inc()
		slog.Info("access log rotated", "identity", batch.FileIdentity, "resume_offset", batch.StartOffset)
	}

	lastSequence := int64(0)
	if cursor != nil {
		lastSequence = cursor.LastSequence
	}

	events := make([]*models.AccessEvent, 0, len(batch.Lines))
	for _, line := range batch.Lines {
		ev, err := ing.parser.Parse(line.Text)
		if err != nil {
			out.Failures++
			continue
		}
		lastSequence++
		ev.Sequence = lastSequence
		ev.LineRef = lineRef(batch.FileIdentity, line.Offset, line.Text)
		events = append(events, ev)
	}
	out.Events = len(events)

	if out.Failures > 0 {
		ing.parseFailures.Add(int64(out.Failures))
		telemetry.IngestParseFailuresTotal.Add(float64(out.Failures))
		slog.Warn("skipped unparsable access-log lines", "count", out.Failures)
	}

	newCursor := models.IngestCursor{
		FileIdentity: batch.FileIdentity,
		ByteOffset:   batch.EndOffset,
		LastSequence: lastSequence,
		UpdatedAt:    time.Now().UTC(),
	}

	unchanged := cursor != nil &&
		cursor.FileIdentity == newCursor.FileIdentity &&
		cursor.ByteOffset == newCursor.ByteOffset &&
		cursor.LastSequence == newCursor.LastSequence
	if !unchanged {
		if err := ing.events.AppendBatch(ctx, events, newCursor); err != nil {
			ing.fail(err)
			return out, fmt.Errorf("failed to append batch: %w", err)
		}
	}

	ing.degraded.Store(false)
	ing.lastError.Store("")
	telemetry.IngestLinesTotal.Add(float64(out.Lines))
	telemetry.IngestEventsTotal.Add(float64(out.Events))
	telemetry.IngestCursorOffsetBytes.Set(float64(newCursor.ByteOffset))

	if batch.More {
		slog.Debug("scan cap reached, more lines pending", "offset", newCursor.ByteOffset)
	}

	return out, nil
}

// Probe reports whether the underlying log file is reachable.
func (ing *Ingester) Probe() error {
	return ing.source.Probe()
}

// Status returns the current self-reported health.
func (ing *Ingester) Status() Status {
	st := Status{
		Degraded:      ing.degraded.Load(),
		ParseFailures: ing.parseFailures.Load(),
	}
	if v, ok := ing.lastError.Load().(string); ok && v != "" {
		st.LastError = v
	}
	if v, ok := ing.lastPollAt.Load().(time.Time); ok && !v.IsZero() {
		t := v
		st.LastPollAt = &t
	}
	return st
}

func (ing *Ingester) fail(err error) {
	ing.degraded.Store(true)
	ing.lastError.Store(err.Error())
}

// lineRef derives the idempotence key for one physical log line. The file
// identity and start offset pin the position; hashing the content as well
// guards against inode reuse handing a new file the old identity.
func lineRef(identity string, offset int64, text string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s", identity, offset, text)
	return hex.EncodeToString(h.Sum(nil))[:32]
}
