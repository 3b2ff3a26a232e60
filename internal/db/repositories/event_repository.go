// event_repository.go implements EventRepository, the single durable store
// for normalized access events and the ingestion cursor. Batches are appended
// together with the cursor in one transaction, so ingestion progress can
// never point past events that did not commit.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aihub/gateway-monitor/internal/db/models"
)

// EventRepository handles access-event and ingest-cursor database operations.
// SQL is written once with canonical `?` placeholders and rebound through
// sqlx for the active engine, so sqlite and postgres share the same queries.
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository creates a new EventRepository
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// EventFilters contains filters for querying events
type EventFilters struct {
	Since          *time.Time
	Until          *time.Time
	IgnoredClients []string
}

// expand applies sqlx.In slice expansion and rebinds placeholders for the
// active engine.
func (r *EventRepository) expand(query string, args []interface{}) (string, []interface{}, error) {
	q, a, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, fmt.Errorf("failed to expand query arguments: %w", err)
	}
	return r.db.Rebind(q), a, nil
}

// AppendBatch inserts a parsed batch and advances the ingestion cursor in a
// single transaction. Lines already present (same line_ref) are skipped by
// the engine, which makes replaying a batch after a crash or a duplicate
// delivery a no-op. On any failure the transaction rolls back and the cursor
// stays where it was.
func (r *EventRepository) AppendBatch(ctx context.Context, events []*models.AccessEvent, cursor models.IngestCursor) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin append transaction: %w", err)
	}
	defer tx.Rollback()

	insert := r.db.Rebind(`
		INSERT INTO access_events (sequence, line_ref, ts_unix_ms, client_ip, network_scope, api_key,
			request_method, request_path, status, status_family, request_time_ms, user_agent, flags, is_flagged)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (line_ref) DO NOTHING
	`)

	for _, ev := range events {
		var requestTime sql.NullInt64
		if ev.RequestTimeMs != nil {
			requestTime = sql.NullInt64{Int64: *ev.RequestTimeMs, Valid: true}
		}
		var userAgent sql.NullString
		if ev.UserAgent != nil {
			userAgent = sql.NullString{String: *ev.UserAgent, Valid: true}
		}

		if _, err := tx.ExecContext(ctx, insert,
			ev.Sequence,
			ev.LineRef,
			ev.Timestamp.UnixMilli(),
			ev.ClientIP,
			ev.NetworkScope,
			ev.APIKey,
			ev.Method,
			ev.Path,
			ev.Status,
			ev.StatusFamily,
			requestTime,
			userAgent,
			models.JoinFlags(ev.Flags),
			ev.IsFlagged,
		); err != nil {
			return fmt.Errorf("failed to insert event %d: %w", ev.Sequence, err)
		}
	}

	upsert := r.db.Rebind(`
		INSERT INTO ingest_cursor (id, file_identity, byte_offset, last_sequence, updated_at_ms)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			file_identity = excluded.file_identity,
			byte_offset   = excluded.byte_offset,
			last_sequence = excluded.last_sequence,
			updated_at_ms = excluded.updated_at_ms
	`)
	if _, err := tx.ExecContext(ctx, upsert,
		cursor.FileIdentity,
		cursor.ByteOffset,
		cursor.LastSequence,
		cursor.UpdatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("failed to persist ingest cursor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit append transaction: %w", err)
	}

	return nil
}

// GetCursor returns the durable ingestion cursor, or nil when the store is
// fresh and no batch has ever committed.
func (r *EventRepository) GetCursor(ctx context.Context) (*models.IngestCursor, error) {
	query := `SELECT file_identity, byte_offset, last_sequence, updated_at_ms FROM ingest_cursor WHERE id = 1`

	cur := &models.IngestCursor{}
	var updatedAtMs int64

	err := r.db.QueryRowContext(ctx, query).Scan(
		&cur.FileIdentity,
		&cur.ByteOffset,
		&cur.LastSequence,
		&updatedAtMs,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	cur.UpdatedAt = time.UnixMilli(updatedAtMs).UTC()
	return cur, nil
}

// ResetCursor removes the cursor row so the next poll re-reads the log from
// offset zero. Replayed lines are suppressed by line_ref, so a reset cannot
// duplicate events. This is the only supported way to move ingestion
// backwards.
func (r *EventRepository) ResetCursor(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM ingest_cursor WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to reset ingest cursor: %w", err)
	}
	return nil
}

// ListEvents retrieves events newest-first within the filter window. It
// returns the page, the total number of rows matching the filters (so the
// caller can tell a truncated page from a complete one), and the number of
// rows the ignored-clients filter hid from the same window. A limit <= 0
// returns the whole window, which is how summary aggregation reads it.
func (r *EventRepository) ListEvents(ctx context.Context, filters EventFilters, limit int) ([]*models.AccessEvent, int, int, error) {
	windowWhere := ``
	windowArgs := make([]interface{}, 0)

	if filters.Since != nil {
		windowWhere += ` AND ts_unix_ms >= ?`
		windowArgs = append(windowArgs, filters.Since.UnixMilli())
	}
	if filters.Until != nil {
		windowWhere += ` AND ts_unix_ms <= ?`
		windowArgs = append(windowArgs, filters.Until.UnixMilli())
	}

	filterWhere := windowWhere
	filterArgs := append(make([]interface{}, 0, len(windowArgs)+1), windowArgs...)
	if len(filters.IgnoredClients) > 0 {
		filterWhere += ` AND client_ip NOT IN (?)`
		filterArgs = append(filterArgs, filters.IgnoredClients)
	}

	// Total rows visible through the filters.
	countQuery, countArgs, err := r.expand(`SELECT COUNT(*) FROM access_events WHERE 1=1`+filterWhere, filterArgs)
	if err != nil {
		return nil, 0, 0, err
	}
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, 0, err
	}

	// Rows the ignore list hid from the same window.
	ignored := 0
	if len(filters.IgnoredClients) > 0 {
		ignoreArgs := append(append(make([]interface{}, 0, len(windowArgs)+1), windowArgs...), filters.IgnoredClients)
		ignoreQuery, ignoreExpanded, err := r.expand(
			`SELECT COUNT(*) FROM access_events WHERE 1=1`+windowWhere+` AND client_ip IN (?)`, ignoreArgs)
		if err != nil {
			return nil, 0, 0, err
		}
		if err := r.db.QueryRowContext(ctx, ignoreQuery, ignoreExpanded...).Scan(&ignored); err != nil {
			return nil, 0, 0, err
		}
	}

	query := `
		SELECT sequence, line_ref, ts_unix_ms, client_ip, network_scope, api_key,
			request_method, request_path, status, status_family, request_time_ms, user_agent, flags, is_flagged
		FROM access_events
		WHERE 1=1` + filterWhere + `
		ORDER BY ts_unix_ms DESC, sequence DESC`
	pageArgs := filterArgs
	if limit > 0 {
		query += ` LIMIT ?`
		pageArgs = append(append(make([]interface{}, 0, len(filterArgs)+1), filterArgs...), limit)
	}

	pageQuery, pageExpanded, err := r.expand(query, pageArgs)
	if err != nil {
		return nil, 0, 0, err
	}

	rows, err := r.db.QueryContext(ctx, pageQuery, pageExpanded...)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()

	events := make([]*models.AccessEvent, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, 0, 0, err
		}
		events = append(events, ev)
	}

	return events, total, ignored, rows.Err()
}

func scanEvent(rows *sql.Rows) (*models.AccessEvent, error) {
	ev := &models.AccessEvent{}
	var tsMs int64
	var requestTime sql.NullInt64
	var userAgent sql.NullString
	var flags string

	err := rows.Scan(
		&ev.Sequence,
		&ev.LineRef,
		&tsMs,
		&ev.ClientIP,
		&ev.NetworkScope,
		&ev.APIKey,
		&ev.Method,
		&ev.Path,
		&ev.Status,
		&ev.StatusFamily,
		&requestTime,
		&userAgent,
		&flags,
		&ev.IsFlagged,
	)
	if err != nil {
		return nil, err
	}

	ev.Timestamp = time.UnixMilli(tsMs).UTC()
	if requestTime.Valid {
		ev.RequestTimeMs = &requestTime.Int64
	}
	if userAgent.Valid {
		ev.UserAgent = &userAgent.String
	}
	ev.Flags = models.SplitFlags(flags)
	return ev, nil
}

// PurgeOlderThan deletes events with a timestamp strictly older than the
// cutoff and reports how many rows were removed. There is no archival step.
func (r *EventRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := r.db.Rebind(`DELETE FROM access_events WHERE ts_unix_ms < ?`)

	res, err := r.db.ExecContext(ctx, query, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge events: %w", err)
	}

	return res.RowsAffected()
}

// StoreStats summarizes the event table for the status endpoint and the
// check-db tool.
type StoreStats struct {
	Events  int64      `json:"events"`
	Flagged int64      `json:"flagged"`
	Oldest  *time.Time `json:"oldest,omitempty"`
	Newest  *time.Time `json:"newest,omitempty"`
}

// Stats returns row counts and the stored time range.
func (r *EventRepository) Stats(ctx context.Context) (*StoreStats, error) {
	query := `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN is_flagged THEN 1 ELSE 0 END), 0),
			MIN(ts_unix_ms),
			MAX(ts_unix_ms)
		FROM access_events
	`

	stats := &StoreStats{}
	var oldest, newest sql.NullInt64

	if err := r.db.QueryRowContext(ctx, query).Scan(&stats.Events, &stats.Flagged, &oldest, &newest); err != nil {
		return nil, fmt.Errorf("failed to load store stats: %w", err)
	}

	if oldest.Valid {
		t := time.UnixMilli(oldest.Int64).UTC()
		stats.Oldest = &t
	}
	if newest.Valid {
		t := time.UnixMilli(newest.Int64).UTC()
		stats.Newest = &t
	}

	return stats, nil
}
