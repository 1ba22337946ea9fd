package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/lprior-repo/zjj/internal/queue"
)

// AppendEvent inserts one append-only audit row for queueID.
func (s *SQLiteStorage) AppendEvent(ctx context.Context, queueID int64, eventType queue.EventType, details string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_events (queue_id, event_type, details, created_at)
		VALUES (?, ?, ?, ?)`,
		queueID, string(eventType), nullableString(details), time.Now().UTC())
	if err != nil {
		return wrapRetryable("append event", err)
	}
	return nil
}

// ListEvents returns queueID's audit trail in chronological order. A
// non-positive limit returns the full trail; a positive limit returns at
// most the limit most recent events, still oldest-first (mirrors
// original_source's fetch_recent_events, which fetches newest-first under
// LIMIT then reverses).
func (s *SQLiteStorage) ListEvents(ctx context.Context, queueID int64, limit int) ([]queue.Event, error) {
	if limit <= 0 {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, queue_id, event_type, details, created_at FROM queue_events
			WHERE queue_id = ? ORDER BY id ASC`, queueID)
		if err != nil {
			return nil, err
		}
		defer func() { _ = rows.Close() }()
		return scanEvents(rows)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, queue_id, event_type, details, created_at FROM queue_events
		WHERE queue_id = ? ORDER BY id DESC LIMIT ?`, queueID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func scanEvents(rows *sql.Rows) ([]queue.Event, error) {
	var out []queue.Event
	for rows.Next() {
		var e queue.Event
		var eventType string
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.QueueID, &eventType, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.EventType = queue.EventType(eventType)
		e.Details = details.String
		out = append(out, e)
	}
	return out, rows.Err()
}
