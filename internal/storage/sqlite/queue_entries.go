package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lprior-repo/zjj/internal/queue"
)

const entryColumns = `id, workspace, bead_id, priority, status, added_at, started_at, completed_at,
	state_changed_at, previous_state, error_message, agent_id, dedupe_key, workspace_state,
	head_sha, tested_against_sha, attempt_count, max_attempts, rebase_count, last_rebase_at, parent_workspace`

type entryScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row entryScanner) (queue.Entry, error) {
	var e queue.Entry
	var beadID, status, previousState, errorMessage, agentID, dedupeKey, workspaceState sql.NullString
	var headSHA, testedAgainstSHA, parentWorkspace sql.NullString
	var startedAt, completedAt, lastRebaseAt sql.NullTime

	err := row.Scan(
		&e.ID, &e.Workspace, &beadID, &e.Priority, &status, &e.AddedAt, &startedAt, &completedAt,
		&e.StateChangedAt, &previousState, &errorMessage, &agentID, &dedupeKey, &workspaceState,
		&headSHA, &testedAgainstSHA, &e.AttemptCount, &e.MaxAttempts, &e.RebaseCount, &lastRebaseAt, &parentWorkspace,
	)
	if err != nil {
		return queue.Entry{}, err
	}

	e.BeadID = beadID.String
	e.PreviousState = previousState.String
	e.ErrorMessage = errorMessage.String
	e.AgentID = agentID.String
	e.DedupeKey = dedupeKey.String
	e.WorkspaceState = workspaceState.String
	e.HeadSHA = headSHA.String
	e.TestedAgainstSHA = testedAgainstSHA.String
	e.ParentWorkspace = parentWorkspace.String
	if startedAt.Valid {
		t := startedAt.Time
		e.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	if lastRebaseAt.Valid {
		t := lastRebaseAt.Time
		e.LastRebaseAt = &t
	}

	st, perr := queue.ParseStatus(status.String)
	if perr != nil {
		return queue.Entry{}, perr
	}
	e.Status = st

	return e, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Add inserts a new Pending entry. Fails with AlreadyTrackedError if the
// workspace is already tracked, as the UNIQUE(workspace) constraint reports.
func (s *SQLiteStorage) Add(ctx context.Context, workspace, beadID string, priority int, agentID string) (queue.Entry, error) {
	return s.AddWithDedupe(ctx, workspace, beadID, priority, agentID, "")
}

func (s *SQLiteStorage) AddWithDedupe(ctx context.Context, workspace, beadID string, priority int, agentID, dedupeKey string) (queue.Entry, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_entries
			(workspace, bead_id, priority, status, added_at, state_changed_at, agent_id, dedupe_key, max_attempts)
		VALUES (?, ?, ?, 'pending', ?, ?, ?, ?, ?)`,
		workspace, nullableString(beadID), priority, now, now, nullableString(agentID), nullableString(dedupeKey), queue.DefaultMaxAttempts)
	if err != nil {
		if isUniqueViolation(err) {
			return queue.Entry{}, &queue.AlreadyTrackedError{Workspace: workspace}
		}
		return queue.Entry{}, wrapRetryable("add entry", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return queue.Entry{}, err
	}
	return s.GetByID(ctx, id)
}

// UpsertForSubmit is the idempotent submit primitive: it resolves the
// existing row (if any) keyed by dedupe_key per §4.3.1's table, all inside
// one transaction so no concurrent submit can observe a half-applied
// resolution.
func (s *SQLiteStorage) UpsertForSubmit(ctx context.Context, req queue.UpsertRequest) (queue.AddResponse, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return queue.AddResponse{}, wrapRetryable("upsert begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()

	var existing *queue.Entry
	if req.DedupeKey != "" {
		row := tx.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE dedupe_key = ? ORDER BY id DESC LIMIT 1`, req.DedupeKey)
		e, serr := scanEntry(row)
		switch {
		case serr == nil:
			existing = &e
		case serr == sql.ErrNoRows:
			existing = nil
		default:
			return queue.AddResponse{}, serr
		}
	}

	var entry queue.Entry

	switch {
	case existing == nil:
		res, err := tx.ExecContext(ctx, `
			INSERT INTO queue_entries
				(workspace, bead_id, priority, status, added_at, state_changed_at, agent_id, dedupe_key, head_sha, max_attempts)
			VALUES (?, ?, ?, 'pending', ?, ?, ?, ?, ?, ?)`,
			req.Workspace, nullableString(req.BeadID), req.Priority, now, now, nullableString(req.AgentID), nullableString(req.DedupeKey), nullableString(req.HeadSHA), queue.DefaultMaxAttempts)
		if err != nil {
			return queue.AddResponse{}, wrapRetryable("upsert insert", err)
		}
		id, _ := res.LastInsertId()
		row := tx.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE id = ?`, id)
		entry, err = scanEntry(row)
		if err != nil {
			return queue.AddResponse{}, err
		}

	case !existing.Status.IsTerminal() && existing.Workspace == req.Workspace:
		_, err := tx.ExecContext(ctx, `
			UPDATE queue_entries SET head_sha = ?, state_changed_at = ? WHERE id = ?`,
			nullableString(req.HeadSHA), now, existing.ID)
		if err != nil {
			return queue.AddResponse{}, wrapRetryable("upsert update-in-place", err)
		}
		existing.HeadSHA = req.HeadSHA
		existing.StateChangedAt = now
		entry = *existing

	case !existing.Status.IsTerminal() && existing.Workspace != req.Workspace:
		return queue.AddResponse{}, &queue.DedupeKeyConflictError{
			DedupeKey:         req.DedupeKey,
			ExistingWorkspace: existing.Workspace,
			ProvidedWorkspace: req.Workspace,
		}

	case existing.Status.IsTerminal() && existing.Workspace == req.Workspace:
		_, err := tx.ExecContext(ctx, `
			UPDATE queue_entries SET
				status = 'pending', started_at = NULL, completed_at = NULL,
				error_message = NULL, head_sha = ?, state_changed_at = ?, previous_state = ?,
				attempt_count = 0, priority = ?, agent_id = ?
			WHERE id = ?`,
			nullableString(req.HeadSHA), now, existing.Status.String(), req.Priority, nullableString(req.AgentID), existing.ID)
		if err != nil {
			return queue.AddResponse{}, wrapRetryable("upsert terminal-reset", err)
		}
		row := tx.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE id = ?`, existing.ID)
		entry, err = scanEntry(row)
		if err != nil {
			return queue.AddResponse{}, err
		}

	default: // terminal, different workspace: release the old key, insert new
		if _, err := tx.ExecContext(ctx, `UPDATE queue_entries SET dedupe_key = NULL WHERE id = ?`, existing.ID); err != nil {
			return queue.AddResponse{}, wrapRetryable("upsert release dedupe", err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO queue_entries
				(workspace, bead_id, priority, status, added_at, state_changed_at, agent_id, dedupe_key, head_sha, max_attempts)
			VALUES (?, ?, ?, 'pending', ?, ?, ?, ?, ?, ?)`,
			req.Workspace, nullableString(req.BeadID), req.Priority, now, now, nullableString(req.AgentID), nullableString(req.DedupeKey), nullableString(req.HeadSHA), queue.DefaultMaxAttempts)
		if err != nil {
			return queue.AddResponse{}, wrapRetryable("upsert insert-after-release", err)
		}
		id, _ := res.LastInsertId()
		row := tx.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE id = ?`, id)
		entry, err = scanEntry(row)
		if err != nil {
			return queue.AddResponse{}, err
		}
	}

	position, total, err := pendingPosition(ctx, tx, entry)
	if err != nil {
		return queue.AddResponse{}, err
	}

	if err := tx.Commit(); err != nil {
		return queue.AddResponse{}, wrapRetryable("upsert commit", err)
	}

	return queue.AddResponse{Entry: entry, Position: position, TotalPending: total}, nil
}

// pendingPosition computes entry's 1-based rank among pending entries by
// (priority asc, added_at asc, id asc), and the total pending count.
func pendingPosition(ctx context.Context, tx *sql.Tx, entry queue.Entry) (position, total int, err error) {
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_entries WHERE status = 'pending'`).Scan(&total); err != nil {
		return 0, 0, err
	}
	if entry.Status != queue.Pending {
		return 0, total, nil
	}
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM queue_entries
		WHERE status = 'pending' AND (priority, added_at, id) <= (?, ?, ?)`,
		entry.Priority, entry.AddedAt, entry.ID).Scan(&position)
	return position, total, err
}

func (s *SQLiteStorage) GetByID(ctx context.Context, id int64) (queue.Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return queue.Entry{}, queue.ErrNotFound
	}
	return e, err
}

func (s *SQLiteStorage) GetByWorkspace(ctx context.Context, workspace string) (queue.Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE workspace = ?`, workspace)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return queue.Entry{}, queue.ErrNotFound
	}
	return e, err
}

func (s *SQLiteStorage) List(ctx context.Context, f queue.Filter) ([]queue.Entry, error) {
	var conds []string
	var args []any

	if f.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, f.Status.String())
	} else if !f.All {
		conds = append(conds, "status NOT IN ('merged', 'failed_terminal', 'cancelled')")
	}
	if f.Workspace != "" {
		conds = append(conds, "workspace = ?")
		args = append(args, f.Workspace)
	}
	if f.BeadID != "" {
		conds = append(conds, "bead_id = ?")
		args = append(args, f.BeadID)
	}
	if f.AgentID != "" {
		conds = append(conds, "agent_id = ?")
		args = append(args, f.AgentID)
	}

	query := `SELECT ` + entryColumns + ` FROM queue_entries`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY priority ASC, added_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []queue.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) Stats(ctx context.Context) (queue.Stats, error) {
	var stats queue.Stats
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM queue_entries GROUP BY status`)
	if err != nil {
		return stats, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		st, perr := queue.ParseStatus(status)
		if perr != nil {
			continue
		}
		stats.Total += count
		switch st {
		case queue.Pending:
			stats.Pending += count
		case queue.Merged:
			stats.Completed += count
		case queue.FailedRetryable, queue.FailedTerminal:
			stats.Failed += count
		default:
			stats.Processing += count
		}
	}
	return stats, rows.Err()
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "constraint failed")
}

func isBusyOrLocked(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "busy")
}

// wrapRetryable classifies transient busy/constraint errors so the engine's
// ClaimNext backoff loop knows to retry them and nothing else.
func wrapRetryable(op string, err error) error {
	if err == nil {
		return nil
	}
	if isBusyOrLocked(err) {
		return &queue.RetryableStoreError{Err: fmt.Errorf("%s: %w", op, err)}
	}
	return fmt.Errorf("%s: %w", op, err)
}
