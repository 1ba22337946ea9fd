package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/lprior-repo/zjj/internal/queue"
)

// guardedUpdate runs a single UPDATE ... WHERE status = ? statement and
// reports ValidateTransition's error if no row matched, distinguishing a
// missing id from an illegal transition (SPEC_FULL.md §9: never emulate a
// guarded transition with a separate SELECT then UPDATE).
func (s *SQLiteStorage) guardedUpdate(ctx context.Context, query string, from, to queue.Status, key any, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapRetryable("transition", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	// Nothing matched: find out why, so the caller gets a precise error.
	var workspace string
	switch k := key.(type) {
	case string:
		workspace = k
	}
	entry, gerr := s.GetByWorkspace(ctx, workspace)
	if gerr != nil {
		return gerr
	}
	return queue.ValidateTransition(entry.Status, to)
}

// StartRebase transitions Claimed -> Rebasing.
func (s *SQLiteStorage) StartRebase(ctx context.Context, workspace string) error {
	now := time.Now().UTC()
	return s.guardedUpdate(ctx, `
		UPDATE queue_entries SET status = 'rebasing', state_changed_at = ?, previous_state = 'claimed'
		WHERE workspace = ? AND status = 'claimed'`,
		queue.Claimed, queue.Rebasing, workspace, now, workspace)
}

// UpdateRebaseMetadata requires Rebasing, records head_sha/tested_against_sha,
// and transitions to Testing.
func (s *SQLiteStorage) UpdateRebaseMetadata(ctx context.Context, workspace, headSHA, testedAgainstSHA string) error {
	now := time.Now().UTC()
	return s.guardedUpdate(ctx, `
		UPDATE queue_entries SET
			status = 'testing', state_changed_at = ?, previous_state = 'rebasing',
			head_sha = ?, tested_against_sha = ?
		WHERE workspace = ? AND status = 'rebasing'`,
		queue.Rebasing, queue.Testing, workspace, now, nullableString(headSHA), nullableString(testedAgainstSHA), workspace)
}

// UpdateRebaseMetadataWithCount is UpdateRebaseMetadata plus the persisted
// rebase_count/last_rebase_at observability counters.
func (s *SQLiteStorage) UpdateRebaseMetadataWithCount(ctx context.Context, workspace, headSHA, testedAgainstSHA string, rebaseCount int, at time.Time) error {
	now := time.Now().UTC()
	return s.guardedUpdate(ctx, `
		UPDATE queue_entries SET
			status = 'testing', state_changed_at = ?, previous_state = 'rebasing',
			head_sha = ?, tested_against_sha = ?, rebase_count = ?, last_rebase_at = ?
		WHERE workspace = ? AND status = 'rebasing'`,
		queue.Rebasing, queue.Testing, workspace, now, nullableString(headSHA), nullableString(testedAgainstSHA), rebaseCount, at, workspace)
}

// MarkReady transitions Testing -> ReadyToMerge.
func (s *SQLiteStorage) MarkReady(ctx context.Context, workspace string) error {
	now := time.Now().UTC()
	return s.guardedUpdate(ctx, `
		UPDATE queue_entries SET status = 'ready_to_merge', state_changed_at = ?, previous_state = 'testing'
		WHERE workspace = ? AND status = 'testing'`,
		queue.Testing, queue.ReadyToMerge, workspace, now, workspace)
}

// BeginMerge transitions ReadyToMerge -> Merging. The engine has already
// checked freshness before calling this.
func (s *SQLiteStorage) BeginMerge(ctx context.Context, workspace string) error {
	now := time.Now().UTC()
	return s.guardedUpdate(ctx, `
		UPDATE queue_entries SET status = 'merging', state_changed_at = ?, previous_state = 'ready_to_merge'
		WHERE workspace = ? AND status = 'ready_to_merge'`,
		queue.ReadyToMerge, queue.Merging, workspace, now, workspace)
}

// CompleteMerge transitions Merging -> Merged, stamping head_sha to the
// merge commit and completed_at to now.
func (s *SQLiteStorage) CompleteMerge(ctx context.Context, workspace, mergeCommitSHA string) error {
	now := time.Now().UTC()
	return s.guardedUpdate(ctx, `
		UPDATE queue_entries SET
			status = 'merged', state_changed_at = ?, previous_state = 'merging',
			head_sha = ?, completed_at = ?
		WHERE workspace = ? AND status = 'merging'`,
		queue.Merging, queue.Merged, workspace, now, nullableString(mergeCommitSHA), now, workspace)
}

// ReturnToRebasing transitions ReadyToMerge -> Rebasing and clears
// tested_against_sha, the freshness guard's fail-closed path (§4.3.3).
func (s *SQLiteStorage) ReturnToRebasing(ctx context.Context, workspace string) error {
	now := time.Now().UTC()
	return s.guardedUpdate(ctx, `
		UPDATE queue_entries SET
			status = 'rebasing', state_changed_at = ?, previous_state = 'ready_to_merge',
			tested_against_sha = NULL
		WHERE workspace = ? AND status = 'ready_to_merge'`,
		queue.ReadyToMerge, queue.Rebasing, workspace, now, workspace)
}

// Fail transitions a non-terminal entry to FailedRetryable or
// FailedTerminal, recording message. Any non-terminal status except Pending
// is a legal source, Merging included (ValidateTransition refuses to fail an
// entry that was never claimed).
func (s *SQLiteStorage) Fail(ctx context.Context, id int64, terminal bool, message string) error {
	entry, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	to := queue.FailedRetryable
	if terminal {
		to = queue.FailedTerminal
	}
	if err := queue.ValidateTransition(entry.Status, to); err != nil {
		return err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_entries SET
			status = ?, state_changed_at = ?, previous_state = ?,
			error_message = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		to.String(), now, entry.Status.String(), nullableString(message), now, id, entry.Status.String())
	if err != nil {
		return wrapRetryable("fail entry", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return queue.ErrNotFound
	}
	return nil
}

// RetryEntry requires FailedRetryable and attempt_count < max_attempts;
// transitions to Pending and increments attempt_count, guarded on both
// (status, attempt_count) in the update predicate so a concurrent retry
// cannot double-increment past max_attempts (SPEC_FULL.md §4.3.6).
func (s *SQLiteStorage) RetryEntry(ctx context.Context, id int64) (queue.Entry, error) {
	entry, err := s.GetByID(ctx, id)
	if err != nil {
		return queue.Entry{}, err
	}
	if entry.Status != queue.FailedRetryable {
		return queue.Entry{}, &queue.NotRetryableError{ID: id, Status: entry.Status}
	}
	if entry.AttemptCount >= entry.MaxAttempts {
		return queue.Entry{}, &queue.MaxAttemptsExceededError{ID: id, Attempt: entry.AttemptCount, Max: entry.MaxAttempts}
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_entries SET
			status = 'pending', state_changed_at = ?, previous_state = 'failed_retryable',
			error_message = NULL, completed_at = NULL, attempt_count = attempt_count + 1
		WHERE id = ? AND status = 'failed_retryable' AND attempt_count = ?`,
		now, id, entry.AttemptCount)
	if err != nil {
		return queue.Entry{}, wrapRetryable("retry entry", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		current, gerr := s.GetByID(ctx, id)
		if gerr != nil {
			return queue.Entry{}, gerr
		}
		if current.Status != queue.FailedRetryable {
			return queue.Entry{}, &queue.NotRetryableError{ID: id, Status: current.Status}
		}
		if current.AttemptCount >= current.MaxAttempts {
			return queue.Entry{}, &queue.MaxAttemptsExceededError{ID: id, Attempt: current.AttemptCount, Max: current.MaxAttempts}
		}
		return queue.Entry{}, &queue.NotRetryableError{ID: id, Status: current.Status}
	}
	return s.GetByID(ctx, id)
}

// CancelEntry requires a non-terminal, non-Merging status; transitions to
// Cancelled.
func (s *SQLiteStorage) CancelEntry(ctx context.Context, id int64) (queue.Entry, error) {
	entry, err := s.GetByID(ctx, id)
	if err != nil {
		return queue.Entry{}, err
	}
	if err := queue.ValidateTransition(entry.Status, queue.Cancelled); err != nil {
		return queue.Entry{}, &queue.NotCancellableError{ID: id, Status: entry.Status}
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_entries SET status = 'cancelled', state_changed_at = ?, previous_state = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		now, entry.Status.String(), now, id, entry.Status.String())
	if err != nil {
		return queue.Entry{}, wrapRetryable("cancel entry", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return queue.Entry{}, &queue.NotCancellableError{ID: id, Status: entry.Status}
	}
	return s.GetByID(ctx, id)
}

// MarkProcessing is a supplemented legacy wrapper (SPEC_FULL.md §4.3.6)
// predating the ten-state machine: Pending -> Claimed, stamping started_at,
// without acquiring the processing lock or recording an agent_id. It
// reports whether a row actually changed rather than a typed transition
// error, mirroring original_source's mark_processing.
//
// Deprecated: use ClaimNext instead.
func (s *SQLiteStorage) MarkProcessing(ctx context.Context, workspace string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_entries SET status = 'claimed', started_at = ?, state_changed_at = ?, previous_state = 'pending'
		WHERE workspace = ? AND status = 'pending'`,
		now, now, workspace)
	if err != nil {
		return false, wrapRetryable("mark processing", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MarkCompleted is a supplemented legacy wrapper: Claimed -> Merged,
// bypassing the intervening Rebasing/Testing/ReadyToMerge/Merging states
// the canonical lifecycle otherwise requires, for callers still speaking
// the legacy three-state vocabulary (mirrors original_source's
// mark_completed, which accepts the legacy 'claimed'/'processing' pair we
// collapse into the single Claimed status).
//
// Deprecated: use CompleteMerge instead.
func (s *SQLiteStorage) MarkCompleted(ctx context.Context, workspace string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_entries SET status = 'merged', state_changed_at = ?, previous_state = 'claimed', completed_at = ?
		WHERE workspace = ? AND status = 'claimed'`,
		now, now, workspace)
	if err != nil {
		return false, wrapRetryable("mark completed", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MarkFailed is a supplemented legacy wrapper: Claimed -> FailedTerminal,
// recording message, mirroring original_source's mark_failed.
//
// Deprecated: use Fail instead.
func (s *SQLiteStorage) MarkFailed(ctx context.Context, workspace, message string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_entries SET
			status = 'failed_terminal', state_changed_at = ?, previous_state = 'claimed',
			error_message = ?, completed_at = ?
		WHERE workspace = ? AND status = 'claimed'`,
		now, nullableString(message), now, workspace)
	if err != nil {
		return false, wrapRetryable("mark failed", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Cleanup deletes terminal entries (and their events first, for FK safety)
// with completed_at <= now - maxAge. maxAge == 0 purges all terminal
// entries regardless of age.
func (s *SQLiteStorage) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapRetryable("cleanup begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rows *sql.Rows
	if maxAge == 0 {
		rows, err = tx.QueryContext(ctx, `
			SELECT id FROM queue_entries WHERE status IN ('merged', 'failed_terminal', 'cancelled')`)
	} else {
		cutoff := time.Now().UTC().Add(-maxAge)
		rows, err = tx.QueryContext(ctx, `
			SELECT id FROM queue_entries
			WHERE status IN ('merged', 'failed_terminal', 'cancelled') AND completed_at <= ?`, cutoff)
	}
	if err != nil {
		return 0, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, err
	}
	_ = rows.Close()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM queue_events WHERE queue_id = ?`, id); err != nil {
			return 0, wrapRetryable("cleanup events", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM queue_entries WHERE id = ?`, id); err != nil {
			return 0, wrapRetryable("cleanup entry", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapRetryable("cleanup commit", err)
	}
	return len(ids), nil
}
