package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/lprior-repo/zjj/internal/queue"
)

// staleClaimedAfter is how long a Claimed entry can sit with no forward
// progress before the self-healing sweep reclaims it back to Pending,
// mirroring the lock's own lease window (SPEC_FULL.md §4.3.5).
const staleClaimedAfter = queue.DefaultLockTimeout

// ClaimNext atomically acquires the processing lock (inserting it if absent,
// stealing it only if expired) and claims the oldest highest-priority
// pending entry, all in one transaction so no other connection can observe
// an intermediate state (SPEC_FULL.md §4.3.2).
func (s *SQLiteStorage) ClaimNext(ctx context.Context, agentID string) (*queue.Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapRetryable("claim begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	expires := now.Add(queue.DefaultLockTimeout)

	res, err := tx.ExecContext(ctx, `
		INSERT INTO merge_queue_lock (id, agent_id, acquired_at, expires_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_id = excluded.agent_id,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE merge_queue_lock.expires_at < ?`,
		agentID, now, expires, now)
	if err != nil {
		return nil, wrapRetryable("claim lock", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Lock held by someone else and not yet expired: no work for us.
		return nil, nil
	}

	row := tx.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM queue_entries
		WHERE status = 'pending'
		ORDER BY priority ASC, added_at ASC, id ASC
		LIMIT 1`)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		// Nothing pending: give the lock back so an empty claim never holds it.
		if _, err := tx.ExecContext(ctx, `DELETE FROM merge_queue_lock WHERE id = 1 AND agent_id = ?`, agentID); err != nil {
			return nil, wrapRetryable("claim release (no work)", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, wrapRetryable("claim commit (no work)", err)
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE queue_entries SET
			status = 'claimed', started_at = ?, state_changed_at = ?,
			previous_state = ?, agent_id = ?
		WHERE id = ? AND status = 'pending'`,
		now, now, entry.Status.String(), agentID, entry.ID); err != nil {
		return nil, wrapRetryable("claim entry", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapRetryable("claim commit", err)
	}

	entry.Status = queue.Claimed
	entry.StartedAt = &now
	entry.StateChangedAt = now
	entry.AgentID = agentID
	return &entry, nil
}

// ExtendLock extends the held lock's expiry by extra from its current
// expiration, and only if agentID currently holds it.
func (s *SQLiteStorage) ExtendLock(ctx context.Context, agentID string, extra time.Duration) error {
	var current time.Time
	err := s.db.QueryRowContext(ctx, `SELECT expires_at FROM merge_queue_lock WHERE id = 1 AND agent_id = ?`, agentID).Scan(&current)
	if err == sql.ErrNoRows {
		return queue.ErrNotFound
	}
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE merge_queue_lock SET expires_at = ?
		WHERE id = 1 AND agent_id = ?`,
		current.Add(extra).UTC(), agentID)
	if err != nil {
		return wrapRetryable("extend lock", err)
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

// ReleaseLock releases the singleton lock row, but only if agentID holds it.
func (s *SQLiteStorage) ReleaseLock(ctx context.Context, agentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM merge_queue_lock WHERE id = 1 AND agent_id = ?`, agentID)
	if err != nil {
		return wrapRetryable("release lock", err)
	}
	return nil
}

// IsLockStale reports whether the singleton lock row, if present, has
// already expired.
func (s *SQLiteStorage) IsLockStale(ctx context.Context) (bool, error) {
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx, `SELECT expires_at FROM merge_queue_lock WHERE id = 1`).Scan(&expiresAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return expiresAt.Before(time.Now().UTC()), nil
}

// DetectAndRecoverStale clears an expired lock and returns any Claimed entry
// whose started_at is older than staleClaimedAfter back to Pending. Running
// it twice in a row is a no-op the second time (SPEC_FULL.md §4.3.5).
func (s *SQLiteStorage) DetectAndRecoverStale(ctx context.Context) (queue.RecoveryStats, error) {
	now := time.Now().UTC()
	stats := queue.RecoveryStats{RecoveryTimestamp: now}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, wrapRetryable("recover begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	lockRes, err := tx.ExecContext(ctx, `DELETE FROM merge_queue_lock WHERE id = 1 AND expires_at < ?`, now)
	if err != nil {
		return stats, wrapRetryable("recover clean lock", err)
	}
	if n, err := lockRes.RowsAffected(); err == nil {
		stats.LocksCleaned = int(n)
	}

	cutoff := now.Add(-staleClaimedAfter)
	entryRes, err := tx.ExecContext(ctx, `
		UPDATE queue_entries SET
			status = 'pending', started_at = NULL, state_changed_at = ?,
			previous_state = 'claimed', agent_id = NULL
		WHERE status = 'claimed' AND started_at < ?`,
		now, cutoff)
	if err != nil {
		return stats, wrapRetryable("recover reclaim entries", err)
	}
	if n, err := entryRes.RowsAffected(); err == nil {
		stats.EntriesReclaimed = int(n)
	}

	if err := tx.Commit(); err != nil {
		return stats, wrapRetryable("recover commit", err)
	}
	return stats, nil
}

// ReclaimStale is DetectAndRecoverStale with staleThresholdSecs standing in
// for the fixed staleClaimedAfter window, so a cron-style maintenance
// command can choose its own staleness threshold (SPEC_FULL.md §4.3.5).
func (s *SQLiteStorage) ReclaimStale(ctx context.Context, staleThresholdSecs int64) (queue.RecoveryStats, error) {
	now := time.Now().UTC()
	stats := queue.RecoveryStats{RecoveryTimestamp: now}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, wrapRetryable("reclaim begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	lockRes, err := tx.ExecContext(ctx, `DELETE FROM merge_queue_lock WHERE id = 1 AND expires_at < ?`, now)
	if err != nil {
		return stats, wrapRetryable("reclaim clean lock", err)
	}
	if n, err := lockRes.RowsAffected(); err == nil {
		stats.LocksCleaned = int(n)
	}

	cutoff := now.Add(-time.Duration(staleThresholdSecs) * time.Second)
	entryRes, err := tx.ExecContext(ctx, `
		UPDATE queue_entries SET
			status = 'pending', started_at = NULL, state_changed_at = ?,
			previous_state = 'claimed', agent_id = NULL
		WHERE status = 'claimed' AND started_at < ?`,
		now, cutoff)
	if err != nil {
		return stats, wrapRetryable("reclaim entries", err)
	}
	if n, err := entryRes.RowsAffected(); err == nil {
		stats.EntriesReclaimed = int(n)
	}

	if err := tx.Commit(); err != nil {
		return stats, wrapRetryable("reclaim commit", err)
	}
	return stats, nil
}

// GetRecoveryStats is DetectAndRecoverStale's read-only counterpart: it
// reports what a sweep would reclaim without mutating anything.
func (s *SQLiteStorage) GetRecoveryStats(ctx context.Context) (queue.RecoveryStats, error) {
	now := time.Now().UTC()
	stats := queue.RecoveryStats{RecoveryTimestamp: now}

	var lockStale int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM merge_queue_lock WHERE id = 1 AND expires_at < ?`, now).Scan(&lockStale)
	if err != nil {
		return stats, err
	}
	stats.LocksCleaned = lockStale

	cutoff := now.Add(-staleClaimedAfter)
	var reclaimable int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_entries WHERE status = 'claimed' AND started_at < ?`, cutoff).Scan(&reclaimable)
	if err != nil {
		return stats, err
	}
	stats.EntriesReclaimed = reclaimable

	return stats, nil
}
