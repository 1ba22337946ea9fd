package queue

import (
	"context"
	"time"
)

// Filter narrows List to entries matching the given non-zero fields.
type Filter struct {
	Status    *Status
	Workspace string
	BeadID    string
	AgentID   string
	All       bool // when false and Status is nil, List restricts to non-terminal entries
}

// UpsertRequest is the input to UpsertForSubmit, the idempotent submit
// primitive (SPEC_FULL.md §4.3.1).
type UpsertRequest struct {
	Workspace string
	BeadID    string
	Priority  int
	AgentID   string
	DedupeKey string
	HeadSHA   string
}

// Store is the persistence interface the merge queue engine (C5) drives.
// internal/storage/sqlite implements it against a single embedded database
// file (C2); every method may suspend at an I/O boundary and callers must
// not assume run-to-completion between calls (SPEC_FULL.md §5).
type Store interface {
	// Add inserts a new Pending entry. Fails if workspace is already tracked.
	Add(ctx context.Context, workspace, beadID string, priority int, agentID string) (Entry, error)

	// AddWithDedupe is Add plus active-dedupe-key uniqueness.
	AddWithDedupe(ctx context.Context, workspace, beadID string, priority int, agentID, dedupeKey string) (Entry, error)

	// UpsertForSubmit is the idempotent submit primitive (§4.3.1's
	// resolution table).
	UpsertForSubmit(ctx context.Context, req UpsertRequest) (AddResponse, error)

	GetByID(ctx context.Context, id int64) (Entry, error)
	GetByWorkspace(ctx context.Context, workspace string) (Entry, error)
	List(ctx context.Context, f Filter) ([]Entry, error)
	Stats(ctx context.Context) (Stats, error)

	// ClaimNext atomically acquires the processing lock and claims the
	// highest-priority pending entry, per §4.3.2. Returns (nil, nil) for
	// "no work" (empty queue or lock held elsewhere).
	ClaimNext(ctx context.Context, agentID string) (*Entry, error)

	// ExtendLock extends the held lock's expiry by extra from its *current*
	// expiration, not from now. Fails if agentID does not hold the lock.
	ExtendLock(ctx context.Context, agentID string, extra time.Duration) error

	// ReleaseLock releases the lock if held by agentID.
	ReleaseLock(ctx context.Context, agentID string) error

	IsLockStale(ctx context.Context) (bool, error)

	// DetectAndRecoverStale sweeps dead locks and stale Claimed entries
	// back to Pending. Idempotent: a second call back-to-back is a no-op.
	DetectAndRecoverStale(ctx context.Context) (RecoveryStats, error)

	// ReclaimStale is DetectAndRecoverStale with a caller-chosen staleness
	// threshold in place of the fixed lock-timeout window, for cron-style
	// maintenance callers that want their own definition of "stale"
	// (SPEC_FULL.md §4.3.5, supplemented from original_source's
	// reclaim_stale).
	ReclaimStale(ctx context.Context, staleThresholdSecs int64) (RecoveryStats, error)

	// GetRecoveryStats is DetectAndRecoverStale's read-only counterpart.
	GetRecoveryStats(ctx context.Context) (RecoveryStats, error)

	// StartRebase transitions Claimed -> Rebasing.
	StartRebase(ctx context.Context, workspace string) error

	// UpdateRebaseMetadata requires Rebasing, sets head_sha and
	// tested_against_sha, and transitions to Testing.
	UpdateRebaseMetadata(ctx context.Context, workspace, headSHA, testedAgainstSHA string) error

	// UpdateRebaseMetadataWithCount is UpdateRebaseMetadata plus the
	// persisted rebase_count/last_rebase_at observability counters.
	UpdateRebaseMetadataWithCount(ctx context.Context, workspace, headSHA, testedAgainstSHA string, rebaseCount int, at time.Time) error

	// MarkReady transitions Testing -> ReadyToMerge.
	MarkReady(ctx context.Context, workspace string) error

	// BeginMerge transitions ReadyToMerge -> Merging. The freshness
	// comparison happens in the engine before this is called.
	BeginMerge(ctx context.Context, workspace string) error

	// CompleteMerge transitions Merging -> Merged, stamping head_sha to the
	// merge commit id and completed_at.
	CompleteMerge(ctx context.Context, workspace, mergeCommitSHA string) error

	// ReturnToRebasing transitions ReadyToMerge -> Rebasing and clears
	// tested_against_sha (the freshness guard's fail-closed path, §4.3.3).
	ReturnToRebasing(ctx context.Context, workspace string) error

	// Fail transitions a non-terminal entry to FailedRetryable or
	// FailedTerminal, recording message.
	Fail(ctx context.Context, id int64, terminal bool, message string) error

	// RetryEntry requires FailedRetryable and attempt_count < max_attempts;
	// transitions to Pending and increments attempt_count.
	RetryEntry(ctx context.Context, id int64) (Entry, error)

	// CancelEntry requires a non-terminal, non-Merging status; transitions
	// to Cancelled.
	CancelEntry(ctx context.Context, id int64) (Entry, error)

	// MarkProcessing, MarkCompleted and MarkFailed are supplemented legacy
	// helpers (SPEC_FULL.md §4.3.6) predating the ten-state machine, kept as
	// thin, explicitly-deprecated wrappers for callers still speaking the
	// three-state processing/completed/failed vocabulary. Each reports
	// whether it actually changed a row, mirroring original_source's
	// Result<bool> rather than the typed transition errors the canonical
	// methods return.
	//
	// Deprecated: use the canonical per-state transition methods instead.
	MarkProcessing(ctx context.Context, workspace string) (bool, error)
	// Deprecated: use CompleteMerge instead.
	MarkCompleted(ctx context.Context, workspace string) (bool, error)
	// Deprecated: use Fail instead.
	MarkFailed(ctx context.Context, workspace, message string) (bool, error)

	// Cleanup deletes terminal entries (and their events first) with
	// completed_at <= now - maxAge. maxAge == 0 purges all terminal entries.
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)

	AppendEvent(ctx context.Context, queueID int64, eventType EventType, details string) error

	// ListEvents returns queueID's audit trail in chronological order. A
	// limit <= 0 returns the full trail; limit > 0 returns at most the
	// limit most recent events, still oldest-first, for tailing an entry's
	// history without loading the full log (SPEC_FULL.md §3.3, supplemented
	// from original_source's fetch_recent_events).
	ListEvents(ctx context.Context, queueID int64, limit int) ([]Event, error)
}
