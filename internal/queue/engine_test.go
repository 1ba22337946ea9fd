package queue_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lprior-repo/zjj/internal/queue"
	"github.com/lprior-repo/zjj/internal/storage/sqlite"
)

func newEngine(t *testing.T) *queue.Engine {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return queue.NewEngine(store, nil)
}

func TestEngineHappyPath(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	entry, err := e.Add(ctx, "ws-1", "bead-1", 0, "")
	require.NoError(t, err)
	require.Equal(t, queue.Pending, entry.Status)

	claimed, err := e.ClaimNext(ctx, "agent-a")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, queue.Claimed, claimed.Status)
	require.Equal(t, "agent-a", claimed.AgentID)

	require.NoError(t, e.StartRebase(ctx, "ws-1"))
	rebasing, err := e.GetByWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	require.Equal(t, queue.Rebasing, rebasing.Status)

	require.NoError(t, e.UpdateRebaseMetadata(ctx, "ws-1", "sha-head", "sha-main"))
	inTesting, err := e.GetByWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	require.Equal(t, queue.Testing, inTesting.Status)
	require.Equal(t, "sha-main", inTesting.TestedAgainstSHA)

	require.NoError(t, e.MarkReady(ctx, "ws-1"))
	ready, err := e.GetByWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	require.Equal(t, queue.ReadyToMerge, ready.Status)

	fresh, err := e.AttemptMerge(ctx, "ws-1", "sha-main")
	require.NoError(t, err)
	require.True(t, fresh)

	require.NoError(t, e.CompleteMerge(ctx, "ws-1", "sha-merged"))
	merged, err := e.GetByWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	require.Equal(t, queue.Merged, merged.Status)
	require.True(t, merged.Status.IsTerminal())
}

func TestEngineClaimNextReturnsNilOnEmptyQueue(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	claimed, err := e.ClaimNext(ctx, "agent-a")
	require.NoError(t, err)
	require.Nil(t, claimed)
}

func TestEngineClaimNextSerializesAcrossAgents(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	_, err := e.Add(ctx, "ws-1", "bead-1", 0, "")
	require.NoError(t, err)
	_, err = e.Add(ctx, "ws-2", "bead-2", 0, "")
	require.NoError(t, err)

	first, err := e.ClaimNext(ctx, "agent-a")
	require.NoError(t, err)
	require.NotNil(t, first)

	// The processing lock is a single global lease: a second agent cannot
	// claim while agent-a holds it, even though ws-2 is still Pending.
	second, err := e.ClaimNext(ctx, "agent-b")
	require.NoError(t, err)
	require.Nil(t, second)
}

func TestAttemptMergeFreshnessGuardFailsClosed(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	_, err := e.Add(ctx, "ws-1", "bead-1", 0, "")
	require.NoError(t, err)
	_, err = e.ClaimNext(ctx, "agent-a")
	require.NoError(t, err)
	require.NoError(t, e.StartRebase(ctx, "ws-1"))
	require.NoError(t, e.UpdateRebaseMetadata(ctx, "ws-1", "sha-head", "sha-main-old"))
	require.NoError(t, e.MarkReady(ctx, "ws-1"))

	fresh, err := e.AttemptMerge(ctx, "ws-1", "sha-main-new")
	require.NoError(t, err)
	require.False(t, fresh)

	entry, err := e.GetByWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	require.Equal(t, queue.Rebasing, entry.Status)
}

func TestIsFreshRejectsEmptyBaseline(t *testing.T) {
	entry := queue.Entry{TestedAgainstSHA: ""}
	require.False(t, queue.IsFresh(entry, "anything"))
}

func TestAddWithDedupeRejectsDuplicateWorkspace(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	_, err := e.AddWithDedupe(ctx, "ws-1", "bead-1", 0, "", "dedupe-a")
	require.NoError(t, err)

	_, err = e.AddWithDedupe(ctx, "ws-1", "bead-2", 0, "", "dedupe-b")
	require.Error(t, err)
	var already *queue.AlreadyTrackedError
	require.ErrorAs(t, err, &already)
}

func TestUpsertForSubmitRejectsDedupeKeyOwnedByAnotherActiveWorkspace(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	_, err := e.UpsertForSubmit(ctx, queue.UpsertRequest{Workspace: "ws-1", BeadID: "bead-1", DedupeKey: "dedupe-a"})
	require.NoError(t, err)

	_, err = e.UpsertForSubmit(ctx, queue.UpsertRequest{Workspace: "ws-2", BeadID: "bead-2", DedupeKey: "dedupe-a"})
	require.Error(t, err)
	var conflict *queue.DedupeKeyConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "ws-1", conflict.ExistingWorkspace)
}

func TestRetryEntryRequiresFailedRetryable(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	entry, err := e.Add(ctx, "ws-1", "bead-1", 0, "")
	require.NoError(t, err)

	_, err = e.RetryEntry(ctx, entry.ID)
	require.Error(t, err)
	var notRetryable *queue.NotRetryableError
	require.ErrorAs(t, err, &notRetryable)
}

func TestRetryEntrySucceedsAfterFailure(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	entry, err := e.Add(ctx, "ws-1", "bead-1", 0, "")
	require.NoError(t, err)
	_, err = e.ClaimNext(ctx, "agent-a")
	require.NoError(t, err)

	require.NoError(t, e.Fail(ctx, entry.ID, false, "transient rebase conflict"))

	retried, err := e.RetryEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, queue.Pending, retried.Status)
}

func TestRetryEntryAllowsExactlyMaxAttemptsRetries(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	entry, err := e.Add(ctx, "ws-1", "bead-1", 0, "")
	require.NoError(t, err)
	require.Equal(t, queue.DefaultMaxAttempts, entry.MaxAttempts)

	// claim -> fail -> retry, max_attempts (3) times: attempt_count only
	// advances on RetryEntry, so the 3rd retry (leaving attempt_count at 3)
	// must still succeed, and only a 4th retry attempt is rejected. Pending
	// cannot fail directly, so each round claims the entry first.
	for i := 0; i < queue.DefaultMaxAttempts; i++ {
		claimed, err := e.ClaimNext(ctx, "agent-a")
		require.NoError(t, err)
		require.NotNil(t, claimed)
		require.NoError(t, e.Fail(ctx, entry.ID, false, "transient failure"))
		require.NoError(t, e.ReleaseLock(ctx, "agent-a"))
		retried, err := e.RetryEntry(ctx, entry.ID)
		require.NoError(t, err, "retry %d should succeed", i+1)
		require.Equal(t, queue.Pending, retried.Status)
		require.Equal(t, i+1, retried.AttemptCount)
	}

	_, err = e.ClaimNext(ctx, "agent-a")
	require.NoError(t, err)
	require.NoError(t, e.Fail(ctx, entry.ID, false, "transient failure"))
	_, err = e.RetryEntry(ctx, entry.ID)
	require.Error(t, err)
	var maxExceeded *queue.MaxAttemptsExceededError
	require.ErrorAs(t, err, &maxExceeded)
	require.Equal(t, queue.DefaultMaxAttempts, maxExceeded.Attempt)
}

func TestCancelEntryRejectsMerging(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	_, err := e.Add(ctx, "ws-1", "bead-1", 0, "")
	require.NoError(t, err)
	entry, err := e.ClaimNext(ctx, "agent-a")
	require.NoError(t, err)
	require.NoError(t, e.StartRebase(ctx, "ws-1"))
	require.NoError(t, e.UpdateRebaseMetadata(ctx, "ws-1", "sha-head", "sha-main"))
	require.NoError(t, e.MarkReady(ctx, "ws-1"))
	fresh, err := e.AttemptMerge(ctx, "ws-1", "sha-main")
	require.NoError(t, err)
	require.True(t, fresh)

	_, err = e.CancelEntry(ctx, entry.ID)
	require.Error(t, err)
	var notCancellable *queue.NotCancellableError
	require.ErrorAs(t, err, &notCancellable)
}

func TestDetectAndRecoverStaleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	_, err := e.Add(ctx, "ws-1", "bead-1", 0, "")
	require.NoError(t, err)

	stats1, err := e.DetectAndRecoverStale(ctx)
	require.NoError(t, err)

	stats2, err := e.DetectAndRecoverStale(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, stats1.EntriesReclaimed)
	require.Equal(t, 0, stats2.EntriesReclaimed)
}

func TestListFiltersByStatus(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	_, err := e.Add(ctx, "ws-1", "bead-1", 0, "")
	require.NoError(t, err)
	_, err = e.Add(ctx, "ws-2", "bead-2", 0, "")
	require.NoError(t, err)
	_, err = e.ClaimNext(ctx, "agent-a")
	require.NoError(t, err)

	pending := queue.Pending
	pendingEntries, err := e.List(ctx, queue.Filter{Status: &pending})
	require.NoError(t, err)
	require.Len(t, pendingEntries, 1)
	require.Equal(t, "ws-2", pendingEntries[0].Workspace)
}

func TestReclaimStaleUsesCallerThreshold(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	_, err := e.Add(ctx, "ws-1", "bead-1", 0, "")
	require.NoError(t, err)
	_, err = e.ClaimNext(ctx, "agent-a")
	require.NoError(t, err)

	// The claim is only moments old, so a one-hour threshold reclaims
	// nothing, but a threshold of 0 seconds reclaims immediately.
	stats, err := e.ReclaimStale(ctx, 3600)
	require.NoError(t, err)
	require.Equal(t, 0, stats.EntriesReclaimed)

	stats, err = e.ReclaimStale(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, stats.EntriesReclaimed)

	entry, err := e.GetByWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	require.Equal(t, queue.Pending, entry.Status)
}

func TestMarkProcessingCompletedFailedLegacyWrappers(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	_, err := e.Add(ctx, "ws-1", "bead-1", 0, "")
	require.NoError(t, err)

	changed, err := e.MarkProcessing(ctx, "ws-1")
	require.NoError(t, err)
	require.True(t, changed)
	entry, err := e.GetByWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	require.Equal(t, queue.Claimed, entry.Status)

	// A second MarkProcessing finds no Pending row left to move.
	changed, err = e.MarkProcessing(ctx, "ws-1")
	require.NoError(t, err)
	require.False(t, changed)

	changed, err = e.MarkCompleted(ctx, "ws-1")
	require.NoError(t, err)
	require.True(t, changed)
	entry, err = e.GetByWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	require.Equal(t, queue.Merged, entry.Status)
}

func TestMarkFailedLegacyWrapper(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	_, err := e.Add(ctx, "ws-1", "bead-1", 0, "")
	require.NoError(t, err)
	changed, err := e.MarkProcessing(ctx, "ws-1")
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = e.MarkFailed(ctx, "ws-1", "boom")
	require.NoError(t, err)
	require.True(t, changed)

	entry, err := e.GetByWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	require.Equal(t, queue.FailedTerminal, entry.Status)
	require.Equal(t, "boom", entry.ErrorMessage)
}

func TestListEventsRespectsLimitAndOrder(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	entry, err := e.Add(ctx, "ws-1", "bead-1", 0, "")
	require.NoError(t, err)
	_, err = e.ClaimNext(ctx, "agent-a")
	require.NoError(t, err)
	require.NoError(t, e.StartRebase(ctx, "ws-1"))

	all, err := e.ListEvents(ctx, entry.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 3) // created, claimed, transitioned

	tail, err := e.ListEvents(ctx, entry.ID, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	require.Equal(t, all[len(all)-2:], tail)
}

func TestUpsertForSubmitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	req := queue.UpsertRequest{Workspace: "ws-1", BeadID: "bead-1", DedupeKey: "dedupe-a", HeadSHA: "sha-1"}
	first, err := e.UpsertForSubmit(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 1, first.TotalPending)

	// An active entry is updated in place: only head_sha (and
	// state_changed_at) change; the bead id keeps its first value.
	req.BeadID = "bead-1-updated"
	req.HeadSHA = "sha-2"
	second, err := e.UpsertForSubmit(ctx, req)
	require.NoError(t, err)
	require.Equal(t, first.Entry.ID, second.Entry.ID)
	require.Equal(t, "bead-1", second.Entry.BeadID)
	require.Equal(t, "sha-2", second.Entry.HeadSHA)
	require.Equal(t, 1, second.TotalPending)
}
