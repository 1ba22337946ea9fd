// Package queue implements the merge queue's typed entities (C3), its
// ten-state lifecycle (C4), and the engine that drives entries through that
// lifecycle under a leased global processing lock (C5).
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("github.com/lprior-repo/zjj/internal/queue")
	meter  = otel.Meter("github.com/lprior-repo/zjj/internal/queue")
)

// claimRetryCounter counts ClaimNext contention retries. Instrumentation
// point only (§11 domain stack): no exporter ships, but the hook exists for
// a consumer that attaches one.
var claimRetryCounter metric.Int64Counter

func init() {
	c, err := meter.Int64Counter("zjj.queue.claim_retries",
		metric.WithDescription("ClaimNext retries caused by transient store contention"))
	if err == nil {
		claimRetryCounter = c
	}
}

// Engine is the merge queue's business logic layer (C5), composing a Store
// with retry/backoff, the freshness guard, and audit emission. It holds no
// state of its own beyond the Store, logger and recovery policy it was
// built with.
type Engine struct {
	store    Store
	log      *slog.Logger
	recovery RecoveryPolicy
}

// NewEngine builds an Engine over store. log defaults to slog.Default() when
// nil. The recovery policy defaults to Warn; set it with SetRecoveryPolicy.
func NewEngine(store Store, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: store, log: log}
}

// SetRecoveryPolicy configures how ClaimNext reacts when its opportunistic
// recovery sweep fails (SPEC_FULL.md §7).
func (e *Engine) SetRecoveryPolicy(p RecoveryPolicy) {
	e.recovery = p
}

// Add inserts a new Pending entry (SPEC_FULL.md §4.3.1).
func (e *Engine) Add(ctx context.Context, workspace, beadID string, priority int, agentID string) (Entry, error) {
	entry, err := e.store.Add(ctx, workspace, beadID, priority, agentID)
	if err != nil {
		return Entry{}, err
	}
	_ = e.store.AppendEvent(ctx, entry.ID, EventCreated, "")
	return entry, nil
}

// AddWithDedupe is Add plus active-dedupe-key uniqueness.
func (e *Engine) AddWithDedupe(ctx context.Context, workspace, beadID string, priority int, agentID, dedupeKey string) (Entry, error) {
	entry, err := e.store.AddWithDedupe(ctx, workspace, beadID, priority, agentID, dedupeKey)
	if err != nil {
		return Entry{}, err
	}
	_ = e.store.AppendEvent(ctx, entry.ID, EventCreated, "")
	return entry, nil
}

// UpsertForSubmit is the idempotent submit primitive (§4.3.1's resolution
// table): insert, in-place update, terminal-reset, or dedupe-key release
// depending on what (if anything) already owns the key.
func (e *Engine) UpsertForSubmit(ctx context.Context, req UpsertRequest) (AddResponse, error) {
	resp, err := e.store.UpsertForSubmit(ctx, req)
	if err != nil {
		return AddResponse{}, err
	}
	_ = e.store.AppendEvent(ctx, resp.Entry.ID, EventCreated, "")
	return resp, nil
}

// claimBackoff returns the up-to-5-retry, 50ms-doubling backoff policy for
// ClaimNext contention (SPEC_FULL.md §4.3.2, §5).
func claimBackoff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0 // bounded by WithMaxRetries instead, per the fixed 5-retry budget
	return backoff.WithContext(backoff.WithMaxRetries(bo, 5), ctx)
}

// ClaimNext is the central concurrency primitive (§4.3.2). It opportunistically
// sweeps stale leases once (never per retry attempt, per §4.3.2.1's resolved
// open question), then attempts the atomic claim with bounded exponential
// backoff on transient contention.
func (e *Engine) ClaimNext(ctx context.Context, agentID string) (*Entry, error) {
	ctx, span := tracer.Start(ctx, "queue.ClaimNext", trace.WithAttributes(attribute.String("agent_id", agentID)))
	defer span.End()

	if _, err := e.store.DetectAndRecoverStale(ctx); err != nil {
		switch e.recovery {
		case RecoverySilent:
			// swallowed by policy
		case RecoveryFailFast:
			return nil, fmt.Errorf("recovery sweep failed: %w", err)
		default:
			e.log.Warn("recovery sweep failed, proceeding with claim", "error", err)
		}
	}

	var claimed *Entry
	var retries int64
	op := func() error {
		entry, err := e.store.ClaimNext(ctx, agentID)
		if err != nil {
			if isRetryableStoreError(err) {
				retries++
				return err
			}
			return backoff.Permanent(err)
		}
		claimed = entry
		return nil
	}

	if err := backoff.Retry(op, claimBackoff(ctx)); err != nil {
		return nil, err
	}
	if claimRetryCounter != nil && retries > 0 {
		claimRetryCounter.Add(ctx, retries)
	}
	if claimed == nil {
		return nil, nil // no work, not an error
	}
	_ = e.store.AppendEvent(ctx, claimed.ID, EventClaimed, "")
	e.log.Info("claimed queue entry", "workspace", claimed.Workspace, "agent_id", agentID, "queue_id", claimed.ID)
	return claimed, nil
}

// ExtendLock extends the processing lock agentID holds by extra, measured
// from its current expiration (not from now).
func (e *Engine) ExtendLock(ctx context.Context, agentID string, extra time.Duration) error {
	return e.store.ExtendLock(ctx, agentID, extra)
}

// ReleaseLock releases the processing lock if agentID holds it.
func (e *Engine) ReleaseLock(ctx context.Context, agentID string) error {
	return e.store.ReleaseLock(ctx, agentID)
}

// DetectAndRecoverStale runs the self-healing sweep explicitly, e.g. for
// cron-style maintenance outside the automatic per-claim invocation.
func (e *Engine) DetectAndRecoverStale(ctx context.Context) (RecoveryStats, error) {
	return e.store.DetectAndRecoverStale(ctx)
}

// ReclaimStale runs the self-healing sweep with a caller-chosen staleness
// threshold, for a cron-style maintenance command that wants its own
// definition of stale rather than the fixed lock-timeout window.
func (e *Engine) ReclaimStale(ctx context.Context, staleThresholdSecs int64) (RecoveryStats, error) {
	return e.store.ReclaimStale(ctx, staleThresholdSecs)
}

// GetRecoveryStats reports what a sweep would do without mutating anything.
func (e *Engine) GetRecoveryStats(ctx context.Context) (RecoveryStats, error) {
	return e.store.GetRecoveryStats(ctx)
}

// IsLockStale reports whether the processing lock exists and has expired.
func (e *Engine) IsLockStale(ctx context.Context) (bool, error) {
	return e.store.IsLockStale(ctx)
}

// StartRebase records that a worker has begun driving the rebase for a
// Claimed entry, transitioning it to Rebasing.
func (e *Engine) StartRebase(ctx context.Context, workspace string) error {
	if err := e.store.StartRebase(ctx, workspace); err != nil {
		return err
	}
	e.emitTransition(ctx, workspace, Claimed, Rebasing)
	return nil
}

// UpdateRebaseMetadata is called on rebase completion: requires Rebasing,
// stores the new head and freshness baseline, transitions to Testing.
func (e *Engine) UpdateRebaseMetadata(ctx context.Context, workspace, headSHA, testedAgainstSHA string) error {
	if err := e.store.UpdateRebaseMetadata(ctx, workspace, headSHA, testedAgainstSHA); err != nil {
		return err
	}
	e.emitTransition(ctx, workspace, Rebasing, Testing)
	return nil
}

// UpdateRebaseMetadataWithCount is UpdateRebaseMetadata plus the persisted
// rebase_count/last_rebase_at observability counters.
func (e *Engine) UpdateRebaseMetadataWithCount(ctx context.Context, workspace, headSHA, testedAgainstSHA string, rebaseCount int, at time.Time) error {
	if err := e.store.UpdateRebaseMetadataWithCount(ctx, workspace, headSHA, testedAgainstSHA, rebaseCount, at); err != nil {
		return err
	}
	e.emitTransition(ctx, workspace, Rebasing, Testing)
	return nil
}

// MarkReady records that tests passed: Testing -> ReadyToMerge.
func (e *Engine) MarkReady(ctx context.Context, workspace string) error {
	if err := e.store.MarkReady(ctx, workspace); err != nil {
		return err
	}
	e.emitTransition(ctx, workspace, Testing, ReadyToMerge)
	return nil
}

// AttemptMerge is the freshness guard (§4.3.3), the engine's core
// correctness property: it compares currentMainSHA against the entry's
// tested_against_sha and either proceeds to Merging or fails closed back to
// Rebasing, clearing the stale baseline so the entry is re-tested before it
// can merge again.
func (e *Engine) AttemptMerge(ctx context.Context, workspace, currentMainSHA string) (fresh bool, err error) {
	entry, err := e.store.GetByWorkspace(ctx, workspace)
	if err != nil {
		return false, err
	}

	if !IsFresh(entry, currentMainSHA) {
		if rerr := e.store.ReturnToRebasing(ctx, workspace); rerr != nil {
			return false, rerr
		}
		e.emitTransition(ctx, workspace, ReadyToMerge, Rebasing)
		e.log.Info("freshness guard failed closed, returning to rebasing",
			"workspace", workspace, "tested_against", entry.TestedAgainstSHA, "current_main", currentMainSHA)
		return false, nil
	}

	if err := e.store.BeginMerge(ctx, workspace); err != nil {
		return false, err
	}
	e.emitTransition(ctx, workspace, ReadyToMerge, Merging)
	return true, nil
}

// IsFresh reports whether entry's test baseline matches currentMainSHA. A
// NULL tested_against_sha is never fresh (fail closed, §8.3).
func IsFresh(entry Entry, currentMainSHA string) bool {
	if entry.TestedAgainstSHA == "" {
		return false
	}
	return entry.TestedAgainstSHA == currentMainSHA
}

// CompleteMerge records a successful merge: Merging -> Merged.
func (e *Engine) CompleteMerge(ctx context.Context, workspace, mergeCommitSHA string) error {
	entry, err := e.store.GetByWorkspace(ctx, workspace)
	if err != nil {
		return err
	}
	if err := e.store.CompleteMerge(ctx, workspace, mergeCommitSHA); err != nil {
		return err
	}
	_ = e.store.AppendEvent(ctx, entry.ID, EventMerged, "")
	e.log.Info("merged", "workspace", workspace, "merge_commit", mergeCommitSHA)
	return nil
}

// Fail transitions a non-terminal entry to FailedRetryable or
// FailedTerminal, recording message.
func (e *Engine) Fail(ctx context.Context, id int64, terminal bool, message string) error {
	if err := e.store.Fail(ctx, id, terminal, message); err != nil {
		return err
	}
	_ = e.store.AppendEvent(ctx, id, EventFailed, message)
	return nil
}

// RetryEntry requires FailedRetryable and attempt_count < max_attempts. The
// store returns the precise typed reason (NotRetryableError or
// MaxAttemptsExceededError) when the precondition fails, including when a
// concurrent caller won the race first.
func (e *Engine) RetryEntry(ctx context.Context, id int64) (Entry, error) {
	entry, err := e.store.RetryEntry(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	_ = e.store.AppendEvent(ctx, id, EventRetried, "")
	return entry, nil
}

// CancelEntry requires a non-terminal, non-Merging status.
func (e *Engine) CancelEntry(ctx context.Context, id int64) (Entry, error) {
	entry, err := e.store.CancelEntry(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	_ = e.store.AppendEvent(ctx, id, EventCancelled, "")
	return entry, nil
}

// MarkProcessing, MarkCompleted and MarkFailed are supplemented legacy
// wrappers (§4.3.6) over the canonical per-state transitions, kept for
// callers still speaking the pre-state-machine processing/completed/failed
// vocabulary. Each emits the same audit event its canonical counterpart
// would, when it actually changes a row.
//
// Deprecated: use ClaimNext instead.
func (e *Engine) MarkProcessing(ctx context.Context, workspace string) (bool, error) {
	changed, err := e.store.MarkProcessing(ctx, workspace)
	if err != nil || !changed {
		return changed, err
	}
	e.emitTransition(ctx, workspace, Pending, Claimed)
	return true, nil
}

// Deprecated: use CompleteMerge instead.
func (e *Engine) MarkCompleted(ctx context.Context, workspace string) (bool, error) {
	changed, err := e.store.MarkCompleted(ctx, workspace)
	if err != nil || !changed {
		return changed, err
	}
	e.emitTransition(ctx, workspace, Claimed, Merged)
	return true, nil
}

// Deprecated: use Fail instead.
func (e *Engine) MarkFailed(ctx context.Context, workspace, message string) (bool, error) {
	changed, err := e.store.MarkFailed(ctx, workspace, message)
	if err != nil || !changed {
		return changed, err
	}
	e.emitTransition(ctx, workspace, Claimed, FailedTerminal)
	return true, nil
}

// Cleanup deletes terminal entries (and their events first) older than
// maxAge. A zero maxAge purges all terminal entries now.
func (e *Engine) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	return e.store.Cleanup(ctx, maxAge)
}

func (e *Engine) GetByID(ctx context.Context, id int64) (Entry, error) {
	return e.store.GetByID(ctx, id)
}

func (e *Engine) GetByWorkspace(ctx context.Context, workspace string) (Entry, error) {
	return e.store.GetByWorkspace(ctx, workspace)
}

func (e *Engine) List(ctx context.Context, f Filter) ([]Entry, error) {
	return e.store.List(ctx, f)
}

func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	return e.store.Stats(ctx)
}

// ListEvents returns queueID's audit trail in chronological order. A
// non-positive limit returns the full trail; a positive limit returns at
// most the limit most recent events, for tailing an entry's history
// without loading the full log.
func (e *Engine) ListEvents(ctx context.Context, queueID int64, limit int) ([]Event, error) {
	return e.store.ListEvents(ctx, queueID, limit)
}

func (e *Engine) emitTransition(ctx context.Context, workspace string, from, to Status) {
	entry, err := e.store.GetByWorkspace(ctx, workspace)
	if err != nil {
		return
	}
	_ = e.store.AppendEvent(ctx, entry.ID, EventTransitioned, from.String()+"->"+to.String())
}
