package queue

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a queue entry id does not exist.
var ErrNotFound = errors.New("queue: entry not found")

// ErrNoWork names the "no work available" outcome for the CLI envelope's
// error classification. ClaimNext does not return it: it reports an empty
// queue, or a processing lock held by another agent, as a nil entry with a
// nil error (SPEC_FULL.md §4.3.2 step 3/4).
var ErrNoWork = errors.New("queue: no work available")

// DedupeKeyConflictError reports that an active entry already owns the
// submitted dedupe key under a different workspace (SPEC_FULL.md §4.3.1).
type DedupeKeyConflictError struct {
	DedupeKey         string
	ExistingWorkspace string
	ProvidedWorkspace string
}

func (e *DedupeKeyConflictError) Error() string {
	return fmt.Sprintf("queue: dedupe key %q already active on workspace %q (submitted for %q)",
		e.DedupeKey, e.ExistingWorkspace, e.ProvidedWorkspace)
}

// NotRetryableError reports that retry_entry was attempted on an entry whose
// status is not FailedRetryable.
type NotRetryableError struct {
	ID     int64
	Status Status
}

func (e *NotRetryableError) Error() string {
	return fmt.Sprintf("queue: entry %d is not retryable (status=%s)", e.ID, e.Status)
}

// NotCancellableError reports that cancel_entry was attempted on a terminal
// entry, or on an entry in the Merging critical section.
type NotCancellableError struct {
	ID     int64
	Status Status
}

func (e *NotCancellableError) Error() string {
	return fmt.Sprintf("queue: entry %d is not cancellable (status=%s)", e.ID, e.Status)
}

// MaxAttemptsExceededError reports that an entry has exhausted its retry
// budget.
type MaxAttemptsExceededError struct {
	ID      int64
	Attempt int
	Max     int
}

func (e *MaxAttemptsExceededError) Error() string {
	return fmt.Sprintf("queue: entry %d exceeded max attempts (%d/%d)", e.ID, e.Attempt, e.Max)
}

// AlreadyTrackedError reports that Add was called for a workspace already
// present in the queue.
type AlreadyTrackedError struct {
	Workspace string
}

func (e *AlreadyTrackedError) Error() string {
	return fmt.Sprintf("queue: workspace %q is already tracked", e.Workspace)
}

// RetryableStoreError wraps a transient busy/constraint-violation error from
// the store. The engine's ClaimNext backoff loop retries these and only
// these; everything else propagates immediately (SPEC_FULL.md §5, §7).
type RetryableStoreError struct {
	Err error
}

func (e *RetryableStoreError) Error() string { return e.Err.Error() }
func (e *RetryableStoreError) Unwrap() error { return e.Err }

func isRetryableStoreError(err error) bool {
	var re *RetryableStoreError
	return errors.As(err, &re)
}
