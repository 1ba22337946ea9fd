package queue

import "time"

// Entry is one row of the merge queue: a workspace currently tracked for
// integration, per SPEC_FULL.md §3.1.
type Entry struct {
	ID              int64
	Workspace       string
	BeadID          string
	Priority        int
	Status          Status
	AddedAt         time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	StateChangedAt  time.Time
	PreviousState   string
	ErrorMessage    string
	AgentID         string
	DedupeKey       string
	WorkspaceState  string
	HeadSHA         string
	TestedAgainstSHA string
	AttemptCount    int
	MaxAttempts     int
	RebaseCount     int
	LastRebaseAt    *time.Time
	ParentWorkspace string
}

// DefaultMaxAttempts is the default bound on retryable failures before an
// entry can no longer be retried (SPEC_FULL.md §3.1).
const DefaultMaxAttempts = 3

// ProcessingLock is the singleton row serializing the claim-and-merge
// critical section across agents (SPEC_FULL.md §3.2).
type ProcessingLock struct {
	AgentID    string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// DefaultLockTimeout is the default lease duration granted to a processing
// lock holder.
const DefaultLockTimeout = 300 * time.Second

// EventType enumerates the audit log's closed set of event kinds.
type EventType string

const (
	EventCreated      EventType = "created"
	EventClaimed      EventType = "claimed"
	EventTransitioned EventType = "transitioned"
	EventFailed       EventType = "failed"
	EventRetried      EventType = "retried"
	EventCancelled    EventType = "cancelled"
	EventMerged       EventType = "merged"
	EventHeartbeat    EventType = "heartbeat"
)

// Event is one append-only audit log row (SPEC_FULL.md §3.3).
type Event struct {
	ID        int64
	QueueID   int64
	EventType EventType
	Details   string // opaque JSON, empty if none
	CreatedAt time.Time
}

// Stats aggregates queue counts by coarse bucket, used by `queue --stats`
// and the status dashboard (SPEC_FULL.md §4.3.7).
type Stats struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
}

// RecoveryStats reports what the self-healing sweep did or would do
// (SPEC_FULL.md §4.3.5).
type RecoveryStats struct {
	LocksCleaned     int
	EntriesReclaimed int
	RecoveryTimestamp time.Time
}

// AddResponse is returned by UpsertForSubmit: the resulting entry plus its
// position in the pending queue and the total pending count, computed in
// the same transaction as the write (SPEC_FULL.md §4.3.1).
type AddResponse struct {
	Entry        Entry
	Position     int
	TotalPending int
}
