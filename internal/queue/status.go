// Package queue defines the merge queue's typed entities and the legal-
// transition relation over its ten-state lifecycle (C3/C4).
package queue

import "fmt"

// Status is one of the ten merge queue lifecycle states.
type Status int

const (
	Pending Status = iota
	Claimed
	Rebasing
	Testing
	ReadyToMerge
	Merging
	Merged
	FailedRetryable
	FailedTerminal
	Cancelled
)

var statusNames = [...]string{
	Pending:         "pending",
	Claimed:         "claimed",
	Rebasing:        "rebasing",
	Testing:         "testing",
	ReadyToMerge:    "ready_to_merge",
	Merging:         "merging",
	Merged:          "merged",
	FailedRetryable: "failed_retryable",
	FailedTerminal:  "failed_terminal",
	Cancelled:       "cancelled",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// legacyAliases maps pre-state-machine status strings, still accepted on
// read for backward compatibility, to their canonical replacement.
var legacyAliases = map[string]Status{
	"processing": Claimed,
	"completed":  Merged,
	"failed":     FailedTerminal,
}

// ParseStatus parses a canonical or legacy status string. Canonical names
// always round-trip: ParseStatus(s.String()) == s for every Status. Legacy
// names are accepted on read but never produced by String.
func ParseStatus(s string) (Status, error) {
	for i, name := range statusNames {
		if name == s {
			return Status(i), nil
		}
	}
	if st, ok := legacyAliases[s]; ok {
		return st, nil
	}
	return Pending, fmt.Errorf("queue: unknown status %q", s)
}

// IsTerminal reports whether no further transitions are legal from s.
func (s Status) IsTerminal() bool {
	switch s {
	case Merged, FailedTerminal, Cancelled:
		return true
	default:
		return false
	}
}

// TransitionError reports an illegal transition attempt. It carries the
// status pair so callers can render a precise diagnostic.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("queue: illegal transition %s -> %s", e.From, e.To)
}

// happyPath gives each non-terminal, non-failure state its single successor
// on the canonical Pending -> ... -> Merged path.
var happyPath = map[Status]Status{
	Pending:      Claimed,
	Claimed:      Rebasing,
	Rebasing:     Testing,
	Testing:      ReadyToMerge,
	ReadyToMerge: Merging,
	Merging:      Merged,
}

// CanTransitionTo reports whether from -> to is a legal edge in the state
// machine, per SPEC_FULL.md §4.2.
func CanTransitionTo(from, to Status) bool {
	if from == to {
		return true // same-state transitions are always legal (idempotence)
	}
	if from.IsTerminal() {
		return false // no outgoing edge from a terminal state
	}

	switch to {
	case FailedRetryable, FailedTerminal:
		// Every non-terminal state may fail, except Pending: a queue entry
		// must pass through Claimed before it can fail (SPEC_FULL.md §4.2
		// forbidden clause takes precedence over the general failure rule).
		return from != Pending
	case Cancelled:
		return from != Merging // Merging is the non-abortable critical section
	}

	if from == FailedRetryable && to == Pending {
		return true // retry
	}

	// Happy-path edges only: no skipping over intermediate states.
	next, ok := happyPath[from]
	return ok && next == to
}

// ValidateTransition returns nil if from -> to is legal, else a *TransitionError.
func ValidateTransition(from, to Status) error {
	if CanTransitionTo(from, to) {
		return nil
	}
	return &TransitionError{From: from, To: to}
}
