// Package integrity implements the workspace integrity engine (C6): a
// validator that scans a workspace for corruption, a backup manager that
// snapshots workspace trees, and a repair executor that dispatches typed
// repair strategies against the findings.
package integrity

import "time"

// CorruptionKind is the closed set of detectable workspace problems, each
// carrying a fixed severity (1 low, 5 high).
type CorruptionKind int

const (
	StaleWorkingCopy CorruptionKind = iota
	StaleLock
	DatabaseMismatch
	OrphanedWorkspace
	MissingJjDir
	InvalidJjState
	MissingDirectory
	PermissionDenied
	Unknown
)

var corruptionNames = [...]string{
	StaleWorkingCopy:  "stale_working_copy",
	StaleLock:         "stale_lock",
	DatabaseMismatch:  "database_mismatch",
	OrphanedWorkspace: "orphaned_workspace",
	MissingJjDir:      "missing_jj_dir",
	InvalidJjState:    "invalid_jj_state",
	MissingDirectory:  "missing_directory",
	PermissionDenied:  "permission_denied",
	Unknown:           "unknown",
}

func (k CorruptionKind) String() string {
	if k < 0 || int(k) >= len(corruptionNames) {
		return "unknown"
	}
	return corruptionNames[k]
}

var corruptionSeverity = [...]int{
	StaleWorkingCopy:  1,
	StaleLock:         2,
	DatabaseMismatch:  2,
	OrphanedWorkspace: 3,
	MissingJjDir:      4,
	InvalidJjState:    4,
	MissingDirectory:  5,
	PermissionDenied:  5,
	Unknown:           5,
}

// Severity returns k's fixed severity, 1 (low) to 5 (high).
func (k CorruptionKind) Severity() int {
	if k < 0 || int(k) >= len(corruptionSeverity) {
		return 5
	}
	return corruptionSeverity[k]
}

// RepairStrategy is the closed set of repair actions the executor can
// dispatch, each carrying a fixed risk level and a data-loss flag.
type RepairStrategy int

const (
	ClearStaleLock RepairStrategy = iota
	SyncDatabase
	UpdateWorkingCopy
	ForgetAndRecreate
	RecreateWorkspace
	NoRepairPossible
)

var strategyNames = [...]string{
	ClearStaleLock:    "clear_stale_lock",
	SyncDatabase:      "sync_database",
	UpdateWorkingCopy: "update_working_copy",
	ForgetAndRecreate: "forget_and_recreate",
	RecreateWorkspace: "recreate_workspace",
	NoRepairPossible:  "no_repair_possible",
}

func (s RepairStrategy) String() string {
	if s < 0 || int(s) >= len(strategyNames) {
		return "unknown"
	}
	return strategyNames[s]
}

var strategyRisk = [...]int{
	ClearStaleLock:    1,
	SyncDatabase:      1,
	UpdateWorkingCopy: 2,
	ForgetAndRecreate: 4,
	RecreateWorkspace: 5,
	NoRepairPossible:  0,
}

// Risk returns s's fixed risk level, 0 (none) to 5 (destructive).
func (s RepairStrategy) Risk() int {
	if s < 0 || int(s) >= len(strategyRisk) {
		return 5
	}
	return strategyRisk[s]
}

var strategyLossy = [...]bool{
	ClearStaleLock:    false,
	SyncDatabase:      false,
	UpdateWorkingCopy: false,
	ForgetAndRecreate: true,
	RecreateWorkspace: true,
	NoRepairPossible:  false,
}

// MayLoseData reports whether s can discard uncommitted work.
func (s RepairStrategy) MayLoseData() bool {
	if s < 0 || int(s) >= len(strategyLossy) {
		return true
	}
	return strategyLossy[s]
}

// recommendedStrategy maps each corruption kind to the repair strategy that
// addresses it, per SPEC_FULL.md §4.4.3's dispatch table.
var recommendedStrategy = map[CorruptionKind]RepairStrategy{
	StaleWorkingCopy:  UpdateWorkingCopy,
	StaleLock:         ClearStaleLock,
	DatabaseMismatch:  SyncDatabase,
	OrphanedWorkspace: ForgetAndRecreate,
	MissingJjDir:      ForgetAndRecreate,
	InvalidJjState:    ForgetAndRecreate,
	MissingDirectory:  RecreateWorkspace,
	PermissionDenied:  NoRepairPossible,
	Unknown:           NoRepairPossible,
}

// RecommendedStrategy returns the repair strategy recommended for k.
func RecommendedStrategy(k CorruptionKind) RepairStrategy {
	if s, ok := recommendedStrategy[k]; ok {
		return s
	}
	return NoRepairPossible
}

// Issue is one detected problem: its kind, a human description, the
// affected path, the recommended repair, and free-form context.
type Issue struct {
	Kind        CorruptionKind
	Description string
	Path        string
	Strategy    RepairStrategy
	Context     map[string]string
}

// ValidationResult is Validate's full report for one workspace.
type ValidationResult struct {
	Workspace string
	Path      string
	Issues    []Issue
	Duration  time.Duration
}

// IsValid reports whether no issues were found.
func (r ValidationResult) IsValid() bool {
	return len(r.Issues) == 0
}

// MostSevereIssue returns the issue with the highest severity, or nil if
// there are none.
func (r ValidationResult) MostSevereIssue() *Issue {
	if len(r.Issues) == 0 {
		return nil
	}
	most := r.Issues[0]
	for _, issue := range r.Issues[1:] {
		if issue.Kind.Severity() > most.Kind.Severity() {
			most = issue
		}
	}
	return &most
}

// AutoRepairableIssues returns the subset of issues whose recommended
// strategy is not NoRepairPossible.
func (r ValidationResult) AutoRepairableIssues() []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Strategy != NoRepairPossible {
			out = append(out, issue)
		}
	}
	return out
}

// HasAutoRepairableIssues reports whether any issue can be auto-repaired.
func (r ValidationResult) HasAutoRepairableIssues() bool {
	return len(r.AutoRepairableIssues()) > 0
}

// BackupMetadata describes one workspace snapshot taken by the backup
// manager. Backup trees are content-addressed by filesystem copy, not by
// any store row; this struct is the only durable record of a backup's
// existence (persisted as a sibling JSON file next to the copied tree).
type BackupMetadata struct {
	ID           string
	Workspace    string
	OriginalPath string
	BackupPath   string
	CreatedAt    time.Time
	SizeBytes    int64
	Reason       string
	Checksum     string // optional, empty if not computed
}

// RepairResult is what Execute returns: whether the repair succeeded, which
// issues it addressed, which remain, and an optional pre-repair backup.
type RepairResult struct {
	Success         bool
	Strategy        RepairStrategy
	IssuesAddressed []Issue
	RemainingIssues []Issue
	Summary         string
	Backup          *BackupMetadata
	DurationMS      int64
}
