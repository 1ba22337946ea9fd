package git

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// jjBinary is the resolved path/name of the version-control binary. Tests
// override it to point at a fake binary so the adapter can be exercised
// without a real jj installation.
var jjBinary = "jj"

// SetBinaryForTest overrides the resolved jj binary path. Restore the
// previous value (the return) when the test finishes.
func SetBinaryForTest(path string) (restore func()) {
	prev := jjBinary
	jjBinary = path
	return func() { jjBinary = prev }
}

// ProcessResult is the structured outcome of one jj subprocess invocation
// (SPEC_FULL.md §4.7): exit code, both output streams kept separate so
// callers can distinguish progress chatter from diagnostics, and the Go-level
// error from exec itself (distinct from a nonzero exit code).
type ProcessResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

// Success reports whether the subprocess exited zero and exec itself did not
// fail (binary missing, context cancelled, ...).
func (r ProcessResult) Success() bool {
	return r.Err == nil && r.ExitCode == 0
}

// workspaceNotRegisteredPatterns are stderr substrings jj emits when asked to
// forget or operate on a workspace it no longer has bookkeeping for. The
// ForgetAndRecreate repair step treats these as non-fatal: the end state
// (workspace gone from jj's registry) is what it wanted anyway.
var workspaceNotRegisteredPatterns = []string{
	"workspace not found",
	"no such workspace",
	"is not a workspace",
	"not registered",
}

// IsWorkspaceNotRegistered classifies a ProcessResult's stderr against the
// known "workspace not registered" shapes jj produces. Per SPEC_FULL.md §9,
// this is the one subprocess failure mode the engine treats as success rather
// than propagating.
func IsWorkspaceNotRegistered(r ProcessResult) bool {
	stderr := strings.ToLower(r.Stderr)
	for _, pattern := range workspaceNotRegisteredPatterns {
		if strings.Contains(stderr, pattern) {
			return true
		}
	}
	return false
}

// run executes the jj binary with args in dir and captures both streams.
// Subprocess errors are never retried here (SPEC_FULL.md §7): the caller
// decides what a failure means for its own operation.
func run(ctx context.Context, dir string, args ...string) ProcessResult {
	cmd := exec.CommandContext(ctx, jjBinary, args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			err = nil // a nonzero exit is a normal, classified outcome, not an exec failure
		}
	}

	return ProcessResult{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Err:      err,
	}
}

// Rebase rebases the workspace at dir onto destRevision (typically the main
// branch's current head), e.g. `jj rebase -d <destRevision>`.
func Rebase(ctx context.Context, dir, destRevision string) ProcessResult {
	return run(ctx, dir, "rebase", "-d", destRevision)
}

// Status runs `jj status` in dir and returns the raw result for the caller
// to parse or surface verbatim.
func Status(ctx context.Context, dir string) ProcessResult {
	return run(ctx, dir, "status")
}

// Merge squash-merges the workspace at dir into destBranch. Its caller is
// session remove --merge; the queue engine does not call it.
func Merge(ctx context.Context, dir, destBranch string) ProcessResult {
	return run(ctx, dir, "squash", "--into", destBranch)
}

// Diff runs `jj diff` in dir, used by the `diff` command to show a
// session's uncommitted changes.
func Diff(ctx context.Context, dir string) ProcessResult {
	return run(ctx, dir, "diff")
}

// WorkspaceAdd creates a new jj workspace named name rooted at path, sharing
// history with the repository at repoRoot.
func WorkspaceAdd(ctx context.Context, repoRoot, path, name string) ProcessResult {
	return run(ctx, repoRoot, "workspace", "add", "--name", name, path)
}

// WorkspaceForget drops name from jj's workspace registry without touching
// the filesystem. Per SPEC_FULL.md §9, "not registered" failures here are
// non-fatal for the ForgetAndRecreate repair step — check with
// IsWorkspaceNotRegistered before treating a nonzero result as an error.
func WorkspaceForget(ctx context.Context, repoRoot, name string) ProcessResult {
	return run(ctx, repoRoot, "workspace", "forget", name)
}

// UpdateWorkingCopy refreshes the working copy at dir to match the current
// operation log position, e.g. `jj workspace update-stale`.
func UpdateWorkingCopy(ctx context.Context, dir string) ProcessResult {
	return run(ctx, dir, "workspace", "update-stale")
}

// CurrentHead returns the change/commit id at the tip of dir's working copy,
// used as head_sha after a rebase or merge.
func CurrentHead(ctx context.Context, dir string) (string, error) {
	r := run(ctx, dir, "log", "-r", "@", "--no-graph", "-T", "commit_id")
	if !r.Success() {
		return "", commandError(r)
	}
	return strings.TrimSpace(r.Stdout), nil
}

// MainBranchHead returns the current head commit id of branch in repoRoot,
// the freshness baseline compared against tested_against_sha.
func MainBranchHead(ctx context.Context, repoRoot, branch string) (string, error) {
	r := run(ctx, repoRoot, "log", "-r", branch, "--no-graph", "-T", "commit_id")
	if !r.Success() {
		return "", commandError(r)
	}
	return strings.TrimSpace(r.Stdout), nil
}

func commandError(r ProcessResult) error {
	if r.Err != nil {
		return r.Err
	}
	msg := strings.TrimSpace(r.Stderr)
	if msg == "" {
		msg = "jj exited with a non-zero status"
	}
	return &CommandError{ExitCode: r.ExitCode, Message: msg}
}

// CommandError wraps a failed jj invocation's exit code and stderr so
// callers can surface it through the error taxonomy's Command variant
// (SPEC_FULL.md §7).
type CommandError struct {
	ExitCode int
	Message  string
}

func (e *CommandError) Error() string {
	return e.Message
}
