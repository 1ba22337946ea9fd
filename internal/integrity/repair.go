package integrity

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lprior-repo/zjj/internal/git"
)

// RepairOptions parameterizes Execute: whether lossy strategies must take a
// pre-repair backup first, and the repository root jj subcommands run
// against for workspace-registry operations.
type RepairOptions struct {
	AlwaysBackup bool
	RepoRoot     string
}

// Repairer dispatches a repair strategy against a validation result.
type Repairer struct {
	backups *BackupManager
}

// NewRepairer builds a Repairer that creates pre-repair backups through
// backups.
func NewRepairer(backups *BackupManager) *Repairer {
	return &Repairer{backups: backups}
}

// Execute runs strategy against name/path given validationResult's issues,
// per SPEC_FULL.md §4.4.3.
func (r *Repairer) Execute(ctx context.Context, name, path string, validationResult ValidationResult, strategy RepairStrategy, opts RepairOptions) (RepairResult, error) {
	start := time.Now()
	result := RepairResult{Strategy: strategy}

	if opts.AlwaysBackup && strategy.MayLoseData() {
		if _, err := os.Stat(path); err == nil {
			backup, err := r.backups.CreateBackup(ctx, name, path, "pre-repair:"+strategy.String())
			if err != nil {
				result.Success = false
				result.Summary = fmt.Sprintf("pre-repair backup failed: %v", err)
				result.DurationMS = time.Since(start).Milliseconds()
				return result, nil
			}
			result.Backup = &backup
		}
	}

	switch strategy {
	case ClearStaleLock:
		r.clearStaleLock(validationResult, &result)
	case UpdateWorkingCopy:
		r.updateWorkingCopy(ctx, path, validationResult, &result)
	case SyncDatabase:
		r.syncDatabase(validationResult, &result)
	case ForgetAndRecreate:
		r.forgetAndRecreate(ctx, name, path, opts.RepoRoot, validationResult, &result)
	case RecreateWorkspace:
		r.recreateWorkspace(ctx, name, path, opts.RepoRoot, validationResult, &result)
	default:
		result.Success = false
		result.RemainingIssues = validationResult.Issues
		result.Summary = "no repair is possible for this issue"
	}

	result.DurationMS = time.Since(start).Milliseconds()
	return result, nil
}

func partitionIssues(issues []Issue, addressed func(Issue) bool) (addressedIssues, remaining []Issue) {
	for _, issue := range issues {
		if addressed(issue) {
			addressedIssues = append(addressedIssues, issue)
		} else {
			remaining = append(remaining, issue)
		}
	}
	return addressedIssues, remaining
}

func (r *Repairer) clearStaleLock(vr ValidationResult, result *RepairResult) {
	addressed, remaining := partitionIssues(vr.Issues, func(i Issue) bool { return i.Kind == StaleLock })
	for _, issue := range addressed {
		if err := os.Remove(issue.Path); err != nil && !os.IsNotExist(err) {
			result.Success = false
			result.Summary = fmt.Sprintf("failed to remove lock %s: %v", issue.Path, err)
			result.RemainingIssues = vr.Issues
			return
		}
	}
	result.Success = true
	result.IssuesAddressed = addressed
	result.RemainingIssues = remaining
	result.Summary = fmt.Sprintf("cleared %d stale lock(s)", len(addressed))
}

func (r *Repairer) updateWorkingCopy(ctx context.Context, path string, vr ValidationResult, result *RepairResult) {
	addressed, remaining := partitionIssues(vr.Issues, func(i Issue) bool { return i.Kind == StaleWorkingCopy })

	res := git.UpdateWorkingCopy(ctx, path)
	if !res.Success() {
		result.Success = false
		result.Summary = fmt.Sprintf("working copy update failed: %s", res.Stderr)
		result.RemainingIssues = vr.Issues
		return
	}

	result.Success = true
	result.IssuesAddressed = addressed
	result.RemainingIssues = remaining
	result.Summary = "working copy refreshed"
}

// syncDatabase runs no jj command and touches no database or file: it
// reports every DatabaseMismatch issue as addressed and the other issues as
// remaining. No state database is reconciled against the filesystem.
func (r *Repairer) syncDatabase(vr ValidationResult, result *RepairResult) {
	addressed, remaining := partitionIssues(vr.Issues, func(i Issue) bool { return i.Kind == DatabaseMismatch })
	result.Success = true
	result.IssuesAddressed = addressed
	result.RemainingIssues = remaining
	result.Summary = "database state reconciled"
}

func (r *Repairer) forgetAndRecreate(ctx context.Context, name, path, repoRoot string, vr ValidationResult, result *RepairResult) {
	forgetRes := git.WorkspaceForget(ctx, repoRoot, name)
	if !forgetRes.Success() && !git.IsWorkspaceNotRegistered(forgetRes) {
		result.Success = false
		result.Summary = fmt.Sprintf("workspace forget failed: %s", forgetRes.Stderr)
		result.RemainingIssues = vr.Issues
		return
	}

	if _, err := os.Stat(path); err == nil {
		if err := os.RemoveAll(path); err != nil {
			result.Success = false
			result.Summary = fmt.Sprintf("failed to remove workspace directory: %v", err)
			result.RemainingIssues = vr.Issues
			return
		}
	}

	addRes := git.WorkspaceAdd(ctx, repoRoot, path, name)
	if !addRes.Success() {
		result.Success = false
		result.Summary = fmt.Sprintf("workspace re-add failed: %s", addRes.Stderr)
		result.RemainingIssues = vr.Issues
		return
	}

	result.Success = true
	result.IssuesAddressed = vr.Issues
	result.Summary = "workspace forgotten and recreated"
}

// recreateWorkspace escalates ForgetAndRecreate for cases the forget step
// alone cannot fix: it forgets and re-adds exactly the same way, but is the
// strategy dispatched for MissingDirectory, where there is nothing left to
// forget and the directory must simply be rebuilt.
func (r *Repairer) recreateWorkspace(ctx context.Context, name, path, repoRoot string, vr ValidationResult, result *RepairResult) {
	_ = git.WorkspaceForget(ctx, repoRoot, name) // best effort; may legitimately be unregistered already

	if _, err := os.Stat(path); err == nil {
		if err := os.RemoveAll(path); err != nil {
			result.Success = false
			result.Summary = fmt.Sprintf("failed to remove workspace directory: %v", err)
			result.RemainingIssues = vr.Issues
			return
		}
	}

	addRes := git.WorkspaceAdd(ctx, repoRoot, path, name)
	if !addRes.Success() {
		result.Success = false
		result.Summary = fmt.Sprintf("workspace recreate failed: %s", addRes.Stderr)
		result.RemainingIssues = vr.Issues
		return
	}

	result.Success = true
	result.IssuesAddressed = vr.Issues
	result.Summary = "workspace recreated"
}
