package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lprior-repo/zjj/internal/git"
	"github.com/lprior-repo/zjj/internal/integrity"
	"github.com/lprior-repo/zjj/internal/queue"
)

// TabDriver switches the active terminal-multiplexer tab for a session. No
// concrete implementation ships: callers wire their own against whatever
// multiplexer they run (SPEC_FULL.md §4.5).
type TabDriver interface {
	Focus(ctx context.Context, name string) error
}

// CreateOptions parameterizes Create.
type CreateOptions struct {
	BeadID    string
	AgentID   string
	DedupeKey string
	Priority  int
	Metadata  map[string]string
	NoOpen    bool
}

// RemoveOptions parameterizes Remove.
type RemoveOptions struct {
	Force      bool
	Merge      bool
	KeepBranch bool
	Idempotent bool
	DryRun     bool
}

// CreateResponse is Create's result: the new session, and the queue
// position/total if it also entered the merge queue.
type CreateResponse struct {
	Session      Session
	Position     int
	TotalPending int
	Queued       bool
}

// Registry composes the merge queue engine and the workspace integrity
// engine with session lifecycle operations. It is the only subsystem
// allowed to drive both; it does not reimplement either's logic.
type Registry struct {
	store     Store
	engine    *queue.Engine
	validator *integrity.Validator
	repairer  *integrity.Repairer
	repoRoot  string
	workspace func(name string) string // computes a session's workspace path from its name
	tabs      TabDriver
	log       *slog.Logger
}

// NewRegistry builds a Registry. tabs may be nil, in which case Focus is a
// no-op. workspaceFor computes a session's workspace directory from its
// name; callers typically pass filepath.Join(root, "workspaces", name).
func NewRegistry(store Store, engine *queue.Engine, validator *integrity.Validator, repairer *integrity.Repairer, repoRoot string, workspaceFor func(name string) string, tabs TabDriver, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		store:     store,
		engine:    engine,
		validator: validator,
		repairer:  repairer,
		repoRoot:  repoRoot,
		workspace: workspaceFor,
		tabs:      tabs,
		log:       log,
	}
}

// Create validates name, ensures no session of that name exists,
// creates the jj workspace, registers the session, and optionally submits it
// to the merge queue.
func (r *Registry) Create(ctx context.Context, name string, opts CreateOptions) (CreateResponse, error) {
	if err := validateName(name); err != nil {
		return CreateResponse{}, err
	}

	if _, err := r.store.Get(ctx, name); err == nil {
		return CreateResponse{}, ErrAlreadyExists
	}

	path := r.workspace(name)
	res := git.WorkspaceAdd(ctx, r.repoRoot, path, name)
	if !res.Success() {
		return CreateResponse{}, fmt.Errorf("create workspace: %s", res.Stderr)
	}

	now := time.Now().UTC()
	sess := Session{
		Name:          name,
		WorkspacePath: path,
		BeadID:        opts.BeadID,
		AgentID:       opts.AgentID,
		CreatedAt:     now,
		UpdatedAt:     now,
		Metadata:      opts.Metadata,
	}
	if err := r.store.Create(ctx, sess); err != nil {
		return CreateResponse{}, err
	}

	resp := CreateResponse{Session: sess}

	if opts.DedupeKey != "" || opts.BeadID != "" {
		headSHA, herr := git.CurrentHead(ctx, path)
		if herr != nil {
			r.log.Warn("could not read workspace head after create", "workspace", name, "error", herr)
		}
		addResp, err := r.engine.UpsertForSubmit(ctx, queue.UpsertRequest{
			Workspace: name,
			BeadID:    opts.BeadID,
			Priority:  opts.Priority,
			AgentID:   opts.AgentID,
			DedupeKey: opts.DedupeKey,
			HeadSHA:   headSHA,
		})
		if err != nil {
			return resp, err
		}
		resp.Position = addResp.Position
		resp.TotalPending = addResp.TotalPending
		resp.Queued = true
	}

	if !opts.NoOpen && r.tabs != nil {
		if err := r.tabs.Focus(ctx, name); err != nil {
			r.log.Warn("failed to focus new session's tab", "workspace", name, "error", err)
		}
	}

	r.log.Info("session created", "workspace", name, "bead_id", opts.BeadID, "agent_id", opts.AgentID)
	return resp, nil
}

// Remove tears down a session: optionally squash-merges to main, forgets
// the jj workspace, deletes its directory, and removes the session record.
func (r *Registry) Remove(ctx context.Context, name string, opts RemoveOptions) error {
	sess, err := r.store.Get(ctx, name)
	if err != nil {
		if err == ErrNotFound && opts.Idempotent {
			return nil
		}
		return err
	}

	if opts.DryRun {
		return nil
	}

	if opts.Merge {
		mainBranch := "main"
		mergeRes := git.Merge(ctx, sess.WorkspacePath, mainBranch)
		if !mergeRes.Success() && !opts.Force {
			return fmt.Errorf("merge to %s failed: %s", mainBranch, mergeRes.Stderr)
		}
	}

	forgetRes := git.WorkspaceForget(ctx, r.repoRoot, name)
	if !forgetRes.Success() && !git.IsWorkspaceNotRegistered(forgetRes) && !opts.Force {
		return fmt.Errorf("forget workspace failed: %s", forgetRes.Stderr)
	}

	if !opts.KeepBranch {
		if _, err := os.Stat(sess.WorkspacePath); err == nil {
			if err := os.RemoveAll(sess.WorkspacePath); err != nil && !opts.Force {
				return fmt.Errorf("remove workspace directory: %w", err)
			}
		}
	}

	if err := r.store.Delete(ctx, name); err != nil {
		if err == ErrNotFound && opts.Idempotent {
			return nil
		}
		return err
	}

	r.log.Info("session removed", "workspace", name, "merged", opts.Merge)
	return nil
}

// Focus switches the active terminal-multiplexer tab to name's session.
func (r *Registry) Focus(ctx context.Context, name string) error {
	if _, err := r.store.Get(ctx, name); err != nil {
		return err
	}
	if r.tabs == nil {
		return nil
	}
	return r.tabs.Focus(ctx, name)
}

// List returns sessions matching filter.
func (r *Registry) List(ctx context.Context, filter Filter) ([]Session, error) {
	return r.store.List(ctx, filter)
}

// Rename renames the session record only. Its workspace directory and the
// jj workspace name registered at creation are left unchanged.
func (r *Registry) Rename(ctx context.Context, oldName, newName string) error {
	if err := validateName(newName); err != nil {
		return err
	}
	return r.store.Rename(ctx, oldName, newName)
}

// Clone creates a new session dst with a fresh jj workspace of its own,
// copying src's bead id, agent id and metadata into the new session record.
// The new workspace is created by `jj workspace add` from the repository
// root; src's working-copy contents are not copied into it, and no
// ParentWorkspace link to src is recorded.
func (r *Registry) Clone(ctx context.Context, src, dst string) (Session, error) {
	source, err := r.store.Get(ctx, src)
	if err != nil {
		return Session{}, err
	}
	if err := validateName(dst); err != nil {
		return Session{}, err
	}
	if _, err := r.store.Get(ctx, dst); err == nil {
		return Session{}, ErrAlreadyExists
	}

	dstPath := r.workspace(dst)
	res := git.WorkspaceAdd(ctx, r.repoRoot, dstPath, dst)
	if !res.Success() {
		return Session{}, fmt.Errorf("create cloned workspace: %s", res.Stderr)
	}

	now := time.Now().UTC()
	clone := Session{
		Name:          dst,
		WorkspacePath: dstPath,
		BeadID:        source.BeadID,
		AgentID:       source.AgentID,
		CreatedAt:     now,
		UpdatedAt:     now,
		Metadata:      source.Metadata,
	}
	if err := r.store.Create(ctx, clone); err != nil {
		return Session{}, err
	}
	return clone, nil
}

// Pause marks a session paused: a purely bookkeeping flag consulted by
// session listing and dashboard commands, it does not affect queue state.
func (r *Registry) Pause(ctx context.Context, name string) error {
	return r.setPaused(ctx, name, true)
}

// Resume clears a session's paused flag.
func (r *Registry) Resume(ctx context.Context, name string) error {
	return r.setPaused(ctx, name, false)
}

func (r *Registry) setPaused(ctx context.Context, name string, paused bool) error {
	sess, err := r.store.Get(ctx, name)
	if err != nil {
		return err
	}
	sess.Paused = paused
	return r.store.Update(ctx, sess)
}

// Validate runs the workspace integrity validator against name's session.
func (r *Registry) Validate(ctx context.Context, name string) (integrity.ValidationResult, error) {
	sess, err := r.store.Get(ctx, name)
	if err != nil {
		return integrity.ValidationResult{}, err
	}
	return r.validator.Validate(ctx, name, sess.WorkspacePath)
}

// Repair runs the repair executor's strategy against name's session.
func (r *Registry) Repair(ctx context.Context, name string, strategy integrity.RepairStrategy, alwaysBackup bool) (integrity.RepairResult, error) {
	sess, err := r.store.Get(ctx, name)
	if err != nil {
		return integrity.RepairResult{}, err
	}
	vr, err := r.validator.Validate(ctx, name, sess.WorkspacePath)
	if err != nil {
		return integrity.RepairResult{}, err
	}
	return r.repairer.Execute(ctx, name, sess.WorkspacePath, vr, strategy, integrity.RepairOptions{
		AlwaysBackup: alwaysBackup,
		RepoRoot:     r.repoRoot,
	})
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("session: name must not be empty")
	}
	for _, r := range name {
		if r == '/' || r == '\\' || r == 0 {
			return fmt.Errorf("session: name %q contains an illegal character", name)
		}
	}
	return nil
}
