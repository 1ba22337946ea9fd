package session_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lprior-repo/zjj/internal/git"
	"github.com/lprior-repo/zjj/internal/integrity"
	"github.com/lprior-repo/zjj/internal/queue"
	"github.com/lprior-repo/zjj/internal/session"
	"github.com/lprior-repo/zjj/internal/storage/sqlite"
)

// fakeJJ installs a no-op jj replacement that exits 0 for any invocation,
// so the registry's git calls succeed without a real jj repository.
func fakeJJ(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake binary harness is POSIX-shell only")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "jj")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	restore := git.SetBinaryForTest(path)
	t.Cleanup(restore)
}

func newTestRegistry(t *testing.T) (*session.Registry, string) {
	t.Helper()
	fakeJJ(t)

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	root := t.TempDir()
	engine := queue.NewEngine(store, nil)
	validator := integrity.NewValidator()
	repairer := integrity.NewRepairer(integrity.NewBackupManager(t.TempDir()))
	workspaceFor := func(name string) string { return filepath.Join(root, "workspaces", name) }

	reg := session.NewRegistry(sqlite.NewSessionStore(store), engine, validator, repairer, root, workspaceFor, nil, nil)
	return reg, root
}

func TestRegistryCreateAndList(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	resp, err := reg.Create(ctx, "ws-1", session.CreateOptions{NoOpen: true})
	require.NoError(t, err)
	assert.Equal(t, "ws-1", resp.Session.Name)
	assert.False(t, resp.Queued) // no BeadID/DedupeKey given, so Create never submits to the queue

	sessions, err := reg.List(ctx, session.Filter{All: true})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "ws-1", sessions[0].Name)
}

func TestRegistryCreateQueuesWithBeadID(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	resp, err := reg.Create(ctx, "ws-1", session.CreateOptions{BeadID: "bead-1", NoOpen: true})
	require.NoError(t, err)
	assert.True(t, resp.Queued)
	assert.Equal(t, 1, resp.TotalPending)
}

func TestRegistryCreateDuplicateNameFails(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	_, err := reg.Create(ctx, "ws-1", session.CreateOptions{NoOpen: true})
	require.NoError(t, err)

	_, err = reg.Create(ctx, "ws-1", session.CreateOptions{NoOpen: true})
	require.ErrorIs(t, err, session.ErrAlreadyExists)
}

func TestRegistryCreateRejectsIllegalName(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	_, err := reg.Create(ctx, "ws/1", session.CreateOptions{NoOpen: true})
	require.Error(t, err)
}

func TestRegistryPauseAndResume(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	_, err := reg.Create(ctx, "ws-1", session.CreateOptions{NoOpen: true})
	require.NoError(t, err)

	require.NoError(t, reg.Pause(ctx, "ws-1"))
	sessions, err := reg.List(ctx, session.Filter{All: true})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Paused)

	require.NoError(t, reg.Resume(ctx, "ws-1"))
	sessions, err = reg.List(ctx, session.Filter{All: true})
	require.NoError(t, err)
	assert.False(t, sessions[0].Paused)
}

func TestRegistryRename(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	_, err := reg.Create(ctx, "ws-old", session.CreateOptions{NoOpen: true})
	require.NoError(t, err)
	require.NoError(t, reg.Rename(ctx, "ws-old", "ws-new"))

	sessions, err := reg.List(ctx, session.Filter{All: true})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "ws-new", sessions[0].Name)
}

func TestRegistryClone(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	_, err := reg.Create(ctx, "ws-src", session.CreateOptions{BeadID: "bead-1", NoOpen: true})
	require.NoError(t, err)

	clone, err := reg.Clone(ctx, "ws-src", "ws-dst")
	require.NoError(t, err)
	assert.Equal(t, "ws-dst", clone.Name)
	assert.Equal(t, "bead-1", clone.BeadID)

	sessions, err := reg.List(ctx, session.Filter{All: true})
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestRegistryCloneRejectsExistingDestination(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	_, err := reg.Create(ctx, "ws-src", session.CreateOptions{NoOpen: true})
	require.NoError(t, err)
	_, err = reg.Create(ctx, "ws-dst", session.CreateOptions{NoOpen: true})
	require.NoError(t, err)

	_, err = reg.Clone(ctx, "ws-src", "ws-dst")
	require.ErrorIs(t, err, session.ErrAlreadyExists)
}

func TestRegistryRemoveIdempotentOnMissing(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	err := reg.Remove(ctx, "never-existed", session.RemoveOptions{Idempotent: true})
	require.NoError(t, err)
}

func TestRegistryRemoveMissingWithoutIdempotentFails(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	err := reg.Remove(ctx, "never-existed", session.RemoveOptions{})
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestRegistryRemoveDryRunLeavesSessionIntact(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	_, err := reg.Create(ctx, "ws-1", session.CreateOptions{NoOpen: true})
	require.NoError(t, err)

	require.NoError(t, reg.Remove(ctx, "ws-1", session.RemoveOptions{DryRun: true}))

	sessions, err := reg.List(ctx, session.Filter{All: true})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
}

func TestRegistryRemoveDeletesSession(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	_, err := reg.Create(ctx, "ws-1", session.CreateOptions{NoOpen: true})
	require.NoError(t, err)

	require.NoError(t, reg.Remove(ctx, "ws-1", session.RemoveOptions{}))

	sessions, err := reg.List(ctx, session.Filter{All: true})
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRegistryValidateMissingWorkspaceDirectory(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	_, err := reg.Create(ctx, "ws-1", session.CreateOptions{NoOpen: true})
	require.NoError(t, err)

	// The fake jj never actually creates the workspace directory on disk.
	vr, err := reg.Validate(ctx, "ws-1")
	require.NoError(t, err)
	assert.False(t, vr.IsValid())
}

func TestRegistryFocusNoopWithoutTabDriver(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	_, err := reg.Create(ctx, "ws-1", session.CreateOptions{NoOpen: true})
	require.NoError(t, err)

	require.NoError(t, reg.Focus(ctx, "ws-1"))
}
