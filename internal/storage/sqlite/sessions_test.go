package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lprior-repo/zjj/internal/session"
	"github.com/lprior-repo/zjj/internal/storage/sqlite"
)

func newSessionStore(t *testing.T) session.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return sqlite.NewSessionStore(store)
}

func TestSessionStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := newSessionStore(t)

	sess := session.Session{Name: "ws-1", WorkspacePath: "/tmp/ws-1", BeadID: "bead-1", Metadata: map[string]string{"k": "v"}}
	require.NoError(t, store.Create(ctx, sess))

	got, err := store.Get(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, "ws-1", got.Name)
	assert.Equal(t, "/tmp/ws-1", got.WorkspacePath)
	assert.Equal(t, "bead-1", got.BeadID)
	assert.Equal(t, "v", got.Metadata["k"])
}

func TestSessionStoreCreateDuplicateFails(t *testing.T) {
	ctx := context.Background()
	store := newSessionStore(t)

	sess := session.Session{Name: "ws-1", WorkspacePath: "/tmp/ws-1"}
	require.NoError(t, store.Create(ctx, sess))

	err := store.Create(ctx, sess)
	require.ErrorIs(t, err, session.ErrAlreadyExists)
}

func TestSessionStoreGetMissing(t *testing.T) {
	store := newSessionStore(t)
	_, err := store.Get(context.Background(), "nonexistent")
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestSessionStoreUpdate(t *testing.T) {
	ctx := context.Background()
	store := newSessionStore(t)

	sess := session.Session{Name: "ws-1", WorkspacePath: "/tmp/ws-1"}
	require.NoError(t, store.Create(ctx, sess))

	sess.Paused = true
	sess.AgentID = "agent-a"
	require.NoError(t, store.Update(ctx, sess))

	got, err := store.Get(ctx, "ws-1")
	require.NoError(t, err)
	assert.True(t, got.Paused)
	assert.Equal(t, "agent-a", got.AgentID)
}

func TestSessionStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := newSessionStore(t)

	require.NoError(t, store.Create(ctx, session.Session{Name: "ws-1", WorkspacePath: "/tmp/ws-1"}))
	require.NoError(t, store.Delete(ctx, "ws-1"))

	_, err := store.Get(ctx, "ws-1")
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestSessionStoreRename(t *testing.T) {
	ctx := context.Background()
	store := newSessionStore(t)

	require.NoError(t, store.Create(ctx, session.Session{Name: "ws-old", WorkspacePath: "/tmp/ws-old"}))
	require.NoError(t, store.Rename(ctx, "ws-old", "ws-new"))

	_, err := store.Get(ctx, "ws-old")
	require.ErrorIs(t, err, session.ErrNotFound)

	got, err := store.Get(ctx, "ws-new")
	require.NoError(t, err)
	assert.Equal(t, "ws-new", got.Name)
}

func TestSessionStoreListFiltersByPaused(t *testing.T) {
	ctx := context.Background()
	store := newSessionStore(t)

	require.NoError(t, store.Create(ctx, session.Session{Name: "ws-1", WorkspacePath: "/tmp/ws-1", Paused: true}))
	require.NoError(t, store.Create(ctx, session.Session{Name: "ws-2", WorkspacePath: "/tmp/ws-2"}))

	paused := true
	results, err := store.List(ctx, session.Filter{All: true, Paused: &paused})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ws-1", results[0].Name)
}

func TestSessionStoreListFiltersByAgentID(t *testing.T) {
	ctx := context.Background()
	store := newSessionStore(t)

	require.NoError(t, store.Create(ctx, session.Session{Name: "ws-1", WorkspacePath: "/tmp/ws-1", AgentID: "agent-a"}))
	require.NoError(t, store.Create(ctx, session.Session{Name: "ws-2", WorkspacePath: "/tmp/ws-2", AgentID: "agent-b"}))

	results, err := store.List(ctx, session.Filter{All: true, AgentID: "agent-a"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ws-1", results[0].Name)
}
