package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lprior-repo/zjj/internal/queue"
	"github.com/lprior-repo/zjj/internal/storage/sqlite"
)

func TestOpenCreatesUsableStore(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	_, err = store.Add(context.Background(), "ws-1", "bead-1", 0, "")
	require.NoError(t, err)
}

func TestOpenWithRecoveryPolicyOnFreshDatabase(t *testing.T) {
	for _, policy := range []queue.RecoveryPolicy{queue.RecoverySilent, queue.RecoveryWarn, queue.RecoveryFailFast} {
		store, err := sqlite.OpenWithRecoveryPolicy(filepath.Join(t.TempDir(), "store.db"), policy)
		require.NoError(t, err, "policy %s should open a fresh database cleanly", policy)
		require.NoError(t, store.Close())
	}
}

func TestReclaimStaleAtStoreLevel(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	_, err = store.Add(ctx, "ws-1", "bead-1", 0, "")
	require.NoError(t, err)
	claimed, err := store.ClaimNext(ctx, "agent-a")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	stats, err := store.ReclaimStale(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, stats.EntriesReclaimed)

	entry, err := store.GetByWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	require.Equal(t, queue.Pending, entry.Status)
}
