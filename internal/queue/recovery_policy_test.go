package queue_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lprior-repo/zjj/internal/queue"
	"github.com/lprior-repo/zjj/internal/storage/sqlite"
)

func TestParseRecoveryPolicy(t *testing.T) {
	cases := map[string]queue.RecoveryPolicy{
		"":          queue.RecoveryWarn,
		"warn":      queue.RecoveryWarn,
		"silent":    queue.RecoverySilent,
		"fail_fast": queue.RecoveryFailFast,
	}
	for input, want := range cases {
		got, err := queue.ParseRecoveryPolicy(input)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := queue.ParseRecoveryPolicy("bogus")
	require.Error(t, err)
}

// sweepFailingStore wraps a real Store but forces DetectAndRecoverStale to
// fail, so ClaimNext's policy-gated handling can be exercised without
// fabricating real WAL corruption.
type sweepFailingStore struct {
	queue.Store
}

func (s *sweepFailingStore) DetectAndRecoverStale(ctx context.Context) (queue.RecoveryStats, error) {
	return queue.RecoveryStats{}, errors.New("sweep boom")
}

func newSweepFailingEngine(t *testing.T) *queue.Engine {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return queue.NewEngine(&sweepFailingStore{Store: store}, nil)
}

func TestClaimNextWarnPolicyProceedsDespiteSweepFailure(t *testing.T) {
	ctx := context.Background()
	e := newSweepFailingEngine(t)
	e.SetRecoveryPolicy(queue.RecoveryWarn)

	_, err := e.Add(ctx, "ws-1", "bead-1", 0, "")
	require.NoError(t, err)

	claimed, err := e.ClaimNext(ctx, "agent-a")
	require.NoError(t, err)
	require.NotNil(t, claimed)
}

func TestClaimNextSilentPolicyProceedsDespiteSweepFailure(t *testing.T) {
	ctx := context.Background()
	e := newSweepFailingEngine(t)
	e.SetRecoveryPolicy(queue.RecoverySilent)

	_, err := e.Add(ctx, "ws-1", "bead-1", 0, "")
	require.NoError(t, err)

	claimed, err := e.ClaimNext(ctx, "agent-a")
	require.NoError(t, err)
	require.NotNil(t, claimed)
}

func TestClaimNextFailFastPolicySurfacesSweepFailure(t *testing.T) {
	ctx := context.Background()
	e := newSweepFailingEngine(t)
	e.SetRecoveryPolicy(queue.RecoveryFailFast)

	_, err := e.Add(ctx, "ws-1", "bead-1", 0, "")
	require.NoError(t, err)

	claimed, err := e.ClaimNext(ctx, "agent-a")
	require.Error(t, err)
	require.Nil(t, claimed)
	assert.Contains(t, err.Error(), "sweep boom")
}

func TestOpenWithRecoveryPolicyDefaultIsWarn(t *testing.T) {
	// Open (without an explicit policy) must behave identically to
	// OpenWithRecoveryPolicy(path, RecoveryWarn) on a fresh database.
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.Add(context.Background(), "ws-1", "bead-1", 0, "")
	require.NoError(t, err)
}
