package integrity_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lprior-repo/zjj/internal/integrity"
)

func TestRepairClearStaleLock(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "working_copy.lock")
	require.NoError(t, os.WriteFile(lockPath, []byte("x"), 0o644))

	vr := integrity.ValidationResult{
		Workspace: "ws-1",
		Path:      dir,
		Issues: []integrity.Issue{
			{Kind: integrity.StaleLock, Path: lockPath, Strategy: integrity.ClearStaleLock},
		},
	}

	repairer := integrity.NewRepairer(integrity.NewBackupManager(t.TempDir()))
	result, err := repairer.Execute(context.Background(), "ws-1", dir, vr, integrity.ClearStaleLock, integrity.RepairOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, result.IssuesAddressed, 1)
	assert.Empty(t, result.RemainingIssues)
	_, statErr := os.Stat(lockPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRepairNoRepairPossibleLeavesIssuesUnaddressed(t *testing.T) {
	dir := t.TempDir()
	vr := integrity.ValidationResult{
		Workspace: "ws-1",
		Path:      dir,
		Issues: []integrity.Issue{
			{Kind: integrity.PermissionDenied, Strategy: integrity.NoRepairPossible},
		},
	}

	repairer := integrity.NewRepairer(integrity.NewBackupManager(t.TempDir()))
	result, err := repairer.Execute(context.Background(), "ws-1", dir, vr, integrity.NoRepairPossible, integrity.RepairOptions{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, vr.Issues, result.RemainingIssues)
}

func TestRepairAlwaysBackupTakesSnapshotForLossyStrategy(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("data"), 0o644))

	vr := integrity.ValidationResult{
		Workspace: "ws-1",
		Path:      dir,
		Issues: []integrity.Issue{
			{Kind: integrity.PermissionDenied, Strategy: integrity.NoRepairPossible},
		},
	}

	repairer := integrity.NewRepairer(integrity.NewBackupManager(t.TempDir()))
	result, err := repairer.Execute(context.Background(), "ws-1", dir, vr, integrity.ForgetAndRecreate,
		integrity.RepairOptions{AlwaysBackup: true})
	require.NoError(t, err)
	require.NotNil(t, result.Backup)
	assert.Equal(t, "ws-1", result.Backup.Workspace)
}

func TestRepairAlwaysBackupSkippedForNonLossyStrategy(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "working_copy.lock")
	require.NoError(t, os.WriteFile(lockPath, []byte("x"), 0o644))

	vr := integrity.ValidationResult{
		Issues: []integrity.Issue{{Kind: integrity.StaleLock, Path: lockPath, Strategy: integrity.ClearStaleLock}},
	}

	repairer := integrity.NewRepairer(integrity.NewBackupManager(t.TempDir()))
	result, err := repairer.Execute(context.Background(), "ws-1", dir, vr, integrity.ClearStaleLock,
		integrity.RepairOptions{AlwaysBackup: true})
	require.NoError(t, err)
	assert.Nil(t, result.Backup)
}
