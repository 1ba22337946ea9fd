package integrity_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lprior-repo/zjj/internal/integrity"
)

func TestValidateMissingDirectory(t *testing.T) {
	v := integrity.NewValidator()
	result, err := v.Validate(context.Background(), "ws-1", filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, integrity.MissingDirectory, result.Issues[0].Kind)
}

func TestValidateMissingJjDir(t *testing.T) {
	dir := t.TempDir()
	v := integrity.NewValidator()
	result, err := v.Validate(context.Background(), "ws-1", dir)
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, integrity.MissingJjDir, result.Issues[0].Kind)
}

func TestValidateCleanWorkspace(t *testing.T) {
	dir := t.TempDir()
	jjDir := filepath.Join(dir, ".jj")
	require.NoError(t, os.MkdirAll(filepath.Join(jjDir, "working_copy"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(jjDir, "repo"), 0o755))

	v := integrity.NewValidator()
	result, err := v.Validate(context.Background(), "ws-1", dir)
	require.NoError(t, err)
	assert.True(t, result.IsValid())
}

func TestValidateInvalidJjStateMissingChildren(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".jj"), 0o755))

	v := integrity.NewValidator()
	result, err := v.Validate(context.Background(), "ws-1", dir)
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, integrity.InvalidJjState, result.Issues[0].Kind)
	assert.Contains(t, result.Issues[0].Context["missing"], "working_copy")
	assert.Contains(t, result.Issues[0].Context["missing"], "repo")
}

func TestValidateStaleLockDetected(t *testing.T) {
	dir := t.TempDir()
	jjDir := filepath.Join(dir, ".jj")
	require.NoError(t, os.MkdirAll(filepath.Join(jjDir, "working_copy"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(jjDir, "repo"), 0o755))

	lockPath := filepath.Join(jjDir, "working_copy.lock")
	require.NoError(t, os.WriteFile(lockPath, []byte("x"), 0o644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(lockPath, old, old))

	v := integrity.NewValidator()
	result, err := v.Validate(context.Background(), "ws-1", dir)
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, integrity.StaleLock, result.Issues[0].Kind)
}

func TestValidateFreshLockNotFlagged(t *testing.T) {
	dir := t.TempDir()
	jjDir := filepath.Join(dir, ".jj")
	require.NoError(t, os.MkdirAll(filepath.Join(jjDir, "working_copy"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(jjDir, "repo"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(jjDir, "working_copy.lock"), []byte("x"), 0o644))

	v := integrity.NewValidator()
	result, err := v.Validate(context.Background(), "ws-1", dir)
	require.NoError(t, err)
	assert.True(t, result.IsValid())
}

func TestQuickValidate(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, integrity.QuickValidate(dir))
	assert.False(t, integrity.QuickValidate(filepath.Join(dir, "missing")))
}

func TestValidateAllRunsEveryWorkspace(t *testing.T) {
	dirGood := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dirGood, ".jj", "working_copy"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dirGood, ".jj", "repo"), 0o755))
	dirBad := filepath.Join(t.TempDir(), "missing")

	v := integrity.NewValidator()
	results, err := v.ValidateAll(context.Background(), map[string]string{
		"good": dirGood,
		"bad":  dirBad,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	byWorkspace := map[string]integrity.ValidationResult{}
	for _, r := range results {
		byWorkspace[r.Workspace] = r
	}
	assert.True(t, byWorkspace["good"].IsValid())
	assert.False(t, byWorkspace["bad"].IsValid())
}
