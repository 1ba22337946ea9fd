package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lprior-repo/zjj/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	p, err := config.Load("", "", nil)
	require.NoError(t, err)

	snap := p.Snapshot()
	assert.Equal(t, "main", snap.MainBranch)
	assert.Equal(t, 150, snap.WatchDebounceMS)
	assert.Equal(t, 300, snap.LockTimeout)
	assert.Equal(t, "warn", snap.RecoveryPolicy)
}

func TestLoadProjectOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeTOML(t, dir, "config.toml", `
main-branch = "trunk"
watch-debounce-ms = 500
`)

	p, err := config.Load("", path, nil)
	require.NoError(t, err)

	snap := p.Snapshot()
	assert.Equal(t, "trunk", snap.MainBranch)
	assert.Equal(t, 500, snap.WatchDebounceMS)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := writeTOML(t, dir, "config.toml", `not-a-real-key = "oops"`)

	_, err := config.Load("", path, nil)
	require.Error(t, err)

	var unknown *config.UnknownKeysError
	require.ErrorAs(t, err, &unknown)
	assert.Contains(t, unknown.Keys, "not-a-real-key")
}

func TestLoadRejectsOversizedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	big := make([]byte, 1<<20+1)
	for i := range big {
		big[i] = ' '
	}
	require.NoError(t, os.WriteFile(path, big, 0o644))

	_, err := config.Load("", path, nil)
	require.Error(t, err)
}

func TestLoadRejectsSymlink(t *testing.T) {
	dir := t.TempDir()
	real := writeTOML(t, dir, "real.toml", `main-branch = "trunk"`)
	link := filepath.Join(dir, "config.toml")
	require.NoError(t, os.Symlink(real, link))

	_, err := config.Load("", link, nil)
	require.Error(t, err)
}

func TestFlagsOverrideEverything(t *testing.T) {
	dir := t.TempDir()
	path := writeTOML(t, dir, "config.toml", `main-branch = "trunk"`)

	p, err := config.Load("", path, map[string]any{"main-branch": "from-flag"})
	require.NoError(t, err)

	assert.Equal(t, "from-flag", p.Snapshot().MainBranch)
}

func TestIsBootstrapOnlyKey(t *testing.T) {
	assert.True(t, config.IsBootstrapOnlyKey("no-db"))
	assert.True(t, config.IsBootstrapOnlyKey("actor"))
	assert.True(t, config.IsBootstrapOnlyKey("git.author"))
	assert.True(t, config.IsBootstrapOnlyKey("sync.branch"))
	assert.True(t, config.IsBootstrapOnlyKey("routing.mode"))
	assert.False(t, config.IsBootstrapOnlyKey("main-branch"))
	assert.False(t, config.IsBootstrapOnlyKey("watch-enabled"))
}

func TestLoadBootstrapDefaultsOnMissingFile(t *testing.T) {
	b := config.LoadBootstrap(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Equal(t, ".zjj/state.db", b.DB)
	assert.Equal(t, 300, b.LockTimeout)
}

func TestLoadBootstrapReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := writeTOML(t, dir, "config.toml", `
no-db = true
actor = "agent-1"
lock-timeout = 60
`)

	b := config.LoadBootstrap(path)
	assert.True(t, b.NoDB)
	assert.Equal(t, "agent-1", b.Actor)
	assert.Equal(t, 60, b.LockTimeout)
}

func TestResolveWorkspaceDir(t *testing.T) {
	got := config.ResolveWorkspaceDir("/home/dev/{repo}/.zjj/workspaces", "myrepo")
	assert.Equal(t, "/home/dev/myrepo/.zjj/workspaces", got)
}
