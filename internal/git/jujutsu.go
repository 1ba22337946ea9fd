package git

import (
	"os"
	"path/filepath"
	"sync"
)

// jjRootCache memoizes the walk-up search for the enclosing jj workspace root.
// The search touches the filesystem on every call (os.Stat per directory
// level), and callers like workspace creation/validation probe it repeatedly
// within a single command invocation.
var (
	jjRootCache   string
	jjRootErr     error
	jjRootCached  bool
	jjRootCacheMu sync.Mutex
)

// ResetCaches clears memoized filesystem lookups. Tests call this after
// changing the working directory so stale results from a prior directory
// are never reused.
func ResetCaches() {
	jjRootCacheMu.Lock()
	defer jjRootCacheMu.Unlock()
	jjRootCached = false
	jjRootCache = ""
	jjRootErr = nil
}

// GetJujutsuRoot walks up from the current directory looking for a `.jj`
// directory, the marker of a jj workspace root. The walk stops as soon as it
// crosses a `.git` directory that is not colocated with a `.jj` at the same
// level: a plain git repository nested inside a jj workspace must never
// inherit the parent's jj context (see jujutsu_test.go's boundary case).
func GetJujutsuRoot() (string, error) {
	jjRootCacheMu.Lock()
	defer jjRootCacheMu.Unlock()
	if jjRootCached {
		return jjRootCache, jjRootErr
	}

	root, err := findJujutsuRoot()
	jjRootCache, jjRootErr, jjRootCached = root, err, true
	return root, err
}

func findJujutsuRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for dir := cwd; ; {
		jjDir := filepath.Join(dir, ".jj")
		if info, statErr := os.Stat(jjDir); statErr == nil && info.IsDir() {
			return dir, nil
		}

		gitDir := filepath.Join(dir, ".git")
		if info, statErr := os.Stat(gitDir); statErr == nil && info.IsDir() {
			return "", errNotJujutsuRepo
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errNotJujutsuRepo
		}
		dir = parent
	}
}

var errNotJujutsuRepo = &notJujutsuError{}

type notJujutsuError struct{}

func (*notJujutsuError) Error() string {
	return "not a jujutsu repository (no .jj directory found)"
}

// IsJujutsuRepo reports whether the current directory is inside a jj
// workspace (at or below a directory containing `.jj`).
func IsJujutsuRepo() bool {
	_, err := GetJujutsuRoot()
	return err == nil
}

// IsColocatedJJGit reports whether the jj workspace root also has git's own
// `.git` directory alongside `.jj` — jj's "colocated" mode, where the two
// backends share working-copy state and either toolchain can be driven
// directly against the same checkout.
func IsColocatedJJGit() bool {
	root, err := GetJujutsuRoot()
	if err != nil {
		return false
	}
	info, statErr := os.Stat(filepath.Join(root, ".git"))
	return statErr == nil && info.IsDir()
}
