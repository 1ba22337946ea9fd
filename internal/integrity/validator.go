package integrity

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

// staleLockAge is how old a lock file's mtime must be before the validator
// flags it as stale (SPEC_FULL.md §4.4.1).
const staleLockAge = time.Hour

// Validator scans workspace directories for the closed set of corruption
// kinds. It holds no state: every call re-reads the filesystem.
type Validator struct{}

// NewValidator builds a Validator.
func NewValidator() *Validator { return &Validator{} }

// Validate runs the ordered checks against path, stopping early only when
// the workspace directory itself is missing (SPEC_FULL.md §4.4.1 step 1).
func (v *Validator) Validate(ctx context.Context, workspace, path string) (ValidationResult, error) {
	start := time.Now()
	result := ValidationResult{Workspace: workspace, Path: path}

	info, err := os.Stat(path)
	if err != nil {
		result.Issues = append(result.Issues, Issue{
			Kind:        MissingDirectory,
			Description: "workspace directory does not exist",
			Path:        path,
			Strategy:    RecommendedStrategy(MissingDirectory),
		})
		result.Duration = time.Since(start)
		return result, nil
	}
	if !info.IsDir() {
		result.Issues = append(result.Issues, Issue{
			Kind:        MissingDirectory,
			Description: "workspace path is not a directory",
			Path:        path,
			Strategy:    RecommendedStrategy(MissingDirectory),
		})
		result.Duration = time.Since(start)
		return result, nil
	}

	if !isReadable(path) {
		result.Issues = append(result.Issues, Issue{
			Kind:        PermissionDenied,
			Description: "workspace directory is not readable",
			Path:        path,
			Strategy:    RecommendedStrategy(PermissionDenied),
		})
	}

	jjDir := filepath.Join(path, ".jj")
	jjInfo, jjErr := os.Stat(jjDir)
	if jjErr != nil || !jjInfo.IsDir() {
		result.Issues = append(result.Issues, Issue{
			Kind:        MissingJjDir,
			Description: "no .jj state directory found",
			Path:        jjDir,
			Strategy:    RecommendedStrategy(MissingJjDir),
		})
	} else {
		var missingChildren []string
		for _, child := range []string{"working_copy", "repo"} {
			childPath := filepath.Join(jjDir, child)
			if _, err := os.Stat(childPath); err != nil {
				missingChildren = append(missingChildren, child)
			}
		}
		if len(missingChildren) > 0 {
			result.Issues = append(result.Issues, Issue{
				Kind:        InvalidJjState,
				Description: "jj state directory is missing required subpaths",
				Path:        jjDir,
				Strategy:    RecommendedStrategy(InvalidJjState),
				Context:     map[string]string{"missing": joinComma(missingChildren)},
			})
		}

		if lockInfo := findStaleLock(jjDir); lockInfo != nil {
			result.Issues = append(result.Issues, Issue{
				Kind:        StaleLock,
				Description: "lock file older than one hour",
				Path:        lockInfo.path,
				Strategy:    RecommendedStrategy(StaleLock),
				Context:     map[string]string{"age": time.Since(lockInfo.modTime).String()},
			})
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// ValidateAll validates a batch of workspaces, used by `integrity validate --all`.
func (v *Validator) ValidateAll(ctx context.Context, workspaces map[string]string) ([]ValidationResult, error) {
	results := make([]ValidationResult, 0, len(workspaces))
	for name, path := range workspaces {
		result, err := v.Validate(ctx, name, path)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

// QuickValidate is a cheap existence+readability-only check for hot paths
// that cannot afford the full validation cost, e.g. session list.
func QuickValidate(workspacePath string) bool {
	info, err := os.Stat(workspacePath)
	if err != nil || !info.IsDir() {
		return false
	}
	return isReadable(workspacePath)
}

func isReadable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()
	_, err = f.Readdirnames(1)
	return err == nil || err.Error() == "EOF"
}

type lockFileInfo struct {
	path    string
	modTime time.Time
}

// findStaleLock scans jjDir for a lock file (by conventional name) older
// than staleLockAge. Only the top-level directory is scanned: jj's own lock
// files live directly under the state directory, not nested.
func findStaleLock(jjDir string) *lockFileInfo {
	entries, err := os.ReadDir(jjDir)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name != "working_copy.lock" && name != ".lock" && name != "lock" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) > staleLockAge {
			return &lockFileInfo{path: filepath.Join(jjDir, name), modTime: info.ModTime()}
		}
	}
	return nil
}

func joinComma(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ","
		}
		out += item
	}
	return out
}
