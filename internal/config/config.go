// Package config implements the layered configuration provider (C8):
// compiled-in defaults, a global TOML file, a project TOML file,
// environment variables, and command-line flags, merged by
// github.com/spf13/viper with github.com/BurntSushi/toml as its codec, and
// hot-reloaded via github.com/fsnotify/fsnotify.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// maxConfigFileSize is the hard limit on a config file's size before load
// refuses it outright (SPEC_FULL.md §6.4).
const maxConfigFileSize = 1 << 20 // 1 MiB

// Config is the provider's fully-resolved settings snapshot, covering both
// the environment variables of §6.5 and the bootstrap-only keys of §4.6.
type Config struct {
	WorkspaceDir       string `mapstructure:"workspace-dir"`
	MainBranch         string `mapstructure:"main-branch"`
	DefaultTemplate    string `mapstructure:"default-template"`
	WatchEnabled       bool   `mapstructure:"watch-enabled"`
	WatchDebounceMS    int    `mapstructure:"watch-debounce-ms"`
	ZellijUseTabs      bool   `mapstructure:"zellij-use-tabs"`
	DashboardRefreshMS int    `mapstructure:"dashboard-refresh-ms"`
	DashboardVimKeys   bool   `mapstructure:"dashboard-vim-keys"`
	AgentCommand       string `mapstructure:"agent-command"`
	RecoveryPolicy     string `mapstructure:"recovery-policy"`
	RecoveryLog        string `mapstructure:"recovery-log"`
	AgentID            string `mapstructure:"agent-id"`
	LogLevel           string `mapstructure:"log-level"`

	// Bootstrap-only keys (§4.6): read before the store opens, never
	// round-tripped through it.
	NoDB        bool   `mapstructure:"no-db"`
	NoDaemon    bool   `mapstructure:"no-daemon"`
	DB          string `mapstructure:"db"`
	Actor       string `mapstructure:"actor"`
	LockTimeout int    `mapstructure:"lock-timeout"`
}

// defaults are the compiled-in values, the lowest-precedence layer.
var defaults = map[string]any{
	"workspace-dir":        "{repo}/.zjj/workspaces",
	"main-branch":          "main",
	"default-template":     "",
	"watch-enabled":        true,
	"watch-debounce-ms":    150,
	"zellij-use-tabs":      true,
	"dashboard-refresh-ms": 1000,
	"dashboard-vim-keys":   false,
	"agent-command":        "",
	"recovery-policy":      "warn",
	"recovery-log":         "",
	"agent-id":             "",
	"log-level":            "info",
	"no-db":                false,
	"no-daemon":            false,
	"db":                   ".zjj/state.db",
	"actor":                "",
	"lock-timeout":         300,
}

// validKeys is the closed set config files may set; loading a file with any
// other top-level or dotted key fails per §6.4.
var validKeys = buildValidKeys()

func buildValidKeys() map[string]bool {
	keys := map[string]bool{}
	for k := range defaults {
		keys[k] = true
	}
	for _, k := range []string{
		"git.author", "git.no-gpg-sign",
		"sync.branch", "sync.interval",
		"routing.mode", "routing.default",
	} {
		keys[k] = true
	}
	return keys
}

// Provider owns the merged configuration and, optionally, a hot-reload
// watcher over the project config file. Readers call Snapshot and
// never observe a torn config because the snapshot is swapped atomically
// under mu.
type Provider struct {
	mu       sync.RWMutex
	v        *viper.Viper
	cfg      Config
	projPath string
	watcher  *reloadWatcher
}

// Load builds a Provider from the layered sources: compiled-in defaults,
// globalPath (if it exists), projectPath (if it exists), then ZJJ_*
// environment variables. flags, if non-nil, is merged last as the
// highest-precedence layer, merged here from the plain map; Load builds its
// own viper instance, so nothing is bound through viper.BindPFlag.
func Load(globalPath, projectPath string, flags map[string]any) (*Provider, error) {
	v := viper.New()
	v.SetConfigType("toml")

	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	if globalPath != "" {
		if err := mergeFile(v, globalPath); err != nil {
			return nil, err
		}
	}
	if projectPath != "" {
		if err := mergeFile(v, projectPath); err != nil {
			return nil, err
		}
	}

	v.SetEnvPrefix("ZJJ")
	v.AutomaticEnv()
	bindEnvAliases(v)

	for key, val := range flags {
		v.Set(key, val)
	}

	p := &Provider{v: v, projPath: projectPath}
	if err := p.refresh(); err != nil {
		return nil, err
	}
	return p, nil
}

// bindEnvAliases wires each ZJJ_* environment variable of §6.5 to its
// corresponding dotted/hyphenated config key, since viper's AutomaticEnv
// alone only matches keys whose upper-snake-case form is identical.
func bindEnvAliases(v *viper.Viper) {
	aliases := map[string]string{
		"workspace-dir":        "ZJJ_WORKSPACE_DIR",
		"main-branch":          "ZJJ_MAIN_BRANCH",
		"default-template":     "ZJJ_DEFAULT_TEMPLATE",
		"watch-enabled":        "ZJJ_WATCH_ENABLED",
		"watch-debounce-ms":    "ZJJ_WATCH_DEBOUNCE_MS",
		"zellij-use-tabs":      "ZJJ_ZELLIJ_USE_TABS",
		"dashboard-refresh-ms": "ZJJ_DASHBOARD_REFRESH_MS",
		"dashboard-vim-keys":   "ZJJ_DASHBOARD_VIM_KEYS",
		"agent-command":        "ZJJ_AGENT_COMMAND",
		"recovery-policy":      "ZJJ_RECOVERY_POLICY",
		"recovery-log":         "ZJJ_RECOVERY_LOG",
		"agent-id":             "ZJJ_AGENT_ID",
		"log-level":            "ZJJ_LOG_LEVEL",
	}
	for key, env := range aliases {
		_ = v.BindEnv(key, env)
	}
}

func viperTOML() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	return v
}

// mergeFile validates path (size limit, no symlink), then merges it into v.
// A missing file is not an error: callers only pass paths they've already
// confirmed exist, except at the top of Load where an absent optional layer
// is simply skipped by the caller.
func mergeFile(v *viper.Viper, path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("config: %s is a symlink, refusing to load", path)
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config: %s exceeds the %d byte limit", path, maxConfigFileSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	layer := viper.New()
	layer.SetConfigType("toml")
	if err := layer.ReadConfig(f); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	if unknown := unknownKeys(layer.AllSettings(), ""); len(unknown) > 0 {
		return &UnknownKeysError{Path: path, Keys: unknown, Valid: sortedValidKeys()}
	}

	return v.MergeConfigMap(layer.AllSettings())
}

func unknownKeys(settings map[string]any, prefix string) []string {
	var out []string
	for key, val := range settings {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			out = append(out, unknownKeys(nested, full)...)
			continue
		}
		if !validKeys[full] {
			out = append(out, full)
		}
	}
	return out
}

func sortedValidKeys() []string {
	keys := make([]string, 0, len(validKeys))
	for k := range validKeys {
		keys = append(keys, k)
	}
	return keys
}

// UnknownKeysError reports that a config file set a key outside the closed
// valid set (SPEC_FULL.md §6.4).
type UnknownKeysError struct {
	Path  string
	Keys  []string
	Valid []string
}

func (e *UnknownKeysError) Error() string {
	return fmt.Sprintf("config: %s sets unknown key(s) %v", e.Path, e.Keys)
}

func (p *Provider) refresh() error {
	var cfg Config
	if err := p.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("config: unmarshal: %w", err)
	}
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
	return nil
}

// Snapshot returns the current resolved configuration. Safe to call
// concurrently with a hot-reload swap.
func (p *Provider) Snapshot() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// IsBootstrapOnlyKey reports whether key is read directly from the project
// file before the store opens and never round-trips through it, mirroring
// the teacher's IsYamlOnlyKey prefix-matching logic (SPEC_FULL.md §4.6).
func IsBootstrapOnlyKey(key string) bool {
	switch key {
	case "no-db", "no-daemon", "db", "actor", "lock-timeout":
		return true
	}
	for _, prefix := range []string{"git.", "sync.", "routing."} {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// ResolveWorkspaceDir substitutes the {repo} placeholder in the configured
// workspace-dir template with repoName (SPEC_FULL.md §6.4).
func ResolveWorkspaceDir(template, repoName string) string {
	resolved := template
	for {
		idx := indexOf(resolved, "{repo}")
		if idx < 0 {
			break
		}
		resolved = resolved[:idx] + repoName + resolved[idx+len("{repo}"):]
	}
	return filepath.Clean(resolved)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// DefaultGlobalPath returns <user-config>/zjj/config.toml.
func DefaultGlobalPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "zjj", "config.toml"), nil
}

// DefaultProjectPath returns .zjj/config.toml under root.
func DefaultProjectPath(root string) string {
	return filepath.Join(root, ".zjj", "config.toml")
}

// watchDebounce is how long the hot-reload watcher waits after the last
// filesystem event before reloading, coalescing rapid successive writes
// (SPEC_FULL.md §4.6).
const watchDebounce = 150 * time.Millisecond
