package config

import "os"

// Bootstrap is the small subset of settings read directly from the project
// config file before the store opens (SPEC_FULL.md §4.6): they affect how
// the process starts and never round-trip through the store.
type Bootstrap struct {
	NoDB        bool
	NoDaemon    bool
	DB          string
	Actor       string
	LockTimeout int
}

// LoadBootstrap reads projectPath's bootstrap-only keys without going
// through the full layered Provider, so callers can decide whether to open
// a store at all before the rest of configuration is resolved. A missing or
// unreadable file yields the compiled-in bootstrap defaults, not an error.
func LoadBootstrap(projectPath string) Bootstrap {
	b := Bootstrap{
		NoDB:        defaults["no-db"].(bool),
		NoDaemon:    defaults["no-daemon"].(bool),
		DB:          defaults["db"].(string),
		Actor:       defaults["actor"].(string),
		LockTimeout: defaults["lock-timeout"].(int),
	}

	if _, err := os.Stat(projectPath); err != nil {
		return b
	}

	v := viperTOML()
	if err := mergeFile(v, projectPath); err != nil {
		return b
	}

	if v.IsSet("no-db") {
		b.NoDB = v.GetBool("no-db")
	}
	if v.IsSet("no-daemon") {
		b.NoDaemon = v.GetBool("no-daemon")
	}
	if v.IsSet("db") {
		b.DB = v.GetString("db")
	}
	if v.IsSet("actor") {
		b.Actor = v.GetString("actor")
	}
	if v.IsSet("lock-timeout") {
		b.LockTimeout = v.GetInt("lock-timeout")
	}

	return b
}
