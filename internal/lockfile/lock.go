package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrLocked is returned when a lock cannot be acquired because it is held by another process.
var ErrLocked = errDaemonLocked

// ErrLockBusy is returned when a non-blocking lock cannot be acquired
// because another process holds a conflicting lock.
var ErrLockBusy = errors.New("lock busy: held by another process")

// IsLocked returns true if the error indicates a lock is held by another process.
func IsLocked(err error) bool {
	return err == errDaemonLocked
}

// LockInfo is the metadata recorded in a directory's daemon.lock file.
type LockInfo struct {
	PID       int       `json:"pid"`
	ParentPID int       `json:"parent_pid,omitempty"`
	Database  string    `json:"database,omitempty"`
	Version   string    `json:"version,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// ReadLockInfo reads dir/daemon.lock, accepting both the JSON format this
// package writes and the older plain-PID format.
func ReadLockInfo(dir string) (*LockInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, "daemon.lock"))
	if err != nil {
		return nil, err
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err == nil && info.PID != 0 {
		return &info, nil
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("unrecognized lock file format: %w", err)
	}
	return &LockInfo{PID: pid}, nil
}

// checkPIDFile reports whether dir/daemon.pid names a currently running process.
func checkPIDFile(dir string) (running bool, pid int) {
	data, err := os.ReadFile(filepath.Join(dir, "daemon.pid"))
	if err != nil {
		return false, 0
	}
	p, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || !isProcessRunning(p) {
		return false, 0
	}
	return true, p
}

// TryDaemonLock reports whether a single-instance lock in dir is currently
// held by a live process. It probes by briefly taking and then releasing the
// file lock, and leaves no lock held when it returns. Used to decide whether a command that must run alone (init's store
// migration, a daemon's startup) should refuse to proceed.
func TryDaemonLock(dir string) (running bool, pid int) {
	f, err := os.OpenFile(filepath.Join(dir, "daemon.lock"), os.O_RDWR, 0o600)
	if err != nil {
		return checkPIDFile(dir)
	}
	defer f.Close()

	if lockErr := flockExclusive(f); lockErr == nil {
		_ = FlockUnlock(f)
		return checkPIDFile(dir)
	}

	info, err := ReadLockInfo(dir)
	if err != nil || info.PID == 0 {
		return checkPIDFile(dir)
	}
	return true, info.PID
}

// AcquireDaemonLock takes the exclusive lock in dir and writes its metadata,
// returning a Closer that releases it. Returns ErrLocked if another live
// process already holds it.
func AcquireDaemonLock(dir, database, version string) (*os.File, error) {
	lockPath := filepath.Join(dir, "daemon.lock")
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := flockExclusive(f); err != nil {
		_ = f.Close()
		return nil, err
	}

	info := LockInfo{
		PID:       os.Getpid(),
		ParentPID: os.Getppid(),
		Database:  database,
		Version:   version,
		StartedAt: time.Now().UTC(),
	}
	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	_ = enc.Encode(info)
	_ = f.Sync()

	pidFile := filepath.Join(dir, "daemon.pid")
	_ = os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0o600)

	return f, nil
}

// ReleaseDaemonLock unlocks and closes a lock file acquired with AcquireDaemonLock.
func ReleaseDaemonLock(f *os.File) error {
	if f == nil {
		return nil
	}
	_ = FlockUnlock(f)
	return f.Close()
}
