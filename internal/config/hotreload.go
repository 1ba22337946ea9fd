package config

import (
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadWatcher wraps an fsnotify.Watcher and coalesces bursts of events
// into a single reload after watchDebounce of quiet.
type reloadWatcher struct {
	fsw  *fsnotify.Watcher
	done chan struct{}
}

// WatchProjectFile starts hot-reloading p's project config file: on any
// write or rename event, after a debounce window, the file is re-merged and
// the snapshot swapped atomically. Callers must call StopWatching to
// release the underlying inotify/kqueue handle.
func (p *Provider) WatchProjectFile(log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	if p.projPath == "" {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(p.projPath); err != nil {
		_ = fsw.Close()
		return err
	}

	rw := &reloadWatcher{fsw: fsw, done: make(chan struct{})}
	p.watcher = rw

	go p.watchLoop(rw, log)
	return nil
}

func (p *Provider) watchLoop(rw *reloadWatcher, log *slog.Logger) {
	var timer *time.Timer
	reload := func() {
		layer := viperTOML()
		if err := mergeFile(layer, p.projPath); err != nil {
			log.Warn("config hot-reload failed, keeping previous snapshot", "path", p.projPath, "error", err)
			return
		}
		if err := p.v.MergeConfigMap(layer.AllSettings()); err != nil {
			log.Warn("config hot-reload merge failed", "path", p.projPath, "error", err)
			return
		}
		if err := p.refresh(); err != nil {
			log.Warn("config hot-reload refresh failed", "path", p.projPath, "error", err)
			return
		}
		log.Info("config reloaded", "path", p.projPath)
	}

	for {
		select {
		case <-rw.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-rw.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, reload)
		case err, ok := <-rw.fsw.Errors:
			if !ok {
				return
			}
			log.Warn("config watcher error", "error", err)
		}
	}
}

// StopWatching halts the hot-reload watcher started by WatchProjectFile. A
// no-op if watching was never started.
func (p *Provider) StopWatching() error {
	if p.watcher == nil {
		return nil
	}
	close(p.watcher.done)
	err := p.watcher.fsw.Close()
	p.watcher = nil
	return err
}
