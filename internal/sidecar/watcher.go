package sidecar

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultCoalesce is how often buffered write notifications are flushed.
const defaultCoalesce = 250 * time.Millisecond

// LogWatcher emits EventLogUpdated with the new cursor whenever the backend
// log grows. Bursts of writes are coalesced into one event per interval.
type LogWatcher struct {
	path     string
	cursor   func(path string) (int64, error)
	emitter  Emitter
	interval time.Duration
	logger   Logger
}

// NewLogWatcher creates a watcher for the log file at path.
func NewLogWatcher(path string, store *LogStore, emitter Emitter) *LogWatcher {
	return &LogWatcher{
		path:     path,
		cursor:   store.Cursor,
		emitter:  emitter,
		interval: defaultCoalesce,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the watcher.
func (w *LogWatcher) SetLogger(logger Logger) {
	w.logger = logger
}

// Run watches until ctx is cancelled. The log directory is watched rather
// than the file so a file created after Run starts is still seen.
func (w *LogWatcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating log watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	w.logger.Debug("watching backend log", "path", w.path)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var (
		dirty bool
		last  int64 = -1
	)
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) == filepath.Clean(w.path) && (ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				dirty = true
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("log watcher error", "error", err)

		case <-ticker.C:
			if !dirty {
				continue
			}
			dirty = false
			last = w.flush(last)
		}
	}
}

// flush emits the cursor if it moved since the last emission.
func (w *LogWatcher) flush(last int64) int64 {
	n, err := w.cursor(w.path)
	if err != nil {
		w.logger.Warn("reading log cursor failed", "error", err)
		return last
	}
	if n == last {
		return last
	}
	if err := w.emitter.Emit(EventLogUpdated, map[string]int64{"cursor": n}); err != nil {
		w.logger.Warn("emitting log update failed", "error", err)
	}
	return n
}
