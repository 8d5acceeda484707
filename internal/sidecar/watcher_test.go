package sidecar

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLogWatcher_EmitsCursor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend-sidecar.log")
	rec := &recordingEmitter{}

	w := NewLogWatcher(path, NewLogStore(80, 4000), rec)
	w.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register before the file appears.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("started\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	var last map[string]int64
	for time.Now().Before(deadline) {
		for _, e := range rec.snapshot() {
			if e.name == EventLogUpdated {
				last, _ = e.payload.(map[string]int64)
			}
		}
		if last["cursor"] == 8 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if last["cursor"] != 8 {
		t.Errorf("last cursor = %v, want 8", last)
	}
}

func TestLogWatcher_MissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent", "b.log")
	w := NewLogWatcher(path, NewLogStore(80, 4000), &recordingEmitter{})

	if err := w.Run(context.Background()); err == nil {
		t.Error("Run() error = nil, want watch failure for missing directory")
	}
}

func TestLogWatcher_FlushSkipsUnchanged(t *testing.T) {
	path := writeLog(t, "abc")
	rec := &recordingEmitter{}
	w := NewLogWatcher(path, NewLogStore(80, 4000), rec)

	last := w.flush(-1)
	last = w.flush(last)

	if last != 3 {
		t.Errorf("flush() = %d, want 3", last)
	}
	if n := len(rec.snapshot()); n != 1 {
		t.Errorf("emitted %d events, want 1", n)
	}
}
