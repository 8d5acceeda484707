package sidecar

import (
	"os/exec"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/alproj/sidecar-host/internal/infrastructure/config"
	"github.com/alproj/sidecar-host/internal/process"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

// testBackendConfig returns the built-in backend defaults.
func testBackendConfig(t *testing.T) config.BackendConfig {
	t.Helper()
	cfg, err := config.LoadDefaults()
	if err != nil {
		t.Fatalf("LoadDefaults() error = %v", err)
	}
	return cfg.Backend
}

// startShell runs script under /bin/sh and kills it at test end.
func startShell(t *testing.T, script string) process.Handle {
	t.Helper()
	requireUnix(t)
	h, err := process.StartChild(exec.Command("/bin/sh", "-c", script))
	if err != nil {
		t.Fatalf("StartChild() error = %v", err)
	}
	t.Cleanup(func() { h.Kill() }) //nolint:errcheck // test cleanup
	return h
}

// waitExited polls until h reports an exit.
func waitExited(t *testing.T, h process.Handle) process.ExitStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, exited, err := h.TryWait()
		if err != nil {
			t.Fatalf("TryWait() error = %v", err)
		}
		if exited {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("pid %d did not exit", h.PID())
	return process.ExitStatus{}
}

// recordingEmitter records every emitted event.
type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

type emitted struct {
	name    string
	payload any
}

func (r *recordingEmitter) Emit(event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{event, payload})
	return nil
}

func (r *recordingEmitter) snapshot() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitted(nil), r.events...)
}

func (r *recordingEmitter) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.name)
	}
	return out
}
