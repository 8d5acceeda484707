package sidecar

import (
	"sync"
	"time"

	"github.com/alproj/sidecar-host/internal/process"
)

// Connection status values reported to the frontend.
const (
	StatusConnecting = "connecting"
	StatusConnected  = "connected"
)

// State is the supervisor's shared state. Each field group has its own lock
// so status queries never wait on a launch or a shutdown.
type State struct {
	handleMu   sync.Mutex
	handle     process.Handle
	retired    process.Handle // taken for termination; kept for exit checks only
	launchedAt time.Time

	readyMu sync.RWMutex
	ready   bool

	pathMu  sync.RWMutex
	logPath string
}

// NewState returns an empty state: no handle, not ready, no log path.
func NewState() *State {
	return &State{}
}

// SetLaunched records a started backend. The log path is published before
// the handle so anything that sees the handle also sees its log.
func (s *State) SetLaunched(h process.Handle, logPath string) {
	s.pathMu.Lock()
	s.logPath = logPath
	s.pathMu.Unlock()

	s.handleMu.Lock()
	s.handle = h
	s.retired = nil
	s.launchedAt = time.Now()
	s.handleMu.Unlock()
}

// TakeHandle moves the handle out of the state. Only the first call after
// a launch returns it, so the process cannot be killed twice.
func (s *State) TakeHandle() process.Handle {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()

	h := s.handle
	if h != nil {
		s.retired = h
		s.handle = nil
	}
	return h
}

// CheckExit polls the backend for exit without blocking. After TakeHandle
// it keeps observing the taken process so a poller notices the shutdown.
func (s *State) CheckExit() (process.ExitStatus, bool, error) {
	s.handleMu.Lock()
	h := s.handle
	if h == nil {
		h = s.retired
	}
	s.handleMu.Unlock()

	if h == nil {
		return process.ExitStatus{}, false, nil
	}
	return h.TryWait()
}

// PID returns the live backend PID, or 0.
func (s *State) PID() int {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()
	if s.handle == nil {
		return 0
	}
	return s.handle.PID()
}

// HasHandle reports whether a backend handle is held.
func (s *State) HasHandle() bool {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()
	return s.handle != nil
}

// LaunchedAt returns when the current backend was recorded, or the zero time.
func (s *State) LaunchedAt() time.Time {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()
	return s.launchedAt
}

// SetReady sets the readiness flag.
func (s *State) SetReady(ready bool) {
	s.readyMu.Lock()
	s.ready = ready
	s.readyMu.Unlock()
}

// Ready reports the readiness flag.
func (s *State) Ready() bool {
	s.readyMu.RLock()
	defer s.readyMu.RUnlock()
	return s.ready
}

// LogPath returns the backend log path, or "" before launch.
func (s *State) LogPath() string {
	s.pathMu.RLock()
	defer s.pathMu.RUnlock()
	return s.logPath
}

// Status returns "connected" once ready, else "connecting".
func (s *State) Status() string {
	if s.Ready() {
		return StatusConnected
	}
	return StatusConnecting
}
