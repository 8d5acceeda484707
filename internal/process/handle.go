package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

// ExitStatus describes how a process ended.
type ExitStatus struct {
	Code     int  `json:"code"`
	Signaled bool `json:"signaled"`
}

// String renders the status the way failure messages quote it.
func (s ExitStatus) String() string {
	if s.Signaled {
		return "terminated by signal"
	}
	return fmt.Sprintf("exit code %d", s.Code)
}

// exitStatusOf converts a finished ProcessState.
// ExitCode is -1 when the process was ended by a signal.
func exitStatusOf(ps *os.ProcessState) ExitStatus {
	if ps == nil {
		return ExitStatus{Code: -1, Signaled: true}
	}
	if code := ps.ExitCode(); code >= 0 {
		return ExitStatus{Code: code}
	}
	return ExitStatus{Code: -1, Signaled: true}
}

// Handle is a started backend process.
//
// The set of implementations is closed: ChildHandle and ManagedHandle.
type Handle interface {
	// PID returns the OS process identifier.
	PID() int

	// TryWait reports whether the process has exited without blocking.
	TryWait() (ExitStatus, bool, error)

	// Kill forcibly terminates the process. Killing an exited process is not an error.
	Kill() error

	isHandle()
}

// ChildHandle is a Handle over a plain exec.Cmd.
type ChildHandle struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	status  ExitStatus
	waitErr error
}

// StartChild starts cmd and returns its handle.
// The command gets the platform process attributes from ConfigureCommand
// unless the caller already set SysProcAttr.
func StartChild(cmd *exec.Cmd) (*ChildHandle, error) {
	if cmd.SysProcAttr == nil {
		ConfigureCommand(cmd)
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h := &ChildHandle{cmd: cmd, done: make(chan struct{})}
	go h.wait()
	return h, nil
}

// wait reaps the child so TryWait never blocks.
func (h *ChildHandle) wait() {
	err := h.cmd.Wait()

	var exitErr *exec.ExitError
	h.mu.Lock()
	h.status = exitStatusOf(h.cmd.ProcessState)
	if err != nil && !errors.As(err, &exitErr) {
		h.waitErr = err
	}
	h.mu.Unlock()

	close(h.done)
}

// PID returns the child's process ID.
func (h *ChildHandle) PID() int {
	return h.cmd.Process.Pid
}

// TryWait reports the exit status once the child has been reaped.
func (h *ChildHandle) TryWait() (ExitStatus, bool, error) {
	select {
	case <-h.done:
	default:
		return ExitStatus{}, false, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status, true, h.waitErr
}

// Done is closed once the child has been reaped.
func (h *ChildHandle) Done() <-chan struct{} {
	return h.done
}

// Kill sends the platform kill signal to the child.
func (h *ChildHandle) Kill() error {
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing pid %d: %w", h.PID(), err)
	}
	return nil
}

func (*ChildHandle) isHandle() {}

// ManagedHandle is a Handle over a Manager.
type ManagedHandle struct {
	mgr *Manager
}

// NewManagedHandle wraps a started Manager.
func NewManagedHandle(m *Manager) *ManagedHandle {
	return &ManagedHandle{mgr: m}
}

// Manager returns the underlying manager for status and stats queries.
func (h *ManagedHandle) Manager() *Manager {
	return h.mgr
}

// PID returns the managed process ID, or 0 if it never started.
func (h *ManagedHandle) PID() int {
	return h.mgr.PID()
}

// TryWait reports the managed process exit status.
func (h *ManagedHandle) TryWait() (ExitStatus, bool, error) {
	status, exited := h.mgr.Exited()
	return status, exited, nil
}

// Kill kills the managed process group without a grace period.
func (h *ManagedHandle) Kill() error {
	return h.mgr.Kill()
}

func (*ManagedHandle) isHandle() {}
