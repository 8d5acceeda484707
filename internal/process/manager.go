package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Status represents the current state of a managed process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusExited   Status = "exited"
	StatusFailed   Status = "failed"
)

// outputBufferSize is the buffer size for capturing subprocess stdout/stderr.
const outputBufferSize = 4096

// defaultGracefulTimeout bounds Stop before it escalates to a kill.
const defaultGracefulTimeout = 5 * time.Second

// Config holds configuration for a managed subprocess.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format).
	// If nil, inherits from parent process.
	Env []string

	// WorkDir is the working directory for the process.
	// If empty, inherits from parent process.
	WorkDir string

	// Stdout and Stderr receive the process output. When both are nil the
	// output is captured and logged at debug level instead.
	Stdout io.Writer
	Stderr io.Writer

	// GracefulTimeout is how long Stop waits after the polite signal before killing.
	GracefulTimeout time.Duration

	// OnExit is called once when the process exits, for whatever reason.
	OnExit func(status ExitStatus)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(name, binary string, args []string) Config {
	return Config{
		Name:            name,
		Binary:          binary,
		Args:            args,
		GracefulTimeout: defaultGracefulTimeout,
	}
}

// Logger defines the logging interface for the process package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager runs a single subprocess in its own process group and records
// how it ended. It never restarts the process.
type Manager struct {
	config Config
	logger Logger

	mu        sync.RWMutex
	cmd       *exec.Cmd
	status    Status
	exit      ExitStatus
	lastError error
	startTime time.Time

	done chan struct{}
}

// NewManager creates a new process manager with the given configuration.
func NewManager(cfg Config) *Manager {
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}

	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
		done:   make(chan struct{}),
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start launches the subprocess and a goroutine that waits for it.
// A Manager can be started once.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.status != StatusStopped {
		m.mu.Unlock()
		return fmt.Errorf("process %s already started", m.config.Name)
	}
	m.status = StatusStarting
	m.mu.Unlock()

	m.logger.Info("starting process",
		"name", m.config.Name,
		"binary", m.config.Binary,
		"args", m.config.Args,
		"work_dir", m.config.WorkDir,
	)

	cmd := exec.Command(m.config.Binary, m.config.Args...) //nolint:gosec // Binary path is resolved by the launcher
	ConfigureCommand(cmd)

	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}
	if m.config.WorkDir != "" {
		cmd.Dir = m.config.WorkDir
	}

	var stdout, stderr io.ReadCloser
	if m.config.Stdout == nil && m.config.Stderr == nil {
		var err error
		if stdout, err = cmd.StdoutPipe(); err != nil {
			return m.fail(fmt.Errorf("creating stdout pipe: %w", err))
		}
		if stderr, err = cmd.StderrPipe(); err != nil {
			return m.fail(fmt.Errorf("creating stderr pipe: %w", err))
		}
	} else {
		cmd.Stdout = m.config.Stdout
		cmd.Stderr = m.config.Stderr
	}

	if err := cmd.Start(); err != nil {
		return m.fail(fmt.Errorf("starting %s: %w", m.config.Name, err))
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startTime = time.Now()
	m.mu.Unlock()

	if stdout != nil {
		go m.captureOutput("stdout", stdout)
		go m.captureOutput("stderr", stderr)
	}

	m.logger.Info("process started", "name", m.config.Name, "pid", cmd.Process.Pid)

	go m.monitor(cmd)
	return nil
}

func (m *Manager) fail(err error) error {
	m.mu.Lock()
	m.status = StatusFailed
	m.lastError = err
	m.mu.Unlock()
	return err
}

// captureOutput reads from the given reader and logs each chunk.
func (m *Manager) captureOutput(stream string, r io.Reader) {
	buf := make([]byte, outputBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			m.logger.Debug("process output",
				"name", m.config.Name,
				"stream", stream,
				"output", string(buf[:n]),
			)
		}
		if err != nil {
			return
		}
	}
}

// monitor waits for the process and records its exit.
func (m *Manager) monitor(cmd *exec.Cmd) {
	err := cmd.Wait()
	status := exitStatusOf(cmd.ProcessState)

	m.mu.Lock()
	m.exit = status
	m.status = StatusExited
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		m.lastError = err
	} else if status.Signaled || status.Code != 0 {
		m.lastError = fmt.Errorf("%s: %s", m.config.Name, status)
	}
	m.mu.Unlock()

	close(m.done)

	m.logger.Info("process exited", "name", m.config.Name, "status", status.String())

	if m.config.OnExit != nil {
		m.config.OnExit(status)
	}
}

// Stop asks the process group to terminate and kills it after GracefulTimeout.
func (m *Manager) Stop() error {
	m.mu.RLock()
	cmd := m.cmd
	running := m.status == StatusRunning
	m.mu.RUnlock()

	if !running || cmd == nil {
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping process", "name", m.config.Name, "pid", pid)

	if err := terminateGroup(cmd.Process); err != nil {
		m.logger.Warn("failed to signal process group", "name", m.config.Name, "error", err)
	}

	select {
	case <-m.done:
		m.logger.Info("process stopped gracefully", "name", m.config.Name)
		return nil
	case <-time.After(m.config.GracefulTimeout):
		m.logger.Warn("graceful shutdown timeout, killing",
			"name", m.config.Name,
			"timeout", m.config.GracefulTimeout,
		)
	}

	if err := m.Kill(); err != nil {
		return err
	}
	<-m.done
	return nil
}

// Kill kills the process group immediately without waiting for it to exit.
func (m *Manager) Kill() error {
	m.mu.RLock()
	cmd := m.cmd
	m.mu.RUnlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := killGroup(cmd.Process); err != nil {
		return fmt.Errorf("killing %s: %w", m.config.Name, err)
	}
	return nil
}

// Exited reports the exit status once the process has been reaped.
func (m *Manager) Exited() (ExitStatus, bool) {
	select {
	case <-m.done:
	default:
		return ExitStatus{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exit, true
}

// Done is closed when the process has exited.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Status returns the current status of the managed process.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if the process is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the error that ended the process, if any.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// Uptime returns how long the process has been running, or 0.
func (m *Manager) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status != StatusRunning {
		return 0
	}
	return time.Since(m.startTime)
}

// PID returns the process ID, or 0 if not started.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Stats is a JSON-friendly snapshot of a managed process.
type Stats struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Exit      *ExitStatus   `json:"exit,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the process.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:   m.config.Name,
		Status: m.status,
	}
	if m.cmd != nil && m.cmd.Process != nil {
		stats.PID = m.cmd.Process.Pid
	}
	if m.status == StatusRunning {
		stats.Uptime = time.Since(m.startTime)
	}
	if m.status == StatusExited {
		exit := m.exit
		stats.Exit = &exit
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}
	return stats
}
