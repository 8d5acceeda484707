package sidecar

import (
	"errors"
	"fmt"
	"time"

	"github.com/alproj/sidecar-host/internal/process"
)

// Sentinel errors. Use errors.Is to check for them.
var (
	// ErrRunnerNotFound means no package runner could be located for development mode.
	ErrRunnerNotFound = errors.New("package runner not found")

	// ErrBackendDirMissing means the backend source directory does not exist.
	ErrBackendDirMissing = errors.New("backend directory not found")

	// ErrBinaryMissing means the bundled backend executable does not exist.
	ErrBinaryMissing = errors.New("sidecar binary not found")

	// ErrUnsupportedPlatform means no bundled binary is built for this OS/CPU.
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrAlreadyLaunched is returned by a second Launch on the same supervisor.
	ErrAlreadyLaunched = errors.New("backend already launched")

	// ErrStopped is returned by a Launch that lost the race with Shutdown.
	// The freshly spawned backend has already been killed.
	ErrStopped = errors.New("supervisor is shut down")

	// ErrHistoryDisabled is returned when no launch history is configured.
	ErrHistoryDisabled = errors.New("launch history disabled")
)

// SpawnError reports a failure to start the backend. Path is the directory
// or executable that was attempted.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("%v (%s)", e.Err, e.Path)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ReadinessTimeoutError reports that the backend never answered its health
// endpoint within Timeout. Tail is the formatted log tail, possibly empty.
type ReadinessTimeoutError struct {
	Timeout time.Duration
	Tail    string
}

func (e *ReadinessTimeoutError) Error() string {
	return withTail(fmt.Sprintf("Backend failed to start within %d seconds", int(e.Timeout.Seconds())), e.Tail)
}

// PrematureExitError reports that the backend exited before becoming ready.
type PrematureExitError struct {
	Status process.ExitStatus
	Tail   string
}

func (e *PrematureExitError) Error() string {
	return withTail(fmt.Sprintf("Backend process exited before ready (%s)", e.Status), e.Tail)
}

// LogError reports an I/O failure on the backend log file.
type LogError struct {
	Op   string
	Path string
	Err  error
}

func (e *LogError) Error() string {
	return fmt.Sprintf("log %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *LogError) Unwrap() error { return e.Err }

// QueryError reports a failed on-demand health query.
type QueryError struct {
	URL string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("backend health query %s: %v", e.URL, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func withTail(msg, tail string) string {
	if tail == "" {
		return msg
	}
	return msg + "\n" + tail
}
