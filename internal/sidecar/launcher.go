package sidecar

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/alproj/sidecar-host/internal/infrastructure/config"
	"github.com/alproj/sidecar-host/internal/process"
)

// Log file permissions.
const (
	logDirPermissions  = 0750
	logFilePermissions = 0640
)

// Mode selects how the backend is invoked.
type Mode string

const (
	// ModeDevelopment runs the backend from source through the package runner.
	ModeDevelopment Mode = config.ModeDevelopment

	// ModeProduction runs the bundled per-platform executable.
	ModeProduction Mode = config.ModeProduction
)

// ParseMode converts a configured mode, using fallback when empty.
func ParseMode(s, fallback string) (Mode, error) {
	if s == "" {
		s = fallback
	}
	switch Mode(s) {
	case ModeDevelopment, ModeProduction:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown backend mode %q", s)
}

// invocation is a fully resolved command line.
type invocation struct {
	binary string
	args   []string
	dir    string
}

// Launcher builds the backend command line for a mode and spawns it with
// stdout and stderr appended to the log file.
type Launcher struct {
	cfg     config.BackendConfig
	mode    Mode
	logPath string

	goos, goarch string
	homeDir      func() (string, error)
	workDir      func() (string, error)
	executable   func() (string, error)
	fileExists   func(string) bool
	dirExists    func(string) bool

	logger Logger
}

// NewLauncher creates a launcher that writes backend output to logPath.
func NewLauncher(cfg config.BackendConfig, mode Mode, logPath string) *Launcher {
	return &Launcher{
		cfg:        cfg,
		mode:       mode,
		logPath:    logPath,
		goos:       runtime.GOOS,
		goarch:     runtime.GOARCH,
		homeDir:    os.UserHomeDir,
		workDir:    os.Getwd,
		executable: os.Executable,
		fileExists: fileExists,
		dirExists:  dirExists,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the launcher.
func (l *Launcher) SetLogger(logger Logger) {
	l.logger = logger
}

// Mode returns the launch mode.
func (l *Launcher) Mode() Mode {
	return l.mode
}

// LogPath returns the log file the backend writes to.
func (l *Launcher) LogPath() string {
	return l.logPath
}

// Start spawns the backend and returns its handle and log path.
// Every failure is a *SpawnError naming the path that was attempted.
func (l *Launcher) Start(ctx context.Context) (process.Handle, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", &SpawnError{Path: l.logPath, Err: err}
	}

	inv, err := l.resolve()
	if err != nil {
		return nil, "", err
	}

	logFile, err := openLog(l.logPath)
	if err != nil {
		return nil, "", &SpawnError{Path: l.logPath, Err: err}
	}
	// The child holds its own copies of the descriptor once started.
	defer logFile.Close()

	l.logger.Info("spawning backend",
		"mode", l.mode,
		"binary", inv.binary,
		"args", inv.args,
		"dir", inv.dir,
		"log_path", l.logPath,
	)

	h, err := l.spawn(inv, logFile)
	if err != nil {
		return nil, "", &SpawnError{Path: inv.binary, Err: fmt.Errorf("failed to spawn backend: %w", err)}
	}

	l.logger.Info("backend spawned", "pid", h.PID())
	return h, l.logPath, nil
}

// resolve builds the invocation for the configured mode.
func (l *Launcher) resolve() (invocation, error) {
	if l.mode == ModeDevelopment {
		return l.devInvocation()
	}
	return l.prodInvocation()
}

// devInvocation runs "<runner> run uvicorn <entry> --host H --port P" from
// the backend source directory.
func (l *Launcher) devInvocation() (invocation, error) {
	project := l.cfg.ProjectDir
	if project == "" {
		wd, err := l.workDir()
		if err != nil {
			return invocation{}, &SpawnError{Path: ".", Err: fmt.Errorf("resolving project directory: %w", err)}
		}
		project = wd
	}

	backendDir := l.cfg.BackendDir
	if !filepath.IsAbs(backendDir) {
		backendDir = filepath.Join(project, backendDir)
	}
	if !l.dirExists(backendDir) {
		return invocation{}, &SpawnError{Path: backendDir, Err: ErrBackendDirMissing}
	}

	home, err := l.homeDir()
	if err != nil || home == "" {
		return invocation{}, &SpawnError{
			Path: defaultRunner,
			Err:  fmt.Errorf("%w: cannot resolve home directory", ErrRunnerNotFound),
		}
	}

	candidates := l.cfg.RunnerCandidates
	if len(candidates) == 0 {
		candidates = defaultRunnerCandidates
	}
	runner := pickRunner(expandRunnerCandidates(candidates, home), l.fileExists)

	return invocation{
		binary: runner,
		args: []string{
			"run", "uvicorn", l.cfg.EntryPoint,
			"--host", l.cfg.Host,
			"--port", strconv.Itoa(l.cfg.Port),
		},
		dir: backendDir,
	}, nil
}

// prodInvocation runs the bundled binary from its own directory so it can
// find the runtime files shipped next to it.
func (l *Launcher) prodInvocation() (invocation, error) {
	triple, err := platformTriple(l.goos, l.goarch)
	if err != nil {
		return invocation{}, &SpawnError{Path: l.goos + "/" + l.goarch, Err: err}
	}

	resources := l.cfg.ResourceDir
	if resources == "" {
		exe, err := l.executable()
		if err != nil {
			return invocation{}, &SpawnError{Path: "binaries", Err: fmt.Errorf("resolving resource directory: %w", err)}
		}
		resources = filepath.Dir(exe)
	}

	bin := sidecarBinaryPath(resources, triple, l.goos)
	if !l.fileExists(bin) {
		return invocation{}, &SpawnError{Path: bin, Err: ErrBinaryMissing}
	}

	return invocation{
		binary: bin,
		args:   []string{"--host", l.cfg.Host, "--port", strconv.Itoa(l.cfg.Port)},
		dir:    filepath.Dir(bin),
	}, nil
}

// spawn starts inv with both output streams on logFile. Passing the same
// *os.File for stdout and stderr gives the child one descriptor dup'd onto
// both, so writes append to a single offset instead of racing.
func (l *Launcher) spawn(inv invocation, logFile *os.File) (process.Handle, error) {
	if l.mode == ModeProduction {
		m := process.NewManager(process.Config{
			Name:    "backend-sidecar",
			Binary:  inv.binary,
			Args:    inv.args,
			WorkDir: inv.dir,
			Stdout:  logFile,
			Stderr:  logFile,
		})
		m.SetLogger(l.logger)
		if err := m.Start(); err != nil {
			return nil, err
		}
		return process.NewManagedHandle(m), nil
	}

	cmd := exec.Command(inv.binary, inv.args...) //nolint:gosec // runner path comes from a fixed candidate list
	cmd.Dir = inv.dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	h, err := process.StartChild(cmd)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// openLog creates the log directory if needed and opens the file for appending.
func openLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), logDirPermissions); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, logFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}
