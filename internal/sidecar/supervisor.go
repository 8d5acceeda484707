package sidecar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alproj/sidecar-host/internal/infrastructure/config"
	"github.com/alproj/sidecar-host/internal/process"
)

// historyTimeout bounds each launch history write.
const historyTimeout = 5 * time.Second

// MetricsWriter receives one measurement per finished readiness wait.
type MetricsWriter interface {
	WriteLaunchMetric(mode, outcome string, d time.Duration)
}

// starter spawns the backend. *Launcher implements it.
type starter interface {
	Start(ctx context.Context) (process.Handle, string, error)
}

// treeKiller terminates a handle and its descendants. *process.TreeKiller implements it.
type treeKiller interface {
	KillTree(h process.Handle)
}

// Options configures a Supervisor. Emitter, History and Metrics are optional.
type Options struct {
	Config  config.BackendConfig
	Mode    Mode
	LogPath string

	Emitter Emitter
	History HistoryRepository
	Metrics MetricsWriter
	Logger  Logger
}

// Supervisor owns the backend for the lifetime of the host: it launches it
// once, waits for readiness, answers status and log queries, and kills the
// whole process tree on shutdown.
type Supervisor struct {
	cfg     config.BackendConfig
	mode    Mode
	logPath string
	state   *State
	store   *LogStore
	client  httpDoer

	launcher starter
	poller   *Poller
	killer   treeKiller

	emitter Emitter
	history HistoryRepository
	metrics MetricsWriter
	logger  Logger

	launched atomic.Bool

	mu        sync.Mutex
	stopped   bool
	attemptID string
	lastErr   error
	stopWatch context.CancelFunc
}

// New creates a supervisor. Nothing is started until Launch.
func New(opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = Emitters(nil)
	}

	store := NewLogStore(opts.Config.TailLines, opts.Config.TailChars)

	launcher := NewLauncher(opts.Config, opts.Mode, opts.LogPath)
	launcher.SetLogger(logger)

	poller := NewPoller(opts.Config, store.TailBlock)
	poller.SetLogger(logger)

	killer := process.NewTreeKiller()
	killer.SetLogger(logger)

	return &Supervisor{
		cfg:      opts.Config,
		mode:     opts.Mode,
		logPath:  opts.LogPath,
		state:    NewState(),
		store:    store,
		client:   &http.Client{},
		launcher: launcher,
		poller:   poller,
		killer:   killer,
		emitter:  emitter,
		history:  opts.History,
		metrics:  opts.Metrics,
		logger:   logger,
	}
}

// Launch spawns the backend and blocks until it is ready or has failed.
// Exactly one of EventReady or EventError is emitted. A supervisor
// launches once; later calls return ErrAlreadyLaunched.
//
// Cancelling ctx does not abort the readiness wait. Shutdown does, by
// killing the process the wait is watching.
func (s *Supervisor) Launch(ctx context.Context) error {
	if !s.launched.CompareAndSwap(false, true) {
		return ErrAlreadyLaunched
	}
	outcome := &outcomeEmitter{next: s.emitter}

	h, logPath, err := s.launcher.Start(ctx)
	if err != nil {
		s.logger.Error("backend spawn failed", "error", err)
		s.fail(outcome, err)
		s.recordSpawnFailure(err)
		return err
	}

	if !s.adopt(h, logPath) {
		s.logger.Warn("shutdown raced the spawn, stopping backend", "pid", h.PID())
		s.killer.KillTree(h)
		s.fail(outcome, ErrStopped)
		return ErrStopped
	}
	s.recordAttempt(h.PID(), logPath)
	if s.cfg.WatchLog {
		s.startWatcher(logPath)
	}

	start := time.Now()
	err = s.poller.Wait(context.WithoutCancel(ctx), s.state)
	elapsed := time.Since(start)

	if err != nil {
		s.logger.Error("backend did not become ready", "pid", h.PID(), "elapsed", elapsed, "error", err)
		s.fail(outcome, err)
		s.resolve(OutcomeFailed, err.Error(), 0)
		s.writeMetric(OutcomeFailed, elapsed)
		return err
	}

	s.logger.Info("backend ready", "pid", h.PID(), "elapsed", elapsed)
	if err := outcome.ready(); err != nil {
		s.logger.Warn("emitting ready event failed", "error", err)
	}
	s.resolve(OutcomeReady, "", elapsed.Milliseconds())
	s.writeMetric(OutcomeReady, elapsed)
	return nil
}

// adopt records h as the running backend unless Shutdown has already run.
func (s *Supervisor) adopt(h process.Handle, logPath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.state.SetLaunched(h, logPath)
	return true
}

func (s *Supervisor) fail(outcome *outcomeEmitter, err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	if emitErr := outcome.failed(err.Error()); emitErr != nil {
		s.logger.Warn("emitting error event failed", "error", emitErr)
	}
}

// startWatcher reports false when Shutdown has already run; no watcher
// is started then, since nothing would ever cancel it.
func (s *Supervisor) startWatcher(logPath string) bool {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		cancel()
		return false
	}
	s.stopWatch = cancel
	s.mu.Unlock()

	w := NewLogWatcher(logPath, s.store, s.emitter)
	w.SetLogger(s.logger)
	go func() {
		if err := w.Run(ctx); err != nil {
			s.logger.Warn("backend log watcher stopped", "error", err)
		}
	}()
	return true
}

// Shutdown kills the backend and all of its descendants. It never fails
// and is safe to call more than once or before Launch. A Launch still
// spawning when Shutdown runs kills its own backend and returns ErrStopped.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	s.stopped = true
	stop := s.stopWatch
	s.stopWatch = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}

	h := s.state.TakeHandle()
	if h == nil {
		return
	}
	s.logger.Info("stopping backend", "pid", h.PID())
	s.killer.KillTree(h)
	s.finish()
}

// Status returns "connected" once the backend has answered its health check.
func (s *Supervisor) Status() string {
	return s.state.Status()
}

// Ready reports whether the backend has become ready.
func (s *Supervisor) Ready() bool {
	return s.state.Ready()
}

// CheckHealth queries the backend health endpoint once and returns its JSON body.
func (s *Supervisor) CheckHealth(ctx context.Context) (map[string]any, error) {
	urls := s.cfg.HealthURLs()
	if len(urls) == 0 {
		return nil, &QueryError{Err: fmt.Errorf("no health URL configured")}
	}
	url := urls[0]

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &QueryError{URL: url, Err: err}
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &QueryError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for keep-alive
		return nil, &QueryError{URL: url, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &QueryError{URL: url, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return body, nil
}

// LogPath returns the backend log path, or "" before launch.
func (s *Supervisor) LogPath() string {
	return s.state.LogPath()
}

// LogCursor returns the current log length.
func (s *Supervisor) LogCursor() (int64, error) {
	return s.store.Cursor(s.state.LogPath())
}

// ReadLogChunk reads the log from offset. See LogStore.ReadChunk.
func (s *Supervisor) ReadLogChunk(offset int64, maxBytes int) (LogChunk, error) {
	return s.store.ReadChunk(s.state.LogPath(), offset, maxBytes)
}

// History returns recent launch attempts, newest first.
func (s *Supervisor) History(ctx context.Context, limit int) ([]Attempt, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	return s.history.List(ctx, limit)
}

// Stats is a JSON-friendly snapshot of the supervisor.
type Stats struct {
	Status     string     `json:"status"`
	Mode       Mode       `json:"mode"`
	PID        int        `json:"pid,omitempty"`
	LogPath    string     `json:"log_path,omitempty"`
	LaunchedAt *time.Time `json:"launched_at,omitempty"`
	Uptime     string     `json:"uptime,omitempty"`
	AttemptID  string     `json:"attempt_id,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// Stats returns the current supervisor statistics.
func (s *Supervisor) Stats() Stats {
	st := Stats{
		Status:  s.state.Status(),
		Mode:    s.mode,
		PID:     s.state.PID(),
		LogPath: s.state.LogPath(),
	}
	if at := s.state.LaunchedAt(); !at.IsZero() {
		st.LaunchedAt = &at
		if s.state.HasHandle() {
			st.Uptime = time.Since(at).Round(time.Second).String()
		}
	}

	s.mu.Lock()
	st.AttemptID = s.attemptID
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()
	return st
}

func (s *Supervisor) recordAttempt(pid int, logPath string) {
	if s.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	a := &Attempt{Mode: string(s.mode), PID: pid, LogPath: logPath}
	if err := s.history.Create(ctx, a); err != nil {
		s.logger.Warn("recording launch attempt failed", "error", err)
		return
	}
	s.mu.Lock()
	s.attemptID = a.ID
	s.mu.Unlock()
}

func (s *Supervisor) recordSpawnFailure(spawnErr error) {
	s.recordAttempt(0, s.logPath)
	s.resolve(OutcomeFailed, spawnErr.Error(), 0)
	s.finish()
}

func (s *Supervisor) resolve(outcome, reason string, readyMS int64) {
	id := s.currentAttempt()
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := s.history.Resolve(ctx, id, outcome, reason, readyMS); err != nil {
		s.logger.Warn("resolving launch attempt failed", "id", id, "error", err)
	}
}

func (s *Supervisor) finish() {
	id := s.currentAttempt()
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := s.history.MarkFinished(ctx, id, time.Now()); err != nil {
		s.logger.Warn("finishing launch attempt failed", "id", id, "error", err)
	}
}

func (s *Supervisor) currentAttempt() string {
	if s.history == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attemptID
}

func (s *Supervisor) writeMetric(outcome string, d time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.WriteLaunchMetric(string(s.mode), outcome, d)
}
