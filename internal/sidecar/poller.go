package sidecar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"syscall"
	"time"

	"github.com/alproj/sidecar-host/internal/infrastructure/config"
	"github.com/alproj/sidecar-host/internal/process"
)

// pollState is a step of the readiness state machine.
type pollState int

const (
	statePolling pollState = iota
	stateExitDetected
	stateTimedOut
	stateSucceeded
)

func (s pollState) String() string {
	switch s {
	case statePolling:
		return "polling"
	case stateExitDetected:
		return "exit_detected"
	case stateTimedOut:
		return "timed_out"
	case stateSucceeded:
		return "succeeded"
	}
	return "unknown"
}

// httpDoer is the subset of *http.Client the poller uses.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Poller waits for the backend health endpoint to answer 2xx.
//
// It runs at most once per launch attempt. Every iteration first checks for
// a premature exit, then probes each health URL in order, then sleeps.
type Poller struct {
	urls           []string
	timeout        time.Duration
	interval       time.Duration
	requestTimeout time.Duration

	client httpDoer
	now    func() time.Time
	sleep  func(time.Duration)
	tail   func(path string) string

	logger Logger
}

// NewPoller creates a poller from the backend configuration. tail formats
// the log tail appended to failure messages.
func NewPoller(cfg config.BackendConfig, tail func(path string) string) *Poller {
	return &Poller{
		urls:           cfg.HealthURLs(),
		timeout:        cfg.ReadyTimeout,
		interval:       cfg.PollInterval,
		requestTimeout: cfg.RequestTimeout,
		client:         &http.Client{},
		now:            time.Now,
		sleep:          time.Sleep,
		tail:           tail,
		logger:         noopLogger{},
	}
}

// SetLogger sets the logger for the poller.
func (p *Poller) SetLogger(logger Logger) {
	p.logger = logger
}

// Wait blocks until the backend is ready, exits, or the timeout elapses.
// On success the ready flag in st is set. ctx bounds individual requests
// only when it is cancelled; the overall deadline is the poller's timeout.
func (p *Poller) Wait(ctx context.Context, st *State) error {
	start := p.now()
	state := statePolling
	var exit process.ExitStatus

	for state == statePolling {
		if p.now().Sub(start) > p.timeout {
			state = stateTimedOut
			break
		}

		status, exited, err := st.CheckExit()
		if err != nil {
			return fmt.Errorf("checking backend status: %w", err)
		}
		if exited {
			exit = status
			state = stateExitDetected
			break
		}

		if p.probe(ctx) {
			state = stateSucceeded
			break
		}

		p.sleep(p.interval)
	}

	p.logger.Debug("readiness wait finished", "state", state, "elapsed", p.now().Sub(start))

	switch state {
	case stateSucceeded:
		st.SetReady(true)
		return nil
	case stateExitDetected:
		return &PrematureExitError{Status: exit, Tail: p.tailFor(st)}
	default:
		return &ReadinessTimeoutError{Timeout: p.timeout, Tail: p.tailFor(st)}
	}
}

func (p *Poller) tailFor(st *State) string {
	if p.tail == nil {
		return ""
	}
	return p.tail(st.LogPath())
}

// probe tries every health URL once and reports whether any answered 2xx.
func (p *Poller) probe(ctx context.Context) bool {
	for _, url := range p.urls {
		status, err := p.get(ctx, url)
		switch {
		case err == nil && status >= 200 && status < 300:
			p.logger.Info("backend ready", "url", url)
			return true
		case err == nil:
			p.logger.Warn("backend health check returned non-success status", "url", url, "status", status)
		case isConnRefused(err):
			p.logger.Debug("backend not accepting connections yet", "url", url)
		default:
			p.logger.Warn("backend health check failed", "url", url, "error", err)
		}
	}
	return false
}

func (p *Poller) get(ctx context.Context, url string) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for keep-alive
	return resp.StatusCode, nil
}

// isConnRefused reports whether err is a refused TCP connection, the normal
// state while the backend is still binding its port.
// DNS and unreachable-network failures are not refusals.
func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
