package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/alproj/sidecar-host/internal/infrastructure/config"
	"github.com/alproj/sidecar-host/internal/infrastructure/logging"
	"github.com/alproj/sidecar-host/internal/sidecar"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Backend is the supervisor surface the API exposes to the frontend.
// *sidecar.Supervisor implements it.
type Backend interface {
	Status() string
	CheckHealth(ctx context.Context) (map[string]any, error)
	LogCursor() (int64, error)
	ReadLogChunk(offset int64, maxBytes int) (sidecar.LogChunk, error)
	Stats() sidecar.Stats
	History(ctx context.Context, limit int) ([]sidecar.Attempt, error)
}

// HealthChecker is an optional infrastructure component reported by /metrics.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Backend  Backend

	// Hub receives supervisor events. If nil the server creates its own.
	Hub *Hub

	// Components are health-checked by the metrics endpoint, keyed by name.
	Components map[string]HealthChecker

	Version string
}

// Server is the frontend-facing HTTP API.
//
// It is created with New, started with Start and stopped with Close.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	backend    Backend
	components map[string]HealthChecker
	version    string
	startTime  time.Time

	tokens *TokenIssuer
	hub    *Hub

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
// It mints the session token and, when configured, writes it to the token file.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}

	tokens, err := NewTokenIssuer(deps.Security)
	if err != nil {
		return nil, err
	}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.WS, deps.Logger)
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		backend:    deps.Backend,
		components: deps.Components,
		version:    deps.Version,
		startTime:  time.Now(),
		tokens:     tokens,
		hub:        hub,
	}, nil
}

// Hub returns the WebSocket hub so it can be registered as an event emitter.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Token returns the session token the frontend presents as a bearer token.
func (s *Server) Token() string {
	return s.tokens.Token()
}

// Start binds the listener and serves in a background goroutine.
// Binding happens synchronously so a busy port is reported here.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	if s.secCfg.TokenFile != "" {
		if err := s.tokens.WriteFile(s.secCfg.TokenFile); err != nil {
			ln.Close()
			return err
		}
	}

	srvCtx, cancel := context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	srv := &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("API server starting", "address", ln.Addr().String())

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	cancel := s.cancel
	s.server = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	ctx, stop := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer stop()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
