// Sidecar host - desktop backend supervisor
//
// This is the main entry point of the process that sits between the desktop
// GUI and its Python backend. It launches the backend (from source in
// development, as a bundled executable in production), waits for it to
// answer its health check, serves status and log reads to the frontend,
// and kills the backend's whole process tree on exit.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	_ "github.com/alproj/sidecar-host/migrations"

	"github.com/alproj/sidecar-host/internal/api"
	"github.com/alproj/sidecar-host/internal/infrastructure/config"
	"github.com/alproj/sidecar-host/internal/infrastructure/database"
	"github.com/alproj/sidecar-host/internal/infrastructure/influxdb"
	"github.com/alproj/sidecar-host/internal/infrastructure/logging"
	"github.com/alproj/sidecar-host/internal/infrastructure/mqtt"
	"github.com/alproj/sidecar-host/internal/sidecar"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	// defaultMode applies when neither config nor environment names a mode.
	// Development builds pass -X main.defaultMode=development.
	defaultMode = config.ModeProduction
)

// configEnv names an optional YAML config file. Without it the built-in
// defaults plus ALPROJ_* overrides are used.
const configEnv = "ALPROJ_CONFIG"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on a clean shutdown. A backend that fails to start is
// reported to the frontend, not returned: the host keeps serving so the
// GUI can show the failure and its log.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting sidecar host",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log = logging.New(cfg.Logging, version)

	mode, err := sidecar.ParseMode(cfg.Backend.Mode, defaultMode)
	if err != nil {
		return fmt.Errorf("resolving backend mode: %w", err)
	}

	components := map[string]api.HealthChecker{}

	db, err := openDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	var history sidecar.HistoryRepository
	if db != nil {
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		history = sidecar.NewSQLiteHistory(db.DB)
		components["database"] = db
	}

	emitters := sidecar.Emitters{}

	if publisher := connectMQTT(cfg.MQTT, log); publisher != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := publisher.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		emitters = append(emitters, publisher)
		components["mqtt"] = publisher
	}

	var metrics sidecar.MetricsWriter
	if influx := connectInfluxDB(cfg.InfluxDB, log); influx != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influx.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		metrics = influx
		components["influxdb"] = influx
	}

	hub := api.NewHub(cfg.WebSocket, log)
	emitters = append(emitters, hub)

	logPath := sidecar.ResolveLogPath(cfg.Backend)
	sup := sidecar.New(sidecar.Options{
		Config:  cfg.Backend,
		Mode:    mode,
		LogPath: logPath,
		Emitter: emitters,
		History: history,
		Metrics: metrics,
		Logger:  log,
	})
	// Runs again on every return path so an error below never leaks the backend.
	defer sup.Shutdown()

	srv, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log,
		Backend:    sup,
		Hub:        hub,
		Components: components,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	log.Info("launching backend", "mode", mode, "log_path", logPath)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if launchErr := sup.Launch(gctx); launchErr != nil {
			log.Error("backend launch failed", "error", launchErr)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, stopping backend")
		// Killing the backend also ends a readiness wait still in progress.
		sup.Shutdown()
		return srv.Close()
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("sidecar host stopped")
	return nil
}

// loadConfig reads the file named by ALPROJ_CONFIG, or the defaults.
func loadConfig() (*config.Config, error) {
	if path := os.Getenv(configEnv); path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
		return cfg, nil
	}
	cfg, err := config.LoadDefaults()
	if err != nil {
		return nil, fmt.Errorf("loading default config: %w", err)
	}
	return cfg, nil
}

// openDatabase opens and migrates the launch history database.
// It returns nil when no database path is configured.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(cfg)
	if errors.Is(err, database.ErrNoPath) {
		log.Info("launch history disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", db.Path())
	return db, nil
}

// connectMQTT returns nil when the mirror is disabled or the broker is
// unreachable; the frontend does not depend on it.
func connectMQTT(cfg config.MQTTConfig, log *logging.Logger) *mqtt.Publisher {
	publisher, err := mqtt.Connect(cfg)
	if errors.Is(err, mqtt.ErrDisabled) {
		return nil
	}
	if err != nil {
		log.Warn("MQTT mirror unavailable", "error", err)
		return nil
	}
	publisher.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)
	return publisher
}

// connectInfluxDB returns nil when metrics are disabled or the server is unreachable.
func connectInfluxDB(cfg config.InfluxDBConfig, log *logging.Logger) *influxdb.Client {
	client, err := influxdb.Connect(cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		return nil
	}
	if err != nil {
		log.Warn("InfluxDB metrics unavailable", "error", err)
		return nil
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)
	return client
}
