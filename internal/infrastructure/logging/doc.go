// Package logging provides structured logging for the sidecar host.
//
// It wraps log/slog so every component logs the same way:
//
//   - JSON output for release builds, text output while developing
//   - Default fields (service, version) on every record
//   - Level filtering (debug, info, warn, error)
//
// Configuration lives in the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stderr"   # stdout, stderr, discard
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("backend launched", "pid", pid, "log_path", path)
//
// The backend's own stdout and stderr never pass through this package;
// they go straight to the sidecar log file.
package logging
