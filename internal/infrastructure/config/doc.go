// Package config loads and validates the sidecar host configuration.
//
// This package manages:
//   - Loading configuration from a YAML file (or built-in defaults)
//   - Overriding with ALPROJ_* environment variables
//   - Validation of every section, reported in one error
//
// The defaults reproduce the desktop host's fixed conventions: the backend
// binds 127.0.0.1:8765, readiness is GET /api/health, the host waits up to
// 180s polling every 500ms, and logs go to backend-sidecar.log.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	urls := cfg.Backend.HealthURLs()
package config
