package api

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"
)

// componentCheckTimeout bounds each component health check.
const componentCheckTimeout = 2 * time.Second

// SystemMetrics represents the complete host metrics response.
type SystemMetrics struct {
	Timestamp     string                     `json:"timestamp"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Runtime       RuntimeMetrics             `json:"runtime"`
	WebSocket     WSMetrics                  `json:"websocket"`
	Backend       BackendMetrics             `json:"backend"`
	Components    map[string]ComponentHealth `json:"components,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// BackendMetrics summarises the supervised backend.
type BackendMetrics struct {
	Status string `json:"status"`
	PID    int    `json:"pid,omitempty"`
}

// ComponentHealth is the result of one infrastructure health check.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// handleMetrics returns host, runtime and component metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := s.backend.Stats()
	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Backend: BackendMetrics{
			Status: stats.Status,
			PID:    stats.PID,
		},
	}

	if len(s.components) > 0 {
		metrics.Components = s.checkComponents(r.Context())
	}

	writeJSON(w, http.StatusOK, metrics)
}

// checkComponents runs each health check in name order.
func (s *Server) checkComponents(ctx context.Context) map[string]ComponentHealth {
	names := make([]string, 0, len(s.components))
	for name := range s.components {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]ComponentHealth, len(names))
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, componentCheckTimeout)
		err := s.components[name].HealthCheck(checkCtx)
		cancel()

		h := ComponentHealth{Healthy: err == nil}
		if err != nil {
			h.Error = err.Error()
		}
		out[name] = h
	}
	return out
}
