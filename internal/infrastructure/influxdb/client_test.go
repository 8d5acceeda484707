package influxdb

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/alproj/sidecar-host/internal/infrastructure/config"
)

func TestConnect_Disabled(t *testing.T) {
	c, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
	if c != nil {
		t.Error("Connect() returned a client while disabled")
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := Connect(config.InfluxDBConfig{Enabled: true, URL: srv.URL, Token: "t", Org: "o", Bucket: "b"})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestLaunchPoint(t *testing.T) {
	at := time.Unix(1767225600, 0)
	line := write.PointToLineProtocol(launchPoint("production", "ready", 1250*time.Millisecond, at), time.Millisecond)

	want := "backend_launch,mode=production,outcome=ready duration_ms=1250i,ready=true 1767225600000"
	if line = strings.TrimSpace(line); line != want {
		t.Errorf("line protocol = %q, want %q", line, want)
	}
}

// fakeInflux answers pings and records write bodies.
type fakeInflux struct {
	mu     sync.Mutex
	writes []string
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/ping"):
		w.WriteHeader(http.StatusNoContent)
	case strings.HasSuffix(r.URL.Path, "/api/v2/write"):
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
		f.mu.Lock()
		f.writes = append(f.writes, string(body))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeInflux) body() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.writes, "")
}

func TestWriteLaunchMetric(t *testing.T) {
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c, err := Connect(config.InfluxDBConfig{Enabled: true, URL: srv.URL, Token: "t", Org: "alproj", Bucket: "host"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	c.WriteLaunchMetric("development", "failed", 180*time.Second)
	c.Flush()

	deadline := time.Now().Add(5 * time.Second)
	for fake.body() == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	got := fake.body()
	if !strings.HasPrefix(got, "backend_launch,mode=development,outcome=failed duration_ms=180000i,ready=false ") {
		t.Errorf("write body = %q", got)
	}

	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
	// Writes after close are dropped.
	c.WriteLaunchMetric("development", "ready", time.Second)
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
