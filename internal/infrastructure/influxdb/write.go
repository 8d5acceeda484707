package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// launchMeasurement is the measurement name for launch metrics.
const launchMeasurement = "backend_launch"

// WriteLaunchMetric records how long a launch took to become ready or fail.
// The write is buffered and never blocks.
func (c *Client) WriteLaunchMetric(mode, outcome string, d time.Duration) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(launchPoint(mode, outcome, d, time.Now()))
}

// launchPoint builds the backend_launch point.
func launchPoint(mode, outcome string, d time.Duration, at time.Time) *write.Point {
	return write.NewPoint(
		launchMeasurement,
		map[string]string{
			"mode":    mode,
			"outcome": outcome,
		},
		map[string]interface{}{
			"duration_ms": d.Milliseconds(),
			"ready":       outcome == "ready",
		},
		at,
	)
}
