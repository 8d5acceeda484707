// Package influxdb records backend launch metrics in InfluxDB v2.
//
// It is optional. Each finished readiness wait becomes one backend_launch
// point tagged with the launch mode and outcome, carrying the time the
// backend took to become ready or to fail. Writes are non-blocking and
// batched by the client library.
package influxdb
