// Package metrics defines the Prometheus instruments for the control
// plane and a collector that periodically gauges cluster state. The
// registry is exposed through the API's /metrics endpoint.
package metrics
