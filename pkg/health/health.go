package health

import (
	"context"
	"fmt"
	"time"

	"github.com/covey-run/covey/pkg/types"
)

// Result represents the outcome of a single health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface all health checkers implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() types.HealthCheckType
}

// Config contains common configuration for all health checks.
// Interval and Timeout are mandatory bounded values; a zero value is
// replaced with the default so no check can block indefinitely.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	Retries  int
}

// DefaultConfig returns a Config with the default probe cadence
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
		Retries:  3,
	}
}

// ConfigFromSpec builds a Config from a service health-check spec,
// filling in defaults for unset fields
func ConfigFromSpec(hc *types.HealthCheck) Config {
	cfg := DefaultConfig()
	if hc == nil {
		return cfg
	}
	if hc.Interval > 0 {
		cfg.Interval = hc.Interval
	}
	if hc.Timeout > 0 {
		cfg.Timeout = hc.Timeout
	}
	if hc.Retries > 0 {
		cfg.Retries = hc.Retries
	}
	return cfg
}

// NewChecker builds a Checker for the given spec. The addr argument is
// the task endpoint for http and tcp checks.
func NewChecker(hc *types.HealthCheck, addr string) (Checker, error) {
	switch hc.Type {
	case types.HealthCheckHTTP:
		url := hc.Endpoint
		if url == "" {
			url = "http://" + addr
		}
		return NewHTTPChecker(url), nil
	case types.HealthCheckTCP:
		if hc.Endpoint != "" {
			addr = hc.Endpoint
		}
		return NewTCPChecker(addr), nil
	case types.HealthCheckExec:
		return NewExecChecker(hc.Command), nil
	}
	return nil, fmt.Errorf("unsupported health check type: %s", hc.Type)
}

// Status tracks the rolling health state of one task
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result

	// Healthy flips to false only after Retries consecutive failures.
	Healthy bool
}

// NewStatus creates a Status that assumes health until proven otherwise
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update applies a new check result
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0
		if s.ConsecutiveFailures >= config.Retries {
			s.Healthy = false
		}
	}
}

// Snapshot converts the status into the wire form carried on tasks
func (s *Status) Snapshot() *types.HealthStatus {
	return &types.HealthStatus{
		Healthy:             s.Healthy,
		Message:             s.LastResult.Message,
		CheckedAt:           s.LastCheck,
		ConsecutiveFailures: s.ConsecutiveFailures,
	}
}
