package health

import (
	"context"
	"sync"
	"time"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Kind selects the set of checks a probe runs
type Kind int

const (
	// KindOverall backs /health; degraded still answers 200
	KindOverall Kind = iota
	// KindReadiness backs /health/ready; anything but healthy answers 503
	KindReadiness
	// KindLiveness backs /health/live
	KindLiveness
	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindOverall:
		return "overall"
	case KindReadiness:
		return "readiness"
	case KindLiveness:
		return "liveness"
	default:
		return "unknown"
	}
}

// Check is the result of probing one component
type Check struct {
	Name        string         `json:"name"`
	Status      Status         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
	Duration    time.Duration  `json:"duration_ns"`
}

// CheckFunc probes a component. ctx carries the probe deadline.
type CheckFunc func(ctx context.Context) Check

// HealthChecker runs the registered checks of one server
type HealthChecker struct {
	serverID string
	started  time.Time
	timeout  time.Duration

	mu     sync.RWMutex
	checks [numKinds]map[string]CheckFunc
}

// Response is the JSON body of every health endpoint
type Response struct {
	ServerID  string           `json:"server_id,omitempty"`
	Kind      string           `json:"kind"`
	Status    Status           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Checks    map[string]Check `json:"checks"`
	Uptime    float64          `json:"uptime_seconds"`
}
