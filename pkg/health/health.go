// Package health aggregates component checks and serves them over HTTP.
package health

import (
	"context"
	"maps"
	"time"
)

// DefaultCheckTimeout bounds one round of checks
const DefaultCheckTimeout = 2 * time.Second

// NewHealthChecker creates a checker for serverID with no checks
func NewHealthChecker(serverID string) *HealthChecker {
	hc := &HealthChecker{
		serverID: serverID,
		started:  time.Now(),
		timeout:  DefaultCheckTimeout,
	}
	for k := range hc.checks {
		hc.checks[k] = make(map[string]CheckFunc)
	}
	return hc
}

// Register adds or replaces the check called name in the given kinds
func (hc *HealthChecker) Register(name string, fn CheckFunc, kinds ...Kind) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	for _, k := range kinds {
		if k >= 0 && k < numKinds {
			hc.checks[k][name] = fn
		}
	}
}

// Run executes every check of kind and folds them into one status; the
// worst status wins. Checks run without the lock held.
func (hc *HealthChecker) Run(ctx context.Context, kind Kind) Response {
	hc.mu.RLock()
	var checks map[string]CheckFunc
	if kind >= 0 && kind < numKinds {
		checks = maps.Clone(hc.checks[kind])
	}
	hc.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	resp := Response{
		ServerID:  hc.serverID,
		Kind:      kind.String(),
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]Check, len(checks)),
		Uptime:    time.Since(hc.started).Seconds(),
	}

	for name, fn := range checks {
		start := time.Now()
		c := fn(ctx)
		c.LastChecked = start
		c.Duration = time.Since(start)
		if c.Name == "" {
			c.Name = name
		}
		resp.Checks[name] = c
		resp.Status = worse(resp.Status, c.Status)
	}
	return resp
}

func worse(a, b Status) Status {
	rank := func(s Status) int {
		switch s {
		case StatusHealthy:
			return 0
		case StatusDegraded:
			return 1
		default:
			return 2
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
