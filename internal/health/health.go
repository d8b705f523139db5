// Package health aggregates named subsystem probes for the /health
// endpoint. The server registers a probe per dependency (database,
// refund gateway) and the endpoint reports degraded when any fails.
package health

import (
	"context"
	"sync"
)

// Status is the result of one subsystem probe.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker probes a single subsystem.
type Checker func(ctx context.Context) Status

// Registry holds named checkers and runs them on demand. Checkers run
// in registration order so /health output is stable.
type Registry struct {
	mu     sync.RWMutex
	probes []probe
}

type probe struct {
	name  string
	check Checker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a named checker.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.probes = append(r.probes, probe{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs every registered checker and reports the aggregate
// health plus the individual results.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	probes := make([]probe, len(r.probes))
	copy(probes, r.probes)
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, len(probes))
	for i, p := range probes {
		statuses[i] = p.check(ctx)
		if !statuses[i].Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}
