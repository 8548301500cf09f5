// Package health tracks the liveness of the telemetry store.
//
// The store gateway flips the flag on every round trip: a successful
// statement marks the store healthy, a failed one marks it unhealthy.
// The HTTP layer exposes the current value through /healthz.
package health

import "sync"

// Status is a concurrency-safe boolean health flag.
type Status struct {
	mu sync.RWMutex
	ok bool
}

// NewStatus returns a Status that starts healthy.
func NewStatus() *Status {
	return &Status{ok: true}
}

// Set records the outcome of the most recent store round trip.
func (s *Status) Set(ok bool) {
	s.mu.Lock()
	s.ok = ok
	s.mu.Unlock()
}

// Healthy reports whether the most recent store round trip succeeded.
func (s *Status) Healthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ok
}
