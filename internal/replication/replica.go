// Package replication forwards committed mutations from a master store to
// its read-only replicas, in async (queued, best-effort) or sync
// (blocking, all-healthy-must-ack) mode, and tracks replica health with
// one-way degradation: an unhealthy replica stays unhealthy until the
// master restarts or an operator explicitly resets it.
package replication

import (
	"sync"
	"time"
)

// Replica is one replication target and its health state.
type Replica struct {
	Host string
	Port string

	mu                 sync.Mutex
	healthy            bool
	consecutiveFailures int
	lastSuccess        time.Time
	lastFailure        time.Time
}

// NewReplica returns a replica descriptor, initially healthy.
func NewReplica(host, port string) *Replica {
	return &Replica{Host: host, Port: port, healthy: true}
}

// Addr returns the host:port this replica is reached at.
func (r *Replica) Addr() string {
	return r.Host + ":" + r.Port
}

// Healthy reports whether this replica currently accepts traffic.
func (r *Replica) Healthy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.healthy
}

// markSuccess resets the failure counter and marks the replica healthy.
func (r *Replica) markSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consecutiveFailures = 0
	r.healthy = true
	r.lastSuccess = time.Now()
}

// markFailure increments the failure counter and flips healthy to false
// once maxFailures consecutive failures have accumulated. There is no path
// back to healthy except Reset.
func (r *Replica) markFailure(maxFailures int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consecutiveFailures++
	r.lastFailure = time.Now()
	if r.consecutiveFailures >= maxFailures {
		r.healthy = false
	}
}

// Reset restores a replica to healthy with a zeroed failure counter. Used
// only by an explicit operator action (ADMIN ADDREPLICA re-registration or
// equivalent), never automatically.
func (r *Replica) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthy = true
	r.consecutiveFailures = 0
}

// Status is a point-in-time, lock-free snapshot of a Replica's health,
// suitable for the ADMIN STATUS response and for metrics export.
type Status struct {
	Addr                string
	Healthy             bool
	ConsecutiveFailures int
	LastSuccess         time.Time
	LastFailure         time.Time
}

// Snapshot copies the replica's current health fields out from under its
// lock.
func (r *Replica) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		Addr:                r.Addr(),
		Healthy:             r.healthy,
		ConsecutiveFailures: r.consecutiveFailures,
		LastSuccess:         r.lastSuccess,
		LastFailure:         r.lastFailure,
	}
}
