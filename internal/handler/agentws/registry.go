package agentws

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// ErrCapacity is returned when the registry is full.
var ErrCapacity = errors.New("session capacity reached")

// Registry tracks live voice sessions. It enforces a hard capacity bound and
// evicts sessions that stay idle past the configured timeout, so the
// process-wide session state cannot grow without bound.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	max     int
	idle    time.Duration
}

type entry struct {
	sessionKey string
	lastActive time.Time
	close      func()
}

// NewRegistry builds a registry with the given capacity and idle timeout.
func NewRegistry(maxSessions int, idleTimeout time.Duration) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		max:     maxSessions,
		idle:    idleTimeout,
	}
}

// Add registers a live connection. close is invoked when the registry evicts
// the session; it must be safe to call concurrently with the session loop.
func (r *Registry) Add(connID, sessionKey string, close func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) >= r.max {
		return ErrCapacity
	}
	r.entries[connID] = &entry{
		sessionKey: sessionKey,
		lastActive: time.Now(),
		close:      close,
	}
	return nil
}

// Touch marks the connection as active.
func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[connID]; ok {
		e.lastActive = time.Now()
	}
}

// Remove drops a connection from the registry. Removing an unknown
// connection is a no-op.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, connID)
}

// Count reports the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Run sweeps idle sessions until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	interval := r.idle / 2
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	cutoff := time.Now().Add(-r.idle)

	r.mu.Lock()
	var expired []*entry
	for connID, e := range r.entries {
		if e.lastActive.Before(cutoff) {
			expired = append(expired, e)
			delete(r.entries, connID)
		}
	}
	r.mu.Unlock()

	for _, e := range expired {
		log.Printf("[agentws] evicting idle session %s", e.sessionKey)
		e.close()
	}
}
