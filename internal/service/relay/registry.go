// Package relay bridges client WebSocket connections to upstream streaming
// transcription sessions.
package relay

import (
	"sort"
	"sync"
	"time"

	"transcription-relay/internal/clock"
	"transcription-relay/internal/observability/metrics"
)

// Connection is a registered client the registry can close.
type Connection interface {
	ID() string
	// Close closes the client with a WebSocket close code. Closing an
	// already closed connection is a no-op.
	Close(code int, reason string)
}

// ActivityRecord tracks when a client started and was last active.
type ActivityRecord struct {
	ClientID     string    `json:"clientId"`
	SessionStart time.Time `json:"sessionStart"`
	LastActivity time.Time `json:"lastActivity"`
}

// Registry owns the connection and activity tables. Both tables are updated
// under a single lock so a record exists exactly when its connection does.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Connection
	activity map[string]*ActivityRecord
	clock    clock.Clock
	metrics  *metrics.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(clk clock.Clock, m *metrics.Metrics) *Registry {
	if clk == nil {
		clk = clock.Real()
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Registry{
		clients:  make(map[string]Connection),
		activity: make(map[string]*ActivityRecord),
		clock:    clk,
		metrics:  m,
	}
}

// Add registers a connection with fresh activity timestamps.
func (r *Registry) Add(c Connection) {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c.ID()]; ok {
		return
	}
	r.clients[c.ID()] = c
	r.activity[c.ID()] = &ActivityRecord{ClientID: c.ID(), SessionStart: now, LastActivity: now}
	r.metrics.RecordClientStart()
}

// Touch records activity for a client. Returns false if it is not registered.
func (r *Registry) Touch(id string) bool {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.activity[id]
	if !ok {
		return false
	}
	rec.LastActivity = now
	return true
}

// Remove drops a client from both tables without closing it. Returns false
// if the client was not registered.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id) != nil
}

func (r *Registry) removeLocked(id string) Connection {
	c, ok := r.clients[id]
	if !ok {
		return nil
	}
	rec := r.activity[id]
	delete(r.clients, id)
	delete(r.activity, id)
	r.metrics.RecordClientEnd(r.clock.Now().Sub(rec.SessionStart).Seconds())
	return c
}

// Evict removes a client and closes it. Evicting an unknown or already
// evicted client is a no-op that returns false.
func (r *Registry) Evict(id string, code int, reason string) bool {
	r.mu.Lock()
	c := r.removeLocked(id)
	r.mu.Unlock()

	if c == nil {
		return false
	}
	c.Close(code, reason)
	return true
}

// EvictAll closes every registered client and returns how many were closed.
func (r *Registry) EvictAll(code int, reason string) int {
	r.mu.Lock()
	victims := make([]Connection, 0, len(r.clients))
	for id := range r.clients {
		victims = append(victims, r.removeLocked(id))
	}
	r.mu.Unlock()

	for _, c := range victims {
		c.Close(code, reason)
	}
	return len(victims)
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Activity returns a copy of one client's record.
func (r *Registry) Activity(id string) (ActivityRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.activity[id]
	if !ok {
		return ActivityRecord{}, false
	}
	return *rec, true
}

// Snapshot returns copies of all activity records ordered by session start.
func (r *Registry) Snapshot() []ActivityRecord {
	r.mu.RLock()
	out := make([]ActivityRecord, 0, len(r.activity))
	for _, rec := range r.activity {
		out = append(out, *rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SessionStart.Equal(out[j].SessionStart) {
			return out[i].ClientID < out[j].ClientID
		}
		return out[i].SessionStart.Before(out[j].SessionStart)
	})
	return out
}

// Expiry is one client removed by a sweep.
type Expiry struct {
	ClientID string
	Code     int
	Reason   string
}

// removeExpired atomically removes every client past either limit and
// returns them with the close code to use.
func (r *Registry) removeExpired(maxIdle, maxSession time.Duration) ([]Connection, []Expiry) {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var conns []Connection
	var expired []Expiry
	for id, rec := range r.activity {
		var e Expiry
		switch {
		case maxIdle > 0 && now.Sub(rec.LastActivity) > maxIdle:
			e = Expiry{ClientID: id, Code: closeIdleTimeout, Reason: reasonIdleTimeout}
		case maxSession > 0 && now.Sub(rec.SessionStart) > maxSession:
			e = Expiry{ClientID: id, Code: closeSessionTimeout, Reason: reasonSessionTimeout}
		default:
			continue
		}
		conns = append(conns, r.removeLocked(id))
		expired = append(expired, e)
	}
	return conns, expired
}
