package relay

import (
	"sort"
	"sync"
	"time"

	"github.com/bt-bridge/voice-relay/metrics"
)

// Registry tracks the last activity of every known session.
type Registry struct {
	mu         sync.RWMutex
	lastActive map[string]time.Time
	now        func() time.Time
}

// NewRegistry returns an empty registry. A nil clock means time.Now.
func NewRegistry(clock func() time.Time) *Registry {
	if clock == nil {
		clock = time.Now
	}
	return &Registry{
		lastActive: make(map[string]time.Time),
		now:        clock,
	}
}

// Touch marks the session active now, inserting it if absent.
func (r *Registry) Touch(sessionID string) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastActive[sessionID] = now
	metrics.SetActiveSessions(len(r.lastActive))
}

// MostRecent returns the session with the latest activity. Ties go to the
// lexicographically smallest id.
func (r *Registry) MostRecent() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		bestID string
		bestAt time.Time
		found  bool
	)
	for id, at := range r.lastActive {
		if !found || at.After(bestAt) || (at.Equal(bestAt) && id < bestID) {
			bestID, bestAt, found = id, at, true
		}
	}
	return bestID, found
}

// EvictOlderThan removes and returns, sorted, every session idle for more than ttl.
func (r *Registry) EvictOlderThan(ttl time.Duration) []string {
	return r.Expire(ttl, nil)
}

// Expire is EvictOlderThan with release called for each evicted id, in order,
// before the registry is unlocked. A Touch racing the eviction waits until
// every released session is fully gone, so it starts the session afresh.
func (r *Registry) Expire(ttl time.Duration, release func(sessionID string)) []string {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []string
	for id, at := range r.lastActive {
		if now.Sub(at) > ttl {
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	for _, id := range expired {
		delete(r.lastActive, id)
	}
	metrics.SetActiveSessions(len(r.lastActive))
	if release != nil {
		for _, id := range expired {
			release(id)
		}
	}
	return expired
}

func (r *Registry) LastActive(sessionID string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	at, ok := r.lastActive[sessionID]
	return at, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.lastActive)
}
