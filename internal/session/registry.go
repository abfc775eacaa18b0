package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// defaultTTL is how long a session may sit idle before the reaper drops it.
const defaultTTL = 30 * time.Minute

// Summary describes an active session for listings.
type Summary struct {
	CallID       string    `json:"call_id"`
	State        string    `json:"state"`
	Turns        int       `json:"turns"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Registry owns the CallSession of every active call, keyed by call id.
// It is safe for concurrent use.
type Registry struct {
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*CallSession
	ttl      time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger.With("subsystem", "sessions"),
		now:      time.Now,
		sessions: make(map[string]*CallSession),
		ttl:      defaultTTL,
	}
}

// SetTTL changes the idle timeout used by the reaper.
func (r *Registry) SetTTL(ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ttl = ttl
}

// GetOrCreate returns the session for id, creating an empty one if none
// exists. Lookup and insert happen under one lock, so concurrent callers
// with the same id always receive the same instance.
func (r *Registry) GetOrCreate(id string) *CallSession {
	s, _ := r.Claim(id)
	return s
}

// Claim is GetOrCreate that also reports whether this call created the
// session. Exactly one of any number of concurrent callers for a new id
// sees created == true.
func (r *Registry) Claim(id string) (s *CallSession, created bool) {
	now := r.now()

	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		s = newCallSession(id, now)
		r.sessions[id] = s
	}
	r.mu.Unlock()

	if ok {
		s.Touch(now)
	} else {
		r.logger.Debug("call session created", "call_id", id)
	}
	return s, !ok
}

// Get returns the session for id if one exists.
func (r *Registry) Get(id string) (*CallSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes the session for id. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		r.logger.Debug("call session removed", "call_id", id)
	}
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshot summarizes all active sessions, oldest first.
func (r *Registry) Snapshot() []Summary {
	r.mu.Lock()
	all := make([]*CallSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	out := make([]Summary, 0, len(all))
	for _, s := range all {
		out = append(out, Summary{
			CallID:       s.ID,
			State:        s.State().String(),
			Turns:        s.TurnCount(),
			CreatedAt:    s.CreatedAt,
			LastActivity: s.LastActivity(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// StartReaper runs a background goroutine that removes sessions idle for
// longer than the TTL. It stops when ctx is cancelled.
func (r *Registry) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.reapIdle()
			}
		}
	}()
}

// reapIdle removes every session whose last activity is older than the TTL
// and returns how many were removed.
func (r *Registry) reapIdle() int {
	r.mu.Lock()
	cutoff := r.now().Add(-r.ttl)
	var reaped []string
	for id, s := range r.sessions {
		if s.LastActivity().Before(cutoff) {
			delete(r.sessions, id)
			reaped = append(reaped, id)
		}
	}
	remaining := len(r.sessions)
	r.mu.Unlock()

	if len(reaped) > 0 {
		r.logger.Info("idle call sessions reaped", "count", len(reaped), "remaining", remaining)
	}
	return len(reaped)
}
