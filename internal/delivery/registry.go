package delivery

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// sessionKey is the (user, guid) identity a Registry keys sessions by.
type sessionKey struct {
	user string
	guid string
}

// Registry maps (user, guid) to Session, creating sessions on first
// contact and reaping expired ones. Insert-if-absent is atomic; iteration
// snapshots the session list under a read lock before releasing it, so
// fan-out operations never hold the registry lock while calling into a
// Session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[sessionKey]*Session

	cfg    Config
	clock  Clock
	logger *slog.Logger
}

// NewRegistry creates an empty Registry using cfg as the default
// configuration for every session it creates.
func NewRegistry(cfg Config, clock Clock, logger *slog.Logger) *Registry {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[sessionKey]*Session),
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
	}
}

// LookupOrCreate returns the Session for (user, guid), creating it on
// first contact. Creation is idempotent: concurrent callers racing on the
// same key converge on the same Session.
func (r *Registry) LookupOrCreate(user, guid string) *Session {
	key := sessionKey{user: user, guid: guid}

	r.mu.RLock()
	s, ok := r.sessions[key]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok {
		return s
	}
	s = NewSession(user, guid, r.cfg, r.clock, r.logger)
	r.sessions[key] = s
	r.logger.Info("delivery: session created", "user", user, "guid", guid)
	return s
}

// Remove deletes the session for (user, guid), if any.
func (r *Registry) Remove(user, guid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionKey{user: user, guid: guid})
}

// snapshot returns a copy of the current (key, session) pairs, safe to
// range over without holding the registry lock.
func (r *Registry) snapshot() map[sessionKey]*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[sessionKey]*Session, len(r.sessions))
	for k, s := range r.sessions {
		out[k] = s
	}
	return out
}

// Reap removes every session with empty queues, no attachment, and a
// deadline that elapsed more than graceWindow ago. Returns the count
// removed.
func (r *Registry) Reap(now time.Time, graceWindow time.Duration) int {
	removed := 0
	for k, s := range r.snapshot() {
		if !s.Reapable(now, graceWindow) {
			continue
		}
		r.mu.Lock()
		if cur, ok := r.sessions[k]; ok && cur == s {
			delete(r.sessions, k)
			removed++
		}
		r.mu.Unlock()
	}
	if removed > 0 {
		r.logger.Info("delivery: reaped idle sessions", "count", removed)
	}
	return removed
}

// ForEachTick calls Tick on every current session — the scheduler's entry
// point, normally invoked on a periodic ticker alongside Reap.
func (r *Registry) ForEachTick(ctx context.Context) {
	for _, s := range r.snapshot() {
		s.Tick(ctx)
	}
}

// Predicate selects which sessions a Broadcast call targets.
type Predicate func(user, guid string) bool

// Broadcast enqueues data (with the given lifetimes) and flushes every
// session matching predicate. A nil predicate matches every session. This
// is the "trivial broadcaster" the spec calls out for cross-session
// fan-out — it has no ordering guarantees across sessions, only within
// each one's own flush.
func (r *Registry) Broadcast(ctx context.Context, predicate Predicate, data any, strongLifetime, softLifetime time.Duration) {
	for k, s := range r.snapshot() {
		if predicate != nil && !predicate(k.user, k.guid) {
			continue
		}
		s.Enqueue(data, strongLifetime, softLifetime)
		s.Flush(ctx)
	}
}

// Drain issues a final tick across every session, then forces any
// batch-attached long-poll still open to receive its empty "[]" response
// and detach, for use during graceful shutdown rather than hanging until
// the process exits.
func (r *Registry) Drain(ctx context.Context) {
	for _, s := range r.snapshot() {
		s.Tick(ctx)
		s.DrainOnShutdown(ctx)
	}
}

// Len reports the current number of tracked sessions, primarily for
// metrics/logging.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
