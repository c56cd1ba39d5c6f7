package app

import (
	"sync"
	"time"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Registry maps users to their current connection and presence status.
// Entries outlive their connection so lastSeen stays queryable; the
// retention sweeper bounds them.
type Registry struct {
	mu       sync.RWMutex
	users    map[domain.UserID]*domain.ConnectionEntry
	byConn   map[domain.ConnID]domain.UserID
	now      func() time.Time
	version  uint64
	onChange func(domain.ConnectionEntry)
}

func NewRegistry() *Registry {
	return NewRegistryWithClock(time.Now)
}

func NewRegistryWithClock(now func() time.Time) *Registry {
	return &Registry{
		users:  make(map[domain.UserID]*domain.ConnectionEntry),
		byConn: make(map[domain.ConnID]domain.UserID),
		now:    now,
	}
}

// OnTransition installs fn to run for every Register and Unregister while the
// registry lock is held, so fn observes transitions in the order they were
// applied. fn must not block or call back into the registry.
func (r *Registry) OnTransition(fn func(domain.ConnectionEntry)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Register binds uid to cid and marks it online. A previous connection of the
// same user loses its index entry, so its disconnect no longer affects uid.
func (r *Registry) Register(uid domain.UserID, cid domain.ConnID, device string) domain.ConnectionEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.users[uid]; ok && prev.ConnID != "" && prev.ConnID != cid {
		delete(r.byConn, prev.ConnID)
		log.Info().Str("module", "app.registry").Str("user", string(uid)).
			Str("replaced_sid", string(prev.ConnID)).Str("sid", string(cid)).Msg("connection replaced")
	}
	entry := &domain.ConnectionEntry{
		UserID: uid,
		ConnID: cid,
		Device: device,
		Status: domain.StatusOnline,
	}
	r.users[uid] = entry
	r.byConn[cid] = uid
	r.transitionLocked(entry)
	log.Info().Str("module", "app.registry").Str("user", string(uid)).Str("sid", string(cid)).Msg("registered")
	return *entry
}

// Unregister marks the owner of cid offline. ok is false when no user is bound
// to cid, e.g. the connection closed before setup completed.
func (r *Registry) Unregister(cid domain.ConnID) (domain.ConnectionEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	uid, ok := r.byConn[cid]
	if !ok {
		log.Debug().Str("module", "app.registry").Str("sid", string(cid)).Msg("unregister: no entry for connection")
		return domain.ConnectionEntry{}, false
	}
	delete(r.byConn, cid)
	entry := r.users[uid]
	now := r.now().UTC()
	entry.ConnID = ""
	entry.Status = domain.StatusOffline
	entry.LastSeen = &now
	r.transitionLocked(entry)
	log.Info().Str("module", "app.registry").Str("user", string(uid)).Str("sid", string(cid)).Msg("unregistered")
	return copyEntry(entry), true
}

func (r *Registry) UserOf(cid domain.ConnID) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	uid, ok := r.byConn[cid]
	return uid, ok
}

func (r *Registry) Lookup(uid domain.UserID) (domain.ConnectionEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.users[uid]
	if !ok {
		return domain.ConnectionEntry{}, false
	}
	return copyEntry(e), true
}

// Snapshot returns a deep copy safe to hand to other goroutines.
func (r *Registry) Snapshot() domain.PresenceSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(domain.PresenceSnapshot, len(r.users))
	for uid, e := range r.users {
		out[uid] = domain.PresenceState{Status: e.Status, LastSeen: copyTime(e.LastSeen)}
	}
	return out
}

// EvictOffline drops offline entries last seen before the cutoff.
func (r *Registry) EvictOffline(before time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for uid, e := range r.users {
		if e.Status == domain.StatusOffline && e.LastSeen != nil && e.LastSeen.Before(before) {
			delete(r.users, uid)
			n++
		}
	}
	if n > 0 {
		r.observeLocked()
	}
	return n
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

func (r *Registry) transitionLocked(e *domain.ConnectionEntry) {
	r.version++
	e.Version = r.version
	r.observeLocked()
	if r.onChange != nil {
		r.onChange(copyEntry(e))
	}
}

func (r *Registry) observeLocked() {
	metrics.RegistryEntries.Set(float64(len(r.users)))
	metrics.UsersOnline.Set(float64(len(r.byConn)))
}

func copyEntry(e *domain.ConnectionEntry) domain.ConnectionEntry {
	out := *e
	out.LastSeen = copyTime(e.LastSeen)
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
