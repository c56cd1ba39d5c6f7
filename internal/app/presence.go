package app

import (
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog/log"
)

// Presence keeps every connection's view of who is online in step with the
// registry and mirrors transitions to the durable store.
type Presence struct {
	Registry *Registry
	Router   core.Router
}

// NewPresence wires writer to the registry so durable writes are queued in
// the order the registry applied them.
func NewPresence(reg *Registry, router core.Router, writer core.StatusWriter) *Presence {
	if writer != nil {
		reg.OnTransition(func(e domain.ConnectionEntry) {
			writer.Write(e.UserID, e.Status, e.LastSeen)
		})
	}
	return &Presence{Registry: reg, Router: router}
}

// Connected registers uid on cid, sends the snapshot to cid and then
// broadcasts the online delta to everybody else.
func (p *Presence) Connected(uid domain.UserID, cid domain.ConnID, device string) (domain.ConnectionEntry, core.PublishResult) {
	entry := p.Registry.Register(uid, cid, device)
	p.Router.Join(cid, domain.UserRoom(uid))

	// The snapshot is read after Register so it already contains uid.
	snap := p.Registry.Snapshot()
	if err := p.Router.Send(cid, core.EventOnlineUsers, snap); err != nil {
		log.Warn().Err(err).Str("module", "app.presence").Str("sid", string(cid)).Msg("snapshot not delivered")
	}
	res := p.publish(entry, cid)

	log.Info().Str("module", "app.presence").Str("user", string(uid)).Str("sid", string(cid)).
		Int("users", len(snap)).Int("notified", res.SentTo).Msg("online")
	return entry, res
}

// Disconnected flips the owner of cid offline. ok is false when cid never
// completed setup or was replaced by a newer connection of the same user.
func (p *Presence) Disconnected(cid domain.ConnID) (domain.ConnectionEntry, core.PublishResult, bool) {
	entry, ok := p.Registry.Unregister(cid)
	if !ok {
		return domain.ConnectionEntry{}, core.PublishResult{}, false
	}
	res := p.publish(entry, cid)
	log.Info().Str("module", "app.presence").Str("user", string(entry.UserID)).Str("sid", string(cid)).
		Time("last_seen", *entry.LastSeen).Int("notified", res.SentTo).Msg("offline")
	return entry, res, true
}

// publish broadcasts entry's delta. When the user moved on while the delta
// was in flight, a newer transition may already have been broadcast, so the
// current state is sent again until the last delta out is the latest one.
func (p *Presence) publish(entry domain.ConnectionEntry, except domain.ConnID) core.PublishResult {
	res := p.Router.BroadcastExcept(core.EventStatusUpdate, entry.Delta(), except)
	for {
		cur, ok := p.Registry.Lookup(entry.UserID)
		if !ok || cur.Version == entry.Version {
			return res
		}
		log.Debug().Str("module", "app.presence").Str("user", string(entry.UserID)).
			Str("status", string(cur.Status)).Msg("superseded, republishing current state")
		entry = cur
		res.Merge(p.Router.BroadcastExcept(core.EventStatusUpdate, entry.Delta(), except))
	}
}
