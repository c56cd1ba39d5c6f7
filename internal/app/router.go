package app

import (
	"slices"
	"sync"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type routedConn struct {
	signal core.SignalConnection
	rooms  map[domain.RoomName]struct{}
}

// LocalRouter is the in-process fan-out. It never closes adapter-owned
// resources except through Close.
type LocalRouter struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]*routedConn
	rooms map[domain.RoomName]map[domain.ConnID]struct{}
}

var _ core.Router = (*LocalRouter)(nil)

func NewLocalRouter() *LocalRouter {
	return &LocalRouter{
		conns: make(map[domain.ConnID]*routedConn),
		rooms: make(map[domain.RoomName]map[domain.ConnID]struct{}),
	}
}

func (r *LocalRouter) Attach(id domain.ConnID, conn core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &routedConn{signal: conn, rooms: make(map[domain.RoomName]struct{})}
	metrics.ConnectionsActive.Set(float64(len(r.conns)))
	log.Debug().Str("module", "app.router").Str("sid", string(id)).Msg("attached")
}

func (r *LocalRouter) Detach(id domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc, ok := r.conns[id]
	if !ok {
		return
	}
	for room := range rc.rooms {
		r.removeMemberLocked(room, id)
	}
	delete(r.conns, id)
	metrics.ConnectionsActive.Set(float64(len(r.conns)))
	log.Debug().Str("module", "app.router").Str("sid", string(id)).Int("rooms", len(rc.rooms)).Msg("detached")
}

func (r *LocalRouter) Join(id domain.ConnID, room domain.RoomName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc, ok := r.conns[id]
	if !ok {
		log.Warn().Str("module", "app.router").Str("sid", string(id)).Str("room", string(room)).Msg("join: unknown connection")
		return
	}
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[domain.ConnID]struct{})
		r.rooms[room] = members
	}
	members[id] = struct{}{}
	rc.rooms[room] = struct{}{}
}

func (r *LocalRouter) Leave(id domain.ConnID, room domain.RoomName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rc, ok := r.conns[id]; ok {
		delete(rc.rooms, room)
	}
	r.removeMemberLocked(room, id)
}

func (r *LocalRouter) removeMemberLocked(room domain.RoomName, id domain.ConnID) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

func (r *LocalRouter) Rooms(id domain.ConnID) []domain.RoomName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rc, ok := r.conns[id]
	if !ok {
		return nil
	}
	out := lo.Keys(rc.rooms)
	slices.Sort(out)
	return out
}

// MemberCount reports how many connections joined room.
func (r *LocalRouter) MemberCount(room domain.RoomName) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

func (r *LocalRouter) Send(id domain.ConnID, event string, payload any) error {
	f, err := core.Encode(event, payload)
	if err != nil {
		return err
	}
	return r.SendFrame(id, f)
}

func (r *LocalRouter) Emit(room domain.RoomName, event string, payload any) core.PublishResult {
	return r.EmitExcept(room, event, payload, "")
}

func (r *LocalRouter) EmitExcept(room domain.RoomName, event string, payload any, except domain.ConnID) core.PublishResult {
	f, ok := encodeOrLog(event, payload)
	if !ok {
		return core.PublishResult{}
	}
	return r.EmitFrame(room, f, except)
}

func (r *LocalRouter) Broadcast(event string, payload any) core.PublishResult {
	return r.BroadcastExcept(event, payload, "")
}

func (r *LocalRouter) BroadcastExcept(event string, payload any, except domain.ConnID) core.PublishResult {
	f, ok := encodeOrLog(event, payload)
	if !ok {
		return core.PublishResult{}
	}
	return r.BroadcastFrame(f, except)
}

// SendFrame delivers an encoded frame to one connection.
func (r *LocalRouter) SendFrame(id domain.ConnID, f core.Frame) error {
	r.mu.RLock()
	rc, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return core.ErrClosed
	}
	if err := rc.signal.TrySend(f); err != nil {
		metrics.FramesDropped.Inc()
		return err
	}
	metrics.FramesSent.Inc()
	return nil
}

// EmitFrame delivers an encoded frame to every member of room but except.
func (r *LocalRouter) EmitFrame(room domain.RoomName, f core.Frame, except domain.ConnID) core.PublishResult {
	r.mu.RLock()
	targets := make([]target, 0, len(r.rooms[room]))
	for id := range r.rooms[room] {
		if id == except {
			continue
		}
		if rc, ok := r.conns[id]; ok {
			targets = append(targets, target{id: id, signal: rc.signal})
		}
	}
	r.mu.RUnlock()
	return deliver(targets, f)
}

// BroadcastFrame delivers an encoded frame to every attached connection but except.
func (r *LocalRouter) BroadcastFrame(f core.Frame, except domain.ConnID) core.PublishResult {
	r.mu.RLock()
	targets := make([]target, 0, len(r.conns))
	for id, rc := range r.conns {
		if id == except {
			continue
		}
		targets = append(targets, target{id: id, signal: rc.signal})
	}
	r.mu.RUnlock()
	return deliver(targets, f)
}

func (r *LocalRouter) Close(id domain.ConnID) {
	r.mu.RLock()
	rc, ok := r.conns[id]
	r.mu.RUnlock()
	if ok {
		rc.signal.Close()
	}
}

// CloseAll closes every attached transport; their read loops run the
// regular disconnect path.
func (r *LocalRouter) CloseAll() int {
	r.mu.RLock()
	signals := make([]core.SignalConnection, 0, len(r.conns))
	for _, rc := range r.conns {
		signals = append(signals, rc.signal)
	}
	r.mu.RUnlock()
	for _, s := range signals {
		s.Close()
	}
	return len(signals)
}

type target struct {
	id     domain.ConnID
	signal core.SignalConnection
}

// deliver runs outside the router lock so a slow recipient cannot stall it.
func deliver(targets []target, f core.Frame) core.PublishResult {
	res := core.PublishResult{}
	for _, t := range targets {
		if err := t.signal.TrySend(f); err != nil {
			res.Dropped = append(res.Dropped, t.id)
			continue
		}
		res.SentTo++
	}
	metrics.FramesSent.Add(float64(res.SentTo))
	metrics.FramesDropped.Add(float64(len(res.Dropped)))
	return res
}

func encodeOrLog(event string, payload any) (core.Frame, bool) {
	f, err := core.Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Str("event", event).Msg("encode failed")
		return nil, false
	}
	return f, true
}
