// Package bus fans router emits out to the other relay nodes over NATS.
package bus

import (
	"errors"
	"fmt"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/metrics"
	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

type targetKind string

const (
	toRoom      targetKind = "room"
	toBroadcast targetKind = "broadcast"
	toConn      targetKind = "conn"
)

// Message is what travels on <prefix>.emit.
type Message struct {
	Origin string          `json:"origin"`
	Kind   targetKind      `json:"kind"`
	Room   domain.RoomName `json:"room,omitempty"`
	Conn   domain.ConnID   `json:"conn,omitempty"`
	Except domain.ConnID   `json:"except,omitempty"`
	Frame  json.RawMessage `json:"frame"`
}

// NATSRouter is a core.Router whose membership stays local while every emit
// also reaches the connections held by other nodes.
type NATSRouter struct {
	Local *app.LocalRouter

	nc      *nats.Conn
	subject string
	nodeID  string
	sub     *nats.Subscription
}

var _ core.Router = (*NATSRouter)(nil)

func NewNATSRouter(nc *nats.Conn, local *app.LocalRouter, prefix, nodeID string) (*NATSRouter, error) {
	if nodeID == "" {
		return nil, errors.New("bus: empty node id")
	}
	r := &NATSRouter{
		Local:   local,
		nc:      nc,
		subject: prefix + ".emit",
		nodeID:  nodeID,
	}
	sub, err := nc.Subscribe(r.subject, r.onMessage)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", r.subject, err)
	}
	r.sub = sub
	// the subscription must be registered server side before the first publish
	if err := nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush %s: %w", r.subject, err)
	}
	log.Info().Str("module", "bus").Str("subject", r.subject).Str("node", nodeID).Msg("subscribed")
	return r, nil
}

func (r *NATSRouter) Attach(id domain.ConnID, conn core.SignalConnection) { r.Local.Attach(id, conn) }
func (r *NATSRouter) Detach(id domain.ConnID)                             { r.Local.Detach(id) }
func (r *NATSRouter) Join(id domain.ConnID, room domain.RoomName)         { r.Local.Join(id, room) }
func (r *NATSRouter) Leave(id domain.ConnID, room domain.RoomName)        { r.Local.Leave(id, room) }
func (r *NATSRouter) Rooms(id domain.ConnID) []domain.RoomName            { return r.Local.Rooms(id) }
func (r *NATSRouter) Close(id domain.ConnID)                              { r.Local.Close(id) }

// Send delivers locally when the connection lives here, otherwise hands the
// frame to whichever node owns it.
func (r *NATSRouter) Send(id domain.ConnID, event string, payload any) error {
	f, err := core.Encode(event, payload)
	if err != nil {
		return err
	}
	err = r.Local.SendFrame(id, f)
	if !errors.Is(err, core.ErrClosed) {
		return err
	}
	r.publish(Message{Kind: toConn, Conn: id, Frame: json.RawMessage(f)})
	return nil
}

func (r *NATSRouter) Emit(room domain.RoomName, event string, payload any) core.PublishResult {
	return r.EmitExcept(room, event, payload, "")
}

func (r *NATSRouter) EmitExcept(room domain.RoomName, event string, payload any, except domain.ConnID) core.PublishResult {
	f, err := core.Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "bus").Str("event", event).Msg("encode failed")
		return core.PublishResult{}
	}
	res := r.Local.EmitFrame(room, f, except)
	r.publish(Message{Kind: toRoom, Room: room, Except: except, Frame: json.RawMessage(f)})
	return res
}

func (r *NATSRouter) Broadcast(event string, payload any) core.PublishResult {
	return r.BroadcastExcept(event, payload, "")
}

func (r *NATSRouter) BroadcastExcept(event string, payload any, except domain.ConnID) core.PublishResult {
	f, err := core.Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "bus").Str("event", event).Msg("encode failed")
		return core.PublishResult{}
	}
	res := r.Local.BroadcastFrame(f, except)
	r.publish(Message{Kind: toBroadcast, Except: except, Frame: json.RawMessage(f)})
	return res
}

func (r *NATSRouter) publish(m Message) {
	m.Origin = r.nodeID
	data, err := json.Marshal(m)
	if err != nil {
		metrics.BusMessages.WithLabelValues("out", "error").Inc()
		log.Error().Err(err).Str("module", "bus").Msg("marshal failed")
		return
	}
	if err := r.nc.Publish(r.subject, data); err != nil {
		metrics.BusMessages.WithLabelValues("out", "error").Inc()
		log.Warn().Err(err).Str("module", "bus").Str("kind", string(m.Kind)).Msg("publish failed")
		return
	}
	metrics.BusMessages.WithLabelValues("out", "ok").Inc()
}

func (r *NATSRouter) onMessage(msg *nats.Msg) {
	var m Message
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		metrics.BusMessages.WithLabelValues("in", "error").Inc()
		log.Warn().Err(err).Str("module", "bus").Msg("bad bus message")
		return
	}
	if m.Origin == r.nodeID {
		return
	}
	metrics.BusMessages.WithLabelValues("in", "ok").Inc()

	f := core.Frame(m.Frame)
	switch m.Kind {
	case toRoom:
		r.Local.EmitFrame(m.Room, f, m.Except)
	case toBroadcast:
		r.Local.BroadcastFrame(f, m.Except)
	case toConn:
		// only the owning node has it; everybody else ignores ErrClosed
		_ = r.Local.SendFrame(m.Conn, f)
	default:
		log.Warn().Str("module", "bus").Str("kind", string(m.Kind)).Str("origin", m.Origin).Msg("unknown target")
	}
}

// Shutdown stops receiving remote emits. The NATS connection is left to the caller.
func (r *NATSRouter) Shutdown() error {
	if r.sub == nil {
		return nil
	}
	return r.sub.Unsubscribe()
}
