package orch

import (
	"errors"
	"fmt"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/metrics"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const (
	ChatDeletedAuto   = "auto"
	ChatDeletedGlobal = "global"
)

type ConnState int

const (
	Unauthenticated ConnState = iota
	Registered
	Closed
)

func (s ConnState) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Registered:
		return "registered"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// Peer is the dispatcher-side state of one connection. It is owned by the
// connection's read loop and must not be shared.
type Peer struct {
	ID     domain.ConnID
	Device string
	UserID domain.UserID
	State  ConnState
}

type handlerFunc func(o *Orchestrator, p *Peer, data json.RawMessage) error

var handlers = map[string]handlerFunc{
	core.EventSetup:       (*Orchestrator).handleSetup,
	core.EventJoinChat:    (*Orchestrator).handleJoinChat,
	core.EventNewMessage:  (*Orchestrator).handleNewMessage,
	core.EventTyping:      (*Orchestrator).handleTyping,
	core.EventStopTyping:  (*Orchestrator).handleStopTyping,
	core.EventMessageRead: (*Orchestrator).handleMessageRead,
	core.EventChatUpdated: (*Orchestrator).handleChatUpdated,
	core.EventChatDeleted: (*Orchestrator).handleChatDeleted,
}

// Orchestrator is the event dispatcher: it validates inbound events and
// turns them into registry transitions and router emits.
type Orchestrator struct {
	Registry *app.Registry
	Router   core.Router
	Presence *app.Presence
	Policy   app.Policy

	// ChatDeletedScope is ChatDeletedAuto or ChatDeletedGlobal.
	ChatDeletedScope string

	validate *validator.Validate
}

func New(reg *app.Registry, router core.Router, writer core.StatusWriter, policy app.Policy) *Orchestrator {
	if policy == nil {
		policy = app.DropPolicy{}
	}
	return &Orchestrator{
		Registry:         reg,
		Router:           router,
		Presence:         app.NewPresence(reg, router, writer),
		Policy:           policy,
		ChatDeletedScope: ChatDeletedAuto,
		validate:         validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Connect attaches a fresh transport. The returned peer starts unauthenticated.
func (o *Orchestrator) Connect(id domain.ConnID, conn core.SignalConnection, device string) *Peer {
	o.Router.Attach(id, conn)
	log.Info().Str("module", "orch").Str("sid", string(id)).Msg("connected")
	return &Peer{ID: id, Device: device, State: Unauthenticated}
}

// Dispatch routes one inbound event. Errors wrapping domain.ErrMalformedSetup
// must close the connection; any other error only drops the event.
func (o *Orchestrator) Dispatch(p *Peer, env core.Envelope) error {
	if p.State == Closed {
		return fmt.Errorf("%w: connection closed", domain.ErrProtocol)
	}
	h, ok := handlers[env.Event]
	if !ok {
		metrics.EventsReceived.WithLabelValues("unknown", "rejected").Inc()
		return fmt.Errorf("%w: %q", domain.ErrUnknownEvent, env.Event)
	}
	if p.State != Registered && env.Event != core.EventSetup {
		metrics.EventsReceived.WithLabelValues(env.Event, "rejected").Inc()
		return fmt.Errorf("%w: %q before setup", domain.ErrUnauthenticated, env.Event)
	}
	if err := h(o, p, env.Data); err != nil {
		metrics.EventsReceived.WithLabelValues(env.Event, "dropped").Inc()
		return err
	}
	metrics.EventsReceived.WithLabelValues(env.Event, "ok").Inc()
	return nil
}

// Disconnect runs the offline transition. It is safe to call more than once.
func (o *Orchestrator) Disconnect(p *Peer) {
	if p.State == Closed {
		return
	}
	wasRegistered := p.State == Registered
	p.State = Closed
	o.Router.Detach(p.ID)
	if !wasRegistered {
		log.Info().Str("module", "orch").Str("sid", string(p.ID)).Msg("closed before setup")
		return
	}
	if _, _, ok := o.Presence.Disconnected(p.ID); !ok {
		log.Info().Str("module", "orch").Str("sid", string(p.ID)).Str("user", string(p.UserID)).
			Msg("connection already replaced, presence unchanged")
	}
}

// applyPolicy reacts to recipients whose buffer was full.
func (o *Orchestrator) applyPolicy(room domain.RoomName, res core.PublishResult) {
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("sid", string(slow)).Str("room", string(room)).Msg("kicking slow connection")
			o.Router.Close(slow)
		case app.DropFrame, app.NoAction:
			log.Debug().Str("module", "orch").Str("sid", string(slow)).Str("room", string(room)).Msg("frame dropped")
		}
	}
}

func (o *Orchestrator) decode(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("%w: empty payload", domain.ErrMalformedPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if err := o.validate.Struct(v); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return nil
		}
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	return nil
}
