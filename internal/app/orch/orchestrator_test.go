package orch

import (
	"sync"
	"testing"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/mocks"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type memConn struct {
	mu     sync.Mutex
	frames []core.Envelope
	full   bool
	closed bool
}

func (c *memConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrClosed
	}
	if c.full {
		return core.ErrBackpressure
	}
	env, err := core.Decode(f)
	if err != nil {
		return err
	}
	c.frames = append(c.frames, env)
	return nil
}

func (c *memConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *memConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

func (c *memConn) byEvent(event string) []core.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []core.Envelope
	for _, f := range c.frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func (c *memConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

type harness struct {
	o      *Orchestrator
	router *app.LocalRouter
}

func newHarness(t *testing.T) *harness {
	ctrl := gomock.NewController(t)
	writer := mocks.NewMockStatusWriter(ctrl)
	writer.EXPECT().Write(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
	router := app.NewLocalRouter()
	return &harness{o: New(app.NewRegistry(), router, writer, nil), router: router}
}

func (h *harness) connect(id domain.ConnID) (*Peer, *memConn) {
	c := &memConn{}
	return h.o.Connect(id, c, "device-"+string(id)), c
}

func (h *harness) setup(t *testing.T, id domain.ConnID, uid domain.UserID) (*Peer, *memConn) {
	t.Helper()
	p, c := h.connect(id)
	require.NoError(t, h.o.Dispatch(p, envelope(t, core.EventSetup, map[string]string{"_id": string(uid)})))
	return p, c
}

func envelope(t *testing.T, event string, payload any) core.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return core.Envelope{Event: event, Data: data}
}

func rawEnvelope(event, data string) core.Envelope {
	return core.Envelope{Event: event, Data: json.RawMessage(data)}
}

func TestDispatch_Setup(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	p, c := h.connect("s1")

	err := h.o.Dispatch(p, rawEnvelope(core.EventSetup, `{"_id":"u1","name":"Ann","email":"ann@example.com"}`))

	req.NoError(err)
	req.Equal(Registered, p.State)
	req.Equal(domain.UserID("u1"), p.UserID)
	snaps := c.byEvent(core.EventOnlineUsers)
	req.Len(snaps, 1)
	var snap domain.PresenceSnapshot
	req.NoError(json.Unmarshal(snaps[0].Data, &snap))
	req.Contains(snap, domain.UserID("u1"))
	entry, ok := h.o.Registry.Lookup("u1")
	req.True(ok)
	req.Equal("device-s1", entry.Device)
}

func TestDispatch_MalformedSetup(t *testing.T) {
	for name, data := range map[string]string{
		"no payload":   ``,
		"null":         `null`,
		"not object":   `"u1"`,
		"missing id":   `{"name":"Ann"}`,
		"blank id":     `{"_id":"   "}`,
		"invalid json": `{"_id":`,
	} {
		t.Run(name, func(t *testing.T) {
			req := require.New(t)
			h := newHarness(t)
			p, _ := h.connect("s1")

			err := h.o.Dispatch(p, rawEnvelope(core.EventSetup, data))

			req.ErrorIs(err, domain.ErrMalformedSetup)
			req.Equal(Unauthenticated, p.State)
			req.Zero(h.o.Registry.Len())
		})
	}
}

func TestDispatch_EventBeforeSetup(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	p, _ := h.connect("s1")

	err := h.o.Dispatch(p, rawEnvelope(core.EventJoinChat, `"c1"`))

	req.ErrorIs(err, domain.ErrUnauthenticated)
	req.Empty(h.router.Rooms("s1"))
}

func TestDispatch_UnknownEvent(t *testing.T) {
	h := newHarness(t)
	p, _ := h.setup(t, "s1", "u1")

	err := h.o.Dispatch(p, rawEnvelope("launch rockets", `{}`))

	require.ErrorIs(t, err, domain.ErrUnknownEvent)
}

func TestDispatch_SetupAsAnotherUserIsRejected(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	p, _ := h.setup(t, "s1", "u1")

	err := h.o.Dispatch(p, rawEnvelope(core.EventSetup, `{"_id":"u2"}`))

	req.ErrorIs(err, domain.ErrProtocol)
	req.Equal(domain.UserID("u1"), p.UserID)
	_, ok := h.o.Registry.Lookup("u2")
	req.False(ok)

	// the same identity again is fine
	req.NoError(h.o.Dispatch(p, rawEnvelope(core.EventSetup, `{"userId":"u1"}`)))
}

func TestDispatch_AfterDisconnect(t *testing.T) {
	h := newHarness(t)
	p, _ := h.setup(t, "s1", "u1")
	h.o.Disconnect(p)

	err := h.o.Dispatch(p, rawEnvelope(core.EventTyping, `"c1"`))

	require.ErrorIs(t, err, domain.ErrProtocol)
}

func TestPresenceScenario_TwoUsers(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	// u1 connects and sees only itself
	p1, c1 := h.setup(t, "s1", "u1")
	snap := decodeSnapshot(t, c1.byEvent(core.EventOnlineUsers)[0])
	req.Len(snap, 1)
	req.Equal(domain.StatusOnline, snap["u1"].Status)

	// u2 connects, sees both, u1 gets the delta
	p2, c2 := h.setup(t, "s2", "u2")
	snap = decodeSnapshot(t, c2.byEvent(core.EventOnlineUsers)[0])
	req.Len(snap, 2)
	deltas := c1.byEvent(core.EventStatusUpdate)
	req.Len(deltas, 1)
	d := decodeDelta(t, deltas[0])
	req.Equal(domain.UserID("u2"), d.UserID)
	req.Equal(domain.StatusOnline, d.Status)

	// u1 leaves, u2 gets exactly one offline delta
	h.o.Disconnect(p1)
	deltas = c2.byEvent(core.EventStatusUpdate)
	req.Len(deltas, 1)
	d = decodeDelta(t, deltas[0])
	req.Equal(domain.UserID("u1"), d.UserID)
	req.Equal(domain.StatusOffline, d.Status)
	req.NotNil(d.LastSeen)

	// disconnect is idempotent
	h.o.Disconnect(p1)
	req.Len(c2.byEvent(core.EventStatusUpdate), 1)
	req.Equal(Closed, p1.State)
	req.Equal(Registered, p2.State)
}

func TestDisconnect_ReplacedConnectionKeepsUserOnline(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	old, _ := h.setup(t, "s1", "u1")
	h.setup(t, "s2", "u1")
	_, watcher := h.setup(t, "s3", "u3")
	watcher.reset()

	h.o.Disconnect(old)

	entry, _ := h.o.Registry.Lookup("u1")
	req.Equal(domain.StatusOnline, entry.Status)
	req.Equal(domain.ConnID("s2"), entry.ConnID)
	req.Empty(watcher.byEvent(core.EventStatusUpdate))
}

func TestDisconnect_BeforeSetup(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	_, watcher := h.setup(t, "s2", "u2")
	watcher.reset()
	p, _ := h.connect("s1")

	h.o.Disconnect(p)

	req.Zero(watcher.count())
	req.Equal(Closed, p.State)
}

func TestTypingScenario_OnlyJoinedConnections(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	p1, c1 := h.setup(t, "s1", "u1")
	p2, c2 := h.setup(t, "s2", "u2")
	_, c3 := h.setup(t, "s3", "u3")

	req.NoError(h.o.Dispatch(p1, rawEnvelope(core.EventJoinChat, `"c1"`)))
	req.NoError(h.o.Dispatch(p2, rawEnvelope(core.EventJoinChat, `"c1"`)))

	req.NoError(h.o.Dispatch(p1, rawEnvelope(core.EventTyping, `"c1"`)))
	req.NoError(h.o.Dispatch(p1, rawEnvelope(core.EventStopTyping, `"c1"`)))

	typing := c2.byEvent(core.EventTyping)
	req.Len(typing, 1)
	req.JSONEq(`"c1"`, string(typing[0].Data))
	req.Len(c2.byEvent(core.EventStopTyping), 1)
	req.Empty(c1.byEvent(core.EventTyping))
	req.Empty(c3.byEvent(core.EventTyping))
	req.Empty(c3.byEvent(core.EventStopTyping))
}

func TestTyping_RelaysChatIDAsReceived(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	p1, _ := h.setup(t, "s1", "u1")
	p2, c2 := h.setup(t, "s2", "u2")

	req.NoError(h.o.Dispatch(p2, rawEnvelope(core.EventJoinChat, `"c1"`)))
	req.NoError(h.o.Dispatch(p1, rawEnvelope(core.EventTyping, `" c1 "`)))

	// the padded id still lands in room c1 and is echoed untouched
	typing := c2.byEvent(core.EventTyping)
	req.Len(typing, 1)
	req.JSONEq(`" c1 "`, string(typing[0].Data))
}

func TestTyping_MalformedChatID(t *testing.T) {
	h := newHarness(t)
	p, _ := h.setup(t, "s1", "u1")
	for _, data := range []string{`""`, `{"_id":"c1"}`, `12`, ``} {
		require.ErrorIs(t, h.o.Dispatch(p, rawEnvelope(core.EventTyping, data)), domain.ErrMalformedPayload)
	}
}

func TestNewMessage_FansOutToMembersExceptSender(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	p1, c1 := h.setup(t, "s1", "u1")
	_, c2a := h.setup(t, "s2a", "u2")
	_, c2b := h.setup(t, "s2b", "u2") // second tab of u2
	_, c3 := h.setup(t, "s3", "u3")
	_, c4 := h.setup(t, "s4", "u4")

	msg := `{"_id":"m1","content":"hello","sender":{"_id":"u1","name":"Ann"},` +
		`"chat":{"_id":"c1","users":[{"_id":"u1"},{"_id":"u2"},"u3"]}}`
	req.NoError(h.o.Dispatch(p1, rawEnvelope(core.EventNewMessage, msg)))

	for _, c := range []*memConn{c2a, c2b, c3} {
		got := c.byEvent(core.EventMessageReceived)
		req.Len(got, 1)
		req.JSONEq(msg, string(got[0].Data))
	}
	req.Empty(c1.byEvent(core.EventMessageReceived))
	req.Empty(c4.byEvent(core.EventMessageReceived))
}

func TestNewMessage_Malformed(t *testing.T) {
	h := newHarness(t)
	p, _ := h.setup(t, "s1", "u1")
	for name, data := range map[string]string{
		"no chat":     `{"sender":{"_id":"u1"}}`,
		"empty users": `{"sender":{"_id":"u1"},"chat":{"_id":"c1","users":[]}}`,
		"no sender":   `{"chat":{"_id":"c1","users":["u2"]}}`,
		"blank user":  `{"sender":{"_id":"u1"},"chat":{"_id":"c1","users":[""]}}`,
		"null":        `null`,
	} {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, h.o.Dispatch(p, rawEnvelope(core.EventNewMessage, data)), domain.ErrMalformedPayload)
		})
	}
}

func TestMessageRead_GoesToChatRoom(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	p1, c1 := h.setup(t, "s1", "u1")
	p2, c2 := h.setup(t, "s2", "u2")
	req.NoError(h.o.Dispatch(p1, rawEnvelope(core.EventJoinChat, `"c1"`)))
	req.NoError(h.o.Dispatch(p2, rawEnvelope(core.EventJoinChat, `"c1"`)))

	req.NoError(h.o.Dispatch(p2, rawEnvelope(core.EventMessageRead, `{"messageId":"m1","userId":"u2","chatId":"c1"}`)))

	got := c1.byEvent(core.EventMessageRead)
	req.Len(got, 1)
	req.JSONEq(`{"messageId":"m1","userId":"u2"}`, string(got[0].Data))
	req.Empty(c2.byEvent(core.EventMessageRead))

	req.ErrorIs(h.o.Dispatch(p2, rawEnvelope(core.EventMessageRead, `{"messageId":"m1"}`)), domain.ErrMalformedPayload)
}

func TestChatUpdated_ReachesEveryMemberButTheSendingConnection(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	p1, c1 := h.setup(t, "s1", "u1")
	_, c1b := h.setup(t, "s1b", "u1")
	_, c2 := h.setup(t, "s2", "u2")
	_, c3 := h.setup(t, "s3", "u3")

	chat := `{"_id":"c1","chatName":"team","users":[{"_id":"u1"},{"_id":"u2"}]}`
	req.NoError(h.o.Dispatch(p1, rawEnvelope(core.EventChatUpdated, chat)))

	req.Empty(c1.byEvent(core.EventChatUpdated))
	req.Len(c1b.byEvent(core.EventChatUpdated), 1)
	got := c2.byEvent(core.EventChatUpdated)
	req.Len(got, 1)
	req.JSONEq(chat, string(got[0].Data))
	req.Empty(c3.byEvent(core.EventChatUpdated))
}

func TestChatDeleted(t *testing.T) {
	t.Run("bare id is broadcast to everyone", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t)
		p1, c1 := h.setup(t, "s1", "u1")
		_, c2 := h.setup(t, "s2", "u2")

		req.NoError(h.o.Dispatch(p1, rawEnvelope(core.EventChatDeleted, `"c1"`)))

		for _, c := range []*memConn{c1, c2} {
			got := c.byEvent(core.EventChatDeleted)
			req.Len(got, 1)
			req.JSONEq(`"c1"`, string(got[0].Data))
		}
	})

	t.Run("chat object goes to members only", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t)
		p1, c1 := h.setup(t, "s1", "u1")
		_, c2 := h.setup(t, "s2", "u2")
		_, c3 := h.setup(t, "s3", "u3")

		req.NoError(h.o.Dispatch(p1, rawEnvelope(core.EventChatDeleted, `{"_id":"c1","users":["u1","u2"]}`)))

		req.Len(c1.byEvent(core.EventChatDeleted), 1)
		got := c2.byEvent(core.EventChatDeleted)
		req.Len(got, 1)
		req.JSONEq(`"c1"`, string(got[0].Data))
		req.Empty(c3.byEvent(core.EventChatDeleted))
	})

	t.Run("global scope keeps the broadcast", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t)
		h.o.ChatDeletedScope = ChatDeletedGlobal
		p1, _ := h.setup(t, "s1", "u1")
		_, c3 := h.setup(t, "s3", "u3")

		req.NoError(h.o.Dispatch(p1, rawEnvelope(core.EventChatDeleted, `{"_id":"c1","users":["u1","u2"]}`)))

		req.Len(c3.byEvent(core.EventChatDeleted), 1)
	})

	t.Run("malformed", func(t *testing.T) {
		h := newHarness(t)
		p1, _ := h.setup(t, "s1", "u1")
		require.ErrorIs(t, h.o.Dispatch(p1, rawEnvelope(core.EventChatDeleted, `{"users":["u1"]}`)), domain.ErrMalformedPayload)
	})
}

func TestKickPolicy_ClosesSlowReaders(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	h.o.Policy = app.KickPolicy{}
	p1, _ := h.setup(t, "s1", "u1")
	p2, c2 := h.setup(t, "s2", "u2")
	req.NoError(h.o.Dispatch(p1, rawEnvelope(core.EventJoinChat, `"c1"`)))
	req.NoError(h.o.Dispatch(p2, rawEnvelope(core.EventJoinChat, `"c1"`)))
	c2.mu.Lock()
	c2.full = true
	c2.mu.Unlock()

	req.NoError(h.o.Dispatch(p1, rawEnvelope(core.EventTyping, `"c1"`)))

	c2.mu.Lock()
	defer c2.mu.Unlock()
	req.True(c2.closed)
}

func TestConnState_String(t *testing.T) {
	req := require.New(t)
	req.Equal("unauthenticated", Unauthenticated.String())
	req.Equal("registered", Registered.String())
	req.Equal("closed", Closed.String())
	req.Equal("ConnState(9)", ConnState(9).String())
}

func decodeSnapshot(t *testing.T, env core.Envelope) domain.PresenceSnapshot {
	t.Helper()
	var snap domain.PresenceSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	return snap
}

func decodeDelta(t *testing.T, env core.Envelope) domain.PresenceDelta {
	t.Helper()
	var d domain.PresenceDelta
	require.NoError(t, json.Unmarshal(env.Data, &d))
	return d
}
