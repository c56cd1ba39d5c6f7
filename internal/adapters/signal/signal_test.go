package signal

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestEventLimiter(t *testing.T) {
	req := require.New(t)

	var unlimited *EventLimiter
	req.True(unlimited.Allow())
	req.Nil(NewEventLimiter(0, 10))

	l := NewEventLimiter(1, 3)
	req.True(l.Allow())
	req.True(l.Allow())
	req.True(l.Allow())
	req.False(l.Allow())
}

func TestCheckOrigin(t *testing.T) {
	req := require.New(t)
	ctl := NewSignalWSController(nil, Options{AllowedOrigins: []string{"https://chat.example"}})
	withOrigin := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	req.True(ctl.checkOrigin(withOrigin("")))
	req.True(ctl.checkOrigin(withOrigin("https://chat.example")))
	req.False(ctl.checkOrigin(withOrigin("https://evil.example")))

	open := NewSignalWSController(nil, Options{AllowedOrigins: []string{"*"}})
	req.True(open.checkOrigin(withOrigin("https://evil.example")))
}

func TestOptions_Defaults(t *testing.T) {
	req := require.New(t)
	o := Options{PingPeriod: 9 * time.Second}.withDefaults()

	req.Equal(10*time.Second, o.PongWait)
	req.Positive(o.ReadLimit)
	req.Positive(o.SendBuffer)
	req.Positive(o.WriteWait)
}

func TestWsSignalConn_TrySend(t *testing.T) {
	req := require.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_, _, _ = ws.ReadMessage()
	}))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	req.NoError(err)
	c := NewWsSignalConn(ws, 1)

	req.NoError(c.TrySend(core.Frame(`{"event":"pong"}`)))
	req.ErrorIs(c.TrySend(core.Frame(`{"event":"pong"}`)), core.ErrBackpressure)

	c.Close()
	c.Close()
	req.ErrorIs(c.TrySend(core.Frame(`{"event":"pong"}`)), core.ErrClosed)
}
