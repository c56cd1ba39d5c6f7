package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping failed")
				c.Close()
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, peer *orch.Peer, c *WsSignalConn) {
	stop := context.AfterFunc(ctx, c.Close)
	defer func() {
		stop()
		ctl.Orch.Disconnect(peer)
		c.Close()
		log.Info().Str("module", "signal").Str("sid", string(peer.ID)).Str("user", string(peer.UserID)).Msg("readPump closing")
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})
	limiter := NewEventLimiter(ctl.opts.RatePerSecond, ctl.opts.RateBurst)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(peer.ID)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
		if !limiter.Allow() {
			log.Warn().Err(domain.ErrRateLimited).Str("module", "signal").Str("sid", string(peer.ID)).Msg("frame dropped")
			continue
		}
		if !ctl.handleSignal(peer, c, data) {
			return
		}
	}
}

// handleSignal processes one text frame and reports whether the connection
// should stay open.
func (ctl *SignalWSController) handleSignal(peer *orch.Peer, c *WsSignalConn, data []byte) bool {
	env, err := core.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(peer.ID)).Msg("bad json")
		return true
	}
	if env.Event == core.EventPing {
		ctl.handlePing(c)
		return true
	}

	err = ctl.Orch.Dispatch(peer, env)
	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrMalformedSetup):
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(peer.ID)).Msg("malformed setup, closing")
		return false
	case errors.Is(err, domain.ErrUnauthenticated), errors.Is(err, domain.ErrProtocol):
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(peer.ID)).Str("event", env.Event).Msg("event rejected")
		ctl.sendError(c, err)
		return true
	default:
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(peer.ID)).Str("event", env.Event).Msg("event dropped")
		return true
	}
}

func (ctl *SignalWSController) send(c *WsSignalConn, event string, payload any) {
	f, err := core.Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("send encode")
		return
	}
	if err := c.TrySend(f); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("event", event).Msg("send dropped")
	}
}
