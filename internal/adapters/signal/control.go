package signal

import "github.com/dkeye/Relay/internal/core"

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.send(conn, core.EventPong, nil)
}

func (ctl *SignalWSController) sendError(conn *WsSignalConn, err error) {
	ctl.send(conn, core.EventError, map[string]string{"error": err.Error()})
}
