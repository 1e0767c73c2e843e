package ember

import (
	"github.com/kashari/golog"

	"github.com/kashari/ember/ws"
)

// doUpgrade implements the PhaseUpgrade branch of §4.5: write the
// handshake response inline, migrate the socket into a WebSocket slot, and
// free the HTTP slot. The handshake itself is not routed through the
// response builder — it bypasses BeginResponse/WriteHeader entirely,
// matching the source's dedicated upgrade path (§4.7).
func (s *Server) doUpgrade(c *Conn) {
	rt, ok := s.findWSRoute(c.path)
	if !ok {
		_ = c.WriteSimpleError(StatusNotFound)
		s.closeHTTPSlot(c)
		return
	}

	wc := s.freeWSSlot()
	if wc == nil {
		golog.Warn("ember: websocket pool exhausted for {}", c.path)
		_ = c.WriteSimpleError(StatusInternalServerError)
		s.closeHTTPSlot(c)
		return
	}

	wc.NetConn = c.netConn
	wc.InUse = true
	wc.Handler = rt.Handler
	wc.Arg = rt.Arg

	if !rt.Handler.OnOpen(wc) {
		wc.Reset()
		_ = c.WriteSimpleError(StatusBadRequest)
		s.closeHTTPSlot(c)
		return
	}

	if err := ws.WriteHandshakeResponse(c.netConn, c.websocketKey); err != nil {
		golog.Error("ember: websocket handshake write: {}", err)
		wc.Reset()
		s.closeHTTPSlot(c)
		return
	}

	s.stats.WSUpgrades++
	golog.Debug("ember: upgraded {} to websocket", c.path)

	// The HTTP slot's netConn now belongs to the WebSocket slot; clear it
	// without closing the socket.
	c.netConn = nil
	c.reset()
}

// findWSRoute mirrors findRoute for the WebSocket table (§4.6 router,
// applied to the WS route list per §6 external interfaces).
func (s *Server) findWSRoute(path string) (WSRouteEntry, bool) {
	for _, rt := range s.wsRoutes {
		if matchRoute(rt.Pattern, path) {
			return rt, true
		}
	}
	return WSRouteEntry{}, false
}

// AddWSRoute registers a WebSocket handler for pattern.
func (s *Server) AddWSRoute(pattern string, handler ws.Handler, arg any) {
	s.wsRoutes = append(s.wsRoutes, WSRouteEntry{Pattern: pattern, Handler: handler, Arg: arg})
}

// tickWSSlot advances one WebSocket connection: decode a frame header, then
// dispatch on opcode (§4.5 step 6, §4.7 opcode dispatch).
func (s *Server) tickWSSlot(wc *ws.Conn) bool {
	ready, err := wc.AdvanceHeader()
	if err != nil {
		if ws.IsWouldBlock(err) {
			return false
		}
		s.closeWSSlot(wc)
		return true
	}
	if !ready {
		return false
	}

	switch wc.FrameOpcode {
	case ws.OpText, ws.OpBinary:
		wc.Handler.OnMessage(wc)
	case ws.OpClose:
		s.echoClose(wc)
		s.closeWSSlot(wc)
		return true
	case ws.OpPing:
		s.echoPong(wc)
	case ws.OpPong:
		s.stats.WSIgnoredPong++
		golog.Debug("ember: ignoring unsolicited PONG on {}", wc.Arg)
	case ws.OpContinuation:
		s.stats.WSIgnoredCont++
		golog.Debug("ember: ignoring bare CONT frame on {}", wc.Arg)
	default:
		golog.Warn("ember: unsupported websocket opcode {}", wc.FrameOpcode)
	}

	wc.ResetForNextFrame()
	return true
}

// echoClose reads the close payload (if any) and echoes it back with
// opcode CLOSE. The handler's close callback is invoked by closeWSSlot,
// the single place that retires a slot, so it never fires twice (§4.7).
func (s *Server) echoClose(wc *ws.Conn) {
	payload, _ := wc.ReadFullPayload()
	_ = wc.WriteFrame(ws.OpClose, payload)
}

// echoPong reads the ping payload and replies with PONG carrying the same
// bytes (§4.7).
func (s *Server) echoPong(wc *ws.Conn) {
	payload, _ := wc.ReadFullPayload()
	_ = wc.WriteFrame(ws.OpPong, payload)
}
