package ember

import (
	"errors"
	"net"
	"time"

	"github.com/kashari/golog"

	"github.com/kashari/ember/ws"
)

// pollInterval is how long Serve sleeps between rounds when a round did
// nothing, so the tick loop doesn't spin a CPU core on an idle server
// (§5 concurrency model: the tick loop is the only scheduler).
const pollInterval = 5 * time.Millisecond

// Serve runs the single-threaded multiplexer tick loop until the listener
// is closed. It never spawns a goroutine that touches a Conn or ws.Conn
// (§5): the only background goroutines in the process are the accept
// throttle's refill ticker and golog's own writer, both listed as
// exceptions in the concurrency model.
func (s *Server) Serve(ln net.Listener) error {
	s.listener = ln
	defer s.listener.Close()

	golog.Info("ember: serving on {}", ln.Addr())

	lastActivity := time.Now()

	for {
		acted := false

		accepted, err := s.acceptPending()
		if err != nil {
			return err
		}
		if accepted {
			acted = true
		}

		for i := range s.httpSlots {
			c := &s.httpSlots[i]
			if !c.inUse {
				continue
			}
			if s.tickHTTPSlot(c) {
				acted = true
			}
		}

		for i := range s.wsSlots {
			wc := &s.wsSlots[i]
			if !wc.InUse {
				continue
			}
			if s.tickWSSlot(wc) {
				acted = true
			}
		}

		if s.cfg.BroadcastTick != nil {
			s.cfg.BroadcastTick(s)
		}

		if acted {
			lastActivity = time.Now()
			continue
		}

		if time.Since(lastActivity) >= s.cfg.TickTimeout {
			if s.cfg.AggressiveTimeoutCloseAll {
				s.closeAllOnTimeout()
			} else {
				s.closeIdleExpired()
			}
			lastActivity = time.Now()
		}

		time.Sleep(pollInterval)
	}
}

// acceptPending accepts at most one new connection per tick into the first
// free HTTP slot, subject to the optional accept throttle (§4.5 step 3,
// §11 domain stack). It returns an error only when the listener itself is
// gone (Serve should stop); a missed non-blocking accept is reported as
// (false, nil), not an error.
func (s *Server) acceptPending() (bool, error) {
	if !s.anyHTTPSlotFree() {
		return false, nil
	}
	if s.throttle != nil && !s.throttle.Allow() {
		return false, nil
	}

	if err := setAcceptDeadline(s.listener); err != nil {
		golog.Error("ember: accept deadline: {}", err)
		return false, nil
	}
	conn, err := s.listener.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return false, err
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return false, nil
		}
		golog.Error("ember: accept: {}", err)
		return false, nil
	}

	slot := s.freeHTTPSlot()
	if slot == nil {
		// Lost the race between anyHTTPSlotFree and here; reject.
		s.stats.Rejected++
		_ = conn.Close()
		return true, nil
	}

	slot.netConn = conn
	slot.inUse = true
	slot.phase = PhaseReadMethod
	slot.peek = -1
	slot.readContentLength = -1
	slot.writeContentLength = -1
	s.stats.Accepted++
	golog.Debug("ember: accepted {}", conn.RemoteAddr())
	return true, nil
}

func setAcceptDeadline(ln net.Listener) error {
	type deadliner interface{ SetDeadline(time.Time) error }
	if d, ok := ln.(deadliner); ok {
		return d.SetDeadline(time.Now().Add(time.Millisecond))
	}
	return nil
}

func (s *Server) anyHTTPSlotFree() bool {
	for i := range s.httpSlots {
		if !s.httpSlots[i].inUse {
			return true
		}
	}
	return false
}

func (s *Server) freeHTTPSlot() *Conn {
	for i := range s.httpSlots {
		if !s.httpSlots[i].inUse {
			return &s.httpSlots[i]
		}
	}
	return nil
}

func (s *Server) freeWSSlot() *ws.Conn {
	for i := range s.wsSlots {
		if !s.wsSlots[i].InUse {
			return &s.wsSlots[i]
		}
	}
	return nil
}

// tickHTTPSlot advances one HTTP connection by one step and reports
// whether any work was actually done (so the caller can tell an idle slot
// from a busy one).
func (s *Server) tickHTTPSlot(c *Conn) bool {
	switch c.phase {
	case PhaseUpgrade:
		s.doUpgrade(c)
		return true

	case PhaseError:
		s.failConn(c)
		return true

	case PhaseReadDone:
		return s.drainToClose(c)

	case PhaseWriteBegin, PhaseWriteHeader, PhaseWriteBody:
		s.dispatchHandler(c)
		return true
	}

	if c.phase == PhaseReadBody {
		s.dispatchHandler(c)
		return true
	}

	if c.phase.IsHeaderPhase() {
		var b [1]byte
		n, err := nonBlockingRead(c.netConn, b[:])
		if err != nil {
			if err == errWouldBlock {
				return false
			}
			s.closeHTTPSlot(c)
			return true
		}
		if n == 0 {
			return false
		}
		c.feedByte(b[0])
		return true
	}

	return false
}

// failConn writes the parser/IO layer's error response and closes (§7).
func (s *Server) failConn(c *Conn) {
	status := c.errorStatus
	if status == 0 {
		status = StatusBadRequest
	}
	_ = c.WriteSimpleError(status)
	s.closeHTTPSlot(c)
}

// drainToClose discards bytes until EOF or error, then frees the slot, so
// a client that kept the socket open after reading the response doesn't
// wedge the slot open forever.
func (s *Server) drainToClose(c *Conn) bool {
	var b [256]byte
	n, err := nonBlockingRead(c.netConn, b[:])
	if err != nil && err != errWouldBlock {
		s.closeHTTPSlot(c)
		return true
	}
	if n == 0 && err == nil {
		s.closeHTTPSlot(c)
		return true
	}
	return n > 0
}

func (s *Server) closeHTTPSlot(c *Conn) {
	if c.netConn != nil {
		_ = c.netConn.Close()
	}
	c.reset()
}

// closeAllOnTimeout implements the default aggressive behavior: a tick
// with no activity at all closes every open HTTP connection (§4.5 step 2,
// §9 design note).
func (s *Server) closeAllOnTimeout() {
	for i := range s.httpSlots {
		c := &s.httpSlots[i]
		if c.inUse {
			s.stats.TimeoutCloses++
			s.closeHTTPSlot(c)
		}
	}
}

// closeIdleExpired is the tunable, less aggressive alternative (§9): only
// connections past their own idle deadline are closed. A slot whose deadline
// is zero is never closed here, and this package does not set the HTTP
// slots' deadlines.
func (s *Server) closeIdleExpired() {
	now := time.Now()
	for i := range s.httpSlots {
		c := &s.httpSlots[i]
		if c.inUse && !c.idleDeadline.IsZero() && now.After(c.idleDeadline) {
			s.stats.TimeoutCloses++
			s.closeHTTPSlot(c)
		}
	}
	for i := range s.wsSlots {
		wc := &s.wsSlots[i]
		if wc.InUse && !wc.IdleDeadline.IsZero() && now.After(wc.IdleDeadline) {
			s.stats.TimeoutCloses++
			s.closeWSSlot(wc)
		}
	}
}

func (s *Server) closeWSSlot(wc *ws.Conn) {
	if wc.Handler != nil {
		wc.Handler.OnClose(wc)
	}
	_ = wc.Close()
	wc.Reset()
}
