package ember

import (
	"github.com/kashari/golog"

	"github.com/kashari/ember/ws"
)

// New constructs a Server from cfg, allocating both connection pools up
// front (§3 data model: slots are created once and reused forever) and
// wiring the accept throttle if configured (§11 domain stack).
func New(cfg Config) *Server {
	s := &Server{
		cfg:       cfg,
		httpSlots: make([]Conn, cfg.HTTPPoolSize),
		wsSlots:   make([]ws.Conn, cfg.WSPoolSize),
	}
	for i := range s.httpSlots {
		s.httpSlots[i].reset()
	}
	if cfg.AcceptTokens > 0 {
		s.throttle = newAcceptThrottle(cfg.AcceptTokens, cfg.AcceptRefill)
	}
	if cfg.LogFilePath != "" {
		if err := golog.Init(cfg.LogFilePath); err != nil {
			golog.Error("ember: failed to open log file {}: {}", cfg.LogFilePath, err)
		} else {
			golog.Info("ember: logging to file {}", cfg.LogFilePath)
		}
	}
	return s
}

// Close stops the accept throttle's refill goroutine and closes every open
// connection. Call after Serve returns (or to force it to return, by
// closing the listener it was given separately).
func (s *Server) Close() {
	if s.throttle != nil {
		s.throttle.Stop()
	}
	for i := range s.httpSlots {
		if s.httpSlots[i].inUse {
			s.closeHTTPSlot(&s.httpSlots[i])
		}
	}
	for i := range s.wsSlots {
		if s.wsSlots[i].InUse {
			s.closeWSSlot(&s.wsSlots[i])
		}
	}
}

// Stats returns a snapshot of the process-lifetime counters (§3 data
// model addendum).
func (s *Server) Stats() Stats { return s.stats }
