package ember

// dispatchHandler implements callHandler from §4.5: try the bound handler
// first; if none is bound, scan the route table from wherever the last
// scan left off until one matches or declines the request, or the table is
// exhausted (in which case the built-in 404 handler is bound).
func (s *Server) dispatchHandler(c *Conn) {
	if c.handler == nil {
		s.bindNextHandler(c)
	}

	switch c.handler(c) {
	case Done:
		c.phase = PhaseReadDone
	case More:
		// stay bound, stay in whatever write/read phase the handler left
		// us in; re-invoked next tick.
	case NotFound:
		c.handler = nil
		c.handlerArg = nil
		c.handlerState = nil
		s.dispatchHandler(c)
	}
}

// bindNextHandler resumes the route scan at c.routeScan and binds the next
// matching route, or the built-in 404 handler once the table is exhausted.
func (s *Server) bindNextHandler(c *Conn) {
	if rt, next, ok := s.findRouteFrom(c.path, c.routeScan); ok {
		c.handler = rt.Handler
		c.handlerArg = rt.Arg
		c.routeScan = next
		return
	}
	c.handler = notFoundHandler
	c.handlerArg = nil
}
