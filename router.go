package ember

import (
	"strings"
)

// AddRoute registers a handler for pattern (§4.6): a static ordered list,
// scanned in insertion order, first match wins. Exact patterns and
// trailing-`*` wildcard patterns share one table — there is no separate
// fast path for either, so an earlier-registered wildcard correctly beats
// a later-registered exact pattern, and vice versa.
func (s *Server) AddRoute(pattern string, handler HTTPHandler, arg any) {
	s.routes = append(s.routes, RouteEntry{Pattern: pattern, Handler: handler, Arg: arg})
}

// matchRoute implements §4.6's match rule: exact equality, or a trailing
// '*' matching any suffix.
func matchRoute(pattern, path string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(path, pattern[:len(pattern)-1])
	}
	return pattern == path
}

// findRoute returns the first matching route for path, scanning the table
// from the top in registration order.
func (s *Server) findRoute(path string) (RouteEntry, bool) {
	rt, _, ok := s.findRouteFrom(path, 0)
	return rt, ok
}

// findRouteFrom resumes a route scan at cursor (cursor 0 starts at the top
// of the table). It returns the matched route and the cursor value the
// caller should pass back in to resume past it, so a handler's NotFound can
// continue scanning instead of only ever falling through to the 404
// handler (§4.5 handler dispatch).
func (s *Server) findRouteFrom(path string, cursor int) (rt RouteEntry, nextCursor int, ok bool) {
	for i := cursor; i < len(s.routes); i++ {
		if matchRoute(s.routes[i].Pattern, path) {
			return s.routes[i], i + 1, true
		}
	}
	return RouteEntry{}, cursor, false
}

// ListRoutes returns every registered pattern in registration order —
// useful for the startup log, mirroring the teacher's ListRoutes/
// printConfiguration.
func (s *Server) ListRoutes() []string {
	routes := make([]string, len(s.routes))
	for i, rt := range s.routes {
		routes[i] = rt.Pattern
	}
	return routes
}

// notFoundHandler is the built-in fallback bound once the route table is
// exhausted without a match (§4.5 handler dispatch: NotFound -> 404).
func notFoundHandler(c *Conn) Outcome {
	body := "Not found"
	_ = c.BeginResponse(StatusNotFound, "text/plain")
	_ = c.SetContentLength(int64(len(body)))
	_ = c.EndHeader()
	_ = c.Write([]byte(body))
	_ = c.EndBody()
	return Done
}
