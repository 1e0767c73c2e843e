// Command emberd runs a demo embedded-style server wiring the core's
// literal test scenarios: a simple route, a query-decoding route, a
// wildcard route, the built-in 404 and 405 paths, and a WebSocket echo
// chat, exactly the way the teacher's example/main.go wires its routes.
package main

import (
	"flag"
	"net"
	"time"

	"github.com/kashari/golog"

	"github.com/kashari/ember"
	"github.com/kashari/ember/ws"
)

func main() {
	addr := flag.String("addr", ":4423", "listen address")
	logFile := flag.String("log", "", "optional log file path")
	wwwDir := flag.String("www", "./www", "static file root")
	flag.Parse()

	cfg := ember.DefaultConfig()
	cfg.LogFilePath = *logFile
	cfg.AcceptTokens = 32
	cfg.AcceptRefill = time.Second

	srv := ember.New(cfg)

	srv.AddRoute("/simple", simpleHandler, nil)
	srv.AddRoute("/query", queryHandler, nil)
	srv.AddRoute("/wildcard/*", wildcardHandler, nil)
	srv.AddRoute("/static/*", ember.FileServer(*wwwDir), nil)
	srv.AddWSRoute("/ws/chat", &chatRoom{}, nil)

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		golog.Error("emberd: listen: {}", err)
		return
	}

	golog.Info("emberd: listening on {}", *addr)
	if err := srv.Serve(ln); err != nil {
		golog.Error("emberd: serve: {}", err)
	}
}

// simpleHandler implements scenario 1 of the literal end-to-end tests
// (§8): a fixed 200 response with a fixed body.
func simpleHandler(c *ember.Conn) ember.Outcome {
	body := "This is a response from 'cgi_simple'"
	_ = c.BeginResponse(ember.StatusOK, "text/plain")
	_ = c.SetContentLength(int64(len(body)))
	_ = c.EndHeader()
	_ = c.Write([]byte(body))
	_ = c.EndBody()
	return ember.Done
}

// queryHandler implements scenario 2: echoes each decoded query parameter
// it recognizes, one per line.
func queryHandler(c *ember.Conn) ember.Outcome {
	var body string
	if v, ok := c.GetQueryArg("a"); ok {
		body += "a = " + v + "\n"
	}
	if v, ok := c.GetQueryArg("b"); ok {
		body += "b = " + v + "\n"
	}
	_ = c.BeginResponse(ember.StatusOK, "text/plain")
	_ = c.SetContentLength(int64(len(body)))
	_ = c.EndHeader()
	_ = c.Write([]byte(body))
	_ = c.EndBody()
	return ember.Done
}

// wildcardHandler implements scenario 3: any path under /wildcard/ is
// served by this one handler, bound through the router's trailing-`*`
// pattern (§4.6).
func wildcardHandler(c *ember.Conn) ember.Outcome {
	body := "wildcard match: " + c.Path()
	_ = c.BeginResponse(ember.StatusOK, "text/plain")
	_ = c.SetContentLength(int64(len(body)))
	_ = c.EndHeader()
	_ = c.Write([]byte(body))
	_ = c.EndBody()
	return ember.Done
}

// chatRoom is a minimal broadcast WebSocket handler in the teacher's
// wschat.go idiom, adapted to this core's Handler interface instead of a
// channel-fed WebSocketConn.
type chatRoom struct {
	members map[*ws.Conn]bool
}

func (r *chatRoom) OnOpen(c *ws.Conn) bool {
	if r.members == nil {
		r.members = make(map[*ws.Conn]bool)
	}
	r.members[c] = true
	golog.Info("emberd: chat member joined, {} total", len(r.members))
	return true
}

func (r *chatRoom) OnMessage(c *ws.Conn) {
	msg, err := c.ReadFullPayload()
	if err != nil {
		golog.Error("emberd: chat read: {}", err)
		return
	}
	for member := range r.members {
		_ = member.WriteFrame(ws.OpText, msg)
	}
}

func (r *chatRoom) OnClose(c *ws.Conn) {
	delete(r.members, c)
	golog.Info("emberd: chat member left, {} remain", len(r.members))
}
