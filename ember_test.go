package ember

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

// echoBodyHandler drains the request body across as many ticks as it
// takes (stashing progress in handlerState per the More contract) and
// echoes it back once a legitimate body boundary (errEOF) is reached.
func echoBodyHandler(c *Conn) Outcome {
	buf, _ := c.handlerState.([]byte)
	for {
		b, err := c.getByte()
		if err != nil {
			if err == errEOF {
				break
			}
			c.handlerState = buf
			return More
		}
		buf = append(buf, b)
	}

	_ = c.BeginResponse(StatusOK, "text/plain")
	_ = c.SetContentLength(int64(len(buf)))
	_ = c.EndHeader()
	_ = c.Write(buf)
	_ = c.EndBody()
	return Done
}

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	cfg := DefaultConfig()
	cfg.HTTPPoolSize = 4
	cfg.TickTimeout = 2 * time.Second

	srv := New(cfg)
	srv.AddRoute("/simple", func(c *Conn) Outcome {
		body := "This is a response from 'cgi_simple'"
		_ = c.BeginResponse(StatusOK, "text/plain")
		_ = c.SetContentLength(int64(len(body)))
		_ = c.EndHeader()
		_ = c.Write([]byte(body))
		_ = c.EndBody()
		return Done
	}, nil)
	srv.AddRoute("/query", func(c *Conn) Outcome {
		var body string
		if v, ok := c.GetQueryArg("a"); ok {
			body += "a = " + v + "\n"
		}
		if v, ok := c.GetQueryArg("b"); ok {
			body += "b = " + v + "\n"
		}
		_ = c.BeginResponse(StatusOK, "text/plain")
		_ = c.SetContentLength(int64(len(body)))
		_ = c.EndHeader()
		_ = c.Write([]byte(body))
		_ = c.EndBody()
		return Done
	}, nil)
	srv.AddRoute("/wildcard/*", func(c *Conn) Outcome {
		body := "wildcard match: " + c.Path()
		_ = c.BeginResponse(StatusOK, "text/plain")
		_ = c.SetContentLength(int64(len(body)))
		_ = c.EndHeader()
		_ = c.Write([]byte(body))
		_ = c.EndBody()
		return Done
	}, nil)
	srv.AddRoute("/echo-body", echoBodyHandler, nil)

	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	return srv, ln.Addr().String()
}

func sendRaw(t *testing.T, addr, raw string) (status int, header map[string]string, body []byte) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := bufio.NewReader(conn)
	statusLine, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	parts := strings.SplitN(strings.TrimSpace(statusLine), " ", 3)
	if len(parts) < 2 {
		t.Fatalf("malformed status line %q", statusLine)
	}
	status = 0
	for _, c := range parts[1] {
		status = status*10 + int(c-'0')
	}

	header = map[string]string{}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read header: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		kv := strings.SplitN(line, ":", 2)
		header[strings.ToLower(strings.TrimSpace(kv[0]))] = strings.TrimSpace(kv[1])
	}

	body, _ = io.ReadAll(r)
	return status, header, body
}

func TestSimpleRoute(t *testing.T) {
	_, addr := startTestServer(t)
	status, _, body := sendRaw(t, addr, "GET /simple HTTP/1.1\r\nHost: x\r\n\r\n")
	if status != 200 {
		t.Fatalf("status = %d, want 200", status)
	}
	if string(body) != "This is a response from 'cgi_simple'" {
		t.Fatalf("body = %q", body)
	}
}

func TestQueryRoute(t *testing.T) {
	_, addr := startTestServer(t)
	_, _, body := sendRaw(t, addr, "GET /query?a=1&b=2%203&c=4 HTTP/1.1\r\nHost: x\r\n\r\n")
	s := string(body)
	if !strings.Contains(s, "a = 1") || !strings.Contains(s, "b = 2 3") {
		t.Fatalf("body = %q", s)
	}
	if strings.Contains(s, "c =") {
		t.Fatalf("body unexpectedly contains 'c =': %q", s)
	}
}

func TestWildcardRoute(t *testing.T) {
	_, addr := startTestServer(t)
	status, _, body := sendRaw(t, addr, "GET /wildcard/xyz?abc=123 HTTP/1.1\r\nHost: x\r\n\r\n")
	if status != 200 {
		t.Fatalf("status = %d, want 200", status)
	}
	if !strings.Contains(string(body), "/wildcard/xyz") {
		t.Fatalf("body = %q", body)
	}
}

// TestRouteInsertionOrderWins registers a wildcard pattern before an exact
// pattern it would otherwise shadow, and checks the wildcard still wins:
// the table is one ordered list scanned front to back (§4.6), not an exact
// index consulted ahead of wildcards regardless of registration order.
func TestRouteInsertionOrderWins(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	cfg := DefaultConfig()
	cfg.HTTPPoolSize = 4
	cfg.TickTimeout = 2 * time.Second
	srv := New(cfg)

	srv.AddRoute("/foo*", func(c *Conn) Outcome {
		body := "wildcard"
		_ = c.BeginResponse(StatusOK, "text/plain")
		_ = c.SetContentLength(int64(len(body)))
		_ = c.EndHeader()
		_ = c.Write([]byte(body))
		_ = c.EndBody()
		return Done
	}, nil)
	srv.AddRoute("/foobar", func(c *Conn) Outcome {
		body := "exact"
		_ = c.BeginResponse(StatusOK, "text/plain")
		_ = c.SetContentLength(int64(len(body)))
		_ = c.EndHeader()
		_ = c.Write([]byte(body))
		_ = c.EndBody()
		return Done
	}, nil)

	go func() { _ = srv.Serve(ln) }()

	_, _, body := sendRaw(t, ln.Addr().String(), "GET /foobar HTTP/1.1\r\nHost: x\r\n\r\n")
	if string(body) != "wildcard" {
		t.Fatalf("body = %q, want %q (earlier-registered wildcard must win)", body, "wildcard")
	}
}

func TestNotFound(t *testing.T) {
	_, addr := startTestServer(t)
	status, _, body := sendRaw(t, addr, "GET /not_found HTTP/1.1\r\nHost: x\r\n\r\n")
	if status != 404 {
		t.Fatalf("status = %d, want 404", status)
	}
	if !strings.Contains(string(body), "Not found") {
		t.Fatalf("body = %q", body)
	}
}

func TestDeleteMethodNotAllowed(t *testing.T) {
	_, addr := startTestServer(t)
	status, _, _ := sendRaw(t, addr, "DELETE / HTTP/1.1\r\nHost: x\r\n\r\n")
	if status != 405 {
		t.Fatalf("status = %d, want 405", status)
	}
}

func TestContentLengthBody(t *testing.T) {
	_, addr := startTestServer(t)
	_, _, body := sendRaw(t, addr, "POST /echo-body HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nhello")
	if string(body) != "hello" {
		t.Fatalf("body = %q, want %q", body, "hello")
	}
}

func TestChunkedBody(t *testing.T) {
	_, addr := startTestServer(t)
	req := "POST /echo-body HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"4\r\n0123\r\n4\r\n4567\r\n0\r\n\r\n"
	_, _, body := sendRaw(t, addr, req)
	if string(body) != "01234567" {
		t.Fatalf("body = %q, want %q", body, "01234567")
	}
}

// TestFetchClientMode exercises the dual-direction parser's client-side
// phases (PhaseReadClientVersion -> PhaseReadStatus -> PhaseReadStatusDesc)
// against a real server response line.
func TestFetchClientMode(t *testing.T) {
	_, addr := startTestServer(t)
	res, err := Fetch("tcp", addr, "/simple", "x")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Status != 200 {
		t.Fatalf("status = %d, want 200", res.Status)
	}
	if string(res.Body) != "This is a response from 'cgi_simple'" {
		t.Fatalf("body = %q", res.Body)
	}
}
