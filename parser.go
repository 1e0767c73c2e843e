package ember

import (
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// feedByte is the pure function over (connection, next byte) described in
// §4.1: it advances phase and mutates scratch/owned strings for exactly one
// input byte. It never blocks and never touches the network itself — its
// callers (the multiplexer, and the client fetcher in client.go) feed it
// one available byte at a time.
func (c *Conn) feedByte(b byte) {
	if c.flags.has(FlagExpectNewline) {
		c.flags.clear(FlagExpectNewline)
		if b != '\n' {
			c.fail(StatusBadRequest, "expected newline")
		}
		return
	}

	switch c.phase {
	case PhaseReadMethod:
		c.feedMethod(b)
	case PhaseReadPath:
		c.feedPath(b)
	case PhaseReadQuery:
		c.feedQuery(b)
	case PhaseReadVersion:
		c.feedVersion(b)
	case PhaseReadClientVersion:
		c.feedClientVersion(b)
	case PhaseReadHeader:
		c.feedHeaderLine(b)
	case PhaseReadStatus:
		c.feedStatus(b)
	case PhaseReadStatusDesc:
		c.feedStatusDesc(b)
	default:
		// Bytes arriving outside a header-reading phase are a caller bug,
		// not a protocol error; ignore.
	}
}

func (c *Conn) fail(status int, msg string) {
	c.errorStatus = status
	c.phase = PhaseError
	_ = msg
}

// appendScratch appends b to the line buffer, silently dropping bytes once
// scratchCap-1 is reached; the caller keeps consuming bytes until the real
// terminator (§4.1 oversized-header-line policy).
func (c *Conn) appendScratch(b byte) {
	if c.scratchIndex < len(c.scratch)-1 {
		c.scratch[c.scratchIndex] = b
		c.scratchIndex++
	}
}

func (c *Conn) scratchString() string {
	return string(c.scratch[:c.scratchIndex])
}

func (c *Conn) nextHeaderPhase(p Phase) {
	c.phase = p
	c.scratchIndex = 0
}

func (c *Conn) crlf() {
	c.flags.set(FlagExpectNewline)
}

func (c *Conn) feedMethod(b byte) {
	if b == ' ' {
		switch c.scratchString() {
		case "GET":
			c.method = MethodGET
			c.nextHeaderPhase(PhaseReadPath)
		case "POST":
			c.method = MethodPOST
			c.nextHeaderPhase(PhaseReadPath)
		case "DELETE":
			c.method = MethodUnsupported
			c.fail(StatusMethodNotAllowed, "DELETE not supported")
		default:
			c.method = MethodUnsupported
			c.fail(StatusMethodNotAllowed, "unsupported method")
		}
		return
	}
	c.appendScratch(b)
}

func (c *Conn) feedPath(b byte) {
	if b == ' ' || b == '?' {
		c.path = c.scratchString()
		if b == '?' {
			c.nextHeaderPhase(PhaseReadQuery)
		} else {
			c.nextHeaderPhase(PhaseReadVersion)
		}
		return
	}
	c.appendScratch(b)
}

func (c *Conn) feedQuery(b byte) {
	if b == ' ' {
		c.queryRaw = c.scratchString()
		c.nextHeaderPhase(PhaseReadVersion)
		return
	}
	c.appendScratch(b)
}

func (c *Conn) feedVersion(b byte) {
	if b == '\r' {
		c.crlf()
		switch c.scratchString() {
		case "HTTP/1.1":
			c.nextHeaderPhase(PhaseReadHeader)
		case "HTTP/1.0":
			c.fail(StatusHTTPVersionNotSupported, "HTTP/1.0 not supported")
		default:
			c.fail(StatusBadRequest, "malformed version")
		}
		return
	}
	c.appendScratch(b)
}

// feedClientVersion/feedStatus/feedStatusDesc implement the client-side
// mirror of the parser (§4.1 client states), used by the fetcher in
// client.go. Unlike the request line's version token (feedVersion, which
// terminates on '\r' since version is the last field), the response line's
// version token is terminated by a space before the status code.
func (c *Conn) feedClientVersion(b byte) {
	if b == ' ' {
		c.nextHeaderPhase(PhaseReadStatus)
		return
	}
	c.appendScratch(b)
}

func (c *Conn) feedStatus(b byte) {
	if b == ' ' {
		n, err := strconv.Atoi(c.scratchString())
		if err != nil {
			// Non-strict: the source logs and continues rather than
			// erroring (§4.1 "Status (client)").
			n = 0
		}
		c.status = n
		c.nextHeaderPhase(PhaseReadStatusDesc)
		return
	}
	c.appendScratch(b)
}

func (c *Conn) feedStatusDesc(b byte) {
	if b == '\r' {
		c.crlf()
		c.nextHeaderPhase(PhaseReadHeader)
		return
	}
	c.appendScratch(b)
}

func (c *Conn) feedHeaderLine(b byte) {
	if c.scratchIndex == 1 && c.scratch[0] == '\r' {
		// Second byte of the empty line that ends the header block. The
		// phase changes only after this '\n' is consumed, so it never
		// reaches the body reader or the WebSocket frame decoder.
		c.scratchIndex = 0
		if b != '\n' {
			c.fail(StatusBadRequest, "expected newline")
			return
		}
		c.endOfHeaders()
		return
	}
	if b == '\r' {
		if c.scratchIndex == 0 {
			c.appendScratch(b)
			return
		}
		c.crlf()
		c.finishHeaderLine()
		return
	}
	c.appendScratch(b)
}

// finishHeaderLine processes one complete "Name: value" line (or the empty
// line ending the header block) once its terminating \r has been seen.
func (c *Conn) finishHeaderLine() {
	line := c.scratchString()
	c.scratchIndex = 0

	if line == "" {
		c.endOfHeaders()
		return
	}

	name, value, ok := splitHeaderLine(line)
	if !ok {
		// Truncated or malformed line: ignore, matching "unknown headers
		// are ignored" (truncation already happened in appendScratch).
		return
	}

	switch strings.ToLower(name) {
	case "host":
		c.host = value
	case "accept-encoding":
		if strings.Contains(value, "gzip") {
			c.flags.set(FlagAcceptGzip)
		}
	case "transfer-encoding":
		if strings.Contains(strings.ToLower(value), "chunked") {
			c.flags.set(FlagReadChunked)
		}
	case "content-length":
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			c.fail(StatusBadRequest, "malformed content-length")
			return
		}
		c.readContentLength = n
	case "upgrade":
		if strings.EqualFold(strings.TrimSpace(value), "websocket") {
			c.flags.set(FlagUpgradePending)
		}
	case "connection":
		if containsTokenFold(value, "upgrade") {
			// Both Upgrade: websocket and Connection: Upgrade are
			// required (§4.1); FlagUpgradePending alone isn't enough,
			// see endOfHeaders' double-check against both fields.
			c.connectionUpgradeSeen = true
		}
	case "sec-websocket-key":
		c.websocketKey = strings.TrimSpace(value)
	case "if-none-match":
		c.ifNoneMatch = strings.Trim(strings.TrimSpace(value), `"`)
	default:
		// Unknown headers are ignored.
	}

	if !httpguts.ValidHeaderFieldValue(value) {
		c.fail(StatusBadRequest, "invalid header value")
	}
}

// splitHeaderLine splits "Name: value" into its two halves. Returns ok=false
// for a line with no colon (malformed, silently ignored per §4.1).
func splitHeaderLine(line string) (name, value string, ok bool) {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return "", "", false
	}
	name = line[:i]
	value = line[i+1:]
	value = strings.TrimPrefix(value, " ")
	return name, value, true
}

func containsTokenFold(value, token string) bool {
	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

// endOfHeaders chooses the next phase once the empty line has been seen
// (§4.1 end-of-headers phase selection).
func (c *Conn) endOfHeaders() {
	if c.flags.has(FlagUpgradePending) && c.connectionUpgradeSeen {
		c.phase = PhaseUpgrade
		return
	}
	if c.flags.has(FlagReadChunked) {
		// Chunked wins over Content-Length when both are present
		// (RFC 7230 §3.3.3 — redesign from the source's undefined
		// behavior here, §9 open question resolution).
		c.readContentLength = -1
		c.phase = PhaseReadBody
		c.chunkLength = 0
		return
	}
	if c.readContentLength > 0 {
		c.phase = PhaseReadBody
		return
	}
	c.phase = PhaseWriteBegin
}
