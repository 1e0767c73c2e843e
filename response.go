package ember

import (
	"fmt"
)

// BeginResponse writes the status line, Connection: close, and an optional
// Content-Type, then transitions to the header-writing phase (§4.4). If the
// connection is still mid-body, it is drained first (bounded by
// maxDrainBytes) so a client that kept writing doesn't see its own request
// bytes bleed into the next connection's read.
func (c *Conn) BeginResponse(status int, contentType string) error {
	if c.phase == PhaseReadBody {
		if err := c.drainBody(); err != nil && err != errEOF && err != errWouldBlock {
			return err
		}
	}

	line := fmt.Sprintf("HTTP/1.1 %d %s\r\nConnection: close\r\n", status, reasonFor(status))
	if err := writeAll(c.netConn, []byte(line)); err != nil {
		return err
	}
	if contentType != "" {
		if err := c.WriteHeader("Content-Type", contentType); err != nil {
			return err
		}
	}
	c.phase = PhaseWriteHeader
	c.status = status
	return nil
}

// WriteHeader emits one response header line.
func (c *Conn) WriteHeader(name, value string) error {
	return writeAll(c.netConn, []byte(name+": "+value+"\r\n"))
}

// SetContentLength writes Content-Length and disables write-chunked framing
// for this response.
func (c *Conn) SetContentLength(n int64) error {
	c.writeContentLength = n
	return c.WriteHeader("Content-Length", fmt.Sprintf("%d", n))
}

// EndHeader emits the terminating empty line. If SetContentLength was never
// called, write-chunked framing is activated (§4.4).
func (c *Conn) EndHeader() error {
	if c.writeContentLength < 0 {
		c.flags.set(FlagWriteChunked)
		if err := c.WriteHeader("Transfer-Encoding", "chunked"); err != nil {
			return err
		}
	}
	if err := writeAll(c.netConn, []byte("\r\n")); err != nil {
		return err
	}
	c.phase = PhaseWriteBody
	return nil
}

// Write sends body bytes, framed according to whichever mode EndHeader
// settled on.
func (c *Conn) Write(buf []byte) error {
	return c.writeBytes(buf)
}

// EndBody terminates chunked framing (if active) and transitions to
// READ_DONE, after which the multiplexer drains the socket to EOF and
// closes it (§4.4).
func (c *Conn) EndBody() error {
	if c.flags.has(FlagWriteChunked) {
		if err := c.writeBytes(nil); err != nil {
			return err
		}
	}
	c.phase = PhaseReadDone
	return nil
}

// WriteSimpleError writes a minimal text/plain error response and marks the
// connection done (§7 error handling: the owning layer writes an error
// response and closes).
func (c *Conn) WriteSimpleError(status int) error {
	body := fmt.Sprintf("%d %s", status, reasonFor(status))
	if err := c.BeginResponse(status, "text/plain"); err != nil {
		return err
	}
	if err := c.SetContentLength(int64(len(body))); err != nil {
		return err
	}
	if err := c.EndHeader(); err != nil {
		return err
	}
	if err := c.Write([]byte(body)); err != nil {
		return err
	}
	return c.EndBody()
}
