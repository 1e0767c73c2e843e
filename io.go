package ember

import (
	"errors"
	"net"
	"time"
)

// errWouldBlock is returned by nonBlockingRead when the socket currently has
// no bytes available. The body readers pass it up to their callers (the
// multiplexer, handlers, BeginResponse's drain and the client fetcher),
// which treat it as "not ready this tick" and move on, which is
// the Go-idiomatic stand-in for the source's non-blocking read() returning
// EAGAIN under a select()-driven readiness loop.
var errWouldBlock = errors.New("ember: would block")

// nonBlockingRead attempts to fill buf without blocking the tick loop. It
// does so by arming a one-millisecond read deadline and treating a timeout
// as "no bytes ready" rather than an error — the idiomatic way to express
// non-blocking readiness over net.Conn without raw epoll/kqueue syscalls.
// (A deadline of exactly time.Now() has already passed when Read runs, so
// Read would fail without looking at the bytes waiting on the socket.)
// A short read is returned as-is (n > 0, err == nil); the caller resumes
// consuming the rest on a later tick, exactly as the source tolerates
// partial reads.
func nonBlockingRead(conn net.Conn, buf []byte) (int, error) {
	if err := conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return 0, err
	}
	n, err := conn.Read(buf)
	if n > 0 {
		return n, nil
	}
	if err == nil {
		return 0, nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return 0, errWouldBlock
	}
	return 0, err
}

// writeAll is the short-write-safe loop over the underlying socket (§4.3).
func writeAll(conn net.Conn, buf []byte) error {
	for len(buf) > 0 {
		n, err := conn.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// hexDigit converts a single ASCII hex character to its value, returning
// -1 for anything else (grounded on original_source/src/http-util.c's
// http_hex_to_int, generalized to report failure instead of silently
// returning 0).
func hexDigit(c byte) int {
	switch {
	case '0' <= c && c <= '9':
		return int(c - '0')
	case 'a' <= c && c <= 'f':
		return int(c-'a') + 0xa
	case 'A' <= c && c <= 'F':
		return int(c-'A') + 0xa
	default:
		return -1
	}
}

const hexTable = "0123456789abcdef"

// appendHexLen appends the hex-encoded chunk length line to dst and
// returns the grown slice.
func appendHexLen(dst []byte, n int) []byte {
	if n == 0 {
		return append(dst, '0')
	}
	var tmp [16]byte
	i := len(tmp)
	for n > 0 {
		i--
		tmp[i] = hexTable[n&0xf]
		n >>= 4
	}
	return append(dst, tmp[i:]...)
}

// getByte reads the next body byte honoring peek, chunked framing, and
// content-length accounting (§4.3 I/O layer). It returns errEOF at a
// legitimate body boundary.
func (c *Conn) getByte() (byte, error) {
	if c.peek >= 0 {
		b := byte(c.peek)
		c.peek = -1
		return b, nil
	}
	return c.readBodyByte()
}

func (c *Conn) peekByte() (byte, error) {
	if c.peek < 0 {
		b, err := c.readBodyByte()
		if err != nil {
			return 0, err
		}
		c.peek = int(b)
	}
	return byte(c.peek), nil
}

func (c *Conn) readBodyByte() (byte, error) {
	if c.flags.has(FlagReadChunked) {
		return c.readChunkedByte()
	}

	if c.readContentLength > 0 {
		var buf [1]byte
		n, err := nonBlockingRead(c.netConn, buf[:])
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, errWouldBlock
		}
		c.readContentLength--
		return buf[0], nil
	}

	return 0, errEOF
}

// readChunkedByte reads one chunked-body byte, interleaving the header and
// footer sub-reads with the data byte without ever fusing a footer read
// onto the same call that returns a data byte — so a errWouldBlock while
// reading the footer can never cause an already-read data byte to be
// discarded (the bug a naive "read byte, then if chunk exhausted also
// read its footer before returning" design has under non-blocking I/O).
func (c *Conn) readChunkedByte() (byte, error) {
	if c.chunkPendingFooter {
		if err := c.readChunkFooter(); err != nil {
			return 0, err
		}
		c.chunkPendingFooter = false
	}
	if c.chunkTerminal {
		return 0, errEOF
	}
	if c.chunkLength == 0 {
		ok, err := c.readChunkHeader()
		if err != nil {
			return 0, err
		}
		if !ok {
			c.chunkTerminal = true
			c.chunkPendingFooter = true
			if err := c.readChunkFooter(); err != nil {
				return 0, err
			}
			c.chunkPendingFooter = false
			return 0, errEOF
		}
	}

	var buf [1]byte
	n, err := nonBlockingRead(c.netConn, buf[:])
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errWouldBlock
	}
	c.chunkLength--
	if c.chunkLength == 0 {
		c.chunkPendingFooter = true
	}
	return buf[0], nil
}

// chunk header decode stages, resumable one byte at a time so a
// errWouldBlock mid-header never loses bytes already consumed from the
// socket (§4.3 I/O layer).
const (
	chunkHdrLength = iota
	chunkHdrSkipToLF
	chunkHdrDone
)

// readChunkHeader consumes "hex-length[;ext]\r\n", one byte per call so it
// can be retried across ticks without re-reading (and thus losing) bytes
// already taken off the wire. The caller should keep calling this (from
// getByte's chunkLength==0 branch) until it returns (true, nil) — chunk
// has bytes — or (false, nil) — terminating zero-length chunk consumed —
// or a non-errWouldBlock error.
func (c *Conn) readChunkHeader() (bool, error) {
	for {
		switch c.chunkHdrStage {
		case chunkHdrLength:
			b, err := c.readRawByte()
			if err != nil {
				return false, err
			}
			if b == ';' || b == '\r' {
				c.chunkHdrStage = chunkHdrSkipToLF
				continue
			}
			d := hexDigit(b)
			if d < 0 {
				return false, newStatusError(400, "malformed chunk length")
			}
			c.chunkHdrAccum = c.chunkHdrAccum<<4 | int64(d)
		case chunkHdrSkipToLF:
			b, err := c.readRawByte()
			if err != nil {
				return false, err
			}
			if b == '\n' {
				c.chunkHdrStage = chunkHdrDone
				continue
			}
		case chunkHdrDone:
			length := c.chunkHdrAccum
			c.chunkLength = length
			c.chunkHdrStage = chunkHdrLength
			c.chunkHdrAccum = 0
			return length > 0, nil
		}
	}
}

const (
	chunkFtrCR = iota
	chunkFtrLF
	chunkFtrDone
)

// readChunkFooter consumes the trailing "\r\n" after a chunk's bytes, one
// byte per call, resumable the same way readChunkHeader is.
func (c *Conn) readChunkFooter() error {
	for {
		switch c.chunkFtrStage {
		case chunkFtrCR:
			b, err := c.readRawByte()
			if err != nil {
				return err
			}
			if b != '\r' {
				return newStatusError(400, "malformed chunk trailer")
			}
			c.chunkFtrStage = chunkFtrLF
		case chunkFtrLF:
			b, err := c.readRawByte()
			if err != nil {
				return err
			}
			if b != '\n' {
				return newStatusError(400, "malformed chunk trailer")
			}
			c.chunkFtrStage = chunkFtrDone
		case chunkFtrDone:
			c.chunkFtrStage = chunkFtrCR
			return nil
		}
	}
}

// maxDrainBytes bounds how much unread body BeginResponse will discard on a
// handler's behalf (§4.4: "drains remaining body (bounded...)").
const maxDrainBytes = 1 << 20

// drainBody discards whatever body bytes remain unread, up to maxDrainBytes,
// so a handler that answers before reading the whole request doesn't leave
// the next request on this connection (there won't be one, since every
// response carries Connection: close, but draining still keeps getByte's
// accounting consistent if BeginResponse is ever called again).
func (c *Conn) drainBody() error {
	for i := 0; i < maxDrainBytes; i++ {
		if _, err := c.getByte(); err != nil {
			return err
		}
	}
	return nil
}

// readRawByte reads one byte straight off the socket, bypassing chunked/
// content-length accounting. Used only by the chunk-header/footer readers.
func (c *Conn) readRawByte() (byte, error) {
	var buf [1]byte
	n, err := nonBlockingRead(c.netConn, buf[:])
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errWouldBlock
	}
	return buf[0], nil
}

// writeBytes emits buf as a single chunk (if write-chunked) or raw bytes
// otherwise (§4.3). An empty write in chunked mode emits the terminator.
func (c *Conn) writeBytes(buf []byte) error {
	if !c.flags.has(FlagWriteChunked) {
		return writeAll(c.netConn, buf)
	}

	head := appendHexLen(make([]byte, 0, 8), len(buf))
	head = append(head, '\r', '\n')
	if err := writeAll(c.netConn, head); err != nil {
		return err
	}
	if len(buf) > 0 {
		if err := writeAll(c.netConn, buf); err != nil {
			return err
		}
	}
	return writeAll(c.netConn, []byte("\r\n"))
}
