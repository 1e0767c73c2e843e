package ws

import (
	"encoding/binary"
	"errors"
	"net"
	"time"
)

// ErrShortBuffer is returned by ReadPayload when the current frame has no
// payload bytes left to read. A buffer larger than what remains is not an
// error: ReadPayload fills only as much of it as the frame still holds and
// never reads past FrameLength.
var ErrShortBuffer = errors.New("ws: frame exhausted")

// AdvanceHeader feeds the frame header decoder from the socket, one
// non-blocking read at a time, and reports whether the header is now fully
// decoded. It tolerates short reads across ticks exactly like the HTTP
// parser tolerates partial lines (§4.7).
func (c *Conn) AdvanceHeader() (ready bool, err error) {
	for {
		switch c.stage {
		case stageOpcode:
			var b [1]byte
			n, rerr := nonBlockingRead(c.NetConn, b[:])
			if rerr != nil {
				return false, rerr
			}
			if n == 0 {
				return false, errWouldBlock
			}
			c.FrameOpcode = Opcode(b[0] & 0x0f)
			c.stage = stageLen
		case stageLen:
			var b [1]byte
			n, rerr := nonBlockingRead(c.NetConn, b[:])
			if rerr != nil {
				return false, rerr
			}
			if n == 0 {
				return false, errWouldBlock
			}
			c.frameMasked = b[0]&0x80 != 0
			length := b[0] & 0x7f
			switch length {
			case 126:
				c.extNeed, c.extHave = 2, 0
				c.stage = stageExtLen16
			case 127:
				c.extNeed, c.extHave = 8, 0
				c.stage = stageExtLen64
			default:
				c.FrameLength = uint64(length)
				c.stage = stageMaskOrReadyFor(c)
			}
		case stageExtLen16, stageExtLen64:
			n, rerr := nonBlockingRead(c.NetConn, c.extBuf[c.extHave:c.extNeed])
			if rerr != nil {
				return false, rerr
			}
			c.extHave += n
			if c.extHave < c.extNeed {
				return false, errWouldBlock
			}
			if c.stage == stageExtLen16 {
				c.FrameLength = uint64(binary.BigEndian.Uint16(c.extBuf[:2]))
			} else {
				c.FrameLength = binary.BigEndian.Uint64(c.extBuf[:8])
			}
			c.stage = stageMaskOrReadyFor(c)
		case stageMask:
			n, rerr := nonBlockingRead(c.NetConn, c.extBuf[c.extHave:4])
			if rerr != nil {
				return false, rerr
			}
			c.extHave += n
			if c.extHave < 4 {
				return false, errWouldBlock
			}
			copy(c.FrameMask[:], c.extBuf[:4])
			c.stage = stageReady
		case stageReady:
			c.FrameIndex = 0
			return true, nil
		}
	}
}

// stageMaskOrReadyFor picks the next stage once a frame length is known,
// whether it arrived inline or via an extended length field: masked frames
// still need their 4-byte mask key, unmasked ones (always the server->client
// direction) are ready immediately.
func stageMaskOrReadyFor(c *Conn) headerStage {
	if c.frameMasked {
		c.extHave = 0
		return stageMask
	}
	c.FrameMask = [4]byte{}
	return stageReady
}

// ResetForNextFrame rearms the decoder after a frame has been fully
// dispatched, so AdvanceHeader can decode the next one.
func (c *Conn) ResetForNextFrame() {
	c.stage = stageOpcode
	c.FrameIndex = 0
	c.FrameLength = 0
	c.extHave = 0
	c.extNeed = 0
}

// ReadPayload reads up to len(buf) bytes of the current frame's payload,
// unmasking as it goes (§4.7 payload read). It never reads past
// FrameLength. Short reads are tolerated; the caller resumes on the next
// tick once more bytes are ready.
func (c *Conn) ReadPayload(buf []byte) (int, error) {
	remaining := c.FrameLength - c.FrameIndex
	if remaining == 0 {
		return 0, ErrShortBuffer
	}
	if uint64(len(buf)) > remaining {
		buf = buf[:remaining]
	}
	n, err := nonBlockingRead(c.NetConn, buf)
	if err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		buf[i] ^= c.FrameMask[c.FrameIndex%4]
		c.FrameIndex++
	}
	return n, nil
}

// ReadFullPayload reads the entire current frame payload into a freshly
// allocated slice, retrying short reads with a brief sleep. Message/Ping/
// Close handlers in this core deal in small, complete chat-sized payloads
// rather than streaming bodies, so a short bounded spin here is simpler
// than threading multi-tick continuation state through the Handler
// interface; ReadPayload remains available directly for a handler that
// wants to resume across ticks instead.
func (c *Conn) ReadFullPayload() ([]byte, error) {
	buf := make([]byte, c.FrameLength)
	got := uint64(0)
	for got < c.FrameLength {
		n, err := c.ReadPayload(buf[got:])
		if err != nil {
			if errors.Is(err, errWouldBlock) {
				time.Sleep(time.Millisecond)
				continue
			}
			return nil, err
		}
		got += uint64(n)
	}
	return buf, nil
}

// WriteFrame sends opcode+payload with FIN set, using the three-tier length
// encoding the source uses (§4.7 frame send). Server frames are never
// masked. After the payload it toggles TCP_NODELAY on-then-off to force an
// immediate flush, mirroring websocket_flush in
// original_source/src/websocket-io.c.
func (c *Conn) WriteFrame(opcode Opcode, payload []byte) error {
	head := make([]byte, 0, 10)
	head = append(head, byte(0x80|opcode))

	n := len(payload)
	switch {
	case n < 126:
		head = append(head, byte(n))
	case n <= 0xffff:
		head = append(head, 0x7e, byte(n>>8), byte(n))
	default:
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(n))
		head = append(head, 0x7f)
		head = append(head, ext[:]...)
	}

	if err := writeAll(c.NetConn, head); err != nil {
		return err
	}
	if err := writeAll(c.NetConn, payload); err != nil {
		return err
	}

	flushNoDelay(c.NetConn)
	return nil
}

// flushNoDelay toggles TCP_NODELAY on then off, mirroring websocket_flush in
// original_source/src/websocket-io.c: Nagle's algorithm is disabled just long
// enough to force the kernel to send whatever is still buffered, then
// re-enabled. Connections that aren't *net.TCPConn (e.g. net.Pipe in tests)
// have no such knob and are left alone.
func flushNoDelay(conn net.Conn) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.SetNoDelay(true)
	_ = tc.SetNoDelay(false)
}
