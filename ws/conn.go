// Package ws implements the RFC 6455 handshake and frame engine used by the
// embedded server core once an HTTP connection's Upgrade request has been
// accepted. Its API is byte-driven and resumable across multiplexer ticks,
// the same way the HTTP header parser is: a short read never loses state.
//
// Grounded on the teacher's ws.go (frame read/write shape, opcode set) and
// on original_source/src/websocket-io.c for the exact wire semantics the
// teacher's net/http-hijack version didn't need to preserve (unmasked
// server frames, the three-tier length encoding, TCP_NODELAY flush).
package ws

import (
	"net"
	"time"
)

// Opcode is the RFC 6455 frame opcode (§4.7).
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// headerStage tracks progress through the multi-step, resumable frame
// header decode (§4.7).
type headerStage int

const (
	stageOpcode headerStage = iota
	stageLen
	stageExtLen16
	stageExtLen64
	stageMask
	stageReady
)

// Conn is one slot in the bounded WebSocket pool (§3 data model).
type Conn struct {
	NetConn net.Conn
	InUse   bool

	Handler Handler
	Arg     any

	FrameOpcode Opcode
	FrameLength uint64
	FrameIndex  uint64
	FrameMask   [4]byte
	frameMasked bool

	stage   headerStage
	extBuf  [8]byte
	extNeed int
	extHave int

	IdleDeadline time.Time
}

// Handler is the WebSocket handler contract (§6): Open decides whether to
// accept the upgrade, Message is invoked once a frame header has been fully
// decoded (the handler reads FrameLength bytes via ReadPayload), Close is
// invoked once the session ends.
type Handler interface {
	OnOpen(c *Conn) bool
	OnMessage(c *Conn)
	OnClose(c *Conn)
}

// reset restores a slot to its free state between sessions.
func (c *Conn) reset() {
	c.NetConn = nil
	c.InUse = false
	c.Handler = nil
	c.Arg = nil
	c.FrameOpcode = 0
	c.FrameLength = 0
	c.FrameIndex = 0
	c.FrameMask = [4]byte{}
	c.frameMasked = false
	c.stage = stageOpcode
	c.extNeed = 0
	c.extHave = 0
}

// Reset is the exported form of reset, used by the multiplexer when it
// retires a slot back to the free pool.
func (c *Conn) Reset() { c.reset() }

// Close closes the underlying socket. Safe to call multiple times.
func (c *Conn) Close() error {
	if c.NetConn == nil {
		return nil
	}
	return c.NetConn.Close()
}
