package ember

import (
	"net"
	"time"
)

// Phase is a connection's position in the HTTP protocol state machine.
// It plays the role of the source's bitfield phase tags, but as a closed,
// type-safe enum with IsRead/IsWrite predicates instead of OR'd bits.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseReadMethod
	PhaseReadPath
	PhaseReadQuery
	PhaseReadVersion
	PhaseReadHeader
	PhaseReadBody
	PhaseUpgrade
	PhaseWriteBegin
	PhaseWriteHeader
	PhaseWriteBody
	PhaseReadDone
	PhaseError
	// client-side phases, reusing the same parser in the other direction
	PhaseReadClientVersion
	PhaseReadStatus
	PhaseReadStatusDesc
)

// IsRead reports whether the phase wants bytes from the socket.
func (p Phase) IsRead() bool {
	switch p {
	case PhaseReadMethod, PhaseReadPath, PhaseReadQuery, PhaseReadVersion,
		PhaseReadHeader, PhaseReadBody, PhaseReadDone,
		PhaseReadClientVersion, PhaseReadStatus, PhaseReadStatusDesc:
		return true
	}
	return false
}

// IsWrite reports whether the phase wants to push bytes to the socket.
func (p Phase) IsWrite() bool {
	switch p {
	case PhaseWriteBegin, PhaseWriteHeader, PhaseWriteBody:
		return true
	}
	return false
}

// IsHeaderPhase reports whether the scratch buffer is in active use.
func (p Phase) IsHeaderPhase() bool {
	switch p {
	case PhaseReadMethod, PhaseReadPath, PhaseReadQuery, PhaseReadVersion,
		PhaseReadHeader, PhaseReadClientVersion, PhaseReadStatus, PhaseReadStatusDesc:
		return true
	}
	return false
}

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseReadMethod:
		return "read-method"
	case PhaseReadPath:
		return "read-path"
	case PhaseReadQuery:
		return "read-query"
	case PhaseReadVersion:
		return "read-version"
	case PhaseReadHeader:
		return "read-header"
	case PhaseReadBody:
		return "read-body"
	case PhaseUpgrade:
		return "upgrade"
	case PhaseWriteBegin:
		return "write-begin"
	case PhaseWriteHeader:
		return "write-header"
	case PhaseWriteBody:
		return "write-body"
	case PhaseReadDone:
		return "read-done"
	case PhaseError:
		return "error"
	case PhaseReadClientVersion:
		return "read-client-version"
	case PhaseReadStatus:
		return "read-status"
	case PhaseReadStatusDesc:
		return "read-status-desc"
	default:
		return "unknown"
	}
}

// Flags is the orthogonal bitset layered over Phase.
type Flags uint8

const (
	FlagAcceptGzip Flags = 1 << iota
	FlagReadChunked
	FlagWriteChunked
	FlagIsClient
	FlagExpectNewline
	FlagUpgradePending
)

func (f *Flags) set(bit Flags)      { *f |= bit }
func (f *Flags) clear(bit Flags)    { *f &^= bit }
func (f Flags) has(bit Flags) bool  { return f&bit != 0 }

// Method is the small, closed set of HTTP methods this core understands.
type Method int

const (
	MethodNone Method = iota
	MethodGET
	MethodPOST
	MethodUnsupported
)

func (m Method) String() string {
	switch m {
	case MethodGET:
		return "GET"
	case MethodPOST:
		return "POST"
	case MethodUnsupported:
		return "UNSUPPORTED"
	default:
		return "NONE"
	}
}

// Outcome is what an HTTP handler returns after being invoked for a tick.
type Outcome int

const (
	// Done means the handler has finished writing the response.
	Done Outcome = iota
	// More means the handler needs another tick to keep writing.
	More
	// NotFound means this handler declines the request; the router should
	// keep scanning the table.
	NotFound
)

// HTTPHandler is the per-tick handler contract (§6 handler contract).
type HTTPHandler func(c *Conn) Outcome

// scratchCap is the default capacity of the per-connection line buffer.
const scratchCap = 64

// queryParam is an offset+length pair into queryRaw (§9 design note: query
// list as indices, to avoid interior pointers into an owned string).
type queryParam struct {
	nameStart, nameLen   int
	valueStart, valueLen int
	hasValue             bool
}

// Conn is one slot in the bounded HTTP connection pool. Slots are created
// once at startup and reused forever; nothing here is reallocated per
// request except handlerState, the query index and the parsed request
// strings (path, query, host, WebSocket key, If-None-Match), all released
// on close.
type Conn struct {
	netConn net.Conn
	inUse   bool

	phase Phase
	flags Flags

	scratch      [scratchCap]byte
	scratchIndex int

	readContentLength  int64 // -1 = unknown
	writeContentLength int64 // -1 = unknown
	chunkLength        int64

	// chunk header/footer decode state, resumable across short reads the
	// same way the header parser is (§4.3 I/O layer).
	chunkHdrStage      int
	chunkHdrAccum      int64
	chunkFtrStage      int
	chunkPendingFooter bool
	chunkTerminal      bool

	peek int // -1 = empty

	method Method
	status int
	errorStatus int

	path         string
	queryRaw     string
	host         string
	websocketKey string
	ifNoneMatch  string

	connectionUpgradeSeen bool

	queryDecoded    []queryParam
	queryIsDecoded  bool

	handler      HTTPHandler
	handlerArg   any
	handlerState any
	routeScan    int

	idleDeadline time.Time
}

// reset restores a slot to its free state. Owned byte buffers are not
// reallocated, only their logical length (via Go string reassignment to "")
// is cleared — matching the "slot owns everything, freed on close" model
// without per-connection garbage beyond the strings themselves.
func (c *Conn) reset() {
	c.netConn = nil
	c.inUse = false
	c.phase = PhaseIdle
	c.flags = 0
	c.scratchIndex = 0
	c.readContentLength = -1
	c.writeContentLength = -1
	c.chunkLength = 0
	c.chunkHdrStage = 0
	c.chunkHdrAccum = 0
	c.chunkFtrStage = 0
	c.chunkPendingFooter = false
	c.chunkTerminal = false
	c.peek = -1
	c.method = MethodNone
	c.status = 0
	c.errorStatus = 0
	c.path = ""
	c.queryRaw = ""
	c.host = ""
	c.websocketKey = ""
	c.ifNoneMatch = ""
	c.connectionUpgradeSeen = false
	c.queryDecoded = nil
	c.queryIsDecoded = false
	c.handler = nil
	c.handlerArg = nil
	c.handlerState = nil
	c.routeScan = 0
}

// Phase exposes the connection's current protocol phase.
func (c *Conn) Phase() Phase { return c.phase }

// Method exposes the parsed HTTP method.
func (c *Conn) Method() Method { return c.method }

// Path exposes the parsed request path.
func (c *Conn) Path() string { return c.path }

// Host exposes the parsed Host header value.
func (c *Conn) Host() string { return c.host }

// RemoteAddr exposes the peer address, for logging/ClientIP-style lookups.
func (c *Conn) RemoteAddr() string {
	if c.netConn == nil {
		return ""
	}
	return c.netConn.RemoteAddr().String()
}

// HandlerState returns the opaque continuation a handler stashed on a
// previous More return.
func (c *Conn) HandlerState() any { return c.handlerState }

// SetHandlerState stores a handler's continuation for the next tick.
func (c *Conn) SetHandlerState(v any) { c.handlerState = v }

// HandlerArg returns the static argument bound to the matched route.
func (c *Conn) HandlerArg() any { return c.handlerArg }
