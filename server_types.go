package ember

import (
	"net"
	"time"

	"github.com/kashari/ember/ws"
)

// RouteEntry is one row of the static ordered route table (§3 data model,
// §4.6 router).
type RouteEntry struct {
	Pattern string
	Handler HTTPHandler
	Arg     any
}

// WSRouteEntry is the WebSocket-table counterpart.
type WSRouteEntry struct {
	Pattern string
	Handler ws.Handler
	Arg     any
}

// Config bundles the tunables the source hardcodes as compile-time
// constants. Defaults match the source (§9 design notes).
type Config struct {
	// HTTPPoolSize is the number of concurrent HTTP connection slots.
	HTTPPoolSize int
	// WSPoolSize is the number of concurrent WebSocket slots.
	WSPoolSize int
	// TickTimeout is how long Serve may go without doing any work before it
	// applies the timeout policy below (§4.5 step 2).
	TickTimeout time.Duration
	// ScratchCap reports the per-connection line buffer size. The buffer is
	// a fixed array of scratchCap bytes inside each Conn; setting this field
	// does not change it.
	ScratchCap int
	// AggressiveTimeoutCloseAll preserves the source's behavior of closing
	// every open HTTP connection once TickTimeout passes with no activity.
	// When false, closeIdleExpired runs instead and closes only slots whose
	// own idle deadline has passed (§9). Nothing in this package sets the
	// HTTP slots' deadlines, so in that mode the only slots closed on
	// timeout are WebSocket slots whose IdleDeadline has been set.
	AggressiveTimeoutCloseAll bool
	// AcceptTokens/AcceptRefill configure the optional accept throttle
	// (§11 domain stack — adapted from the teacher's RateLimiter). Zero
	// AcceptTokens disables the throttle.
	AcceptTokens  int
	AcceptRefill  time.Duration
	// LogFilePath, if set, mirrors log output to a file via golog.Init.
	LogFilePath string
	// BroadcastTick, if set, is invoked once per multiplexer tick so
	// sample handlers (e.g. a time-broadcast WebSocket demo) can push data
	// without a goroutine or signal handler touching connection state
	// (§9 design note on the global time-broadcast pointer).
	BroadcastTick func(*Server)
}

// DefaultConfig matches the source's hardcoded embedded-device defaults.
func DefaultConfig() Config {
	return Config{
		HTTPPoolSize:              3,
		WSPoolSize:                3,
		TickTimeout:               500 * time.Millisecond,
		ScratchCap:                scratchCap,
		AggressiveTimeoutCloseAll: true,
	}
}

// Server owns the listen socket and the two bounded connection pools. It is
// not safe for concurrent use from more than one goroutine: every mutation
// of a Conn or ws.Conn happens from inside Serve's tick loop (§5 concurrency
// model).
type Server struct {
	cfg Config

	listener net.Listener

	httpSlots []Conn
	wsSlots   []ws.Conn

	// routes is the static ordered route table (§4.6): exact and
	// trailing-`*` wildcard patterns side by side in registration order,
	// scanned front to back, first match wins.
	routes []RouteEntry

	wsRoutes []WSRouteEntry

	throttle *acceptThrottle

	stats Stats
}

// Stats are process-lifetime counters, useful for the embedded operator to
// observe the server without a metrics stack (explicitly out of scope per
// spec.md §1, but a few free counters cost nothing and resolve the open
// question on CONT/PONG handling, §9).
type Stats struct {
	Accepted       uint64
	Rejected       uint64
	WSUpgrades     uint64
	WSIgnoredCont  uint64
	WSIgnoredPong  uint64
	TimeoutCloses  uint64
}
