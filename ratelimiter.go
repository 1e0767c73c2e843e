package ember

import (
	"sync"
	"time"
)

// acceptThrottle gates new-connection acceptance with a token bucket,
// adapted from the teacher's RateLimiter (rl.go/types.go). The teacher uses
// it to guard arbitrary route handlers from a request-handling goroutine;
// here it only guards Server.acceptPending in the tick loop, so its
// background refill goroutine never touches a Conn or ws.Conn and the
// single-threaded-core invariant (§5 concurrency model) holds: the bucket's
// own mutex is the only lock in the whole package.
type acceptThrottle struct {
	mu             sync.Mutex
	tokens         int
	maxTokens      int
	refillInterval time.Duration
	quit           chan struct{}
}

// newAcceptThrottle starts the bucket at maxTokens and launches its refill
// goroutine. Passing maxTokens <= 0 is the caller's responsibility to avoid;
// New only calls this when cfg.AcceptTokens > 0 (§11 domain stack).
func newAcceptThrottle(maxTokens int, refillInterval time.Duration) *acceptThrottle {
	t := &acceptThrottle{
		tokens:         maxTokens,
		maxTokens:      maxTokens,
		refillInterval: refillInterval,
		quit:           make(chan struct{}),
	}
	go t.refill()
	return t
}

func (t *acceptThrottle) refill() {
	ticker := time.NewTicker(t.refillInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.mu.Lock()
			t.tokens = t.maxTokens
			t.mu.Unlock()
		case <-t.quit:
			return
		}
	}
}

// Allow reports whether a new connection may be accepted this tick,
// consuming a token if so.
func (t *acceptThrottle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tokens > 0 {
		t.tokens--
		return true
	}
	return false
}

// Stop terminates the refill goroutine. Called once from Server.Close.
func (t *acceptThrottle) Stop() {
	close(t.quit)
}
