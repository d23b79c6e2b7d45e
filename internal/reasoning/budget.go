package reasoning

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrRateLimitExceeded means the caller exhausted the request window.
	// Callers must not block waiting for the window to roll over.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrCostLimitExceeded means the per-review dollar ceiling was reached.
	ErrCostLimitExceeded = errors.New("cost limit exceeded")
)

// Budget tracks reasoning-backend spend and request rate for one or more
// reviews. It is owned by the orchestrator and injected into the Client so
// concurrent reviews coordinate through a single counter deliberately
// rather than through hidden globals.
type Budget struct {
	mu sync.Mutex

	costLimit float64
	cost      float64

	rateLimit   int
	window      time.Duration
	requests    int
	windowStart time.Time

	now func() time.Time
}

// NewBudget creates a Budget with a dollar ceiling and a fixed-window
// requests-per-minute limit.
func NewBudget(costLimit float64, requestsPerMinute int) *Budget {
	return &Budget{
		costLimit: costLimit,
		rateLimit: requestsPerMinute,
		window:    time.Minute,
		now:       time.Now,
	}
}

// Reserve claims one request slot in the current window, failing fast with
// ErrRateLimitExceeded when the window is full.
func (b *Budget) Reserve() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if now.Sub(b.windowStart) > b.window {
		b.requests = 0
		b.windowStart = now
	}
	if b.requests >= b.rateLimit {
		return ErrRateLimitExceeded
	}
	b.requests++
	return nil
}

// Remaining returns how many requests are left in the current window.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.now().Sub(b.windowStart) > b.window {
		return b.rateLimit
	}
	if n := b.rateLimit - b.requests; n > 0 {
		return n
	}
	return 0
}

// AddCost accumulates spend from a completed call.
func (b *Budget) AddCost(cost float64) {
	b.mu.Lock()
	b.cost += cost
	b.mu.Unlock()
}

// Cost returns the accumulated spend since the last Reset.
func (b *Budget) Cost() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cost
}

// Exceeded reports whether accumulated spend reached the ceiling. Callers
// must check this before issuing further paid calls.
func (b *Budget) Exceeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cost >= b.costLimit
}

// Reset zeroes the spend counter at the start of a review run. The rate
// window is left alone: it is shared process-wide across reviews.
func (b *Budget) Reset() {
	b.mu.Lock()
	b.cost = 0
	b.mu.Unlock()
}
