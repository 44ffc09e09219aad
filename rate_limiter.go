package homerelay

import (
	"sync"
	"time"
)

// RateLimiter admits or rejects an operation against a fixed ceiling over an
// exact trailing time window. It keeps a FIFO of admission timestamps; stale
// stamps are evicted from the front before every check, giving amortized O(1)
// admission with true sliding-window semantics rather than a fixed-bucket
// approximation.
//
// One limiter is shared per client singleton. It protects the local process
// from self-induced overload, not the remote server.
type RateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	ceiling int
	stamps  []time.Time
	now     func() time.Time
}

// NewRateLimiter creates a limiter admitting at most ceiling operations per
// trailing window.
func NewRateLimiter(ceiling int, window time.Duration) *RateLimiter {
	if ceiling <= 0 {
		ceiling = 300
	}
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{
		window:  window,
		ceiling: ceiling,
		stamps:  make([]time.Time, 0, ceiling),
		now:     time.Now,
	}
}

// Allow evicts expired timestamps, then admits and records the operation if
// the window has room. A rejected operation is not recorded.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.evict(now)

	if len(rl.stamps) >= rl.ceiling {
		return false
	}

	rl.stamps = append(rl.stamps, now)
	return true
}

// Len returns the number of admissions currently inside the window.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.evict(rl.now())
	return len(rl.stamps)
}

// Ceiling returns the configured per-window admission ceiling.
func (rl *RateLimiter) Ceiling() int {
	return rl.ceiling
}

// evict drops timestamps older than the window from the front of the FIFO.
// Caller holds rl.mu.
func (rl *RateLimiter) evict(now time.Time) {
	cutoff := now.Add(-rl.window)
	i := 0
	for i < len(rl.stamps) && !rl.stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	n := copy(rl.stamps, rl.stamps[i:])
	rl.stamps = rl.stamps[:n]
}
