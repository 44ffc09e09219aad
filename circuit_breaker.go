package homerelay

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

// String returns the lowercase state name.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit breaker configuration. Zero values take the
// defaults noted on each field.
type BreakerConfig struct {
	FailureThreshold  int           // consecutive failures before opening; default 5
	RecoveryTimeout   time.Duration // open duration before probing; default 45s
	HalfOpenMaxProbes int           // concurrent half-open probes; default 1, capped at 2
}

func (cfg BreakerConfig) withDefaults() BreakerConfig {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout == 0 {
		cfg.RecoveryTimeout = 45 * time.Second
	}
	if cfg.HalfOpenMaxProbes == 0 {
		cfg.HalfOpenMaxProbes = 1
	}
	if cfg.HalfOpenMaxProbes > 2 {
		cfg.HalfOpenMaxProbes = 2
	}
	return cfg
}

// CircuitBreaker is a three-state failure-isolation guard for one downstream
// dependency. Failure classification is the caller's job: the breaker only
// consumes boolean success/failure signals, so it is transport-agnostic.
type CircuitBreaker struct {
	mu             sync.Mutex
	name           string
	config         BreakerConfig
	state          CircuitState
	failures       int
	openedAt       time.Time
	probesInFlight int
	now            func() time.Time
}

// NewCircuitBreaker creates a closed breaker for the named dependency.
func NewCircuitBreaker(name string, config BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: config.withDefaults(),
		state:  StateClosed,
		now:    time.Now,
	}
}

// Allow reports whether a request may proceed. While open, requests are
// rejected without any I/O until the recovery timeout elapses, at which point
// the breaker moves to half-open and admits a bounded number of probes.
// Probe admissions beyond the cap are rejected as if open, so recovery never
// triggers a thundering herd.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.RecoveryTimeout {
			return false
		}
		cb.state = StateHalfOpen
		cb.probesInFlight = 1
		return true
	case StateHalfOpen:
		if cb.probesInFlight >= cb.config.HalfOpenMaxProbes {
			return false
		}
		cb.probesInFlight++
		return true
	default:
		return false
	}
}

// RecordSuccess resets the failure count; a successful half-open probe closes
// the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.state = StateClosed
		cb.failures = 0
		cb.probesInFlight = 0
	}
}

// RecordFailure counts a failure; at the threshold a closed breaker opens,
// and a failed half-open probe reopens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = StateOpen
			cb.openedAt = cb.now()
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.openedAt = cb.now()
		cb.probesInFlight = 0
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Name returns the dependency name this breaker guards.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// breakerSet lazily creates one breaker per downstream dependency name, all
// sharing a config. Breakers live for the process lifetime.
type breakerSet struct {
	mu       sync.Mutex
	config   BreakerConfig
	breakers map[string]*CircuitBreaker
}

func newBreakerSet(config BreakerConfig) *breakerSet {
	return &breakerSet{
		config:   config.withDefaults(),
		breakers: make(map[string]*CircuitBreaker),
	}
}

// For returns the breaker for the named dependency, creating it on first use.
func (bs *breakerSet) For(name string) *CircuitBreaker {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	cb, ok := bs.breakers[name]
	if !ok {
		cb = NewCircuitBreaker(name, bs.config)
		bs.breakers[name] = cb
	}
	return cb
}

// states snapshots the current state of every known breaker.
func (bs *breakerSet) states() map[string]CircuitState {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	out := make(map[string]CircuitState, len(bs.breakers))
	for name, cb := range bs.breakers {
		out[name] = cb.State()
	}
	return out
}
