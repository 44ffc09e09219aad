package homerelay

import (
	"fmt"
	"net/http"
	"time"
)

// settings is the shared configuration surface the functional options write
// to. One settings value can back a Client, a SocketClient and a Gateway so
// they share the same rate limiter and breaker set.
type settings struct {
	httpClient     *http.Client
	attemptTimeout time.Duration
	policy         RetryPolicy
	budget         *RetryBudget
	limiterCeiling int
	limiterWindow  time.Duration
	breakerConfig  BreakerConfig
	middleware     []Middleware
	cache          Cache
	cacheMaxBytes  int
	cacheTTL       time.Duration
	metrics        *MetricsCollector
	logger         Logger
	baseURL        string
	socketURL      string
	token          string

	sharedLimiter  *RateLimiter
	sharedBreakers *breakerSet
}

func defaultSettings() *settings {
	return &settings{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		attemptTimeout: 10 * time.Second,
		policy:         DefaultRetryPolicy(),
		limiterCeiling: 300,
		limiterWindow:  time.Second,
		breakerConfig:  BreakerConfig{},
		cacheMaxBytes:  8 << 20,
		cacheTTL:       5 * time.Minute,
	}
}

// limiter returns the one rate limiter for these settings, creating it on
// first use so every component built from the same settings shares it.
func (s *settings) limiter() *RateLimiter {
	if s.sharedLimiter == nil {
		s.sharedLimiter = NewRateLimiter(s.limiterCeiling, s.limiterWindow)
	}
	return s.sharedLimiter
}

// breakerSet returns the shared per-dependency breaker set.
func (s *settings) breakerSet() *breakerSet {
	if s.sharedBreakers == nil {
		s.sharedBreakers = newBreakerSet(s.breakerConfig)
	}
	return s.sharedBreakers
}

// buildCache returns the configured cache, defaulting to an in-memory one.
func (s *settings) buildCache() Cache {
	if s.cache == nil {
		s.cache = NewMemoryCache(s.cacheMaxBytes, s.cacheTTL)
	}
	return s.cache
}

// Option configures a Client, SocketClient or Gateway.
type Option func(*settings)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *settings) {
		s.httpClient = hc
	}
}

// WithAttemptTimeout bounds each individual network attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.attemptTimeout = d
	}
}

// WithRetryPolicy replaces the whole retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *settings) {
		s.policy = p
	}
}

// WithMaxAttempts sets the attempt ceiling on the current policy.
func WithMaxAttempts(n int) Option {
	return func(s *settings) {
		s.policy.MaxAttempts = n
	}
}

// WithBackoff sets the base delay and multiplier on the current policy.
func WithBackoff(base time.Duration, multiplier float64) Option {
	return func(s *settings) {
		s.policy.BackoffBase = base
		s.policy.BackoffMultiplier = multiplier
	}
}

// WithRetryBudget caps retries globally at maxRetries per trailing window.
func WithRetryBudget(maxRetries int, window time.Duration) Option {
	return func(s *settings) {
		s.budget = NewRetryBudget(maxRetries, window)
	}
}

// WithRateLimit sets the sliding-window admission ceiling.
func WithRateLimit(ceiling int, window time.Duration) Option {
	return func(s *settings) {
		s.limiterCeiling = ceiling
		s.limiterWindow = window
		s.sharedLimiter = nil
	}
}

// WithCircuitBreaker sets the per-dependency breaker configuration.
func WithCircuitBreaker(cfg BreakerConfig) Option {
	return func(s *settings) {
		s.breakerConfig = cfg
		s.sharedBreakers = nil
	}
}

// WithMiddleware appends middleware to the outbound chain.
func WithMiddleware(mw ...Middleware) Option {
	return func(s *settings) {
		s.middleware = append(s.middleware, mw...)
	}
}

// WithCache enables the in-memory cache with a byte budget and default TTL.
func WithCache(maxBytes int, ttl time.Duration) Option {
	return func(s *settings) {
		s.cache = NewMemoryCache(maxBytes, ttl)
		s.cacheMaxBytes = maxBytes
		s.cacheTTL = ttl
	}
}

// WithCustomCache sets a custom cache implementation.
func WithCustomCache(cache Cache, ttl time.Duration) Option {
	return func(s *settings) {
		s.cache = cache
		s.cacheTTL = ttl
	}
}

// WithMetrics sets the Prometheus metrics collector.
func WithMetrics(mc *MetricsCollector) Option {
	return func(s *settings) {
		s.metrics = mc
	}
}

// WithLogger sets the structured logger.
func WithLogger(l Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// WithBaseURL sets the home-automation server base URL for the gateway.
func WithBaseURL(u string) Option {
	return func(s *settings) {
		s.baseURL = u
	}
}

// WithSocketURL sets the persistent-connection endpoint for the gateway.
func WithSocketURL(u string) Option {
	return func(s *settings) {
		s.socketURL = u
	}
}

// WithToken sets the bearer token used against the home-automation server.
// The token is attached to outbound requests and never logged.
func WithToken(t string) Option {
	return func(s *settings) {
		s.token = t
	}
}

// ValidateConfiguration validates the client configuration against the
// documented ranges and returns an error if invalid.
func (c *Client) ValidateConfiguration() error {
	var errs []string

	if err := c.policy.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.httpClient == nil {
		errs = append(errs, "httpClient must not be nil")
	}
	if c.attemptTimeout <= 0 {
		errs = append(errs, "attemptTimeout must be positive")
	}
	if c.rateLimiter != nil {
		if ceiling := c.rateLimiter.Ceiling(); ceiling < 1 {
			errs = append(errs, "rate limit ceiling must be positive")
		}
	}
	if cfg := c.breakers.config; cfg.FailureThreshold < 1 || cfg.FailureThreshold > 20 {
		errs = append(errs, "breaker FailureThreshold must be between 1 and 20")
	} else if cfg.RecoveryTimeout < 20*time.Second || cfg.RecoveryTimeout > 60*time.Second {
		errs = append(errs, "breaker RecoveryTimeout must be between 20s and 60s")
	}

	if len(errs) > 0 {
		return &BridgeError{
			Kind:      KindValidation,
			Message:   "configuration validation failed",
			Cause:     fmt.Errorf("validation errors: %v", errs),
			Timestamp: time.Now(),
		}
	}
	return nil
}
