// Package config loads runtime settings from the environment, the only
// configuration source available to the hosting serverless function.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/prasetyadi/homerelay"
)

// Settings holds every knob the runtime consumes, loaded from HOMERELAY_*
// environment variables.
type Settings struct {
	BaseURL   string `envconfig:"BASE_URL" required:"true"`
	SocketURL string `envconfig:"SOCKET_URL"`
	Token     string `envconfig:"TOKEN"`

	MaxAttempts       int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	BackoffBaseMS     int           `envconfig:"BACKOFF_BASE_MS" default:"100"`
	BackoffMultiplier float64       `envconfig:"BACKOFF_MULTIPLIER" default:"2.0"`
	AttemptTimeout    time.Duration `envconfig:"ATTEMPT_TIMEOUT" default:"10s"`

	RateLimitCeiling int           `envconfig:"RATE_LIMIT_CEILING" default:"300"`
	RateLimitWindow  time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1s"`

	BreakerFailureThreshold int           `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5"`
	BreakerRecoveryTimeout  time.Duration `envconfig:"BREAKER_RECOVERY_TIMEOUT" default:"45s"`
	BreakerHalfOpenProbes   int           `envconfig:"BREAKER_HALF_OPEN_PROBES" default:"1"`

	CacheMaxBytes   int           `envconfig:"CACHE_MAX_BYTES" default:"8388608"`
	CacheDefaultTTL time.Duration `envconfig:"CACHE_DEFAULT_TTL" default:"5m"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`
}

// Load reads and validates settings from the environment.
func Load() (Settings, error) {
	var s Settings
	if err := envconfig.Process("homerelay", &s); err != nil {
		return Settings{}, fmt.Errorf("loading config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate enforces the documented ranges.
func (s Settings) Validate() error {
	if s.BaseURL == "" {
		return fmt.Errorf("config: BASE_URL is required")
	}
	if s.MaxAttempts < 1 || s.MaxAttempts > 10 {
		return fmt.Errorf("config: MAX_ATTEMPTS must be between 1 and 10, got %d", s.MaxAttempts)
	}
	if s.BackoffBaseMS < 50 || s.BackoffBaseMS > 1000 {
		return fmt.Errorf("config: BACKOFF_BASE_MS must be between 50 and 1000, got %d", s.BackoffBaseMS)
	}
	if s.BackoffMultiplier < 1.0 || s.BackoffMultiplier > 5.0 {
		return fmt.Errorf("config: BACKOFF_MULTIPLIER must be between 1.0 and 5.0, got %g", s.BackoffMultiplier)
	}
	if s.RateLimitCeiling < 1 {
		return fmt.Errorf("config: RATE_LIMIT_CEILING must be positive, got %d", s.RateLimitCeiling)
	}
	if s.BreakerFailureThreshold < 1 || s.BreakerFailureThreshold > 20 {
		return fmt.Errorf("config: BREAKER_FAILURE_THRESHOLD must be between 1 and 20, got %d", s.BreakerFailureThreshold)
	}
	if s.BreakerRecoveryTimeout < 20*time.Second || s.BreakerRecoveryTimeout > 60*time.Second {
		return fmt.Errorf("config: BREAKER_RECOVERY_TIMEOUT must be between 20s and 60s, got %s", s.BreakerRecoveryTimeout)
	}
	if s.CacheMaxBytes < 1 {
		return fmt.Errorf("config: CACHE_MAX_BYTES must be positive, got %d", s.CacheMaxBytes)
	}
	return nil
}

// Options translates the settings into runtime options.
func (s Settings) Options() []homerelay.Option {
	policy := homerelay.DefaultRetryPolicy()
	policy.MaxAttempts = s.MaxAttempts
	policy.BackoffBase = time.Duration(s.BackoffBaseMS) * time.Millisecond
	policy.BackoffMultiplier = s.BackoffMultiplier

	return []homerelay.Option{
		homerelay.WithBaseURL(s.BaseURL),
		homerelay.WithSocketURL(s.SocketURL),
		homerelay.WithToken(s.Token),
		homerelay.WithRetryPolicy(policy),
		homerelay.WithAttemptTimeout(s.AttemptTimeout),
		homerelay.WithRateLimit(s.RateLimitCeiling, s.RateLimitWindow),
		homerelay.WithCircuitBreaker(homerelay.BreakerConfig{
			FailureThreshold:  s.BreakerFailureThreshold,
			RecoveryTimeout:   s.BreakerRecoveryTimeout,
			HalfOpenMaxProbes: s.BreakerHalfOpenProbes,
		}),
		homerelay.WithCache(s.CacheMaxBytes, s.CacheDefaultTTL),
		homerelay.WithLogger(homerelay.NewJSONLogger(s.LogLevel)),
	}
}
