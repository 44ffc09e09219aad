package homerelay

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestDefaultClientIsValid(t *testing.T) {
	client := NewClient()
	if !client.IsValid() {
		t.Fatalf("Expected default configuration to be valid, got %v", client.ValidationError())
	}
	if client.attemptTimeout != 10*time.Second {
		t.Errorf("Expected default attempt timeout 10s, got %v", client.attemptTimeout)
	}
	if client.rateLimiter.Ceiling() != 300 {
		t.Errorf("Expected default rate ceiling 300, got %d", client.rateLimiter.Ceiling())
	}
}

func TestWithMaxAttemptsOutOfRange(t *testing.T) {
	client := NewClient(WithMaxAttempts(11))
	if client.IsValid() {
		t.Fatal("Expected MaxAttempts=11 to fail validation")
	}

	err := client.ValidationError()
	var be *BridgeError
	if !errors.As(err, &be) || be.Kind != KindValidation {
		t.Errorf("Expected a Validation error, got %v", err)
	}
}

func TestWithBackoffOutOfRange(t *testing.T) {
	if NewClient(WithBackoff(20*time.Millisecond, 2.0)).IsValid() {
		t.Error("Expected base below 50ms to fail validation")
	}
	if NewClient(WithBackoff(2*time.Second, 2.0)).IsValid() {
		t.Error("Expected base above 1s to fail validation")
	}
	if NewClient(WithBackoff(100*time.Millisecond, 0.5)).IsValid() {
		t.Error("Expected multiplier below 1.0 to fail validation")
	}
	if NewClient(WithBackoff(100*time.Millisecond, 6.0)).IsValid() {
		t.Error("Expected multiplier above 5.0 to fail validation")
	}
	if !NewClient(WithBackoff(200*time.Millisecond, 3.0)).IsValid() {
		t.Error("Expected in-range backoff to pass validation")
	}
}

func TestWithCircuitBreakerOutOfRange(t *testing.T) {
	cases := []struct {
		name  string
		cfg   BreakerConfig
		valid bool
	}{
		{"threshold too high", BreakerConfig{FailureThreshold: 21, RecoveryTimeout: 45 * time.Second}, false},
		{"recovery too short", BreakerConfig{FailureThreshold: 5, RecoveryTimeout: 10 * time.Second}, false},
		{"recovery too long", BreakerConfig{FailureThreshold: 5, RecoveryTimeout: 90 * time.Second}, false},
		{"boundary low", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 20 * time.Second}, true},
		{"boundary high", BreakerConfig{FailureThreshold: 20, RecoveryTimeout: 60 * time.Second}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := NewClient(WithCircuitBreaker(tc.cfg))
			if client.IsValid() != tc.valid {
				t.Errorf("Expected valid=%v, got %v (%v)", tc.valid, client.IsValid(), client.ValidationError())
			}
		})
	}
}

func TestWithHTTPClient(t *testing.T) {
	hc := &http.Client{Timeout: 3 * time.Second}
	client := NewClient(WithHTTPClient(hc))
	if client.httpClient != hc {
		t.Error("Expected the supplied HTTP client to be used")
	}
}

func TestWithRetryPolicyReplacesWhole(t *testing.T) {
	p := DefaultRetryPolicy()
	p.MaxAttempts = 5
	p.RetriableStatuses = map[int]bool{418: true}

	client := NewClient(WithRetryPolicy(p))
	if client.policy.MaxAttempts != 5 {
		t.Errorf("Expected 5 attempts, got %d", client.policy.MaxAttempts)
	}
	if !client.policy.Retriable(418) {
		t.Error("Expected 418 to be retriable under the custom policy")
	}
}

func TestSharedLimiterAcrossComponents(t *testing.T) {
	s := defaultSettings()
	WithRateLimit(2, time.Second)(s)

	httpClient := newClientFromSettings(s)
	socketClient := newSocketClientFromSettings(s)

	if httpClient.rateLimiter != socketClient.rateLimiter {
		t.Error("Expected HTTP and socket clients built from one settings to share a rate limiter")
	}
	if httpClient.breakers != socketClient.breakers {
		t.Error("Expected HTTP and socket clients built from one settings to share breaker state")
	}
}

func TestWithRetryBudgetWired(t *testing.T) {
	client := NewClient(WithRetryBudget(4, time.Minute))
	if client.budget == nil {
		t.Fatal("Expected a retry budget to be configured")
	}
	if got := client.budget.Remaining(); got != 4 {
		t.Errorf("Expected 4 retries remaining, got %d", got)
	}
}
