// Package backoff computes deterministic retry delays. Delays carry no
// jitter so total retry latency is computable up front from the policy
// alone, which callers need to stay under the host's execution-time ceiling.
package backoff

import "time"

// Delay returns the backoff before retry number attempt (0-based):
// base * multiplier^attempt, capped at max.
func Delay(attempt int, base, max time.Duration, multiplier float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	// Prevent overflow by limiting attempt
	if attempt > 30 {
		attempt = 30
	}

	d := time.Duration(float64(base) * Pow(multiplier, attempt))
	if d < 0 || (max > 0 && d > max) {
		d = max
	}
	return d
}

// Total returns the sum of all delays a policy can insert: the worst-case
// added latency of attempts-1 retries.
func Total(attempts int, base, max time.Duration, multiplier float64) time.Duration {
	var sum time.Duration
	for i := 0; i < attempts-1; i++ {
		sum += Delay(i, base, max, multiplier)
	}
	return sum
}

// Pow calculates base^exponent using integer exponentiation.
func Pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
