// Package homerelay is the resilience and dispatch core of a serverless
// bridge between a voice-assistant protocol and a remote home-automation
// server. It provides the shared infrastructure every integration feature
// sits on:
//
//   - A gateway dispatcher: the single Execute(interface, operation, kwargs)
//     entry point that resolves components through a singleton registry and
//     always returns a structured OperationResult, never a raised error
//   - A retrying network client over HTTP and WebSocket transports, with
//     deterministic exponential backoff and an optional retry budget
//   - A per-dependency circuit breaker (closed / open / half-open)
//   - A sliding-window rate limiter with exact trailing-window semantics
//   - A TTL cache with LRU eviction under staged memory pressure
//   - Prometheus metrics and pluggable structured logging
//
// Design goals:
//   - Small surface area – functional options configure everything
//   - Every blocking operation bounded by an explicit timeout
//   - Retry latency computable up front (no jitter): delays are exactly
//     base * multiplier^attempt, capped at a maximum
//   - Survives warm-instance reuse: all shared state is mutex-guarded even
//     though the hosting model promises a single logical thread
//
// Typical usage:
//
//	gw := homerelay.NewGateway(
//	    homerelay.WithBaseURL("http://homeassistant.local:8123"),
//	    homerelay.WithToken(token),
//	    homerelay.WithRateLimit(300, time.Second),
//	    homerelay.WithCircuitBreaker(homerelay.BreakerConfig{}),
//	    homerelay.WithCache(8<<20, 5*time.Minute),
//	)
//	res := gw.Execute(ctx, "states", "get", map[string]any{"entity_id": "light.kitchen"})
//
// Integration code is permitted to call only the gateway; no component calls
// another component directly.
package homerelay
