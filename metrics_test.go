package homerelay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCollectorRegistersAllCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)

	mc.RecordRequest(http.MethodGet, "ha.local:8123", 200, 25*time.Millisecond)
	mc.RecordRetry(http.MethodGet, "ha.local:8123", 2)
	mc.RecordRetryBudgetExceeded("ha.local:8123")
	mc.RecordBreakerState("ha.local:8123", StateHalfOpen)
	mc.RecordLimiterOccupancy(7, 300)
	mc.RecordCacheHit()
	mc.RecordCacheMiss()
	mc.RecordCacheEviction(3)
	mc.RecordCacheBytes(4096)
	mc.RecordDispatch("states", "get", "")
	mc.RecordError(KindTimeout, http.MethodGet, "ha.local:8123")

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	want := []string{
		"homerelay_requests_total",
		"homerelay_request_duration_seconds",
		"homerelay_retries_total",
		"homerelay_retry_budget_exceeded_total",
		"homerelay_circuit_breaker_state",
		"homerelay_rate_limiter_window_occupancy",
		"homerelay_rate_limiter_ceiling",
		"homerelay_cache_hits_total",
		"homerelay_cache_misses_total",
		"homerelay_cache_evictions_total",
		"homerelay_cache_bytes",
		"homerelay_dispatches_total",
		"homerelay_errors_total",
	}
	got := make(map[string]bool, len(families))
	for _, f := range families {
		got[f.GetName()] = true
	}
	for _, name := range want {
		if !got[name] {
			t.Errorf("Expected metric family %s to be registered", name)
		}
	}
}

func TestMetricsCollectorCounterValues(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)

	mc.RecordCacheHit()
	mc.RecordCacheHit()
	mc.RecordCacheMiss()
	mc.RecordCacheEviction(5)
	mc.RecordBreakerState("ha.local:8123", StateOpen)
	mc.RecordLimiterOccupancy(12, 300)

	if v := testutil.ToFloat64(mc.cacheHits); v != 2 {
		t.Errorf("Expected 2 cache hits, got %v", v)
	}
	if v := testutil.ToFloat64(mc.cacheMisses); v != 1 {
		t.Errorf("Expected 1 cache miss, got %v", v)
	}
	if v := testutil.ToFloat64(mc.cacheEvictions); v != 5 {
		t.Errorf("Expected 5 evictions, got %v", v)
	}
	if v := testutil.ToFloat64(mc.breakerState.WithLabelValues("ha.local:8123")); v != float64(StateOpen) {
		t.Errorf("Expected breaker state gauge %d, got %v", StateOpen, v)
	}
	if v := testutil.ToFloat64(mc.limiterOccupancy); v != 12 {
		t.Errorf("Expected limiter occupancy 12, got %v", v)
	}
	if v := testutil.ToFloat64(mc.limiterCeiling); v != 300 {
		t.Errorf("Expected limiter ceiling 300, got %v", v)
	}
}

func TestClientRecordsRequestMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)
	client := NewClient(WithMetrics(mc))

	resp, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	drain(resp)

	if v := testutil.ToFloat64(mc.requestsTotal); v != 1 {
		t.Errorf("Expected 1 recorded request, got %v", v)
	}
	if v := testutil.ToFloat64(mc.requestsInFlight); v != 0 {
		t.Errorf("Expected 0 requests in flight after completion, got %v", v)
	}
}

func TestGatewayRecordsDispatchMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)
	gw := NewGateway(
		WithBaseURL("http://ha.local:8123"),
		WithMetrics(mc),
	)

	gw.Execute(context.Background(), "cache", "set", map[string]any{"key": "k", "value": "v"})
	gw.Execute(context.Background(), "cache", "get", map[string]any{"key": "k"})
	gw.Execute(context.Background(), "bogus-"+t.Name(), "get", nil)
	gw.Execute(context.Background(), "cache", "bogus-op", nil)

	if v := testutil.ToFloat64(mc.cacheHits); v != 1 {
		t.Errorf("Expected 1 cache hit, got %v", v)
	}
	// Caller-supplied names must not leak into label values.
	if v := testutil.ToFloat64(mc.dispatchesTotal.WithLabelValues("unknown", "unknown", KindDispatch)); v != 1 {
		t.Errorf("Expected unknown interface recorded under the fixed label, got %v", v)
	}
	if v := testutil.ToFloat64(mc.dispatchesTotal.WithLabelValues("cache", "unknown", KindDispatch)); v != 1 {
		t.Errorf("Expected unknown operation recorded under the fixed label, got %v", v)
	}
	if v := testutil.ToFloat64(mc.dispatchesTotal.WithLabelValues("cache", "set", "")); v != 1 {
		t.Errorf("Expected 1 successful cache.set dispatch, got %v", v)
	}
}
