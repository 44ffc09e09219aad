package homerelay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// InterfaceID is the closed set of component interfaces the gateway can
// dispatch to. Unknown names never panic; they produce a Dispatch error
// result.
type InterfaceID int

const (
	InterfaceUnknown InterfaceID = iota
	InterfaceStates
	InterfaceServices
	InterfaceCache
	InterfaceSystem
)

// ParseInterface maps an interface name onto its ID.
func ParseInterface(name string) (InterfaceID, bool) {
	switch strings.ToLower(name) {
	case "states":
		return InterfaceStates, true
	case "services":
		return InterfaceServices, true
	case "cache":
		return InterfaceCache, true
	case "system":
		return InterfaceSystem, true
	default:
		return InterfaceUnknown, false
	}
}

// String returns the interface name.
func (i InterfaceID) String() string {
	switch i {
	case InterfaceStates:
		return "states"
	case InterfaceServices:
		return "services"
	case InterfaceCache:
		return "cache"
	case InterfaceSystem:
		return "system"
	default:
		return "unknown"
	}
}

// operationID enumerates every dispatchable operation, so dispatch is a
// checked switch instead of a string-keyed table.
type operationID int

const (
	opUnknown operationID = iota
	opStatesGet
	opStatesList
	opServicesCall
	opCacheGet
	opCacheSet
	opCacheInvalidate
	opCacheClear
	opSystemHealth
	opSystemPing
	opSystemStats
)

func parseOperation(iface InterfaceID, name string) (operationID, bool) {
	op := strings.ToLower(name)
	switch iface {
	case InterfaceStates:
		switch op {
		case "get":
			return opStatesGet, true
		case "list":
			return opStatesList, true
		}
	case InterfaceServices:
		if op == "call" {
			return opServicesCall, true
		}
	case InterfaceCache:
		switch op {
		case "get":
			return opCacheGet, true
		case "set":
			return opCacheSet, true
		case "invalidate":
			return opCacheInvalidate, true
		case "clear":
			return opCacheClear, true
		}
	case InterfaceSystem:
		switch op {
		case "health":
			return opSystemHealth, true
		case "ping":
			return opSystemPing, true
		case "stats":
			return opSystemStats, true
		}
	}
	return opUnknown, false
}

// Component names in the singleton registry.
const (
	componentHTTPClient   = "client.http"
	componentSocketClient = "client.socket"
	componentCache        = "cache.memory"
)

const stateKeyPrefix = "state:"

// Gateway is the single entry point application code uses. It resolves
// components through the singleton registry rather than constructing them
// directly, and every call terminates in a complete OperationResult.
type Gateway struct {
	registry *Registry
	settings *settings
	logger   Logger
	metrics  *MetricsCollector
}

// NewGateway constructs a Gateway and its registry from functional options.
// Components themselves are constructed lazily on first dispatch.
func NewGateway(options ...Option) *Gateway {
	s := defaultSettings()
	for _, option := range options {
		option(s)
	}
	return &Gateway{
		registry: NewRegistry(),
		settings: s,
		logger:   s.logger,
		metrics:  s.metrics,
	}
}

// Registry exposes the gateway's singleton registry, e.g. to replace a
// component in tests or to tear one down between invocations.
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// Execute dispatches (interface, operation, kwargs) to the owning component
// and returns a structured result. Unknown interfaces or operations yield a
// Dispatch error result; nothing raises across this boundary.
func (g *Gateway) Execute(ctx context.Context, iface, operation string, kwargs map[string]any) OperationResult {
	ctx, correlationID := EnsureCorrelationID(ctx)

	id, ok := ParseInterface(iface)
	if !ok {
		res := dispatchErrorResult(correlationID, fmt.Sprintf("unknown interface %q", iface))
		// Caller-supplied names never become metric labels: unbounded
		// label cardinality would blow up the dispatch counter.
		g.finish("unknown", "unknown", res)
		return res
	}

	op, ok := parseOperation(id, operation)
	if !ok {
		res := dispatchErrorResult(correlationID, fmt.Sprintf("unknown operation %q on interface %q", operation, id))
		g.finish(id.String(), "unknown", res)
		return res
	}

	var res OperationResult
	switch op {
	case opStatesGet:
		res = g.statesGet(ctx, correlationID, kwargs)
	case opStatesList:
		res = g.statesList(ctx, correlationID)
	case opServicesCall:
		res = g.servicesCall(ctx, correlationID, kwargs)
	case opCacheGet:
		res = g.cacheGet(correlationID, kwargs)
	case opCacheSet:
		res = g.cacheSet(correlationID, kwargs)
	case opCacheInvalidate:
		res = g.cacheInvalidate(correlationID, kwargs)
	case opCacheClear:
		res = g.cacheClear(correlationID)
	case opSystemHealth:
		res = g.systemHealth(ctx, correlationID)
	case opSystemPing:
		res = g.systemPing(ctx, correlationID)
	case opSystemStats:
		res = g.systemStats(correlationID)
	}

	g.finish(id.String(), operation, res)
	return res
}

func (g *Gateway) finish(iface, operation string, res OperationResult) {
	if g.metrics != nil {
		g.metrics.RecordDispatch(iface, operation, res.ErrorKind)
	}
	if g.logger != nil {
		if res.Success {
			g.logger.Debug("dispatch ok", "interface", iface, "operation", operation, "correlationID", res.CorrelationID)
		} else {
			g.logger.Warn("dispatch failed", "interface", iface, "operation", operation, "correlationID", res.CorrelationID, "errorKind", res.ErrorKind, "error", res.Error)
		}
	}
}

// httpClient resolves the HTTP client singleton.
func (g *Gateway) httpClient() (*Client, error) {
	v, err := g.registry.GetOrCreate(componentHTTPClient, func() (any, error) {
		c := newClientFromSettings(g.settings)
		if !c.IsValid() {
			return nil, c.ValidationError()
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Client), nil
}

// socketClient resolves the persistent-connection client singleton.
func (g *Gateway) socketClient() (*SocketClient, error) {
	v, err := g.registry.GetOrCreate(componentSocketClient, func() (any, error) {
		return newSocketClientFromSettings(g.settings), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*SocketClient), nil
}

// cache resolves the cache singleton.
func (g *Gateway) cache() (Cache, error) {
	v, err := g.registry.GetOrCreate(componentCache, func() (any, error) {
		return g.settings.buildCache(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Cache), nil
}

// statesGet reads one entity state, read-through the cache.
func (g *Gateway) statesGet(ctx context.Context, correlationID string, kwargs map[string]any) OperationResult {
	entityID := stringArg(kwargs, "entity_id")
	if entityID == "" {
		return validationErrorResult(correlationID, "entity_id is required")
	}

	cache, err := g.cache()
	if err != nil {
		return errorResult(correlationID, err)
	}

	key := stateKeyPrefix + entityID
	if v, ok := cache.Get(key); ok {
		if g.metrics != nil {
			g.metrics.RecordCacheHit()
		}
		return successResult(correlationID, v, 0)
	}
	if g.metrics != nil {
		g.metrics.RecordCacheMiss()
	}

	data, attempts, err := g.getJSON(ctx, "/api/states/"+entityID)
	if err != nil {
		return errorResult(correlationID, err)
	}

	cache.Set(key, data, g.settings.cacheTTL)
	g.recordCacheBytes(cache)
	return successResult(correlationID, data, attempts)
}

// statesList fetches every entity state. The list is not cached: it is large
// and any element may be individually invalidated by a service call.
func (g *Gateway) statesList(ctx context.Context, correlationID string) OperationResult {
	data, attempts, err := g.getJSON(ctx, "/api/states")
	if err != nil {
		return errorResult(correlationID, err)
	}
	return successResult(correlationID, data, attempts)
}

// servicesCall invokes a home-automation service and invalidates any cached
// state the call targets.
func (g *Gateway) servicesCall(ctx context.Context, correlationID string, kwargs map[string]any) OperationResult {
	domain := stringArg(kwargs, "domain")
	service := stringArg(kwargs, "service")
	if domain == "" || service == "" {
		return validationErrorResult(correlationID, "domain and service are required")
	}

	payload, _ := kwargs["data"].(map[string]any)

	client, err := g.httpClient()
	if err != nil {
		return errorResult(correlationID, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return validationErrorResult(correlationID, "data is not serializable: "+err.Error())
	}

	req, err := g.newRequest(ctx, http.MethodPost, "/api/services/"+domain+"/"+service, bytes.NewReader(body))
	if err != nil {
		return errorResult(correlationID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, attempts, err := client.DoWithAttempts(req)
	if err != nil {
		return errorResult(correlationID, err)
	}

	data, err := decodeJSON(resp)
	if err != nil {
		return errorResult(correlationID, err)
	}

	if cache, cerr := g.cache(); cerr == nil {
		for _, id := range targetEntityIDs(payload) {
			cache.Invalidate(stateKeyPrefix + id)
		}
	}

	return successResult(correlationID, data, attempts)
}

func (g *Gateway) cacheGet(correlationID string, kwargs map[string]any) OperationResult {
	key := stringArg(kwargs, "key")
	if key == "" {
		return validationErrorResult(correlationID, "key is required")
	}
	cache, err := g.cache()
	if err != nil {
		return errorResult(correlationID, err)
	}

	v, ok := cache.Get(key)
	if g.metrics != nil {
		if ok {
			g.metrics.RecordCacheHit()
		} else {
			g.metrics.RecordCacheMiss()
		}
	}
	// A miss is a normal negative result, not a failure.
	return successResult(correlationID, map[string]any{"hit": ok, "value": v}, 0)
}

func (g *Gateway) cacheSet(correlationID string, kwargs map[string]any) OperationResult {
	key := stringArg(kwargs, "key")
	if key == "" {
		return validationErrorResult(correlationID, "key is required")
	}
	value, ok := kwargs["value"]
	if !ok {
		return validationErrorResult(correlationID, "value is required")
	}

	cache, err := g.cache()
	if err != nil {
		return errorResult(correlationID, err)
	}

	cache.Set(key, value, secondsArg(kwargs, "ttl_seconds"))
	g.recordCacheBytes(cache)
	return successResult(correlationID, map[string]any{"stored": true}, 0)
}

func (g *Gateway) cacheInvalidate(correlationID string, kwargs map[string]any) OperationResult {
	key := stringArg(kwargs, "key")
	if key == "" {
		return validationErrorResult(correlationID, "key is required")
	}
	cache, err := g.cache()
	if err != nil {
		return errorResult(correlationID, err)
	}
	removed := cache.Invalidate(key)
	return successResult(correlationID, map[string]any{"removed": removed}, 0)
}

func (g *Gateway) cacheClear(correlationID string) OperationResult {
	cache, err := g.cache()
	if err != nil {
		return errorResult(correlationID, err)
	}
	cache.Clear()
	g.recordCacheBytes(cache)
	return successResult(correlationID, map[string]any{"cleared": true}, 0)
}

func (g *Gateway) systemHealth(ctx context.Context, correlationID string) OperationResult {
	data, attempts, err := g.getJSON(ctx, "/api/")
	if err != nil {
		return errorResult(correlationID, err)
	}
	return successResult(correlationID, data, attempts)
}

// systemPing round-trips one message over the persistent connection, proving
// the socket endpoint is reachable end to end.
func (g *Gateway) systemPing(ctx context.Context, correlationID string) OperationResult {
	if g.settings.socketURL == "" {
		return validationErrorResult(correlationID, "socket endpoint is not configured")
	}

	client, err := g.socketClient()
	if err != nil {
		return errorResult(correlationID, err)
	}

	var reply map[string]any
	attempts, err := client.Request(ctx, g.settings.socketURL, map[string]any{"type": "ping"}, &reply)
	if err != nil {
		return errorResult(correlationID, err)
	}
	return successResult(correlationID, reply, attempts)
}

// systemStats reports the live counters of every reliability layer.
func (g *Gateway) systemStats(correlationID string) OperationResult {
	stats := map[string]any{
		"components": g.registry.Names(),
	}

	if client, err := g.httpClient(); err == nil {
		breakers := make(map[string]string)
		for name, state := range client.breakers.states() {
			breakers[name] = state.String()
		}
		stats["breakers"] = breakers
		stats["rate_limiter"] = map[string]any{
			"occupancy": client.rateLimiter.Len(),
			"ceiling":   client.rateLimiter.Ceiling(),
		}
	}

	if cache, err := g.cache(); err == nil {
		if mc, ok := cache.(*MemoryCache); ok {
			stats["cache"] = mc.Stats()
		}
	}

	return successResult(correlationID, stats, 0)
}

// getJSON issues an authorized GET against the home-automation server and
// decodes the JSON reply.
func (g *Gateway) getJSON(ctx context.Context, path string) (any, int, error) {
	client, err := g.httpClient()
	if err != nil {
		return nil, 0, err
	}

	req, err := g.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, 0, err
	}

	resp, attempts, err := client.DoWithAttempts(req)
	if err != nil {
		return nil, attempts, err
	}

	data, err := decodeJSON(resp)
	if err != nil {
		return nil, attempts, err
	}
	return data, attempts, nil
}

func (g *Gateway) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, g.settings.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if g.settings.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.settings.token)
	}
	return req, nil
}

func (g *Gateway) recordCacheBytes(cache Cache) {
	if g.metrics == nil {
		return
	}
	if mc, ok := cache.(*MemoryCache); ok {
		g.metrics.RecordCacheBytes(mc.Stats().Bytes)
	}
}

func decodeJSON(resp *http.Response) (any, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	var data any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, &BridgeError{
			Kind:      KindServer,
			Message:   "malformed response body",
			Cause:     err,
			Timestamp: time.Now(),
		}
	}
	return data, nil
}

func stringArg(kwargs map[string]any, key string) string {
	if kwargs == nil {
		return ""
	}
	s, _ := kwargs[key].(string)
	return s
}

// secondsArg reads a TTL in seconds from kwargs, tolerating JSON numbers.
func secondsArg(kwargs map[string]any, key string) time.Duration {
	if kwargs == nil {
		return 0
	}
	switch v := kwargs[key].(type) {
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	case time.Duration:
		return v
	default:
		return 0
	}
}

// targetEntityIDs extracts the entity IDs a service call touches so their
// cached states can be invalidated.
func targetEntityIDs(payload map[string]any) []string {
	if payload == nil {
		return nil
	}
	switch v := payload["entity_id"].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		ids := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				ids = append(ids, s)
			}
		}
		return ids
	default:
		return nil
	}
}
