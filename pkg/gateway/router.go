package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	defaultReplayTTL = 5 * time.Minute
	maxReplayEntries = 1024
	jsonRPCVersion   = "2.0"
)

// MethodOption adjusts how a registered method is routed.
type MethodOption func(*method)

// Mutating marks a method that changes the registry or runs a tool. Only
// mutating methods honour idempotency keys; read-only methods run every time.
func Mutating() MethodOption {
	return func(m *method) { m.mutating = true }
}

type method struct {
	handler  RequestHandler
	mutating bool
}

// RPCRouter maps JSON-RPC method names to handlers.
type RPCRouter struct {
	mu      sync.RWMutex
	methods map[string]method
	replay  *replayCache
}

// NewRPCRouter creates a router with an empty method table.
func NewRPCRouter() *RPCRouter {
	return &RPCRouter{
		methods: make(map[string]method),
		replay:  newReplayCache(defaultReplayTTL, maxReplayEntries),
	}
}

// RegisterMethod adds a handler. Names are unique.
func (r *RPCRouter) RegisterMethod(name string, handler RequestHandler, opts ...MethodOption) error {
	if name == "" {
		return fmt.Errorf("method name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	m := method{handler: handler}
	for _, opt := range opts {
		opt(&m)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.methods[name]; exists {
		return fmt.Errorf("method %q already registered", name)
	}
	r.methods[name] = m
	return nil
}

// ParseRequest decodes one JSON-RPC request frame.
func (r *RPCRouter) ParseRequest(data []byte) (*RPCRequest, error) {
	var req RPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &RPCError{Code: ParseError, Message: "Parse error", Data: err.Error()}
	}

	switch {
	case req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion:
		return nil, &RPCError{Code: InvalidRequest, Message: `Invalid request: jsonrpc must be "2.0"`}
	case req.ID == "":
		return nil, &RPCError{Code: InvalidRequest, Message: "Invalid request: missing id field"}
	case req.Method == "":
		return nil, &RPCError{Code: InvalidRequest, Message: "Invalid request: missing method field"}
	}
	req.JSONRPC = jsonRPCVersion
	return &req, nil
}

// RouteRequest runs the handler for req and shapes its response. A repeated
// idempotency key on a mutating method replays the first response.
func (r *RPCRouter) RouteRequest(ctx context.Context, req *RPCRequest) *RPCResponse {
	if req == nil {
		return errorResponse("", &RPCError{Code: InvalidRequest, Message: "invalid request"})
	}

	r.mu.RLock()
	m, exists := r.methods[req.Method]
	r.mu.RUnlock()
	if !exists {
		return errorResponse(req.ID, &RPCError{
			Code:    MethodNotFound,
			Message: fmt.Sprintf("Method not found: %s", req.Method),
		})
	}

	key := ""
	if m.mutating && req.IdempotencyKey != "" {
		key = req.Method + ":" + req.IdempotencyKey
		if resp, ok := r.replay.get(key); ok {
			resp.ID = req.ID
			return &resp
		}
	}

	params := req.Params
	if params == nil {
		params = map[string]any{}
	}

	var resp *RPCResponse
	result, err := m.handler(ctx, params)
	if err != nil {
		var rpcErr *RPCError
		if !errors.As(err, &rpcErr) {
			rpcErr = &RPCError{Code: InternalError, Message: err.Error()}
		}
		resp = errorResponse(req.ID, rpcErr)
	} else {
		resp = &RPCResponse{ID: req.ID, JSONRPC: jsonRPCVersion, Result: result}
	}

	if key != "" {
		r.replay.put(key, *resp)
	}
	return resp
}

// HasMethod reports whether name is registered.
func (r *RPCRouter) HasMethod(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.methods[name]
	return exists
}

// GetMethods returns the registered method names, sorted.
func (r *RPCRouter) GetMethods() []string {
	r.mu.RLock()
	methods := make([]string, 0, len(r.methods))
	for name := range r.methods {
		methods = append(methods, name)
	}
	r.mu.RUnlock()

	sort.Strings(methods)
	return methods
}

func errorResponse(id string, err *RPCError) *RPCResponse {
	return &RPCResponse{ID: id, JSONRPC: jsonRPCVersion, Error: err}
}

// replayCache holds responses of mutating calls by idempotency key.
type replayCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]replayEntry
	now     func() time.Time
}

type replayEntry struct {
	resp      RPCResponse
	expiresAt time.Time
}

func newReplayCache(ttl time.Duration, max int) *replayCache {
	return &replayCache{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]replayEntry),
		now:     time.Now,
	}
}

func (c *replayCache) get(key string) (RPCResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return RPCResponse{}, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return RPCResponse{}, false
	}
	return entry.resp.clone(), true
}

func (c *replayCache) put(key string, resp RPCResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, k)
		}
	}
	// Still full after the sweep: evict the entry closest to expiry.
	if len(c.entries) >= c.max {
		oldest := ""
		for k, entry := range c.entries {
			if oldest == "" || entry.expiresAt.Before(c.entries[oldest].expiresAt) {
				oldest = k
			}
		}
		delete(c.entries, oldest)
	}
	c.entries[key] = replayEntry{resp: resp.clone(), expiresAt: now.Add(c.ttl)}
}

func (c *replayCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (r RPCResponse) clone() RPCResponse {
	if r.Error != nil {
		errCopy := *r.Error
		r.Error = &errCopy
	}
	return r
}
