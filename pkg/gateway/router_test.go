package gateway

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(_ context.Context, params map[string]any) (any, error) {
	return map[string]any{"echo": params["input"]}, nil
}

func TestRPCRouter_RegisterMethod(t *testing.T) {
	router := NewRPCRouter()

	require.NoError(t, router.RegisterMethod("tools.echo", echoHandler))
	assert.True(t, router.HasMethod("tools.echo"))

	err := router.RegisterMethod("tools.nil", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler cannot be nil")
	assert.False(t, router.HasMethod("tools.nil"))

	err = router.RegisterMethod("tools.echo", echoHandler)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	assert.Error(t, router.RegisterMethod("", echoHandler))
}

func TestRPCRouter_ParseRequest(t *testing.T) {
	router := NewRPCRouter()

	tests := []struct {
		name    string
		data    string
		code    int
		message string
	}{
		{name: "malformed", data: `{invalid json}`, code: ParseError},
		{name: "missing id", data: `{"method":"tools.list"}`, code: InvalidRequest, message: "missing id"},
		{name: "missing method", data: `{"id":"1"}`, code: InvalidRequest, message: "missing method"},
		{name: "wrong version", data: `{"jsonrpc":"1.0","id":"1","method":"tools.list"}`, code: InvalidRequest, message: "jsonrpc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := router.ParseRequest([]byte(tt.data))
			require.Error(t, err)
			rpcErr, ok := err.(*RPCError)
			require.True(t, ok)
			assert.Equal(t, tt.code, rpcErr.Code)
			assert.Contains(t, rpcErr.Message, tt.message)
		})
	}

	t.Run("valid", func(t *testing.T) {
		req, err := router.ParseRequest([]byte(`{"id":"1","method":"tools.get","params":{"id":"tool_x"}}`))
		require.NoError(t, err)
		assert.Equal(t, "1", req.ID)
		assert.Equal(t, "tools.get", req.Method)
		assert.Equal(t, "tool_x", req.Params["id"])
		assert.Equal(t, "2.0", req.JSONRPC)
	})
}

func TestRPCRouter_RouteRequest(t *testing.T) {
	router := NewRPCRouter()
	require.NoError(t, router.RegisterMethod("tools.echo", echoHandler))
	require.NoError(t, router.RegisterMethod("tools.fail", func(context.Context, map[string]any) (any, error) {
		return nil, fmt.Errorf("handler error")
	}))
	require.NoError(t, router.RegisterMethod("tools.missing", func(context.Context, map[string]any) (any, error) {
		return nil, &RPCError{Code: ToolNotFound, Message: "tool not found: x"}
	}))

	t.Run("routes to handler", func(t *testing.T) {
		resp := router.RouteRequest(context.Background(), &RPCRequest{
			ID:     "unique-id-123",
			Method: "tools.echo",
			Params: map[string]any{"input": "hello"},
		})
		assert.Equal(t, "unique-id-123", resp.ID)
		require.Nil(t, resp.Error)
		assert.Equal(t, "hello", resp.Result.(map[string]any)["echo"])
	})

	t.Run("nil params reach handler as empty map", func(t *testing.T) {
		resp := router.RouteRequest(context.Background(), &RPCRequest{ID: "1", Method: "tools.echo"})
		require.Nil(t, resp.Error)
		assert.Nil(t, resp.Result.(map[string]any)["echo"])
	})

	t.Run("unknown method", func(t *testing.T) {
		resp := router.RouteRequest(context.Background(), &RPCRequest{ID: "1", Method: "unknown.method"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, MethodNotFound, resp.Error.Code)
	})

	t.Run("plain error becomes internal error", func(t *testing.T) {
		resp := router.RouteRequest(context.Background(), &RPCRequest{ID: "1", Method: "tools.fail"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, InternalError, resp.Error.Code)
		assert.Contains(t, resp.Error.Message, "handler error")
	})

	t.Run("rpc error keeps its code", func(t *testing.T) {
		resp := router.RouteRequest(context.Background(), &RPCRequest{ID: "1", Method: "tools.missing"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, ToolNotFound, resp.Error.Code)
	})

	t.Run("nil request", func(t *testing.T) {
		resp := router.RouteRequest(context.Background(), nil)
		require.NotNil(t, resp.Error)
		assert.Equal(t, InvalidRequest, resp.Error.Code)
	})
}

func TestRPCRouter_IdempotencyKeyReplaysResponse(t *testing.T) {
	router := NewRPCRouter()
	calls := 0
	require.NoError(t, router.RegisterMethod("tools.invoke", func(context.Context, map[string]any) (any, error) {
		calls++
		return calls, nil
	}, Mutating()))

	first := router.RouteRequest(context.Background(), &RPCRequest{ID: "a", Method: "tools.invoke", IdempotencyKey: "k1"})
	second := router.RouteRequest(context.Background(), &RPCRequest{ID: "b", Method: "tools.invoke", IdempotencyKey: "k1"})
	third := router.RouteRequest(context.Background(), &RPCRequest{ID: "c", Method: "tools.invoke"})

	assert.Equal(t, 1, first.Result)
	assert.Equal(t, 1, second.Result)
	assert.Equal(t, "b", second.ID)
	assert.Equal(t, 2, third.Result)
	assert.Equal(t, 2, calls)
}

func TestRPCRouter_ReadOnlyMethodIgnoresIdempotencyKey(t *testing.T) {
	router := NewRPCRouter()
	calls := 0
	require.NoError(t, router.RegisterMethod("tools.list", func(context.Context, map[string]any) (any, error) {
		calls++
		return calls, nil
	}))

	first := router.RouteRequest(context.Background(), &RPCRequest{ID: "a", Method: "tools.list", IdempotencyKey: "k1"})
	second := router.RouteRequest(context.Background(), &RPCRequest{ID: "b", Method: "tools.list", IdempotencyKey: "k1"})

	assert.Equal(t, 1, first.Result)
	assert.Equal(t, 2, second.Result)
	assert.Zero(t, router.replay.len())
}

func TestReplayCache_ExpiryAndBound(t *testing.T) {
	now := time.Now()
	cache := newReplayCache(time.Minute, 2)
	cache.now = func() time.Time { return now }

	cache.put("a", RPCResponse{ID: "1", Result: "a"})
	now = now.Add(10 * time.Second)
	cache.put("b", RPCResponse{ID: "2", Result: "b"})
	now = now.Add(10 * time.Second)
	cache.put("c", RPCResponse{ID: "3", Result: "c"})

	assert.Equal(t, 2, cache.len())
	_, ok := cache.get("a")
	assert.False(t, ok, "oldest entry is evicted when full")

	resp, ok := cache.get("c")
	require.True(t, ok)
	assert.Equal(t, "c", resp.Result)

	now = now.Add(2 * time.Minute)
	_, ok = cache.get("c")
	assert.False(t, ok, "expired entries are not replayed")
}

func TestReplayCache_ErrorIsCopied(t *testing.T) {
	cache := newReplayCache(time.Minute, 4)
	cache.put("k", RPCResponse{ID: "1", Error: &RPCError{Code: InternalError, Message: "boom"}})

	first, ok := cache.get("k")
	require.True(t, ok)
	first.Error.Message = "changed"

	second, ok := cache.get("k")
	require.True(t, ok)
	assert.Equal(t, "boom", second.Error.Message)
}

func TestRPCRouter_GetMethodsSorted(t *testing.T) {
	router := NewRPCRouter()
	for _, name := range []string{"tools.list", "tools.get", "clients.list"} {
		require.NoError(t, router.RegisterMethod(name, echoHandler))
	}
	assert.Equal(t, []string{"clients.list", "tools.get", "tools.list"}, router.GetMethods())
}
