package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRPCRouterParseRequest(t *testing.T) {
	router := NewRPCRouter()

	t.Run("should parse a valid request", func(t *testing.T) {
		req, err := router.ParseRequest([]byte(`{"id":"1","method":"runtime.status","jsonrpc":"2.0"}`))
		require.NoError(t, err)
		assert.Equal(t, "1", req.ID)
		assert.Equal(t, "runtime.status", req.Method)
	})

	t.Run("should default the jsonrpc version", func(t *testing.T) {
		req, err := router.ParseRequest([]byte(`{"id":"1","method":"m"}`))
		require.NoError(t, err)
		assert.Equal(t, "2.0", req.JSONRPC)
	})

	t.Run("should reject malformed json", func(t *testing.T) {
		_, err := router.ParseRequest([]byte(`{nope`))
		require.Error(t, err)

		var rpcErr *RPCError
		require.ErrorAs(t, err, &rpcErr)
		assert.Equal(t, ParseError, rpcErr.Code)
	})

	t.Run("should require id and method", func(t *testing.T) {
		_, err := router.ParseRequest([]byte(`{"method":"m"}`))
		require.Error(t, err)

		_, err = router.ParseRequest([]byte(`{"id":"1"}`))
		require.Error(t, err)
	})
}

func TestRPCRouterRouteRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("should route to a registered handler", func(t *testing.T) {
		router := NewRPCRouter()
		require.NoError(t, router.RegisterMethod("echo", func(_ context.Context, params map[string]interface{}) (interface{}, error) {
			return params["msg"], nil
		}))

		resp := router.RouteRequest(ctx, &RPCRequest{
			ID:     "1",
			Method: "echo",
			Params: map[string]interface{}{"msg": "hello"},
		})

		require.Nil(t, resp.Error)
		assert.Equal(t, "hello", resp.Result)
		assert.Equal(t, "1", resp.ID)
	})

	t.Run("should return method not found for unknown methods", func(t *testing.T) {
		router := NewRPCRouter()

		resp := router.RouteRequest(ctx, &RPCRequest{ID: "1", Method: "missing"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, MethodNotFound, resp.Error.Code)
	})

	t.Run("should preserve RPCError codes from handlers", func(t *testing.T) {
		router := NewRPCRouter()
		require.NoError(t, router.RegisterMethod("strict", func(context.Context, map[string]interface{}) (interface{}, error) {
			return nil, &RPCError{Code: InvalidParams, Message: "session_key is required"}
		}))

		resp := router.RouteRequest(ctx, &RPCRequest{ID: "1", Method: "strict"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, InvalidParams, resp.Error.Code)
	})

	t.Run("should wrap plain errors as internal errors", func(t *testing.T) {
		router := NewRPCRouter()
		require.NoError(t, router.RegisterMethod("broken", func(context.Context, map[string]interface{}) (interface{}, error) {
			return nil, errors.New("boom")
		}))

		resp := router.RouteRequest(ctx, &RPCRequest{ID: "1", Method: "broken"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, InternalError, resp.Error.Code)
		assert.Equal(t, "boom", resp.Error.Message)
	})

	t.Run("should reject a nil request and nil handler", func(t *testing.T) {
		router := NewRPCRouter()

		resp := router.RouteRequest(ctx, nil)
		require.NotNil(t, resp.Error)
		assert.Equal(t, InvalidRequest, resp.Error.Code)

		assert.Error(t, router.RegisterMethod("x", nil))
	})
}
