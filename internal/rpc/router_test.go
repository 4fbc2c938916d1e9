package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peppy/osu-server-spectator/internal/models"
	"github.com/peppy/osu-server-spectator/internal/utils"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	return NewRouter(utils.NewNopLogger())
}

func request(method string, params any) *Request {
	raw, _ := json.Marshal(params)
	return &Request{JSONRPC: "2.0", Method: method, Params: raw, ID: 1}
}

func TestRouteUnknownMethod(t *testing.T) {
	router := newTestRouter(t)

	resp := router.Route(&Client{UserID: 100}, request("no.such.method", nil))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrMethodNotFound, resp.Error.Code)
}

func TestRouteTypedParams(t *testing.T) {
	router := newTestRouter(t)

	type echoParams struct {
		Value string `json:"value"`
	}
	Register(router, "test.echo", func(ctx context.Context, client *Client, params *echoParams) (any, error) {
		return params.Value, nil
	})

	resp := router.Route(&Client{UserID: 100}, request("test.echo", echoParams{Value: "hello"}))
	require.NotNil(t, resp)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "hello", resp.Result)

	// Malformed parameters surface as an invalid-params error.
	resp = router.Route(&Client{UserID: 100}, &Request{
		JSONRPC: "2.0",
		Method:  "test.echo",
		Params:  json.RawMessage(`"not an object"`),
		ID:      2,
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrInvalidParams, resp.Error.Code)
}

func TestRouteDomainErrorMapping(t *testing.T) {
	router := newTestRouter(t)

	RegisterNoParams(router, "test.notfound", func(ctx context.Context, client *Client) (any, error) {
		return nil, models.ErrRoomNotFound
	})
	RegisterNoParams(router, "test.dbdown", func(ctx context.Context, client *Client) (any, error) {
		return nil, fmt.Errorf("%w: %s", models.ErrDatabaseUnavailable, "connection reset")
	})
	RegisterNoParams(router, "test.internal", func(ctx context.Context, client *Client) (any, error) {
		return nil, errors.New("boom")
	})

	resp := router.Route(&Client{UserID: 100}, request("test.notfound", nil))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrRoomNotFound, resp.Error.Code)

	resp = router.Route(&Client{UserID: 100}, request("test.dbdown", nil))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrDatabaseUnavailable, resp.Error.Code)

	resp = router.Route(&Client{UserID: 100}, request("test.internal", nil))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrInternalError, resp.Error.Code)
}

func TestNotificationsGetNoResponse(t *testing.T) {
	router := newTestRouter(t)

	called := false
	RegisterNoParams(router, "test.notify", func(ctx context.Context, client *Client) (any, error) {
		called = true
		return nil, nil
	})

	resp := router.Route(&Client{UserID: 100}, &Request{JSONRPC: "2.0", Method: "test.notify"})
	assert.Nil(t, resp)
	assert.True(t, called)
}

func TestAuthMiddlewareBlocksAnonymousClients(t *testing.T) {
	router := newTestRouter(t)

	authed := router.Wrap(AuthMiddleware)
	RegisterNoParams(authed, "test.secure", func(ctx context.Context, client *Client) (any, error) {
		return "ok", nil
	})

	resp := router.Route(&Client{}, request("test.secure", nil))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrAuthenticationRequired, resp.Error.Code)

	resp = router.Route(&Client{UserID: 100}, request("test.secure", nil))
	assert.Nil(t, resp.Error)
	assert.Equal(t, "ok", resp.Result)
}

func TestRecoveryMiddlewareConvertsPanics(t *testing.T) {
	router := newTestRouter(t)

	wrapped := router.Wrap(RecoveryMiddleware(utils.NewNopLogger()))
	RegisterNoParams(wrapped, "test.panic", func(ctx context.Context, client *Client) (any, error) {
		panic("unexpected")
	})

	resp := router.Route(&Client{UserID: 100}, request("test.panic", nil))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrInternalError, resp.Error.Code)
}

func TestMiddlewareAppliesInWrapOrder(t *testing.T) {
	router := newTestRouter(t)

	var order []string
	tag := func(name string) MiddlewareFunc {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, client *Client, params json.RawMessage) (any, error) {
				order = append(order, name)
				return next(ctx, client, params)
			}
		}
	}

	reg := router.Wrap(tag("outer")).Wrap(tag("inner"))
	RegisterNoParams(reg, "test.order", func(ctx context.Context, client *Client) (any, error) {
		order = append(order, "handler")
		return nil, nil
	})

	router.Route(&Client{UserID: 100}, request("test.order", nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}
