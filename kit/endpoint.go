// Package kit provides the transport-agnostic endpoint plumbing shared by
// the domatlas service surfaces (HTTP, MCP). An Endpoint is a typed
// request/response function; Middleware wraps endpoints for cross-cutting
// concerns without tying handlers to a transport.
package kit

import "context"

// Endpoint is a transport-agnostic request handler.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with additional behaviour.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares left-to-right: the first middleware is the
// outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
