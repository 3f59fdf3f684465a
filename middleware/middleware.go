// Package middleware wraps hook handlers in an onion of cross-cutting concerns.
//
// Middleware only applies to Calls answered by a hook. Events delivered to
// listeners bypass it.
package middleware

import "context"

// Request describes one incoming call as seen by a hook.
type Request[P any] struct {
	Name    string // hook name
	ID      uint32 // call id assigned by the caller
	Payload P
	Remote  string // peer address, may be empty
}

// HandlerFunc answers a call with a result or an error.
type HandlerFunc[P any] func(ctx context.Context, req *Request[P]) (P, error)

// Middleware wraps a handler.
type Middleware[P any] func(next HandlerFunc[P]) HandlerFunc[P]

// Chain composes middlewares into one. The first middleware is the outermost.
func Chain[P any](middlewares ...Middleware[P]) Middleware[P] {
	return func(next HandlerFunc[P]) HandlerFunc[P] {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
