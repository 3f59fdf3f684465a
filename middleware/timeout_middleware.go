package middleware

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrHookTimeout is returned to the caller when a hook outlives Timeout.
var ErrHookTimeout = errors.New("request timed out")

type result[P any] struct {
	value P
	err   error
}

// Timeout fails calls whose hook does not return within timeout. The hook's
// context is cancelled, but the hook goroutine is not waited for. A panic in
// the hook fails the call.
func Timeout[P any](timeout time.Duration) Middleware[P] {
	return func(next HandlerFunc[P]) HandlerFunc[P] {
		return func(ctx context.Context, req *Request[P]) (P, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan result[P], 1)
			go func() {
				// The caller's recover cannot see this goroutine.
				defer func() {
					if r := recover(); r != nil {
						done <- result[P]{err: errors.Errorf("hook %s panicked: %v", req.Name, r)}
					}
				}()
				v, err := next(ctx, req)
				done <- result[P]{value: v, err: err}
			}()

			select {
			case r := <-done:
				return r.value, r.err
			case <-ctx.Done():
				var zero P
				return zero, errors.Wrapf(ErrHookTimeout, "call %s after %s", req.Name, timeout)
			}
		}
	}
}
