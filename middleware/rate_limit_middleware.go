package middleware

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned to the caller when a call is rejected by RateLimit.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimit rejects calls beyond r per second with bursts of burst, using a token bucket.
// The limiter is shared by every handler the middleware wraps.
func RateLimit[P any](r float64, burst int) Middleware[P] {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc[P]) HandlerFunc[P] {
		return func(ctx context.Context, req *Request[P]) (P, error) {
			if !limiter.Allow() {
				var zero P
				return zero, errors.Wrapf(ErrRateLimited, "call %s", req.Name)
			}
			return next(ctx, req)
		}
	}
}
