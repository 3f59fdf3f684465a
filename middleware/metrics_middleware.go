package middleware

import (
	"context"
	"time"

	"github.com/bcoin-org/bsock/metrics"
)

// Metrics records hook duration and failures in m.
func Metrics[P any](m *metrics.Metrics) Middleware[P] {
	return func(next HandlerFunc[P]) HandlerFunc[P] {
		return func(ctx context.Context, req *Request[P]) (P, error) {
			start := time.Now()
			result, err := next(ctx, req)
			m.ObserveHook(req.Name, time.Since(start), err)
			return result, err
		}
	}
}
