package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logger is the subset of *slog.Logger used by Logging.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Logging logs the name, duration and error of every hook call.
// A nil logger selects slog.Default().
func Logging[P any](logger Logger) Middleware[P] {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next HandlerFunc[P]) HandlerFunc[P] {
		return func(ctx context.Context, req *Request[P]) (P, error) {
			start := time.Now()
			result, err := next(ctx, req)
			duration := time.Since(start)
			if err != nil {
				logger.Warn("hook failed", "name", req.Name, "id", req.ID,
					"remote", req.Remote, "duration", duration, "error", err.Error())
			} else {
				logger.Info("hook done", "name", req.Name, "id", req.ID,
					"remote", req.Remote, "duration", duration)
			}
			return result, err
		}
	}
}
