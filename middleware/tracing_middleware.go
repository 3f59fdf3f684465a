package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultTracerName = "bsock"

// Tracing starts a server span around every hook call using the global
// OpenTelemetry tracer provider. The span context is passed to the hook.
func Tracing[P any](tracerName string) Middleware[P] {
	if tracerName == "" {
		tracerName = defaultTracerName
	}
	tracer := otel.Tracer(tracerName)

	return func(next HandlerFunc[P]) HandlerFunc[P] {
		return func(ctx context.Context, req *Request[P]) (P, error) {
			ctx, span := tracer.Start(ctx, "bsock.call "+req.Name,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("bsock.call.name", req.Name),
					attribute.Int64("bsock.call.id", int64(req.ID)),
					attribute.String("bsock.remote", req.Remote),
				),
			)
			defer span.End()

			result, err := next(ctx, req)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return result, err
		}
	}
}
