package server

import (
	"net/http"
	"time"

	"github.com/bcoin-org/bsock/metrics"
	"github.com/bcoin-org/bsock/registry"
	"github.com/bcoin-org/bsock/socket"
)

const (
	defaultRegisterTTL     = 10 // seconds, renewed by the registry
	defaultShutdownTimeout = 5 * time.Second
)

type options struct {
	logger      socket.Logger
	metrics     *metrics.Metrics
	socketOpts  []socket.Option
	checkOrigin func(r *http.Request) bool
	handler     http.Handler // served by Serve instead of the server itself

	registry  registry.Registry
	service   string
	advertise registry.ServiceInstance
	ttl       int64

	shutdownTimeout time.Duration
}

// Option configures a Server.
type Option func(*options)

func buildOptions(opt []Option) options {
	opts := options{
		ttl:             defaultRegisterTTL,
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, o := range opt {
		o(&opts)
	}
	if opts.logger == nil {
		opts.logger = socket.DefaultLogger()
	}
	if opts.checkOrigin == nil {
		opts.checkOrigin = func(*http.Request) bool { return true }
	}
	return opts
}

// WithLogger sets the logger of the server and of its sessions.
func WithLogger(logger socket.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records server and session metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithSocketOptions applies opts to every accepted session.
func WithSocketOptions(opts ...socket.Option) Option {
	return func(o *options) {
		o.socketOpts = append(o.socketOpts, opts...)
	}
}

// WithRegistry announces the server under service while it serves. The
// instance address is the one clients should dial.
func WithRegistry(reg registry.Registry, service string, instance registry.ServiceInstance) Option {
	return func(o *options) {
		o.registry = reg
		o.service = service
		o.advertise = instance
	}
}

// WithRegisterTTL sets the registration lease in seconds.
func WithRegisterTTL(ttl int64) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithCheckOrigin sets the WebSocket origin check. All origins are accepted
// by default.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(o *options) {
		o.checkOrigin = fn
	}
}

// WithShutdownTimeout bounds how long Close waits for sessions to finish.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

// WithHTTPHandler makes Serve on a WebSocket server answer with h, typically
// a router that mounts the server next to other endpoints.
func WithHTTPHandler(h http.Handler) Option {
	return func(o *options) {
		o.handler = h
	}
}
