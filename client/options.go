package client

import (
	"time"

	"github.com/bcoin-org/bsock/loadbalance"
	"github.com/bcoin-org/bsock/socket"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 100 * time.Millisecond
)

type options struct {
	logger     socket.Logger
	balancer   loadbalance.Balancer
	socketOpts []socket.Option
	maxRetries int
	baseDelay  time.Duration
	onSocket   []func(addr string, sock *socket.StreamSocket)
}

// Option configures a Client.
type Option func(*options)

func buildOptions(opt []Option) options {
	opts := options{
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
	}
	for _, o := range opt {
		o(&opts)
	}
	if opts.logger == nil {
		opts.logger = socket.DefaultLogger()
	}
	if opts.balancer == nil {
		opts.balancer = &loadbalance.RoundRobinBalancer{}
	}
	return opts
}

// WithLogger sets the logger of the client and its sessions.
func WithLogger(logger socket.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithBalancer selects how instances are picked. Round robin by default.
func WithBalancer(b loadbalance.Balancer) Option {
	return func(o *options) {
		o.balancer = b
	}
}

// WithSocketOptions applies opts to every dialed session.
func WithSocketOptions(opts ...socket.Option) Option {
	return func(o *options) {
		o.socketOpts = append(o.socketOpts, opts...)
	}
}

// WithRetry retries failed calls up to maxRetries times, doubling the delay
// from baseDelay. Zero disables retries.
func WithRetry(maxRetries int, baseDelay time.Duration) Option {
	return func(o *options) {
		if maxRetries >= 0 {
			o.maxRetries = maxRetries
		}
		if baseDelay > 0 {
			o.baseDelay = baseDelay
		}
	}
}

// OnSocket registers fn to run for every new session, right after its dial
// starts. Use it to bind hooks the server may call.
func OnSocket(fn func(addr string, sock *socket.StreamSocket)) Option {
	return func(o *options) {
		o.onSocket = append(o.onSocket, fn)
	}
}
