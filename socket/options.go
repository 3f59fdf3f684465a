package socket

import (
	"time"

	"github.com/bcoin-org/bsock/metrics"
)

// Default liveness settings.
const (
	DefaultStallInterval    = 5 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultJobTimeout       = 10 * time.Second

	// DefaultStreamPingTimeout applies to the binary protocol.
	DefaultStreamPingTimeout = 30 * time.Second
	// DefaultMessagePingTimeout and DefaultPingInterval are advertised in the
	// text protocol handshake.
	DefaultMessagePingTimeout = 60 * time.Second
	DefaultPingInterval       = 25 * time.Second

	defaultReadBufferSize = 64 * 1024
	defaultWriteTimeout   = 30 * time.Second
)

// options holds the configuration for a session.
type options struct {
	logger  Logger
	metrics *metrics.Metrics

	stallInterval    time.Duration // period of the liveness check
	handshakeTimeout time.Duration // max time in CONNECTING
	jobTimeout       time.Duration // max age of an outstanding call
	pingTimeout      time.Duration // max wait for a pong, 0 selects the protocol default
	pingInterval     time.Duration // advertised in the text handshake

	maxPacketSize  uint32 // binary protocol body limit
	readBufferSize int    // chunk size for stream reads
	writeTimeout   time.Duration

	onOpen  func()
	onClose func(error)
	onError func(error)
}

// Option is a function that configures a session.
type Option func(*options)

func checkOptions(opts *options) {
	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
	if opts.stallInterval <= 0 {
		opts.stallInterval = DefaultStallInterval
	}
	if opts.handshakeTimeout <= 0 {
		opts.handshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.jobTimeout <= 0 {
		opts.jobTimeout = DefaultJobTimeout
	}
	if opts.pingInterval <= 0 {
		opts.pingInterval = DefaultPingInterval
	}
	if opts.readBufferSize <= 0 {
		opts.readBufferSize = defaultReadBufferSize
	}
	if opts.writeTimeout <= 0 {
		opts.writeTimeout = defaultWriteTimeout
	}
	if opts.onOpen == nil {
		opts.onOpen = func() {}
	}
	if opts.onClose == nil {
		opts.onClose = func(error) {}
	}
	if opts.onError == nil {
		opts.onError = func(error) {}
	}
}

func buildOptions(opt []Option) options {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)
	return opts
}

// WithLogger sets the logger. If not set, the default slog logger is used.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records session activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithStallInterval sets the period of the liveness check.
func WithStallInterval(d time.Duration) Option {
	return func(o *options) {
		o.stallInterval = d
	}
}

// WithHandshakeTimeout sets how long a session may stay in CONNECTING.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		o.handshakeTimeout = d
	}
}

// WithJobTimeout sets the age after which an unanswered call fails with ErrJobTimeout.
// Jobs are swept by the liveness check, so a call may wait up to one stall
// interval longer.
func WithJobTimeout(d time.Duration) Option {
	return func(o *options) {
		o.jobTimeout = d
	}
}

// WithPingTimeout sets how long to wait for a pong before failing with ErrStallTimeout.
// In the text protocol a peer's handshake overrides it.
func WithPingTimeout(d time.Duration) Option {
	return func(o *options) {
		o.pingTimeout = d
	}
}

// WithPingInterval sets the ping interval advertised in the text handshake.
func WithPingInterval(d time.Duration) Option {
	return func(o *options) {
		o.pingInterval = d
	}
}

// WithMaxPacketSize bounds binary packet bodies. The default is protocol.MaxPacketSize.
func WithMaxPacketSize(n uint32) Option {
	return func(o *options) {
		o.maxPacketSize = n
	}
}

// WithReadBufferSize sets the chunk size of stream reads.
func WithReadBufferSize(n int) Option {
	return func(o *options) {
		o.readBufferSize = n
	}
}

// WithWriteTimeout bounds a single transport write when the transport supports deadlines.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = d
	}
}

// OnOpen registers a callback invoked once the session reaches OPEN.
func OnOpen(cb func()) Option {
	return func(o *options) {
		o.onOpen = cb
	}
}

// OnClose registers a callback invoked once after destruction with the cause,
// nil for a clean close.
func OnClose(cb func(error)) Option {
	return func(o *options) {
		o.onClose = cb
	}
}

// OnError registers a callback for errors: fatal ones right before destruction,
// and non-fatal ones such as id-less errors reported by the peer.
func OnError(cb func(error)) Option {
	return func(o *options) {
		o.onError = cb
	}
}
