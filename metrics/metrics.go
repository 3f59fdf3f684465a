// Package metrics exposes Prometheus collectors for bsock sessions and servers.
//
// A nil *Metrics is valid and records nothing, so sessions can be built
// without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call outcomes recorded by CallDone.
const (
	OutcomeOK          = "ok"
	OutcomeRemoteError = "remote_error"
	OutcomeTimeout     = "timeout"
	OutcomeDestroyed   = "destroyed"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "bsock").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for hook duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "bsock",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the collectors.
type Metrics struct {
	activeSessions  *prometheus.GaugeVec
	sessionFailures *prometheus.CounterVec
	packetsIn       *prometheus.CounterVec
	packetsOut      *prometheus.CounterVec
	calls           *prometheus.CounterVec
	hookDuration    *prometheus.HistogramVec
	hookErrors      *prometheus.CounterVec
}

// New registers the collectors. Registering twice against the same registry panics.
func New(opts ...Option) *Metrics {
	config := defaultConfig()
	for _, o := range opts {
		o(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		activeSessions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_sessions",
			Help:        "Number of sessions not yet destroyed",
			ConstLabels: config.ConstLabels,
		}, []string{"protocol"}),

		sessionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "session_failures_total",
			Help:        "Sessions destroyed by a fatal error, by reason",
			ConstLabels: config.ConstLabels,
		}, []string{"protocol", "reason"}),

		packetsIn: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "packets_received_total",
			Help:        "Packets received by kind",
			ConstLabels: config.ConstLabels,
		}, []string{"protocol", "type"}),

		packetsOut: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "packets_sent_total",
			Help:        "Packets sent by kind",
			ConstLabels: config.ConstLabels,
		}, []string{"protocol", "type"}),

		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "calls_total",
			Help:        "Outgoing calls by outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"outcome"}),

		hookDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "hook_duration_seconds",
			Help:        "Hook execution duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"name"}),

		hookErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "hook_errors_total",
			Help:        "Hook invocations that returned an error",
			ConstLabels: config.ConstLabels,
		}, []string{"name"}),
	}
}

// SessionOpened counts a new session.
func (m *Metrics) SessionOpened(protocol string) {
	if m == nil {
		return
	}
	m.activeSessions.WithLabelValues(protocol).Inc()
}

// SessionClosed uncounts a session. An empty reason is a clean close.
func (m *Metrics) SessionClosed(protocol, reason string) {
	if m == nil {
		return
	}
	m.activeSessions.WithLabelValues(protocol).Dec()
	if reason != "" {
		m.sessionFailures.WithLabelValues(protocol, reason).Inc()
	}
}

// PacketIn counts a received packet.
func (m *Metrics) PacketIn(protocol, typ string) {
	if m == nil {
		return
	}
	m.packetsIn.WithLabelValues(protocol, typ).Inc()
}

// PacketOut counts a sent packet.
func (m *Metrics) PacketOut(protocol, typ string) {
	if m == nil {
		return
	}
	m.packetsOut.WithLabelValues(protocol, typ).Inc()
}

// CallDone records how an outgoing call ended.
func (m *Metrics) CallDone(outcome string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(outcome).Inc()
}

// ObserveHook records one hook invocation.
func (m *Metrics) ObserveHook(name string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.hookDuration.WithLabelValues(name).Observe(d.Seconds())
	if err != nil {
		m.hookErrors.WithLabelValues(name).Inc()
	}
}
