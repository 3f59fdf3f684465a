// Package config loads the bsock CLI configuration.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bcoin-org/bsock/socket"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the bsock configuration. Flags override file values.
type Config struct {
	Protocol      string   `yaml:"protocol"`       // "tcp" or "ws"
	Listen        string   `yaml:"listen"`         // serve address
	Path          string   `yaml:"path"`           // WebSocket endpoint
	MetricsListen string   `yaml:"metrics_listen"` // tcp only; ws serves /metrics on Listen
	Service       string   `yaml:"service"`
	Advertise     string   `yaml:"advertise"` // address registered for clients
	Etcd          []string `yaml:"etcd"`
	Balancer      string   `yaml:"balancer"`
	LogLevel      string   `yaml:"log_level"`

	Socket SocketConfig `yaml:"socket"`
	Hooks  HookConfig   `yaml:"hooks"`
}

// SocketConfig tunes session liveness. Zero values keep the defaults.
type SocketConfig struct {
	StallInterval    time.Duration `yaml:"stall_interval"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	JobTimeout       time.Duration `yaml:"job_timeout"`
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	MaxPacketSize    uint32        `yaml:"max_packet_size"`
}

// HookConfig applies to hooks served by `bsock serve`.
type HookConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"` // calls per second per session, 0 disables
	RateBurst int           `yaml:"rate_burst"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Protocol:      "tcp",
		Listen:        "127.0.0.1:8000",
		Path:          "/socket.io/",
		MetricsListen: "127.0.0.1:9100",
		Service:       "bsock",
		Balancer:      "round_robin",
		LogLevel:      "info",
		Hooks: HookConfig{
			Timeout:   10 * time.Second,
			RateBurst: 1,
		},
	}
}

// DefaultPath returns the default config file path: ~/.bsock/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".bsock", "config.yaml")
	}
	return filepath.Join(home, ".bsock", "config.yaml")
}

// Load reads the configuration from the given YAML file path.
// If the file does not exist, it returns Default with no error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrap(err, "read config")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessage(err, path)
	}
	return cfg, nil
}

// Validate checks values that have no usable fallback.
func (c *Config) Validate() error {
	switch c.Protocol {
	case "tcp", "ws":
	default:
		return errors.Errorf("invalid protocol %q, expected tcp or ws", c.Protocol)
	}
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if c.Protocol == "ws" && !strings.HasPrefix(c.Path, "/") {
		return errors.Errorf("invalid path %q", c.Path)
	}
	if c.Hooks.RateLimit < 0 {
		return errors.New("rate_limit must not be negative")
	}
	return nil
}

// Level maps LogLevel onto slog levels. Unknown names mean info.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SocketOptions converts the socket section into session options.
func (c *Config) SocketOptions() []socket.Option {
	s := c.Socket
	opts := []socket.Option{
		socket.WithStallInterval(s.StallInterval),
		socket.WithHandshakeTimeout(s.HandshakeTimeout),
		socket.WithJobTimeout(s.JobTimeout),
		socket.WithPingTimeout(s.PingTimeout),
		socket.WithPingInterval(s.PingInterval),
	}
	if s.MaxPacketSize > 0 {
		opts = append(opts, socket.WithMaxPacketSize(s.MaxPacketSize))
	}
	return opts
}
