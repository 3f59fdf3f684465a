// Package client calls bsock servers found through a registry.
//
// Each call picks an instance with the configured balancer and runs over one
// shared binary session per address. Destroyed sessions are redialed on the
// next call.
package client

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/bcoin-org/bsock/registry"
	"github.com/bcoin-org/bsock/socket"
	"github.com/pkg/errors"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("client closed")

// Client is safe for concurrent use.
type Client struct {
	registry registry.Registry
	service  string
	opts     options

	mu        sync.Mutex
	sockets   map[string]*socket.StreamSocket // by address
	instances []registry.ServiceInstance      // latest watch result
	closed    bool

	cancel context.CancelFunc // stops the watch
}

// New creates a client for the instances of service found in reg.
func New(reg registry.Registry, service string, opt ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		registry: reg,
		service:  service,
		opts:     buildOptions(opt),
		sockets:  make(map[string]*socket.StreamSocket),
		cancel:   cancel,
	}
	go c.watch(ctx)
	return c
}

func (c *Client) watch(ctx context.Context) {
	for instances := range c.registry.Watch(ctx, c.service) {
		c.mu.Lock()
		c.instances = instances
		c.mu.Unlock()
		c.opts.logger.Debug("instances changed", "service", c.service, "count", len(instances))
	}
}

// Call invokes the remote hook name on an instance of the service.
// Timeouts, destroyed sessions and failed dials are retried with exponential
// backoff; errors returned by the remote hook are not.
//
// A call that timed out or lost its session may already have run remotely,
// so a retry can run the hook twice. Hooks that are not idempotent should be
// called through a client built with WithRetry(0, 0).
func (c *Client) Call(ctx context.Context, name string, payload []byte) ([]byte, error) {
	var (
		resp []byte
		err  error
	)
	for attempt := 0; ; attempt++ {
		resp, err = c.call(ctx, name, payload)
		if err == nil || !retryable(err) || attempt >= c.opts.maxRetries {
			return resp, err
		}

		delay := c.opts.baseDelay * time.Duration(1<<attempt)
		c.opts.logger.Warn("retrying call", "name", name, "attempt", attempt+1, "delay", delay, "err", err.Error())

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Client) call(ctx context.Context, name string, payload []byte) ([]byte, error) {
	sock, err := c.pick(ctx, name)
	if err != nil {
		return nil, err
	}
	return sock.Call(ctx, name, payload)
}

// Fire sends an event to one instance of the service.
func (c *Client) Fire(ctx context.Context, name string, payload []byte) error {
	sock, err := c.pick(ctx, name)
	if err != nil {
		return err
	}
	return sock.Fire(name, payload)
}

func (c *Client) pick(ctx context.Context, name string) (*socket.StreamSocket, error) {
	instances, err := c.discover(ctx)
	if err != nil {
		return nil, err
	}
	inst, err := c.opts.balancer.Pick(name, instances)
	if err != nil {
		return nil, errors.Wrapf(err, "service %s", c.service)
	}
	return c.Socket(ctx, inst.Addr)
}

// discover returns the binary protocol instances, from the watch when it has
// reported any.
func (c *Client) discover(ctx context.Context) ([]registry.ServiceInstance, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	instances := c.instances
	c.mu.Unlock()

	if len(instances) == 0 {
		var err error
		instances, err = c.registry.Discover(ctx, c.service)
		if err != nil {
			return nil, errors.Wrapf(err, "discover %s", c.service)
		}
	}

	out := make([]registry.ServiceInstance, 0, len(instances))
	for _, inst := range instances {
		if inst.Transport == "" || inst.Transport == "tcp" {
			out = append(out, inst)
		}
	}
	return out, nil
}

// Socket returns the session for addr, dialing a new one if there is none or
// the previous one was destroyed. It waits until the session is OPEN.
func (c *Client) Socket(ctx context.Context, addr string) (*socket.StreamSocket, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	sock, ok := c.sockets[addr]
	if ok {
		select {
		case <-sock.Done():
			ok = false
		default:
		}
	}
	if !ok {
		opts := append([]socket.Option{socket.WithLogger(c.opts.logger)}, c.opts.socketOpts...)
		sock = socket.DialStream(addr, opts...)
		c.sockets[addr] = sock
		for _, fn := range c.opts.onSocket {
			fn(addr, sock)
		}
	}
	c.mu.Unlock()

	if err := sock.WaitOpen(ctx); err != nil {
		return nil, errors.WithMessagef(err, "connect %s", addr)
	}
	return sock, nil
}

// Close stops the watch and destroys every session.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sockets := c.sockets
	c.sockets = make(map[string]*socket.StreamSocket)
	c.mu.Unlock()

	c.cancel()
	for _, sock := range sockets {
		sock.Destroy()
	}
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, socket.ErrJobTimeout) ||
		errors.Is(err, socket.ErrDestroyed) ||
		errors.Is(err, socket.ErrHandshakeTimeout) ||
		errors.Is(err, socket.ErrStallTimeout) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
