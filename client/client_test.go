package client

import (
	"bytes"
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bcoin-org/bsock/loadbalance"
	"github.com/bcoin-org/bsock/message"
	"github.com/bcoin-org/bsock/protocol"
	"github.com/bcoin-org/bsock/registry"
	"github.com/bcoin-org/bsock/server"
	"github.com/bcoin-org/bsock/socket"
	"github.com/pkg/errors"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// startServer serves the binary protocol on a loopback port and returns its
// address. Every accepted session runs setup.
func startServer(t *testing.T, setup func(sock *socket.StreamSocket)) (*server.Server[[]byte], string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := server.NewTCP()
	srv.OnSocket(setup)
	go srv.Serve(context.Background(), ln)
	t.Cleanup(func() { srv.Close() })
	return srv, ln.Addr().String()
}

func newClient(t *testing.T, reg registry.Registry, opt ...Option) *Client {
	t.Helper()
	c := New(reg, "echo", opt...)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientCall(t *testing.T) {
	_, addr := startServer(t, func(sock *socket.StreamSocket) {
		sock.Hook("foo", func(ctx context.Context, p []byte) ([]byte, error) {
			return append([]byte("resp:"), p...), nil
		})
	})
	c := newClient(t, registry.NewStatic("echo", registry.ServiceInstance{Addr: addr, Transport: "tcp"}))

	for _, in := range []string{"a", "b"} {
		resp, err := c.Call(testContext(t), "foo", []byte(in))
		if err != nil {
			t.Fatal(err)
		}
		if string(resp) != "resp:"+in {
			t.Fatalf("expect resp:%s, got %q", in, resp)
		}
	}

	// Both calls share one session.
	s1, err := c.Socket(testContext(t), addr)
	if err != nil {
		t.Fatal(err)
	}
	s2, _ := c.Socket(testContext(t), addr)
	if s1 != s2 {
		t.Fatal("expect the session to be reused")
	}
}

func TestClientRemoteErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	_, addr := startServer(t, func(sock *socket.StreamSocket) {
		sock.Hook("fail", func(ctx context.Context, p []byte) ([]byte, error) {
			calls.Add(1)
			return nil, errors.New("bad call")
		})
	})
	c := newClient(t, registry.NewStatic("echo", registry.ServiceInstance{Addr: addr}),
		WithRetry(3, time.Millisecond))

	_, err := c.Call(testContext(t), "fail", nil)
	var remote *message.RemoteError
	if !errors.As(err, &remote) || remote.Message != "bad call" {
		t.Fatalf("expect remote error, got %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("expect a single attempt, got %d", n)
	}
}

func TestClientDialRetries(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	var dials atomic.Int32
	c := newClient(t, registry.NewStatic("echo", registry.ServiceInstance{Addr: addr}),
		WithRetry(2, time.Millisecond),
		OnSocket(func(string, *socket.StreamSocket) { dials.Add(1) }))

	_, err = c.Call(testContext(t), "foo", nil)
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		t.Fatalf("expect dial error, got %v", err)
	}
	if n := dials.Load(); n != 3 {
		t.Fatalf("expect 3 dials, got %d", n)
	}
}

func TestClientRedial(t *testing.T) {
	srv, addr := startServer(t, func(sock *socket.StreamSocket) {
		sock.Hook("foo", func(ctx context.Context, p []byte) ([]byte, error) {
			return []byte("resp"), nil
		})
	})
	c := newClient(t, registry.NewStatic("echo", registry.ServiceInstance{Addr: addr}),
		WithRetry(5, 10*time.Millisecond))

	first, err := c.Socket(testContext(t), addr)
	if err != nil {
		t.Fatal(err)
	}

	// Drop the session from the server side.
	for _, sock := range srv.Sockets() {
		sock.Destroy()
	}
	select {
	case <-first.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client session not destroyed")
	}

	resp, err := c.Call(testContext(t), "foo", nil)
	if err != nil || string(resp) != "resp" {
		t.Fatalf("expect call over a new session, got %q, %v", resp, err)
	}
	second, _ := c.Socket(testContext(t), addr)
	if second == first {
		t.Fatal("expect a redialed session")
	}
}

func TestClientBalancer(t *testing.T) {
	hits := make(map[string]*atomic.Int32)
	var addrs []registry.ServiceInstance
	for i := 0; i < 2; i++ {
		n := new(atomic.Int32)
		_, addr := startServer(t, func(sock *socket.StreamSocket) {
			sock.Hook("foo", func(ctx context.Context, p []byte) ([]byte, error) {
				n.Add(1)
				return nil, nil
			})
		})
		hits[addr] = n
		addrs = append(addrs, registry.ServiceInstance{Addr: addr, Transport: "tcp"})
	}
	// Text protocol instances are not dialed.
	addrs = append(addrs, registry.ServiceInstance{Addr: "127.0.0.1:1", Transport: "ws"})

	c := newClient(t, registry.NewStatic("echo", addrs...),
		WithBalancer(&loadbalance.RoundRobinBalancer{}))

	for i := 0; i < 4; i++ {
		if _, err := c.Call(testContext(t), "foo", nil); err != nil {
			t.Fatal(err)
		}
	}
	for addr, n := range hits {
		if n.Load() != 2 {
			t.Fatalf("expect 2 calls on %s, got %d", addr, n.Load())
		}
	}
}

func TestClientFire(t *testing.T) {
	got := make(chan string, 1)
	_, addr := startServer(t, func(sock *socket.StreamSocket) {
		sock.Listen("bar", func(p []byte) {
			got <- string(p)
		})
	})
	c := newClient(t, registry.NewStatic("echo", registry.ServiceInstance{Addr: addr}))

	if err := c.Fire(testContext(t), "bar", []byte("baz")); err != nil {
		t.Fatal(err)
	}
	select {
	case p := <-got:
		if p != "baz" {
			t.Fatalf("expect baz, got %q", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event not received")
	}
}

func TestClientNoInstances(t *testing.T) {
	c := newClient(t, registry.NewStatic("echo"), WithRetry(0, 0))
	if _, err := c.Call(testContext(t), "foo", nil); !errors.Is(err, loadbalance.ErrNoInstances) {
		t.Fatalf("expect ErrNoInstances, got %v", err)
	}
}

func TestClientWatch(t *testing.T) {
	_, addr := startServer(t, func(sock *socket.StreamSocket) {
		sock.Hook("foo", func(ctx context.Context, p []byte) ([]byte, error) {
			return []byte("resp"), nil
		})
	})
	reg := registry.NewStatic("echo")
	c := newClient(t, reg)

	// Give the watch time to subscribe, then announce the server.
	time.Sleep(20 * time.Millisecond)
	reg.Register(context.Background(), "echo", registry.ServiceInstance{Addr: addr}, 10)

	resp, err := c.Call(testContext(t), "foo", nil)
	if err != nil || string(resp) != "resp" {
		t.Fatalf("expect resp, got %q, %v", resp, err)
	}
}

func TestClientClose(t *testing.T) {
	_, addr := startServer(t, func(*socket.StreamSocket) {})
	c := newClient(t, registry.NewStatic("echo", registry.ServiceInstance{Addr: addr}))

	sock, err := c.Socket(testContext(t), addr)
	if err != nil {
		t.Fatal(err)
	}
	c.Close()

	select {
	case <-sock.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session survived client close")
	}
	if _, err := c.Call(testContext(t), "foo", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expect ErrClosed, got %v", err)
	}
}

func TestClientTimeoutNotRetried(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	_, addr := startServer(t, func(sock *socket.StreamSocket) {
		sock.Hook("slow", func(ctx context.Context, p []byte) ([]byte, error) {
			calls.Add(1)
			<-release
			return nil, nil
		})
	})
	t.Cleanup(func() { close(release) })
	c := newClient(t, registry.NewStatic("echo", registry.ServiceInstance{Addr: addr}),
		WithRetry(0, 0),
		WithSocketOptions(socket.WithStallInterval(10*time.Millisecond), socket.WithJobTimeout(50*time.Millisecond)))

	_, err := c.Call(testContext(t), "slow", nil)
	if !errors.Is(err, socket.ErrJobTimeout) {
		t.Fatalf("expect ErrJobTimeout, got %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("expect the hook to run once, got %d", n)
	}
}

func TestClientPayloadTooLarge(t *testing.T) {
	_, addr := startServer(t, func(sock *socket.StreamSocket) {})

	var dials atomic.Int32
	c := newClient(t, registry.NewStatic("echo", registry.ServiceInstance{Addr: addr}),
		WithRetry(3, time.Millisecond),
		OnSocket(func(string, *socket.StreamSocket) { dials.Add(1) }))

	_, err := c.Call(testContext(t), "foo", bytes.Repeat([]byte{1}, protocol.MaxPacketSize))
	if !errors.Is(err, protocol.ErrTooLarge) {
		t.Fatalf("expect ErrTooLarge, got %v", err)
	}
	if n := dials.Load(); n != 1 {
		t.Fatalf("expect a single session, got %d dials", n)
	}
	sock, err := c.Socket(testContext(t), addr)
	if err != nil || !sock.Connected() {
		t.Fatalf("expect session to stay open, got %v", err)
	}
}
