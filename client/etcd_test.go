package client

import (
	"context"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bcoin-org/bsock/registry"
	"github.com/bcoin-org/bsock/server"
	"github.com/bcoin-org/bsock/socket"
)

// TestMultiServerWithEtcd runs two servers announced through etcd and
// spreads calls across them.
func TestMultiServerWithEtcd(t *testing.T) {
	endpoints := os.Getenv("BSOCK_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("BSOCK_ETCD_ENDPOINTS not set")
	}
	reg, err := registry.NewEtcdRegistry(strings.Split(endpoints, ","))
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	service := "echo-multi-test"
	for i := 0; i < 2; i++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		srv := server.NewTCP(server.WithRegistry(reg, service, registry.ServiceInstance{
			Addr:   ln.Addr().String(),
			Weight: 10,
		}))
		srv.OnSocket(func(sock *socket.StreamSocket) {
			sock.Hook("echo", func(ctx context.Context, p []byte) ([]byte, error) {
				return p, nil
			})
		})
		go srv.Serve(context.Background(), ln)
		defer srv.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Wait for both registrations.
	for {
		instances, err := reg.Discover(ctx, service)
		if err == nil && len(instances) == 2 {
			break
		}
		if ctx.Err() != nil {
			t.Fatal("servers not registered")
		}
		time.Sleep(20 * time.Millisecond)
	}

	c := New(reg, service)
	defer c.Close()

	for i := 0; i < 10; i++ {
		resp, err := c.Call(ctx, "echo", []byte{byte(i)})
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if len(resp) != 1 || resp[0] != byte(i) {
			t.Fatalf("request %d: unexpected response %v", i, resp)
		}
	}

	c.mu.Lock()
	n := len(c.sockets)
	c.mu.Unlock()
	if n != 2 {
		t.Fatalf("expect sessions to both servers, got %d", n)
	}
}
