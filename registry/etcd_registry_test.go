package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func etcdRegistry(t *testing.T) *EtcdRegistry {
	t.Helper()
	endpoints := os.Getenv("BSOCK_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("BSOCK_ETCD_ENDPOINTS not set")
	}
	reg, err := NewEtcdRegistry(strings.Split(endpoints, ","))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestRegisterAndDiscover(t *testing.T) {
	reg := etcdRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inst1 := ServiceInstance{Addr: "127.0.0.1:8001", Transport: "tcp", Weight: 10, Version: "1.0"}
	inst2 := ServiceInstance{Addr: "127.0.0.1:8002", Transport: "tcp", Weight: 5, Version: "1.0"}

	if err := reg.Register(ctx, "echo-test", inst1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, "echo-test", inst2, 10); err != nil {
		t.Fatal(err)
	}
	defer reg.Deregister(ctx, "echo-test", inst2.Addr)

	instances, err := reg.Discover(ctx, "echo-test")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	if err := reg.Deregister(ctx, "echo-test", inst1.Addr); err != nil {
		t.Fatal(err)
	}

	instances, err = reg.Discover(ctx, "echo-test")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 || instances[0].Addr != inst2.Addr {
		t.Fatalf("expect only %s after deregister, got %+v", inst2.Addr, instances)
	}
}

func TestEtcdWatch(t *testing.T) {
	reg := etcdRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch := reg.Watch(ctx, "watch-test")
	// Give the watch time to be established.
	time.Sleep(100 * time.Millisecond)

	inst := ServiceInstance{Addr: "127.0.0.1:9001", Transport: "ws", Weight: 1}
	if err := reg.Register(ctx, "watch-test", inst, 10); err != nil {
		t.Fatal(err)
	}
	defer reg.Deregister(ctx, "watch-test", inst.Addr)

	select {
	case list := <-ch:
		if len(list) != 1 || list[0].Transport != "ws" {
			t.Fatalf("unexpected watch update %+v", list)
		}
	case <-ctx.Done():
		t.Fatal("no watch update")
	}
}
