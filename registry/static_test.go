package registry

import (
	"context"
	"testing"
	"time"
)

func TestStaticDiscover(t *testing.T) {
	ctx := context.Background()
	reg := NewStatic("echo",
		ServiceInstance{Addr: "b:2", Weight: 1},
		ServiceInstance{Addr: "a:1", Weight: 1},
	)

	instances, err := reg.Discover(ctx, "echo")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 || instances[0].Addr != "a:1" {
		t.Fatalf("expect sorted instances, got %+v", instances)
	}

	if err := reg.Deregister(ctx, "echo", "a:1"); err != nil {
		t.Fatal(err)
	}
	instances, _ = reg.Discover(ctx, "echo")
	if len(instances) != 1 || instances[0].Addr != "b:2" {
		t.Fatalf("unexpected instances after deregister %+v", instances)
	}

	if instances, _ := reg.Discover(ctx, "other"); len(instances) != 0 {
		t.Fatalf("expect no instances for unknown service, got %+v", instances)
	}
}

func TestStaticWatch(t *testing.T) {
	reg := NewStatic("echo")
	ctx, cancel := context.WithCancel(context.Background())

	ch := reg.Watch(ctx, "echo")
	reg.Register(ctx, "echo", ServiceInstance{Addr: "a:1"}, 10)
	reg.Register(ctx, "echo", ServiceInstance{Addr: "b:2"}, 10)

	// Only the latest list is kept for a slow watcher.
	select {
	case list := <-ch:
		if len(list) != 2 {
			t.Fatalf("expect latest list with 2 instances, got %+v", list)
		}
	case <-time.After(time.Second):
		t.Fatal("no watch update")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expect watch channel to close")
		}
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed")
	}
}
