package registry

import (
	"context"
	"sort"
	"sync"
)

// Static is an in-memory Registry for a single process or a fixed set of
// endpoints. TTLs are ignored.
type Static struct {
	mu       sync.Mutex
	services map[string]map[string]ServiceInstance
	watchers map[string][]chan []ServiceInstance
}

// NewStatic creates a registry preloaded with instances of serviceName.
func NewStatic(serviceName string, instances ...ServiceInstance) *Static {
	r := &Static{
		services: make(map[string]map[string]ServiceInstance),
		watchers: make(map[string][]chan []ServiceInstance),
	}
	for _, inst := range instances {
		r.put(serviceName, inst)
	}
	return r
}

func (r *Static) put(serviceName string, inst ServiceInstance) {
	m, ok := r.services[serviceName]
	if !ok {
		m = make(map[string]ServiceInstance)
		r.services[serviceName] = m
	}
	m[inst.Addr] = inst
}

func (r *Static) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(serviceName, instance)
	r.notify(serviceName)
	return nil
}

func (r *Static) Deregister(ctx context.Context, serviceName string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services[serviceName], addr)
	r.notify(serviceName)
	return nil
}

func (r *Static) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(serviceName), nil
}

// list returns instances sorted by address so balancers see a stable order.
func (r *Static) list(serviceName string) []ServiceInstance {
	out := make([]ServiceInstance, 0, len(r.services[serviceName]))
	for _, inst := range r.services[serviceName] {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Addr < out[j].Addr
	})
	return out
}

// notify must be called with r.mu held. A slow watcher only sees the latest
// list.
func (r *Static) notify(serviceName string) {
	for _, ch := range r.watchers[serviceName] {
		list := r.list(serviceName)
		select {
		case <-ch:
		default:
		}
		ch <- list
	}
}

func (r *Static) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)

	r.mu.Lock()
	r.watchers[serviceName] = append(r.watchers[serviceName], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		ws := r.watchers[serviceName]
		for i, w := range ws {
			if w == ch {
				r.watchers[serviceName] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (r *Static) Close() error {
	return nil
}
