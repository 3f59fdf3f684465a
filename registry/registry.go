// Package registry announces bsock servers and lets clients discover them.
package registry

import "context"

// ServiceInstance describes one server endpoint.
type ServiceInstance struct {
	Addr      string `json:"addr"`
	Transport string `json:"transport"` // "tcp" or "ws"
	Weight    int    `json:"weight"`    // for weighted balancing
	Version   string `json:"version,omitempty"`
}

// Registry stores service instances.
type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list after every change until ctx is done.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
	Close() error
}
