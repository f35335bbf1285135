// Package registry announces servers under a service name and lets clients find them.
package registry

import "context"

// ServiceInstance is one announced server.
type ServiceInstance struct {
	Addr     string            `json:"addr"`
	Version  string            `json:"version,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type Registry interface {
	// Register announces instance under serviceName. The entry disappears on its own
	// ttl seconds after the process stops renewing it.
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list after every change until ctx is done.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
	Close() error
}
