package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// MemoryRegistry keeps instances in process. TTLs are ignored. It serves tests and
// single-process deployments that have no etcd.
type MemoryRegistry struct {
	mu       sync.Mutex
	services map[string]map[string]ServiceInstance // service → addr → instance
	watchers map[string][]chan []ServiceInstance
}

var _ Registry = (*MemoryRegistry)(nil)

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		services: make(map[string]map[string]ServiceInstance),
		watchers: make(map[string][]chan []ServiceInstance),
	}
}

func (r *MemoryRegistry) Register(_ context.Context, serviceName string, instance ServiceInstance, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.services[serviceName] == nil {
		r.services[serviceName] = make(map[string]ServiceInstance)
	}
	r.services[serviceName][instance.Addr] = instance
	r.notifyLocked(serviceName)
	return nil
}

func (r *MemoryRegistry) Deregister(_ context.Context, serviceName string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services[serviceName], addr)
	r.notifyLocked(serviceName)
	return nil
}

func (r *MemoryRegistry) Discover(_ context.Context, serviceName string) ([]ServiceInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(serviceName), nil
}

func (r *MemoryRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	r.mu.Lock()
	r.watchers[serviceName] = append(r.watchers[serviceName], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		r.watchers[serviceName] = lo.Without(r.watchers[serviceName], ch)
		close(ch)
	}()
	return ch
}

func (r *MemoryRegistry) Close() error {
	return nil
}

// listLocked returns the instances sorted by address.
func (r *MemoryRegistry) listLocked(serviceName string) []ServiceInstance {
	instances := lo.Values(r.services[serviceName])
	sort.Slice(instances, func(i, j int) bool { return instances[i].Addr < instances[j].Addr })
	return instances
}

// notifyLocked replaces any unread update with the latest list.
func (r *MemoryRegistry) notifyLocked(serviceName string) {
	instances := r.listLocked(serviceName)
	for _, ch := range r.watchers[serviceName] {
		select {
		case <-ch:
		default:
		}
		ch <- instances
	}
}
