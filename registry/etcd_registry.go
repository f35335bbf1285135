package registry

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"reqrep-rpc/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultPrefix is the root under which instances are stored:
//
//	{prefix}/{service}/{addr} → JSON ServiceInstance
const DefaultPrefix = "/reqrep-rpc"

// Config selects the etcd cluster used for service discovery.
type Config struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial-timeout"`
	Prefix      string        `mapstructure:"prefix"`
	// TTL of announced entries, in seconds.
	TTL int64 `mapstructure:"ttl"`
}

// EtcdRegistry stores instances as leased keys so crashed servers expire on their own.
type EtcdRegistry struct {
	client    *clientv3.Client
	ownClient bool
	prefix    string
	logger    *log.MLogger

	mu     sync.Mutex
	leases map[string]registration // by key
}

type registration struct {
	lease  clientv3.LeaseID
	cancel context.CancelFunc // stops the keepalive
}

var _ Registry = (*EtcdRegistry)(nil)

// NewEtcdRegistry connects to the endpoints in cfg.
func NewEtcdRegistry(cfg Config) (*EtcdRegistry, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("etcd registry: no endpoints")
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "etcd registry: connect")
	}
	r := NewEtcdRegistryWithClient(c, cfg.Prefix)
	r.ownClient = true
	return r, nil
}

// NewEtcdRegistryWithClient uses an existing client, which Close leaves open.
func NewEtcdRegistryWithClient(c *clientv3.Client, prefix string) *EtcdRegistry {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &EtcdRegistry{
		client: c,
		prefix: prefix,
		logger: log.With(log.FieldComponent("registry")),
		leases: make(map[string]registration),
	}
}

func (r *EtcdRegistry) servicePrefix(serviceName string) string {
	return path.Join(r.prefix, serviceName) + "/"
}

func (r *EtcdRegistry) key(serviceName, addr string) string {
	return r.servicePrefix(serviceName) + addr
}

// Register grants a lease, writes the instance under it and keeps the lease alive
// until Deregister or Close. Registering the same address again replaces the entry.
func (r *EtcdRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error {
	val, err := json.Marshal(instance)
	if err != nil {
		return errors.Wrap(err, "marshal instance")
	}
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return errors.Wrapf(err, "grant lease for %s", serviceName)
	}
	key := r.key(serviceName, instance.Addr)
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return errors.Wrapf(err, "put %s", key)
	}

	// the keepalive outlives ctx, which only bounds the registration itself
	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return errors.Wrapf(err, "keepalive %s", key)
	}
	go func() {
		for range ch {
		}
		r.logger.Debug("keepalive stopped", zap.String("key", key))
	}()

	r.mu.Lock()
	old, ok := r.leases[key]
	r.leases[key] = registration{lease: lease.ID, cancel: cancel}
	r.mu.Unlock()
	if ok {
		old.cancel()
	}

	r.logger.Info("service registered",
		zap.String("service", serviceName),
		log.FieldAddr(instance.Addr),
		zap.Int64("ttl", ttl))
	return nil
}

// Deregister removes the entry and revokes its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, serviceName string, addr string) error {
	key := r.key(serviceName, addr)
	r.mu.Lock()
	reg, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if ok {
		reg.cancel()
		if _, err := r.client.Revoke(ctx, reg.lease); err != nil {
			r.logger.Warn("revoke lease failed", zap.String("key", key), zap.Error(err))
		}
	}
	if _, err := r.client.Delete(ctx, key); err != nil {
		return errors.Wrapf(err, "delete %s", key)
	}
	r.logger.Info("service deregistered", zap.String("service", serviceName), log.FieldAddr(addr))
	return nil
}

// Discover returns the instances currently announced for serviceName.
func (r *EtcdRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	resp, err := r.client.Get(ctx, r.servicePrefix(serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrapf(err, "discover %s", serviceName)
	}
	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.RatedWarn(1, "skip malformed instance", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch re-reads the instance list on every change under the service prefix.
// The channel is closed when ctx is done.
func (r *EtcdRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, r.servicePrefix(serviceName), clientv3.WithPrefix())
		for range watchChan {
			instances, err := r.Discover(ctx, serviceName)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.Warn("rediscover after watch event failed", zap.String("service", serviceName), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Close stops all keepalives. Entries then expire after their TTL.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	for key, reg := range r.leases {
		reg.cancel()
		delete(r.leases, key)
	}
	r.mu.Unlock()
	if r.ownClient {
		return r.client.Close()
	}
	return nil
}
