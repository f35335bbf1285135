package rpc

import (
	"time"

	"reqrep-rpc/middleware"
	"reqrep-rpc/registry"
	"reqrep-rpc/transport"
)

// Options configure a facade. The zero value plus DefaultOptions fields is usable.
type Options struct {
	Transport transport.Config
	// Timeout bounds each client call; 0 waits forever.
	Timeout time.Duration

	// Registry, when set, announces a server under ServiceName and lets a
	// client find one with AsDiscoveredClient.
	Registry      registry.Registry
	ServiceName   string
	AdvertiseAddr string
	TTL           int64

	// RateLimit is requests per second accepted by a server; 0 disables it.
	RateLimit float64
	Burst     int

	// Middlewares run between the built-in logging/metrics layers and recovery.
	Middlewares []middleware.Middleware
}

func DefaultOptions() Options {
	return Options{
		Transport: transport.DefaultConfig(),
		TTL:       10,
	}
}

type Option func(*Options)

func WithTransportConfig(cfg transport.Config) Option {
	return func(o *Options) { o.Transport = cfg }
}

func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

func WithRegistry(reg registry.Registry, serviceName, advertiseAddr string, ttl int64) Option {
	return func(o *Options) {
		o.Registry = reg
		o.ServiceName = serviceName
		o.AdvertiseAddr = advertiseAddr
		if ttl > 0 {
			o.TTL = ttl
		}
	}
}

func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *Options) {
		o.RateLimit = perSecond
		o.Burst = burst
	}
}

func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *Options) { o.Middlewares = append(o.Middlewares, mws...) }
}
