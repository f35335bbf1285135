// Package rpc is the entry point: one RPC value owns a transport, a role and the
// function table, and exposes Bind/Call/Run.
//
//	srv := rpc.New()
//	srv.Bind("add", server.Func2(func(a, b int) int { return a + b }))
//	_ = srv.AsServer(":5555")
//	go srv.Run(ctx)
//
//	cli := rpc.New(rpc.WithTimeout(time.Second))
//	_ = cli.AsClient(ctx, "127.0.0.1:5555")
//	v, err := rpc.Call[int](ctx, cli, "add", 2, 3) // v.Val() == 5
//
// An RPC value is not safe for concurrent calls; use a ClientPool for that.
package rpc

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"reqrep-rpc/client"
	"reqrep-rpc/log"
	"reqrep-rpc/merr"
	"reqrep-rpc/message"
	"reqrep-rpc/middleware"
	"reqrep-rpc/server"
	"reqrep-rpc/transport"
)

// Role is fixed the first time the facade is connected.
type Role int32

const (
	RoleUninitialized Role = iota
	RoleClient
	RoleServer
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	default:
		return "uninitialized"
	}
}

type RPC struct {
	opts       Options
	dispatcher *server.Dispatcher
	logger     *log.MLogger

	mu     sync.Mutex
	role   Role
	client *client.Client
	server *server.Server
}

func New(opts ...Option) *RPC {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	d := server.NewDispatcher()
	// recovery is innermost so the outer layers see HANDLER_PANIC replies
	d.Use(middleware.LoggingMiddleware(), middleware.MetricsMiddleware())
	if o.RateLimit > 0 {
		d.Use(middleware.RateLimitMiddleware(o.RateLimit, max(o.Burst, 1)))
	}
	d.Use(o.Middlewares...)
	d.Use(middleware.RecoveryMiddleware())

	return &RPC{
		opts:       o,
		dispatcher: d,
		logger:     log.With(log.FieldModule("rpc")),
	}
}

func (r *RPC) Role() Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.role
}

func (r *RPC) checkUnsetLocked() error {
	if r.role != RoleUninitialized {
		return merr.WrapErrRoleAlreadySet(r.role)
	}
	return nil
}

// AsClient dials a TCP server.
func (r *RPC) AsClient(ctx context.Context, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkUnsetLocked(); err != nil {
		return err
	}
	t, err := transport.Dial(ctx, addr, r.opts.Transport)
	if err != nil {
		return err
	}
	r.setClientLocked(t)
	r.logger.Info("connected as client", log.FieldAddr(addr))
	return nil
}

// AsDiscoveredClient dials the first server announced under the configured service name.
func (r *RPC) AsDiscoveredClient(ctx context.Context) error {
	if r.opts.Registry == nil {
		return merr.WrapErrParameterInvalid("registry", nil)
	}
	instances, err := r.opts.Registry.Discover(ctx, r.opts.ServiceName)
	if err != nil {
		return err
	}
	if len(instances) == 0 {
		return merr.WrapErrServiceNotFound(r.opts.ServiceName)
	}
	return r.AsClient(ctx, instances[0].Addr)
}

// AsClientTransport uses an already connected transport, such as a Pipe end.
func (r *RPC) AsClientTransport(t transport.ClientTransport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkUnsetLocked(); err != nil {
		return err
	}
	r.setClientLocked(t)
	return nil
}

func (r *RPC) setClientLocked(t transport.ClientTransport) {
	r.client = client.New(t)
	r.client.SetTimeout(r.opts.Timeout)
	r.role = RoleClient
}

// AsServer listens on addr, e.g. ":5555" or "127.0.0.1:0".
func (r *RPC) AsServer(addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkUnsetLocked(); err != nil {
		return err
	}
	t, err := transport.Listen(addr, r.opts.Transport)
	if err != nil {
		return err
	}
	r.setServerLocked(t)
	r.logger.Info("bound as server", log.FieldAddr(t.Addr().String()))
	return nil
}

func (r *RPC) AsServerTransport(t transport.ServerTransport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkUnsetLocked(); err != nil {
		return err
	}
	r.setServerLocked(t)
	return nil
}

func (r *RPC) setServerLocked(t transport.ServerTransport) {
	var opts []server.Option
	if r.opts.Registry != nil {
		opts = append(opts, server.WithRegistry(r.opts.Registry, r.opts.ServiceName, r.opts.AdvertiseAddr, r.opts.TTL))
	}
	r.server = server.NewServer(r.dispatcher, t, opts...)
	r.role = RoleServer
}

// Addr is the listening address of a server, or "" in any other role.
func (r *RPC) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.server == nil {
		return ""
	}
	return r.server.Addr()
}

// Bind binds h under name; the last binding for a name wins.
func (r *RPC) Bind(name string, h server.Handler) {
	r.dispatcher.Bind(name, h)
}

func (r *RPC) BindFunc(name string, fn any) error {
	return r.dispatcher.BindFunc(name, fn)
}

func (r *RPC) BindMethod(name string, rcvr any, method string) error {
	return r.dispatcher.BindMethod(name, rcvr, method)
}

func (r *RPC) Dispatcher() *server.Dispatcher {
	return r.dispatcher
}

// SetTimeout bounds each later call; 0 waits forever.
func (r *RPC) SetTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts.Timeout = d
	if r.client != nil {
		r.client.SetTimeout(d)
	}
}

// LastCode is the reply code of the last call made by a client.
func (r *RPC) LastCode() message.Code {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return message.CodeSuccess
	}
	return r.client.LastCode()
}

// Run serves requests one at a time until ctx is done or the facade is closed.
func (r *RPC) Run(ctx context.Context) error {
	r.mu.Lock()
	svr, role := r.server, r.role
	r.mu.Unlock()
	if role != RoleServer {
		return merr.WrapErrRoleMismatch("run", role)
	}
	return svr.Serve(ctx)
}

// Close releases the transport. A server is deregistered first.
func (r *RPC) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.role {
	case RoleClient:
		return r.client.Close()
	case RoleServer:
		return r.server.Shutdown(context.Background(), 5*time.Second)
	}
	return nil
}

// Call invokes name on the server with args and decodes the result as R.
// See client.Call for how remote and local failures are reported.
func Call[R any](ctx context.Context, r *RPC, name string, args ...any) (message.Value[R], error) {
	r.mu.Lock()
	c, role := r.client, r.role
	r.mu.Unlock()
	if role != RoleClient {
		return message.Value[R]{}, merr.WrapErrRoleMismatch("call", role)
	}
	v, err := client.Call[R](ctx, c, name, args...)
	if err != nil {
		r.logger.Debug("call failed", log.FieldFunction(name), zap.Error(err))
	}
	return v, err
}
