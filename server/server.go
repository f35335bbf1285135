// Package server binds functions by name and serves them over a ServerTransport.
//
// Request processing pipeline:
//
//	transport.Recv → ParseRequest → middleware chain → Handler.Invoke → encode reply → transport.Send
//
// Requests are served one at a time, in arrival order. A handler never runs
// concurrently with another handler of the same server.
package server

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"reqrep-rpc/log"
	"reqrep-rpc/merr"
	"reqrep-rpc/registry"
	"reqrep-rpc/transport"
)

// Server runs the receive/dispatch/reply loop.
type Server struct {
	dispatcher *Dispatcher
	transport  transport.ServerTransport
	logger     *log.MLogger

	registry      registry.Registry // nil if not using discovery
	serviceName   string
	advertiseAddr string // differs from the listen address, e.g. ":8080" vs "10.0.0.5:8080"
	ttl           int64

	serving  atomic.Bool
	shutdown atomic.Bool
	done     chan struct{}
}

type Option func(*Server)

// WithRegistry announces the server under serviceName while it serves.
// advertiseAddr defaults to the transport address.
func WithRegistry(reg registry.Registry, serviceName, advertiseAddr string, ttl int64) Option {
	return func(s *Server) {
		s.registry = reg
		s.serviceName = serviceName
		s.advertiseAddr = advertiseAddr
		s.ttl = ttl
	}
}

func NewServer(d *Dispatcher, t transport.ServerTransport, opts ...Option) *Server {
	s := &Server{
		dispatcher: d,
		transport:  t,
		logger:     log.With(log.FieldComponent("server"), log.FieldAddr(t.Addr().String())),
		ttl:        10,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.advertiseAddr == "" {
		s.advertiseAddr = t.Addr().String()
	}
	return s
}

// Addr is the transport's listening address.
func (s *Server) Addr() string {
	return s.transport.Addr().String()
}

func (s *Server) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Serve answers requests until ctx is done or the transport is closed; both
// return nil. Serve may be called once, and returns transport.ErrClosed without
// announcing if Shutdown already ran.
func (s *Server) Serve(ctx context.Context) error {
	if s.shutdown.Load() {
		return transport.ErrClosed
	}
	if !s.serving.CompareAndSwap(false, true) {
		return errors.New("server is already serving")
	}
	defer close(s.done)

	if err := s.announce(ctx); err != nil {
		return err
	}
	// Shutdown may have deregistered between the check above and announce
	if s.shutdown.Load() {
		s.withdraw(ctx)
		return transport.ErrClosed
	}
	s.logger.Info("serving", zap.Strings("functions", s.dispatcher.Names()))

	for {
		err := s.ServeOne(ctx)
		switch {
		case err == nil:
		case errors.Is(err, transport.ErrClosed), ctx.Err() != nil:
			s.logger.Info("serve loop stopped")
			return nil
		default:
			// a failed reply only loses that client's answer
			s.logger.RatedWarn(1, "send reply failed", zap.Error(err))
		}
	}
}

// ServeOne receives, dispatches and answers exactly one request.
func (s *Server) ServeOne(ctx context.Context) error {
	body, err := s.transport.Recv(ctx)
	if err != nil {
		return err
	}
	reply := s.dispatcher.HandleBody(ctx, body)
	return s.transport.Send(ctx, reply)
}

func (s *Server) announce(ctx context.Context) error {
	if s.registry == nil {
		return nil
	}
	err := s.registry.Register(ctx, s.serviceName, registry.ServiceInstance{Addr: s.advertiseAddr}, s.ttl)
	return errors.Wrapf(err, "announce %s", s.serviceName)
}

func (s *Server) withdraw(ctx context.Context) {
	if s.registry == nil {
		return
	}
	if err := s.registry.Deregister(ctx, s.serviceName, s.advertiseAddr); err != nil {
		s.logger.Warn("withdraw registration failed", zap.Error(err))
	}
}

// Shutdown deregisters the server first so clients stop picking it, then closes
// the transport and waits up to timeout for Serve to return.
func (s *Server) Shutdown(ctx context.Context, timeout time.Duration) error {
	if !s.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if s.registry != nil {
		if err := s.registry.Deregister(ctx, s.serviceName, s.advertiseAddr); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.transport.Close(); err != nil {
		errs = append(errs, err)
	}

	if s.serving.Load() {
		select {
		case <-s.done:
		case <-time.After(timeout):
			errs = append(errs, errors.New("timeout waiting for the serve loop to stop"))
		}
	}
	return merr.Combine(errs...)
}
