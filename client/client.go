// Package client packs calls and exchanges them with a server over a ClientTransport.
package client

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"reqrep-rpc/codec"
	"reqrep-rpc/log"
	"reqrep-rpc/merr"
	"reqrep-rpc/message"
	"reqrep-rpc/metrics"
	"reqrep-rpc/registry"
	"reqrep-rpc/transport"
)

// Pack builds a request body: name, then every argument in call order.
func Pack(name string, args ...any) (*codec.Buffer, error) {
	b := codec.NewBuffer(nil)
	b.WriteString(name)
	if err := codec.EncodeArgs(b, args...); err != nil {
		return nil, errors.Wrapf(err, "pack call to %s", name)
	}
	return b, nil
}

// Client issues one call at a time over its transport. It is not safe for
// concurrent use.
type Client struct {
	transport transport.ClientTransport
	timeout   atomic.Duration
	lastCode  atomic.Uint32
	logger    *log.MLogger
}

func New(t transport.ClientTransport) *Client {
	return &Client{
		transport: t,
		logger:    log.With(log.FieldComponent("client")),
	}
}

// Dial connects to a TCP server.
func Dial(ctx context.Context, addr string, cfg transport.Config) (*Client, error) {
	t, err := transport.Dial(ctx, addr, cfg)
	if err != nil {
		return nil, err
	}
	c := New(t)
	c.logger = c.logger.With(log.FieldAddr(addr))
	c.SetTimeout(cfg.RecvTimeout)
	return c, nil
}

// Discover dials the first instance announced for serviceName.
func Discover(ctx context.Context, reg registry.Registry, serviceName string, cfg transport.Config) (*Client, error) {
	instances, err := reg.Discover(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, merr.WrapErrServiceNotFound(serviceName)
	}
	log.Ctx(ctx).Debug("discovered service",
		zap.String("service", serviceName),
		zap.Int("instances", len(instances)),
		log.FieldAddr(instances[0].Addr))
	return Dial(ctx, instances[0].Addr, cfg)
}

// SetTimeout bounds how long a call waits for its reply; 0 waits forever.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout.Store(d)
	c.transport.SetRecvTimeout(d)
}

func (c *Client) Timeout() time.Duration {
	return c.timeout.Load()
}

// LastCode is the reply code of the most recent completed call.
func (c *Client) LastCode() message.Code {
	return message.Code(c.lastCode.Load())
}

func (c *Client) Transport() transport.ClientTransport {
	return c.transport
}

func (c *Client) Close() error {
	return c.transport.Close()
}

// roundTrip sends body and waits for its reply. A nil reply with a nil error
// means no reply arrived in time.
func (c *Client) roundTrip(ctx context.Context, body []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.transport.Send(ctx, body); err != nil {
		return nil, err
	}
	reply, err := c.transport.Recv(ctx)
	if errors.Is(err, transport.ErrRecvTimeout) {
		return nil, nil
	}
	return reply, err
}

// Call invokes name with args and decodes the reply as R.
//
// Whatever the server answered, including a failure code, comes back as the
// envelope with a nil error. No reply within the timeout is reported the same
// way, as {RECV_TIMEOUT, "recv timeout"}. The error is reserved for local
// failures: an argument that cannot be encoded, a broken or closed transport,
// a cancelled ctx or an undecodable reply.
func Call[R any](ctx context.Context, c *Client, name string, args ...any) (message.Value[R], error) {
	var v message.Value[R]
	req, err := Pack(name, args...)
	if err != nil {
		return v, err
	}

	start := time.Now()
	reply, err := c.roundTrip(ctx, req.Data())
	if err != nil {
		return v, errors.Wrapf(err, "call %s", name)
	}
	if len(reply) == 0 {
		v = message.Failure[R](message.CodeRecvTimeout, "recv timeout")
		c.logger.RatedWarn(1, "call timed out",
			log.FieldFunction(name),
			zap.Duration("timeout", c.Timeout()))
	} else if v, err = message.DecodeValue[R](codec.NewBuffer(reply)); err != nil {
		return v, merr.WrapErrDecodeFailed(err, name)
	}

	c.lastCode.Store(uint32(v.ErrorCode()))
	observe(name, v.ErrorCode(), time.Since(start))
	return v, nil
}

func observe(name string, code message.Code, d time.Duration) {
	if code == message.CodeFunctionNotBound {
		name = metrics.UnboundFunction
	}
	metrics.ClientCalls.WithLabelValues(name, code.String()).Inc()
	metrics.ClientCallLatency.WithLabelValues(name).Observe(float64(d.Microseconds()) / 1000)
}
