package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
)

type pipeMsg struct {
	seq  uint32
	body []byte
}

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }

// pipe is the state shared by both ends.
type pipe struct {
	reqCh     chan pipeMsg
	repCh     chan pipeMsg
	done      chan struct{}
	closeOnce sync.Once
	reliable  atomic.Bool
}

func (p *pipe) close() {
	p.closeOnce.Do(func() { close(p.done) })
}

func (p *pipe) isClosed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// PipeClient is the client end of an in-memory transport.
type PipeClient struct {
	p           *pipe
	seq         uint32
	recvTimeout atomic.Duration
}

// PipeServer is the server end of an in-memory transport.
type PipeServer struct {
	p       *pipe
	pending *pipeMsg
}

var (
	_ ClientTransport = (*PipeClient)(nil)
	_ ServerTransport = (*PipeServer)(nil)
)

// Pipe returns a connected pair. Closing either end closes both.
func Pipe() (*PipeClient, *PipeServer) {
	p := &pipe{
		reqCh: make(chan pipeMsg, 1),
		repCh: make(chan pipeMsg, 16),
		done:  make(chan struct{}),
	}
	p.reliable.Store(true)
	return &PipeClient{p: p}, &PipeServer{p: p}
}

// Reliable(false) makes the server end silently discard replies, as if the
// network dropped them.
func (c *PipeClient) Reliable(b bool) {
	c.p.reliable.Store(b)
}

func (c *PipeClient) SetRecvTimeout(d time.Duration) {
	c.recvTimeout.Store(d)
}

func (c *PipeClient) Send(ctx context.Context, body []byte) error {
	if c.p.isClosed() {
		return ErrClosed
	}
	c.seq++
	msg := pipeMsg{seq: c.seq, body: append([]byte(nil), body...)}
	select {
	case c.p.reqCh <- msg:
		return nil
	case <-c.p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv skips replies to earlier requests.
func (c *PipeClient) Recv(ctx context.Context) ([]byte, error) {
	if c.p.isClosed() {
		return nil, ErrClosed
	}
	var timeout <-chan time.Time
	if d := c.recvTimeout.Load(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}
	for {
		select {
		case msg := <-c.p.repCh:
			if msg.seq != c.seq {
				continue
			}
			return msg.body, nil
		case <-timeout:
			return nil, ErrRecvTimeout
		case <-c.p.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *PipeClient) Close() error {
	c.p.close()
	return nil
}

func (s *PipeServer) Recv(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-s.p.reqCh:
		s.pending = &msg
		return msg.body, nil
	case <-s.p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *PipeServer) Send(ctx context.Context, body []byte) error {
	in := s.pending
	if in == nil {
		return errors.New("send without a received request")
	}
	s.pending = nil
	if !s.p.reliable.Load() {
		return nil
	}
	select {
	case s.p.repCh <- pipeMsg{seq: in.seq, body: append([]byte(nil), body...)}:
		return nil
	case <-s.p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *PipeServer) Addr() net.Addr {
	return pipeAddr{}
}

func (s *PipeServer) Close() error {
	s.p.close()
	return nil
}
