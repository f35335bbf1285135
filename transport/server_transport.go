package transport

import (
	"context"
	"net"
	"sync"

	"reqrep-rpc/log"
	"reqrep-rpc/protocol"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// inbound is a received request waiting for Recv.
type inbound struct {
	conn net.Conn
	seq  uint32
	body []byte
}

// TCPServer is a ServerTransport listening on TCP.
//
// Any number of clients may connect. One goroutine per connection reads frames
// into a shared inbox; Recv takes them one at a time and Send writes the reply
// back on the connection the request came from.
//
//	Accept → conn-1 reader ──┐
//	Accept → conn-2 reader ──┼──→ inbox ──→ Recv ──→ (caller) ──→ Send → origin conn
//	Accept → conn-3 reader ──┘
type TCPServer struct {
	listener net.Listener
	framer   *framer
	cfg      Config
	logger   *log.MLogger

	inbox   chan inbound
	pending *inbound // request returned by the last Recv, awaiting Send
	sendMu  sync.Mutex

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	done     chan struct{}
	shutdown atomic.Bool
}

var _ ServerTransport = (*TCPServer)(nil)

// Listen binds addr and starts accepting connections.
func Listen(addr string, cfg Config) (*TCPServer, error) {
	f, err := newFramer(cfg, "server")
	if err != nil {
		return nil, err
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		f.close()
		return nil, errors.Wrapf(err, "listen %s", addr)
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1
	}
	s := &TCPServer{
		listener: listener,
		framer:   f,
		cfg:      cfg,
		logger:   log.With(log.FieldComponent("tcp-server"), log.FieldAddr(listener.Addr().String())),
		inbox:    make(chan inbound, cfg.InboxSize),
		conns:    make(map[net.Conn]struct{}),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

func (s *TCPServer) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *TCPServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Close() closes the listener, which is the normal way out
			if !s.shutdown.Load() {
				s.logger.Error("accept failed", zap.Error(err))
			}
			return
		}
		s.mu.Lock()
		if s.shutdown.Load() {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.readLoop(conn)
	}
}

// readLoop must stay the only reader of conn.
func (s *TCPServer) readLoop(conn net.Conn) {
	defer s.wg.Done()
	defer s.forget(conn)
	for {
		h, body, err := s.framer.read(conn)
		if err != nil {
			if !s.shutdown.Load() {
				s.logger.Debug("connection closed", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
			}
			return
		}
		if h.MsgType != protocol.MsgTypeRequest {
			s.logger.RatedWarn(1, "unexpected frame type", zap.Uint8("type", uint8(h.MsgType)))
			continue
		}
		select {
		case s.inbox <- inbound{conn: conn, seq: h.Seq, body: body}:
		case <-s.done:
			return
		}
	}
}

func (s *TCPServer) forget(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

// Recv blocks for the next request from any connection.
// Recv and Send are meant to be driven by a single serving goroutine.
func (s *TCPServer) Recv(ctx context.Context) ([]byte, error) {
	select {
	case in := <-s.inbox:
		s.pending = &in
		return in.body, nil
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send answers the request returned by the last Recv.
// A write failure only loses that client's reply; the server keeps going.
func (s *TCPServer) Send(ctx context.Context, body []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	in := s.pending
	if in == nil {
		return errors.New("send without a received request")
	}
	s.pending = nil
	if s.shutdown.Load() {
		return ErrClosed
	}

	if err := in.conn.SetWriteDeadline(deadline(ctx, s.cfg.WriteTimeout)); err != nil {
		return err
	}
	if err := s.framer.write(in.conn, protocol.MsgTypeReply, in.seq, body); err != nil {
		_ = in.conn.Close()
		return errors.Wrapf(err, "write reply to %s", in.conn.RemoteAddr())
	}
	return nil
}

// Close stops accepting, closes every connection and waits for the reader goroutines.
func (s *TCPServer) Close() error {
	if !s.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)
	err := s.listener.Close()

	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.sendMu.Lock()
	s.framer.close()
	s.sendMu.Unlock()
	return err
}
