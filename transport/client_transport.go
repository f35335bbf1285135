package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"reqrep-rpc/log"
	"reqrep-rpc/protocol"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// TCPClient is a ClientTransport over a single TCP connection.
//
// Every request carries a sequence number and the reply echoes it. Recv drops
// frames whose sequence does not match the last request, so a reply that
// arrives after its caller gave up is never taken as the answer to a later call.
// After a receive timeout or any I/O error the connection is discarded and the
// next Send dials again.
type TCPClient struct {
	addr   string
	cfg    Config
	framer *framer
	logger *log.MLogger

	ioMu        sync.Mutex // one Send or Recv at a time
	seq         uint32     // seq of the last request sent, guarded by ioMu
	recvTimeout atomic.Duration

	mu     sync.Mutex // guards conn
	conn   net.Conn   // nil until dialed or after a failure
	closed atomic.Bool
}

var _ ClientTransport = (*TCPClient)(nil)

// Dial connects to addr.
func Dial(ctx context.Context, addr string, cfg Config) (*TCPClient, error) {
	f, err := newFramer(cfg, "client")
	if err != nil {
		return nil, err
	}
	t := &TCPClient{
		addr:   addr,
		cfg:    cfg,
		framer: f,
		logger: log.With(log.FieldComponent("tcp-client"), log.FieldAddr(addr)),
	}
	t.recvTimeout.Store(cfg.RecvTimeout)
	if _, err := t.getConn(ctx); err != nil {
		f.close()
		return nil, err
	}
	return t, nil
}

// getConn returns the live connection, dialing if there is none.
func (t *TCPClient) getConn(ctx context.Context) (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return nil, ErrClosed
	}
	if t.conn != nil {
		return t.conn, nil
	}
	d := net.Dialer{Timeout: t.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", t.addr)
	}
	t.conn = conn
	return conn, nil
}

// drop closes conn if it is still the current connection.
func (t *TCPClient) drop(conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil && t.conn == conn {
		_ = t.conn.Close()
		t.conn = nil
	}
}

func (t *TCPClient) SetRecvTimeout(d time.Duration) {
	t.recvTimeout.Store(d)
}

// Send writes one request frame, redialing first if the previous exchange failed.
func (t *TCPClient) Send(ctx context.Context, body []byte) error {
	t.ioMu.Lock()
	defer t.ioMu.Unlock()

	conn, err := t.getConn(ctx)
	if err != nil {
		return err
	}

	t.seq++
	if err := conn.SetWriteDeadline(deadline(ctx, t.cfg.WriteTimeout)); err != nil {
		t.drop(conn)
		return err
	}
	if err := t.framer.write(conn, protocol.MsgTypeRequest, t.seq, body); err != nil {
		t.drop(conn)
		return errors.Wrap(err, "write request")
	}
	return nil
}

// Recv waits for the reply to the last Send.
func (t *TCPClient) Recv(ctx context.Context) ([]byte, error) {
	t.ioMu.Lock()
	defer t.ioMu.Unlock()

	if t.closed.Load() {
		return nil, ErrClosed
	}
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil, errors.New("recv without a pending request")
	}

	if err := conn.SetReadDeadline(deadline(ctx, t.recvTimeout.Load())); err != nil {
		t.drop(conn)
		return nil, err
	}
	// unblock the read when ctx is cancelled
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		h, body, err := t.framer.read(conn)
		if err != nil {
			t.drop(conn)
			switch {
			case t.closed.Load():
				return nil, ErrClosed
			case ctx.Err() != nil:
				return nil, ctx.Err()
			case isTimeout(err):
				return nil, ErrRecvTimeout
			default:
				return nil, errors.Wrap(err, "read reply")
			}
		}
		if h.MsgType != protocol.MsgTypeReply || h.Seq != t.seq {
			t.logger.RatedWarn(1, "drop stale frame", zap.Uint32("seq", h.Seq), zap.Uint32("want", t.seq))
			continue
		}
		return body, nil
	}
}

// Close closes the connection and unblocks a pending Recv. Further calls return ErrClosed.
func (t *TCPClient) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.mu.Lock()
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	t.mu.Unlock()

	t.ioMu.Lock()
	t.framer.close()
	t.ioMu.Unlock()
	return nil
}

// Addr returns the dialed address.
func (t *TCPClient) Addr() string {
	return t.addr
}
