// Package transport moves opaque request and reply bodies between a client and a server
// with strict request/reply alternation.
//
// A client sends one request and then waits for exactly one reply. A server
// receives one request and must answer it before it receives the next:
//
//	client: Send → Recv → Send → Recv ...
//	server: Recv → Send → Recv → Send ...
//
// Two implementations are provided: TCP (Dial / Listen) using the frames of
// package protocol, and an in-memory Pipe for tests and same-process use.
package transport

import (
	"context"
	"net"
	"time"

	"reqrep-rpc/merr"
	"reqrep-rpc/protocol"
)

// ErrRecvTimeout is returned by ClientTransport.Recv when no reply arrived in time.
var ErrRecvTimeout = merr.ErrRecvTimeout

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = merr.ErrTransportClosed

// ClientTransport is the requesting side.
type ClientTransport interface {
	// Send transmits one request body.
	Send(ctx context.Context, body []byte) error
	// Recv blocks for the reply to the last Send. It returns ErrRecvTimeout
	// once the receive timeout elapses.
	Recv(ctx context.Context) ([]byte, error)
	// SetRecvTimeout bounds Recv; 0 waits forever.
	SetRecvTimeout(d time.Duration)
	Close() error
}

// ServerTransport is the replying side. Each Send answers the request returned
// by the preceding Recv.
type ServerTransport interface {
	Recv(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, body []byte) error
	Addr() net.Addr
	Close() error
}

// Config tunes the TCP transport.
type Config struct {
	DialTimeout  time.Duration `mapstructure:"dial-timeout"`
	RecvTimeout  time.Duration `mapstructure:"recv-timeout"`
	WriteTimeout time.Duration `mapstructure:"write-timeout"`
	MaxBodyLen   uint32        `mapstructure:"max-body-len"`
	// Compress enables zstd for bodies of at least CompressThreshold bytes.
	Compress          bool `mapstructure:"compress"`
	CompressThreshold int  `mapstructure:"compress-threshold"`
	// InboxSize is how many received requests a server buffers ahead of Recv.
	InboxSize int `mapstructure:"inbox-size"`
}

func DefaultConfig() Config {
	return Config{
		DialTimeout:       3 * time.Second,
		WriteTimeout:      5 * time.Second,
		MaxBodyLen:        protocol.DefaultMaxBodyLen,
		CompressThreshold: 1024,
		InboxSize:         64,
	}
}

// deadline returns the earlier of now+d and the deadline of ctx, zero if neither is set.
func deadline(ctx context.Context, d time.Duration) time.Time {
	var t time.Time
	if d > 0 {
		t = time.Now().Add(d)
	}
	if cd, ok := ctx.Deadline(); ok && (t.IsZero() || cd.Before(t)) {
		t = cd
	}
	return t
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
