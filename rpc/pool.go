package rpc

import (
	"context"

	"reqrep-rpc/message"
	"reqrep-rpc/transport"
)

// ClientPool keeps up to size client facades connected to one server so that
// several goroutines can call in parallel, each on its own connection.
type ClientPool struct {
	pool *transport.Pool[*RPC]
}

func NewClientPool(addr string, size int, opts ...Option) (*ClientPool, error) {
	pool, err := transport.NewPool(size, func(ctx context.Context) (*RPC, error) {
		r := New(opts...)
		if err := r.AsClient(ctx, addr); err != nil {
			return nil, err
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return &ClientPool{pool: pool}, nil
}

// Get borrows a client, dialing a new one while the pool is below its size.
func (p *ClientPool) Get(ctx context.Context) (*RPC, error) {
	return p.pool.Get(ctx)
}

// Put returns r; a broken client is closed instead of reused.
func (p *ClientPool) Put(r *RPC, broken bool) {
	p.pool.Put(r, broken)
}

func (p *ClientPool) Len() int {
	return p.pool.Len()
}

func (p *ClientPool) Close() error {
	return p.pool.Close()
}

// PoolCall borrows a client for one call. A client whose call failed locally is discarded.
func PoolCall[R any](ctx context.Context, p *ClientPool, name string, args ...any) (message.Value[R], error) {
	r, err := p.Get(ctx)
	if err != nil {
		return message.Value[R]{}, err
	}
	v, err := Call[R](ctx, r, name, args...)
	p.Put(r, err != nil)
	return v, err
}
