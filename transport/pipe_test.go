package transport

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeExchange(t *testing.T) {
	cli, srv := Pipe()
	defer cli.Close()
	echoServer(t, srv, nil)

	ctx := context.Background()
	for _, msg := range []string{"one", "two"} {
		require.NoError(t, cli.Send(ctx, []byte(msg)))
		reply, err := cli.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, "re:"+msg, string(reply))
	}
	assert.Equal(t, "pipe", srv.Addr().String())
}

func TestPipeTimeout(t *testing.T) {
	cli, srv := Pipe()
	defer cli.Close()
	echoServer(t, srv, nil)
	cli.Reliable(false)
	cli.SetRecvTimeout(40 * time.Millisecond)

	ctx := context.Background()
	start := time.Now()
	require.NoError(t, cli.Send(ctx, []byte("lost")))
	_, err := cli.Recv(ctx)
	assert.ErrorIs(t, err, ErrRecvTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	cli.Reliable(true)
	require.NoError(t, cli.Send(ctx, []byte("back")))
	reply, err := cli.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "re:back", string(reply))
}

func TestPipeClose(t *testing.T) {
	cli, srv := Pipe()
	require.NoError(t, srv.Close())

	_, err := cli.Recv(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	_, err = srv.Recv(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

type fakeConn struct {
	id     int
	closed atomic.Bool
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

var _ io.Closer = (*fakeConn)(nil)

func TestPool(t *testing.T) {
	created := 0
	pool, err := NewPool(2, func(context.Context) (*fakeConn, error) {
		created++
		return &fakeConn{id: created}, nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	a, err := pool.Get(ctx)
	require.NoError(t, err)
	b, err := pool.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Len())

	// at capacity: Get waits until ctx expires
	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	_, err = pool.Get(waitCtx)
	cancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	pool.Put(a, false)
	again, err := pool.Get(ctx)
	require.NoError(t, err)
	assert.Same(t, a, again)

	// broken resources are closed and free a slot
	pool.Put(b, true)
	assert.True(t, b.closed.Load())
	assert.Equal(t, 1, pool.Len())

	pool.Put(again, false)
	require.NoError(t, pool.Close())
	assert.True(t, a.closed.Load())
	_, err = pool.Get(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = NewPool(0, func(context.Context) (*fakeConn, error) { return nil, nil })
	assert.Error(t, err)
}

func TestPoolWakesWaiterOnDiscard(t *testing.T) {
	var created atomic.Int32
	pool, err := NewPool(1, func(context.Context) (*fakeConn, error) {
		return &fakeConn{id: int(created.Add(1))}, nil
	})
	require.NoError(t, err)
	defer pool.Close()

	ctx := context.Background()
	held, err := pool.Get(ctx)
	require.NoError(t, err)

	got := make(chan *fakeConn, 1)
	go func() {
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		c, err := pool.Get(waitCtx)
		if err != nil {
			got <- nil
			return
		}
		got <- c
	}()

	// let the waiter block on the full pool before the slot is freed
	time.Sleep(50 * time.Millisecond)
	pool.Put(held, true)

	select {
	case c := <-got:
		require.NotNil(t, c)
		assert.Equal(t, 2, c.id)
		assert.Equal(t, 1, pool.Len())
		pool.Put(c, false)
	case <-time.After(3 * time.Second):
		t.Fatal("waiter was not woken by a discarded resource")
	}
}
