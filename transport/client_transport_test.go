package transport

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reqrep-rpc/merr"
	"reqrep-rpc/protocol"
)

// echoServer answers every request with reply(body) after delay(body).
func echoServer(t *testing.T, srv ServerTransport, delay func([]byte) time.Duration) {
	t.Helper()
	go func() {
		ctx := context.Background()
		for {
			body, err := srv.Recv(ctx)
			if err != nil {
				return
			}
			if delay != nil {
				time.Sleep(delay(body))
			}
			reply := append([]byte("re:"), body...)
			if err := srv.Send(ctx, reply); err != nil && errors.Is(err, ErrClosed) {
				return
			}
		}
	}()
}

func listen(t *testing.T, cfg Config) *TCPServer {
	t.Helper()
	srv, err := Listen("127.0.0.1:0", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

// 测试单连接上串行发送多个请求
func TestTCPSerial(t *testing.T) {
	srv := listen(t, DefaultConfig())
	echoServer(t, srv, nil)

	ctx := context.Background()
	cli, err := Dial(ctx, srv.Addr().String(), DefaultConfig())
	require.NoError(t, err)
	defer cli.Close()

	for _, msg := range []string{"a", "bb", "ccc"} {
		require.NoError(t, cli.Send(ctx, []byte(msg)))
		reply, err := cli.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, "re:"+msg, string(reply))
	}
}

// 多个客户端连接同一个 server，回复不会串台
func TestTCPManyClients(t *testing.T) {
	srv := listen(t, DefaultConfig())
	echoServer(t, srv, nil)

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id byte) {
			defer wg.Done()
			cli, err := Dial(ctx, srv.Addr().String(), DefaultConfig())
			if !assert.NoError(t, err) {
				return
			}
			defer cli.Close()
			for j := 0; j < 20; j++ {
				body := []byte{id, byte(j)}
				if !assert.NoError(t, cli.Send(ctx, body)) {
					return
				}
				reply, err := cli.Recv(ctx)
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, append([]byte("re:"), body...), reply)
			}
		}(byte(i))
	}
	wg.Wait()
}

func TestTCPRecvTimeoutThenRecover(t *testing.T) {
	srv := listen(t, DefaultConfig())
	echoServer(t, srv, func(body []byte) time.Duration {
		if string(body) == "slow" {
			return 300 * time.Millisecond
		}
		return 0
	})

	ctx := context.Background()
	cli, err := Dial(ctx, srv.Addr().String(), DefaultConfig())
	require.NoError(t, err)
	defer cli.Close()
	cli.SetRecvTimeout(50 * time.Millisecond)

	start := time.Now()
	require.NoError(t, cli.Send(ctx, []byte("slow")))
	_, err = cli.Recv(ctx)
	assert.True(t, errors.Is(err, ErrRecvTimeout))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// the late reply to "slow" must not be taken as the answer to "fast"
	cli.SetRecvTimeout(2 * time.Second)
	require.NoError(t, cli.Send(ctx, []byte("fast")))
	reply, err := cli.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "re:fast", string(reply))
}

func TestTCPContextCancel(t *testing.T) {
	srv := listen(t, DefaultConfig())
	echoServer(t, srv, func([]byte) time.Duration { return time.Second })

	cli, err := Dial(context.Background(), srv.Addr().String(), DefaultConfig())
	require.NoError(t, err)
	defer cli.Close()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, cli.Send(ctx, []byte("x")))
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err = cli.Recv(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTCPCompression(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Compress = true
	cfg.CompressThreshold = 16

	srv := listen(t, cfg)
	echoServer(t, srv, nil)

	ctx := context.Background()
	// client does not compress but must still read compressed replies
	cli, err := Dial(ctx, srv.Addr().String(), DefaultConfig())
	require.NoError(t, err)
	defer cli.Close()

	big := bytes.Repeat([]byte("compressible "), 500)
	require.NoError(t, cli.Send(ctx, big))
	reply, err := cli.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, append([]byte("re:"), big...), reply)
}

func TestCompressedBodyOverLimit(t *testing.T) {
	wcfg := DefaultConfig()
	wcfg.Compress = true
	wcfg.CompressThreshold = 0
	w, err := newFramer(wcfg, "client")
	require.NoError(t, err)
	defer w.close()

	rcfg := DefaultConfig()
	rcfg.MaxBodyLen = 1 << 20
	r, err := newFramer(rcfg, "server")
	require.NoError(t, err)
	defer r.close()

	// zeros shrink far below the wire limit but expand past it
	var wire bytes.Buffer
	require.NoError(t, w.write(&wire, protocol.MsgTypeRequest, 1, make([]byte, 4<<20)))
	require.Less(t, wire.Len(), 1<<20)
	_, _, err = r.read(&wire)
	assert.ErrorIs(t, err, merr.ErrFrameTooLarge)

	wire.Reset()
	small := bytes.Repeat([]byte("fits "), 1000)
	require.NoError(t, w.write(&wire, protocol.MsgTypeRequest, 2, small))
	h, body, err := r.read(&wire)
	require.NoError(t, err)
	assert.True(t, h.Compressed())
	assert.Equal(t, small, body)
}

func TestTCPClosed(t *testing.T) {
	srv := listen(t, DefaultConfig())
	ctx := context.Background()
	cli, err := Dial(ctx, srv.Addr().String(), DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, cli.Close())
	require.NoError(t, cli.Close())
	assert.ErrorIs(t, cli.Send(ctx, []byte("x")), ErrClosed)
	_, err = cli.Recv(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	require.NoError(t, srv.Close())
	_, err = srv.Recv(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDialRefused(t *testing.T) {
	srv := listen(t, DefaultConfig())
	addr := srv.Addr().String()
	require.NoError(t, srv.Close())

	_, err := Dial(context.Background(), addr, DefaultConfig())
	assert.Error(t, err)
}

func TestServerSendWithoutRecv(t *testing.T) {
	srv := listen(t, DefaultConfig())
	assert.Error(t, srv.Send(context.Background(), []byte("x")))
}
