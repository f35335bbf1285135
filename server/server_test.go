package server

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reqrep-rpc/codec"
	"reqrep-rpc/message"
	"reqrep-rpc/middleware"
	"reqrep-rpc/registry"
	"reqrep-rpc/transport"
)

type Point struct {
	X, Y int32
}

type Arith struct {
	calls int
}

func (a *Arith) Add(x, y int) int {
	a.calls++
	return x + y
}

func (a *Arith) Neg(ctx context.Context, p Point) Point {
	return Point{X: -p.X, Y: -p.Y}
}

func (a *Arith) Reset() {
	a.calls = 0
}

// DivMod has two results and cannot be bound.
func (a *Arith) DivMod(x, y int) (int, int) {
	return x / y, x % y
}

func encodeArgs(t *testing.T, args ...any) []byte {
	t.Helper()
	b := codec.NewBuffer(nil)
	require.NoError(t, codec.EncodeArgs(b, args...))
	return b.Data()
}

func requestBody(t *testing.T, name string, args ...any) []byte {
	t.Helper()
	b := codec.NewBuffer(nil)
	b.WriteString(name)
	require.NoError(t, codec.EncodeArgs(b, args...))
	return b.Data()
}

func decodeReply[R any](t *testing.T, body []byte) message.Value[R] {
	t.Helper()
	v, err := message.DecodeValue[R](codec.NewBuffer(body))
	require.NoError(t, err)
	return v
}

func TestDispatchTyped(t *testing.T) {
	d := NewDispatcher()
	d.Bind("add", Func2(func(a, b int) int { return a + b }))
	d.Bind("greet", Func1(func(name string) string { return "hello " + name }))
	d.Bind("pi", Func0(func() float64 { return 3.14 }))

	v := decodeReply[int](t, d.Dispatch(context.Background(), "add", encodeArgs(t, 2, 3)))
	assert.Equal(t, message.CodeSuccess, v.ErrorCode())
	assert.Equal(t, "", v.ErrorMsg())
	assert.Equal(t, 5, v.Val())

	s := decodeReply[string](t, d.Dispatch(context.Background(), "greet", encodeArgs(t, "bob")))
	assert.Equal(t, "hello bob", s.Val())

	f := decodeReply[float64](t, d.Dispatch(context.Background(), "pi", nil))
	assert.Equal(t, 3.14, f.Val())
}

func TestDispatchNotBound(t *testing.T) {
	d := NewDispatcher()
	body := d.Dispatch(context.Background(), "missing", nil)
	v := decodeReply[int](t, body)
	assert.Equal(t, message.CodeFunctionNotBound, v.ErrorCode())
	assert.Equal(t, "function not bind: missing", v.ErrorMsg())
	// no payload after a failure envelope
	assert.Equal(t, message.Reply(message.CodeFunctionNotBound, "function not bind: missing"), body)
}

func TestDispatchDecodeFailed(t *testing.T) {
	d := NewDispatcher()
	called := false
	d.Bind("add", Func2(func(a, b int) int { called = true; return a + b }))

	// only one of two arguments
	v := decodeReply[int](t, d.Dispatch(context.Background(), "add", encodeArgs(t, 2)))
	assert.Equal(t, message.CodeDecodeFailed, v.ErrorCode())
	assert.NotEmpty(t, v.ErrorMsg())
	assert.False(t, called)

	// trailing bytes are ignored
	v = decodeReply[int](t, d.Dispatch(context.Background(), "add", encodeArgs(t, 2, 3, 4)))
	assert.Equal(t, 5, v.Val())
}

func TestDispatchProcReturnsVoid(t *testing.T) {
	d := NewDispatcher()
	var got string
	d.Bind("log", Proc1(func(s string) { got = s }))

	body := d.Dispatch(context.Background(), "log", encodeArgs(t, "line"))
	v := decodeReply[message.Void](t, body)
	assert.True(t, v.Valid())
	assert.Equal(t, "line", got)
	// code 0, empty message, no payload
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0}, body)
}

func TestRebindAndUnbind(t *testing.T) {
	d := NewDispatcher()
	d.Bind("f", Func0(func() int { return 1 }))
	d.Bind("f", Func0(func() int { return 2 }))
	assert.Equal(t, 2, decodeReply[int](t, d.Dispatch(context.Background(), "f", nil)).Val())

	assert.True(t, d.Unbind("f"))
	assert.False(t, d.Unbind("f"))
	assert.Equal(t, message.CodeFunctionNotBound,
		decodeReply[int](t, d.Dispatch(context.Background(), "f", nil)).ErrorCode())

	d.Bind("g", Func0(func() int { return 3 }))
	d.Bind("g", nil)
	_, ok := d.Lookup("g")
	assert.False(t, ok)
}

func TestReflectAndMethod(t *testing.T) {
	d := NewDispatcher()
	arith := &Arith{}
	require.NoError(t, d.BindMethod("add", arith, "Add"))
	require.NoError(t, d.BindMethod("neg", arith, "Neg"))
	require.NoError(t, d.BindFunc("concat", func(a string, b []string) string {
		return a + strings.Join(b, "")
	}))

	assert.Equal(t, 7, decodeReply[int](t, d.Dispatch(context.Background(), "add", encodeArgs(t, 3, 4))).Val())
	assert.Equal(t, 1, arith.calls)

	p := decodeReply[Point](t, d.Dispatch(context.Background(), "neg", encodeArgs(t, Point{X: 1, Y: -2})))
	assert.Equal(t, Point{X: -1, Y: 2}, p.Val())

	s := decodeReply[string](t, d.Dispatch(context.Background(), "concat", encodeArgs(t, "a", []string{"b", "c"})))
	assert.Equal(t, "abc", s.Val())

	assert.Error(t, d.BindMethod("x", arith, "Missing"))
	assert.Error(t, d.BindMethod("x", arith, "DivMod"))
	assert.Error(t, d.BindFunc("x", 42))
	assert.Error(t, d.BindFunc("x", func(xs ...int) int { return len(xs) }))
}

func TestRegisterReceiver(t *testing.T) {
	d := NewDispatcher()
	require.NoError(t, d.Register(&Arith{}))
	assert.Equal(t, []string{"Arith.Add", "Arith.Neg", "Arith.Reset"}, d.Names())

	v := decodeReply[message.Void](t, d.Dispatch(context.Background(), "Arith.Reset", nil))
	assert.True(t, v.Valid())
}

func TestMalformedRequest(t *testing.T) {
	d := NewDispatcher()
	v := decodeReply[int](t, d.HandleBody(context.Background(), []byte{0, 0}))
	assert.Equal(t, message.CodeDecodeFailed, v.ErrorCode())
}

func TestUnencodableResult(t *testing.T) {
	d := NewDispatcher()
	d.Bind("ch", Func0(func() chan int { return make(chan int) }))
	v := decodeReply[int](t, d.Dispatch(context.Background(), "ch", nil))
	assert.Equal(t, message.CodeEncodeFailed, v.ErrorCode())
}

type blob struct {
	data []byte
}

func (b *blob) MarshalRPC(buf *codec.Buffer) error {
	buf.WriteBytes(b.data)
	return nil
}

type faultyResult struct{}

func (faultyResult) MarshalRPC(*codec.Buffer) error {
	panic("marshal exploded")
}

func TestNilMarshalerResult(t *testing.T) {
	d := NewDispatcher()
	d.Bind("blob", Func0(func() *blob { return nil }))
	v := decodeReply[[]byte](t, d.Dispatch(context.Background(), "blob", nil))
	assert.Equal(t, message.CodeEncodeFailed, v.ErrorCode())

	d.Bind("blob", Func0(func() *blob { return &blob{data: []byte("ok")} }))
	v = decodeReply[[]byte](t, d.Dispatch(context.Background(), "blob", nil))
	require.Equal(t, message.CodeSuccess, v.ErrorCode())
	assert.Equal(t, []byte("ok"), v.Val())
}

func TestPanickingMarshalerResult(t *testing.T) {
	d := NewDispatcher()
	d.Bind("faulty", Func0(func() faultyResult { return faultyResult{} }))
	d.Use(middleware.RecoveryMiddleware())

	var reply []byte
	require.NotPanics(t, func() {
		reply = d.Dispatch(context.Background(), "faulty", nil)
	})
	v := decodeReply[int](t, reply)
	assert.Equal(t, message.CodeEncodeFailed, v.ErrorCode())
	assert.Contains(t, v.ErrorMsg(), "marshal exploded")
}

func TestMiddlewareOrder(t *testing.T) {
	d := NewDispatcher()
	d.Bind("boom", Func0(func() int { panic("bad") }))
	d.Use(middleware.RecoveryMiddleware())

	v := decodeReply[int](t, d.Dispatch(context.Background(), "boom", nil))
	assert.Equal(t, message.CodeHandlerPanic, v.ErrorCode())
	assert.Contains(t, v.ErrorMsg(), "bad")
}

func TestServeOverPipe(t *testing.T) {
	d := NewDispatcher()
	d.Bind("add", Func2(func(a, b int) int { return a + b }))

	cli, srvT := transport.Pipe()
	reg := registry.NewMemoryRegistry()
	svr := NewServer(d, srvT, WithRegistry(reg, "calc", "", 10))

	ctx := context.Background()
	errCh := make(chan error, 1)
	go func() { errCh <- svr.Serve(ctx) }()

	cli.SetRecvTimeout(time.Second)
	for i := 0; i < 3; i++ {
		require.NoError(t, cli.Send(ctx, requestBody(t, "add", i, 10)))
		reply, err := cli.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, i+10, decodeReply[int](t, reply).Val())
	}

	require.NoError(t, cli.Send(ctx, []byte{1}))
	reply, err := cli.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, message.CodeDecodeFailed, decodeReply[int](t, reply).ErrorCode())

	instances, err := reg.Discover(ctx, "calc")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "pipe", instances[0].Addr)

	require.NoError(t, svr.Shutdown(ctx, time.Second))
	require.NoError(t, <-errCh)

	instances, err = reg.Discover(ctx, "calc")
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestServeStopsOnCancel(t *testing.T) {
	_, srvT := transport.Pipe()
	svr := NewServer(NewDispatcher(), srvT)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svr.Serve(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("serve did not return after cancel")
	}
	assert.Error(t, svr.Serve(context.Background()))
}

func TestServeAfterShutdown(t *testing.T) {
	_, srvT := transport.Pipe()
	reg := registry.NewMemoryRegistry()
	svr := NewServer(NewDispatcher(), srvT, WithRegistry(reg, "calc", "pipe", 10))

	ctx := context.Background()
	require.NoError(t, svr.Shutdown(ctx, time.Second))
	assert.ErrorIs(t, svr.Serve(ctx), transport.ErrClosed)

	instances, err := reg.Discover(ctx, "calc")
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestServeTCP(t *testing.T) {
	d := NewDispatcher()
	d.Bind("echo", Func1(func(s string) string { return s }))

	srvT, err := transport.Listen("127.0.0.1:0", transport.DefaultConfig())
	require.NoError(t, err)
	svr := NewServer(d, srvT)
	go func() { _ = svr.Serve(context.Background()) }()
	defer svr.Shutdown(context.Background(), time.Second)

	ctx := context.Background()
	cli, err := transport.Dial(ctx, srvT.Addr().String(), transport.DefaultConfig())
	require.NoError(t, err)
	defer cli.Close()

	require.NoError(t, cli.Send(ctx, requestBody(t, "echo", "over tcp")))
	reply, err := cli.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "over tcp", decodeReply[string](t, reply).Val())
}
