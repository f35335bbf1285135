package test

import (
	"context"
	"testing"
	"time"

	"reqrep-rpc/client"
	"reqrep-rpc/codec"
	"reqrep-rpc/message"
	"reqrep-rpc/rpc"
	"reqrep-rpc/server"
	"reqrep-rpc/transport"
)

func setupServerAndClient(b *testing.B) (*rpc.RPC, *rpc.ClientPool) {
	srv := rpc.New()
	if err := srv.Dispatcher().Register(&Arith{}); err != nil {
		b.Fatal(err)
	}
	if err := srv.AsServer("127.0.0.1:0"); err != nil {
		b.Fatal(err)
	}
	go srv.Run(context.Background())

	pool, err := rpc.NewClientPool(srv.Addr(), 8, rpc.WithTimeout(3*time.Second))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() {
		pool.Close()
		srv.Close()
	})
	return srv, pool
}

// ---- Benchmark ----

// 场景1: 单 goroutine 串行调用
func BenchmarkSerialCall(b *testing.B) {
	_, pool := setupServerAndClient(b)
	cli, err := pool.Get(context.Background())
	if err != nil {
		b.Fatal(err)
	}
	defer pool.Put(cli, false)

	args := Args{A: 1, B: 2}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := rpc.Call[int](context.Background(), cli, "Arith.Add", args); err != nil {
			b.Fatal(err)
		}
	}
}

// 场景2: 多 goroutine 并发调用（每个 goroutine 借用自己的连接）
func BenchmarkConcurrentCall(b *testing.B) {
	_, pool := setupServerAndClient(b)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		args := Args{A: 1, B: 2}
		for pb.Next() {
			if _, err := rpc.PoolCall[int](context.Background(), pool, "Arith.Add", args); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// 场景3: 进程内管道，去掉网络开销
func BenchmarkPipeCall(b *testing.B) {
	d := server.NewDispatcher()
	d.Bind("add", server.Func2(func(a, b int) int { return a + b }))
	pc, ps := transport.Pipe()
	svr := server.NewServer(d, ps)
	go svr.Serve(context.Background())
	b.Cleanup(func() { svr.Shutdown(context.Background(), time.Second) })

	cli := client.New(pc)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := client.Call[int](context.Background(), cli, "add", 1, 2); err != nil {
			b.Fatal(err)
		}
	}
}

// 场景4: 纯编解码（Pack + Dispatch + 解信封），不走 transport
func BenchmarkCodecRoundTrip(b *testing.B) {
	d := server.NewDispatcher()
	d.Bind("add", server.Func2(func(a, b int) int { return a + b }))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req, _ := client.Pack("add", 1, 2)
		reply := d.HandleBody(context.Background(), req.Data())
		if _, err := message.DecodeValue[int](codec.NewBuffer(reply)); err != nil {
			b.Fatal(err)
		}
	}
}

// 场景5: 反射路径对比泛型适配器
func BenchmarkReflectHandler(b *testing.B) {
	d := server.NewDispatcher()
	if err := d.BindFunc("add", func(a, b int) int { return a + b }); err != nil {
		b.Fatal(err)
	}
	req, _ := client.Pack("add", 1, 2)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.HandleBody(context.Background(), req.Data())
	}
}
