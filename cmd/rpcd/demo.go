package main

import (
	"context"
	"strings"

	"reqrep-rpc/log"
	"reqrep-rpc/rpc"
	"reqrep-rpc/server"
)

type Greeter struct {
	Greeting string
}

func (g *Greeter) Greet(ctx context.Context, name string) string {
	log.Ctx(ctx).Debug("greet " + name)
	return g.Greeting + ", " + name
}

// bindDemo installs the functions served by rpcd.
func bindDemo(r *rpc.RPC) error {
	r.Bind("add", server.Func2(func(a, b int) int { return a + b }))
	r.Bind("echo", server.Func1(func(s string) string { return s }))
	r.Bind("upper", server.Func1(strings.ToUpper))
	r.Bind("sum", server.Func1(func(xs []float64) float64 {
		var total float64
		for _, x := range xs {
			total += x
		}
		return total
	}))
	r.Bind("ping", server.Proc0(func() {}))
	return r.BindMethod("greet", &Greeter{Greeting: "hello"}, "Greet")
}
