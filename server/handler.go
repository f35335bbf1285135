package server

import (
	"context"

	"reqrep-rpc/codec"
	"reqrep-rpc/message"
)

// Handler runs one bound function: it decodes the positional arguments from args,
// calls the function and returns its result (message.Void{} when there is none).
// An error means the arguments could not be decoded and the function did not run.
//
// The wire carries no types or count. Running out of bytes is detected, but
// arguments packed with other types of the same total size decode silently into
// wrong values, and extra trailing bytes are ignored.
type Handler interface {
	Invoke(ctx context.Context, args *codec.Buffer) (any, error)
}

// InvokeFunc adapts a plain function to Handler.
type InvokeFunc func(ctx context.Context, args *codec.Buffer) (any, error)

func (f InvokeFunc) Invoke(ctx context.Context, args *codec.Buffer) (any, error) {
	return f(ctx, args)
}

// Typed adapters. Arguments are decoded in declaration order and all of them are
// decoded before the function is called. Method values work as well:
//
//	d.Bind("add", server.Func2(calc.Add))

func Func0[R any](fn func() R) Handler {
	return InvokeFunc(func(context.Context, *codec.Buffer) (any, error) {
		return fn(), nil
	})
}

func Func1[A1, R any](fn func(A1) R) Handler {
	return InvokeFunc(func(_ context.Context, args *codec.Buffer) (any, error) {
		a1, err := codec.Read[A1](args)
		if err != nil {
			return nil, err
		}
		return fn(a1), nil
	})
}

func Func2[A1, A2, R any](fn func(A1, A2) R) Handler {
	return InvokeFunc(func(_ context.Context, args *codec.Buffer) (any, error) {
		a1, err := codec.Read[A1](args)
		if err != nil {
			return nil, err
		}
		a2, err := codec.Read[A2](args)
		if err != nil {
			return nil, err
		}
		return fn(a1, a2), nil
	})
}

func Func3[A1, A2, A3, R any](fn func(A1, A2, A3) R) Handler {
	return InvokeFunc(func(_ context.Context, args *codec.Buffer) (any, error) {
		a1, err := codec.Read[A1](args)
		if err != nil {
			return nil, err
		}
		a2, err := codec.Read[A2](args)
		if err != nil {
			return nil, err
		}
		a3, err := codec.Read[A3](args)
		if err != nil {
			return nil, err
		}
		return fn(a1, a2, a3), nil
	})
}

func Func4[A1, A2, A3, A4, R any](fn func(A1, A2, A3, A4) R) Handler {
	return InvokeFunc(func(_ context.Context, args *codec.Buffer) (any, error) {
		a1, err := codec.Read[A1](args)
		if err != nil {
			return nil, err
		}
		a2, err := codec.Read[A2](args)
		if err != nil {
			return nil, err
		}
		a3, err := codec.Read[A3](args)
		if err != nil {
			return nil, err
		}
		a4, err := codec.Read[A4](args)
		if err != nil {
			return nil, err
		}
		return fn(a1, a2, a3, a4), nil
	})
}

// Proc adapters are for functions without a result; the reply payload is Void.

func Proc0(fn func()) Handler {
	return InvokeFunc(func(context.Context, *codec.Buffer) (any, error) {
		fn()
		return message.Void{}, nil
	})
}

func Proc1[A1 any](fn func(A1)) Handler {
	return Func1(func(a1 A1) message.Void {
		fn(a1)
		return message.Void{}
	})
}

func Proc2[A1, A2 any](fn func(A1, A2)) Handler {
	return Func2(func(a1 A1, a2 A2) message.Void {
		fn(a1, a2)
		return message.Void{}
	})
}

func Proc3[A1, A2, A3 any](fn func(A1, A2, A3)) Handler {
	return Func3(func(a1 A1, a2 A2, a3 A3) message.Void {
		fn(a1, a2, a3)
		return message.Void{}
	})
}

func Proc4[A1, A2, A3, A4 any](fn func(A1, A2, A3, A4)) Handler {
	return Func4(func(a1 A1, a2 A2, a3 A3, a4 A4) message.Void {
		fn(a1, a2, a3, a4)
		return message.Void{}
	})
}
