package server

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"reqrep-rpc/codec"
	"reqrep-rpc/log"
	"reqrep-rpc/message"
	"reqrep-rpc/middleware"
)

// Dispatcher maps function names to handlers and turns request bodies into reply bodies.
//
// Binding is safe at any time, including while a server is dispatching: a call
// sees the binding that was current when its name was looked up.
type Dispatcher struct {
	mu          sync.RWMutex
	handlers    map[string]Handler
	middlewares []middleware.Middleware
	chain       middleware.HandlerFunc
}

func NewDispatcher() *Dispatcher {
	d := &Dispatcher{handlers: make(map[string]Handler)}
	d.chain = d.invoke
	return d
}

// Bind binds h under name, replacing any previous binding. A nil h removes it.
func (d *Dispatcher) Bind(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h == nil {
		delete(d.handlers, name)
		return
	}
	d.handlers[name] = h
}

// BindFunc binds an arbitrary function through reflection.
func (d *Dispatcher) BindFunc(name string, fn any) error {
	h, err := Reflect(fn)
	if err != nil {
		return err
	}
	d.Bind(name, h)
	return nil
}

// BindMethod binds method of rcvr under name.
func (d *Dispatcher) BindMethod(name string, rcvr any, method string) error {
	h, err := Method(rcvr, method)
	if err != nil {
		return err
	}
	d.Bind(name, h)
	return nil
}

// Register binds every eligible exported method of rcvr as "Type.Method".
func (d *Dispatcher) Register(rcvr any) error {
	handlers, err := Methods(rcvr)
	if err != nil {
		return err
	}
	prefix := typeName(rcvr)
	d.mu.Lock()
	defer d.mu.Unlock()
	for method, h := range handlers {
		d.handlers[prefix+"."+method] = h
	}
	return nil
}

// Unbind reports whether name was bound.
func (d *Dispatcher) Unbind(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.handlers[name]
	delete(d.handlers, name)
	return ok
}

func (d *Dispatcher) Lookup(name string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[name]
	return h, ok
}

// Names returns the bound names in sorted order.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	names := lo.Keys(d.handlers)
	d.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Use appends middlewares. The first one added is the outermost.
func (d *Dispatcher) Use(mws ...middleware.Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, mws...)
	d.chain = middleware.Chain(d.middlewares...)(d.invoke)
}

// Handle runs req through the middlewares and the bound handler.
func (d *Dispatcher) Handle(ctx context.Context, req *message.Request) *message.Result {
	d.mu.RLock()
	chain := d.chain
	d.mu.RUnlock()
	return chain(ctx, req)
}

// invoke is the innermost handler.
func (d *Dispatcher) invoke(ctx context.Context, req *message.Request) *message.Result {
	h, ok := d.Lookup(req.Name)
	if !ok {
		return message.Fail(message.CodeFunctionNotBound, "function not bind: "+req.Name)
	}
	val, err := h.Invoke(ctx, codec.NewBuffer(req.Args))
	if err != nil {
		return message.Fail(message.CodeDecodeFailed, err.Error())
	}
	return message.OK(val)
}

// Dispatch calls name with the encoded args and returns the encoded reply.
// It never fails: every outcome, including an unencodable result, is a reply.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args []byte) []byte {
	return d.encode(ctx, name, d.Handle(ctx, &message.Request{Name: name, Args: args}))
}

// HandleBody parses a whole request body and dispatches it.
func (d *Dispatcher) HandleBody(ctx context.Context, body []byte) []byte {
	req, err := message.ParseRequest(body)
	if err != nil {
		log.Ctx(ctx).RatedWarn(1, "malformed request", zap.Int("bytes", len(body)), zap.Error(err))
		return message.Reply(message.CodeDecodeFailed, err.Error())
	}
	return d.Dispatch(ctx, req.Name, req.Args)
}

func (d *Dispatcher) encode(ctx context.Context, name string, res *message.Result) (reply []byte) {
	// encoding runs outside the middleware chain, so Recovery does not cover a
	// panicking MarshalRPC
	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).Warn("encode result panicked", log.FieldFunction(name), zap.Any("panic", r))
			reply = message.Reply(message.CodeEncodeFailed, fmt.Sprintf("encode result: %v", r))
		}
	}()
	b := codec.NewBuffer(nil)
	if err := res.Encode(b); err != nil {
		log.Ctx(ctx).Warn("encode result failed", log.FieldFunction(name), zap.Error(err))
		return message.Reply(message.CodeEncodeFailed, err.Error())
	}
	return b.Data()
}
