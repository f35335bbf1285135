package server

import (
	"context"
	"fmt"
	"reflect"

	"reqrep-rpc/codec"
	"reqrep-rpc/merr"
	"reqrep-rpc/message"
)

var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()

// funcHandler calls a function through reflection. Any arity is accepted; the
// function may return nothing or one value, and may take a context.Context
// first, which is filled from the dispatch context instead of the wire.
type funcHandler struct {
	fn       reflect.Value
	rcvr     reflect.Value // set for methods, passed as the first argument
	withCtx  bool
	argTypes []reflect.Type
	result   bool
}

// Reflect wraps an arbitrary function value.
func Reflect(fn any) (Handler, error) {
	fnv := reflect.ValueOf(fn)
	if fnv.Kind() != reflect.Func || fnv.IsNil() {
		return nil, merr.WrapErrInvalidHandler(fmt.Sprintf("%T", fn), "not a function")
	}
	return newFuncHandler(fnv, reflect.Value{}, 0)
}

// Method binds the exported method name of rcvr. The receiver is retained and
// every call goes to the same instance.
func Method(rcvr any, name string) (Handler, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil {
		return nil, merr.WrapErrInvalidHandler(name, "nil receiver")
	}
	m, ok := typ.MethodByName(name)
	if !ok {
		return nil, merr.WrapErrMethodNotFound(typ.String(), name)
	}
	return newFuncHandler(m.Func, reflect.ValueOf(rcvr), 1)
}

// Methods returns a handler for every exported method of rcvr that can be bound,
// keyed by method name. Methods with more than one result are skipped.
func Methods(rcvr any) (map[string]Handler, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil {
		return nil, merr.WrapErrInvalidHandler("", "nil receiver")
	}
	handlers := make(map[string]Handler)
	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		h, err := newFuncHandler(m.Func, reflect.ValueOf(rcvr), 1)
		if err != nil {
			continue
		}
		handlers[m.Name] = h
	}
	return handlers, nil
}

// typeName returns the bare type name of rcvr, looking through pointers.
func typeName(rcvr any) string {
	typ := reflect.TypeOf(rcvr)
	for typ != nil && typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ == nil {
		return ""
	}
	return typ.Name()
}

// skip is the number of leading parameters that are not wire arguments (the receiver).
func newFuncHandler(fnv reflect.Value, rcvr reflect.Value, skip int) (*funcHandler, error) {
	t := fnv.Type()
	if t.IsVariadic() {
		return nil, merr.WrapErrInvalidHandler(t.String(), "variadic functions are not supported")
	}
	if t.NumOut() > 1 {
		return nil, merr.WrapErrInvalidHandler(t.String(), "at most one result is supported")
	}

	h := &funcHandler{fn: fnv, rcvr: rcvr, result: t.NumOut() == 1}
	first := skip
	if t.NumIn() > first && t.In(first) == contextType {
		h.withCtx = true
		first++
	}
	for i := first; i < t.NumIn(); i++ {
		h.argTypes = append(h.argTypes, t.In(i))
	}
	return h, nil
}

func (h *funcHandler) Invoke(ctx context.Context, args *codec.Buffer) (any, error) {
	in := make([]reflect.Value, 0, len(h.argTypes)+2)
	if h.rcvr.IsValid() {
		in = append(in, h.rcvr)
	}
	if h.withCtx {
		in = append(in, reflect.ValueOf(&ctx).Elem())
	}
	vals, err := codec.DecodeArgs(args, h.argTypes)
	if err != nil {
		return nil, err
	}
	in = append(in, vals...)

	out := h.fn.Call(in)
	if !h.result {
		return message.Void{}, nil
	}
	return out[0].Interface(), nil
}
