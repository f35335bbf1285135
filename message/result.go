package message

import (
	"reqrep-rpc/codec"
)

// Result is a reply before encoding: what a handler produced, or why it did not run.
// Middlewares inspect and replace Results; the dispatcher encodes the final one.
type Result struct {
	Code Code
	Msg  string
	Val  any // encoded only when Code is CodeSuccess
}

// OK wraps a handler result. Use Void{} for functions without one.
func OK(val any) *Result {
	return &Result{Code: CodeSuccess, Val: val}
}

func Fail(code Code, msg string) *Result {
	return &Result{Code: code, Msg: msg}
}

func (r *Result) Valid() bool {
	return r.Code == CodeSuccess
}

// Encode writes the reply envelope.
func (r *Result) Encode(b *codec.Buffer) error {
	return EncodeValue(b, r.Code, r.Msg, r.Val)
}
