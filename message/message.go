// Package message defines the two things that travel inside a frame body.
//
// A request is the function name followed by the positional arguments:
//
//	[string name][arg 1][arg 2]...
//
// A reply is the result envelope Value[R]:
//
//	[uint16 code][string msg][payload, only when code == CodeSuccess]
//
// Remote conditions (unknown function, timeout, bad arguments) are carried in the
// envelope as data. They are never turned into Go errors on the way across.
package message

import (
	"fmt"

	"reqrep-rpc/codec"
	"reqrep-rpc/merr"
)

// Code is the status carried by every reply.
type Code uint16

const (
	CodeSuccess          Code = 0
	CodeFunctionNotBound Code = 1
	CodeRecvTimeout      Code = 2
	CodeDecodeFailed     Code = 3 // request arguments ran out of bytes
	CodeRateLimited      Code = 4
	CodeHandlerPanic     Code = 5
	CodeEncodeFailed     Code = 6 // the handler result could not be encoded
)

var codeNames = map[Code]string{
	CodeSuccess:          "SUCCESS",
	CodeFunctionNotBound: "FUNCTION_NOT_BOUND",
	CodeRecvTimeout:      "RECV_TIMEOUT",
	CodeDecodeFailed:     "DECODE_FAILED",
	CodeRateLimited:      "RATE_LIMITED",
	CodeHandlerPanic:     "HANDLER_PANIC",
	CodeEncodeFailed:     "ENCODE_FAILED",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CODE(%d)", uint16(c))
}

// Void is the result type of functions that return nothing.
type Void = codec.Void

// Value is the result envelope of one call. The payload is meaningful only when Valid.
type Value[R any] struct {
	code Code
	msg  string
	val  R
}

// Success wraps a result value.
func Success[R any](val R) Value[R] {
	return Value[R]{val: val}
}

// Failure builds an envelope that carries no payload.
func Failure[R any](code Code, msg string) Value[R] {
	return Value[R]{code: code, msg: msg}
}

func (v *Value[R]) SetCode(code Code) { v.code = code }
func (v *Value[R]) SetMsg(msg string) { v.msg = msg }
func (v *Value[R]) SetVal(val R)      { v.val = val }

func (v Value[R]) Valid() bool      { return v.code == CodeSuccess }
func (v Value[R]) ErrorCode() Code  { return v.code }
func (v Value[R]) ErrorMsg() string { return v.msg }
func (v Value[R]) Val() R           { return v.val }

// Err converts a failed envelope into a coded error, nil on success.
func (v Value[R]) Err() error {
	if v.Valid() {
		return nil
	}
	return merr.Error(int32(v.code), v.msg)
}

func (v Value[R]) String() string {
	if v.Valid() {
		return fmt.Sprintf("{%s %v}", v.code, v.val)
	}
	return fmt.Sprintf("{%s %q}", v.code, v.msg)
}

// MarshalRPC writes the envelope; the payload is skipped unless the code is CodeSuccess.
func (v *Value[R]) MarshalRPC(b *codec.Buffer) error {
	return EncodeValue(b, v.code, v.msg, v.val)
}

// UnmarshalRPC reads code and msg first and the payload only if the code says it is there.
func (v *Value[R]) UnmarshalRPC(b *codec.Buffer) error {
	code, err := b.ReadUint16()
	if err != nil {
		return err
	}
	msg, err := b.ReadString()
	if err != nil {
		return err
	}
	v.code, v.msg = Code(code), msg
	if v.code != CodeSuccess {
		return nil
	}
	return codec.Decode(b, &v.val)
}

// EncodeValue writes an envelope for a result known only at run time.
func EncodeValue(b *codec.Buffer, code Code, msg string, val any) error {
	b.WriteUint16(uint16(code))
	b.WriteString(msg)
	if code != CodeSuccess {
		return nil
	}
	return codec.Encode(b, val)
}

// DecodeValue reads an envelope whose payload type is R.
func DecodeValue[R any](b *codec.Buffer) (Value[R], error) {
	var v Value[R]
	err := v.UnmarshalRPC(b)
	return v, err
}

// Reply builds a failure reply body in one step.
func Reply(code Code, msg string) []byte {
	b := &codec.Buffer{}
	_ = EncodeValue(b, code, msg, nil)
	return b.Data()
}
