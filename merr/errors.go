package merr

import (
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

const (
	CanceledCode int32 = 10000
	TimeoutCode  int32 = 10001
)

// Leaf errors. Codes 1..99 are the reply status codes carried on the wire and must
// stay in sync with message.Code. Codes from 100 up never leave the process.
var (
	// Reply status
	ErrFunctionNotBound = newRPCError("function not bound", 1, false)
	ErrRecvTimeout      = newRPCError("recv timeout", 2, true)
	ErrDecodeFailed     = newRPCError("decode failed", 3, false)
	ErrRateLimited      = newRPCError("rate limit exceeded", 4, true)
	ErrHandlerPanic     = newRPCError("handler panic", 5, false)
	ErrEncodeFailed     = newRPCError("encode failed", 6, false)

	// Facade
	ErrRoleAlreadySet = newRPCError("role already set", 100, false)
	ErrRoleMismatch   = newRPCError("operation not allowed in current role", 101, false)
	ErrNotInitialized = newRPCError("rpc not initialized", 102, false)

	// Binding
	ErrInvalidHandler = newRPCError("invalid handler", 200, false)
	ErrMethodNotFound = newRPCError("method not found", 201, false)

	// Transport
	ErrTransportClosed = newRPCError("transport closed", 300, false)
	ErrFrameTooLarge   = newRPCError("frame too large", 301, false)

	// Service registry
	ErrServiceNotFound = newRPCError("service not found", 400, true)

	// Parameter
	ErrParameterInvalid = newRPCError("invalid parameter", 1100, false)

	// keep only for converting unknown error to rpcError
	errUnexpected = newRPCError("unexpected error", (1<<16)-1, false)
)

type rpcError struct {
	msg       string
	detail    string
	retriable bool
	errCode   int32
}

func newRPCError(msg string, code int32, retriable bool) rpcError {
	return rpcError{
		msg:       msg,
		detail:    msg,
		retriable: retriable,
		errCode:   code,
	}
}

func (e rpcError) code() int32 {
	return e.errCode
}

func (e rpcError) Error() string {
	return e.msg
}

func (e rpcError) Detail() string {
	return e.detail
}

func (e rpcError) Is(err error) bool {
	cause := errors.Cause(err)
	if cause, ok := cause.(rpcError); ok {
		return e.errCode == cause.errCode
	}
	return false
}

type multiErrors struct {
	errs []error
}

func (e multiErrors) Unwrap() error {
	if len(e.errs) <= 1 {
		return nil
	}
	if len(e.errs) == 2 {
		return e.errs[1]
	}
	return multiErrors{
		errs: e.errs[1:],
	}
}

func (e multiErrors) Error() string {
	final := e.errs[0]
	for i := 1; i < len(e.errs); i++ {
		final = errors.Wrap(e.errs[i], final.Error())
	}
	return final.Error()
}

func (e multiErrors) Is(err error) bool {
	for _, item := range e.errs {
		if errors.Is(item, err) {
			return true
		}
	}
	return false
}

// Combine joins the non-nil errors, returns nil if there are none.
func Combine(errs ...error) error {
	errs = lo.Filter(errs, func(err error, _ int) bool { return err != nil })
	if len(errs) == 0 {
		return nil
	}
	return multiErrors{
		errs,
	}
}
