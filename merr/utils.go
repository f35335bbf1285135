package merr

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
)

// Code returns the code of err, 0 for nil.
func Code(err error) int32 {
	if err == nil {
		return 0
	}

	cause := errors.Cause(err)
	switch specificErr := cause.(type) {
	case rpcError:
		return specificErr.code()

	default:
		if errors.Is(specificErr, context.Canceled) {
			return CanceledCode
		} else if errors.Is(specificErr, context.DeadlineExceeded) {
			return TimeoutCode
		} else {
			return errUnexpected.code()
		}
	}
}

func IsRetryableErr(err error) bool {
	var e rpcError
	if errors.As(err, &e) {
		return e.retriable
	}
	return false
}

func IsCanceledOrTimeout(err error) bool {
	return errors.IsAny(err, context.Canceled, context.DeadlineExceeded)
}

// Status splits err into the code and message that go into a reply.
func Status(err error) (int32, string) {
	if err == nil {
		return 0, ""
	}
	return Code(err), err.Error()
}

// Error rebuilds an error from a reply status, nil for code 0.
// The result matches the leaf error with the same code under errors.Is.
func Error(code int32, msg string) error {
	if code == 0 {
		return nil
	}
	retriable := code == ErrRecvTimeout.errCode || code == ErrRateLimited.errCode
	return newRPCError(msg, code, retriable)
}

func WrapErrFunctionNotBound(name string) error {
	return errors.Wrapf(ErrFunctionNotBound, "function=%s", name)
}

func WrapErrDecodeFailed(err error, name string) error {
	return errors.Wrapf(ErrDecodeFailed, "function=%s: %v", name, err)
}

func WrapErrRoleAlreadySet(current fmt.Stringer) error {
	return errors.Wrapf(ErrRoleAlreadySet, "current=%s", current)
}

func WrapErrRoleMismatch(op string, current fmt.Stringer) error {
	return errors.Wrapf(ErrRoleMismatch, "op=%s current=%s", op, current)
}

func WrapErrInvalidHandler(name string, reason string) error {
	return errors.Wrapf(ErrInvalidHandler, "function=%s: %s", name, reason)
}

func WrapErrMethodNotFound(typ string, method string) error {
	return errors.Wrapf(ErrMethodNotFound, "%s.%s", typ, method)
}

func WrapErrServiceNotFound(service string) error {
	return errors.Wrapf(ErrServiceNotFound, "service=%s", service)
}

func WrapErrFrameTooLarge(size, limit uint32) error {
	return errors.Wrapf(ErrFrameTooLarge, "size=%d limit=%d", size, limit)
}

func WrapErrParameterInvalid(name string, value any) error {
	return errors.Wrapf(ErrParameterInvalid, "%s=%v", name, value)
}
