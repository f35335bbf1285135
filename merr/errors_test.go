package merr

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"
)

type ErrSuite struct {
	suite.Suite
}

func (s *ErrSuite) TestCode() {
	err := WrapErrFunctionNotBound("add")
	s.ErrorIs(err, ErrFunctionNotBound)
	s.Equal(Code(ErrFunctionNotBound), Code(err))
	s.Equal(int32(1), Code(err))
	s.Equal(TimeoutCode, Code(context.DeadlineExceeded))
	s.Equal(CanceledCode, Code(context.Canceled))
	s.Equal(errUnexpected.errCode, Code(errors.New("boom")))
	s.Equal(int32(0), Code(nil))

	sameCodeErr := newRPCError("other text", ErrRecvTimeout.errCode, false)
	s.True(sameCodeErr.Is(ErrRecvTimeout))
}

func (s *ErrSuite) TestStatus() {
	code, msg := Status(WrapErrDecodeFailed(errors.New("short buffer"), "add"))
	restored := Error(code, msg)
	s.ErrorIs(restored, ErrDecodeFailed)
	s.Contains(msg, "function=add")

	code, msg = Status(nil)
	s.Equal(int32(0), code)
	s.Empty(msg)
	s.Nil(Error(0, "ignored"))
}

func (s *ErrSuite) TestRetryable() {
	s.True(IsRetryableErr(ErrRecvTimeout))
	s.True(IsRetryableErr(Error(2, "recv timeout")))
	s.True(IsRetryableErr(errors.Wrap(ErrRateLimited, "ctx")))
	s.False(IsRetryableErr(ErrFunctionNotBound))
	s.False(IsRetryableErr(errors.New("plain")))
}

func (s *ErrSuite) TestWrap() {
	s.ErrorIs(WrapErrRoleAlreadySet(stringer("client")), ErrRoleAlreadySet)
	s.ErrorIs(WrapErrRoleMismatch("Run", stringer("client")), ErrRoleMismatch)
	s.ErrorIs(WrapErrInvalidHandler("f", "not a func"), ErrInvalidHandler)
	s.ErrorIs(WrapErrMethodNotFound("Calc", "Add"), ErrMethodNotFound)
	s.ErrorIs(WrapErrServiceNotFound("calc"), ErrServiceNotFound)
	s.ErrorIs(WrapErrFrameTooLarge(10, 5), ErrFrameTooLarge)
	s.ErrorIs(WrapErrParameterInvalid("timeout", -1), ErrParameterInvalid)
}

func (s *ErrSuite) TestCombine() {
	s.Nil(Combine(nil, nil))

	err := Combine(nil, ErrRecvTimeout, ErrTransportClosed)
	s.ErrorIs(err, ErrRecvTimeout)
	s.ErrorIs(err, ErrTransportClosed)
	s.NotErrorIs(err, ErrFunctionNotBound)
}

func (s *ErrSuite) TestCanceledOrTimeout() {
	s.False(IsCanceledOrTimeout(ErrRecvTimeout))
	s.True(IsCanceledOrTimeout(errors.Wrap(context.Canceled, "stop")))
}

type stringer string

func (s stringer) String() string { return string(s) }

func TestErrors(t *testing.T) {
	suite.Run(t, new(ErrSuite))
}
