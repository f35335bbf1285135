package log

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var _namedRateLimiters sync.Map

// MLogger wraps zap.Logger and adds rate-limited helpers.
type MLogger struct {
	*zap.Logger
	rl atomic.Value // RateLimiter
}

// With returns a child logger carrying fields. The parent is unchanged.
func (l *MLogger) With(fields ...zap.Field) *MLogger {
	return &MLogger{Logger: l.Logger.With(fields...)}
}

// WithRateGroup binds a named limiter to l. Loggers sharing a group name share credit.
func (l *MLogger) WithRateGroup(groupName string, creditPerSecond, maxBalance float64) *MLogger {
	rl, _ := _namedRateLimiters.LoadOrStore(groupName, NewRateLimiter(creditPerSecond, maxBalance))
	l.rl.Store(rl.(RateLimiter))
	return l
}

func (l *MLogger) r() RateLimiter {
	if rl, ok := l.rl.Load().(RateLimiter); ok {
		return rl
	}
	return R()
}

func (l *MLogger) RatedDebug(cost float64, msg string, fields ...zap.Field) bool {
	if l.r().CheckCredit(cost) {
		l.WithOptions(zap.AddCallerSkip(1)).Debug(msg, fields...)
		return true
	}
	return false
}

func (l *MLogger) RatedInfo(cost float64, msg string, fields ...zap.Field) bool {
	if l.r().CheckCredit(cost) {
		l.WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
		return true
	}
	return false
}

func (l *MLogger) RatedWarn(cost float64, msg string, fields ...zap.Field) bool {
	if l.r().CheckCredit(cost) {
		l.WithOptions(zap.AddCallerSkip(1)).Warn(msg, fields...)
		return true
	}
	return false
}
