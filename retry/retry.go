// Package retry re-issues calls whose reply says the server may succeed later
// (RECV_TIMEOUT, RATE_LIMITED). The core never retries on its own.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"reqrep-rpc/log"
	"reqrep-rpc/merr"
	"reqrep-rpc/message"
	"reqrep-rpc/rpc"
)

type Config struct {
	// MaxAttempts counts the first call; 0 or 1 means no retry.
	MaxAttempts     uint64        `mapstructure:"max-attempts"`
	InitialInterval time.Duration `mapstructure:"initial-interval"`
	MaxInterval     time.Duration `mapstructure:"max-interval"`
	// OnRetry is called before each wait.
	OnRetry func(code message.Code, wait time.Duration) `mapstructure:"-"`
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

func (c Config) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.InitialInterval > 0 {
		b.InitialInterval = c.InitialInterval
	}
	if c.MaxInterval > 0 {
		b.MaxInterval = c.MaxInterval
	}
	b.MaxElapsedTime = 0
	retries := uint64(0)
	if c.MaxAttempts > 1 {
		retries = c.MaxAttempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)
}

// Call behaves like rpc.Call but repeats the call while the reply code is
// retriable and attempts remain. The last envelope is returned either way.
// Local errors end the loop at once.
func Call[R any](ctx context.Context, r *rpc.RPC, cfg Config, name string, args ...any) (message.Value[R], error) {
	var last message.Value[R]
	op := func() error {
		v, err := rpc.Call[R](ctx, r, name, args...)
		if err != nil {
			return backoff.Permanent(err)
		}
		last = v
		if merr.IsRetryableErr(v.Err()) {
			return v.Err()
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Ctx(ctx).Debug("retrying call",
			log.FieldFunction(name),
			zap.Duration("wait", wait),
			zap.Error(err))
		if cfg.OnRetry != nil {
			cfg.OnRetry(last.ErrorCode(), wait)
		}
	}

	err := backoff.RetryNotify(op, cfg.backOff(ctx), notify)
	if err != nil && !merr.IsRetryableErr(err) {
		// local failure or ctx cancelled while waiting
		return last, err
	}
	return last, nil
}
