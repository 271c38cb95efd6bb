package services

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"guild-progression-system/config"
)

// kindBackOff retries Conflict immediately and StoreUnavailable on the
// wrapped exponential schedule.
type kindBackOff struct {
	backoff.BackOff
	last Kind
}

func (b *kindBackOff) NextBackOff() time.Duration {
	if b.last == KindConflict {
		return 0
	}
	return b.BackOff.NextBackOff()
}

// withRetry runs fn until it succeeds, fails with a terminal kind, or the
// attempt budget is spent.
func withRetry[T any](ctx context.Context, policy config.RetryConfig, log *zap.Logger, op string, fn func() (T, error)) (T, error) {
	exp := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		exp.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		exp.MaxInterval = policy.MaxInterval
	}
	schedule := &kindBackOff{BackOff: exp}

	attempts := policy.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	res, err := backoff.Retry(ctx, func() (T, error) {
		res, err := fn()
		if err == nil {
			return res, nil
		}
		kind := KindOf(err)
		schedule.last = kind
		if !kind.Retryable() {
			return res, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(schedule),
		backoff.WithMaxTries(attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			kind := KindOf(err)
			retriesTotal.WithLabelValues(op, string(kind)).Inc()
			log.Debug("retrying store operation",
				zap.String("operation", op),
				zap.String("kind", string(kind)),
				zap.Duration("next", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		if KindOf(err) == KindUnknown {
			err = storeError(op, err)
		}
	}
	return res, err
}
