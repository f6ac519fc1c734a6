package inmemcubing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/qhzhou/Kylin/pkg/config"
	"github.com/qhzhou/Kylin/pkg/errors"
	"github.com/qhzhou/Kylin/pkg/metrics"
)

// retryPolicy reruns a cuboid computation that ran out of memory or time.
// Other failures are returned at once.
type retryPolicy struct {
	attempts  int
	timeout   time.Duration
	increment time.Duration
	delay     time.Duration
	logger    *zap.Logger

	// onOutOfMemory runs before the attempt following an out of memory
	// failure.
	onOutOfMemory func(ctx context.Context)
}

func newRetryPolicy(cfg config.ReliabilityConfig, log *zap.Logger) retryPolicy {
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return retryPolicy{
		attempts:  attempts,
		timeout:   cfg.CuboidTimeout,
		increment: cfg.TimeoutIncrement,
		delay:     cfg.RetryDelay,
		logger:    log,
	}
}

// run calls fn until it succeeds, fails with a non-retryable error, or the
// attempts are used up. attempt counts from 0.
func (p retryPolicy) run(ctx context.Context, cuboidID int64, fn func(ctx context.Context, attempt int) error) error {
	timeout := p.timeout
	var err error
	for attempt := 0; attempt < p.attempts; attempt++ {
		if attempt > 0 && p.delay > 0 {
			t := time.NewTimer(p.delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return errors.Wrap(ctx.Err(), errors.ErrorTypeCancelled, "waiting to retry cuboid")
			}
		}

		err = p.once(ctx, timeout, attempt, fn)
		if err == nil {
			return nil
		}

		if !errors.IsRetryable(err) {
			return err
		}
		errType := errorType(err)
		metrics.Retries.WithLabelValues(string(errType)).Inc()
		if errType == errors.ErrorTypeTimeout {
			timeout += p.increment
		} else if attempt+1 < p.attempts && p.onOutOfMemory != nil {
			p.onOutOfMemory(ctx)
		}
		p.logger.Warn("cuboid attempt failed",
			zap.Int64("cuboid_id", cuboidID),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", p.attempts),
			zap.Error(err))
	}

	if e, ok := err.(*errors.Error); ok {
		e.WithDetail("attempts", p.attempts)
	}
	return err
}

// once runs a single attempt under the current timeout. A deadline hit by
// the attempt, not by the parent context, becomes a timeout error.
func (p retryPolicy) once(ctx context.Context, timeout time.Duration, attempt int, fn func(ctx context.Context, attempt int) error) error {
	if timeout <= 0 {
		return fn(ctx, attempt)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(tctx, attempt)
	if err != nil && ctx.Err() == nil && tctx.Err() == context.DeadlineExceeded {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "cuboid computation exceeded "+timeout.String())
	}
	return err
}
