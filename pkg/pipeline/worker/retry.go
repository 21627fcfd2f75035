package worker

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/shpitdev/lapcoach/pkg/pipeline/core"
)

// RetryEvent describes a failed attempt that is about to be retried.
type RetryEvent struct {
	// Attempt is the 1-based number of the attempt that failed.
	Attempt int
	Err     error
	Wait    time.Duration
}

// Do runs fn once for item, retrying transient failures with backoff under
// the same timeout, rate limit and retry budget ProcessAll applies per item.
// Workers and FailurePolicy are ignored.
func Do[In any, Out any](
	ctx context.Context,
	item In,
	fn func(context.Context, In) (Out, error),
	opts Options,
) (Out, error) {
	opts = opts.withDefaults()
	return withRetry(ctx, item, fn, opts.limiter(), opts)
}

func withRetry[In any, Out any](
	ctx context.Context,
	item In,
	fn func(context.Context, In) (Out, error),
	limiter *rate.Limiter,
	opts Options,
) (Out, error) {
	var last Out
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return last, err
			}
		}

		out, err := attemptOnce(ctx, item, fn, opts.RequestTimeout)
		last = out
		if err == nil {
			return out, nil
		}
		// A cancelled parent wins over whatever the attempt reported.
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return last, ctx.Err()
		}
		if !core.IsTransient(err) || attempt > retryBudget(opts.MaxRetries, err) {
			return last, err
		}

		wait := backoff(opts.BackoffInitial, opts.BackoffMax, opts.BackoffJitterFrac, attempt-1)
		if opts.OnRetry != nil {
			opts.OnRetry(RetryEvent{Attempt: attempt, Err: err, Wait: wait})
		}
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return last, ctx.Err()
		}
	}
}

func attemptOnce[In any, Out any](
	ctx context.Context,
	item In,
	fn func(context.Context, In) (Out, error),
	timeout time.Duration,
) (Out, error) {
	if timeout <= 0 {
		return fn(ctx, item)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx, item)
}

// retryBudget returns how many retries err is allowed, honoring errors that
// cap their own budget below the configured one.
func retryBudget(configured int, err error) int {
	if configured < 0 {
		configured = 0
	}
	var capped interface{ MaxExtraRetries() int }
	if !errors.As(err, &capped) {
		return configured
	}
	return max(0, min(configured, capped.MaxExtraRetries()))
}

// backoff doubles initial per prior retry up to maxWait, then applies
// +/- jitterFrac.
func backoff(initial, maxWait time.Duration, jitterFrac float64, retries int) time.Duration {
	wait := initial
	for i := 0; i < retries && wait < maxWait; i++ {
		wait *= 2
	}
	wait = min(wait, maxWait)
	if jitterFrac <= 0 {
		return wait
	}
	j := 1 + (rand.Float64()*2-1)*jitterFrac
	return time.Duration(float64(wait) * j)
}
