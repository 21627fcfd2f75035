// Package worker runs a function over many inputs with bounded concurrency,
// per-call timeouts, a shared rate limit and retries for transient errors.
package worker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// FailurePolicy decides whether one failed item aborts the run.
type FailurePolicy int

const (
	FailurePolicyPartialOutput FailurePolicy = iota
	FailurePolicyFailFast
)

// Options configures concurrency, retries and pacing.
type Options struct {
	Workers        int
	MaxRetries     int
	RequestTimeout time.Duration

	// RateLimitRPS is a global limit across all workers. Set to <=0 to disable.
	RateLimitRPS float64

	FailurePolicy FailurePolicy

	// BackoffInitial is the initial sleep before retrying a transient failure.
	BackoffInitial time.Duration
	// BackoffMax caps exponential backoff.
	BackoffMax time.Duration
	// BackoffJitterFrac applies +/- jitter to backoff sleeps (0.2 = +/-20%).
	BackoffJitterFrac float64

	// OnRetry, when set, is called before each backoff sleep.
	OnRetry func(RetryEvent)
}

// Result holds the output for one input item.
type Result[In any, Out any] struct {
	Input  In
	Output Out
	Err    error
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 200 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 2 * time.Second
	}
	if o.BackoffJitterFrac <= 0 {
		o.BackoffJitterFrac = 0.2
	}
	return o
}

func (o Options) limiter() *rate.Limiter {
	if o.RateLimitRPS <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(o.RateLimitRPS), 1)
}

// ProcessAll runs fn over every item and returns results in input order.
func ProcessAll[In any, Out any](
	ctx context.Context,
	items []In,
	fn func(context.Context, In) (Out, error),
	opts Options,
) ([]Result[In, Out], error) {
	return ProcessAllWithCallback(ctx, items, fn, nil, opts)
}

// ProcessAllWithCallback is ProcessAll with onResult invoked as each item
// finishes, in completion order. A callback error stops the run.
//
// With FailurePolicyFailFast the first item error is returned and no results
// are. Otherwise item errors are reported in Result.Err and the run continues.
func ProcessAllWithCallback[In any, Out any](
	ctx context.Context,
	items []In,
	fn func(context.Context, In) (Out, error),
	onResult func(Result[In, Out]) error,
	opts Options,
) ([]Result[In, Out], error) {
	opts = opts.withDefaults()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run[In, Out]{
		fn:      fn,
		opts:    opts,
		limiter: opts.limiter(),
		cancel:  cancel,
	}

	type job struct {
		idx int
		in  In
	}
	type completion struct {
		idx int
		res Result[In, Out]
	}

	jobs := make(chan job)
	done := make(chan completion, opts.Workers)

	var wg sync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if runCtx.Err() != nil {
					return
				}
				res := r.one(runCtx, j.in)
				select {
				case done <- completion{idx: j.idx, res: res}:
				case <-runCtx.Done():
					return
				}
				if res.Err != nil && opts.FailurePolicy == FailurePolicyFailFast {
					r.fail(res.Err)
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, item := range items {
			select {
			case jobs <- job{idx: i, in: item}:
			case <-runCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	out := make([]Result[In, Out], len(items))
	for c := range done {
		out[c.idx] = c.res
		if onResult != nil {
			if err := onResult(c.res); err != nil {
				r.fail(err)
			}
		}
	}

	if err := r.err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// run is the shared state of one ProcessAllWithCallback call.
type run[In any, Out any] struct {
	fn      func(context.Context, In) (Out, error)
	opts    Options
	limiter *rate.Limiter
	cancel  context.CancelFunc

	mu       sync.Mutex
	firstErr error
}

func (r *run[In, Out]) one(ctx context.Context, item In) Result[In, Out] {
	out, err := withRetry(ctx, item, r.fn, r.limiter, r.opts)
	return Result[In, Out]{Input: item, Output: out, Err: err}
}

func (r *run[In, Out]) fail(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.firstErr == nil {
		r.firstErr = err
		r.cancel()
	}
}

func (r *run[In, Out]) err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firstErr
}
