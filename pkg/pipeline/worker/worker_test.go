package worker_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shpitdev/lapcoach/pkg/pipeline/core"
	"github.com/shpitdev/lapcoach/pkg/pipeline/worker"
)

func TestProcessAll_RetryBudget(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		maxRetries int
		fail       func(call int) error
		wantCalls  int32
		wantErr    bool
	}{
		{
			name:       "transient retried until success",
			maxRetries: 3,
			fail: func(call int) error {
				if call <= 2 {
					return &core.TransientError{Err: errors.New("try again")}
				}
				return nil
			},
			wantCalls: 3,
		},
		{
			name:       "permanent not retried",
			maxRetries: 10,
			fail:       func(int) error { return errors.New("permanent") },
			wantCalls:  1,
			wantErr:    true,
		},
		{
			name:       "error caps its own budget",
			maxRetries: 10,
			fail: func(int) error {
				return &core.LimitedTransientError{Err: errors.New("cancelled"), ExtraRetries: 1}
			},
			wantCalls: 2,
			wantErr:   true,
		},
		{
			name:       "transient gives up after budget",
			maxRetries: 2,
			fail:       func(int) error { return &core.TransientError{Err: errors.New("502")} },
			wantCalls:  3,
			wantErr:    true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			fn := func(_ context.Context, path string) (string, error) {
				if err := tc.fail(int(calls.Add(1))); err != nil {
					return "", err
				}
				return "ok:" + path, nil
			}

			out, err := worker.ProcessAll(context.Background(), []string{"reference.csv"}, fn, worker.Options{
				Workers:        1,
				MaxRetries:     tc.maxRetries,
				RequestTimeout: time.Second,
				BackoffInitial: time.Millisecond,
				BackoffMax:     2 * time.Millisecond,
			})
			if err != nil {
				t.Fatalf("unexpected run error: %v", err)
			}
			if len(out) != 1 {
				t.Fatalf("expected 1 output, got %d", len(out))
			}
			if gotErr := out[0].Err != nil; gotErr != tc.wantErr {
				t.Fatalf("item err=%v, wantErr=%v", out[0].Err, tc.wantErr)
			}
			if !tc.wantErr && out[0].Output != "ok:reference.csv" {
				t.Fatalf("unexpected output: %#v", out[0])
			}
			if got := calls.Load(); got != tc.wantCalls {
				t.Fatalf("expected %d calls, got %d", tc.wantCalls, got)
			}
		})
	}
}

func TestProcessAll_FailFastStops(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0

	fn := func(_ context.Context, path string) (string, error) {
		mu.Lock()
		calls++
		mu.Unlock()

		if path == "bad.csv" {
			return "", errors.New("boom")
		}
		t.Fatalf("unexpected call for %q", path)
		return "", nil
	}

	out, err := worker.ProcessAll(context.Background(), []string{"bad.csv", "good.csv"}, fn, worker.Options{
		Workers:       1,
		MaxRetries:    0,
		FailurePolicy: worker.FailurePolicyFailFast,
	})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom error, got %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil output on fail-fast, got %#v", out)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestProcessAll_PartialOutputContinues(t *testing.T) {
	t.Parallel()

	fn := func(_ context.Context, path string) (string, error) {
		if path == "bad.csv" {
			return "", errors.New("boom")
		}
		return "ok", nil
	}

	out, err := worker.ProcessAll(context.Background(), []string{"bad.csv", "good.csv"}, fn, worker.Options{
		Workers:       1,
		MaxRetries:    0,
		FailurePolicy: worker.FailurePolicyPartialOutput,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(out))
	}
	if out[0].Err == nil || out[0].Err.Error() != "boom" {
		t.Fatalf("unexpected out[0]: %#v", out[0])
	}
	if out[1].Err != nil || out[1].Output != "ok" {
		t.Fatalf("unexpected out[1]: %#v", out[1])
	}
}

func TestProcessAllWithCallback_CompletesInCompletionOrder(t *testing.T) {
	t.Parallel()

	releaseSlow := make(chan struct{})
	startedSlow := make(chan struct{})
	var firstCallbackInput atomic.Value
	firstCallbackInput.Store("")

	fn := func(_ context.Context, path string) (string, error) {
		if path == "slow.csv" {
			close(startedSlow)
			<-releaseSlow
		}
		return path, nil
	}

	var mu sync.Mutex
	var seen []string
	doneErr := make(chan error, 1)
	go func() {
		_, err := worker.ProcessAllWithCallback(
			context.Background(),
			[]string{"slow.csv", "fast.csv"},
			fn,
			func(res worker.Result[string, string]) error {
				mu.Lock()
				defer mu.Unlock()
				seen = append(seen, res.Input)
				if len(seen) == 1 {
					firstCallbackInput.Store(res.Input)
				}
				return nil
			},
			worker.Options{Workers: 2},
		)
		doneErr <- err
	}()

	select {
	case <-startedSlow:
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for slow task to start")
	}

	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		if firstCallbackInput.Load().(string) == "fast.csv" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := firstCallbackInput.Load().(string); got != "fast.csv" {
		t.Fatalf("expected fast callback first, got %q", got)
	}

	close(releaseSlow)
	select {
	case err := <-doneErr:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("expected 2 callbacks, got %d (%v)", len(seen), seen)
	}
	if !slices.Equal(seen, []string{"fast.csv", "slow.csv"}) {
		t.Fatalf("unexpected callback order: %v", seen)
	}
}

func TestProcessAllWithCallback_CallbackErrorStopsRun(t *testing.T) {
	t.Parallel()

	callbackErr := errors.New("callback failed")
	_, err := worker.ProcessAllWithCallback(
		context.Background(),
		[]string{"reference.csv"},
		func(_ context.Context, path string) (string, error) {
			return path, nil
		},
		func(worker.Result[string, string]) error {
			return callbackErr
		},
		worker.Options{Workers: 1},
	)
	if !errors.Is(err, callbackErr) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	out, err := worker.Do(context.Background(), "session-1", func(_ context.Context, id string) (string, error) {
		if calls.Add(1) == 1 {
			return "", &core.TransientError{Err: errors.New("503")}
		}
		return "analysed " + id, nil
	}, worker.Options{
		MaxRetries:        2,
		BackoffInitial:    1 * time.Millisecond,
		BackoffMax:        1 * time.Millisecond,
		BackoffJitterFrac: 0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "analysed session-1" {
		t.Fatalf("unexpected output: %q", out)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestDo_ZeroRetriesReturnsFirstError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	_, err := worker.Do(context.Background(), "x", func(_ context.Context, _ string) (string, error) {
		calls.Add(1)
		return "", &core.TransientError{Err: errors.New("503")}
	}, worker.Options{MaxRetries: 0})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
}

func TestDo_OnRetryReportsEachBackoff(t *testing.T) {
	t.Parallel()

	var events []worker.RetryEvent
	_, err := worker.Do(context.Background(), "x", func(_ context.Context, _ string) (string, error) {
		return "", &core.TransientError{Err: errors.New("503")}
	}, worker.Options{
		MaxRetries:     2,
		BackoffInitial: time.Millisecond,
		BackoffMax:     time.Millisecond,
		OnRetry:        func(e worker.RetryEvent) { events = append(events, e) },
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 retry events, got %d", len(events))
	}
	if events[0].Attempt != 1 || events[1].Attempt != 2 {
		t.Fatalf("unexpected attempts: %+v", events)
	}
	if events[0].Err == nil || events[0].Wait <= 0 {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestDo_CancelledContextStopsRetrying(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	_, err := worker.Do(ctx, "x", func(_ context.Context, _ string) (string, error) {
		calls.Add(1)
		cancel()
		return "", &core.TransientError{Err: errors.New("503")}
	}, worker.Options{MaxRetries: 5, BackoffInitial: time.Second})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
}
