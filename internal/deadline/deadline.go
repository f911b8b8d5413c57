// Package deadline races a single blocking step against a time budget.
//
// Every network-facing step of a device operation goes through Race, so all
// steps share one timeout behaviour: the first of (result, budget expiry,
// caller cancellation) wins, and the loser is abandoned. Budgets do not nest:
// two sequential Race calls with 10s each may take up to 20s in total.
package deadline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/srg/miflora/internal/groutine"
)

// ErrTimeout is matched by every *TimeoutError via errors.Is.
var ErrTimeout = errors.New("timeout")

// TimeoutError reports that a step did not settle within its budget.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %v", e.Op, e.After)
}

// Is makes errors.Is(err, ErrTimeout) hold for any TimeoutError.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Option customises a single Race call.
type Option[T any] func(*raceOptions[T])

type raceOptions[T any] struct {
	onAbandon func(T)
}

// OnAbandon registers fn to receive the value of a step that succeeded after
// Race had already given up on it. Use it to release resources the late
// result owns, for example closing a connection that nobody will use.
func OnAbandon[T any](fn func(T)) Option[T] {
	return func(o *raceOptions[T]) {
		o.onAbandon = fn
	}
}

type outcome[T any] struct {
	value T
	err   error
}

// Race runs fn on its own goroutine and waits for whichever comes first: fn
// returning, d elapsing, or ctx being done. d <= 0 disables the budget and
// only ctx can end the wait.
//
// The context passed to fn is cancelled as soon as Race returns. fn must not
// touch caller state after that point other than through its return value.
func Race[T any](ctx context.Context, op string, d time.Duration, fn func(ctx context.Context) (T, error), opts ...Option[T]) (T, error) {
	var cfg raceOptions[T]
	for _, opt := range opts {
		opt(&cfg)
	}

	stepCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan outcome[T], 1)
	groutine.Go(stepCtx, "race:"+op, func(ctx context.Context) {
		v, err := fn(ctx)
		done <- outcome[T]{value: v, err: err}
	})

	var expired <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		expired = timer.C
	}

	var zero T
	select {
	case res := <-done:
		return res.value, res.err
	case <-expired:
		abandon(done, cfg.onAbandon)
		return zero, &TimeoutError{Op: op, After: d}
	case <-ctx.Done():
		abandon(done, cfg.onAbandon)
		return zero, fmt.Errorf("%s: %w", op, context.Cause(ctx))
	}
}

// abandon hands a late successful value to fn. The result channel is
// buffered, so without fn the worker finishes on its own.
func abandon[T any](done <-chan outcome[T], fn func(T)) {
	if fn == nil {
		return
	}
	groutine.Go(context.Background(), "race:abandoned", func(context.Context) {
		if res := <-done; res.err == nil {
			fn(res.value)
		}
	})
}
