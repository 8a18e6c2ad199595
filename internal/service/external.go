package service

import (
	"context"
	"fmt"
	"time"
)

const (
	defaultSummaryTimeout = 20 * time.Second
	defaultNotifyTimeout  = 10 * time.Second
)

// callBounded runs fn in its own goroutine with a deadline that survives the
// caller's cancellation. A panic inside fn becomes an error. If the deadline
// passes first the call returns an error and fn is left to finish on its own.
func callBounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		done <- result{val: v, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		select {
		case r := <-done:
			return r.val, r.err
		default:
		}
		var zero T
		return zero, fmt.Errorf("external call: %w", ctx.Err())
	}
}
