// Package resilience provides the failure-handling building blocks used for
// every outbound call: exponential backoff retry, per-operation circuit
// breakers, fallbacks, and the closed error taxonomy that drives their
// retry and fatal decisions.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
)

// Operation is a unit of work guarded by an Invoker
type Operation func(ctx context.Context) (any, error)

// Invoker executes an Operation, possibly adding retries, circuit breaking
// or fallbacks around it. Invokers compose by wrapping another Invoker.
type Invoker interface {
	Invoke(ctx context.Context, op Operation) (any, error)
}

// InvokerFunc adapts a function to Invoker
type InvokerFunc func(ctx context.Context, op Operation) (any, error)

// Invoke implements Invoker
func (f InvokerFunc) Invoke(ctx context.Context, op Operation) (any, error) {
	return f(ctx, op)
}

// Direct calls the operation once
type Direct struct{}

// Invoke implements Invoker
func (Direct) Invoke(ctx context.Context, op Operation) (any, error) {
	return op(ctx)
}

// Breaker forwards to Next through a circuit breaker, so the breaker
// observes only Next's aggregate outcome.
type Breaker struct {
	Circuit *CircuitBreaker
	Next    Invoker
}

// Invoke implements Invoker
func (b *Breaker) Invoke(ctx context.Context, op Operation) (any, error) {
	next := b.Next
	if next == nil {
		next = Direct{}
	}
	if b.Circuit == nil {
		return next.Invoke(ctx, op)
	}
	return b.Circuit.Execute(ctx, func(ctx context.Context) (any, error) {
		return next.Invoke(ctx, op)
	})
}

// FallbackFunc produces a substitute value from the error that defeated Next
type FallbackFunc func(ctx context.Context, err error) (any, error)

// Fallback substitutes the result of Func when Next fails.
type Fallback struct {
	Func FallbackFunc

	// When, if set, restricts the fallback to matching errors
	When func(error) bool

	Logger *slog.Logger
	Next   Invoker
}

// Invoke implements Invoker
func (f *Fallback) Invoke(ctx context.Context, op Operation) (any, error) {
	next := f.Next
	if next == nil {
		next = Direct{}
	}

	value, err := next.Invoke(ctx, op)
	if err == nil || f.Func == nil {
		return value, err
	}
	if f.When != nil && !f.When(err) {
		return nil, err
	}

	if f.Logger != nil {
		f.Logger.Warn("operation failed, using fallback", "error", err)
	}
	fallbackValue, fallbackErr := f.Func(ctx, err)
	if fallbackErr != nil {
		return nil, fmt.Errorf("fallback failed: %w (original error: %v)", fallbackErr, err)
	}
	return fallbackValue, nil
}

// NewResilient composes Fallback(Breaker(Retry(Direct))). circuit and
// fallback may be nil, in which case that layer is omitted.
func NewResilient(policy Policy, circuit *CircuitBreaker, fallback FallbackFunc, logger *slog.Logger) Invoker {
	var inv Invoker = &Retry{Policy: policy, Logger: logger, Next: Direct{}}
	if circuit != nil {
		inv = &Breaker{Circuit: circuit, Next: inv}
	}
	if fallback != nil {
		inv = &Fallback{Func: fallback, Logger: logger, Next: inv}
	}
	return inv
}

// Do runs a typed operation through inv.
func Do[T any](ctx context.Context, inv Invoker, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	value, err := inv.Invoke(ctx, func(ctx context.Context) (any, error) {
		return op(ctx)
	})
	if err != nil {
		return zero, err
	}
	if value == nil {
		return zero, nil
	}
	typed, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected result type %T", value)
	}
	return typed, nil
}

// Outcome is the result of an asynchronous invocation
type Outcome struct {
	Value any
	Err   error
}

// InvokeAsync runs op through inv on its own goroutine and delivers the
// outcome on the returned channel, which receives exactly one value.
func InvokeAsync(ctx context.Context, inv Invoker, op Operation) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		defer func() {
			if rec := recover(); rec != nil {
				out <- Outcome{Err: fmt.Errorf("operation panicked: %v", rec)}
			}
		}()
		value, err := inv.Invoke(ctx, op)
		out <- Outcome{Value: value, Err: err}
	}()
	return out
}
