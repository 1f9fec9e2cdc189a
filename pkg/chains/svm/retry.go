package svm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/sigweihq/companionpay/pkg/chains"
	"github.com/sigweihq/companionpay/pkg/constants"
)

// AttemptObserver receives the outcome of every RPC attempt
type AttemptObserver interface {
	ObserveRPCAttempt(method, endpoint string, kind chains.ErrorKind, duration time.Duration)
}

// RetryError is returned once the attempt budget is spent. Callers treat it as
// "network unavailable", not as a business failure.
type RetryError struct {
	Method   string
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Method, e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

// Executor runs chain operations against a ConnectionProvider with
// round-robin failover and exponential backoff
type Executor struct {
	provider       ConnectionProvider
	baseDelay      time.Duration
	maxDelay       time.Duration
	attemptTimeout time.Duration
	observer       AttemptObserver
	logger         *slog.Logger

	sleep     func(ctx context.Context, d time.Duration) error
	pickStart func(n int) int
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithBackoff sets the first retry delay and the cap
func WithBackoff(base, max time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.baseDelay = base
		e.maxDelay = max
	}
}

// WithAttemptTimeout bounds a single attempt
func WithAttemptTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.attemptTimeout = d
	}
}

// WithObserver reports attempt outcomes, typically to metrics
func WithObserver(o AttemptObserver) ExecutorOption {
	return func(e *Executor) {
		e.observer = o
	}
}

// WithExecutorLogger sets the logger used for retry diagnostics
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = l
	}
}

// WithSleep replaces the delay function; tests use it to avoid real waits
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

// WithStartIndex replaces the random start selection
func WithStartIndex(pick func(n int) int) ExecutorOption {
	return func(e *Executor) {
		e.pickStart = pick
	}
}

// NewExecutor creates an executor over the given provider
func NewExecutor(provider ConnectionProvider, opts ...ExecutorOption) *Executor {
	e := &Executor{
		provider:       provider,
		baseDelay:      constants.DelayBetweenRPCCalls * time.Millisecond,
		maxDelay:       constants.MaxRPCBackoffDelay,
		attemptTimeout: constants.TransactionReceiptTimeout,
		logger:         slog.Default(),
		sleep:          sleepContext,
		pickStart:      rand.Intn,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Backoff returns the delay before the given zero-based attempt
func (e *Executor) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := e.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= e.maxDelay {
			return e.maxDelay
		}
	}
	if delay > e.maxDelay {
		return e.maxDelay
	}
	return delay
}

// ExecuteWithRetry invokes op at most maxAttempts times, moving to the next
// endpoint after every failure. Non-retryable chain errors and context
// cancellation end the loop early.
func ExecuteWithRetry[T any](ctx context.Context, e *Executor, method string, maxAttempts int, op func(ctx context.Context, conn Connection) (T, error)) (T, error) {
	var zero T

	if maxAttempts <= 0 {
		return zero, fmt.Errorf("%s: attempt budget must be positive, got %d", method, maxAttempts)
	}
	endpoints := e.provider.Endpoints()
	if len(endpoints) == 0 {
		return zero, &chains.ChainError{Kind: chains.KindNetwork, Method: method, Err: errors.New("no RPC endpoints configured")}
	}

	// Start at a random position for load balancing
	startIdx := e.pickStart(len(endpoints))
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, e.Backoff(attempt)); err != nil {
				return zero, &RetryError{Method: method, Attempts: attempt, Err: lastErr}
			}
		}

		// Cycle through endpoints, wrapping when there are fewer endpoints than attempts
		endpoint := endpoints[(startIdx+attempt)%len(endpoints)]

		result, err := runAttempt(ctx, e, method, endpoint, op)
		if err == nil {
			return result, nil
		}
		lastErr = err

		kind := chains.KindOf(err)
		if !kind.Retryable() {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, &RetryError{Method: method, Attempts: attempt + 1, Err: lastErr}
		}

		e.logger.Debug("rpc attempt failed",
			"method", method,
			"endpoint", endpoint.URL,
			"attempt", attempt+1,
			"kind", kind,
			"error", err)
	}

	return zero, &RetryError{Method: method, Attempts: maxAttempts, Err: lastErr}
}

func runAttempt[T any](ctx context.Context, e *Executor, method string, endpoint Endpoint, op func(ctx context.Context, conn Connection) (T, error)) (T, error) {
	attemptCtx := ctx
	if e.attemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, e.attemptTimeout)
		defer cancel()
	}

	started := time.Now()
	result, err := op(attemptCtx, endpoint.Conn)
	err = chains.Wrap(method, endpoint.URL, err)

	if e.observer != nil {
		e.observer.ObserveRPCAttempt(method, endpoint.URL, chains.KindOf(err), time.Since(started))
	}
	return result, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
