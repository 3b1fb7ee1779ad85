// Copyright 2024. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package process

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Readiness defaults
const (
	DefaultInitial     = 50 * time.Millisecond
	DefaultStep        = 10 * time.Millisecond
	DefaultMaxAttempts = 30
	DefaultMaxElapsed  = 15 * time.Second
)

// Clock abstracts time so the backoff can run against a fake one
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SystemClock is the wall clock
var SystemClock Clock = systemClock{}

// StartupError means the server never became ready
type StartupError struct {
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("httpmock: server not ready after %d attempts (%s): %v", e.Attempts, e.Elapsed, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps an error that must stop Retry at once
func Permanent(err error) error {
	return &permanentError{err: err}
}

// FibonacciBackoff sleeps before every attempt for durations drawn from the
// Fibonacci sequence seeded with Initial and Step: Initial, Step,
// Initial+Step, Initial+2*Step, ...
type FibonacciBackoff struct {
	Initial     time.Duration
	Step        time.Duration
	MaxAttempts int
	MaxElapsed  time.Duration
	Clock       Clock
}

// DefaultBackoff returns the readiness policy of the process manager
func DefaultBackoff() FibonacciBackoff {
	return FibonacciBackoff{
		Initial:     DefaultInitial,
		Step:        DefaultStep,
		MaxAttempts: DefaultMaxAttempts,
		MaxElapsed:  DefaultMaxElapsed,
		Clock:       SystemClock,
	}
}

// Delays returns the first n sleep durations
func (b FibonacciBackoff) Delays(n int) []time.Duration {
	delays := make([]time.Duration, 0, n)

	prev, cur := b.Initial, b.Step
	for i := 0; i < n; i++ {
		switch i {
		case 0:
			delays = append(delays, prev)
		case 1:
			delays = append(delays, cur)
		default:
			prev, cur = cur, prev+cur
			delays = append(delays, cur)
		}
	}

	return delays
}

// Retry runs op after each sleep until it succeeds, returns a Permanent
// error, or a bound is reached. Failures are reported as *StartupError.
func (b FibonacciBackoff) Retry(ctx context.Context, op func(ctx context.Context) error) error {
	clock := b.Clock
	if clock == nil {
		clock = SystemClock
	}

	maxAttempts := b.MaxAttempts
	if maxAttempts <= 0 && b.MaxElapsed <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	start := clock.Now()
	prev, cur := b.Initial, b.Step

	var lastErr error
	for attempt := 1; ; attempt++ {
		var delay time.Duration
		switch attempt {
		case 1:
			delay = prev
		case 2:
			delay = cur
		default:
			prev, cur = cur, prev+cur
			delay = cur
		}

		if err := clock.Sleep(ctx, delay); err != nil {
			return &StartupError{Attempts: attempt - 1, Elapsed: clock.Now().Sub(start), Err: err}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var permanent *permanentError
		if errors.As(err, &permanent) {
			return &StartupError{Attempts: attempt, Elapsed: clock.Now().Sub(start), Err: permanent.err}
		}

		elapsed := clock.Now().Sub(start)
		if (maxAttempts > 0 && attempt >= maxAttempts) || (b.MaxElapsed > 0 && elapsed >= b.MaxElapsed) {
			return &StartupError{Attempts: attempt, Elapsed: elapsed, Err: lastErr}
		}
	}
}
