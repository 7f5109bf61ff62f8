package util

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls exponential backoff for ledger calls
type RetryConfig struct {
	MaxRetries int           // retries after the first attempt; -1 retries until ctx ends
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration
	Multiplier float64 // defaults to 2
	Jitter     float64 // fraction of the delay randomised in both directions, 0..1

	// RetryIf decides whether an error is worth another attempt.
	// Nil retries everything not marked with MarkNonRetryable.
	RetryIf func(error) bool
}

// DefaultRetryConfig suits RPC reads: a few fast attempts, capped at 30s.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// RetryResult describes how a retried call ended
type RetryResult struct {
	Attempts  int
	LastError error
	Duration  time.Duration
}

var (
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrContextCanceled    = errors.New("context canceled during retry")
)

// Retry runs fn until it succeeds, the error is not retryable, retries are
// exhausted, or ctx is done.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) *RetryResult {
	_, res := RetryWithValue(ctx, config, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return res
}

// RetryWithValue is Retry for functions that produce a value. On failure the
// zero value is returned alongside the result.
func RetryWithValue[T any](ctx context.Context, config *RetryConfig, fn func() (T, error)) (T, *RetryResult) {
	if config == nil {
		config = DefaultRetryConfig()
	}
	shouldRetry := config.RetryIf
	if shouldRetry == nil {
		shouldRetry = func(err error) bool { return !IsNonRetryable(err) }
	}

	var zero T
	res := &RetryResult{}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	for {
		res.Attempts++
		val, err := fn()
		if err == nil {
			res.LastError = nil
			return val, res
		}
		res.LastError = err

		if !shouldRetry(err) {
			return zero, res
		}
		if config.MaxRetries >= 0 && res.Attempts > config.MaxRetries {
			res.LastError = errors.Join(ErrMaxRetriesExceeded, err)
			return zero, res
		}

		timer := time.NewTimer(backoff(config, res.Attempts))
		select {
		case <-ctx.Done():
			timer.Stop()
			res.LastError = errors.Join(ErrContextCanceled, ctx.Err(), err)
			return zero, res
		case <-timer.C:
		}
	}
}

// backoff returns BaseDelay * Multiplier^(attempt-1), jittered and capped.
func backoff(config *RetryConfig, attempt int) time.Duration {
	mult := config.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	delay := float64(config.BaseDelay) * math.Pow(mult, float64(attempt-1))

	if config.Jitter > 0 {
		spread := delay * config.Jitter
		delay += (rand.Float64()*2 - 1) * spread
	}
	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

type nonRetryableError struct{ err error }

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// MarkRetryable flags err for RetryIfMarked
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// MarkNonRetryable stops the default RetryIf from retrying err
func MarkNonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

func IsNonRetryable(err error) bool {
	var nre *nonRetryableError
	return errors.As(err, &nre)
}

// RetryIfMarked retries only errors wrapped with MarkRetryable
func RetryIfMarked() func(error) bool {
	return IsRetryable
}

// RetryOn retries only errors matching one of targets via errors.Is
func RetryOn(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, t := range targets {
			if errors.Is(err, t) {
				return true
			}
		}
		return false
	}
}
