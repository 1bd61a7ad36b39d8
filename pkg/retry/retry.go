package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Config defines retry behavior with exponential backoff
type Config struct {
	MaxRetries       int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	Multiplier       float64
	JitterFactor     float64 // 0.0-1.0, +/- jitter applied to each delay
	MaxSameErrorType int     // After N consecutive same-type errors, treat as permanent (0 disables)
}

// DefaultConfig returns defaults for establishing database connections and
// ads platform sessions: 3 retries starting at 100ms, capped at 5s, doubling
// each time, with 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:       3,
		InitialDelay:     100 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		Multiplier:       2.0,
		JitterFactor:     0.1,
		MaxSameErrorType: 5,
	}
}

// applyJitter returns delay +/- (delay * jitterFactor * random(-1 to +1)).
func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

// wait sleeps for the current delay and returns the next one, or the context error.
func wait(ctx context.Context, cfg *Config, delay time.Duration) (time.Duration, error) {
	select {
	case <-time.After(applyJitter(delay, cfg.JitterFactor)):
		next := time.Duration(float64(delay) * cfg.Multiplier)
		if next > cfg.MaxDelay {
			next = cfg.MaxDelay
		}
		return next, nil
	case <-ctx.Done():
		return delay, ctx.Err()
	}
}

// DoWithResult executes fn with exponential backoff, retrying every error.
// Returns the last result and error once retries are exhausted.
// Respects context cancellation during wait periods
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var result T
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		r, err := fn()
		if err == nil {
			return r, nil
		}
		result, lastErr = r, err

		if attempt < cfg.MaxRetries {
			if delay, err = wait(ctx, cfg, delay); err != nil {
				return result, err
			}
		}
	}

	return result, lastErr
}

// RetryableError is an interface for errors that explicitly declare their retryability.
// apperrors.AdapterError implements it: only transport failures are retryable.
type RetryableError interface {
	error
	IsRetryable() bool
}

// IsRetryable determines if an error is transient and worth retrying.
//
// The function checks errors in this order:
// 1. If any error in the chain implements RetryableError, use its IsRetryable() method
// 2. Otherwise, pattern-match against known retryable error strings
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var r RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		// Connection errors
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"timeout",
		"timed out",
		"temporary failure",
		"too many connections",
		"i/o timeout",
		"network is unreachable",
		"unexpected eof",
		// HTTP status codes
		"429",
		"500",
		"502",
		"503",
		"504",
		// HTTP error messages
		"rate limit",
		"throttl",
		"service unavailable",
		"too many requests",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// classifyErrorType extracts a category from an error so repeated failures of
// the same kind can be detected (e.g. "503", "429", "timeout", "connection").
func classifyErrorType(err error) string {
	if err == nil {
		return "nil"
	}

	errStr := strings.ToLower(err.Error())

	httpCodes := []string{"503", "502", "504", "500", "429", "404", "403", "401", "400"}
	for _, code := range httpCodes {
		if strings.Contains(errStr, code) {
			return code
		}
	}

	switch {
	case strings.Contains(errStr, "connection refused"), strings.Contains(errStr, "connection reset"):
		return "connection"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "timed out"):
		return "timeout"
	case strings.Contains(errStr, "broken pipe"):
		return "broken_pipe"
	case strings.Contains(errStr, "rate limit"), strings.Contains(errStr, "too many requests"), strings.Contains(errStr, "throttl"):
		return "rate_limit"
	}

	return "unknown"
}

// DoIfRetryableWithResult only retries transient errors. Permanent errors
// (bad credentials, schema rejections) return immediately, and after
// MaxSameErrorType consecutive failures of the same type the error is
// escalated to permanent.
// Respects context cancellation during wait periods
func DoIfRetryableWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var zero T
	var lastErr error
	delay := cfg.InitialDelay
	sameErrorCount := 0
	var lastErrorType string

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		r, err := fn()
		if err == nil {
			return r, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return zero, err
		}

		currentErrorType := classifyErrorType(err)
		if currentErrorType == lastErrorType {
			sameErrorCount++
			if cfg.MaxSameErrorType > 0 && sameErrorCount >= cfg.MaxSameErrorType {
				return zero, fmt.Errorf("repeated error (%d times, type=%s): %w", sameErrorCount, currentErrorType, err)
			}
		} else {
			sameErrorCount = 1
			lastErrorType = currentErrorType
		}

		if attempt < cfg.MaxRetries {
			if delay, err = wait(ctx, cfg, delay); err != nil {
				return zero, err
			}
		}
	}

	return zero, lastErr
}
