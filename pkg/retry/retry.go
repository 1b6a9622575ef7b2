// Package retry retries transient failures of external fetches with
// exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
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
	JitterFactor     float64 // 0.0-1.0, +/- fraction applied to each delay
	MaxSameErrorType int     // After N consecutive same-type errors, treat as permanent
}

// DefaultConfig returns defaults for HTTP fetches against external sources:
// 2 retries starting at 250ms, capped at 5s, doubling, with 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:       2,
		InitialDelay:     250 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		Multiplier:       2.0,
		JitterFactor:     0.1,
		MaxSameErrorType: 5,
	}
}

// WithMaxRetries returns the default config with a different retry count.
func WithMaxRetries(n int) *Config {
	cfg := DefaultConfig()
	cfg.MaxRetries = n
	return cfg
}

// applyJitter returns delay +/- (delay * jitterFactor * random(-1 to +1)).
func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

// Backoff returns the jittered delay to wait before retry number n (1-based):
// InitialDelay * Multiplier^(n-1), capped at MaxDelay.
func Backoff(cfg *Config, n int) time.Duration {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if n < 1 {
		n = 1
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(n-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return applyJitter(time.Duration(delay), cfg.JitterFactor)
}

// run drives the backoff loop. stop decides, after a failed attempt, whether
// to give up early and with which error.
func run(ctx context.Context, cfg *Config, fn func() error, stop func(err error) (bool, error)) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if stop != nil {
			if done, stopErr := stop(err); done {
				return stopErr
			}
		}

		if attempt == cfg.MaxRetries {
			break
		}

		select {
		case <-time.After(Backoff(cfg, attempt+1)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}

// Do executes fn with exponential backoff retry logic.
// Returns nil on success, or the last error after all retries are exhausted.
func Do(ctx context.Context, cfg *Config, fn func() error) error {
	return run(ctx, cfg, fn, nil)
}

// DoWithResult is Do for functions that return a value. The last result is
// returned even on error.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	var result T
	err := run(ctx, cfg, func() error {
		r, err := fn()
		result = r
		return err
	}, nil)
	return result, err
}

// RetryableError is implemented by errors that declare their own retryability,
// such as HTTP status errors from source adapters.
type RetryableError interface {
	error
	IsRetryable() bool
}

var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"timeout",
	"timed out",
	"temporary failure",
	"too many connections",
	"deadlock",
	"network is unreachable",
	"unexpected eof",
	"rate limit",
	"service unavailable",
	"too many requests",
}

// IsRetryable determines if an error is transient and worth retrying.
// Errors implementing RetryableError anywhere in the chain decide for
// themselves; everything else is matched against known transient messages.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var r RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// classifyErrorType buckets an error so repeated failures of the same kind
// can be detected.
func classifyErrorType(err error) string {
	errStr := strings.ToLower(err.Error())

	for _, code := range []string{"503", "502", "504", "500", "429"} {
		if strings.Contains(errStr, code) {
			return code
		}
	}

	switch {
	case strings.Contains(errStr, "connection refused"), strings.Contains(errStr, "connection reset"):
		return "connection"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "timed out"):
		return "timeout"
	case strings.Contains(errStr, "rate limit"), strings.Contains(errStr, "too many requests"):
		return "rate_limit"
	}
	return "unknown"
}

// DoIfRetryable only retries transient errors; permanent ones (auth failures,
// 404s, malformed responses) return immediately. After MaxSameErrorType
// consecutive failures of the same type the error is treated as permanent.
func DoIfRetryable(ctx context.Context, cfg *Config, fn func() error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	sameErrorCount := 0
	var lastErrorType string

	return run(ctx, cfg, fn, func(err error) (bool, error) {
		if !IsRetryable(err) {
			return true, err
		}

		currentErrorType := classifyErrorType(err)
		if currentErrorType == lastErrorType {
			sameErrorCount++
			if cfg.MaxSameErrorType > 0 && sameErrorCount >= cfg.MaxSameErrorType {
				return true, fmt.Errorf("repeated error (%d times, type=%s): %w", sameErrorCount, currentErrorType, err)
			}
		} else {
			sameErrorCount = 1
			lastErrorType = currentErrorType
		}
		return false, nil
	})
}
