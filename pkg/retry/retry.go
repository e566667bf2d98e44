package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/veritas-qms/veritas-engine/pkg/apperrors"
)

// Config defines retry behavior with exponential backoff
type Config struct {
	MaxRetries   int           `yaml:"max_retries" env:"DATASOURCE_RETRY_MAX" env-default:"3"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"DATASOURCE_RETRY_INITIAL_DELAY" env-default:"100ms"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"DATASOURCE_RETRY_MAX_DELAY" env-default:"2s"`
	Multiplier   float64       `yaml:"multiplier" env:"DATASOURCE_RETRY_MULTIPLIER" env-default:"2.0"`
	JitterFactor float64       `yaml:"jitter_factor" env:"DATASOURCE_RETRY_JITTER" env-default:"0.1"` // 0.0-1.0
}

// DefaultConfig returns the defaults used for data provider reads:
// 3 retries with 100ms initial delay, capped at 2s, doubling each time, with 10% jitter
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
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

// transientError marks an error as worth retrying.
type transientError struct {
	err error
}

func (e *transientError) Error() string     { return e.err.Error() }
func (e *transientError) Unwrap() error     { return e.err }
func (e *transientError) IsRetryable() bool { return true }

// Transient wraps err so IsRetryable reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsRetryable determines if an error is transient and worth retrying.
//
// Caller errors (invalid input, unknown keys) and context cancellation are
// never retried. Errors that declare IsRetryable() are trusted; anything else
// is matched against known transient failure messages.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, apperrors.ErrInvalidInput) || errors.Is(err, apperrors.ErrNotFound) {
		return false
	}

	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"timeout",
		"timed out",
		"temporarily unavailable",
		"temporary failure",
		"service unavailable",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// Do executes fn, retrying transient failures with exponential backoff.
// Permanent errors are returned immediately. Respects context cancellation
// during wait periods.
func Do(ctx context.Context, cfg *Config, fn func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult is Do for functions that return a value.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var zero T
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		r, err := fn()
		if err == nil {
			return r, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return zero, err
		}

		if attempt < cfg.MaxRetries {
			select {
			case <-time.After(applyJitter(delay, cfg.JitterFactor)):
				delay = time.Duration(float64(delay) * cfg.Multiplier)
				if delay > cfg.MaxDelay {
					delay = cfg.MaxDelay
				}
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
	}

	return zero, lastErr
}
