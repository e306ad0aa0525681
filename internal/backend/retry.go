package backend

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// RetryConfig controls the backoff schedule for transient backend failures.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// HTTPError is returned when the backend answers with a non-200 status;
// Status 429 and 5xx are treated as retryable by RetryDo. Transport-level
// failures (connection errors, timeouts) are plain errors and not retried.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string { return e.Body }

func (e *HTTPError) retryable() bool {
	return e.Status == 429 || e.Status >= 500
}

// ParseRetryAfter parses an HTTP Retry-After header value given in seconds.
// Returns 0 if the header is absent or unparsable.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// RetryDo runs fn up to cfg.MaxAttempts times, backing off between attempts.
// Only HTTPError failures marked retryable() are retried; any other error
// (including ctx cancellation) returns immediately.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	delay := cfg.BaseDelay

	for attempt := 1; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}

		var httpErr *HTTPError
		retryable := errors.As(err, &httpErr) && httpErr.retryable()
		if !retryable || attempt >= cfg.MaxAttempts {
			return zero, err
		}

		wait := delay
		if httpErr.RetryAfter > 0 {
			wait = httpErr.RetryAfter
		}
		if wait > cfg.MaxDelay {
			wait = cfg.MaxDelay
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}

		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}
