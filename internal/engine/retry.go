package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/provisr-io/provisr/pkg/provider"
)

// DefaultCreateTimeout bounds a single resource's provisioning, including
// any secondary waits the capability performs.
const DefaultCreateTimeout = 30 * time.Minute

// DefaultRetryMax is the default attempt ceiling for transient failures.
const DefaultRetryMax = 3

// RetryPolicy defines backoff behavior for transient provider errors.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy returns a sensible default retry policy.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: DefaultRetryMax,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// retryWithBackoff executes fn with exponential backoff and jitter, retrying
// only errors classified transient. onRetry is invoked before each re-attempt
// so the scheduler can surface Retrying state. A provider-supplied RetryAfter
// hint overrides the computed delay.
func retryWithBackoff(ctx context.Context, policy *RetryPolicy, fn func() error, onRetry func(attempt int, err error)) error {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !isRetryable(lastErr) {
			return lastErr
		}

		if attempt < policy.MaxRetries {
			delay := backoffDelay(attempt, policy.BaseDelay, policy.MaxDelay)
			var pe *provider.Error
			if errors.As(lastErr, &pe) && pe.RetryAfter > 0 {
				delay = pe.RetryAfter
			}
			if onRetry != nil {
				onRetry(attempt+1, lastErr)
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", policy.MaxRetries, lastErr)
}

// backoffDelay returns exponential backoff with full jitter.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	backoff := float64(base) * math.Pow(2, float64(attempt))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	return time.Duration(rand.Float64() * backoff)
}

// isRetryable consults the provider's error classification first and falls
// back to pattern matching for errors from backends that do not classify.
func isRetryable(err error) bool {
	if provider.IsPermanent(err) {
		return false
	}
	if provider.IsTransient(err) {
		return true
	}
	return looksTransient(err)
}

var transientPatterns = []string{
	"throttl",
	"rate exceed",
	"too many requests",
	"request limit",
	"service unavailable",
	"internal server error",
	"connection reset",
	"connection refused",
	"timeout",
	"tls handshake",
	"i/o timeout",
	"temporary failure",
}

// looksTransient checks for common cloud API throttling and network error
// messages.
func looksTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
