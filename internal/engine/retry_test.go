package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/provisr-io/provisr/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryWithBackoff_SucceedsAfterTransient(t *testing.T) {
	policy := &RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	attempts := 0
	var retries []int
	err := retryWithBackoff(context.Background(), policy, func() error {
		attempts++
		if attempts < 3 {
			return provider.NewTransient("create", errors.New("throttled"))
		}
		return nil
	}, func(attempt int, err error) {
		retries = append(retries, attempt)
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestRetryWithBackoff_PermanentNotRetried(t *testing.T) {
	policy := &RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	attempts := 0
	err := retryWithBackoff(context.Background(), policy, func() error {
		attempts++
		return provider.NewPermanent("create", errors.New("access denied"))
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithBackoff_BudgetExhausted(t *testing.T) {
	policy := &RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	attempts := 0
	err := retryWithBackoff(context.Background(), policy, func() error {
		attempts++
		return provider.NewTransient("create", errors.New("rate exceeded"))
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "max retries")
}

func TestRetryWithBackoff_Cancelled(t *testing.T) {
	policy := &RetryPolicy{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- retryWithBackoff(ctx, policy, func() error {
			return provider.NewTransient("create", errors.New("timeout"))
		}, nil)
	}()

	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cancelled")
	case <-time.After(time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestBackoffDelay_Capped(t *testing.T) {
	for attempt := 0; attempt < 20; attempt++ {
		d := backoffDelay(attempt, time.Second, 30*time.Second)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 30*time.Second)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"classified transient", provider.NewTransient("create", errors.New("x")), true},
		{"classified permanent", provider.NewPermanent("create", errors.New("x")), false},
		{"permanent with transient-looking message", provider.NewPermanent("create", errors.New("timeout")), false},
		{"throttle message", errors.New("Throttling: Rate exceeded"), true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"plain error", errors.New("invalid parameter"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryable(tt.err))
		})
	}
}

func TestRetryWithBackoff_HonorsRetryAfterHint(t *testing.T) {
	policy := &RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	hinted := provider.NewTransient("create", errors.New("throttled")).
		WithRetryAfter(30 * time.Millisecond)

	attempts := 0
	start := time.Now()
	err := retryWithBackoff(context.Background(), policy, func() error {
		attempts++
		if attempts == 1 {
			return hinted
		}
		return nil
	}, nil)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
