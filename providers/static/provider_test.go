package static

import (
	"context"
	"testing"
	"time"

	"github.com/provisr-io/provisr/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Capability conformance: Configure -> Create -> repeated Create is
// idempotent on the assigned name.

func TestConformance_CreateLifecycle(t *testing.T) {
	ctx := context.Background()
	p := New()

	require.NoError(t, p.Configure(ctx, nil))
	assert.Contains(t, p.Kinds(), "static.value")

	resp, err := p.Create(ctx, &provider.CreateRequest{
		Kind:   "static.value",
		Name:   "test",
		Inputs: map[string]any{"value": "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Outputs["value"])
	assert.Equal(t, "static-test", resp.Outputs["id"])
}

func TestConformance_CreateIdempotent(t *testing.T) {
	ctx := context.Background()
	p := New()

	first, err := p.Create(ctx, &provider.CreateRequest{
		Kind:   "static.value",
		Name:   "test",
		Inputs: map[string]any{"value": "hello"},
	})
	require.NoError(t, err)

	// A retried create must not produce a second physical resource.
	second, err := p.Create(ctx, &provider.CreateRequest{
		Kind:   "static.value",
		Name:   "test",
		Inputs: map[string]any{"value": "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, first.Outputs, second.Outputs)
	assert.Equal(t, 2, p.CreateCalls("test"))
}

func TestCreate_ScriptedTransientFailures(t *testing.T) {
	ctx := context.Background()
	p := New()

	req := &provider.CreateRequest{
		Kind:   "static.value",
		Name:   "flaky",
		Inputs: map[string]any{"failUntil": 2, "value": "v"},
	}

	_, err := p.Create(ctx, req)
	require.Error(t, err)
	assert.True(t, provider.IsTransient(err))

	_, err = p.Create(ctx, req)
	require.Error(t, err)
	assert.True(t, provider.IsTransient(err))

	// Third attempt succeeds.
	resp, err := p.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "v", resp.Outputs["value"])
	assert.Equal(t, 3, p.CreateCalls("flaky"))
}

func TestCreate_ScriptedPermanentFailure(t *testing.T) {
	ctx := context.Background()
	p := New()

	_, err := p.Create(ctx, &provider.CreateRequest{
		Kind:   "static.value",
		Name:   "doomed",
		Inputs: map[string]any{"failWith": "permanent"},
	})
	require.Error(t, err)
	assert.True(t, provider.IsPermanent(err))

	// Permanent failures replay on every attempt.
	_, err = p.Create(ctx, &provider.CreateRequest{
		Kind:   "static.value",
		Name:   "doomed",
		Inputs: map[string]any{"failWith": "permanent"},
	})
	require.Error(t, err)
	assert.True(t, provider.IsPermanent(err))
}

func TestCreate_ScriptedDelay(t *testing.T) {
	p := New()

	start := time.Now()
	_, err := p.Create(context.Background(), &provider.CreateRequest{
		Kind:   "static.value",
		Name:   "slow",
		Inputs: map[string]any{"delayMs": 20},
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Create(ctx, &provider.CreateRequest{
		Kind:   "static.value",
		Name:   "cancelled",
		Inputs: map[string]any{"delayMs": 5000},
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestCreate_BadDelayInput(t *testing.T) {
	p := New()

	_, err := p.Create(context.Background(), &provider.CreateRequest{
		Kind:   "static.value",
		Name:   "bad",
		Inputs: map[string]any{"delayMs": "soon"},
	})
	require.Error(t, err)
	assert.True(t, provider.IsPermanent(err))
}

func TestCreate_UnknownKind(t *testing.T) {
	ctx := context.Background()
	p := New()

	_, err := p.Create(ctx, &provider.CreateRequest{Kind: "static.bogus", Name: "x"})
	require.Error(t, err)
	assert.True(t, provider.IsPermanent(err))
}
