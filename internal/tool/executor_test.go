package tool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registryWithWeatherAndSearch(t *testing.T, invocations *int32) *Registry {
	r := NewRegistry(nil)
	r.Register(Tool{
		Name:       "get_weather",
		IsReadonly: true,
		Schema:     map[string]any{"required": []any{"city"}},
		Handler: func(ctx context.Context, args map[string]any) (string, any, error) {
			atomic.AddInt32(invocations, 1)
			time.Sleep(10 * time.Millisecond)
			return "sunny", nil, nil
		},
	})
	r.Register(Tool{
		Name:       "search_web",
		IsReadonly: true,
		Schema:     map[string]any{"required": []any{"query"}},
		Handler: func(ctx context.Context, args map[string]any) (string, any, error) {
			atomic.AddInt32(invocations, 1)
			time.Sleep(10 * time.Millisecond)
			return "news results", nil, nil
		},
	})
	return r
}

func TestS2ParallelReadsAndCache(t *testing.T) {
	var invocations int32
	registry := registryWithWeatherAndSearch(t, &invocations)
	exec := NewExecutor(registry)

	start := time.Now()
	results := exec.RunBatch(context.Background(), []Call{
		{ID: "1", Name: "get_weather", Arguments: map[string]any{"city": "SF"}},
		{ID: "2", Name: "search_web", Arguments: map[string]any{"query": "news SF"}},
	})
	elapsed := time.Since(start)

	require.Len(t, results, 2)
	assert.Equal(t, "1", results[0].CallID)
	assert.Equal(t, "2", results[1].CallID)
	assert.True(t, results[0].OK)
	assert.True(t, results[1].OK)
	assert.Less(t, elapsed, 19*time.Millisecond, "reads should run concurrently, not serially")

	// Second identical call within TTL should be served from cache.
	results2 := exec.RunBatch(context.Background(), []Call{
		{ID: "3", Name: "get_weather", Arguments: map[string]any{"city": "SF"}},
	})
	assert.True(t, results2[0].FromCache)
	assert.Equal(t, int32(2), atomic.LoadInt32(&invocations), "cached call must not invoke handler again")
}

func TestS3WriteThenReadBarrier(t *testing.T) {
	var order []string
	var mu sync.Mutex
	registry := NewRegistry(nil)
	registry.Register(Tool{
		Name: "write_file",
		Handler: func(ctx context.Context, args map[string]any) (string, any, error) {
			mu.Lock()
			order = append(order, "write")
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			return "wrote", nil, nil
		},
	})
	registry.Register(Tool{
		Name:       "read_file",
		IsReadonly: true,
		Handler: func(ctx context.Context, args map[string]any) (string, any, error) {
			mu.Lock()
			order = append(order, "read")
			mu.Unlock()
			return "contents", nil, nil
		},
	})

	exec := NewExecutor(registry)
	results := exec.RunBatch(context.Background(), []Call{
		{ID: "1", Name: "write_file", Arguments: map[string]any{"path": "p"}},
		{ID: "2", Name: "read_file", Arguments: map[string]any{"path": "p"}},
	})

	require.Len(t, results, 2)
	assert.Equal(t, []string{"write", "read"}, order)
	assert.Equal(t, "1", results[0].CallID)
	assert.Equal(t, "2", results[1].CallID)
}

func TestDeduplicatesIdenticalCallsWithinBatch(t *testing.T) {
	var invocations int32
	registry := NewRegistry(nil)
	registry.Register(Tool{
		Name:       "lookup",
		IsReadonly: true,
		Handler: func(ctx context.Context, args map[string]any) (string, any, error) {
			atomic.AddInt32(&invocations, 1)
			return "value", nil, nil
		},
	})

	exec := NewExecutor(registry)
	results := exec.RunBatch(context.Background(), []Call{
		{ID: "1", Name: "lookup", Arguments: map[string]any{"k": "x"}},
		{ID: "2", Name: "lookup", Arguments: map[string]any{"k": "x"}},
	})

	require.Len(t, results, 2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&invocations))
	assert.Equal(t, results[0].Value, results[1].Value)
}

func TestUnknownToolReturnsToolNotFound(t *testing.T) {
	exec := NewExecutor(NewRegistry(nil))
	results := exec.RunBatch(context.Background(), []Call{{ID: "1", Name: "ghost"}})
	require.Len(t, results, 1)
	assert.False(t, results[0].OK)
	assert.Equal(t, "tool_not_found", results[0].ErrorKind)
}

func TestCircuitBreakerOpensAfterRepeatedFailuresAndShortCircuits(t *testing.T) {
	var invocations int32
	registry := NewRegistry(nil)
	registry.Register(Tool{
		Name:       "always_fails",
		IsReadonly: true,
		MaxRetries: 1, // no internal retry backoff, so the test runs fast
		Handler: func(ctx context.Context, args map[string]any) (string, any, error) {
			atomic.AddInt32(&invocations, 1)
			return "", nil, assert.AnError
		},
	})
	exec := NewExecutor(registry)

	for i := 0; i < 5; i++ {
		results := exec.RunBatch(context.Background(), []Call{{ID: "1", Name: "always_fails"}})
		require.False(t, results[0].OK)
		assert.Equal(t, "tool_error", results[0].ErrorKind)
	}
	require.Equal(t, int32(5), atomic.LoadInt32(&invocations))

	results := exec.RunBatch(context.Background(), []Call{{ID: "1", Name: "always_fails"}})
	require.False(t, results[0].OK)
	assert.Equal(t, "circuit_open", results[0].ErrorKind)
	assert.Equal(t, int32(5), atomic.LoadInt32(&invocations), "breaker should short-circuit without invoking the handler again")
}

func TestInvalidArgumentsFailFastWithoutInvokingHandler(t *testing.T) {
	var invoked bool
	registry := NewRegistry(nil)
	registry.Register(Tool{
		Name:       "needs_city",
		IsReadonly: true,
		Schema:     map[string]any{"required": []any{"city"}},
		Handler: func(ctx context.Context, args map[string]any) (string, any, error) {
			invoked = true
			return "", nil, nil
		},
	})

	exec := NewExecutor(registry)
	results := exec.RunBatch(context.Background(), []Call{{ID: "1", Name: "needs_city", Arguments: map[string]any{}}})
	require.Len(t, results, 1)
	assert.False(t, results[0].OK)
	assert.Equal(t, "invalid_arguments", results[0].ErrorKind)
	assert.False(t, invoked)
}
