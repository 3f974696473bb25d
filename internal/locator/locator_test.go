package locator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loam-mem/loam/internal/errors"
)

// fastOptions keeps retry machinery out of test wall-clock time.
func fastOptions() Options {
	return Options{
		Timeout:    50 * time.Millisecond,
		MaxRetries: 2,
		RetryDelay: 5 * time.Millisecond,
		FailureTTL: 100 * time.Millisecond,
		Fallback:   "silent",
	}
}

func TestResolve_ReadyRegistry(t *testing.T) {
	l := New(fastOptions(), nil)
	l.Register("greeter", "hello")

	result := l.Resolve(context.Background(), "greeter")
	require.True(t, result.Success)
	require.Equal(t, "hello", result.Service)
	require.NoError(t, result.Err)
	require.Equal(t, 1, result.Diagnostics.Attempts)
	require.Equal(t, []string{StrategyRegistry}, result.Diagnostics.Strategies)
}

func TestResolve_FactoryPromotedToReady(t *testing.T) {
	l := New(fastOptions(), nil)
	calls := 0
	l.RegisterFactory("lazy", func(ctx context.Context) (any, error) {
		calls++
		return 42, nil
	})

	result := l.Resolve(context.Background(), "lazy")
	require.True(t, result.Success)
	require.Equal(t, 42, result.Service)
	require.Contains(t, result.Diagnostics.Strategies, StrategyFactory)

	// Second resolution hits the ready registry; the factory is not re-run.
	again := l.Resolve(context.Background(), "lazy")
	require.True(t, again.Success)
	require.Equal(t, 1, calls)
	require.Equal(t, []string{StrategyRegistry}, again.Diagnostics.Strategies)
}

func TestResolve_LegacyFallback(t *testing.T) {
	l := New(fastOptions(), nil)
	l.RegisterLegacy("old", "legacy-service")

	result := l.Resolve(context.Background(), "old")
	require.True(t, result.Success)
	require.Equal(t, "legacy-service", result.Service)
	require.Equal(t, []string{StrategyRegistry, StrategyLegacy}, result.Diagnostics.Strategies)
}

func TestResolve_AllStrategiesFail(t *testing.T) {
	opts := fastOptions()
	opts.MaxRetries = 1
	l := New(opts, nil)

	result := l.Resolve(context.Background(), "ghost")
	require.False(t, result.Success)
	require.Nil(t, result.Service)
	require.Error(t, result.Err)
	require.True(t, errors.Is(result.Err, errors.ErrServiceUnavailable))
	require.Equal(t, 2, result.Diagnostics.Attempts)
	// Diagnostics name every attempted strategy, across both attempts.
	require.Equal(t, []string{
		StrategyRegistry, StrategyLegacy,
		StrategyRegistry, StrategyLegacy,
	}, result.Diagnostics.Strategies)
}

func TestResolve_RetriesCoverLateRegistration(t *testing.T) {
	opts := fastOptions()
	opts.MaxRetries = 5
	opts.RetryDelay = 10 * time.Millisecond
	l := New(opts, nil)

	// Dependent races ahead of asynchronous startup: the service appears
	// only after resolution has already begun.
	go func() {
		time.Sleep(20 * time.Millisecond)
		l.Register("slow-starter", "ready now")
	}()

	result := l.Resolve(context.Background(), "slow-starter")
	require.True(t, result.Success)
	require.Equal(t, "ready now", result.Service)
	require.Greater(t, result.Diagnostics.Attempts, 1)
}

func TestResolve_FactoryErrorFallsThrough(t *testing.T) {
	opts := fastOptions()
	opts.MaxRetries = 0
	l := New(opts, nil)
	l.RegisterFactory("broken", func(ctx context.Context) (any, error) {
		return nil, fmt.Errorf("not ready")
	})
	l.RegisterLegacy("broken", "fallback")

	result := l.Resolve(context.Background(), "broken")
	require.True(t, result.Success)
	require.Equal(t, "fallback", result.Service)
}

func TestResolve_FactoryTimeoutDoesNotHang(t *testing.T) {
	opts := fastOptions()
	opts.Timeout = 10 * time.Millisecond
	opts.MaxRetries = 0
	l := New(opts, nil)
	l.RegisterFactory("hang", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	start := time.Now()
	result := l.Resolve(context.Background(), "hang")
	require.False(t, result.Success)
	require.Less(t, time.Since(start), time.Second)
}

func TestResolve_FactoryPanicDoesNotPropagate(t *testing.T) {
	opts := fastOptions()
	opts.MaxRetries = 0
	l := New(opts, nil)
	l.RegisterFactory("bomb", func(ctx context.Context) (any, error) {
		panic("boom")
	})

	require.NotPanics(t, func() {
		result := l.Resolve(context.Background(), "bomb")
		require.False(t, result.Success)
		require.Error(t, result.Err)
	})
}

func TestResolve_FailureCached(t *testing.T) {
	opts := fastOptions()
	opts.MaxRetries = 3
	opts.RetryDelay = 20 * time.Millisecond
	opts.FailureTTL = time.Minute
	l := New(opts, nil)

	first := l.Resolve(context.Background(), "absent")
	require.False(t, first.Success)
	require.False(t, first.Diagnostics.CachedFailure)

	// Repeated callers during the TTL answer from the cache without paying
	// the retry cost again.
	start := time.Now()
	second := l.Resolve(context.Background(), "absent")
	require.False(t, second.Success)
	require.True(t, second.Diagnostics.CachedFailure)
	require.Less(t, time.Since(start), opts.RetryDelay)
}

func TestResolve_SuccessClearsFailureCache(t *testing.T) {
	opts := fastOptions()
	opts.FailureTTL = time.Minute
	l := New(opts, nil)

	require.False(t, l.Resolve(context.Background(), "late").Success)

	l.Register("late", "here")
	result := l.Resolve(context.Background(), "late")
	require.True(t, result.Success)
	require.False(t, result.Diagnostics.CachedFailure)
}

func TestResolve_Typed(t *testing.T) {
	l := New(fastOptions(), nil)
	l.Register("number", 7)

	n, err := Resolve[int](context.Background(), l, "number")
	require.NoError(t, err)
	require.Equal(t, 7, n)

	_, err = Resolve[string](context.Background(), l, "number")
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.ErrInternal))

	_, err = Resolve[int](context.Background(), l, "missing")
	require.True(t, errors.Is(err, errors.ErrServiceUnavailable))
}

func TestResolve_ContextCancellationStopsRetries(t *testing.T) {
	opts := fastOptions()
	opts.MaxRetries = 100
	opts.RetryDelay = 20 * time.Millisecond
	l := New(opts, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	result := l.Resolve(ctx, "never")
	require.False(t, result.Success)
	require.Less(t, time.Since(start), time.Second)
}
