// Package locator provides resilient service resolution for consumers that
// race ahead of asynchronous startup. Resolution tries a ready registry, a
// timed async factory, and a legacy direct map in order, retries the whole
// chain with a fixed delay, and caches failures briefly so repeated callers
// do not each pay full retry cost. Resolve never panics: the caller-visible
// contract is always a structured Result.
package locator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loam-mem/loam/internal/config"
	"github.com/loam-mem/loam/internal/errors"
)

// Strategy names reported in diagnostics.
const (
	StrategyRegistry = "registry"
	StrategyFactory  = "factory"
	StrategyLegacy   = "legacy"
)

// Factory builds a service on demand. It is called with a context already
// bounded by the locator's probe timeout.
type Factory func(ctx context.Context) (any, error)

// Options tunes resolution behavior.
type Options struct {
	// Timeout bounds a single factory probe. It does not bound storage I/O
	// performed by a resolved service.
	Timeout time.Duration

	// MaxRetries is how many times the full strategy chain is retried after
	// the first failed attempt.
	MaxRetries int

	// RetryDelay is the fixed delay between attempts.
	RetryDelay time.Duration

	// FailureTTL is how long a failed resolution is remembered.
	FailureTTL time.Duration

	// Fallback controls logging only: "fail" logs at error level, "warn" at
	// warn level, "silent" not at all. The returned Result is identical.
	Fallback string
}

// OptionsFromConfig maps config tunables onto locator options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Timeout:    time.Duration(cfg.LocatorTimeoutMS) * time.Millisecond,
		MaxRetries: cfg.LocatorMaxRetries,
		RetryDelay: time.Duration(cfg.LocatorRetryDelayMS) * time.Millisecond,
		FailureTTL: time.Duration(cfg.LocatorFailureTTLMS) * time.Millisecond,
		Fallback:   cfg.LocatorFallback,
	}
}

// Diagnostics describes how a resolution went, success or not.
type Diagnostics struct {
	Service       string        `json:"service"`
	Attempts      int           `json:"attempts"`
	Strategies    []string      `json:"strategies"`
	CachedFailure bool          `json:"cachedFailure"`
	Elapsed       time.Duration `json:"elapsed"`
}

// Result is the caller-visible resolution outcome.
type Result struct {
	Success     bool
	Service     any
	Err         error
	Diagnostics Diagnostics
}

type failureEntry struct {
	at  time.Time
	err error
}

// Locator resolves named services through the three-strategy chain.
type Locator struct {
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	ready     map[string]any
	factories map[string]Factory
	legacy    map[string]any
	failures  map[string]failureEntry
}

// New creates a locator. Zero-valued options fall back to the defaults from
// config.DefaultConfig.
func New(opts Options, logger *slog.Logger) *Locator {
	def := OptionsFromConfig(config.DefaultConfig())
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.FailureTTL <= 0 {
		opts.FailureTTL = def.FailureTTL
	}
	if opts.Fallback == "" {
		opts.Fallback = def.Fallback
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{
		opts:      opts,
		logger:    logger,
		ready:     make(map[string]any),
		factories: make(map[string]Factory),
		legacy:    make(map[string]any),
		failures:  make(map[string]failureEntry),
	}
}

// Register marks a service as ready for synchronous lookup.
func (l *Locator) Register(name string, svc any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ready[name] = svc
	delete(l.failures, name)
}

// RegisterFactory installs an async factory probed when the ready registry
// misses. The first successful build is promoted into the ready registry.
func (l *Locator) RegisterFactory(name string, f Factory) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.factories[name] = f
	delete(l.failures, name)
}

// RegisterLegacy installs a service reachable only through the last-resort
// direct lookup, for dependents wired before the registry existed.
func (l *Locator) RegisterLegacy(name string, svc any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.legacy[name] = svc
	delete(l.failures, name)
}

// Resolve locates a service by name. It never panics; every outcome is a
// structured Result.
func (l *Locator) Resolve(ctx context.Context, name string) (result Result) {
	start := time.Now()
	result.Diagnostics.Service = name

	// Resolution must never escape as a panic, even from a misbehaving
	// factory resolved inline.
	defer func() {
		if r := recover(); r != nil {
			result = l.failed(name, result.Diagnostics,
				errors.NewInternal(fmt.Errorf("panic during resolution: %v", r)), start)
		}
	}()

	// Recently failed? Answer from the cache instead of retrying.
	l.mu.Lock()
	if entry, ok := l.failures[name]; ok {
		if time.Since(entry.at) < l.opts.FailureTTL {
			l.mu.Unlock()
			result.Diagnostics.CachedFailure = true
			result.Diagnostics.Elapsed = time.Since(start)
			result.Err = entry.err
			return result
		}
		delete(l.failures, name)
	}
	l.mu.Unlock()

	attempts := l.opts.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		result.Diagnostics.Attempts = attempt

		if svc, ok := l.tryStrategies(ctx, name, &result.Diagnostics); ok {
			l.mu.Lock()
			l.ready[name] = svc
			delete(l.failures, name)
			l.mu.Unlock()

			result.Success = true
			result.Service = svc
			result.Diagnostics.Elapsed = time.Since(start)
			return result
		}

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return l.failed(name, result.Diagnostics,
					errors.NewServiceUnavailable(name, result.Diagnostics.Strategies), start)
			case <-time.After(l.opts.RetryDelay):
			}
		}
	}

	return l.failed(name, result.Diagnostics,
		errors.NewServiceUnavailable(name, result.Diagnostics.Strategies), start)
}

// tryStrategies runs one pass over the strategy chain.
func (l *Locator) tryStrategies(ctx context.Context, name string, diag *Diagnostics) (any, bool) {
	// (a) synchronous ready-registry lookup
	diag.Strategies = append(diag.Strategies, StrategyRegistry)
	l.mu.Lock()
	if svc, ok := l.ready[name]; ok {
		l.mu.Unlock()
		return svc, true
	}
	factory, hasFactory := l.factories[name]
	l.mu.Unlock()

	// (b) async factory bounded by the probe timeout
	if hasFactory {
		diag.Strategies = append(diag.Strategies, StrategyFactory)
		if svc, ok := l.probeFactory(ctx, name, factory); ok {
			return svc, true
		}
	}

	// (c) legacy direct lookup
	diag.Strategies = append(diag.Strategies, StrategyLegacy)
	l.mu.Lock()
	svc, ok := l.legacy[name]
	l.mu.Unlock()
	if ok {
		return svc, true
	}
	return nil, false
}

// probeFactory calls a factory with the probe timeout applied, isolating the
// caller from factory panics and hangs.
func (l *Locator) probeFactory(ctx context.Context, name string, factory Factory) (any, bool) {
	probeCtx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	type outcome struct {
		svc any
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("factory panic: %v", r)}
			}
		}()
		svc, err := factory(probeCtx)
		ch <- outcome{svc: svc, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			l.logger.Debug("factory probe failed", "service", name, "error", out.err)
			return nil, false
		}
		return out.svc, true
	case <-probeCtx.Done():
		l.logger.Debug("factory probe timed out", "service", name)
		return nil, false
	}
}

// failed records the failure in the cache, logs per the fallback behavior,
// and builds the failure result.
func (l *Locator) failed(name string, diag Diagnostics, err error, start time.Time) Result {
	l.mu.Lock()
	l.failures[name] = failureEntry{at: time.Now(), err: err}
	l.mu.Unlock()

	switch l.opts.Fallback {
	case config.FallbackFail:
		l.logger.Error("service resolution failed", "service", name,
			"attempts", diag.Attempts, "strategies", diag.Strategies)
	case config.FallbackWarn:
		l.logger.Warn("service resolution failed", "service", name,
			"attempts", diag.Attempts, "strategies", diag.Strategies)
	}

	diag.Elapsed = time.Since(start)
	return Result{Err: err, Diagnostics: diag}
}

// Resolve is the typed convenience wrapper: it resolves name through the
// locator and asserts the result to T.
func Resolve[T any](ctx context.Context, l *Locator, name string) (T, error) {
	var zero T
	result := l.Resolve(ctx, name)
	if !result.Success {
		return zero, result.Err
	}
	svc, ok := result.Service.(T)
	if !ok {
		return zero, errors.NewInternal(
			fmt.Errorf("service %q has type %T, not the requested type", name, result.Service))
	}
	return svc, nil
}
