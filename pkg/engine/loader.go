package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader resolves the engine module at most once per process. Concurrent
// callers share a single in-flight resolution; failures are not cached.
type Loader struct {
	resolver Resolver
	logger   *slog.Logger

	group singleflight.Group

	mu     sync.RWMutex
	handle *Handle

	attempts atomic.Int64
}

// NewLoader creates a loader over resolver.
func NewLoader(resolver Resolver, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		resolver: resolver,
		logger:   logger.With("component", "engine.loader"),
	}
}

// Load returns the cached handle or resolves the module. ctx bounds only
// this caller's wait; a shared resolution keeps running for the others.
func (l *Loader) Load(ctx context.Context) (*Handle, error) {
	if h := l.Cached(); h != nil {
		return h, nil
	}

	ch := l.group.DoChan("module", func() (any, error) {
		if h := l.Cached(); h != nil {
			return h, nil
		}
		return l.resolve(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrLibraryLoadFailed, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Handle), nil
	}
}

func (l *Loader) resolve(ctx context.Context) (h *Handle, err error) {
	n := l.attempts.Add(1)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			h = nil
			err = fmt.Errorf("%w: resolver panic: %v", ErrLibraryLoadFailed, r)
		}
		if err != nil {
			l.logger.Warn("engine load failed", "attempt", n, "error", err)
		}
	}()

	m, err := l.resolver.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLibraryLoadFailed, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: resolver returned no module", ErrLibraryLoadFailed)
	}

	h = NewHandle(m)
	l.mu.Lock()
	l.handle = h
	l.mu.Unlock()

	l.logger.Info("engine loaded", "attempt", n, "duration_ms", time.Since(start).Milliseconds())
	return h, nil
}

// Cached returns the resolved handle, or nil.
func (l *Loader) Cached() *Handle {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.handle
}

// Attempts returns how many resolutions have been started.
func (l *Loader) Attempts() int {
	return int(l.attempts.Load())
}

// Reset drops the cached handle so the next Load resolves again.
func (l *Loader) Reset() {
	l.mu.Lock()
	l.handle = nil
	l.mu.Unlock()
}

var defaultLoader atomic.Pointer[Loader]

// Default returns the process-wide loader. Unless replaced with SetDefault
// it resolves the simulated engine.
func Default() *Loader {
	if l := defaultLoader.Load(); l != nil {
		return l
	}
	defaultLoader.CompareAndSwap(nil, NewLoader(SimResolver(), nil))
	return defaultLoader.Load()
}

// SetDefault replaces the process-wide loader and returns the previous one.
func SetDefault(l *Loader) *Loader {
	return defaultLoader.Swap(l)
}
