package version

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/corefin/fifo-engine/internal/engine"
	"github.com/corefin/fifo-engine/pkg/cache"
)

// CachedPointer decorates a pointer reader with a short-TTL cache. The read
// API resolves the current version on every request, so pointer lookups
// dominate read traffic. Publication invalidates the symbol's entry, so a
// stale TTL window only ever delays visibility of a newer version, never
// shows an unpublished one.
type CachedPointer struct {
	inner  engine.VersionStore
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedPointer wraps a pointer reader with caching.
func NewCachedPointer(inner engine.VersionStore, c cache.Cache, ttl time.Duration, logger *zap.Logger) *CachedPointer {
	return &CachedPointer{
		inner:  inner,
		cache:  c,
		ttl:    ttl,
		logger: logger,
	}
}

func pointerKey(symbol string) string {
	return fmt.Sprintf("version:%s", symbol)
}

// Current returns the published version for a symbol, serving from cache when
// possible. A "no version published" result is not cached so that the first
// publication becomes visible immediately.
func (c *CachedPointer) Current(ctx context.Context, symbol string) (int64, bool, error) {
	key := pointerKey(symbol)

	if cached, found := c.cache.Get(key); found {
		if version, ok := cached.(int64); ok {
			return version, true, nil
		}
	}

	version, found, err := c.inner.Current(ctx, symbol)
	if err != nil {
		return 0, false, err
	}
	if !found {
		return 0, false, nil
	}

	c.cache.Set(key, version, c.ttl)
	return version, true, nil
}

// Invalidate drops the cached pointer for a symbol. Called after every
// publish that advanced the pointer.
func (c *CachedPointer) Invalidate(symbol string) {
	c.cache.Delete(pointerKey(symbol))
	c.logger.Debug("pointer-cache-invalidated", zap.String("symbol", symbol))
}
