// Package cache memoizes compiled processors keyed by their full
// configuration. Entries are evicted least recently used first and expire
// after an idle period; concurrent requests for one key share a single build.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wehubfusion/dfdlrecord/pkg/engine"
	"github.com/wehubfusion/dfdlrecord/pkg/record"
)

// Artifact is a compiled processor and the record schema inferred for it.
// It is shared between callers and must not be modified.
type Artifact struct {
	Processor   engine.Processor
	Schema      *record.Schema
	Diagnostics engine.Diagnostics
}

// WithVariables returns a processor with extra external variables bound for
// one operation. The cached processor is not changed.
func (a *Artifact) WithVariables(vars map[string]string) (engine.Processor, error) {
	if len(vars) == 0 {
		return a.Processor, nil
	}
	return a.Processor.WithExternalVariables(vars)
}

// BuildFunc produces the artifact for a key
type BuildFunc func(ctx context.Context, key Key) (*Artifact, error)

// Config configures a Cache
type Config struct {
	// Size is the maximum number of artifacts. Zero disables caching and
	// every Get builds a fresh artifact.
	Size int

	// TTL evicts artifacts not used for this long. Zero keeps them until
	// they are evicted by size.
	TTL time.Duration

	Logger *zap.Logger
}

// Stats counts cache activity
type Stats struct {
	Hits   int64
	Misses int64
	Builds int64
}

type entry struct {
	artifact   *Artifact
	lastAccess atomic.Int64
}

// Cache is safe for concurrent use
type Cache struct {
	build  BuildFunc
	ttl    time.Duration
	lru    *lru.Cache[string, *entry]
	group  singleflight.Group
	mu     sync.Mutex // guards adds and expiry removals
	logger *zap.Logger
	now    func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
	builds atomic.Int64
	closed atomic.Bool
}

// New creates a cache that builds missing artifacts with build
func New(cfg Config, build BuildFunc) (*Cache, error) {
	if build == nil {
		return nil, fmt.Errorf("build function is required")
	}
	if cfg.Size < 0 {
		return nil, fmt.Errorf("cache size must not be negative, got %d", cfg.Size)
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("cache TTL must not be negative, got %s", cfg.TTL)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Cache{
		build:  build,
		ttl:    cfg.TTL,
		logger: logger,
		now:    time.Now,
	}
	if cfg.Size == 0 {
		logger.Warn("Compiled artifact cache is disabled, every operation compiles its schema")
		return c, nil
	}

	l, err := lru.NewWithEvict(cfg.Size, func(fp string, _ *entry) {
		logger.Debug("Evicted compiled artifact", zap.String("key", fp))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU: %w", err)
	}
	c.lru = l
	return c, nil
}

// Get returns the artifact for key, building it on a miss. Concurrent
// callers with equal keys wait for one shared build. Failed builds are not
// cached.
func (c *Cache) Get(ctx context.Context, key Key) (*Artifact, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if c.lru == nil {
		c.misses.Add(1)
		c.builds.Add(1)
		return c.build(ctx, key)
	}

	fp := key.Fingerprint()
	if a, ok := c.lookup(fp); ok {
		c.hits.Add(1)
		return a, nil
	}
	c.misses.Add(1)

	v, err, shared := c.group.Do(fp, func() (any, error) {
		if a, ok := c.lookup(fp); ok {
			return a, nil
		}
		c.builds.Add(1)
		// one caller giving up must not fail the others sharing this build
		a, err := c.build(context.WithoutCancel(ctx), key)
		if err != nil {
			return nil, err
		}
		e := &entry{artifact: a}
		e.lastAccess.Store(c.now().UnixNano())
		c.mu.Lock()
		c.lru.Add(fp, e)
		c.mu.Unlock()
		return a, nil
	})
	if err != nil {
		var ce *CompileError
		if errors.As(err, &ce) {
			c.logger.Warn("Schema compile failed",
				zap.String("schema", key.SchemaRef),
				zap.Bool("shared", shared),
				zap.Error(err))
		}
		return nil, err
	}
	return v.(*Artifact), nil
}

// lookup returns a live entry and refreshes its idle timer. Expired entries
// are removed.
func (c *Cache) lookup(fp string) (*Artifact, bool) {
	e, ok := c.lru.Get(fp)
	if !ok {
		return nil, false
	}
	now := c.now().UnixNano()
	if c.ttl > 0 && time.Duration(now-e.lastAccess.Load()) > c.ttl {
		c.removeIfCurrent(fp, e)
		c.logger.Debug("Expired compiled artifact", zap.String("key", fp))
		return nil, false
	}
	e.lastAccess.Store(now)
	return e.artifact, true
}

// removeIfCurrent removes fp only while it still maps to e, so an expired
// entry seen by one caller never removes a fresh entry added by a build.
func (c *Cache) removeIfCurrent(fp string, e *entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.lru.Peek(fp); !ok || cur != e {
		return false
	}
	return c.lru.Remove(fp)
}

// Len returns the number of cached artifacts
func (c *Cache) Len() int {
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}

// Stats returns a snapshot of the counters
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Builds: c.builds.Load(),
	}
}

// Purge drops every cached artifact
func (c *Cache) Purge() {
	if c.lru != nil {
		c.lru.Purge()
	}
}

// Close purges the cache. Later calls to Get fail with ErrClosed.
func (c *Cache) Close() error {
	c.closed.Store(true)
	c.Purge()
	return nil
}
