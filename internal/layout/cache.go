package layout

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/roach88/entitystore/internal/ir"
)

// DefaultCacheSize bounds the number of compiled layouts kept in memory.
const DefaultCacheSize = 128

// Definition is everything needed to compile a deployment's layout.
type Definition struct {
	DeploymentID string
	Namespace    string
	Schema       ir.Schema
}

// SchemaSource loads the declared schema of a deployment.
type SchemaSource interface {
	LoadDefinition(ctx context.Context, deploymentID string) (Definition, error)
}

// Entry is a cached layout and the time it was compiled.
type Entry struct {
	Layout     *Layout
	CompiledAt time.Time
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithLookupHook registers a callback invoked on every lookup with whether
// it was served from the cache.
func WithLookupHook(hook func(hit bool)) CacheOption {
	return func(c *Cache) { c.onLookup = hook }
}

// WithClock overrides the clock used for compilation timestamps.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// Cache memoizes compiled layouts per deployment with least-recently-used
// eviction. It is not a source of truth: an evicted entry is recompiled
// from the SchemaSource on next access.
//
// Concurrent misses for the same deployment may both compile; whichever
// result is added last wins. Both are identical because compilation is pure.
type Cache struct {
	entries  *lru.Cache[string, Entry]
	source   SchemaSource
	onLookup func(hit bool)
	now      func() time.Time
}

// NewCache creates a cache holding at most size layouts.
func NewCache(size int, source SchemaSource, opts ...CacheOption) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.NewWithEvict[string, Entry](size, func(id string, _ Entry) {
		log.Debug("evicted layout", zap.String("deployment", id))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create layout cache: %w", err)
	}
	c := &Cache{
		entries:  entries,
		source:   source,
		onLookup: func(bool) {},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetOrCompile returns the layout for a deployment, compiling it on a miss.
func (c *Cache) GetOrCompile(ctx context.Context, deploymentID string) (*Layout, error) {
	if entry, ok := c.entries.Get(deploymentID); ok {
		c.onLookup(true)
		return entry.Layout, nil
	}
	c.onLookup(false)

	def, err := c.source.LoadDefinition(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	l, err := Compile(def.DeploymentID, def.Namespace, def.Schema)
	if err != nil {
		return nil, err
	}
	c.entries.Add(deploymentID, Entry{Layout: l, CompiledAt: c.now()})
	log.Debug("compiled layout",
		zap.String("deployment", deploymentID),
		zap.Int("tables", len(l.order)))
	return l, nil
}

// Invalidate drops the cached layout so the next access recompiles it.
func (c *Cache) Invalidate(deploymentID string) {
	c.entries.Remove(deploymentID)
}

// Peek returns the cached entry without affecting recency.
func (c *Cache) Peek(deploymentID string) (Entry, bool) {
	return c.entries.Peek(deploymentID)
}

// Len returns the number of cached layouts.
func (c *Cache) Len() int {
	return c.entries.Len()
}
