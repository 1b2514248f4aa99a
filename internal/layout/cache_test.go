package layout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	mu    sync.Mutex
	loads map[string]int
	err   error
}

func (s *countingSource) LoadDefinition(_ context.Context, id string) (Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loads == nil {
		s.loads = map[string]int{}
	}
	s.loads[id]++
	if s.err != nil {
		return Definition{}, s.err
	}
	return Definition{DeploymentID: id, Namespace: "sgd_" + id, Schema: tokenSchema()}, nil
}

func (s *countingSource) count(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads[id]
}

func TestCacheMemoizes(t *testing.T) {
	src := &countingSource{}
	var hits, misses int
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	cache, err := NewCache(4, src,
		WithLookupHook(func(hit bool) {
			if hit {
				hits++
			} else {
				misses++
			}
		}),
		WithClock(func() time.Time { return fixed }),
	)
	require.NoError(t, err)

	ctx := context.Background()
	first, err := cache.GetOrCompile(ctx, "a")
	require.NoError(t, err)
	second, err := cache.GetOrCompile(ctx, "a")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, src.count("a"))
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)

	entry, ok := cache.Peek("a")
	require.True(t, ok)
	assert.Equal(t, fixed, entry.CompiledAt)
	assert.Equal(t, "sgd_a", entry.Layout.Namespace)
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	src := &countingSource{}
	cache, err := NewCache(2, src)
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "a", "c"} {
		_, err := cache.GetOrCompile(ctx, id)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, cache.Len())

	_, ok := cache.Peek("b")
	assert.False(t, ok, "b was least recently used")

	// Eviction only costs a recompile.
	l, err := cache.GetOrCompile(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "b", l.DeploymentID)
	assert.Equal(t, 2, src.count("b"))
}

func TestCacheInvalidate(t *testing.T) {
	src := &countingSource{}
	cache, err := NewCache(2, src)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = cache.GetOrCompile(ctx, "a")
	require.NoError(t, err)
	cache.Invalidate("a")
	_, ok := cache.Peek("a")
	assert.False(t, ok)

	_, err = cache.GetOrCompile(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, src.count("a"))
}

func TestCacheDoesNotStoreFailures(t *testing.T) {
	src := &countingSource{err: errors.New("boom")}
	cache, err := NewCache(2, src)
	require.NoError(t, err)

	_, err = cache.GetOrCompile(context.Background(), "a")
	require.Error(t, err)
	assert.Equal(t, 0, cache.Len())
}

func TestCacheConcurrentCompile(t *testing.T) {
	src := &countingSource{}
	cache, err := NewCache(2, src)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := cache.GetOrCompile(context.Background(), "a")
			assert.NoError(t, err)
			assert.Equal(t, "a", l.DeploymentID)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, cache.Len())
}
