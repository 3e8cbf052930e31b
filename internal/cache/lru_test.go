package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/accelerator/pkg/errors"
)

func newTestLRU(t *testing.T, cfg LRUConfig) *LRU {
	t.Helper()
	c := NewLRU(cfg)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewLRU_Defaults(t *testing.T) {
	t.Parallel()

	c := newTestLRU(t, LRUConfig{})
	assert.Equal(t, int64(256*1024*1024), c.Stats().Capacity)
	assert.Zero(t, c.Len())
}

func TestLRU_SetGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestLRU(t, LRUConfig{MaxSize: 1024})

	require.NoError(t, c.Set(ctx, "a", []byte("alpha")))

	got, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("alpha"), got)

	got[0] = 'X'
	again, _, _ := c.Get(ctx, "a")
	assert.Equal(t, []byte("alpha"), again, "callers must get copies")

	_, ok, err = c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, int64(5), stats.Size)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
}

func TestLRU_SetCopiesInput(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestLRU(t, LRUConfig{MaxSize: 1024})

	buf := []byte("value")
	require.NoError(t, c.Set(ctx, "k", buf))
	buf[0] = 'X'

	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("value"), got)
}

func TestLRU_Overwrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestLRU(t, LRUConfig{MaxSize: 1024})

	require.NoError(t, c.Set(ctx, "k", []byte("short")))
	require.NoError(t, c.Set(ctx, "k", []byte("much longer")))

	got, _, _ := c.Get(ctx, "k")
	assert.Equal(t, []byte("much longer"), got)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(len("much longer")), c.Stats().Size)
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestLRU(t, LRUConfig{MaxSize: 30})

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, c.Set(ctx, k, make([]byte, 10)))
	}
	// Touch "a" so "b" becomes the oldest.
	_, ok, _ := c.Get(ctx, "a")
	require.True(t, ok)

	require.NoError(t, c.Set(ctx, "d", make([]byte, 10)))

	tests := []struct {
		key  string
		want bool
	}{
		{"a", true},
		{"b", false},
		{"c", true},
		{"d", true},
	}
	for _, tt := range tests {
		_, ok, err := c.Get(ctx, tt.key)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ok, "key %s", tt.key)
	}
	assert.Equal(t, uint64(1), c.Stats().Evictions)
	assert.LessOrEqual(t, c.Stats().Size, int64(30))
}

func TestLRU_DropsOversizedValues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestLRU(t, LRUConfig{MaxSize: 8})

	require.NoError(t, c.Set(ctx, "small", []byte("1234")))
	require.NoError(t, c.Set(ctx, "huge", make([]byte, 9)))

	_, ok, _ := c.Get(ctx, "huge")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "small")
	assert.True(t, ok, "an oversized value must not evict everything else")
}

func TestLRU_TTL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestLRU(t, LRUConfig{MaxSize: 1024, TTL: 20 * time.Millisecond, CleanupInterval: 5 * time.Millisecond})

	require.NoError(t, c.Set(ctx, "k", []byte("v")))
	_, ok, _ := c.Get(ctx, "k")
	require.True(t, ok)

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestLRU_Flush(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestLRU(t, LRUConfig{MaxSize: 1024})

	for i := 0; i < 4; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v")))
	}
	require.NoError(t, c.Flush(ctx))

	assert.Zero(t, c.Len())
	assert.Zero(t, c.Stats().Size)
	assert.Equal(t, uint64(4), c.Stats().Evictions)
}

func TestLRU_Closed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewLRU(LRUConfig{MaxSize: 1024, TTL: time.Minute})
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, _, err := c.Get(ctx, "k")
	assert.True(t, errors.IsCode(err, errors.ErrCodeComponentStopped))
	assert.True(t, errors.IsCode(c.Set(ctx, "k", nil), errors.ErrCodeComponentStopped))
	assert.True(t, errors.IsCode(c.Flush(ctx), errors.ErrCodeComponentStopped))
}

func TestLRU_CanceledContext(t *testing.T) {
	t.Parallel()

	c := newTestLRU(t, LRUConfig{MaxSize: 1024})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.Get(ctx, "k")
	assert.True(t, errors.IsCode(err, errors.ErrCodeOperationCanceled))
	assert.True(t, errors.IsCode(c.Set(ctx, "k", []byte("v")), errors.ErrCodeOperationCanceled))
}

func TestLRU_Concurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestLRU(t, LRUConfig{MaxSize: 4096})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("k%d", (w*100+i)%64)
				_ = c.Set(ctx, key, make([]byte, 32))
				_, _, _ = c.Get(ctx, key)
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Stats().Size, int64(4096))
}
