package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/objectfs/accelerator/pkg/errors"
	"github.com/objectfs/accelerator/pkg/types"
)

// LRU is an in-process, byte-bounded types.Cache. It backs the "memory"
// cache backend and stands in for the cluster cache in local runs.
type LRU struct {
	mu          sync.Mutex
	capacity    int64
	currentSize int64
	ttl         time.Duration
	items       map[string]*lruItem
	evictList   *list.List
	stats       types.CacheStats
	closed      bool

	stop chan struct{}
	done chan struct{}
}

// LRUConfig sizes an LRU.
type LRUConfig struct {
	MaxSize         int64
	TTL             time.Duration
	CleanupInterval time.Duration
}

type lruItem struct {
	key      string
	data     []byte
	storedAt time.Time
	element  *list.Element
}

// NewLRU creates an LRU and starts its expiry sweeper when a TTL is set.
func NewLRU(cfg LRUConfig) *LRU {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 256 * 1024 * 1024
	}

	c := &LRU{
		capacity:  cfg.MaxSize,
		ttl:       cfg.TTL,
		items:     make(map[string]*lruItem),
		evictList: list.New(),
		stats:     types.CacheStats{Capacity: cfg.MaxSize},
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	if cfg.TTL > 0 {
		interval := cfg.CleanupInterval
		if interval <= 0 {
			interval = time.Minute
		}
		go c.cleanupExpired(interval)
	} else {
		close(c.done)
	}

	return c
}

// Get returns a copy of the stored value.
func (c *LRU) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, errors.FromContext(err, "cache.get")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, false, errClosed("cache.get")
	}

	item, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		c.updateHitRate()
		return nil, false, nil
	}
	if c.isExpired(item) {
		c.removeItem(item)
		c.stats.Misses++
		c.updateHitRate()
		return nil, false, nil
	}

	c.evictList.MoveToFront(item.element)
	c.stats.Hits++
	c.updateHitRate()

	out := make([]byte, len(item.data))
	copy(out, item.data)
	return out, true, nil
}

// Set stores a copy of value. Values larger than the whole cache are dropped.
func (c *LRU) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.FromContext(err, "cache.set")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClosed("cache.set")
	}

	size := int64(len(value))
	if size > c.capacity {
		return nil
	}

	data := make([]byte, len(value))
	copy(data, value)

	if item, ok := c.items[key]; ok {
		c.currentSize += size - int64(len(item.data))
		item.data = data
		item.storedAt = time.Now()
		c.evictList.MoveToFront(item.element)
	} else {
		item := &lruItem{key: key, data: data, storedAt: time.Now()}
		item.element = c.evictList.PushFront(item)
		c.items[key] = item
		c.currentSize += size
	}

	c.evictIfNeeded()
	return nil
}

// Flush removes every entry.
func (c *LRU) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.FromContext(err, "cache.flush")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClosed("cache.flush")
	}

	c.stats.Evictions += uint64(len(c.items))
	c.items = make(map[string]*lruItem)
	c.evictList.Init()
	c.currentSize = 0
	return nil
}

// Close stops the sweeper and releases entries. It is idempotent.
func (c *LRU) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.items = nil
	c.evictList.Init()
	c.currentSize = 0
	c.mu.Unlock()

	close(c.stop)
	<-c.done
	return nil
}

// Len returns the number of entries.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns cache statistics
func (c *LRU) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = c.currentSize
	return stats
}

func (c *LRU) isExpired(item *lruItem) bool {
	if c.ttl == 0 {
		return false
	}
	return time.Since(item.storedAt) > c.ttl
}

func (c *LRU) removeItem(item *lruItem) {
	c.evictList.Remove(item.element)
	delete(c.items, item.key)
	c.currentSize -= int64(len(item.data))
	c.stats.Evictions++
}

func (c *LRU) evictIfNeeded() {
	for c.currentSize > c.capacity && c.evictList.Len() > 0 {
		c.removeItem(c.evictList.Back().Value.(*lruItem))
	}
}

func (c *LRU) updateHitRate() {
	total := c.stats.Hits + c.stats.Misses
	if total > 0 {
		c.stats.HitRate = float64(c.stats.Hits) / float64(total)
	}
}

func (c *LRU) cleanupExpired(interval time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			for _, item := range c.items {
				if c.isExpired(item) {
					c.removeItem(item)
				}
			}
			c.mu.Unlock()
		}
	}
}

func errClosed(op string) error {
	return errors.NewError(errors.ErrCodeComponentStopped, "cache is closed").
		WithComponent(component).
		WithOperation(op)
}
