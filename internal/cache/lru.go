// Package cache provides the profile and counter caches used by the engine.
package cache

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultLocalSize bounds an LRUCache created without a size.
const DefaultLocalSize = 10000

var errEmptyKey = errors.New("key is required")

// LRUCache is a process local domain.Cache. Values are evicted least
// recently used first once maxSize is reached and lazily on expiry.
// It serves single node deployments and the L1 of a TwoPhaseCache.
type LRUCache struct {
	maxSize int
	now     func() time.Time

	mu       sync.Mutex
	recency  *list.List // front is most recently used; elements hold *lruItem
	index    map[string]*list.Element
	counters map[string]windowCount
}

type lruItem struct {
	key     string
	value   []byte
	expires time.Time
}

// windowCount is a fixed window counter. The window opens with the first
// increment and later increments never extend it.
type windowCount struct {
	n       int64
	expires time.Time
}

// NewLRUCache returns an empty cache holding at most maxSize values.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = DefaultLocalSize
	}
	c := &LRUCache{maxSize: maxSize, now: time.Now}
	c.reset()
	return c
}

func (c *LRUCache) reset() {
	c.recency = list.New()
	c.index = make(map[string]*list.Element)
	c.counters = make(map[string]windowCount)
}

// Get returns the live value for key. A miss or an expired value is nil, nil.
func (c *LRUCache) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errEmptyKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		return nil, nil
	}
	item := el.Value.(*lruItem)
	if !c.now().Before(item.expires) {
		c.drop(el)
		return nil, nil
	}
	c.recency.MoveToFront(el)
	return item.value, nil
}

// Set stores value for ttl, evicting the least recently used values beyond
// the size bound.
func (c *LRUCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errEmptyKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(ttl)
	if el, ok := c.index[key]; ok {
		item := el.Value.(*lruItem)
		item.value, item.expires = value, expires
		c.recency.MoveToFront(el)
		return nil
	}

	c.index[key] = c.recency.PushFront(&lruItem{key: key, value: value, expires: expires})
	for c.recency.Len() > c.maxSize {
		c.drop(c.recency.Back())
	}
	return nil
}

func (c *LRUCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		c.drop(el)
	}
	return nil
}

// IncrementCounter adds one to the counter at key and returns the new count.
// An expired counter restarts at 1 with a fresh window.
func (c *LRUCache) IncrementCounter(_ context.Context, key string, window time.Duration) (int64, error) {
	if key == "" {
		return 0, errEmptyKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	wc, ok := c.counters[key]
	if ok && now.Before(wc.expires) {
		wc.n++
		c.counters[key] = wc
		return wc.n, nil
	}

	c.counters[key] = windowCount{n: 1, expires: now.Add(window)}
	if len(c.counters) > c.maxSize {
		c.pruneCounters(now)
	}
	return 1, nil
}

// Counter reads a counter without changing it. Missing or expired is 0.
func (c *LRUCache) Counter(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wc, ok := c.counters[key]
	if !ok || !c.now().Before(wc.expires) {
		return 0, nil
	}
	return wc.n, nil
}

func (c *LRUCache) Ping(context.Context) error {
	return nil
}

// Close discards every value and counter.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
	return nil
}

// Stats reports the number of cached values and the size bound.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recency.Len(), c.maxSize
}

// drop removes el. Caller holds mu.
func (c *LRUCache) drop(el *list.Element) {
	c.recency.Remove(el)
	delete(c.index, el.Value.(*lruItem).key)
}

// pruneCounters deletes expired counters. Caller holds mu.
func (c *LRUCache) pruneCounters(now time.Time) {
	for k, wc := range c.counters {
		if !now.Before(wc.expires) {
			delete(c.counters, k)
		}
	}
}
