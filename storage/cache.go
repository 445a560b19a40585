package storage

import (
	"container/list"
	"sync"
)

// ReadCache is a thread-safe LRU cache sitting in front of the database.
// It holds decrypted record bytes; writers must invalidate the affected key.
type ReadCache struct {
	capacity int
	items    map[string]*list.Element
	order    *list.List
	mu       sync.RWMutex
}

type readEntry struct {
	key   string
	value []byte
}

// NewReadCache creates an LRU cache holding at most capacity records.
func NewReadCache(capacity int) *ReadCache {
	return &ReadCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached record for key and marks it most recently used.
func (c *ReadCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*readEntry).value, true
	}
	return nil, false
}

// Put inserts or updates a record, evicting the least recently used entry
// when the cache is full.
func (c *ReadCache) Put(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*readEntry).value = value
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			delete(c.items, oldest.Value.(*readEntry).key)
			c.order.Remove(oldest)
		}
	}

	c.items[key] = c.order.PushFront(&readEntry{key: key, value: value})
}

// Delete removes a record from the cache.
func (c *ReadCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		delete(c.items, key)
		c.order.Remove(elem)
	}
}

// Clear drops all cached records.
func (c *ReadCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Len returns the number of cached records.
func (c *ReadCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len()
}
