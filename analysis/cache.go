package analysis

import (
	"sync"
	"time"
)

// ResponseCache is a count-bounded, time-expiring store of analysis text.
// Eviction is LRU on capacity; expiry is checked lazily on access. Entries
// are only ever written after a successful remote call and are replaced
// wholesale on re-insertion.
type ResponseCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*cacheNode
	head     *cacheNode // most recently used
	tail     *cacheNode // least recently used
	hits     int64
	misses   int64
}

type cacheNode struct {
	key        string
	value      string
	insertedAt time.Time
	expiresAt  time.Time
	prev       *cacheNode
	next       *cacheNode
}

// CacheStats is a point-in-time snapshot of cache behaviour.
type CacheStats struct {
	Size     int
	Capacity int
	Hits     int64
	Misses   int64
}

// NewResponseCache creates a cache holding at most capacity entries, each
// living for ttl after insertion.
func NewResponseCache(capacity int, ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*cacheNode),
	}
}

// Get returns the cached value for key if present and unexpired. A hit
// refreshes the entry's recency, not its TTL.
func (c *ResponseCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok {
		c.misses++
		return "", false
	}

	if time.Now().After(node.expiresAt) {
		c.removeNode(node)
		delete(c.items, key)
		c.misses++
		return "", false
	}

	c.moveToHead(node)
	c.hits++
	return node.value, true
}

// Set inserts or wholesale-replaces the value for key, evicting the least
// recently used entry when capacity would be exceeded.
func (c *ResponseCache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	if node, ok := c.items[key]; ok {
		node.value = value
		node.insertedAt = now
		node.expiresAt = now.Add(c.ttl)
		c.moveToHead(node)
		return
	}

	if len(c.items) >= c.capacity {
		c.evictTail()
	}

	node := &cacheNode{
		key:        key,
		value:      value,
		insertedAt: now,
		expiresAt:  now.Add(c.ttl),
	}
	c.items[key] = node
	c.addToHead(node)
}

// Delete removes the entry for key if present.
func (c *ResponseCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.items[key]; ok {
		c.removeNode(node)
		delete(c.items, key)
	}
}

// Clear drops every entry.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*cacheNode)
	c.head = nil
	c.tail = nil
}

// Len returns the number of stored entries, expired or not.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns a snapshot of cache counters.
func (c *ResponseCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Size:     len(c.items),
		Capacity: c.capacity,
		Hits:     c.hits,
		Misses:   c.misses,
	}
}

func (c *ResponseCache) addToHead(node *cacheNode) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

func (c *ResponseCache) removeNode(node *cacheNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
}

func (c *ResponseCache) moveToHead(node *cacheNode) {
	if node == c.head {
		return
	}
	c.removeNode(node)
	c.addToHead(node)
}

func (c *ResponseCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.items, c.tail.key)
	c.removeNode(c.tail)
}
