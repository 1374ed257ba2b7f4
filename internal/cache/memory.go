package cache

import (
	"strings"
	"sync"
	"time"

	"munportal/internal/metrics"
)

const defaultMaxEntries = 1024

type entry struct {
	key  string
	val  Entry
	prev *entry
	next *entry
}

// InMemoryCache is a bounded TTL cache. Expiry is checked lazily on read;
// when full, the least recently used entry is evicted.
type InMemoryCache struct {
	mu         sync.Mutex
	items      map[string]*entry
	head       *entry
	tail       *entry
	maxEntries int
	now        func() time.Time
}

type Option func(*InMemoryCache)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *InMemoryCache) {
		c.now = now
	}
}

func NewInMemoryCache(maxEntries int, opts ...Option) *InMemoryCache {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	c := &InMemoryCache{
		items:      make(map[string]*entry, maxEntries),
		maxEntries: maxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *InMemoryCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ns := Namespace(key)
	e, ok := c.items[key]
	if !ok {
		metrics.IncCacheMiss(ns)
		return nil, false
	}

	if e.val.expired(c.now()) {
		c.remove(e)
		delete(c.items, key)
		metrics.IncCacheExpired(ns)
		metrics.IncCacheMiss(ns)
		return nil, false
	}

	c.moveToFront(e)
	metrics.IncCacheHit(ns)

	return e.val.Data, true
}

func (c *InMemoryCache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	val := Entry{Data: value, ExpiresAt: c.now().Add(ttl)}

	if e, ok := c.items[key]; ok {
		e.val = val
		c.moveToFront(e)
		return
	}

	e := &entry{
		key: key,
		val: val,
	}
	c.items[key] = e
	c.addToFront(e)

	if len(c.items) > c.maxEntries {
		c.evictOldest()
	}
}

// Invalidate removes keyOrPrefix when it names an existing entry. Otherwise
// every entry whose key starts with keyOrPrefix is removed. An exact match
// always wins, so a prefix that is also a stored key only drops that key.
func (c *InMemoryCache) Invalidate(keyOrPrefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[keyOrPrefix]; ok {
		c.remove(e)
		delete(c.items, keyOrPrefix)
		return
	}

	for k, e := range c.items {
		if strings.HasPrefix(k, keyOrPrefix) {
			c.remove(e)
			delete(c.items, k)
		}
	}
}

func (c *InMemoryCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*entry, c.maxEntries)
	c.head = nil
	c.tail = nil
}

// Len reports the number of stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *InMemoryCache) addToFront(e *entry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *InMemoryCache) moveToFront(e *entry) {
	if c.head == e {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *InMemoryCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *InMemoryCache) evictOldest() {
	if c.tail == nil {
		return
	}
	oldest := c.tail
	c.remove(oldest)
	delete(c.items, oldest.key)
	metrics.IncCacheEvicted(Namespace(oldest.key))
}
