// ABOUTME: TTL and size-bounded set of recently seen envelope IDs
// ABOUTME: Lets the fan-out listener drop duplicate deliveries from an at-least-once bus

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type seenID struct {
	id     string
	seenAt time.Time
}

// Cache is a concurrency-safe record of recently seen IDs. Insertion order is
// kept in a list so expiry and eviction both work from the front.
type Cache struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// New creates a cache and starts its background sweeper. Call Close when
// done with it.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop(sweepInterval(ttl))
	return c
}

func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	if interval > time.Minute {
		interval = time.Minute
	}
	return interval
}

// Seen records id and reports whether it was already present and unexpired.
// The check and the insert happen under one lock.
func (c *Cache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if elem, ok := c.index[id]; ok {
		entry := elem.Value.(*seenID)
		if now.Sub(entry.seenAt) < c.ttl {
			return true
		}
		// Expired: refresh in place and treat as new.
		entry.seenAt = now
		c.order.MoveToBack(elem)
		return false
	}

	for len(c.index) >= c.maxSize {
		c.removeFront()
	}
	c.index[id] = c.order.PushBack(&seenID{id: id, seenAt: now})
	return false
}

// Len returns the number of IDs currently held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

func (c *Cache) removeFront() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.order.Remove(front)
	delete(c.index, front.Value.(*seenID).id)
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops expired IDs. The list is ordered by last sighting, so it can
// stop at the first live entry.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		if now.Sub(front.Value.(*seenID).seenAt) < c.ttl {
			return
		}
		c.removeFront()
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.done) })
}
