// Package msgcache remembers recently seen messages by id. LINE webhooks do
// not include the content of a quoted message, so when a command replies to an
// earlier message the original has to be looked up here.
package msgcache

import (
	"container/list"
	"sync"
	"time"
)

// Message is a cached inbound message.
type Message struct {
	ID       string
	Type     string // "text", "image", "sticker", ...
	Text     string // only for text messages
	CachedAt time.Time
}

// Cache is a bounded, time-expiring message index. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	order   *list.List // front = oldest
	byID    map[string]*list.Element
	now     func() time.Time
}

func New(maxSize int, ttl time.Duration) *Cache {
	return &Cache{
		maxSize: maxSize,
		ttl:     ttl,
		order:   list.New(),
		byID:    make(map[string]*list.Element),
		now:     time.Now,
	}
}

// Put caches a message, evicting the oldest entry when full and dropping
// anything past its TTL.
func (c *Cache) Put(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m.CachedAt = c.now()
	if el, ok := c.byID[m.ID]; ok {
		el.Value = m
		c.order.MoveToBack(el)
		return
	}
	c.byID[m.ID] = c.order.PushBack(m)

	if c.order.Len() > c.maxSize {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.byID, oldest.Value.(Message).ID)
	}
	c.pruneExpired()
}

// Get returns the cached message and whether it was found and still fresh.
func (c *Cache) Get(id string) (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.byID[id]
	if !ok {
		return Message{}, false
	}
	m := el.Value.(Message)
	if c.now().Sub(m.CachedAt) > c.ttl {
		c.order.Remove(el)
		delete(c.byID, id)
		return Message{}, false
	}
	return m, true
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) pruneExpired() {
	now := c.now()
	for el := c.order.Front(); el != nil; {
		m := el.Value.(Message)
		if now.Sub(m.CachedAt) <= c.ttl {
			break
		}
		next := el.Next()
		c.order.Remove(el)
		delete(c.byID, m.ID)
		el = next
	}
}
