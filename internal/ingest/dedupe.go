package ingest

import (
	"sync"
	"time"
)

// DedupeCache remembers payload hashes for a TTL so that redelivered
// messages are not batched twice.
type DedupeCache struct {
	mu    sync.Mutex
	items map[string]time.Time
	max   int
}

func NewDedupeCache(max int) *DedupeCache {
	if max <= 0 {
		max = 10000
	}
	return &DedupeCache{items: make(map[string]time.Time), max: max}
}

func (d *DedupeCache) Seen(key string, now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[key]; ok && now.Sub(ts) <= ttl {
		return true
	}
	d.items[key] = now
	if len(d.items) > d.max {
		d.compact(now, ttl)
	}
	return false
}

func (d *DedupeCache) compact(now time.Time, ttl time.Duration) {
	for k, ts := range d.items {
		if now.Sub(ts) > ttl {
			delete(d.items, k)
		}
	}
}
