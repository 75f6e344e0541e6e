package router

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/snappy"

	"github.com/nurcahyapriantoro/Agrilends-sub001/pkg/types"
)

// resultCache holds complete aggregations for a bounded TTL. Entries are
// stored snappy-compressed; aggregations repeat owner keys and payload
// prefixes heavily, so the ratio is worth the encode cost on the read path.
//
// Expiry is enforced lazily on read and by a periodic sweep so abandoned
// owners do not pin memory.
type resultCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*cacheEntry
	done    chan struct{}
	once    sync.Once
}

type cacheEntry struct {
	compressed []byte
	owner      string
	insertedAt time.Time
}

func newResultCache(ttl time.Duration) *resultCache {
	c := &resultCache{
		ttl:     ttl,
		entries: make(map[string]*cacheEntry),
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

func (c *resultCache) get(key string) ([]types.Record, bool) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && time.Since(entry.insertedAt) >= c.ttl {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return nil, false
	}

	raw, err := snappy.Decode(nil, entry.compressed)
	if err != nil {
		c.drop(key)
		return nil, false
	}
	var records []types.Record
	if err := json.Unmarshal(raw, &records); err != nil {
		c.drop(key)
		return nil, false
	}
	return records, true
}

func (c *resultCache) put(key, owner string, records []types.Record) {
	raw, err := json.Marshal(records)
	if err != nil {
		return
	}
	entry := &cacheEntry{
		compressed: snappy.Encode(nil, raw),
		owner:      owner,
		insertedAt: time.Now(),
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

// invalidateOwner drops every cached aggregation for the owner. Entry counts
// stay small per owner, so a full scan is fine here.
func (c *resultCache) invalidateOwner(owner string) {
	c.mu.Lock()
	for key, entry := range c.entries {
		if entry.owner == owner {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

func (c *resultCache) drop(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *resultCache) stop() {
	c.once.Do(func() { close(c.done) })
}

func (c *resultCache) sweepLoop() {
	interval := c.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *resultCache) sweep() {
	c.mu.Lock()
	for key, entry := range c.entries {
		if time.Since(entry.insertedAt) >= c.ttl {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}
