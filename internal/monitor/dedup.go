package monitor

import (
	"sync"
	"time"
)

// dedupCache remembers event IDs for a bounded retention window so that
// re-observing the same (venue, order, status) never re-emits an event.
// Pure in-memory map guarded by one mutex; it must never be held across
// network I/O.
type dedupCache struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	lastGC  time.Time
	gcEvery time.Duration
}

func newDedupCache(ttl time.Duration) *dedupCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &dedupCache{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		gcEvery: ttl / 4,
	}
}

// Seen reports whether the ID was observed within the retention window,
// and records it either way. Expired entries count as unseen.
func (d *dedupCache) Seen(id string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lastGC.IsZero() || now.Sub(d.lastGC) > d.gcEvery {
		d.gc(now)
	}

	at, ok := d.seen[id]
	d.seen[id] = now
	return ok && now.Sub(at) < d.ttl
}

// gc drops expired entries. Caller holds the mutex.
func (d *dedupCache) gc(now time.Time) {
	for id, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, id)
		}
	}
	d.lastGC = now
}

func (d *dedupCache) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
