package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupCache_SeenWithinWindow(t *testing.T) {
	cache := newDedupCache(time.Hour)
	now := time.Now()

	assert.False(t, cache.Seen("binance_1_FILLED", now), "first observation must be unseen")
	assert.True(t, cache.Seen("binance_1_FILLED", now.Add(time.Minute)), "repeat within window must be seen")
	assert.False(t, cache.Seen("binance_2_FILLED", now.Add(time.Minute)), "distinct IDs are independent")
}

func TestDedupCache_ExpiredEntryCountsAsUnseen(t *testing.T) {
	cache := newDedupCache(time.Hour)
	now := time.Now()

	assert.False(t, cache.Seen("binance_1_FILLED", now))
	assert.False(t, cache.Seen("binance_1_FILLED", now.Add(time.Hour+time.Second)),
		"re-observation after the retention window must re-emit")
	assert.True(t, cache.Seen("binance_1_FILLED", now.Add(time.Hour+2*time.Second)),
		"the expired observation refreshes the window")
}

func TestDedupCache_GarbageCollection(t *testing.T) {
	cache := newDedupCache(time.Hour)
	now := time.Now()

	for _, id := range []string{"a", "b", "c"} {
		cache.Seen(id, now)
	}
	assert.Equal(t, 3, cache.size())

	// A lookup past the gc interval with everything expired drops the
	// stale entries, leaving only the entry just recorded.
	cache.Seen("d", now.Add(2*time.Hour))
	assert.Equal(t, 1, cache.size())
}

func TestDedupCache_ZeroTTLDefaults(t *testing.T) {
	cache := newDedupCache(0)
	assert.Equal(t, time.Hour, cache.ttl)
}
