package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Mahd-Mehn/MM-zypherfunk/internal/domain"
)

func TestFingerprint_ChangesWithSizeAndEntry(t *testing.T) {
	base := domain.Position{Symbol: "BTCUSDT", Size: 1.5, EntryPrice: 42000}

	same := fingerprint(base)
	assert.Equal(t, same, fingerprint(base), "identical positions produce identical fingerprints")

	resized := base
	resized.Size = 2.0
	assert.NotEqual(t, same, fingerprint(resized))

	repriced := base
	repriced.EntryPrice = 43000
	assert.NotEqual(t, same, fingerprint(repriced))

	// Fields outside size and entry price do not affect the fingerprint.
	flipped := base
	flipped.Side = domain.Short
	assert.Equal(t, same, fingerprint(flipped))
}

func TestFingerprintCache_Swap(t *testing.T) {
	cache := newFingerprintCache()
	key := fingerprintKey("trader-1", "binance", "BTCUSDT")

	prev, existed := cache.Swap(key, "fp-1")
	assert.False(t, existed)
	assert.Empty(t, prev)

	prev, existed = cache.Swap(key, "fp-2")
	assert.True(t, existed)
	assert.Equal(t, "fp-1", prev)
}

func TestFingerprintCache_DropSession(t *testing.T) {
	cache := newFingerprintCache()
	cache.Swap(fingerprintKey("trader-1", "binance", "BTCUSDT"), "a")
	cache.Swap(fingerprintKey("trader-1", "binance", "ETHUSDT"), "b")
	cache.Swap(fingerprintKey("trader-1", "hyperliquid", "BTCUSDT"), "c")
	cache.Swap(fingerprintKey("trader-2", "binance", "BTCUSDT"), "d")

	cache.DropSession("trader-1", "binance")

	_, existed := cache.Swap(fingerprintKey("trader-1", "binance", "BTCUSDT"), "x")
	assert.False(t, existed, "dropped session fingerprints are gone")
	_, existed = cache.Swap(fingerprintKey("trader-1", "hyperliquid", "BTCUSDT"), "x")
	assert.True(t, existed, "other venues for the same trader survive")
	_, existed = cache.Swap(fingerprintKey("trader-2", "binance", "BTCUSDT"), "x")
	assert.True(t, existed, "other traders on the same venue survive")
}
