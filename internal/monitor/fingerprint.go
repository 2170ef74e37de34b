package monitor

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Mahd-Mehn/MM-zypherfunk/internal/domain"
)

// fingerprintCache stores the last observed position fingerprint per
// (trader, venue, symbol) triple. Unlike order dedup, position state is
// not time-windowed: fingerprints live until the session is removed.
type fingerprintCache struct {
	mu    sync.Mutex
	state map[string]string
}

func newFingerprintCache() *fingerprintCache {
	return &fingerprintCache{state: make(map[string]string)}
}

// fingerprint derives a cheap change-detection value from a position.
// Size and entry price are the only inputs: anything else that changes
// without them changing is not worth an event.
func fingerprint(pos domain.Position) string {
	return fmt.Sprintf("%s_%.10f_%.10f", pos.Symbol, pos.Size, pos.EntryPrice)
}

func fingerprintKey(traderID, venue, symbol string) string {
	return traderID + ":" + venue + ":" + symbol
}

// Swap records the new fingerprint and returns the previous one.
func (f *fingerprintCache) Swap(key, fp string) (prev string, existed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, existed = f.state[key]
	f.state[key] = fp
	return prev, existed
}

// DropSession evicts all fingerprints belonging to a (trader, venue) pair.
func (f *fingerprintCache) DropSession(traderID, venue string) {
	prefix := traderID + ":" + venue + ":"
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.state {
		if strings.HasPrefix(key, prefix) {
			delete(f.state, key)
		}
	}
}
