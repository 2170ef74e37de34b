// Package risk enforces a follower's per-trade and daily limits before a
// copy is dispatched.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Mahd-Mehn/MM-zypherfunk/internal/domain"
)

// Manager implements follower risk management. Per-trade checks read only
// the immutable config snapshot they are handed; the daily loss ledger is
// the manager's own in-memory state.
type Manager struct {
	mu     sync.Mutex
	losses map[string]*dayLedger // followerID -> today's realized P&L
}

type dayLedger struct {
	day time.Time // midnight UTC of the tracked day
	pnl float64
}

// NewManager creates a risk manager instance.
func NewManager() *Manager {
	return &Manager{losses: make(map[string]*dayLedger)}
}

// ValidateTrade checks a prospective copy against the follower's config:
// venue and symbol allow-lists and the per-position notional cap. A nil
// return means the trade may proceed.
func (r *Manager) ValidateTrade(ctx context.Context, cfg *domain.CopyConfig, venue, symbol string, notional float64) error {
	if !cfg.AllowsVenue(venue) {
		return fmt.Errorf("venue %s is not in the follower's allow-list", venue)
	}
	if !cfg.AllowsSymbol(symbol) {
		return fmt.Errorf("symbol %s is not in the follower's allow-list", symbol)
	}
	if cfg.MaxPositionUSD > 0 && notional > cfg.MaxPositionUSD {
		return fmt.Errorf("notional %.2f exceeds max position size %.2f", notional, cfg.MaxPositionUSD)
	}
	return nil
}

// CheckDailyLoss returns an error when the follower's realized loss for
// the current day already exceeds the configured limit.
func (r *Manager) CheckDailyLoss(ctx context.Context, cfg *domain.CopyConfig, followerID string, now time.Time) error {
	if cfg.MaxDailyLossUSD <= 0 {
		return nil
	}
	pnl := r.DailyPNL(followerID, now)
	if pnl < 0 && -pnl >= cfg.MaxDailyLossUSD {
		return fmt.Errorf("daily loss %.2f reached the configured limit %.2f", -pnl, cfg.MaxDailyLossUSD)
	}
	return nil
}

// RecordRealized adds a realized P&L amount (fees count as realized
// losses immediately) to the follower's ledger for the day.
func (r *Manager) RecordRealized(followerID string, pnl float64, at time.Time) {
	day := at.UTC().Truncate(24 * time.Hour)
	r.mu.Lock()
	defer r.mu.Unlock()
	ledger, ok := r.losses[followerID]
	if !ok || !ledger.day.Equal(day) {
		ledger = &dayLedger{day: day}
		r.losses[followerID] = ledger
	}
	ledger.pnl += pnl
}

// DailyPNL returns the follower's recorded realized P&L for the day of
// the given time.
func (r *Manager) DailyPNL(followerID string, at time.Time) float64 {
	day := at.UTC().Truncate(24 * time.Hour)
	r.mu.Lock()
	defer r.mu.Unlock()
	ledger, ok := r.losses[followerID]
	if !ok || !ledger.day.Equal(day) {
		return 0
	}
	return ledger.pnl
}
