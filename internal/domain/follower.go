package domain

import "time"

// Follower links a lead trader and a follower account. A follower may not
// copy the same trader twice: the (TraderID, FollowerID) pair is unique.
type Follower struct {
	ID           int64      // Unique identifier (from DB)
	TraderID     string     // Lead trader being copied
	FollowerID   string     // Account doing the copying
	IsActive     bool       // Relationship still exists
	IsCopying    bool       // Copying currently enabled
	FollowedAt   time.Time  // When the relationship was created
	UnfollowedAt *time.Time // When the relationship was ended (nil if active)
}

// CopyConfig holds a follower's sizing and risk configuration. Exactly one
// config exists per follower relationship; unfollowing cascades to
// deactivate it.
type CopyConfig struct {
	ID                int64      // Unique identifier (from DB)
	FollowerRelID     int64      // Follower relationship this config belongs to
	Mode              SizingMode // How replica quantities are computed
	FixedAmountUSD    float64    // Notional per trade for SizingFixedAmount
	ProportionPercent float64    // Percentage of lead quantity for SizingProportional
	MinTradeSizeUSD   float64    // Below this notional the copy is skipped (0 = no minimum)
	MaxTradeSizeUSD   float64    // Above this notional the quantity is capped (0 = no cap)
	MaxPositionUSD    float64    // Max notional per copied position (0 = unlimited)
	MaxDailyLossUSD   float64    // Max realized loss per day before copying halts (0 = unlimited)
	AllowedVenues     []string   // Venue allow-list (empty = all)
	AllowedSymbols    []string   // Symbol allow-list (empty = all)
	IsActive          bool       // Deactivated when the relationship ends
	IsPaused          bool       // Temporarily suspended
	PauseReason       string     // Why the config is paused
	TotalCopiedTrades int64      // Cumulative successful copies
	TotalPNLUSD       float64    // Cumulative realized P&L from copied trades
}

// AllowsVenue reports whether the config's venue allow-list admits the venue.
func (c *CopyConfig) AllowsVenue(venue string) bool {
	if len(c.AllowedVenues) == 0 {
		return true
	}
	for _, v := range c.AllowedVenues {
		if v == venue {
			return true
		}
	}
	return false
}

// AllowsSymbol reports whether the config's symbol allow-list admits the symbol.
func (c *CopyConfig) AllowsSymbol(symbol string) bool {
	if len(c.AllowedSymbols) == 0 {
		return true
	}
	for _, s := range c.AllowedSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}
