package domain

import "time"

// TradeExecution is a single fill from a venue's own-trade history.
// Immutable once recorded.
type TradeExecution struct {
	ID        string    // Venue-assigned fill identifier
	UserID    string    // Account the fill belongs to (set when persisted)
	Symbol    string    // Trading symbol
	Side      OrderSide // BUY or SELL
	Quantity  float64   // Filled quantity
	Price     float64   // Fill price
	Fee       float64   // Fee charged, in quote currency
	Timestamp time.Time // Fill time
	Venue     string    // Venue the fill happened on
}

// ClosedTrade is a completed round-trip produced by matching an execution
// against an open lot of the opposite side (FIFO). It is derived during a
// calculation run, never persisted independently.
type ClosedTrade struct {
	Symbol     string        // Trading symbol
	EntryTime  time.Time     // When the matched lot was opened
	ExitTime   time.Time     // When the closing execution happened
	Duration   time.Duration // ExitTime - EntryTime
	Side       TradeSide     // long or short
	Quantity   float64       // Matched quantity
	EntryPrice float64       // Lot entry price
	ExitPrice  float64       // Closing execution price
	GrossPNL   float64       // Price P&L before fees
	Fee        float64       // Prorated entry + exit fees
	NetPNL     float64       // GrossPNL - Fee
	ROIPercent float64       // NetPNL / (EntryPrice * Quantity) * 100
}

// ReputationScore aggregates a trader's closed trades into a composite
// trust score in [0,100]. Recomputed on demand; never mutated in place.
type ReputationScore struct {
	TraderID      string    // Trader the score belongs to
	TotalTrades   int       // Closed trades considered
	WinningTrades int       // Trades with positive net P&L
	LosingTrades  int       // Trades with zero or negative net P&L
	WinRate       float64   // WinningTrades / TotalTrades * 100
	TotalPNLUSD   float64   // Sum of net P&L
	ProfitFactor  float64   // Gross profit / |gross loss|, capped when lossless
	AverageROI    float64   // Mean ROI percent across closed trades
	Score         float64   // Composite score in [0,100]
	GeneratedAt   time.Time // When the score was computed
}
