package domain

import "time"

// Order is the unified order request passed to venue adapters.
type Order struct {
	Symbol    string    // Trading symbol (venue-native format)
	Side      OrderSide // BUY or SELL
	Type      OrderType // MARKET, LIMIT, ...
	Quantity  float64   // Base-asset quantity
	Price     float64   // Limit price (0 for market orders)
	StopPrice float64   // Trigger price for stop orders
	Slippage  float64   // Max slippage fraction for DEX trades (0 = default)
}

// OrderResult describes the outcome of placing or querying an order.
type OrderResult struct {
	OrderID        string    // Venue-assigned order ID
	Venue          string    // Venue the order was placed on
	VenueType      VenueType // cex or dex
	Symbol         string    // Trading symbol
	Side           OrderSide // BUY or SELL
	Quantity       float64   // Original quantity requested
	FilledQuantity float64   // Quantity filled
	AvgPrice       float64   // Average fill price (0 while unfilled)
	Status         string    // Venue-reported status
	TxHash         string    // Transaction hash for DEX trades
	Timestamp      time.Time // Time the result was produced
}

// VenueOrder is a raw-ish order record as reported by a venue's order
// history, before classification into a TradeEvent.
type VenueOrder struct {
	OrderID   string    // Venue-assigned order ID
	Symbol    string    // Trading symbol
	Side      OrderSide // BUY or SELL
	Type      OrderType // Order type
	Status    string    // Venue-reported status (e.g. NEW, FILLED, CANCELED)
	Quantity  float64   // Requested quantity
	Filled    float64   // Filled quantity
	Price     float64   // Order price (0 for market orders)
	UpdatedAt time.Time // Last state change reported by the venue
}

// Balance is an account balance for a single asset on one venue.
type Balance struct {
	Asset  string  // Asset symbol (e.g. "USDT")
	Free   float64 // Available balance
	Locked float64 // Balance locked in open orders
	Total  float64 // Free + Locked
}

// MarketData is a point-in-time quote for a symbol on one venue.
type MarketData struct {
	Symbol    string    // Trading symbol
	Bid       float64   // Best bid
	Ask       float64   // Best ask
	Last      float64   // Last trade price
	Volume24h float64   // 24h base-asset volume
	Timestamp time.Time // Quote time
}

// Position is an open position as reported by a venue.
type Position struct {
	Symbol     string    // Trading symbol
	Size       float64   // Position size (0 means flat)
	EntryPrice float64   // Average entry price
	Side       TradeSide // long or short
}
