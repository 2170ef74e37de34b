package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the opposing side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopLoss   OrderType = "STOP_LOSS"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT"
)

// VenueType distinguishes centralized exchanges from on-chain DEXes.
type VenueType string

const (
	VenueCEX VenueType = "cex"
	VenueDEX VenueType = "dex"
)

// SizingMode controls how a follower's replica quantity is derived from
// the lead trader's quantity.
type SizingMode string

const (
	// SizingFixedAmount buys/sells a fixed notional per copied trade.
	SizingFixedAmount SizingMode = "fixed_amount"
	// SizingProportional scales the lead quantity by a percentage.
	SizingProportional SizingMode = "proportional"
	// SizingSmartScale is reserved for equity-ratio scaling. Until the
	// equity signal is available it mirrors the lead quantity exactly.
	SizingSmartScale SizingMode = "smart_scale"
)

// ConnectionStatus represents the lifecycle state of a monitoring session.
type ConnectionStatus string

const (
	StatusInitializing ConnectionStatus = "initializing"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// TradeSide is the logical direction of a closed round-trip trade.
type TradeSide string

const (
	Long  TradeSide = "long"
	Short TradeSide = "short"
)

// RoutingStrategy selects how the orchestrator routes a smart order.
type RoutingStrategy string

const (
	// RouteBestPrice sends the order to the venue quoting the best price.
	RouteBestPrice RoutingStrategy = "best_price"
	// RouteFallback tries centralized venues first, then decentralized,
	// in registration order within each class.
	RouteFallback RoutingStrategy = "fallback"
	// RouteParallel would split the order across venues. Not implemented.
	RouteParallel RoutingStrategy = "parallel"
)
