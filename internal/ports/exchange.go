package ports

import (
	"context"
	"time"

	"github.com/Mahd-Mehn/MM-zypherfunk/internal/domain"
)

// ExchangeAdapter defines the capability interface every trading venue
// must implement. This abstraction decouples the core copy-trading logic
// from any specific exchange; new venues are added by registering an
// implementation, never by branching on a name string.
type ExchangeAdapter interface {
	// Name returns the venue identifier (e.g. "binance").
	Name() string

	// Type reports whether the venue is centralized or on-chain.
	Type() domain.VenueType

	// Initialize establishes and verifies the connection to the venue.
	Initialize(ctx context.Context) error

	// PlaceOrder places an order and returns the execution result.
	PlaceOrder(ctx context.Context, order domain.Order) (*domain.OrderResult, error)

	// CancelOrder cancels an open order by its venue-assigned ID.
	CancelOrder(ctx context.Context, orderID, symbol string) (bool, error)

	// OrderStatus retrieves the current state of an order.
	OrderStatus(ctx context.Context, orderID, symbol string) (*domain.OrderResult, error)

	// Balances retrieves account balances, optionally filtered to one asset
	// (empty string = all assets with a non-zero balance).
	Balances(ctx context.Context, asset string) ([]domain.Balance, error)

	// Ticker retrieves the current quote for a symbol.
	Ticker(ctx context.Context, symbol string) (*domain.MarketData, error)

	// SupportedPairs lists the trading pairs the venue supports.
	SupportedPairs(ctx context.Context) ([]string, error)

	// Close releases the adapter's resources. After Close the adapter must
	// not be reused.
	Close() error
}

// OrderHistoryProvider is an optional capability: venues that can report
// the caller's own order history implement it. Symbol may be empty when
// the venue supports account-wide queries; adapters that require a symbol
// should fall back to open orders in that case.
type OrderHistoryProvider interface {
	RecentOrders(ctx context.Context, symbol string, since time.Time, limit int) ([]domain.VenueOrder, error)
}

// TradeHistoryProvider is an optional capability: venues that can report
// the caller's own fills implement it.
type TradeHistoryProvider interface {
	MyTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]domain.TradeExecution, error)
}

// PositionProvider is an optional capability: venues with a native
// position model implement it. Spot-only venues do not.
type PositionProvider interface {
	OpenPositions(ctx context.Context) ([]domain.Position, error)
}

// AdapterFactory builds a credentialed adapter instance for a venue. Each
// monitoring session and each copy dispatch gets its own instance;
// adapter instances are never shared between owners.
type AdapterFactory func(venue string, creds *Credentials, logger Logger) (ExchangeAdapter, error)

// AdapterProvider hands out fresh credentialed adapter instances for
// registered venues. The orchestrator implements it.
type AdapterProvider interface {
	NewAdapter(venue string, creds *Credentials) (ExchangeAdapter, error)
}
