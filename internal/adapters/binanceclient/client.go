package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Mahd-Mehn/MM-zypherfunk/internal/domain"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"golang.org/x/time/rate"
)

const (
	venueName = "binance"

	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"

	// Binance allows 1200 request weight per minute; 10 req/s with a small
	// burst keeps every endpoint we call well under that ceiling.
	requestsPerSecond = 10
	requestBurst      = 5
)

// Client implements ports.ExchangeAdapter for Binance spot using the
// go-binance library. Each Client instance carries its own credentials;
// instances are never shared between sessions or followers.
type Client struct {
	spot    *binance.Client
	logger  ports.Logger
	limiter *rate.Limiter
}

// Config holds configuration specific to the Binance adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance spot adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance adapter")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Adapter will only work for public endpoints.")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
	} else {
		client.BaseURL = baseURLProduction
	}

	return &Client{
		spot:    client,
		logger:  cfg.Logger,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
	}, nil
}

// Factory returns an AdapterFactory that builds credentialed Binance
// adapters. Testnet mode applies to every instance the factory builds.
func Factory(useTestnet bool) ports.AdapterFactory {
	return func(venue string, creds *ports.Credentials, logger ports.Logger) (ports.ExchangeAdapter, error) {
		if venue != venueName {
			return nil, fmt.Errorf("%w: factory for %q cannot build %q", ports.ErrVenueNotRegistered, venueName, venue)
		}
		cfg := Config{UseTestnet: useTestnet, Logger: logger}
		if creds != nil {
			cfg.APIKey = creds.APIKey
			cfg.SecretKey = creds.APISecret
		}
		return New(cfg)
	}
}

// Name returns the venue identifier.
func (c *Client) Name() string { return venueName }

// Type reports the venue class.
func (c *Client) Type() domain.VenueType { return domain.VenueCEX }

// Initialize verifies connectivity to the exchange.
func (c *Client) Initialize(ctx context.Context) error {
	op := "Initialize"
	if err := c.wait(ctx, op); err != nil {
		return err
	}
	if err := c.spot.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"venue": venueName})
	return nil
}

// Close releases adapter resources. The REST client holds no persistent
// connections, so there is nothing to tear down.
func (c *Client) Close() error { return nil }

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Invalid signature
			mappedErr = ports.ErrAuthenticationFailed
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1112, -1121, -1125, -1130:
			// Parameter/request format errors
			mappedErr = ports.ErrInvalidRequest
		case -1013: // Filter failure (LOT_SIZE, MIN_NOTIONAL, ...)
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -2011: // Cancel order rejected
			mappedErr = ports.ErrOrderCancelFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014: // API-key format invalid
			mappedErr = ports.ErrInvalidAPIKeys
		case -2015: // Invalid API-key, IP, or permissions for action
			mappedErr = ports.ErrInvalidAPIKeys
		case -3041: // Balance is not enough
			mappedErr = ports.ErrInsufficientFunds
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// wait blocks until the rate limiter grants a slot or the context ends.
func (c *Client) wait(ctx context.Context, operation string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return c.handleError(ctx, err, operation)
	}
	return nil
}

// PlaceOrder places a spot order on Binance.
func (c *Client) PlaceOrder(ctx context.Context, order domain.Order) (*domain.OrderResult, error) {
	op := "PlaceOrder"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	svc := c.spot.NewCreateOrderService().
		Symbol(order.Symbol).
		Side(binance.SideType(order.Side)).
		Quantity(formatQuantity(order.Quantity))

	switch order.Type {
	case domain.OrderTypeMarket, "":
		svc = svc.Type(binance.OrderTypeMarket)
	case domain.OrderTypeLimit:
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(formatQuantity(order.Price))
	case domain.OrderTypeStopLoss:
		svc = svc.Type(binance.OrderTypeStopLossLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(formatQuantity(order.Price)).
			StopPrice(formatQuantity(order.StopPrice))
	case domain.OrderTypeTakeProfit:
		svc = svc.Type(binance.OrderTypeTakeProfitLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(formatQuantity(order.Price)).
			StopPrice(formatQuantity(order.StopPrice))
	default:
		return nil, fmt.Errorf("%s failed: %w: unsupported order type %q", op, ports.ErrInvalidRequest, order.Type)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	result := translateCreateResponse(resp)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":   order.Symbol,
		"side":     order.Side,
		"quantity": order.Quantity,
		"orderID":  result.OrderID,
		"status":   result.Status,
		"avgPrice": result.AvgPrice,
	})
	return result, nil
}

// CancelOrder cancels an open order. Returns false when the order is
// already gone from the venue.
func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string) (bool, error) {
	op := "CancelOrder"
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return false, fmt.Errorf("%s failed: %w: non-numeric order id %q", op, ports.ErrInvalidRequest, orderID)
	}
	if err := c.wait(ctx, op); err != nil {
		return false, err
	}

	_, err = c.spot.NewCancelOrderService().
		Symbol(symbol).
		OrderID(id).
		Do(ctx)
	if err != nil {
		translated := c.handleError(ctx, err, op)
		if errors.Is(translated, ports.ErrOrderNotFound) {
			return false, nil
		}
		return false, translated
	}

	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "orderID": orderID})
	return true, nil
}

// OrderStatus retrieves the current state of an order.
func (c *Client) OrderStatus(ctx context.Context, orderID, symbol string) (*domain.OrderResult, error) {
	op := "OrderStatus"
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: non-numeric order id %q", op, ports.ErrInvalidRequest, orderID)
	}
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	order, err := c.spot.NewGetOrderService().
		Symbol(symbol).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return translateOrder(order), nil
}

// Balances retrieves account balances. With an asset filter only that
// asset is returned; otherwise every asset with a non-zero balance.
func (c *Client) Balances(ctx context.Context, asset string) ([]domain.Balance, error) {
	op := "Balances"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	account, err := c.spot.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	var out []domain.Balance
	for _, b := range account.Balances {
		if asset != "" && !strings.EqualFold(b.Asset, asset) {
			continue
		}
		free, _ := strconv.ParseFloat(b.Free, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		if asset == "" && free == 0 && locked == 0 {
			continue
		}
		out = append(out, domain.Balance{
			Asset:  b.Asset,
			Free:   free,
			Locked: locked,
			Total:  free + locked,
		})
	}
	return out, nil
}

// Ticker retrieves the current quote for a symbol.
func (c *Client) Ticker(ctx context.Context, symbol string) (*domain.MarketData, error) {
	op := "Ticker"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	stats, err := c.spot.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if len(stats) == 0 {
		err := fmt.Errorf("no ticker data returned for symbol %s", symbol)
		return nil, c.handleError(ctx, err, op)
	}

	s := stats[0]
	bid, _ := strconv.ParseFloat(s.BidPrice, 64)
	ask, _ := strconv.ParseFloat(s.AskPrice, 64)
	last, err := strconv.ParseFloat(s.LastPrice, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", s.LastPrice, err)
		return nil, c.handleError(ctx, parseErr, op)
	}
	volume, _ := strconv.ParseFloat(s.Volume, 64)

	return &domain.MarketData{
		Symbol:    symbol,
		Bid:       bid,
		Ask:       ask,
		Last:      last,
		Volume24h: volume,
		Timestamp: time.Now().UTC(),
	}, nil
}

// SupportedPairs lists symbols currently open for trading.
func (c *Client) SupportedPairs(ctx context.Context) ([]string, error) {
	op := "SupportedPairs"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	info, err := c.spot.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	pairs := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		pairs = append(pairs, s.Symbol)
	}
	return pairs, nil
}

// RecentOrders returns the caller's order history for a symbol. Binance
// requires a symbol for historical orders; with an empty symbol only the
// account-wide open orders are visible.
func (c *Client) RecentOrders(ctx context.Context, symbol string, since time.Time, limit int) ([]domain.VenueOrder, error) {
	op := "RecentOrders"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	var (
		orders []*binance.Order
		err    error
	)
	if symbol == "" {
		orders, err = c.spot.NewListOpenOrdersService().Do(ctx)
	} else {
		svc := c.spot.NewListOrdersService().Symbol(symbol)
		if !since.IsZero() {
			svc = svc.StartTime(since.UnixMilli())
		}
		if limit > 0 {
			svc = svc.Limit(limit)
		}
		orders, err = svc.Do(ctx)
	}
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	out := make([]domain.VenueOrder, 0, len(orders))
	for _, o := range orders {
		out = append(out, translateVenueOrder(o))
	}
	return out, nil
}

// MyTrades returns the caller's own fills for a symbol.
func (c *Client) MyTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]domain.TradeExecution, error) {
	op := "MyTrades"
	if symbol == "" {
		return nil, fmt.Errorf("%s failed: %w: symbol is required", op, ports.ErrInvalidRequest)
	}
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	svc := c.spot.NewListTradesService().Symbol(symbol)
	if !since.IsZero() {
		svc = svc.StartTime(since.UnixMilli())
	}
	if limit > 0 {
		svc = svc.Limit(limit)
	}
	trades, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	out := make([]domain.TradeExecution, 0, len(trades))
	for _, t := range trades {
		price, _ := strconv.ParseFloat(t.Price, 64)
		qty, _ := strconv.ParseFloat(t.Quantity, 64)
		fee, _ := strconv.ParseFloat(t.Commission, 64)
		side := domain.Sell
		if t.IsBuyer {
			side = domain.Buy
		}
		out = append(out, domain.TradeExecution{
			ID:        strconv.FormatInt(t.ID, 10),
			Symbol:    t.Symbol,
			Side:      side,
			Quantity:  qty,
			Price:     price,
			Fee:       fee,
			Timestamp: time.UnixMilli(t.Time),
			Venue:     venueName,
		})
	}
	return out, nil
}

// --- Translation Helpers ---

func formatQuantity(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

func translateCreateResponse(resp *binance.CreateOrderResponse) *domain.OrderResult {
	if resp == nil {
		return nil
	}
	origQty, _ := strconv.ParseFloat(resp.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)

	// Market orders report price per fill, not on the response itself.
	var avgPrice float64
	if execQty > 0 {
		var notional float64
		for _, f := range resp.Fills {
			p, _ := strconv.ParseFloat(f.Price, 64)
			q, _ := strconv.ParseFloat(f.Quantity, 64)
			notional += p * q
		}
		if notional > 0 {
			avgPrice = notional / execQty
		} else {
			avgPrice, _ = strconv.ParseFloat(resp.Price, 64)
		}
	}

	return &domain.OrderResult{
		OrderID:        strconv.FormatInt(resp.OrderID, 10),
		Venue:          venueName,
		VenueType:      domain.VenueCEX,
		Symbol:         resp.Symbol,
		Side:           domain.OrderSide(resp.Side),
		Quantity:       origQty,
		FilledQuantity: execQty,
		AvgPrice:       avgPrice,
		Status:         string(resp.Status),
		Timestamp:      time.UnixMilli(resp.TransactTime),
	}
}

func translateOrder(o *binance.Order) *domain.OrderResult {
	if o == nil {
		return nil
	}
	origQty, _ := strconv.ParseFloat(o.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(o.ExecutedQuantity, 64)
	price, _ := strconv.ParseFloat(o.Price, 64)

	var avgPrice float64
	if execQty > 0 {
		quote, _ := strconv.ParseFloat(o.CummulativeQuoteQuantity, 64)
		if quote > 0 {
			avgPrice = quote / execQty
		} else {
			avgPrice = price
		}
	}

	return &domain.OrderResult{
		OrderID:        strconv.FormatInt(o.OrderID, 10),
		Venue:          venueName,
		VenueType:      domain.VenueCEX,
		Symbol:         o.Symbol,
		Side:           domain.OrderSide(o.Side),
		Quantity:       origQty,
		FilledQuantity: execQty,
		AvgPrice:       avgPrice,
		Status:         string(o.Status),
		Timestamp:      time.UnixMilli(o.UpdateTime),
	}
}

func translateVenueOrder(o *binance.Order) domain.VenueOrder {
	origQty, _ := strconv.ParseFloat(o.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(o.ExecutedQuantity, 64)
	price, _ := strconv.ParseFloat(o.Price, 64)

	return domain.VenueOrder{
		OrderID:   strconv.FormatInt(o.OrderID, 10),
		Symbol:    o.Symbol,
		Side:      domain.OrderSide(o.Side),
		Type:      domain.OrderType(o.Type),
		Status:    string(o.Status),
		Quantity:  origQty,
		Filled:    execQty,
		Price:     price,
		UpdatedAt: time.UnixMilli(o.UpdateTime),
	}
}
