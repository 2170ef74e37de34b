// Package orchestrator owns the venue adapter registry and layers routing
// strategies on top of the raw per-adapter operations: best-price
// discovery, fallback chains, multi-venue replication and cross-venue
// aggregation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Mahd-Mehn/MM-zypherfunk/internal/domain"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/ports"
)

// BestQuote is the result of a best-price discovery across venues.
type BestQuote struct {
	Venue  string                       // Venue quoting the best price
	Price  float64                      // Lowest ask for a buy, highest bid for a sell
	Quotes map[string]domain.MarketData // Every usable quote, by venue
}

// AggregatedBalance sums one asset's balances across venues; per-venue
// failures are reported, never silently dropped.
type AggregatedBalance struct {
	Asset       string
	TotalFree   float64
	TotalLocked float64
	Total       float64
	ByVenue     map[string][]domain.Balance
	Errors      map[string]string
}

// ReplicationResult is the per-venue outcome of a replicated trade.
type ReplicationResult struct {
	Venue  string
	Result *domain.OrderResult
	Err    error
}

// TradeHistory is the per-venue result of a user trade history fan-in.
type TradeHistory struct {
	ByVenue map[string][]domain.TradeExecution
	Errors  map[string]string
}

// VenueStatus describes one registered venue.
type VenueStatus struct {
	Name        string
	Type        domain.VenueType
	Initialized bool
}

// Orchestrator routes orders across the registered venue adapters. The
// registry is mutated only through AddVenue/RegisterFactory and read by
// everything else; it is never handed out as a raw map.
type Orchestrator struct {
	logger ports.Logger

	mu          sync.RWMutex
	adapters    map[string]ports.ExchangeAdapter
	initialized map[string]bool
	order       []string // registration order, drives fallback chains
	factories   map[string]ports.AdapterFactory
}

// New creates an orchestrator instance.
func New(logger ports.Logger) (*Orchestrator, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for Orchestrator")
	}
	return &Orchestrator{
		logger:      logger,
		adapters:    make(map[string]ports.ExchangeAdapter),
		initialized: make(map[string]bool),
		factories:   make(map[string]ports.AdapterFactory),
	}, nil
}

// AddVenue registers and initializes an adapter under its venue name.
// Initialization failure leaves the venue registered but excluded from
// routing.
func (o *Orchestrator) AddVenue(ctx context.Context, adapter ports.ExchangeAdapter) error {
	name := adapter.Name()

	o.mu.Lock()
	if _, exists := o.adapters[name]; !exists {
		o.order = append(o.order, name)
	}
	o.adapters[name] = adapter
	o.initialized[name] = false
	o.mu.Unlock()

	if err := adapter.Initialize(ctx); err != nil {
		o.logger.Error(ctx, err, "Venue initialization failed", map[string]interface{}{"venue": name})
		return fmt.Errorf("initializing venue %s: %w", name, err)
	}

	o.mu.Lock()
	o.initialized[name] = true
	o.mu.Unlock()
	o.logger.Info(ctx, "Venue registered", map[string]interface{}{"venue": name, "type": string(adapter.Type())})
	return nil
}

// RegisterFactory registers a constructor for credentialed per-user
// adapter instances of a venue (used for follower dispatch and
// monitoring sessions).
func (o *Orchestrator) RegisterFactory(venue string, factory ports.AdapterFactory) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.factories[venue] = factory
}

// NewAdapter builds a fresh credentialed adapter for a venue. Each caller
// owns the returned instance exclusively and must Close it.
func (o *Orchestrator) NewAdapter(venue string, creds *ports.Credentials) (ports.ExchangeAdapter, error) {
	o.mu.RLock()
	factory, ok := o.factories[venue]
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrVenueNotRegistered, venue)
	}
	return factory(venue, creds, o.logger)
}

// adapterFor returns the process-level adapter for a venue, or an error
// if the venue is unknown or failed initialization.
func (o *Orchestrator) adapterFor(venue string) (ports.ExchangeAdapter, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	adapter, ok := o.adapters[venue]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrVenueNotRegistered, venue)
	}
	if !o.initialized[venue] {
		return nil, fmt.Errorf("%w: %s", ports.ErrVenueNotInitialized, venue)
	}
	return adapter, nil
}

// initializedVenues returns the initialized venue names in registration
// order, optionally filtered by type.
func (o *Orchestrator) initializedVenues(filter ...domain.VenueType) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var names []string
	for _, name := range o.order {
		if !o.initialized[name] {
			continue
		}
		if len(filter) > 0 && o.adapters[name].Type() != filter[0] {
			continue
		}
		names = append(names, name)
	}
	return names
}

// PlaceOrder places an order on one specific venue.
func (o *Orchestrator) PlaceOrder(ctx context.Context, venue string, order domain.Order) (*domain.OrderResult, error) {
	adapter, err := o.adapterFor(venue)
	if err != nil {
		return nil, err
	}
	return adapter.PlaceOrder(ctx, order)
}

// PlaceOrderFor places an order on a venue using the caller's own
// credentials. A dedicated adapter instance is built, used and released;
// it is never shared with the process-level registry.
func (o *Orchestrator) PlaceOrderFor(ctx context.Context, venue string, creds *ports.Credentials, order domain.Order) (*domain.OrderResult, error) {
	adapter, err := o.NewAdapter(venue, creds)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := adapter.Close(); cerr != nil {
			o.logger.Warn(ctx, "Error closing dispatch adapter", map[string]interface{}{"venue": venue, "error": cerr.Error()})
		}
	}()

	if err := adapter.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initializing %s for dispatch: %w", venue, err)
	}
	return adapter.PlaceOrder(ctx, order)
}

// PlaceOrderWithFallback tries each venue in order and returns the first
// success. If every venue fails, the returned error enumerates each
// per-venue failure.
func (o *Orchestrator) PlaceOrderWithFallback(ctx context.Context, venues []string, order domain.Order) (*domain.OrderResult, error) {
	if len(venues) == 0 {
		return nil, fmt.Errorf("%w: no venues given for fallback placement", ports.ErrInvalidRequest)
	}

	var failures []error
	for _, venue := range venues {
		result, err := o.PlaceOrder(ctx, venue, order)
		if err == nil {
			return result, nil
		}
		failures = append(failures, fmt.Errorf("%s: %w", venue, err))
		o.logger.Warn(ctx, "Fallback venue failed, trying next", map[string]interface{}{"venue": venue, "error": err.Error()})
	}
	return nil, fmt.Errorf("all venues failed: %w", errors.Join(failures...))
}

// BestPrice queries every initialized venue's ticker concurrently and
// returns the venue with the lowest ask (buy) or highest bid (sell). One
// venue's ticker failure never aborts the others; an error is returned
// only when no venue produced a usable quote.
func (o *Orchestrator) BestPrice(ctx context.Context, symbol string, side domain.OrderSide) (*BestQuote, error) {
	venues := o.initializedVenues()
	if len(venues) == 0 {
		return nil, fmt.Errorf("%w: no venues initialized", ports.ErrNoQuotes)
	}

	type quoteResult struct {
		venue string
		data  *domain.MarketData
	}
	results := make([]quoteResult, len(venues))

	var wg sync.WaitGroup
	for i, venue := range venues {
		wg.Add(1)
		go func(i int, venue string) {
			defer wg.Done()
			adapter, err := o.adapterFor(venue)
			if err != nil {
				return
			}
			data, err := adapter.Ticker(ctx, symbol)
			if err != nil {
				o.logger.Warn(ctx, "Ticker query failed", map[string]interface{}{"venue": venue, "symbol": symbol, "error": err.Error()})
				return
			}
			results[i] = quoteResult{venue: venue, data: data}
		}(i, venue)
	}
	wg.Wait()

	best := &BestQuote{Quotes: make(map[string]domain.MarketData)}
	for _, r := range results {
		if r.data == nil {
			continue
		}
		best.Quotes[r.venue] = *r.data
		switch side {
		case domain.Buy:
			if r.data.Ask <= 0 {
				continue
			}
			if best.Venue == "" || r.data.Ask < best.Price {
				best.Venue, best.Price = r.venue, r.data.Ask
			}
		default:
			if r.data.Bid <= 0 {
				continue
			}
			if best.Venue == "" || r.data.Bid > best.Price {
				best.Venue, best.Price = r.venue, r.data.Bid
			}
		}
	}
	if best.Venue == "" {
		return nil, fmt.Errorf("%w: symbol %s", ports.ErrNoQuotes, symbol)
	}
	return best, nil
}

// ExecuteSmart routes an order by strategy: best_price routes to the
// venue found by BestPrice; fallback tries centralized venues before
// decentralized ones, in registration order within each class; parallel
// order-splitting is not implemented and errors loudly.
func (o *Orchestrator) ExecuteSmart(ctx context.Context, order domain.Order, strategy domain.RoutingStrategy) (*domain.OrderResult, error) {
	switch strategy {
	case domain.RouteBestPrice:
		best, err := o.BestPrice(ctx, order.Symbol, order.Side)
		if err != nil {
			return nil, err
		}
		return o.PlaceOrder(ctx, best.Venue, order)

	case domain.RouteFallback:
		chain := append(o.initializedVenues(domain.VenueCEX), o.initializedVenues(domain.VenueDEX)...)
		if len(chain) == 0 {
			return nil, fmt.Errorf("%w: no venues initialized", ports.ErrVenueNotInitialized)
		}
		return o.PlaceOrderWithFallback(ctx, chain, order)

	case domain.RouteParallel:
		return nil, fmt.Errorf("%w: parallel order splitting", ports.ErrStrategyNotSupported)

	default:
		return nil, fmt.Errorf("%w: %q", ports.ErrStrategyNotSupported, strategy)
	}
}

// Replicate executes on the source venue first, waits for the given delay
// so target-venue liquidity can settle, then executes on every target
// concurrently. Target failures are collected alongside successes; a
// source failure aborts the whole replication.
func (o *Orchestrator) Replicate(ctx context.Context, sourceVenue string, targetVenues []string, order domain.Order, delay time.Duration) ([]ReplicationResult, error) {
	sourceResult, err := o.PlaceOrder(ctx, sourceVenue, order)
	if err != nil {
		return nil, fmt.Errorf("source venue %s failed: %w", sourceVenue, err)
	}
	results := []ReplicationResult{{Venue: sourceVenue, Result: sourceResult}}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return results, ctx.Err()
		}
	}

	targets := make([]ReplicationResult, len(targetVenues))
	var wg sync.WaitGroup
	for i, venue := range targetVenues {
		wg.Add(1)
		go func(i int, venue string) {
			defer wg.Done()
			result, err := o.PlaceOrder(ctx, venue, order)
			targets[i] = ReplicationResult{Venue: venue, Result: result, Err: err}
		}(i, venue)
	}
	wg.Wait()

	return append(results, targets...), nil
}

// AggregatedBalance queries balances from every initialized venue
// concurrently and sums free/locked/total for the requested asset. With
// an empty asset the per-venue breakdown is returned without totals.
func (o *Orchestrator) AggregatedBalance(ctx context.Context, asset string) (*AggregatedBalance, error) {
	venues := o.initializedVenues()
	if len(venues) == 0 {
		return nil, fmt.Errorf("%w: no venues initialized", ports.ErrVenueNotInitialized)
	}

	agg := &AggregatedBalance{
		Asset:   asset,
		ByVenue: make(map[string][]domain.Balance, len(venues)),
		Errors:  make(map[string]string),
	}

	type balanceResult struct {
		venue    string
		balances []domain.Balance
		err      error
	}
	results := make([]balanceResult, len(venues))

	var wg sync.WaitGroup
	for i, venue := range venues {
		wg.Add(1)
		go func(i int, venue string) {
			defer wg.Done()
			adapter, err := o.adapterFor(venue)
			if err != nil {
				results[i] = balanceResult{venue: venue, err: err}
				return
			}
			balances, err := adapter.Balances(ctx, asset)
			results[i] = balanceResult{venue: venue, balances: balances, err: err}
		}(i, venue)
	}
	wg.Wait()

	for _, r := range results {
		if r.err != nil {
			agg.Errors[r.venue] = r.err.Error()
			o.logger.Warn(ctx, "Balance query failed", map[string]interface{}{"venue": r.venue, "error": r.err.Error()})
			continue
		}
		agg.ByVenue[r.venue] = r.balances
		if asset == "" {
			continue
		}
		for _, b := range r.balances {
			if b.Asset != asset {
				continue
			}
			agg.TotalFree += b.Free
			agg.TotalLocked += b.Locked
			agg.Total += b.Total
		}
	}
	return agg, nil
}

// SupportedPairs lists every initialized venue's trading pairs, isolating
// per-venue failures.
func (o *Orchestrator) SupportedPairs(ctx context.Context) (map[string][]string, map[string]string) {
	venues := o.initializedVenues()
	pairs := make(map[string][]string, len(venues))
	failures := make(map[string]string)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, venue := range venues {
		wg.Add(1)
		go func(venue string) {
			defer wg.Done()
			adapter, err := o.adapterFor(venue)
			if err != nil {
				mu.Lock()
				failures[venue] = err.Error()
				mu.Unlock()
				return
			}
			list, err := adapter.SupportedPairs(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[venue] = err.Error()
				return
			}
			pairs[venue] = list
		}(venue)
	}
	wg.Wait()
	return pairs, failures
}

// UserTrades fetches the caller's own trade history from one venue, or
// from every initialized venue when venue is empty. Venues without a
// trade history capability report an empty list, not an error.
func (o *Orchestrator) UserTrades(ctx context.Context, venue, symbol string, since time.Time, limit int) (*TradeHistory, error) {
	var venues []string
	if venue != "" {
		if _, err := o.adapterFor(venue); err != nil {
			return nil, err
		}
		venues = []string{venue}
	} else {
		venues = o.initializedVenues()
	}

	history := &TradeHistory{
		ByVenue: make(map[string][]domain.TradeExecution, len(venues)),
		Errors:  make(map[string]string),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range venues {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			adapter, err := o.adapterFor(name)
			if err != nil {
				mu.Lock()
				history.Errors[name] = err.Error()
				mu.Unlock()
				return
			}
			provider, ok := adapter.(ports.TradeHistoryProvider)
			if !ok {
				mu.Lock()
				history.ByVenue[name] = nil
				mu.Unlock()
				return
			}
			trades, err := provider.MyTrades(ctx, symbol, since, limit)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				history.Errors[name] = err.Error()
				return
			}
			history.ByVenue[name] = trades
		}(name)
	}
	wg.Wait()
	return history, nil
}

// Status reports every registered venue's registration state.
func (o *Orchestrator) Status() []VenueStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	statuses := make([]VenueStatus, 0, len(o.order))
	for _, name := range o.order {
		statuses = append(statuses, VenueStatus{
			Name:        name,
			Type:        o.adapters[name].Type(),
			Initialized: o.initialized[name],
		})
	}
	return statuses
}

// Close releases every registered adapter.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for name, adapter := range o.adapters {
		if err := adapter.Close(); err != nil {
			o.logger.Warn(context.Background(), "Error closing venue adapter", map[string]interface{}{"venue": name, "error": err.Error()})
		}
	}
	o.adapters = make(map[string]ports.ExchangeAdapter)
	o.initialized = make(map[string]bool)
	o.order = nil
}
