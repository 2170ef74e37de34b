// Package copyengine turns normalized trade events into replica orders
// for every follower of the event's lead trader.
package copyengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mahd-Mehn/MM-zypherfunk/internal/domain"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/pnl"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/ports"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/risk"
)

const defaultDispatchTimeout = 30 * time.Second

// Dispatcher places an order on a venue on behalf of a credentialed user.
// The orchestrator implements it.
type Dispatcher interface {
	PlaceOrderFor(ctx context.Context, venue string, creds *ports.Credentials, order domain.Order) (*domain.OrderResult, error)
}

// Config holds the engine's dependencies.
type Config struct {
	Logger          ports.Logger
	Bus             ports.EventBus
	Followers       ports.FollowerRepository
	Configs         ports.CopyConfigRepository
	Executions      ports.ExecutionRepository
	Credentials     ports.CredentialStore
	Dispatcher      Dispatcher
	Risk            *risk.Manager
	Calculator      *pnl.Calculator // FIFO matcher for realized P&L, defaulted when nil
	DispatchTimeout time.Duration   // per order placement, default 30s
}

// Metrics is a point-in-time snapshot of engine counters.
type Metrics struct {
	EventsProcessed int64     `json:"events_processed"`
	TradesCopied    int64     `json:"trades_copied"`
	CopySkips       int64     `json:"copy_skips"`
	CopyFailures    int64     `json:"copy_failures"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Engine subscribes to the event bus and dispatches scaled replica orders.
// Followers are processed in independent goroutines: one follower's
// failure never blocks or rolls back another follower's copy.
type Engine struct {
	cfg    Config
	logger ports.Logger

	mu      sync.Mutex
	running bool
	stop    context.CancelFunc
	unsub   func()
	wg      sync.WaitGroup

	eventsProcessed atomic.Int64
	tradesCopied    atomic.Int64
	copySkips       atomic.Int64
	copyFailures    atomic.Int64
}

// New creates a copy-trading engine instance.
func New(cfg Config) (*Engine, error) {
	if cfg.Logger == nil || cfg.Bus == nil || cfg.Followers == nil || cfg.Configs == nil ||
		cfg.Executions == nil || cfg.Credentials == nil || cfg.Dispatcher == nil || cfg.Risk == nil {
		return nil, fmt.Errorf("missing required dependencies for Engine")
	}
	if cfg.Calculator == nil {
		cfg.Calculator = pnl.NewCalculator()
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = defaultDispatchTimeout
	}
	return &Engine{cfg: cfg, logger: cfg.Logger}, nil
}

// Start subscribes to the bus and begins processing events.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	events, unsub := e.cfg.Bus.SubscribeAll()
	e.running = true
	e.stop = cancel
	e.unsub = unsub

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case event := <-events:
				if event == nil {
					continue
				}
				e.eventsProcessed.Add(1)
				if !event.Type.IsCopyable() {
					continue
				}
				e.processEvent(runCtx, event)
			}
		}
	}()

	e.logger.Info(ctx, "Copy trading engine started")
	return nil
}

// Stop unsubscribes from the bus and waits for in-flight copies.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.unsub()
	e.stop()
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info(context.Background(), "Copy trading engine stopped")
}

// Snapshot returns current engine counters.
func (e *Engine) Snapshot() Metrics {
	return Metrics{
		EventsProcessed: e.eventsProcessed.Load(),
		TradesCopied:    e.tradesCopied.Load(),
		CopySkips:       e.copySkips.Load(),
		CopyFailures:    e.copyFailures.Load(),
		UpdatedAt:       time.Now().UTC(),
	}
}

// processEvent resolves the active followers of the event's trader and
// dispatches one independent copy task per follower. It blocks until all
// followers have been attempted so shutdown can drain cleanly.
func (e *Engine) processEvent(ctx context.Context, event *domain.TradeEvent) {
	followers, err := e.cfg.Followers.FindCopying(ctx, event.TraderID)
	if err != nil {
		e.logger.Error(ctx, err, "Failed to resolve followers", map[string]interface{}{"trader": event.TraderID})
		return
	}
	if len(followers) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, follower := range followers {
		wg.Add(1)
		go func(f *domain.Follower) {
			defer wg.Done()
			e.copyForFollower(ctx, f, event)
		}(follower)
	}
	wg.Wait()
}

// copyForFollower runs the full copy pipeline for one follower:
// config → size → risk → credentials → dispatch → record. Every skip is
// reported; every failure is contained to this follower.
func (e *Engine) copyForFollower(ctx context.Context, follower *domain.Follower, event *domain.TradeEvent) {
	fields := map[string]interface{}{
		"follower": follower.FollowerID,
		"trader":   event.TraderID,
		"venue":    event.Venue,
		"symbol":   event.Symbol,
		"event":    string(event.Type),
	}

	cfg, err := e.cfg.Configs.FindByRelationship(ctx, follower.ID)
	if err != nil {
		e.copyFailures.Add(1)
		e.logger.Error(ctx, err, "Failed to load copy config", fields)
		return
	}
	if cfg == nil || !cfg.IsActive {
		e.copySkips.Add(1)
		return
	}
	if cfg.IsPaused {
		e.copySkips.Add(1)
		e.logger.Debug(ctx, "Copy config is paused", fields)
		return
	}

	qty, err := computeQuantity(cfg, event)
	if err != nil {
		e.copySkips.Add(1)
		e.logger.Warn(ctx, "Cannot size copy trade", mergeFields(fields, map[string]interface{}{"error": err.Error()}))
		return
	}
	if qty <= 0 {
		e.copySkips.Add(1)
		e.logger.Debug(ctx, "Copy size below threshold, skipping", fields)
		return
	}

	notional := qty * event.Price
	if err := e.cfg.Risk.ValidateTrade(ctx, cfg, event.Venue, event.Symbol, notional); err != nil {
		e.copySkips.Add(1)
		e.logger.Warn(ctx, "Copy rejected by risk limits", mergeFields(fields, map[string]interface{}{"reason": err.Error()}))
		return
	}
	if err := e.cfg.Risk.CheckDailyLoss(ctx, cfg, follower.FollowerID, time.Now()); err != nil {
		e.copySkips.Add(1)
		e.logger.Warn(ctx, "Copy halted by daily loss limit", mergeFields(fields, map[string]interface{}{"reason": err.Error()}))
		return
	}

	// Cross-venue copy is unsupported: the follower must hold a credential
	// for the event's venue, never a substitute.
	creds, err := e.cfg.Credentials.CredentialsFor(ctx, event.Venue, follower.FollowerID)
	if err != nil {
		e.copySkips.Add(1)
		e.logger.Warn(ctx, "No matching-venue credential, skipping follower", mergeFields(fields, map[string]interface{}{"error": err.Error()}))
		return
	}

	// Copy trades always use market orders: fill probability beats price
	// precision here.
	order := domain.Order{
		Symbol:   event.Symbol,
		Side:     event.Side,
		Type:     domain.OrderTypeMarket,
		Quantity: qty,
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, e.cfg.DispatchTimeout)
	result, err := e.cfg.Dispatcher.PlaceOrderFor(dispatchCtx, event.Venue, creds, order)
	cancel()
	if err != nil {
		e.copyFailures.Add(1)
		e.logger.Error(ctx, err, "Copy trade dispatch failed", fields)
		return
	}

	e.recordCopy(ctx, follower, cfg, event, result)
	e.tradesCopied.Add(1)
	e.logger.Info(ctx, "Copy trade executed", mergeFields(fields, map[string]interface{}{
		"quantity": result.FilledQuantity,
		"price":    result.AvgPrice,
		"orderID":  result.OrderID,
	}))
}

// recordCopy persists the follower's execution, feeds the realized P&L of
// any round trips this fill closed into the daily loss ledger and bumps
// the config's cumulative counters. Persistence failures are logged, not
// propagated: the order is already on the venue.
func (e *Engine) recordCopy(ctx context.Context, follower *domain.Follower, cfg *domain.CopyConfig, event *domain.TradeEvent, result *domain.OrderResult) {
	price := result.AvgPrice
	if price == 0 {
		price = event.Price
	}
	qty := result.FilledQuantity
	if qty == 0 {
		qty = result.Quantity
	}

	exec := &domain.TradeExecution{
		ID:        result.OrderID,
		UserID:    follower.FollowerID,
		Symbol:    result.Symbol,
		Side:      result.Side,
		Quantity:  qty,
		Price:     price,
		Timestamp: result.Timestamp,
		Venue:     result.Venue,
	}
	if exec.Timestamp.IsZero() {
		exec.Timestamp = time.Now().UTC()
	}
	if err := e.cfg.Executions.Create(ctx, exec); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Error(ctx, err, "Failed to record copy execution", map[string]interface{}{"follower": follower.FollowerID, "orderID": result.OrderID})
	}

	delta := e.realizedDelta(ctx, follower.FollowerID, exec)
	if delta != 0 {
		e.cfg.Risk.RecordRealized(follower.FollowerID, delta, exec.Timestamp)
	}
	if err := e.cfg.Configs.RecordCopy(ctx, cfg.FollowerRelID, delta); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Error(ctx, err, "Failed to bump copy counters", map[string]interface{}{"follower": follower.FollowerID})
	}
}

// realizedDelta FIFO-matches the follower's fills for the execution's UTC
// day and sums the net P&L of the round trips closed by this fill. A fill
// that only opens or extends a lot realizes nothing.
func (e *Engine) realizedDelta(ctx context.Context, followerID string, exec *domain.TradeExecution) float64 {
	dayStart := exec.Timestamp.UTC().Truncate(24 * time.Hour)
	fills, err := e.cfg.Executions.FindByUserSince(ctx, followerID, dayStart)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			e.logger.Warn(ctx, "Cannot derive realized P&L for copy", map[string]interface{}{"follower": followerID, "error": err.Error()})
		}
		return 0
	}

	var delta float64
	for _, trade := range e.cfg.Calculator.ClosedTrades(fills) {
		if trade.Symbol == exec.Symbol && trade.ExitTime.Equal(exec.Timestamp) {
			delta += trade.NetPNL
		}
	}
	return delta
}

func mergeFields(base, extra map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
