// Package monitor detects trade and position changes for monitored lead
// traders and publishes deduplicated, normalized events on the bus.
//
// Each active (trader, venue) pair owns one monitoring session with its
// own credentialed adapter instance and its own poll goroutine, so one
// venue's slow adapter cannot delay another session's tick.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Mahd-Mehn/MM-zypherfunk/internal/domain"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/ports"
)

const (
	defaultPollInterval  = 5 * time.Second
	defaultDedupTTL      = time.Hour
	defaultOrderLookback = time.Hour
	defaultOrderLimit    = 20
	defaultCallTimeout   = 5 * time.Second

	// After this many consecutive failed ticks the session transitions to
	// error and is excluded from polling. Recovery is an explicit
	// ReinitializeSession, never inline retry forever.
	maxConsecutiveFailures = 5
)

// Config holds the monitor's dependencies and tuning knobs.
type Config struct {
	Logger       ports.Logger
	Bus          ports.EventBus
	Sessions     ports.SessionRepository
	Credentials  ports.CredentialStore
	Adapters     ports.AdapterProvider
	PollInterval time.Duration // default 5s
	DedupTTL     time.Duration // default 1h
	OrderLookback time.Duration // how far back RecentOrders queries reach, default 1h
	OrderLimit   int           // max orders per history query, default 20
	CallTimeout  time.Duration // per venue call, default 5s
}

type sessionState struct {
	session *domain.MonitoringSession
	adapter ports.ExchangeAdapter
	cancel  context.CancelFunc

	consecutiveFailures int
}

// Metrics is a point-in-time snapshot of monitor counters.
type Metrics struct {
	ActiveSessions  int       `json:"active_sessions"`
	ErrorSessions   int       `json:"error_sessions"`
	EventsPublished int64     `json:"events_published"`
	PollErrors      int64     `json:"poll_errors"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Monitor owns the session registry and the per-session polling loops.
type Monitor struct {
	cfg    Config
	logger ports.Logger

	mu       sync.RWMutex
	sessions map[string]*sessionState
	running  bool
	runCtx   context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup

	dedup        *dedupCache
	fingerprints *fingerprintCache

	eventsPublished atomic.Int64
	pollErrors      atomic.Int64
}

// New creates a monitor instance.
func New(cfg Config) (*Monitor, error) {
	if cfg.Logger == nil || cfg.Bus == nil || cfg.Sessions == nil || cfg.Credentials == nil || cfg.Adapters == nil {
		return nil, fmt.Errorf("missing required dependencies for Monitor")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = defaultDedupTTL
	}
	if cfg.OrderLookback <= 0 {
		cfg.OrderLookback = defaultOrderLookback
	}
	if cfg.OrderLimit <= 0 {
		cfg.OrderLimit = defaultOrderLimit
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return &Monitor{
		cfg:          cfg,
		logger:       cfg.Logger,
		sessions:     make(map[string]*sessionState),
		dedup:        newDedupCache(cfg.DedupTTL),
		fingerprints: newFingerprintCache(),
	}, nil
}

// Start loads persisted active sessions, initializes an adapter for each
// and begins polling. Sessions whose adapter fails to initialize are
// marked error and skipped; they do not stop the others.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.runCtx, m.stop = context.WithCancel(context.WithoutCancel(ctx))
	m.running = true
	m.mu.Unlock()

	persisted, err := m.cfg.Sessions.FindActive(ctx)
	if err != nil {
		m.stop()
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		return fmt.Errorf("failed to load active sessions: %w", err)
	}

	for _, s := range persisted {
		if st, err := m.initSession(ctx, s); err != nil {
			m.logger.Error(ctx, err, "Session initialization failed", map[string]interface{}{"sessionID": s.ID, "venue": s.Venue})
		} else {
			m.startLoop(st)
		}
	}

	m.logger.Info(ctx, "Trade monitoring started", map[string]interface{}{"sessions": len(persisted)})
	return nil
}

// Stop cancels all poll loops and closes all adapters.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.stop()
	states := make([]*sessionState, 0, len(m.sessions))
	for _, st := range m.sessions {
		states = append(states, st)
	}
	m.mu.Unlock()

	m.wg.Wait()

	ctx := context.Background()
	for _, st := range states {
		if st.adapter != nil {
			if err := st.adapter.Close(); err != nil {
				m.logger.Warn(ctx, "Error closing adapter", map[string]interface{}{"sessionID": st.session.ID, "error": err.Error()})
			}
		}
	}
	m.logger.Info(ctx, "Trade monitoring stopped")
}

// AddSession registers a (trader, venue) pair for monitoring and returns
// the session ID. If an active session already exists for the pair its
// symbol allow-list is updated and its ID returned.
func (m *Monitor) AddSession(ctx context.Context, traderID, venue string, symbols []string) (string, error) {
	if traderID == "" || venue == "" {
		return "", fmt.Errorf("%w: trader and venue are required", ports.ErrInvalidRequest)
	}

	m.mu.Lock()
	for _, st := range m.sessions {
		s := st.session
		if s.TraderID == traderID && s.Venue == venue && s.IsActive {
			s.Symbols = symbols
			existing := *s
			m.mu.Unlock()
			if err := m.cfg.Sessions.Update(ctx, &existing); err != nil {
				return existing.ID, fmt.Errorf("failed to update session symbols: %w", err)
			}
			return existing.ID, nil
		}
	}
	m.mu.Unlock()

	session := &domain.MonitoringSession{
		ID:        uuid.NewString(),
		TraderID:  traderID,
		Venue:     venue,
		Symbols:   symbols,
		IsActive:  true,
		Status:    domain.StatusInitializing,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.cfg.Sessions.Create(ctx, session); err != nil {
		return "", fmt.Errorf("failed to persist session: %w", err)
	}

	st, err := m.initSession(ctx, session)
	if err != nil {
		// Session stays registered in error state; caller can remove or
		// reinitialize it.
		return session.ID, err
	}

	m.mu.RLock()
	running := m.running
	m.mu.RUnlock()
	if running {
		m.startLoop(st)
	}
	return session.ID, nil
}

// RemoveSession deactivates a session, stops its loop and releases its
// adapter.
func (m *Monitor) RemoveSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: session %s", ports.ErrNotFound, sessionID)
	}

	if st.cancel != nil {
		st.cancel()
	}
	if st.adapter != nil {
		if err := st.adapter.Close(); err != nil {
			m.logger.Warn(ctx, "Error closing adapter", map[string]interface{}{"sessionID": sessionID, "error": err.Error()})
		}
	}
	m.fingerprints.DropSession(st.session.TraderID, st.session.Venue)

	// A canceled loop may still be mid-tick; session fields are written
	// only under the registry lock.
	m.mu.Lock()
	st.session.IsActive = false
	st.session.Status = domain.StatusDisconnected
	session := *st.session
	m.mu.Unlock()
	if err := m.cfg.Sessions.Update(ctx, &session); err != nil {
		return fmt.Errorf("failed to persist session removal: %w", err)
	}
	m.logger.Info(ctx, "Monitoring session removed", map[string]interface{}{"sessionID": sessionID})
	return nil
}

// ReinitializeSession retries adapter initialization for a session in
// error state. This is the explicit recovery path; the poll loop never
// retries a failed session inline.
func (m *Monitor) ReinitializeSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	if ok && st.session.Status != domain.StatusError {
		m.mu.Unlock()
		return fmt.Errorf("%w: session %s is %s, only error sessions can be reinitialized",
			ports.ErrInvalidRequest, sessionID, st.session.Status)
	}
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	var session *domain.MonitoringSession
	if ok {
		if st.adapter != nil {
			_ = st.adapter.Close()
		}
		session = st.session
	} else {
		persisted, err := m.cfg.Sessions.FindByID(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to load session: %w", err)
		}
		if persisted == nil {
			return fmt.Errorf("%w: session %s", ports.ErrNotFound, sessionID)
		}
		session = persisted
	}

	session.IsActive = true
	session.Status = domain.StatusInitializing
	newState, err := m.initSession(ctx, session)
	if err != nil {
		return err
	}

	m.mu.RLock()
	running := m.running
	m.mu.RUnlock()
	if running {
		m.startLoop(newState)
	}
	return nil
}

// Sessions returns a snapshot of all registered sessions.
func (m *Monitor) Sessions() []domain.MonitoringSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.MonitoringSession, 0, len(m.sessions))
	for _, st := range m.sessions {
		out = append(out, *st.session)
	}
	return out
}

// Snapshot returns current monitor counters.
func (m *Monitor) Snapshot() Metrics {
	m.mu.RLock()
	active, errored := 0, 0
	for _, st := range m.sessions {
		if st.session.Status == domain.StatusError {
			errored++
		} else if st.session.IsActive {
			active++
		}
	}
	m.mu.RUnlock()
	return Metrics{
		ActiveSessions:  active,
		ErrorSessions:   errored,
		EventsPublished: m.eventsPublished.Load(),
		PollErrors:      m.pollErrors.Load(),
		UpdatedAt:       time.Now().UTC(),
	}
}

// initSession resolves credentials, builds a dedicated adapter instance
// and verifies connectivity. On failure the session is registered in
// error state so it is visible but excluded from polling.
func (m *Monitor) initSession(ctx context.Context, session *domain.MonitoringSession) (*sessionState, error) {
	fail := func(err error) (*sessionState, error) {
		session.Status = domain.StatusError
		m.mu.Lock()
		m.sessions[session.ID] = &sessionState{session: session}
		m.mu.Unlock()
		if uerr := m.cfg.Sessions.Update(ctx, session); uerr != nil {
			m.logger.Error(ctx, uerr, "Failed to persist session error state", map[string]interface{}{"sessionID": session.ID})
		}
		return nil, err
	}

	creds, err := m.cfg.Credentials.CredentialsFor(ctx, session.Venue, session.TraderID)
	if err != nil {
		return fail(fmt.Errorf("failed to resolve credentials for trader %s on %s: %w", session.TraderID, session.Venue, err))
	}

	adapter, err := m.cfg.Adapters.NewAdapter(session.Venue, creds)
	if err != nil {
		return fail(fmt.Errorf("failed to build adapter for %s: %w", session.Venue, err))
	}

	initCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	err = adapter.Initialize(initCtx)
	cancel()
	if err != nil {
		_ = adapter.Close()
		return fail(fmt.Errorf("adapter initialization failed for %s: %w", session.Venue, err))
	}

	session.Status = domain.StatusConnected
	st := &sessionState{session: session, adapter: adapter}
	m.mu.Lock()
	m.sessions[session.ID] = st
	m.mu.Unlock()
	if err := m.cfg.Sessions.Update(ctx, session); err != nil {
		m.logger.Error(ctx, err, "Failed to persist session status", map[string]interface{}{"sessionID": session.ID})
	}
	m.logger.Info(ctx, "Monitoring session connected", map[string]interface{}{
		"sessionID": session.ID, "trader": session.TraderID, "venue": session.Venue,
	})
	return st, nil
}

// startLoop spawns the per-session poll goroutine.
func (m *Monitor) startLoop(st *sessionState) {
	loopCtx, cancel := context.WithCancel(m.runCtx)
	st.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if !m.tick(loopCtx, st) {
					return
				}
			}
		}
	}()
}

// tick runs one poll cycle: orders and positions are checked concurrently
// with per-call failure isolation, then the heartbeat is recorded. It
// returns false when the session has transitioned to error and the loop
// must exit. The checks read an immutable session snapshot taken under
// the registry lock; the live struct is never touched outside m.mu while
// the loop runs.
func (m *Monitor) tick(ctx context.Context, st *sessionState) bool {
	m.mu.RLock()
	session := *st.session
	session.Symbols = append([]string(nil), st.session.Symbols...)
	m.mu.RUnlock()
	adapter := st.adapter

	var (
		wg               sync.WaitGroup
		orderEmitted     int64
		positionEmitted  int64
		orderErr, posErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		orderEmitted, orderErr = m.checkOrders(ctx, adapter, session)
	}()
	go func() {
		defer wg.Done()
		positionEmitted, posErr = m.checkPositions(ctx, adapter, session)
	}()
	wg.Wait()

	emitted := orderEmitted + positionEmitted
	failed := false
	for _, err := range []error{orderErr, posErr} {
		if err == nil || errors.Is(err, context.Canceled) {
			continue
		}
		failed = true
		m.pollErrors.Add(1)
		m.logger.Error(ctx, err, "Poll check failed", map[string]interface{}{
			"sessionID": st.session.ID, "venue": st.session.Venue,
		})
		if errors.Is(err, ports.ErrAuthenticationFailed) || errors.Is(err, ports.ErrInvalidAPIKeys) {
			// Bad credentials never fix themselves; stop immediately.
			m.failSession(ctx, st)
			return false
		}
	}

	if failed {
		st.consecutiveFailures++
		if st.consecutiveFailures >= maxConsecutiveFailures {
			m.logger.Warn(ctx, "Session exceeded consecutive failure limit", map[string]interface{}{
				"sessionID": st.session.ID, "failures": st.consecutiveFailures,
			})
			m.failSession(ctx, st)
			return false
		}
		return true
	}
	st.consecutiveFailures = 0

	now := time.Now().UTC()
	m.mu.Lock()
	st.session.LastHeartbeat = now
	st.session.EventsReceived++
	st.session.TradesDetected += emitted
	m.mu.Unlock()
	if err := m.cfg.Sessions.Heartbeat(ctx, st.session.ID, now, emitted); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Warn(ctx, "Failed to persist heartbeat", map[string]interface{}{"sessionID": st.session.ID, "error": err.Error()})
	}
	return true
}

// failSession marks a session error. It stays in the registry, visible to
// operators, but its loop exits.
func (m *Monitor) failSession(ctx context.Context, st *sessionState) {
	m.mu.Lock()
	st.session.Status = domain.StatusError
	session := *st.session
	m.mu.Unlock()
	if err := m.cfg.Sessions.Update(ctx, &session); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error(ctx, err, "Failed to persist session error state", map[string]interface{}{"sessionID": st.session.ID})
	}
}

// checkOrders fetches the trader's recent orders and emits one event per
// unseen (venue, order, status) observation. The session is a snapshot
// owned by this call.
func (m *Monitor) checkOrders(ctx context.Context, adapter ports.ExchangeAdapter, session domain.MonitoringSession) (int64, error) {
	history, ok := adapter.(ports.OrderHistoryProvider)
	if !ok {
		// Venue has no order history capability: nothing to report.
		return 0, nil
	}

	symbols := session.Symbols
	if len(symbols) == 0 {
		symbols = []string{""}
	}

	since := time.Now().Add(-m.cfg.OrderLookback)
	var emitted int64
	for _, symbol := range symbols {
		callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		orders, err := history.RecentOrders(callCtx, symbol, since, m.cfg.OrderLimit)
		cancel()
		if err != nil {
			return emitted, fmt.Errorf("fetching orders for %q: %w", symbol, err)
		}

		for _, order := range orders {
			if !session.AllowsSymbol(order.Symbol) {
				continue
			}
			eventID := domain.EventID(session.Venue, order.OrderID, strings.ToLower(order.Status))
			if m.dedup.Seen(eventID, time.Now()) {
				continue
			}
			event := m.orderEvent(&session, order, eventID)
			if err := m.cfg.Bus.Publish(ctx, event); err != nil {
				return emitted, fmt.Errorf("publishing order event: %w", err)
			}
			m.eventsPublished.Add(1)
			emitted++
		}
	}
	return emitted, nil
}

// checkPositions compares each position's fingerprint against the cached
// one and emits opened/closed/updated transitions. The session is a
// snapshot owned by this call.
func (m *Monitor) checkPositions(ctx context.Context, adapter ports.ExchangeAdapter, session domain.MonitoringSession) (int64, error) {
	provider, ok := adapter.(ports.PositionProvider)
	if !ok {
		// Spot-only venue: nothing to report.
		return 0, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	positions, err := provider.OpenPositions(callCtx)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("fetching positions: %w", err)
	}

	var emitted int64
	for _, pos := range positions {
		if !session.AllowsSymbol(pos.Symbol) {
			continue
		}
		fp := fingerprint(pos)
		key := fingerprintKey(session.TraderID, session.Venue, pos.Symbol)
		prev, existed := m.fingerprints.Swap(key, fp)
		if existed && prev == fp {
			continue
		}

		var kind domain.TradeEventType
		switch {
		case !existed:
			kind = domain.EventPositionOpened
		case pos.Size == 0:
			kind = domain.EventPositionClosed
		default:
			kind = domain.EventPositionUpdated
		}

		event := m.positionEvent(&session, pos, fp, kind)
		if err := m.cfg.Bus.Publish(ctx, event); err != nil {
			return emitted, fmt.Errorf("publishing position event: %w", err)
		}
		m.eventsPublished.Add(1)
		emitted++
	}
	return emitted, nil
}

// classifyOrder maps a venue order's state onto an event kind.
func classifyOrder(order domain.VenueOrder) domain.TradeEventType {
	switch strings.ToLower(order.Status) {
	case "filled", "closed":
		return domain.EventOrderFilled
	case "canceled", "cancelled", "expired":
		return domain.EventOrderCanceled
	}
	if order.Filled > 0 {
		return domain.EventOrderPartiallyFill
	}
	return domain.EventOrderPlaced
}

func (m *Monitor) orderEvent(session *domain.MonitoringSession, order domain.VenueOrder, eventID string) *domain.TradeEvent {
	ts := order.UpdatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &domain.TradeEvent{
		ID:             eventID,
		Type:           classifyOrder(order),
		TraderID:       session.TraderID,
		Venue:          session.Venue,
		Symbol:         order.Symbol,
		Side:           order.Side,
		OrderType:      order.Type,
		Quantity:       order.Quantity,
		FilledQuantity: order.Filled,
		Price:          order.Price,
		Timestamp:      ts,
		OrderID:        order.OrderID,
		Raw: map[string]interface{}{
			"status": order.Status,
			"filled": order.Filled,
		},
	}
}

func (m *Monitor) positionEvent(session *domain.MonitoringSession, pos domain.Position, fp string, kind domain.TradeEventType) *domain.TradeEvent {
	side := domain.Buy
	if pos.Side == domain.Short {
		side = domain.Sell
	}
	size := pos.Size
	if size < 0 {
		size = -size
	}
	return &domain.TradeEvent{
		ID:             domain.EventID(session.Venue, "pos:"+pos.Symbol, fp),
		Type:           kind,
		TraderID:       session.TraderID,
		Venue:          session.Venue,
		Symbol:         pos.Symbol,
		Side:           side,
		OrderType:      domain.OrderTypeMarket,
		Quantity:       size,
		FilledQuantity: size,
		Price:          pos.EntryPrice,
		Timestamp:      time.Now().UTC(),
		OrderID:        "pos:" + pos.Symbol,
		Raw: map[string]interface{}{
			"size":       pos.Size,
			"entryPrice": pos.EntryPrice,
		},
	}
}
