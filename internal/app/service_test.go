package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mahd-Mehn/MM-zypherfunk/internal/bus"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/copyengine"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/domain"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/monitor"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/pnl"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/ports"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/risk"
)

// --- Mocks ---

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockFollowerRepo struct {
	mu        sync.Mutex
	nextID    int64
	followers map[string]*domain.Follower // key trader:follower
}

func newMockFollowerRepo() *mockFollowerRepo {
	return &mockFollowerRepo{followers: make(map[string]*domain.Follower)}
}

func pairKey(traderID, followerID string) string { return traderID + ":" + followerID }

func (m *mockFollowerRepo) Create(ctx context.Context, f *domain.Follower) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(f.TraderID, f.FollowerID)
	if _, exists := m.followers[key]; exists {
		return 0, ports.ErrDuplicateEntry
	}
	m.nextID++
	f.ID = m.nextID
	cp := *f
	m.followers[key] = &cp
	return f.ID, nil
}

func (m *mockFollowerRepo) Update(ctx context.Context, f *domain.Follower) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(f.TraderID, f.FollowerID)
	if _, exists := m.followers[key]; !exists {
		return ports.ErrNotFound
	}
	cp := *f
	m.followers[key] = &cp
	return nil
}

func (m *mockFollowerRepo) FindByPair(ctx context.Context, traderID, followerID string) (*domain.Follower, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.followers[pairKey(traderID, followerID)]
	if !ok {
		return nil, nil
	}
	cp := *f
	return &cp, nil
}

func (m *mockFollowerRepo) FindCopying(ctx context.Context, traderID string) ([]*domain.Follower, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Follower
	for _, f := range m.followers {
		if f.TraderID == traderID && f.IsActive && f.IsCopying {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

type mockConfigRepo struct {
	mu      sync.Mutex
	nextID  int64
	configs map[int64]*domain.CopyConfig // key FollowerRelID
}

func newMockConfigRepo() *mockConfigRepo {
	return &mockConfigRepo{configs: make(map[int64]*domain.CopyConfig)}
}

func (m *mockConfigRepo) Create(ctx context.Context, c *domain.CopyConfig) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.configs[c.FollowerRelID]; exists {
		return 0, ports.ErrDuplicateEntry
	}
	m.nextID++
	c.ID = m.nextID
	cp := *c
	m.configs[c.FollowerRelID] = &cp
	return c.ID, nil
}

func (m *mockConfigRepo) Update(ctx context.Context, c *domain.CopyConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.configs[c.FollowerRelID]; !exists {
		return ports.ErrNotFound
	}
	cp := *c
	m.configs[c.FollowerRelID] = &cp
	return nil
}

func (m *mockConfigRepo) FindByRelationship(ctx context.Context, relID int64) (*domain.CopyConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[relID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *mockConfigRepo) RecordCopy(ctx context.Context, relID int64, pnlDelta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[relID]
	if !ok {
		return ports.ErrNotFound
	}
	c.TotalCopiedTrades++
	c.TotalPNLUSD += pnlDelta
	return nil
}

type mockExecutionRepo struct {
	mu         sync.Mutex
	executions []domain.TradeExecution
	findErr    error
}

func (m *mockExecutionRepo) Create(ctx context.Context, e *domain.TradeExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions = append(m.executions, *e)
	return nil
}

func (m *mockExecutionRepo) FindByUserSince(ctx context.Context, userID string, since time.Time) ([]domain.TradeExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []domain.TradeExecution
	for _, e := range m.executions {
		if e.UserID == userID && !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

type mockSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.MonitoringSession
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: make(map[string]*domain.MonitoringSession)}
}

func (m *mockSessionRepo) Create(ctx context.Context, s *domain.MonitoringSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *mockSessionRepo) Update(ctx context.Context, s *domain.MonitoringSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*domain.MonitoringSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *mockSessionRepo) FindActive(ctx context.Context) ([]*domain.MonitoringSession, error) {
	return nil, nil
}

func (m *mockSessionRepo) Heartbeat(ctx context.Context, id string, at time.Time, eventsEmitted int64) error {
	return nil
}

type mockCredStore struct{}

func (m *mockCredStore) CredentialsFor(ctx context.Context, venue, userID string) (*ports.Credentials, error) {
	return nil, ports.ErrNoCredentials
}

type mockProvider struct{}

func (m *mockProvider) NewAdapter(venue string, creds *ports.Credentials) (ports.ExchangeAdapter, error) {
	return nil, errors.New("no adapters in this test")
}

type mockDispatcher struct{}

func (m *mockDispatcher) PlaceOrderFor(ctx context.Context, venue string, creds *ports.Credentials, order domain.Order) (*domain.OrderResult, error) {
	return nil, errors.New("no dispatch in this test")
}

// --- Fixture ---

type serviceFixture struct {
	service    *Service
	followers  *mockFollowerRepo
	configs    *mockConfigRepo
	executions *mockExecutionRepo
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	logger := &mockLogger{}
	eventBus := bus.New(8)
	t.Cleanup(eventBus.Close)

	f := &serviceFixture{
		followers:  newMockFollowerRepo(),
		configs:    newMockConfigRepo(),
		executions: &mockExecutionRepo{},
	}

	mon, err := monitor.New(monitor.Config{
		Logger:      logger,
		Bus:         eventBus,
		Sessions:    newMockSessionRepo(),
		Credentials: &mockCredStore{},
		Adapters:    &mockProvider{},
	})
	require.NoError(t, err)

	engine, err := copyengine.New(copyengine.Config{
		Logger:      logger,
		Bus:         eventBus,
		Followers:   f.followers,
		Configs:     f.configs,
		Executions:  f.executions,
		Credentials: &mockCredStore{},
		Dispatcher:  &mockDispatcher{},
		Risk:        risk.NewManager(),
	})
	require.NoError(t, err)

	svc, err := NewService(Config{
		Logger:     logger,
		Followers:  f.followers,
		Configs:    f.configs,
		Executions: f.executions,
		Monitor:    mon,
		Engine:     engine,
		Calculator: pnl.NewCalculator(),
	})
	require.NoError(t, err)
	f.service = svc
	return f
}

func fixedConfig(amountUSD float64) domain.CopyConfig {
	return domain.CopyConfig{Mode: domain.SizingFixedAmount, FixedAmountUSD: amountUSD}
}

// --- Tests ---

func TestNewService_MissingDependencies(t *testing.T) {
	_, err := NewService(Config{Logger: &mockLogger{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required dependencies")
}

func TestStartCopying_CreatesRelationshipAndConfig(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	follower, err := f.service.StartCopying(ctx, "trader-1", "follower-1", fixedConfig(100))
	require.NoError(t, err)
	require.NotNil(t, follower)
	assert.True(t, follower.IsActive)
	assert.True(t, follower.IsCopying)

	cfg, err := f.configs.FindByRelationship(ctx, follower.ID)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.True(t, cfg.IsActive)
	assert.Equal(t, domain.SizingFixedAmount, cfg.Mode)
}

func TestStartCopying_RejectsSelfCopy(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.StartCopying(context.Background(), "trader-1", "trader-1", fixedConfig(100))
	require.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestStartCopying_RejectsDuplicate(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.service.StartCopying(ctx, "trader-1", "follower-1", fixedConfig(100))
	require.NoError(t, err)

	_, err = f.service.StartCopying(ctx, "trader-1", "follower-1", fixedConfig(200))
	require.ErrorIs(t, err, ports.ErrAlreadyFollowing)
}

func TestStartCopying_ReactivatesEndedRelationship(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	first, err := f.service.StartCopying(ctx, "trader-1", "follower-1", fixedConfig(100))
	require.NoError(t, err)
	require.NoError(t, f.service.StopCopying(ctx, "trader-1", "follower-1"))

	second, err := f.service.StartCopying(ctx, "trader-1", "follower-1", domain.CopyConfig{Mode: domain.SizingProportional, ProportionPercent: 50})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "reactivation reuses the prior relationship")
	assert.True(t, second.IsActive)
	assert.Nil(t, second.UnfollowedAt)

	cfg, err := f.configs.FindByRelationship(ctx, second.ID)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.True(t, cfg.IsActive)
	assert.Equal(t, domain.SizingProportional, cfg.Mode)
}

func TestStartCopying_InvalidConfigRejected(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		cfg  domain.CopyConfig
	}{
		{"fixed amount without notional", domain.CopyConfig{Mode: domain.SizingFixedAmount}},
		{"proportional without percent", domain.CopyConfig{Mode: domain.SizingProportional}},
		{"unknown mode", domain.CopyConfig{Mode: domain.SizingMode("martingale")}},
		{"negative min size", domain.CopyConfig{Mode: domain.SizingSmartScale, MinTradeSizeUSD: -1}},
		{"min above max", domain.CopyConfig{Mode: domain.SizingSmartScale, MinTradeSizeUSD: 500, MaxTradeSizeUSD: 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.StartCopying(ctx, "trader-1", "follower-1", tt.cfg)
			require.ErrorIs(t, err, ports.ErrConfigurationError)
		})
	}
}

func TestStopCopying_CascadesToConfig(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	follower, err := f.service.StartCopying(ctx, "trader-1", "follower-1", fixedConfig(100))
	require.NoError(t, err)

	require.NoError(t, f.service.StopCopying(ctx, "trader-1", "follower-1"))

	stored, err := f.followers.FindByPair(ctx, "trader-1", "follower-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.False(t, stored.IsActive)
	assert.False(t, stored.IsCopying)
	require.NotNil(t, stored.UnfollowedAt)

	cfg, err := f.configs.FindByRelationship(ctx, follower.ID)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.False(t, cfg.IsActive, "ending the relationship deactivates its config")
}

func TestStopCopying_NotFollowing(t *testing.T) {
	f := newServiceFixture(t)

	err := f.service.StopCopying(context.Background(), "trader-1", "follower-1")
	require.ErrorIs(t, err, ports.ErrNotFollowing)
}

func TestPauseAndResumeCopying(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	follower, err := f.service.StartCopying(ctx, "trader-1", "follower-1", fixedConfig(100))
	require.NoError(t, err)

	require.NoError(t, f.service.PauseCopying(ctx, "trader-1", "follower-1", "drawdown review"))
	cfg, err := f.configs.FindByRelationship(ctx, follower.ID)
	require.NoError(t, err)
	assert.True(t, cfg.IsPaused)
	assert.Equal(t, "drawdown review", cfg.PauseReason)

	require.NoError(t, f.service.ResumeCopying(ctx, "trader-1", "follower-1"))
	cfg, err = f.configs.FindByRelationship(ctx, follower.ID)
	require.NoError(t, err)
	assert.False(t, cfg.IsPaused)
	assert.Empty(t, cfg.PauseReason)
}

func TestPauseCopying_NotFollowing(t *testing.T) {
	f := newServiceFixture(t)

	err := f.service.PauseCopying(context.Background(), "trader-1", "follower-1", "x")
	require.ErrorIs(t, err, ports.ErrNotFollowing)
}

func TestUpdateCopyConfig_PreservesCounters(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	follower, err := f.service.StartCopying(ctx, "trader-1", "follower-1", fixedConfig(100))
	require.NoError(t, err)
	require.NoError(t, f.configs.RecordCopy(ctx, follower.ID, 25))

	update := domain.CopyConfig{Mode: domain.SizingProportional, ProportionPercent: 10, MaxPositionUSD: 500}
	require.NoError(t, f.service.UpdateCopyConfig(ctx, "trader-1", "follower-1", update))

	cfg, err := f.configs.FindByRelationship(ctx, follower.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SizingProportional, cfg.Mode)
	assert.Equal(t, 500.0, cfg.MaxPositionUSD)
	assert.Equal(t, int64(1), cfg.TotalCopiedTrades, "cumulative stats survive a config update")
	assert.Equal(t, 25.0, cfg.TotalPNLUSD)
	assert.True(t, cfg.IsActive)
}

func TestCopyStats(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	created, err := f.service.StartCopying(ctx, "trader-1", "follower-1", fixedConfig(100))
	require.NoError(t, err)

	follower, cfg, err := f.service.CopyStats(ctx, "trader-1", "follower-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, follower.ID)
	require.NotNil(t, cfg)
	assert.Equal(t, created.ID, cfg.FollowerRelID)

	_, _, err = f.service.CopyStats(ctx, "trader-9", "follower-9")
	require.ErrorIs(t, err, ports.ErrNotFollowing)
}

func TestComputePerformance(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-2 * time.Hour)

	f.executions.executions = []domain.TradeExecution{
		{ID: "t1", UserID: "trader-1", Venue: "binance", Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 1, Price: 40000, Fee: 40, Timestamp: base},
		{ID: "t2", UserID: "trader-1", Venue: "binance", Symbol: "BTCUSDT", Side: domain.Sell, Quantity: 1, Price: 45000, Fee: 45, Timestamp: base.Add(time.Hour)},
	}

	score, closed, err := f.service.ComputePerformance(ctx, "trader-1", base.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, 5000.0, closed[0].GrossPNL)
	require.NotNil(t, score)
	assert.Equal(t, "trader-1", score.TraderID)
	assert.Equal(t, 1, score.TotalTrades)
	assert.Equal(t, 100.0, score.WinRate)
}

func TestComputePerformance_RequiresTraderID(t *testing.T) {
	f := newServiceFixture(t)

	_, _, err := f.service.ComputePerformance(context.Background(), "", time.Now())
	require.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestComputePerformance_RepositoryFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.executions.findErr = ports.ErrQueryFailed

	_, _, err := f.service.ComputePerformance(context.Background(), "trader-1", time.Now())
	require.ErrorIs(t, err, ports.ErrQueryFailed)
}

func TestServiceStartStop(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.Start(ctx))
	mon, eng := f.service.Metrics()
	assert.Equal(t, 0, mon.ActiveSessions)
	assert.Equal(t, int64(0), eng.EventsProcessed)
	f.service.Stop()
}
