package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mahd-Mehn/MM-zypherfunk/internal/domain"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) *Repository {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "copytrading-test-*")
	require.NoError(t, err)

	repo, err := NewRepository(Config{
		DBPath: filepath.Join(tmpDir, "test.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	})
	return repo
}

func testFollower(traderID, followerID string) *domain.Follower {
	return &domain.Follower{
		TraderID:   traderID,
		FollowerID: followerID,
		IsActive:   true,
		IsCopying:  true,
		FollowedAt: time.Now().UTC(),
	}
}

func TestFollower_CreateAndFindByPair(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	f := testFollower("trader-1", "follower-1")
	id, err := repo.Create(ctx, f)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	found, err := repo.FindByPair(ctx, "trader-1", "follower-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, id, found.ID)
	assert.Equal(t, "trader-1", found.TraderID)
	assert.True(t, found.IsActive)
	assert.True(t, found.IsCopying)
	assert.Nil(t, found.UnfollowedAt)
}

func TestFollower_FindByPair_NotFound(t *testing.T) {
	repo := setupTestDB(t)

	found, err := repo.FindByPair(context.Background(), "trader-x", "follower-x")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestFollower_DuplicatePairRejected(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, testFollower("trader-1", "follower-1"))
	require.NoError(t, err)

	_, err = repo.Create(ctx, testFollower("trader-1", "follower-1"))
	require.ErrorIs(t, err, ports.ErrDuplicateEntry)
}

func TestFollower_Update(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	f := testFollower("trader-1", "follower-1")
	id, err := repo.Create(ctx, f)
	require.NoError(t, err)
	f.ID = id

	now := time.Now().UTC()
	f.IsActive = false
	f.IsCopying = false
	f.UnfollowedAt = &now
	require.NoError(t, repo.Update(ctx, f))

	found, err := repo.FindByPair(ctx, "trader-1", "follower-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.False(t, found.IsActive)
	assert.False(t, found.IsCopying)
	require.NotNil(t, found.UnfollowedAt)
	assert.WithinDuration(t, now, *found.UnfollowedAt, time.Second)
}

func TestFollower_UpdateUnknownID(t *testing.T) {
	repo := setupTestDB(t)

	f := testFollower("trader-1", "follower-1")
	f.ID = 9999
	err := repo.Update(context.Background(), f)
	require.ErrorIs(t, err, ports.ErrNotFound)
}

func TestFollower_FindCopying(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	active := testFollower("trader-1", "follower-1")
	_, err := repo.Create(ctx, active)
	require.NoError(t, err)

	paused := testFollower("trader-1", "follower-2")
	paused.IsCopying = false
	_, err = repo.Create(ctx, paused)
	require.NoError(t, err)

	otherTrader := testFollower("trader-2", "follower-3")
	_, err = repo.Create(ctx, otherTrader)
	require.NoError(t, err)

	copying, err := repo.FindCopying(ctx, "trader-1")
	require.NoError(t, err)
	require.Len(t, copying, 1)
	assert.Equal(t, "follower-1", copying[0].FollowerID)
}

func TestConfig_CreateAndFindByRelationship(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	relID, err := repo.Create(ctx, testFollower("trader-1", "follower-1"))
	require.NoError(t, err)

	cfg := &domain.CopyConfig{
		FollowerRelID:   relID,
		Mode:            domain.SizingFixedAmount,
		FixedAmountUSD:  100,
		MaxPositionUSD:  1000,
		MaxDailyLossUSD: 200,
		AllowedVenues:   []string{"binance", "hyperliquid"},
		AllowedSymbols:  []string{"BTCUSDT"},
		IsActive:        true,
	}
	id, err := repo.CreateConfig(ctx, cfg)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	found, err := repo.FindByRelationship(ctx, relID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, domain.SizingFixedAmount, found.Mode)
	assert.Equal(t, 100.0, found.FixedAmountUSD)
	assert.Equal(t, []string{"binance", "hyperliquid"}, found.AllowedVenues)
	assert.Equal(t, []string{"BTCUSDT"}, found.AllowedSymbols)
	assert.True(t, found.IsActive)
	assert.False(t, found.IsPaused)
}

func TestConfig_EmptyAllowListsRoundTrip(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	relID, err := repo.Create(ctx, testFollower("trader-1", "follower-1"))
	require.NoError(t, err)

	cfg := &domain.CopyConfig{
		FollowerRelID: relID,
		Mode:          domain.SizingSmartScale,
		IsActive:      true,
	}
	_, err = repo.CreateConfig(ctx, cfg)
	require.NoError(t, err)

	found, err := repo.FindByRelationship(ctx, relID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Empty(t, found.AllowedVenues)
	assert.Empty(t, found.AllowedSymbols)
}

func TestConfig_OnePerRelationship(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	relID, err := repo.Create(ctx, testFollower("trader-1", "follower-1"))
	require.NoError(t, err)

	cfg := &domain.CopyConfig{FollowerRelID: relID, Mode: domain.SizingSmartScale, IsActive: true}
	_, err = repo.CreateConfig(ctx, cfg)
	require.NoError(t, err)

	_, err = repo.CreateConfig(ctx, &domain.CopyConfig{FollowerRelID: relID, Mode: domain.SizingProportional, ProportionPercent: 50, IsActive: true})
	require.ErrorIs(t, err, ports.ErrDuplicateEntry)
}

func TestConfig_UpdateAndPause(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	relID, err := repo.Create(ctx, testFollower("trader-1", "follower-1"))
	require.NoError(t, err)

	cfg := &domain.CopyConfig{FollowerRelID: relID, Mode: domain.SizingSmartScale, IsActive: true}
	id, err := repo.CreateConfig(ctx, cfg)
	require.NoError(t, err)
	cfg.ID = id

	cfg.IsPaused = true
	cfg.PauseReason = "drawdown review"
	cfg.Mode = domain.SizingProportional
	cfg.ProportionPercent = 25
	require.NoError(t, repo.UpdateConfig(ctx, cfg))

	found, err := repo.FindByRelationship(ctx, relID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.True(t, found.IsPaused)
	assert.Equal(t, "drawdown review", found.PauseReason)
	assert.Equal(t, domain.SizingProportional, found.Mode)
	assert.Equal(t, 25.0, found.ProportionPercent)
}

func TestConfig_RecordCopyAccumulates(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	relID, err := repo.Create(ctx, testFollower("trader-1", "follower-1"))
	require.NoError(t, err)
	_, err = repo.CreateConfig(ctx, &domain.CopyConfig{FollowerRelID: relID, Mode: domain.SizingSmartScale, IsActive: true})
	require.NoError(t, err)

	require.NoError(t, repo.RecordCopy(ctx, relID, 12.5))
	require.NoError(t, repo.RecordCopy(ctx, relID, -2.5))

	found, err := repo.FindByRelationship(ctx, relID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, int64(2), found.TotalCopiedTrades)
	assert.Equal(t, 10.0, found.TotalPNLUSD)
}

func TestConfig_RecordCopyUnknownRelationship(t *testing.T) {
	repo := setupTestDB(t)

	err := repo.RecordCopy(context.Background(), 9999, 0)
	require.ErrorIs(t, err, ports.ErrNotFound)
}

func testSession(id, traderID string) *domain.MonitoringSession {
	return &domain.MonitoringSession{
		ID:        id,
		TraderID:  traderID,
		Venue:     "binance",
		Symbols:   []string{"BTCUSDT", "ETHUSDT"},
		IsActive:  true,
		Status:    domain.StatusInitializing,
		CreatedAt: time.Now().UTC(),
	}
}

func TestSession_CreateAndFindByID(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	s := testSession("sess-1", "trader-1")
	require.NoError(t, repo.CreateSession(ctx, s))

	found, err := repo.FindSessionByID(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "trader-1", found.TraderID)
	assert.Equal(t, domain.StatusInitializing, found.Status)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, found.Symbols)

	missing, err := repo.FindSessionByID(ctx, "no-such")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSession_FindActiveFiltersInactive(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	active := testSession("sess-1", "trader-1")
	require.NoError(t, repo.CreateSession(ctx, active))

	removed := testSession("sess-2", "trader-2")
	removed.IsActive = false
	removed.Status = domain.StatusDisconnected
	require.NoError(t, repo.CreateSession(ctx, removed))

	sessions, err := repo.FindActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess-1", sessions[0].ID)
}

func TestSession_HeartbeatAccumulatesCounters(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateSession(ctx, testSession("sess-1", "trader-1")))

	first := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.RecordHeartbeat(ctx, "sess-1", first, 3))
	require.NoError(t, repo.RecordHeartbeat(ctx, "sess-1", first.Add(5*time.Second), 0))

	found, err := repo.FindSessionByID(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, int64(2), found.EventsReceived)
	assert.Equal(t, int64(3), found.TradesDetected)
	assert.WithinDuration(t, first.Add(5*time.Second), found.LastHeartbeat, time.Second)
}

func TestSession_HeartbeatUnknownID(t *testing.T) {
	repo := setupTestDB(t)

	err := repo.RecordHeartbeat(context.Background(), "no-such", time.Now(), 0)
	require.ErrorIs(t, err, ports.ErrNotFound)
}

func TestExecution_CreateAndFindByUserSince(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	fills := []domain.TradeExecution{
		{ID: "t1", UserID: "trader-1", Venue: "binance", Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 1, Price: 40000, Fee: 40, Timestamp: base.Add(-2 * time.Hour)},
		{ID: "t2", UserID: "trader-1", Venue: "binance", Symbol: "BTCUSDT", Side: domain.Sell, Quantity: 1, Price: 45000, Fee: 45, Timestamp: base.Add(-time.Hour)},
		{ID: "t3", UserID: "trader-1", Venue: "binance", Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 2, Price: 41000, Fee: 82, Timestamp: base.Add(-30 * 24 * time.Hour)},
		{ID: "t4", UserID: "trader-2", Venue: "binance", Symbol: "ETHUSDT", Side: domain.Buy, Quantity: 5, Price: 3000, Fee: 15, Timestamp: base.Add(-time.Hour)},
	}
	for i := range fills {
		require.NoError(t, repo.CreateExecution(ctx, &fills[i]))
	}

	found, err := repo.FindByUserSince(ctx, "trader-1", base.Add(-3*time.Hour))
	require.NoError(t, err)
	require.Len(t, found, 2, "old fills and other users are excluded")
	assert.Equal(t, "t1", found[0].ID, "results ordered by fill time ascending")
	assert.Equal(t, "t2", found[1].ID)
	assert.Equal(t, 45000.0, found[1].Price)
}

func TestExecution_DuplicateFillRejected(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	fill := domain.TradeExecution{ID: "t1", UserID: "trader-1", Venue: "binance", Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 1, Price: 40000, Timestamp: time.Now().UTC()}
	require.NoError(t, repo.CreateExecution(ctx, &fill))

	err := repo.CreateExecution(ctx, &fill)
	require.ErrorIs(t, err, ports.ErrDuplicateEntry)

	// Same fill ID under another user is a distinct record.
	other := fill
	other.UserID = "trader-2"
	require.NoError(t, repo.CreateExecution(ctx, &other))
}

func TestRepository_PortViews(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	relID, err := repo.Followers().Create(ctx, testFollower("trader-1", "follower-1"))
	require.NoError(t, err)

	_, err = repo.Configs().Create(ctx, &domain.CopyConfig{FollowerRelID: relID, Mode: domain.SizingSmartScale, IsActive: true})
	require.NoError(t, err)

	require.NoError(t, repo.Sessions().Create(ctx, testSession("sess-1", "trader-1")))
	require.NoError(t, repo.Executions().Create(ctx, &domain.TradeExecution{
		ID: "t1", UserID: "trader-1", Venue: "binance", Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 1, Price: 40000, Timestamp: time.Now().UTC(),
	}))

	cfg, err := repo.Configs().FindByRelationship(ctx, relID)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	sessions, err := repo.Sessions().FindActive(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}
