package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Mahd-Mehn/MM-zypherfunk/internal/domain"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements the follower, copy-config, session and execution
// repository ports on PostgreSQL. It is the production alternative to the
// SQLite repository; both satisfy the same ports.
type Repository struct {
	pool   *pgxpool.Pool
	logger ports.Logger
}

// Config holds configuration for the PostgreSQL repository.
type Config struct {
	DatabaseURL string
	Logger      ports.Logger
}

// NewRepository creates a new PostgreSQL repository instance.
func NewRepository(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for PostgreSQL repository")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database URL is required: %w", ports.ErrConfigurationError)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w: %w", ports.ErrDBConnection, err)
	}

	repo := &Repository{pool: pool, logger: cfg.Logger}
	if err := repo.initializeSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	cfg.Logger.Info(ctx, "PostgreSQL repository initialized")
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS followers (
		id BIGSERIAL PRIMARY KEY,
		trader_id TEXT NOT NULL,
		follower_id TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_copying BOOLEAN NOT NULL DEFAULT TRUE,
		followed_at TIMESTAMPTZ NOT NULL,
		unfollowed_at TIMESTAMPTZ,
		UNIQUE (trader_id, follower_id)
	);

	CREATE TABLE IF NOT EXISTS copy_configs (
		id BIGSERIAL PRIMARY KEY,
		follower_rel_id BIGINT NOT NULL UNIQUE REFERENCES followers(id),
		mode TEXT NOT NULL,
		fixed_amount_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		proportion_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
		min_trade_size_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_trade_size_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_position_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_daily_loss_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		allowed_venues TEXT[] NOT NULL DEFAULT '{}',
		allowed_symbols TEXT[] NOT NULL DEFAULT '{}',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_paused BOOLEAN NOT NULL DEFAULT FALSE,
		pause_reason TEXT NOT NULL DEFAULT '',
		total_copied_trades BIGINT NOT NULL DEFAULT 0,
		total_pnl_usd DOUBLE PRECISION NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS monitoring_sessions (
		id TEXT PRIMARY KEY,
		trader_id TEXT NOT NULL,
		venue TEXT NOT NULL,
		symbols TEXT[] NOT NULL DEFAULT '{}',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		status TEXT NOT NULL,
		last_heartbeat TIMESTAMPTZ,
		events_received BIGINT NOT NULL DEFAULT 0,
		trades_detected BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_executions (
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		fee DOUBLE PRECISION NOT NULL DEFAULT 0,
		ts TIMESTAMPTZ NOT NULL,
		venue TEXT NOT NULL,
		PRIMARY KEY (user_id, venue, id)
	);

	CREATE INDEX IF NOT EXISTS idx_followers_trader ON followers (trader_id, is_active);
	CREATE INDEX IF NOT EXISTS idx_sessions_active ON monitoring_sessions (is_active);
	CREATE INDEX IF NOT EXISTS idx_executions_user_ts ON trade_executions (user_id, ts);
	`
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (r *Repository) Close() error {
	if r.pool != nil {
		r.logger.Info(context.Background(), "Closing PostgreSQL connection pool")
		r.pool.Close()
	}
	return nil
}

// --- FollowerRepository Implementation ---

// Create saves a new follower relationship and returns its assigned ID.
func (r *Repository) Create(ctx context.Context, f *domain.Follower) (int64, error) {
	const query = `
	INSERT INTO followers (trader_id, follower_id, is_active, is_copying, followed_at, unfollowed_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id`

	err := r.pool.QueryRow(ctx, query,
		f.TraderID, f.FollowerID, f.IsActive, f.IsCopying, f.FollowedAt, f.UnfollowedAt).Scan(&f.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("follower relationship %s -> %s: %w", f.FollowerID, f.TraderID, ports.ErrDuplicateEntry)
		}
		return 0, fmt.Errorf("failed to insert follower relationship for trader %s: %w", f.TraderID, err)
	}
	r.logger.Debug(ctx, "Follower relationship created", map[string]interface{}{"relID": f.ID, "traderID": f.TraderID, "followerID": f.FollowerID})
	return f.ID, nil
}

// Update modifies an existing follower relationship based on its ID.
func (r *Repository) Update(ctx context.Context, f *domain.Follower) error {
	const query = `
	UPDATE followers
	SET is_active = $1, is_copying = $2, unfollowed_at = $3
	WHERE id = $4`

	tag, err := r.pool.Exec(ctx, query, f.IsActive, f.IsCopying, f.UnfollowedAt, f.ID)
	if err != nil {
		return fmt.Errorf("failed to update follower relationship ID %d: %w", f.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("follower relationship ID %d not found for update: %w", f.ID, ports.ErrNotFound)
	}
	return nil
}

// FindByPair retrieves the relationship for a (trader, follower) pair, if any.
func (r *Repository) FindByPair(ctx context.Context, traderID, followerID string) (*domain.Follower, error) {
	const query = `
	SELECT id, trader_id, follower_id, is_active, is_copying, followed_at, unfollowed_at
	FROM followers
	WHERE trader_id = $1 AND follower_id = $2`

	f := &domain.Follower{}
	err := r.pool.QueryRow(ctx, query, traderID, followerID).Scan(
		&f.ID, &f.TraderID, &f.FollowerID, &f.IsActive, &f.IsCopying, &f.FollowedAt, &f.UnfollowedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query follower relationship for trader %s: %w", traderID, err)
	}
	return f, nil
}

// FindCopying retrieves all active, copying relationships for a trader.
func (r *Repository) FindCopying(ctx context.Context, traderID string) ([]*domain.Follower, error) {
	const query = `
	SELECT id, trader_id, follower_id, is_active, is_copying, followed_at, unfollowed_at
	FROM followers
	WHERE trader_id = $1 AND is_active AND is_copying
	ORDER BY followed_at ASC`

	rows, err := r.pool.Query(ctx, query, traderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query copying followers for trader %s: %w", traderID, err)
	}
	defer rows.Close()

	followers := make([]*domain.Follower, 0)
	for rows.Next() {
		f := &domain.Follower{}
		if err := rows.Scan(&f.ID, &f.TraderID, &f.FollowerID, &f.IsActive, &f.IsCopying, &f.FollowedAt, &f.UnfollowedAt); err != nil {
			return nil, fmt.Errorf("failed to scan follower during FindCopying: %w", err)
		}
		followers = append(followers, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating follower rows: %w", err)
	}
	return followers, nil
}

// --- CopyConfigRepository Implementation ---

// CreateConfig saves a new copy configuration and returns its assigned ID.
func (r *Repository) CreateConfig(ctx context.Context, c *domain.CopyConfig) (int64, error) {
	const query = `
	INSERT INTO copy_configs (follower_rel_id, mode, fixed_amount_usd, proportion_percent,
	                          min_trade_size_usd, max_trade_size_usd, max_position_usd, max_daily_loss_usd,
	                          allowed_venues, allowed_symbols, is_active, is_paused, pause_reason,
	                          total_copied_trades, total_pnl_usd)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	RETURNING id`

	err := r.pool.QueryRow(ctx, query,
		c.FollowerRelID, string(c.Mode), c.FixedAmountUSD, c.ProportionPercent,
		c.MinTradeSizeUSD, c.MaxTradeSizeUSD, c.MaxPositionUSD, c.MaxDailyLossUSD,
		emptyList(c.AllowedVenues), emptyList(c.AllowedSymbols), c.IsActive, c.IsPaused, c.PauseReason,
		c.TotalCopiedTrades, c.TotalPNLUSD).Scan(&c.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("copy config for relationship %d: %w", c.FollowerRelID, ports.ErrDuplicateEntry)
		}
		return 0, fmt.Errorf("failed to insert copy config for relationship %d: %w", c.FollowerRelID, err)
	}
	return c.ID, nil
}

// UpdateConfig modifies an existing copy configuration based on its ID.
func (r *Repository) UpdateConfig(ctx context.Context, c *domain.CopyConfig) error {
	const query = `
	UPDATE copy_configs
	SET mode = $1, fixed_amount_usd = $2, proportion_percent = $3,
	    min_trade_size_usd = $4, max_trade_size_usd = $5, max_position_usd = $6, max_daily_loss_usd = $7,
	    allowed_venues = $8, allowed_symbols = $9, is_active = $10, is_paused = $11, pause_reason = $12
	WHERE id = $13`

	tag, err := r.pool.Exec(ctx, query,
		string(c.Mode), c.FixedAmountUSD, c.ProportionPercent,
		c.MinTradeSizeUSD, c.MaxTradeSizeUSD, c.MaxPositionUSD, c.MaxDailyLossUSD,
		emptyList(c.AllowedVenues), emptyList(c.AllowedSymbols), c.IsActive, c.IsPaused, c.PauseReason,
		c.ID)
	if err != nil {
		return fmt.Errorf("failed to update copy config ID %d: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("copy config ID %d not found for update: %w", c.ID, ports.ErrNotFound)
	}
	return nil
}

// FindByRelationship retrieves the copy configuration for a relationship, if any.
func (r *Repository) FindByRelationship(ctx context.Context, relID int64) (*domain.CopyConfig, error) {
	const query = `
	SELECT id, follower_rel_id, mode, fixed_amount_usd, proportion_percent,
	       min_trade_size_usd, max_trade_size_usd, max_position_usd, max_daily_loss_usd,
	       allowed_venues, allowed_symbols, is_active, is_paused, pause_reason,
	       total_copied_trades, total_pnl_usd
	FROM copy_configs
	WHERE follower_rel_id = $1`

	c := &domain.CopyConfig{}
	var mode string
	err := r.pool.QueryRow(ctx, query, relID).Scan(
		&c.ID, &c.FollowerRelID, &mode, &c.FixedAmountUSD, &c.ProportionPercent,
		&c.MinTradeSizeUSD, &c.MaxTradeSizeUSD, &c.MaxPositionUSD, &c.MaxDailyLossUSD,
		&c.AllowedVenues, &c.AllowedSymbols, &c.IsActive, &c.IsPaused, &c.PauseReason,
		&c.TotalCopiedTrades, &c.TotalPNLUSD)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query copy config for relationship %d: %w", relID, err)
	}
	c.Mode = domain.SizingMode(mode)
	return c, nil
}

// RecordCopy atomically increments the cumulative copy counters.
func (r *Repository) RecordCopy(ctx context.Context, relID int64, pnlDelta float64) error {
	const query = `
	UPDATE copy_configs
	SET total_copied_trades = total_copied_trades + 1,
	    total_pnl_usd = total_pnl_usd + $1
	WHERE follower_rel_id = $2`

	tag, err := r.pool.Exec(ctx, query, pnlDelta, relID)
	if err != nil {
		return fmt.Errorf("failed to record copy for relationship %d: %w", relID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("copy config for relationship %d not found: %w", relID, ports.ErrNotFound)
	}
	return nil
}

// --- SessionRepository Implementation ---

// CreateSession saves a new monitoring session.
func (r *Repository) CreateSession(ctx context.Context, s *domain.MonitoringSession) error {
	const query = `
	INSERT INTO monitoring_sessions (id, trader_id, venue, symbols, is_active, status,
	                                 last_heartbeat, events_received, trades_detected, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		s.ID, s.TraderID, s.Venue, emptyList(s.Symbols), s.IsActive, string(s.Status),
		nullableTime(s.LastHeartbeat), s.EventsReceived, s.TradesDetected, s.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("monitoring session %s: %w", s.ID, ports.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to insert monitoring session %s: %w", s.ID, err)
	}
	return nil
}

// UpdateSession modifies an existing monitoring session.
func (r *Repository) UpdateSession(ctx context.Context, s *domain.MonitoringSession) error {
	const query = `
	UPDATE monitoring_sessions
	SET symbols = $1, is_active = $2, status = $3, last_heartbeat = $4,
	    events_received = $5, trades_detected = $6
	WHERE id = $7`

	tag, err := r.pool.Exec(ctx, query,
		emptyList(s.Symbols), s.IsActive, string(s.Status), nullableTime(s.LastHeartbeat),
		s.EventsReceived, s.TradesDetected, s.ID)
	if err != nil {
		return fmt.Errorf("failed to update monitoring session %s: %w", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("monitoring session %s not found for update: %w", s.ID, ports.ErrNotFound)
	}
	return nil
}

// FindSessionByID retrieves a monitoring session by its ID, if any.
func (r *Repository) FindSessionByID(ctx context.Context, id string) (*domain.MonitoringSession, error) {
	const query = `
	SELECT id, trader_id, venue, symbols, is_active, status,
	       last_heartbeat, events_received, trades_detected, created_at
	FROM monitoring_sessions
	WHERE id = $1`

	s, err := scanSession(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query monitoring session %s: %w", id, err)
	}
	return s, nil
}

// FindActiveSessions retrieves all active monitoring sessions.
func (r *Repository) FindActiveSessions(ctx context.Context) ([]*domain.MonitoringSession, error) {
	const query = `
	SELECT id, trader_id, venue, symbols, is_active, status,
	       last_heartbeat, events_received, trades_detected, created_at
	FROM monitoring_sessions
	WHERE is_active
	ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active monitoring sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]*domain.MonitoringSession, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session during FindActive: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

// RecordHeartbeat records a completed poll tick for a session.
func (r *Repository) RecordHeartbeat(ctx context.Context, id string, at time.Time, eventsEmitted int64) error {
	const query = `
	UPDATE monitoring_sessions
	SET last_heartbeat = $1,
	    events_received = events_received + 1,
	    trades_detected = trades_detected + $2
	WHERE id = $3`

	tag, err := r.pool.Exec(ctx, query, at, eventsEmitted, id)
	if err != nil {
		return fmt.Errorf("failed to record heartbeat for session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("monitoring session %s not found: %w", id, ports.ErrNotFound)
	}
	return nil
}

// --- ExecutionRepository Implementation ---

// CreateExecution saves a new trade execution record.
func (r *Repository) CreateExecution(ctx context.Context, e *domain.TradeExecution) error {
	const query = `
	INSERT INTO trade_executions (id, user_id, symbol, side, quantity, price, fee, ts, venue)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		e.ID, e.UserID, e.Symbol, string(e.Side), e.Quantity, e.Price, e.Fee, e.Timestamp, e.Venue)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("trade execution %s for user %s: %w", e.ID, e.UserID, ports.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to insert trade execution %s: %w", e.ID, err)
	}
	return nil
}

// FindByUserSince retrieves a user's executions since the given time,
// ordered by timestamp ascending.
func (r *Repository) FindByUserSince(ctx context.Context, userID string, since time.Time) ([]domain.TradeExecution, error) {
	const query = `
	SELECT id, user_id, symbol, side, quantity, price, fee, ts, venue
	FROM trade_executions
	WHERE user_id = $1 AND ts >= $2
	ORDER BY ts ASC`

	rows, err := r.pool.Query(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions for user %s: %w", userID, err)
	}
	defer rows.Close()

	executions := make([]domain.TradeExecution, 0)
	for rows.Next() {
		var e domain.TradeExecution
		var side string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Symbol, &side, &e.Quantity, &e.Price, &e.Fee, &e.Timestamp, &e.Venue); err != nil {
			return nil, fmt.Errorf("failed to scan execution during FindByUserSince: %w", err)
		}
		e.Side = domain.OrderSide(side)
		executions = append(executions, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution rows: %w", err)
	}
	return executions, nil
}

// --- Port Views ---
//
// The four repository ports share method names, so thin views over the
// shared pool adapt the names. Mirrors the SQLite repository.

type configRepo struct{ *Repository }

func (v configRepo) Create(ctx context.Context, c *domain.CopyConfig) (int64, error) {
	return v.CreateConfig(ctx, c)
}
func (v configRepo) Update(ctx context.Context, c *domain.CopyConfig) error {
	return v.UpdateConfig(ctx, c)
}

type sessionRepo struct{ *Repository }

func (v sessionRepo) Create(ctx context.Context, s *domain.MonitoringSession) error {
	return v.CreateSession(ctx, s)
}
func (v sessionRepo) Update(ctx context.Context, s *domain.MonitoringSession) error {
	return v.UpdateSession(ctx, s)
}
func (v sessionRepo) FindByID(ctx context.Context, id string) (*domain.MonitoringSession, error) {
	return v.FindSessionByID(ctx, id)
}
func (v sessionRepo) FindActive(ctx context.Context) ([]*domain.MonitoringSession, error) {
	return v.FindActiveSessions(ctx)
}
func (v sessionRepo) Heartbeat(ctx context.Context, id string, at time.Time, eventsEmitted int64) error {
	return v.RecordHeartbeat(ctx, id, at, eventsEmitted)
}

type executionRepo struct{ *Repository }

func (v executionRepo) Create(ctx context.Context, e *domain.TradeExecution) error {
	return v.CreateExecution(ctx, e)
}

// Followers returns the FollowerRepository view.
func (r *Repository) Followers() ports.FollowerRepository { return r }

// Configs returns the CopyConfigRepository view.
func (r *Repository) Configs() ports.CopyConfigRepository { return configRepo{r} }

// Sessions returns the SessionRepository view.
func (r *Repository) Sessions() ports.SessionRepository { return sessionRepo{r} }

// Executions returns the ExecutionRepository view.
func (r *Repository) Executions() ports.ExecutionRepository { return executionRepo{r} }

// --- Helpers ---

func scanSession(row pgx.Row) (*domain.MonitoringSession, error) {
	ms := &domain.MonitoringSession{}
	var status string
	var heartbeat *time.Time
	err := row.Scan(
		&ms.ID, &ms.TraderID, &ms.Venue, &ms.Symbols, &ms.IsActive, &status,
		&heartbeat, &ms.EventsReceived, &ms.TradesDetected, &ms.CreatedAt)
	if err != nil {
		return nil, err
	}
	ms.Status = domain.ConnectionStatus(status)
	if heartbeat != nil {
		ms.LastHeartbeat = *heartbeat
	}
	return ms, nil
}

// emptyList keeps NOT NULL array columns happy when the slice is nil.
func emptyList(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
