package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Mahd-Mehn/MM-zypherfunk/internal/domain"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the follower, copy-config, session and execution
// repository ports using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/copytrading.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// NOTE: This is a basic approach. A proper migration tool is recommended for production.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS followers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trader_id TEXT NOT NULL,
		follower_id TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		is_copying INTEGER NOT NULL DEFAULT 1,
		followed_at TIMESTAMP NOT NULL,
		unfollowed_at TIMESTAMP DEFAULT NULL,
		UNIQUE (trader_id, follower_id)
	);

	CREATE TABLE IF NOT EXISTS copy_configs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		follower_rel_id INTEGER NOT NULL REFERENCES followers(id),
		mode TEXT NOT NULL,
		fixed_amount_usd REAL NOT NULL DEFAULT 0,
		proportion_percent REAL NOT NULL DEFAULT 0,
		min_trade_size_usd REAL NOT NULL DEFAULT 0,
		max_trade_size_usd REAL NOT NULL DEFAULT 0,
		max_position_usd REAL NOT NULL DEFAULT 0,
		max_daily_loss_usd REAL NOT NULL DEFAULT 0,
		allowed_venues TEXT NOT NULL DEFAULT '',
		allowed_symbols TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		is_paused INTEGER NOT NULL DEFAULT 0,
		pause_reason TEXT NOT NULL DEFAULT '',
		total_copied_trades INTEGER NOT NULL DEFAULT 0,
		total_pnl_usd REAL NOT NULL DEFAULT 0,
		UNIQUE (follower_rel_id)
	);

	CREATE TABLE IF NOT EXISTS monitoring_sessions (
		id TEXT PRIMARY KEY,
		trader_id TEXT NOT NULL,
		venue TEXT NOT NULL,
		symbols TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		status TEXT NOT NULL,
		last_heartbeat TIMESTAMP DEFAULT NULL,
		events_received INTEGER NOT NULL DEFAULT 0,
		trades_detected INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_executions (
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		price REAL NOT NULL,
		fee REAL NOT NULL DEFAULT 0,
		ts TIMESTAMP NOT NULL,
		venue TEXT NOT NULL,
		PRIMARY KEY (user_id, venue, id)
	);

	CREATE INDEX IF NOT EXISTS idx_followers_trader ON followers (trader_id, is_active);
	CREATE INDEX IF NOT EXISTS idx_sessions_active ON monitoring_sessions (is_active);
	CREATE INDEX IF NOT EXISTS idx_executions_user_ts ON trade_executions (user_id, ts);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- FollowerRepository Implementation ---

// Create saves a new follower relationship and returns its assigned ID.
func (r *Repository) Create(ctx context.Context, f *domain.Follower) (int64, error) {
	const query = `
	INSERT INTO followers (trader_id, follower_id, is_active, is_copying, followed_at, unfollowed_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		f.TraderID, f.FollowerID, f.IsActive, f.IsCopying, f.FollowedAt, nullTimePtr(f.UnfollowedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("follower relationship %s -> %s: %w", f.FollowerID, f.TraderID, ports.ErrDuplicateEntry)
		}
		return 0, fmt.Errorf("failed to insert follower relationship for trader %s: %w", f.TraderID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for follower relationship: %w", err)
	}
	f.ID = id
	r.logger.Debug(ctx, "Follower relationship created", map[string]interface{}{"relID": id, "traderID": f.TraderID, "followerID": f.FollowerID})
	return id, nil
}

// Update modifies an existing follower relationship based on its ID.
func (r *Repository) Update(ctx context.Context, f *domain.Follower) error {
	const query = `
	UPDATE followers
	SET is_active = ?, is_copying = ?, unfollowed_at = ?
	WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, f.IsActive, f.IsCopying, nullTimePtr(f.UnfollowedAt), f.ID)
	if err != nil {
		return fmt.Errorf("failed to update follower relationship ID %d: %w", f.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for follower relationship ID %d: %w", f.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("follower relationship ID %d not found for update: %w", f.ID, ports.ErrNotFound)
	}
	return nil
}

// FindByPair retrieves the relationship for a (trader, follower) pair, if any.
func (r *Repository) FindByPair(ctx context.Context, traderID, followerID string) (*domain.Follower, error) {
	const query = `
	SELECT id, trader_id, follower_id, is_active, is_copying, followed_at, unfollowed_at
	FROM followers
	WHERE trader_id = ? AND follower_id = ?`

	row := r.db.QueryRowContext(ctx, query, traderID, followerID)
	f, err := scanFollower(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
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
	WHERE trader_id = ? AND is_active = 1 AND is_copying = 1
	ORDER BY followed_at ASC`

	rows, err := r.db.QueryContext(ctx, query, traderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query copying followers for trader %s: %w", traderID, err)
	}
	defer rows.Close()

	followers := make([]*domain.Follower, 0)
	for rows.Next() {
		f, err := scanFollower(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan follower during FindCopying: %w", err)
		}
		followers = append(followers, f)
	}
	if err = rows.Err(); err != nil {
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
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		c.FollowerRelID, string(c.Mode), c.FixedAmountUSD, c.ProportionPercent,
		c.MinTradeSizeUSD, c.MaxTradeSizeUSD, c.MaxPositionUSD, c.MaxDailyLossUSD,
		joinList(c.AllowedVenues), joinList(c.AllowedSymbols), c.IsActive, c.IsPaused, c.PauseReason,
		c.TotalCopiedTrades, c.TotalPNLUSD)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("copy config for relationship %d: %w", c.FollowerRelID, ports.ErrDuplicateEntry)
		}
		return 0, fmt.Errorf("failed to insert copy config for relationship %d: %w", c.FollowerRelID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for copy config: %w", err)
	}
	c.ID = id
	r.logger.Debug(ctx, "Copy config created", map[string]interface{}{"configID": id, "relID": c.FollowerRelID, "mode": c.Mode})
	return id, nil
}

// UpdateConfig modifies an existing copy configuration based on its ID.
func (r *Repository) UpdateConfig(ctx context.Context, c *domain.CopyConfig) error {
	const query = `
	UPDATE copy_configs
	SET mode = ?, fixed_amount_usd = ?, proportion_percent = ?,
	    min_trade_size_usd = ?, max_trade_size_usd = ?, max_position_usd = ?, max_daily_loss_usd = ?,
	    allowed_venues = ?, allowed_symbols = ?, is_active = ?, is_paused = ?, pause_reason = ?
	WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(c.Mode), c.FixedAmountUSD, c.ProportionPercent,
		c.MinTradeSizeUSD, c.MaxTradeSizeUSD, c.MaxPositionUSD, c.MaxDailyLossUSD,
		joinList(c.AllowedVenues), joinList(c.AllowedSymbols), c.IsActive, c.IsPaused, c.PauseReason,
		c.ID)
	if err != nil {
		return fmt.Errorf("failed to update copy config ID %d: %w", c.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for copy config ID %d: %w", c.ID, err)
	}
	if rowsAffected == 0 {
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
	WHERE follower_rel_id = ?`

	row := r.db.QueryRowContext(ctx, query, relID)
	c, err := scanCopyConfig(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query copy config for relationship %d: %w", relID, err)
	}
	return c, nil
}

// RecordCopy atomically increments the cumulative copy counters.
func (r *Repository) RecordCopy(ctx context.Context, relID int64, pnlDelta float64) error {
	const query = `
	UPDATE copy_configs
	SET total_copied_trades = total_copied_trades + 1,
	    total_pnl_usd = total_pnl_usd + ?
	WHERE follower_rel_id = ?`

	result, err := r.db.ExecContext(ctx, query, pnlDelta, relID)
	if err != nil {
		return fmt.Errorf("failed to record copy for relationship %d: %w", relID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for relationship %d: %w", relID, err)
	}
	if rowsAffected == 0 {
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
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var heartbeat sql.NullTime
	if !s.LastHeartbeat.IsZero() {
		heartbeat = sql.NullTime{Time: s.LastHeartbeat, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.TraderID, s.Venue, joinList(s.Symbols), s.IsActive, string(s.Status),
		heartbeat, s.EventsReceived, s.TradesDetected, s.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("monitoring session %s: %w", s.ID, ports.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to insert monitoring session %s: %w", s.ID, err)
	}
	r.logger.Debug(ctx, "Monitoring session created", map[string]interface{}{"sessionID": s.ID, "traderID": s.TraderID, "venue": s.Venue})
	return nil
}

// UpdateSession modifies an existing monitoring session.
func (r *Repository) UpdateSession(ctx context.Context, s *domain.MonitoringSession) error {
	const query = `
	UPDATE monitoring_sessions
	SET symbols = ?, is_active = ?, status = ?, last_heartbeat = ?,
	    events_received = ?, trades_detected = ?
	WHERE id = ?`

	var heartbeat sql.NullTime
	if !s.LastHeartbeat.IsZero() {
		heartbeat = sql.NullTime{Time: s.LastHeartbeat, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		joinList(s.Symbols), s.IsActive, string(s.Status), heartbeat,
		s.EventsReceived, s.TradesDetected, s.ID)
	if err != nil {
		return fmt.Errorf("failed to update monitoring session %s: %w", s.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for session %s: %w", s.ID, err)
	}
	if rowsAffected == 0 {
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
	WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
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
	WHERE is_active = 1
	ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query)
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
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

// RecordHeartbeat records a completed poll tick for a session.
func (r *Repository) RecordHeartbeat(ctx context.Context, id string, at time.Time, eventsEmitted int64) error {
	const query = `
	UPDATE monitoring_sessions
	SET last_heartbeat = ?,
	    events_received = events_received + 1,
	    trades_detected = trades_detected + ?
	WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, at, eventsEmitted, id)
	if err != nil {
		return fmt.Errorf("failed to record heartbeat for session %s: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for session %s: %w", id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("monitoring session %s not found: %w", id, ports.ErrNotFound)
	}
	return nil
}

// --- ExecutionRepository Implementation ---

// CreateExecution saves a new trade execution record.
func (r *Repository) CreateExecution(ctx context.Context, e *domain.TradeExecution) error {
	const query = `
	INSERT INTO trade_executions (id, user_id, symbol, side, quantity, price, fee, ts, venue)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
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
	WHERE user_id = ? AND ts >= ?
	ORDER BY ts ASC`

	rows, err := r.db.QueryContext(ctx, query, userID, since)
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
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution rows: %w", err)
	}
	return executions, nil
}

// --- Port Views ---
//
// The four repository ports share method names (Create, Update, ...), so
// one struct cannot satisfy them all directly. Thin views over the shared
// connection adapt the names.

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

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFollower(s scanner) (*domain.Follower, error) {
	f := &domain.Follower{}
	var unfollowedAt sql.NullTime
	err := s.Scan(&f.ID, &f.TraderID, &f.FollowerID, &f.IsActive, &f.IsCopying, &f.FollowedAt, &unfollowedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	if unfollowedAt.Valid {
		t := unfollowedAt.Time
		f.UnfollowedAt = &t
	}
	return f, nil
}

func scanCopyConfig(s scanner) (*domain.CopyConfig, error) {
	c := &domain.CopyConfig{}
	var mode, venues, symbols string
	err := s.Scan(
		&c.ID, &c.FollowerRelID, &mode, &c.FixedAmountUSD, &c.ProportionPercent,
		&c.MinTradeSizeUSD, &c.MaxTradeSizeUSD, &c.MaxPositionUSD, &c.MaxDailyLossUSD,
		&venues, &symbols, &c.IsActive, &c.IsPaused, &c.PauseReason,
		&c.TotalCopiedTrades, &c.TotalPNLUSD)
	if err != nil {
		return nil, err
	}
	c.Mode = domain.SizingMode(mode)
	c.AllowedVenues = splitList(venues)
	c.AllowedSymbols = splitList(symbols)
	return c, nil
}

func scanSession(s scanner) (*domain.MonitoringSession, error) {
	ms := &domain.MonitoringSession{}
	var symbols, status string
	var heartbeat sql.NullTime
	err := s.Scan(
		&ms.ID, &ms.TraderID, &ms.Venue, &symbols, &ms.IsActive, &status,
		&heartbeat, &ms.EventsReceived, &ms.TradesDetected, &ms.CreatedAt)
	if err != nil {
		return nil, err
	}
	ms.Symbols = splitList(symbols)
	ms.Status = domain.ConnectionStatus(status)
	if heartbeat.Valid {
		ms.LastHeartbeat = heartbeat.Time
	}
	return ms, nil
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Allow-lists are short and never contain commas, so a joined TEXT column
// is enough.
func joinList(items []string) string {
	return strings.Join(items, ",")
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
