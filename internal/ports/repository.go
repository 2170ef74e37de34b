package ports

import (
	"context"
	"time"

	"github.com/Mahd-Mehn/MM-zypherfunk/internal/domain"
)

// FollowerRepository persists follower relationships.
type FollowerRepository interface {
	// Create saves a new relationship and returns its assigned ID.
	Create(ctx context.Context, f *domain.Follower) (int64, error)
	// Update modifies an existing relationship.
	Update(ctx context.Context, f *domain.Follower) error
	// FindByPair retrieves the relationship for a (trader, follower) pair.
	// Returns nil, nil if none exists.
	FindByPair(ctx context.Context, traderID, followerID string) (*domain.Follower, error)
	// FindCopying retrieves all relationships for a trader where copying is
	// enabled and the relationship is active.
	FindCopying(ctx context.Context, traderID string) ([]*domain.Follower, error)
}

// CopyConfigRepository persists per-relationship copy configurations.
type CopyConfigRepository interface {
	// Create saves a new config and returns its assigned ID.
	Create(ctx context.Context, c *domain.CopyConfig) (int64, error)
	// Update modifies an existing config.
	Update(ctx context.Context, c *domain.CopyConfig) error
	// FindByRelationship retrieves the config for a follower relationship.
	// Returns nil, nil if none exists.
	FindByRelationship(ctx context.Context, relID int64) (*domain.CopyConfig, error)
	// RecordCopy atomically increments the cumulative copy counters.
	RecordCopy(ctx context.Context, relID int64, pnlDelta float64) error
}

// SessionRepository persists monitoring sessions so they survive restarts.
type SessionRepository interface {
	// Create saves a new session.
	Create(ctx context.Context, s *domain.MonitoringSession) error
	// Update modifies an existing session.
	Update(ctx context.Context, s *domain.MonitoringSession) error
	// FindByID retrieves a session by its ID. Returns nil, nil if not found.
	FindByID(ctx context.Context, id string) (*domain.MonitoringSession, error)
	// FindActive retrieves all active sessions.
	FindActive(ctx context.Context) ([]*domain.MonitoringSession, error)
	// Heartbeat records a completed poll tick for a session.
	Heartbeat(ctx context.Context, id string, at time.Time, eventsEmitted int64) error
}

// ExecutionRepository persists trade executions (fills).
type ExecutionRepository interface {
	// Create saves a new execution record.
	Create(ctx context.Context, e *domain.TradeExecution) error
	// FindByUserSince retrieves a user's executions since the given time,
	// ordered by timestamp ascending.
	FindByUserSince(ctx context.Context, userID string, since time.Time) ([]domain.TradeExecution, error)
}
