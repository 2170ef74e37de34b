// Package app wires the copy-trading components behind one outward-facing
// service. HTTP or CLI frontends talk to this service, never to the
// monitor, engine or repositories directly.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Mahd-Mehn/MM-zypherfunk/internal/copyengine"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/domain"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/monitor"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/pnl"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/ports"
)

// Service exposes the copy-trading operations: managing follower
// relationships, monitoring sessions and performance queries.
type Service struct {
	logger     ports.Logger
	followers  ports.FollowerRepository
	configs    ports.CopyConfigRepository
	executions ports.ExecutionRepository
	monitor    *monitor.Monitor
	engine     *copyengine.Engine
	calculator *pnl.Calculator
}

// Config holds the service's dependencies.
type Config struct {
	Logger     ports.Logger
	Followers  ports.FollowerRepository
	Configs    ports.CopyConfigRepository
	Executions ports.ExecutionRepository
	Monitor    *monitor.Monitor
	Engine     *copyengine.Engine
	Calculator *pnl.Calculator
}

// NewService creates the application service.
func NewService(cfg Config) (*Service, error) {
	// Validate dependencies
	if cfg.Logger == nil || cfg.Followers == nil || cfg.Configs == nil || cfg.Executions == nil ||
		cfg.Monitor == nil || cfg.Engine == nil || cfg.Calculator == nil {
		return nil, fmt.Errorf("missing required dependencies for Service")
	}
	return &Service{
		logger:     cfg.Logger,
		followers:  cfg.Followers,
		configs:    cfg.Configs,
		executions: cfg.Executions,
		monitor:    cfg.Monitor,
		engine:     cfg.Engine,
		calculator: cfg.Calculator,
	}, nil
}

// Start begins monitoring and copying. The engine subscribes before the
// monitor starts polling, so no event can be published with nobody
// listening.
func (s *Service) Start(ctx context.Context) error {
	if err := s.engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start copy engine: %w", err)
	}
	if err := s.monitor.Start(ctx); err != nil {
		s.engine.Stop()
		return fmt.Errorf("failed to start monitor: %w", err)
	}
	s.logger.Info(ctx, "Copy-trading service started")
	return nil
}

// Stop halts polling first so no new events are produced, then drains the
// engine.
func (s *Service) Stop() {
	s.monitor.Stop()
	s.engine.Stop()
	s.logger.Info(context.Background(), "Copy-trading service stopped")
}

// StartCopying creates (or reactivates) a follower relationship with the
// given copy configuration. A follower may not copy the same trader twice.
func (s *Service) StartCopying(ctx context.Context, traderID, followerID string, cfg domain.CopyConfig) (*domain.Follower, error) {
	if traderID == "" || followerID == "" {
		return nil, fmt.Errorf("trader and follower IDs are required: %w", ports.ErrInvalidRequest)
	}
	if traderID == followerID {
		return nil, fmt.Errorf("a trader cannot copy themselves: %w", ports.ErrInvalidRequest)
	}
	if err := validateCopyConfig(&cfg); err != nil {
		return nil, err
	}

	existing, err := s.followers.FindByPair(ctx, traderID, followerID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up follower relationship: %w", err)
	}

	now := time.Now().UTC()

	if existing != nil {
		if existing.IsActive {
			return nil, fmt.Errorf("follower %s already copies trader %s: %w", followerID, traderID, ports.ErrAlreadyFollowing)
		}
		// Reactivate the prior relationship instead of creating a second row.
		existing.IsActive = true
		existing.IsCopying = true
		existing.UnfollowedAt = nil
		if err := s.followers.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to reactivate follower relationship: %w", err)
		}
		cfg.FollowerRelID = existing.ID
		cfg.IsActive = true
		if err := s.upsertConfig(ctx, &cfg); err != nil {
			return nil, err
		}
		s.logger.Info(ctx, "Follower relationship reactivated", map[string]interface{}{"traderID": traderID, "followerID": followerID, "relID": existing.ID})
		return existing, nil
	}

	follower := &domain.Follower{
		TraderID:   traderID,
		FollowerID: followerID,
		IsActive:   true,
		IsCopying:  true,
		FollowedAt: now,
	}
	if _, err := s.followers.Create(ctx, follower); err != nil {
		return nil, fmt.Errorf("failed to create follower relationship: %w", err)
	}

	cfg.FollowerRelID = follower.ID
	cfg.IsActive = true
	if _, err := s.configs.Create(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to create copy config: %w", err)
	}

	s.logger.Info(ctx, "Follower relationship created", map[string]interface{}{"traderID": traderID, "followerID": followerID, "relID": follower.ID})
	return follower, nil
}

// StopCopying ends a follower relationship. The copy configuration is
// deactivated in the same operation.
func (s *Service) StopCopying(ctx context.Context, traderID, followerID string) error {
	existing, err := s.followers.FindByPair(ctx, traderID, followerID)
	if err != nil {
		return fmt.Errorf("failed to look up follower relationship: %w", err)
	}
	if existing == nil || !existing.IsActive {
		return fmt.Errorf("follower %s does not copy trader %s: %w", followerID, traderID, ports.ErrNotFollowing)
	}

	now := time.Now().UTC()
	existing.IsActive = false
	existing.IsCopying = false
	existing.UnfollowedAt = &now
	if err := s.followers.Update(ctx, existing); err != nil {
		return fmt.Errorf("failed to deactivate follower relationship: %w", err)
	}

	cfg, err := s.configs.FindByRelationship(ctx, existing.ID)
	if err != nil {
		return fmt.Errorf("failed to look up copy config: %w", err)
	}
	if cfg != nil && cfg.IsActive {
		cfg.IsActive = false
		if err := s.configs.Update(ctx, cfg); err != nil {
			return fmt.Errorf("failed to deactivate copy config: %w", err)
		}
	}

	s.logger.Info(ctx, "Follower relationship ended", map[string]interface{}{"traderID": traderID, "followerID": followerID, "relID": existing.ID})
	return nil
}

// PauseCopying temporarily suspends copying for a relationship without
// ending it.
func (s *Service) PauseCopying(ctx context.Context, traderID, followerID, reason string) error {
	cfg, err := s.activeConfig(ctx, traderID, followerID)
	if err != nil {
		return err
	}
	cfg.IsPaused = true
	cfg.PauseReason = reason
	if err := s.configs.Update(ctx, cfg); err != nil {
		return fmt.Errorf("failed to pause copy config: %w", err)
	}
	return nil
}

// ResumeCopying lifts a pause.
func (s *Service) ResumeCopying(ctx context.Context, traderID, followerID string) error {
	cfg, err := s.activeConfig(ctx, traderID, followerID)
	if err != nil {
		return err
	}
	cfg.IsPaused = false
	cfg.PauseReason = ""
	if err := s.configs.Update(ctx, cfg); err != nil {
		return fmt.Errorf("failed to resume copy config: %w", err)
	}
	return nil
}

// UpdateCopyConfig replaces the sizing and risk settings of an active
// relationship.
func (s *Service) UpdateCopyConfig(ctx context.Context, traderID, followerID string, cfg domain.CopyConfig) error {
	if err := validateCopyConfig(&cfg); err != nil {
		return err
	}
	current, err := s.activeConfig(ctx, traderID, followerID)
	if err != nil {
		return err
	}
	cfg.ID = current.ID
	cfg.FollowerRelID = current.FollowerRelID
	cfg.IsActive = true
	cfg.TotalCopiedTrades = current.TotalCopiedTrades
	cfg.TotalPNLUSD = current.TotalPNLUSD
	if err := s.configs.Update(ctx, &cfg); err != nil {
		return fmt.Errorf("failed to update copy config: %w", err)
	}
	return nil
}

// CopyStats returns the relationship and its cumulative copy statistics.
func (s *Service) CopyStats(ctx context.Context, traderID, followerID string) (*domain.Follower, *domain.CopyConfig, error) {
	follower, err := s.followers.FindByPair(ctx, traderID, followerID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up follower relationship: %w", err)
	}
	if follower == nil {
		return nil, nil, fmt.Errorf("follower %s does not copy trader %s: %w", followerID, traderID, ports.ErrNotFollowing)
	}
	cfg, err := s.configs.FindByRelationship(ctx, follower.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up copy config: %w", err)
	}
	return follower, cfg, nil
}

// AddMonitoringSession registers a (trader, venue) pair for monitoring.
func (s *Service) AddMonitoringSession(ctx context.Context, traderID, venue string, symbols []string) (string, error) {
	if traderID == "" || venue == "" {
		return "", fmt.Errorf("trader ID and venue are required: %w", ports.ErrInvalidRequest)
	}
	return s.monitor.AddSession(ctx, traderID, venue, symbols)
}

// RemoveMonitoringSession stops and deactivates a monitoring session.
func (s *Service) RemoveMonitoringSession(ctx context.Context, sessionID string) error {
	return s.monitor.RemoveSession(ctx, sessionID)
}

// ReinitializeSession retries a failed monitoring session.
func (s *Service) ReinitializeSession(ctx context.Context, sessionID string) error {
	return s.monitor.ReinitializeSession(ctx, sessionID)
}

// MonitoringSessions lists all registered sessions.
func (s *Service) MonitoringSessions(ctx context.Context) []domain.MonitoringSession {
	return s.monitor.Sessions()
}

// ComputePerformance derives a trader's closed trades and reputation
// score from their stored executions since the given time.
func (s *Service) ComputePerformance(ctx context.Context, traderID string, since time.Time) (*domain.ReputationScore, []domain.ClosedTrade, error) {
	if traderID == "" {
		return nil, nil, fmt.Errorf("trader ID is required: %w", ports.ErrInvalidRequest)
	}
	executions, err := s.executions.FindByUserSince(ctx, traderID, since)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load executions for trader %s: %w", traderID, err)
	}
	closed := s.calculator.ClosedTrades(executions)
	score := s.calculator.Score(traderID, closed, time.Now().UTC())
	return &score, closed, nil
}

// Metrics returns current monitor and engine counters.
func (s *Service) Metrics() (monitor.Metrics, copyengine.Metrics) {
	return s.monitor.Snapshot(), s.engine.Snapshot()
}

// activeConfig resolves the copy config of an active relationship.
func (s *Service) activeConfig(ctx context.Context, traderID, followerID string) (*domain.CopyConfig, error) {
	follower, err := s.followers.FindByPair(ctx, traderID, followerID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up follower relationship: %w", err)
	}
	if follower == nil || !follower.IsActive {
		return nil, fmt.Errorf("follower %s does not copy trader %s: %w", followerID, traderID, ports.ErrNotFollowing)
	}
	cfg, err := s.configs.FindByRelationship(ctx, follower.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up copy config: %w", err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("no copy config for relationship %d: %w", follower.ID, ports.ErrNotFound)
	}
	return cfg, nil
}

// upsertConfig updates the existing config row for a relationship, or
// creates one when reactivation finds none.
func (s *Service) upsertConfig(ctx context.Context, cfg *domain.CopyConfig) error {
	current, err := s.configs.FindByRelationship(ctx, cfg.FollowerRelID)
	if err != nil {
		return fmt.Errorf("failed to look up copy config: %w", err)
	}
	if current == nil {
		if _, err := s.configs.Create(ctx, cfg); err != nil {
			return fmt.Errorf("failed to create copy config: %w", err)
		}
		return nil
	}
	cfg.ID = current.ID
	cfg.TotalCopiedTrades = current.TotalCopiedTrades
	cfg.TotalPNLUSD = current.TotalPNLUSD
	if err := s.configs.Update(ctx, cfg); err != nil {
		return fmt.Errorf("failed to update copy config: %w", err)
	}
	return nil
}

// validateCopyConfig checks the mode-specific sizing parameters.
func validateCopyConfig(cfg *domain.CopyConfig) error {
	switch cfg.Mode {
	case domain.SizingFixedAmount:
		if cfg.FixedAmountUSD <= 0 {
			return fmt.Errorf("fixed_amount mode requires a positive FixedAmountUSD: %w", ports.ErrConfigurationError)
		}
	case domain.SizingProportional:
		if cfg.ProportionPercent <= 0 {
			return fmt.Errorf("proportional mode requires a positive ProportionPercent: %w", ports.ErrConfigurationError)
		}
	case domain.SizingSmartScale:
		// No extra parameters.
	default:
		return fmt.Errorf("unknown sizing mode %q: %w", cfg.Mode, ports.ErrConfigurationError)
	}
	if cfg.MinTradeSizeUSD < 0 || cfg.MaxTradeSizeUSD < 0 {
		return fmt.Errorf("trade size limits must not be negative: %w", ports.ErrConfigurationError)
	}
	if cfg.MinTradeSizeUSD > 0 && cfg.MaxTradeSizeUSD > 0 && cfg.MinTradeSizeUSD > cfg.MaxTradeSizeUSD {
		return fmt.Errorf("MinTradeSizeUSD must not exceed MaxTradeSizeUSD: %w", ports.ErrConfigurationError)
	}
	return nil
}
