// Package redisstore publishes runtime metrics snapshots to Redis so
// external dashboards can read them without touching the process.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Mahd-Mehn/MM-zypherfunk/internal/copyengine"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/monitor"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/ports"

	"github.com/redis/go-redis/v9"
)

const (
	metricsKey = "copytrading:metrics"
	metricsTTL = 24 * time.Hour
)

// SystemMetrics is the combined snapshot written under a single key.
type SystemMetrics struct {
	Monitor    monitor.Metrics    `json:"monitor"`
	CopyEngine copyengine.Metrics `json:"copy_engine"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// MetricsStore persists metrics snapshots in Redis.
type MetricsStore struct {
	redis  *redis.Client
	logger ports.Logger
}

// NewMetricsStore creates a metrics store and verifies connectivity.
func NewMetricsStore(ctx context.Context, addr, password string, logger ports.Logger) (*MetricsStore, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for metrics store")
	}
	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		Password:   password,
		DB:         0,
		MaxRetries: 3,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w: %w", ports.ErrConnectionFailed, err)
	}
	return &MetricsStore{redis: client, logger: logger}, nil
}

// Save writes the combined snapshot. The key expires after 24 hours so a
// stopped system stops reporting instead of serving stale numbers forever.
func (m *MetricsStore) Save(ctx context.Context, mon monitor.Metrics, eng copyengine.Metrics) error {
	snapshot := SystemMetrics{
		Monitor:    mon,
		CopyEngine: eng,
		UpdatedAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics snapshot: %w", err)
	}
	if err := m.redis.Set(ctx, metricsKey, data, metricsTTL).Err(); err != nil {
		return fmt.Errorf("failed to store metrics snapshot: %w", err)
	}
	return nil
}

// Load retrieves the last snapshot. Returns an empty snapshot when none
// has been written yet.
func (m *MetricsStore) Load(ctx context.Context) (*SystemMetrics, error) {
	data, err := m.redis.Get(ctx, metricsKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &SystemMetrics{}, nil
		}
		return nil, fmt.Errorf("failed to load metrics snapshot: %w", err)
	}
	var snapshot SystemMetrics
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode metrics snapshot: %w", err)
	}
	return &snapshot, nil
}

// Run publishes a snapshot on every interval tick until the context ends.
func (m *MetricsStore) Run(ctx context.Context, interval time.Duration, snapshot func() (monitor.Metrics, copyengine.Metrics)) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mon, eng := snapshot()
			if err := m.Save(ctx, mon, eng); err != nil {
				m.logger.Warn(ctx, "Failed to publish metrics snapshot", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// Close releases the Redis connection.
func (m *MetricsStore) Close() error {
	return m.redis.Close()
}
