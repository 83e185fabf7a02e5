// Package postgres implements push.EndpointStore on PostgreSQL using pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

const schema = `
CREATE TABLE IF NOT EXISTS push_targets (
	device_id VARCHAR(255) PRIMARY KEY,
	user_id VARCHAR(255) NOT NULL,
	endpoint_ref TEXT NOT NULL,
	platform VARCHAR(32) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_push_targets_user_id ON push_targets(user_id);
`

// Store is a PostgreSQL-backed EndpointStore.
type Store struct {
	pool *pgxpool.Pool
}

// Open creates a connection pool for databaseURL, verifies it and creates the
// push_targets table if it does not exist.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) FindByDevice(ctx context.Context, deviceID string) (*push.PushTarget, error) {
	var t push.PushTarget
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, device_id, endpoint_ref, platform, created_at FROM push_targets WHERE device_id = $1`,
		deviceID,
	).Scan(&t.UserID, &t.DeviceID, &t.EndpointRef, &t.Platform, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query push target: %w", err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

func (s *Store) FindAllByUser(ctx context.Context, userID string) ([]push.PushTarget, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, device_id, endpoint_ref, platform, created_at FROM push_targets WHERE user_id = $1 ORDER BY created_at, device_id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query push targets: %w", err)
	}
	defer rows.Close()

	targets := make([]push.PushTarget, 0)
	for rows.Next() {
		var t push.PushTarget
		if err := rows.Scan(&t.UserID, &t.DeviceID, &t.EndpointRef, &t.Platform, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan push target: %w", err)
		}
		t.CreatedAt = t.CreatedAt.UTC()
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("push target iteration failed: %w", err)
	}
	return targets, nil
}

func (s *Store) Insert(ctx context.Context, t push.PushTarget) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO push_targets (user_id, device_id, endpoint_ref, platform, created_at) VALUES ($1, $2, $3, $4, $5)`,
		t.UserID, t.DeviceID, t.EndpointRef, t.Platform, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert push target: %w", err)
	}
	return nil
}

func (s *Store) DeleteByDevice(ctx context.Context, deviceID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM push_targets WHERE device_id = $1`, deviceID); err != nil {
		return fmt.Errorf("failed to delete push target: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
