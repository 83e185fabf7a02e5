// Package sqlite implements push.EndpointStore on SQLite (modernc.org/sqlite,
// no cgo). It backs local development and single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-push-service/pkg/push"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS push_targets (
    device_id    TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL,
    endpoint_ref TEXT NOT NULL,
    platform     TEXT NOT NULL,
    -- unix milliseconds of the last (re)registration
    created_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_push_targets_user_id
    ON push_targets(user_id);
`

// Store is a SQLite-backed EndpointStore.
type Store struct {
	db *sql.DB
}

// Open opens the database at dsn and applies the schema. An in-memory dsn is
// pinned to a single connection so every caller sees the same database.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and applies the schema.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) FindByDevice(ctx context.Context, deviceID string) (*push.PushTarget, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, device_id, endpoint_ref, platform, created_at FROM push_targets WHERE device_id = ?`,
		deviceID)
	t, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query push target: %w", err)
	}
	return &t, nil
}

func (s *Store) FindAllByUser(ctx context.Context, userID string) ([]push.PushTarget, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, device_id, endpoint_ref, platform, created_at FROM push_targets WHERE user_id = ? ORDER BY created_at, device_id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query push targets: %w", err)
	}
	defer rows.Close()

	targets := make([]push.PushTarget, 0)
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan push target: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("push target iteration failed: %w", err)
	}
	return targets, nil
}

func (s *Store) Insert(ctx context.Context, t push.PushTarget) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_targets (user_id, device_id, endpoint_ref, platform, created_at) VALUES (?, ?, ?, ?, ?)`,
		t.UserID, t.DeviceID, t.EndpointRef, t.Platform, t.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert push target: %w", err)
	}
	return nil
}

func (s *Store) DeleteByDevice(ctx context.Context, deviceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM push_targets WHERE device_id = ?`, deviceID); err != nil {
		return fmt.Errorf("failed to delete push target: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTarget(sc scanner) (push.PushTarget, error) {
	var (
		t         push.PushTarget
		createdAt int64
	)
	if err := sc.Scan(&t.UserID, &t.DeviceID, &t.EndpointRef, &t.Platform, &createdAt); err != nil {
		return push.PushTarget{}, err
	}
	t.CreatedAt = time.UnixMilli(createdAt).UTC()
	return t, nil
}
