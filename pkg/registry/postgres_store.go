package registry

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore persists the registry in PostgreSQL for fleets that share
// one authoritative membership database. Save replaces the snapshot in a
// single transaction.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing database handle. The caller owns the
// connection lifecycle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the registry tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS registry_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		max_devices INTEGER NOT NULL,
		device_count INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS devices (
		position INTEGER PRIMARY KEY,
		device_id TEXT NOT NULL UNIQUE,
		device_name TEXT NOT NULL,
		paired_at TIMESTAMPTZ NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL,
		active BOOLEAN NOT NULL
	);`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("registry postgres store: migrate: %w", err)
	}
	return nil
}

// Save replaces the stored snapshot transactionally.
func (s *PostgresStore) Save(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry postgres store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM devices`); err != nil {
		return fmt.Errorf("registry postgres store: clear: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO registry_meta (id, max_devices, device_count) VALUES (1, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET max_devices = EXCLUDED.max_devices, device_count = EXCLUDED.device_count`,
		snap.MaxDevices, snap.DeviceCount); err != nil {
		return fmt.Errorf("registry postgres store: meta: %w", err)
	}
	for i, rec := range snap.Devices {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO devices (position, device_id, device_name, paired_at, last_seen, active)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			i, rec.DeviceID, rec.Name, rec.PairedAt, rec.LastSeen, rec.Active); err != nil {
			return fmt.Errorf("registry postgres store: insert %s: %w", rec.DeviceID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("registry postgres store: commit: %w", err)
	}
	return nil
}

// Load reads the stored snapshot; ok is false when the store is empty.
func (s *PostgresStore) Load(ctx context.Context) (Snapshot, bool, error) {
	var snap Snapshot
	err := s.db.QueryRowContext(ctx,
		`SELECT max_devices, device_count FROM registry_meta WHERE id = 1`).
		Scan(&snap.MaxDevices, &snap.DeviceCount)
	if err == sql.ErrNoRows {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("registry postgres store: meta: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id, device_name, paired_at, last_seen, active FROM devices ORDER BY position`)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("registry postgres store: query devices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var rec DeviceRecord
		if err := rows.Scan(&rec.DeviceID, &rec.Name, &rec.PairedAt, &rec.LastSeen, &rec.Active); err != nil {
			return Snapshot{}, false, fmt.Errorf("registry postgres store: scan: %w", err)
		}
		snap.Devices = append(snap.Devices, rec)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, false, fmt.Errorf("registry postgres store: rows: %w", err)
	}
	return snap, true, nil
}
