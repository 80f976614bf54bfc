package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the registry in an embedded SQLite database.
// Each Save replaces the table contents inside one transaction, giving
// the same all-or-nothing guarantee as the atomic file rename.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the registry database and runs the
// schema migration.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("registry sqlite store: open: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStoreFromDB wraps an existing database handle.
func NewSQLiteStoreFromDB(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
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
		paired_at TEXT NOT NULL,
		last_seen TEXT NOT NULL,
		active INTEGER NOT NULL
	);`
	if _, err := s.db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("registry sqlite store: migrate: %w", err)
	}
	return nil
}

// Save replaces the stored snapshot in a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry sqlite store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM devices`); err != nil {
		return fmt.Errorf("registry sqlite store: clear: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO registry_meta (id, max_devices, device_count) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET max_devices = excluded.max_devices, device_count = excluded.device_count`,
		snap.MaxDevices, snap.DeviceCount); err != nil {
		return fmt.Errorf("registry sqlite store: meta: %w", err)
	}
	for i, rec := range snap.Devices {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO devices (position, device_id, device_name, paired_at, last_seen, active)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			i, rec.DeviceID, rec.Name,
			rec.PairedAt.UTC().Format(time.RFC3339Nano),
			rec.LastSeen.UTC().Format(time.RFC3339Nano),
			boolToInt(rec.Active)); err != nil {
			return fmt.Errorf("registry sqlite store: insert %s: %w", rec.DeviceID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("registry sqlite store: commit: %w", err)
	}
	return nil
}

// Load reads the stored snapshot; ok is false when the store is empty.
func (s *SQLiteStore) Load(ctx context.Context) (Snapshot, bool, error) {
	var snap Snapshot
	err := s.db.QueryRowContext(ctx,
		`SELECT max_devices, device_count FROM registry_meta WHERE id = 1`).
		Scan(&snap.MaxDevices, &snap.DeviceCount)
	if err == sql.ErrNoRows {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("registry sqlite store: meta: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id, device_name, paired_at, last_seen, active FROM devices ORDER BY position`)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("registry sqlite store: query devices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var rec DeviceRecord
		var pairedAt, lastSeen string
		var active int
		if err := rows.Scan(&rec.DeviceID, &rec.Name, &pairedAt, &lastSeen, &active); err != nil {
			return Snapshot{}, false, fmt.Errorf("registry sqlite store: scan: %w", err)
		}
		if rec.PairedAt, err = time.Parse(time.RFC3339Nano, pairedAt); err != nil {
			return Snapshot{}, false, fmt.Errorf("registry sqlite store: paired_at: %w", err)
		}
		if rec.LastSeen, err = time.Parse(time.RFC3339Nano, lastSeen); err != nil {
			return Snapshot{}, false, fmt.Errorf("registry sqlite store: last_seen: %w", err)
		}
		rec.Active = active != 0
		snap.Devices = append(snap.Devices, rec)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, false, fmt.Errorf("registry sqlite store: rows: %w", err)
	}
	return snap, true, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
