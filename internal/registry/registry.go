// Package registry persists the set of paired devices in a local SQLite
// database so the daemon can restore them on startup.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("registry: device not found")

// PairedDevice is one appliance the user has paired with the bridge.
type PairedDevice struct {
	ID       string
	MAC      string
	TenantID int
	Model    string
	Name     string
	PairedAt time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS devices (
	id        TEXT PRIMARY KEY,
	mac       TEXT NOT NULL,
	tenant_id INTEGER NOT NULL,
	model     TEXT NOT NULL,
	name      TEXT NOT NULL DEFAULT '',
	paired_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`

// Registry is a SQLite-backed device store.
type Registry struct {
	db *sql.DB
}

// Open opens or creates the registry database at path, creating parent
// directories as needed.
func Open(path string) (*Registry, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("registry: create directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("registry: connect: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("registry: apply schema: %w", err)
	}
	return &Registry{db: db}, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}

// Put inserts a device or replaces an existing pairing with the same id.
func (r *Registry) Put(ctx context.Context, d PairedDevice) error {
	if d.ID == "" || d.MAC == "" || d.Model == "" {
		return fmt.Errorf("registry: id, mac and model are required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (id, mac, tenant_id, model, name)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mac = excluded.mac,
			tenant_id = excluded.tenant_id,
			model = excluded.model,
			name = excluded.name
	`, d.ID, d.MAC, d.TenantID, d.Model, d.Name)
	if err != nil {
		return fmt.Errorf("registry: put %s: %w", d.ID, err)
	}
	return nil
}

// Get looks a device up by id.
func (r *Registry) Get(ctx context.Context, id string) (PairedDevice, error) {
	var d PairedDevice
	var pairedAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, mac, tenant_id, model, name, paired_at
		FROM devices WHERE id = ?
	`, id).Scan(&d.ID, &d.MAC, &d.TenantID, &d.Model, &d.Name, &pairedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PairedDevice{}, ErrNotFound
	}
	if err != nil {
		return PairedDevice{}, err
	}
	d.PairedAt, _ = time.Parse(time.DateTime, pairedAt)
	return d, nil
}

// List returns all paired devices ordered by id.
func (r *Registry) List(ctx context.Context) ([]PairedDevice, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, mac, tenant_id, model, name, paired_at
		FROM devices ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []PairedDevice
	for rows.Next() {
		var d PairedDevice
		var pairedAt string
		if err := rows.Scan(&d.ID, &d.MAC, &d.TenantID, &d.Model, &d.Name, &pairedAt); err != nil {
			return nil, err
		}
		d.PairedAt, _ = time.Parse(time.DateTime, pairedAt)
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// Delete removes a pairing.
func (r *Registry) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
