// Package sqlite backs the registry with a local SQLite file using the
// CGO-free modernc.org driver. This is the default backend: a dev-grid
// supervisor should not need a database server to remember its pids.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gridkit/grid/internal/registry"
)

type DB struct {
	db *sql.DB
}

// New opens (creating if needed) the SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS service_state(
			name TEXT PRIMARY KEY,
			pid INTEGER NOT NULL,
			start_unix INTEGER NOT NULL,
			started_at TIMESTAMP NOT NULL,
			state TEXT NOT NULL,
			log_path TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_service_state_state ON service_state(state);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Record(ctx context.Context, rec registry.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var state string
	err = tx.QueryRowContext(ctx, `SELECT state FROM service_state WHERE name=?;`, rec.Name).Scan(&state)
	switch {
	case err == nil:
		if (registry.Record{State: state}).Live() {
			return registry.ErrDuplicateService
		}
	case errors.Is(err, sql.ErrNoRows):
		// first record for this name
	default:
		return err
	}

	rec.UpdatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO service_state(name, pid, start_unix, started_at, state, log_path, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			pid=excluded.pid,
			start_unix=excluded.start_unix,
			started_at=excluded.started_at,
			state=excluded.state,
			log_path=excluded.log_path,
			updated_at=excluded.updated_at;`,
		rec.Name, rec.PID, rec.StartUnix, rec.StartedAt.UTC(), rec.State, rec.LogPath, rec.UpdatedAt)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *DB) Lookup(ctx context.Context, name string) (registry.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, pid, start_unix, started_at, state, log_path, updated_at
		FROM service_state WHERE name=?;`, name)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Record{}, false, nil
	}
	if err != nil {
		return registry.Record{}, false, err
	}
	return rec, true, nil
}

func (s *DB) SetState(ctx context.Context, name, state string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE service_state SET state=?, updated_at=? WHERE name=?;`,
		state, time.Now().UTC(), name)
	return err
}

func (s *DB) Remove(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM service_state WHERE name=?;`, name)
	return err
}

func (s *DB) List(ctx context.Context) ([]registry.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, pid, start_unix, started_at, state, log_path, updated_at
		FROM service_state ORDER BY name;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]registry.Record, 0)
	for rows.Next() {
		var r registry.Record
		if err := rows.Scan(&r.Name, &r.PID, &r.StartUnix, &r.StartedAt, &r.State, &r.LogPath, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (registry.Record, error) {
	var r registry.Record
	err := row.Scan(&r.Name, &r.PID, &r.StartUnix, &r.StartedAt, &r.State, &r.LogPath, &r.UpdatedAt)
	return r, err
}
