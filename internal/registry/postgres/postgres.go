// Package postgres backs the registry with PostgreSQL via the pgx stdlib
// driver, for setups where several tools share one state database.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/gridkit/grid/internal/registry"
)

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS service_state(
			name TEXT PRIMARY KEY,
			pid INTEGER NOT NULL,
			start_unix BIGINT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			state TEXT NOT NULL,
			log_path TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_service_state_state ON service_state(state);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Record(ctx context.Context, rec registry.Record) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var state string
	err = tx.QueryRowContext(ctx,
		`SELECT state FROM service_state WHERE name=$1 FOR UPDATE;`, rec.Name).Scan(&state)
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
		VALUES($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT(name) DO UPDATE SET
			pid=EXCLUDED.pid,
			start_unix=EXCLUDED.start_unix,
			started_at=EXCLUDED.started_at,
			state=EXCLUDED.state,
			log_path=EXCLUDED.log_path,
			updated_at=EXCLUDED.updated_at;`,
		rec.Name, rec.PID, rec.StartUnix, rec.StartedAt.UTC(), rec.State, rec.LogPath, rec.UpdatedAt)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (p *DB) Lookup(ctx context.Context, name string) (registry.Record, bool, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT name, pid, start_unix, started_at, state, log_path, updated_at
		FROM service_state WHERE name=$1;`, name)
	var r registry.Record
	err := row.Scan(&r.Name, &r.PID, &r.StartUnix, &r.StartedAt, &r.State, &r.LogPath, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Record{}, false, nil
	}
	if err != nil {
		return registry.Record{}, false, err
	}
	return r, true, nil
}

func (p *DB) SetState(ctx context.Context, name, state string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE service_state SET state=$1, updated_at=$2 WHERE name=$3;`,
		state, time.Now().UTC(), name)
	return err
}

func (p *DB) Remove(ctx context.Context, name string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM service_state WHERE name=$1;`, name)
	return err
}

func (p *DB) List(ctx context.Context) ([]registry.Record, error) {
	rows, err := p.db.QueryContext(ctx, `
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
