package factory

import (
	"path/filepath"
	"testing"

	pg "github.com/gridkit/grid/internal/registry/postgres"
	sq "github.com/gridkit/grid/internal/registry/sqlite"
)

// Backend selection must not touch the network: database/sql opens
// lazily, so dispatch is checkable without a server.
func TestNewFromDSNSelectsBackend(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name     string
		dsn      string
		postgres bool
	}{
		{"Postgres URL", "postgres://user:pw@localhost:5432/grid", true},
		{"Postgresql URL", "postgresql://user:pw@localhost:5432/grid", true},
		{"Sqlite scheme", "sqlite://" + filepath.Join(dir, "a.db"), false},
		{"Bare path", filepath.Join(dir, "b.db"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := NewFromDSN(tt.dsn)
			if err != nil {
				t.Fatalf("unexpected error for DSN %q: %v", tt.dsn, err)
			}
			defer func() { _ = reg.Close() }()
			if _, ok := reg.(*pg.DB); ok != tt.postgres {
				t.Errorf("DSN %q: postgres backend = %v, want %v", tt.dsn, ok, tt.postgres)
			}
			if !tt.postgres {
				if _, ok := reg.(*sq.DB); !ok {
					t.Errorf("DSN %q: expected sqlite backend, got %T", tt.dsn, reg)
				}
			}
		})
	}
}

func TestNewFromDSNRejectsEmpty(t *testing.T) {
	for _, dsn := range []string{"", "   "} {
		if _, err := NewFromDSN(dsn); err == nil {
			t.Errorf("expected error for DSN %q, got nil", dsn)
		}
	}
}
