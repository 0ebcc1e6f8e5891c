// Package factory selects a registry backend from a DSN.
package factory

import (
	"errors"
	"strings"

	"github.com/gridkit/grid/internal/registry"
	pg "github.com/gridkit/grid/internal/registry/postgres"
	sq "github.com/gridkit/grid/internal/registry/sqlite"
)

// NewFromDSN selects a registry backend based on DSN.
// Supported:
//   - postgres: DSN starting with "postgres://" or "postgresql://"
//   - sqlite: "sqlite://<path>" or a bare filesystem path
func NewFromDSN(dsn string) (registry.Registry, error) {
	d := strings.TrimSpace(dsn)
	if d == "" {
		return nil, errors.New("empty registry DSN")
	}
	ld := strings.ToLower(d)
	switch {
	case strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://"):
		return pg.New(d)
	case strings.HasPrefix(ld, "sqlite://"):
		return sq.New(d[len("sqlite://"):])
	default:
		return sq.New(d)
	}
}
