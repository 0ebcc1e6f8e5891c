// Package registry persists the supervisor's knowledge of running
// services so that a later invocation of the tool can find and stop
// processes started by an earlier one.
package registry

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateService is returned by Record when a live handle already
// exists for the service name. It prevents losing track of an
// already-running process by starting a second one on top of it.
var ErrDuplicateService = errors.New("service already running")

// Record is the durable handle for one service. There is at most one row
// per name; dead rows stay until removed after a confirmed exit or
// replaced by the next start.
type Record struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	StartUnix int64     `json:"start_unix"` // kernel start time, guards against pid reuse
	StartedAt time.Time `json:"started_at"` // launch wall clock
	State     string    `json:"state"`      // starting, running, stopping or stopped
	LogPath   string    `json:"log_path"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Live reports whether the record claims an owned OS process. Whether
// that process actually exists is the caller's job to verify.
func (r Record) Live() bool {
	switch r.State {
	case "starting", "running", "stopping":
		return true
	}
	return false
}

// Registry is the durable name to handle mapping. Implementations must
// enforce at most one row per name and reject Record for a live row.
// Callers serialize operations per name; implementations only need to be
// safe for concurrent use across different names.
type Registry interface {
	EnsureSchema(ctx context.Context) error
	// Record inserts or replaces the row for rec.Name. It fails with
	// ErrDuplicateService when the existing row is still live.
	Record(ctx context.Context, rec Record) error
	Lookup(ctx context.Context, name string) (Record, bool, error)
	// SetState transitions the named row and touches updated_at. Missing
	// rows are ignored.
	SetState(ctx context.Context, name, state string) error
	// Remove deletes the named row. Removing an absent row is not an error.
	Remove(ctx context.Context, name string) error
	// List returns all rows ordered by name.
	List(ctx context.Context) ([]Record, error)
	Close() error
}
