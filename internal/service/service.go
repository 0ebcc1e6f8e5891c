package service

import "time"

// Lifecycle states for a managed service. The registry persists only the
// live-side states (starting/running/stopping/stopped); uninstalled and
// installed are derived from the deploy area when no live record exists.
const (
	StateUninstalled = "uninstalled"
	StateInstalled   = "installed"
	StateStarting    = "starting"
	StateRunning     = "running"
	StateStopping    = "stopping"
	StateStopped     = "stopped"
)

// Default bounds applied when a Spec leaves them zero.
const (
	DefaultStartTimeout  = 10 * time.Second
	DefaultStopTimeout   = 5 * time.Second
	DefaultReadyInterval = 100 * time.Millisecond
)

// Status is the externally visible view of one service at a point in time.
// Liveness is re-checked against the OS when a Status is produced, so a
// stale registry row never surfaces as running.
type Status struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at"`
	LogPath   string    `json:"log_path,omitempty"`
}

// Running reports whether the status represents a live process.
func (s Status) Running() bool {
	return s.State == StateStarting || s.State == StateRunning || s.State == StateStopping
}
