package client

import "time"

// Status is the wire form of one service's state as reported by the API.
type Status struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at"`
	LogPath   string    `json:"log_path,omitempty"`
}

// Running reports whether the status represents a live process.
func (s Status) Running() bool {
	return s.State == "starting" || s.State == "running" || s.State == "stopping"
}

// StopOutcome is the wire form of a single-service stop response.
// Result is one of "stopped", "timed_out" or "not_running".
type StopOutcome struct {
	Name   string `json:"name"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Failure names one service that failed inside a batch operation.
type Failure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}
