package service

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownService is returned when a name matches no configured descriptor.
var ErrUnknownService = errors.New("unknown service")

// ErrNotInstalled is returned when start is attempted before install for a
// service whose descriptor declares an install step.
var ErrNotInstalled = errors.New("service not installed")

// StartupTimeoutError reports a readiness check that never passed within
// its bound. The launched process is left running and registered; the
// caller decides whether to stop it.
type StartupTimeoutError struct {
	Service string
	Timeout time.Duration
}

func (e *StartupTimeoutError) Error() string {
	return fmt.Sprintf("service %s: not ready after %s (process left running)", e.Service, e.Timeout)
}

// StopTimeoutError reports a process that survived the graceful signal and
// the forceful escalation. The registry entry is kept in stopping state.
type StopTimeoutError struct {
	Service string
	PID     int
	Timeout time.Duration
}

func (e *StopTimeoutError) Error() string {
	return fmt.Sprintf("service %s: pid %d still alive after %s and SIGKILL", e.Service, e.PID, e.Timeout)
}

// InstallError wraps an installer failure with the service name and the
// step that failed (download, verify, extract, configure).
type InstallError struct {
	Service string
	Step    string
	Err     error
}

func (e *InstallError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("install %s: %s: %v", e.Service, e.Step, e.Err)
	}
	return fmt.Sprintf("install %s: %v", e.Service, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }
