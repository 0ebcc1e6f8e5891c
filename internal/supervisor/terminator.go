package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/gridkit/grid/internal/metrics"
	"github.com/gridkit/grid/internal/probe"
	"github.com/gridkit/grid/internal/registry"
	"github.com/gridkit/grid/internal/service"
)

const (
	// pollInterval is how often liveness is re-checked while waiting for
	// a signaled process to die.
	pollInterval = 50 * time.Millisecond
	// killGrace bounds the wait after escalating to a forced kill.
	killGrace = 2 * time.Second
)

// terminator owns the teardown side of the lifecycle: graceful signal,
// escalation, and clearing the handle once the exit is confirmed.
type terminator struct {
	reg registry.Registry
}

// stop takes the named service down. A service with no live process is
// reported as StopNotRunning, never as an error, and any leftover handle
// is cleared. The handle of a live process is removed only after its
// exit has been confirmed; a process that survives both signals keeps
// its handle in the stopping state.
func (t *terminator) stop(ctx context.Context, name string, wait time.Duration) (StopResult, error) {
	if wait <= 0 {
		wait = service.DefaultStopTimeout
	}

	rec, ok, err := t.reg.Lookup(ctx, name)
	if err != nil {
		return StopNotRunning, err
	}
	if !ok {
		return StopNotRunning, nil
	}
	if !rec.Live() || !processAlive(rec) {
		// Already dead, possibly out of band. Reconcile the registry.
		if err := t.reg.Remove(ctx, name); err != nil {
			return StopNotRunning, err
		}
		markState(name, service.StateInstalled)
		metrics.SetUp(name, false)
		return StopNotRunning, nil
	}

	if err := t.reg.SetState(ctx, name, service.StateStopping); err != nil {
		return StopNotRunning, err
	}
	markState(name, service.StateStopping)

	pid := rec.PID
	if err := service.Terminate(pid); err != nil {
		slog.Debug("terminate signal failed", "service", name, "pid", pid, "err", err)
	}
	dead, err := waitDead(ctx, rec, wait)
	if err != nil {
		return StopTimedOut, err
	}
	if !dead {
		slog.Warn("service ignored graceful stop, killing", "service", name, "pid", pid, "waited", wait)
		if err := service.Kill(pid); err != nil {
			slog.Debug("kill signal failed", "service", name, "pid", pid, "err", err)
		}
		dead, err = waitDead(ctx, rec, killGrace)
		if err != nil {
			return StopTimedOut, err
		}
	}
	if !dead {
		metrics.IncStopTimeout(name)
		return StopTimedOut, &service.StopTimeoutError{Service: name, PID: pid, Timeout: wait}
	}

	if err := t.reg.Remove(ctx, name); err != nil {
		return StopStopped, err
	}
	markState(name, service.StateInstalled)
	metrics.IncStop(name)
	metrics.SetUp(name, false)
	return StopStopped, nil
}

// waitDead polls until the recorded process is gone or the window
// elapses. A context cancellation surfaces as an error so callers do not
// mistake an aborted wait for a survived process.
func waitDead(ctx context.Context, rec registry.Record, window time.Duration) (bool, error) {
	deadline := time.Now().Add(window)
	for {
		if !processAlive(rec) {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// processAlive reports whether the recorded process still exists and is
// still the same process, guarding against pid reuse.
func processAlive(rec registry.Record) bool {
	return probe.Alive(rec.PID) && probe.SameProcess(rec.PID, rec.StartUnix)
}
