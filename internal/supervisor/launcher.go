package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/gridkit/grid/internal/env"
	"github.com/gridkit/grid/internal/logger"
	"github.com/gridkit/grid/internal/metrics"
	"github.com/gridkit/grid/internal/probe"
	"github.com/gridkit/grid/internal/registry"
	"github.com/gridkit/grid/internal/service"
)

// launcher owns the spawn side of the lifecycle: duplicate detection,
// detached process creation, log capture, registry recording and the
// readiness wait.
type launcher struct {
	reg      registry.Registry
	env      *env.Env
	log      logger.Config
	resident bool
}

// start spawns the service detached from this process, records the
// handle, then waits for readiness. On a readiness timeout the process
// is left running and its handle stays in the starting state.
func (l *launcher) start(ctx context.Context, sp service.Spec) (service.Status, error) {
	name := sp.Name

	ready, err := sp.ReadyProbe()
	if err != nil {
		return service.Status{}, fmt.Errorf("start %s: %w", name, err)
	}

	// Refuse to stack a second process on a live handle. A handle whose
	// process is gone, or whose pid now belongs to a different process,
	// is stale and gets replaced.
	rec, ok, err := l.reg.Lookup(ctx, name)
	if err != nil {
		return service.Status{}, err
	}
	if ok && rec.Live() {
		if processAlive(rec) {
			return service.Status{}, fmt.Errorf("start %s (pid %d): %w", name, rec.PID, registry.ErrDuplicateService)
		}
		if err := l.reg.SetState(ctx, name, service.StateStopped); err != nil {
			return service.Status{}, err
		}
	}

	cmd := sp.BuildCommand()
	if sp.WorkDir != "" {
		cmd.Dir = sp.WorkDir
	}
	if merged := l.env.Merge(sp.Env); len(merged) > 0 {
		cmd.Env = merged
	}
	service.Detach(cmd)

	logCfg := l.log.Merge(sp.Log)
	closers, err := l.attachOutputs(cmd, logCfg, name)
	if err != nil {
		return service.Status{}, fmt.Errorf("open logs for %s: %w", name, err)
	}

	if err := cmd.Start(); err != nil {
		closeAll(closers)
		metrics.IncStartFailure(name)
		return service.Status{}, fmt.Errorf("spawn %s: %w", name, err)
	}

	pid := cmd.Process.Pid
	startedAt := time.Now().UTC()
	newRec := registry.Record{
		Name:      name,
		PID:       pid,
		StartUnix: probe.StartUnix(pid),
		StartedAt: startedAt,
		State:     service.StateStarting,
		LogPath:   logCfg.StdoutFile(name),
	}
	if err := l.reg.Record(ctx, newRec); err != nil {
		// Lost the record race to a concurrent starter; tear down the
		// process we just spawned so only one survives.
		_ = service.Kill(pid)
		go reap(cmd, closers)
		metrics.IncStartFailure(name)
		return service.Status{}, fmt.Errorf("record %s: %w", name, err)
	}
	markState(name, service.StateStarting)

	// Reap the child if it exits while this process is still around, and
	// release the log writers once it does.
	go reap(cmd, closers)

	st := service.Status{
		Name:      name,
		State:     service.StateStarting,
		PID:       pid,
		StartedAt: startedAt,
		LogPath:   newRec.LogPath,
	}
	return l.awaitReady(ctx, sp, ready, st)
}

// awaitReady polls the readiness probe until it passes, the process
// dies, or the start timeout elapses. Without a probe the service counts
// as running as soon as the spawned process survives the first check.
func (l *launcher) awaitReady(ctx context.Context, sp service.Spec, ready probe.Probe, st service.Status) (service.Status, error) {
	name := sp.Name
	began := time.Now()

	if ready == nil {
		if !probe.Alive(st.PID) {
			_ = l.reg.SetState(ctx, name, service.StateStopped)
			markState(name, service.StateStopped)
			metrics.IncStartFailure(name)
			return st, fmt.Errorf("start %s: process %d exited immediately", name, st.PID)
		}
		return l.markRunning(ctx, name, began, st)
	}

	interval := sp.ReadyInterval
	if interval <= 0 {
		interval = service.DefaultReadyInterval
	}
	timeout := sp.EffectiveStartTimeout()
	deadline := began.Add(timeout)
	var lastErr error
	for {
		if !probe.Alive(st.PID) {
			_ = l.reg.SetState(ctx, name, service.StateStopped)
			markState(name, service.StateStopped)
			metrics.IncStartFailure(name)
			if lastErr != nil {
				return st, fmt.Errorf("start %s: process %d exited before becoming ready (last probe error: %v)", name, st.PID, lastErr)
			}
			return st, fmt.Errorf("start %s: process %d exited before becoming ready", name, st.PID)
		}
		ok, err := ready.Ready()
		if ok {
			return l.markRunning(ctx, name, began, st)
		}
		if err != nil {
			lastErr = err
		}
		if time.Now().After(deadline) {
			metrics.IncStartFailure(name)
			return st, &service.StartupTimeoutError{Service: name, Timeout: timeout}
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (l *launcher) markRunning(ctx context.Context, name string, began time.Time, st service.Status) (service.Status, error) {
	if err := l.reg.SetState(ctx, name, service.StateRunning); err != nil {
		return st, err
	}
	st.State = service.StateRunning
	markState(name, service.StateRunning)
	metrics.IncStart(name)
	metrics.ObserveReadyWait(name, time.Since(began).Seconds())
	metrics.SetUp(name, true)
	return st, nil
}

// attachOutputs wires the child's stdout/stderr. A resident supervisor
// stays alive to pump pipes, so it can use rotating writers. A one-shot
// invocation exits right after the start, so the child gets plain
// append-mode files that keep working without a parent.
func (l *launcher) attachOutputs(cmd *exec.Cmd, cfg logger.Config, name string) ([]io.Closer, error) {
	outPath, errPath := cfg.StdoutFile(name), cfg.StderrFile(name)
	if outPath == "" && errPath == "" {
		null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		if err != nil {
			return nil, err
		}
		cmd.Stdout = null
		cmd.Stderr = null
		return []io.Closer{null}, nil
	}

	if l.resident {
		outW, errW, err := cfg.Writers(name)
		if err != nil {
			return nil, err
		}
		var cs []io.Closer
		if outW != nil {
			cmd.Stdout = outW
			cs = append(cs, outW)
		}
		if errW != nil {
			cmd.Stderr = errW
			cs = append(cs, errW)
		}
		return cs, nil
	}

	var cs []io.Closer
	if outPath != "" {
		f, err := openAppend(outPath)
		if err != nil {
			return nil, err
		}
		cmd.Stdout = f
		cs = append(cs, f)
	}
	if errPath != "" {
		f, err := openAppend(errPath)
		if err != nil {
			closeAll(cs)
			return nil, err
		}
		cmd.Stderr = f
		cs = append(cs, f)
	}
	return cs, nil
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
}

func reap(cmd *exec.Cmd, closers []io.Closer) {
	_ = cmd.Wait()
	closeAll(closers)
}

func closeAll(cs []io.Closer) {
	for _, c := range cs {
		_ = c.Close()
	}
}
