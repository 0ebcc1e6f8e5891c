package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gridkit/grid/internal/env"
	"github.com/gridkit/grid/internal/history"
	"github.com/gridkit/grid/internal/installer"
	"github.com/gridkit/grid/internal/logger"
	"github.com/gridkit/grid/internal/metrics"
	"github.com/gridkit/grid/internal/registry"
	"github.com/gridkit/grid/internal/service"
)

// Config wires a Supervisor. Registry is mandatory; everything else has
// a working zero value.
type Config struct {
	Registry  registry.Registry
	Specs     []service.Spec
	Env       *env.Env
	Log       logger.Config
	Installer installer.Installer
	History   *history.Fanout
	DeployDir string
	// Resident marks a long-lived supervisor (serve mode) that can own
	// rotating log writers for its children.
	Resident bool
}

// Supervisor is the facade over the declared service set. All lifecycle
// operations go through it; it serializes work per service name and
// keeps the registry, metrics and history sinks consistent.
type Supervisor struct {
	reg       registry.Registry
	specs     map[string]service.Spec
	order     []string
	inst      installer.Installer
	hist      *history.Fanout
	deployDir string
	l         *launcher
	t         *terminator

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New validates the declared services and builds a Supervisor. Service
// names must be unique; the order of batch operations is priority
// ascending, then name, regardless of declaration order.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Registry == nil {
		return nil, errors.New("supervisor: registry is required")
	}
	specs := make(map[string]service.Spec, len(cfg.Specs))
	for _, sp := range cfg.Specs {
		if err := sp.Validate(); err != nil {
			return nil, fmt.Errorf("service %q: %w", sp.Name, err)
		}
		if _, dup := specs[sp.Name]; dup {
			return nil, fmt.Errorf("service %q: duplicate definition", sp.Name)
		}
		specs[sp.Name] = sp
	}
	order := make([]string, 0, len(specs))
	for name := range specs {
		order = append(order, name)
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := specs[order[i]], specs[order[j]]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.Name < b.Name
	})

	ev := cfg.Env
	if ev == nil {
		ev = env.New()
	}
	s := &Supervisor{
		reg:       cfg.Registry,
		specs:     specs,
		order:     order,
		inst:      cfg.Installer,
		hist:      cfg.History,
		deployDir: cfg.DeployDir,
		locks:     make(map[string]*sync.Mutex),
	}
	s.l = &launcher{reg: cfg.Registry, env: ev, log: cfg.Log, resident: cfg.Resident}
	s.t = &terminator{reg: cfg.Registry}
	return s, nil
}

// Names returns the service names in operation order.
func (s *Supervisor) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Specs returns copies of the declared specs in operation order.
func (s *Supervisor) Specs() []service.Spec {
	out := make([]service.Spec, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.specs[name])
	}
	return out
}

func (s *Supervisor) spec(name string) (service.Spec, error) {
	sp, ok := s.specs[name]
	if !ok {
		return service.Spec{}, fmt.Errorf("%q: %w", name, service.ErrUnknownService)
	}
	return sp, nil
}

func (s *Supervisor) lockFor(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lk, ok := s.locks[name]
	if !ok {
		lk = &sync.Mutex{}
		s.locks[name] = lk
	}
	return lk
}

// InstallOne materializes the named service into the deploy area.
// Services without an install block are trivially installed.
func (s *Supervisor) InstallOne(ctx context.Context, name string) error {
	sp, err := s.spec(name)
	if err != nil {
		return err
	}
	lk := s.lockFor(name)
	lk.Lock()
	defer lk.Unlock()
	return s.installLocked(ctx, sp)
}

func (s *Supervisor) installLocked(ctx context.Context, sp service.Spec) error {
	if sp.Install == nil {
		return nil
	}
	if s.inst == nil {
		return fmt.Errorf("install %s: no installer configured", sp.Name)
	}
	slog.Info("installing service", "service", sp.Name, "url", sp.Install.URL)
	if err := s.inst.Install(ctx, sp.Name, *sp.Install); err != nil {
		metrics.IncInstallFailure(sp.Name)
		ierr := &service.InstallError{Service: sp.Name, Err: err}
		var step *installer.Error
		if errors.As(err, &step) {
			ierr.Step = step.Step
		}
		return ierr
	}
	metrics.IncInstall(sp.Name)
	markState(sp.Name, service.StateInstalled)
	s.hist.Send(ctx, history.Event{Type: history.EventInstall, Service: sp.Name})
	return nil
}

// StartOne launches the named service and waits for it to become ready.
func (s *Supervisor) StartOne(ctx context.Context, name string) (service.Status, error) {
	sp, err := s.spec(name)
	if err != nil {
		return service.Status{}, err
	}
	lk := s.lockFor(name)
	lk.Lock()
	defer lk.Unlock()
	return s.startLocked(ctx, sp)
}

func (s *Supervisor) startLocked(ctx context.Context, sp service.Spec) (service.Status, error) {
	if sp.Install != nil && s.inst != nil && !s.inst.Installed(sp.Name) {
		return service.Status{}, fmt.Errorf("start %s: %w", sp.Name, service.ErrNotInstalled)
	}
	st, err := s.l.start(ctx, sp)
	if err != nil {
		return st, err
	}
	slog.Info("service running", "service", sp.Name, "pid", st.PID)
	s.hist.Send(ctx, history.Event{Type: history.EventStart, Service: sp.Name, PID: st.PID})
	return st, nil
}

// StopOne takes the named service down, escalating from the graceful
// signal to a kill when needed. Stopping a service that is not running
// succeeds with StopNotRunning.
func (s *Supervisor) StopOne(ctx context.Context, name string) (StopResult, error) {
	sp, err := s.spec(name)
	if err != nil {
		return StopNotRunning, err
	}
	lk := s.lockFor(name)
	lk.Lock()
	defer lk.Unlock()
	return s.stopLocked(ctx, sp)
}

func (s *Supervisor) stopLocked(ctx context.Context, sp service.Spec) (StopResult, error) {
	res, err := s.t.stop(ctx, sp.Name, sp.EffectiveStopTimeout())
	switch {
	case err == nil && res == StopStopped:
		slog.Info("service stopped", "service", sp.Name)
		s.hist.Send(ctx, history.Event{Type: history.EventStop, Service: sp.Name})
	case res == StopTimedOut && err != nil:
		s.hist.Send(ctx, history.Event{Type: history.EventStopTimeout, Service: sp.Name, Detail: err.Error()})
	}
	return res, err
}

// StatusOne reports the current state of the named service. It is a pure
// read: liveness is checked against the OS, but nothing is mutated, so
// status stays safe to call concurrently with anything.
func (s *Supervisor) StatusOne(ctx context.Context, name string) (service.Status, error) {
	sp, err := s.spec(name)
	if err != nil {
		return service.Status{}, err
	}
	return s.statusFor(ctx, sp)
}

func (s *Supervisor) statusFor(ctx context.Context, sp service.Spec) (service.Status, error) {
	rec, ok, err := s.reg.Lookup(ctx, sp.Name)
	if err != nil {
		return service.Status{}, err
	}
	if ok && rec.Live() && processAlive(rec) {
		return service.Status{
			Name:      sp.Name,
			State:     rec.State,
			PID:       rec.PID,
			StartedAt: rec.StartedAt,
			LogPath:   rec.LogPath,
		}, nil
	}
	st := service.Status{Name: sp.Name, State: service.StateInstalled}
	if sp.Install != nil && s.inst != nil && !s.inst.Installed(sp.Name) {
		st.State = service.StateUninstalled
	}
	return st, nil
}

// InstallAll installs every declared service in order, attempting all of
// them even when some fail.
func (s *Supervisor) InstallAll(ctx context.Context) *Batch {
	b := &Batch{}
	for _, name := range s.Names() {
		b.add(name, s.InstallOne(ctx, name))
	}
	return b
}

// StartAll starts every declared service in order.
func (s *Supervisor) StartAll(ctx context.Context) *Batch {
	b := &Batch{}
	for _, name := range s.Names() {
		_, err := s.StartOne(ctx, name)
		b.add(name, err)
	}
	return b
}

// StopAll stops every declared service in reverse order, so dependents
// declared later go down before what they depend on.
func (s *Supervisor) StopAll(ctx context.Context) *Batch {
	b := &Batch{}
	names := s.Names()
	for i := len(names) - 1; i >= 0; i-- {
		_, err := s.StopOne(ctx, names[i])
		b.add(names[i], err)
	}
	return b
}

// StatusAll reports every declared service in order.
func (s *Supervisor) StatusAll(ctx context.Context) ([]service.Status, error) {
	out := make([]service.Status, 0, len(s.order))
	for _, name := range s.Names() {
		st, err := s.StatusOne(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// ReconcileAll persists the death of any recorded process that no longer
// exists. The resident supervisor runs this on a timer; one-shot
// invocations observe liveness per call instead and do not need it.
func (s *Supervisor) ReconcileAll(ctx context.Context) error {
	recs, err := s.reg.List(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if !rec.Live() || processAlive(rec) {
			continue
		}
		if err := s.reconcileDead(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Supervisor) reconcileDead(ctx context.Context, rec registry.Record) error {
	lk := s.lockFor(rec.Name)
	lk.Lock()
	defer lk.Unlock()

	// Re-check under the lock; a concurrent start may have replaced the
	// row with a fresh live process.
	cur, ok, err := s.reg.Lookup(ctx, rec.Name)
	if err != nil {
		return err
	}
	if !ok || !cur.Live() || cur.PID != rec.PID || processAlive(cur) {
		return nil
	}
	if err := s.reg.SetState(ctx, rec.Name, service.StateStopped); err != nil {
		return err
	}
	markState(rec.Name, service.StateStopped)
	metrics.SetUp(rec.Name, false)
	slog.Warn("service lost", "service", rec.Name, "pid", rec.PID)
	s.hist.Send(ctx, history.Event{Type: history.EventLost, Service: rec.Name, PID: rec.PID})
	return nil
}

// LivePIDs returns the pid of every service whose recorded process is
// verified alive. It feeds the resource sampler.
func (s *Supervisor) LivePIDs(ctx context.Context) map[string]int {
	out := make(map[string]int)
	recs, err := s.reg.List(ctx)
	if err != nil {
		slog.Debug("live pid listing failed", "err", err)
		return out
	}
	for _, rec := range recs {
		if rec.Live() && processAlive(rec) {
			out[rec.Name] = rec.PID
		}
	}
	return out
}

// Bootstrap rebuilds the whole grid from scratch: stop everything, wipe
// the deploy area, install everything, start everything. It aborts on
// the first failing phase so a half-stopped grid is never wiped.
func (s *Supervisor) Bootstrap(ctx context.Context) error {
	slog.Info("bootstrap: stopping services")
	if b := s.StopAll(ctx); b.Err() != nil {
		return fmt.Errorf("bootstrap stop: %w", b.Err())
	}
	slog.Info("bootstrap: wiping deploy area", "dir", s.deployDir)
	if err := s.wipeDeploy(); err != nil {
		return fmt.Errorf("bootstrap wipe: %w", err)
	}
	slog.Info("bootstrap: installing services")
	if b := s.InstallAll(ctx); b.Err() != nil {
		return fmt.Errorf("bootstrap install: %w", b.Err())
	}
	slog.Info("bootstrap: starting services")
	if b := s.StartAll(ctx); b.Err() != nil {
		return fmt.Errorf("bootstrap start: %w", b.Err())
	}
	return nil
}

// wipeDeploy clears the deploy area, keeping the download cache so the
// following install can reuse already verified archives.
func (s *Supervisor) wipeDeploy() error {
	dir := s.deployDir
	if dir == "" {
		return nil
	}
	if err := guardWipe(dir); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == "downloads" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// guardWipe refuses deploy dirs whose recursive removal would be a
// catastrophe. Bootstrap is the only caller that deletes recursively.
func guardWipe(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	clean := filepath.Clean(abs)
	if clean == string(filepath.Separator) {
		return fmt.Errorf("refusing to wipe %s", clean)
	}
	if home, err := os.UserHomeDir(); err == nil && clean == filepath.Clean(home) {
		return fmt.Errorf("refusing to wipe home directory %s", clean)
	}
	return nil
}

// markState mirrors a service's lifecycle state into the state gauge so
// each service exposes exactly one active state.
func markState(name, state string) {
	for _, st := range []string{
		service.StateUninstalled,
		service.StateInstalled,
		service.StateStarting,
		service.StateRunning,
		service.StateStopping,
		service.StateStopped,
	} {
		metrics.SetState(name, st, st == state)
	}
}
