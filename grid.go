package grid

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/gridkit/grid/internal/config"
	"github.com/gridkit/grid/internal/env"
	"github.com/gridkit/grid/internal/history"
	histfactory "github.com/gridkit/grid/internal/history/factory"
	"github.com/gridkit/grid/internal/installer"
	"github.com/gridkit/grid/internal/metrics"
	"github.com/gridkit/grid/internal/registry"
	regfactory "github.com/gridkit/grid/internal/registry/factory"
	iapi "github.com/gridkit/grid/internal/server"
	"github.com/gridkit/grid/internal/service"
	"github.com/gridkit/grid/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = service.Spec

type Status = service.Status

type Record = registry.Record

type Registry = registry.Registry

type Installer = installer.Installer

type HistorySink = history.Sink

type StopResult = supervisor.StopResult

type Batch = supervisor.Batch

type Outcome = supervisor.Outcome

// Stop outcomes.
const (
	StopStopped    = supervisor.StopStopped
	StopTimedOut   = supervisor.StopTimedOut
	StopNotRunning = supervisor.StopNotRunning
)

// Lifecycle states as reported by Status.
const (
	StateUninstalled = service.StateUninstalled
	StateInstalled   = service.StateInstalled
	StateStarting    = service.StateStarting
	StateRunning     = service.StateRunning
	StateStopping    = service.StateStopping
	StateStopped     = service.StateStopped
)

// Error taxonomy.
var (
	ErrDuplicateService = registry.ErrDuplicateService
	ErrUnknownService   = service.ErrUnknownService
	ErrNotInstalled     = service.ErrNotInstalled
)

type StartupTimeoutError = service.StartupTimeoutError

type StopTimeoutError = service.StopTimeoutError

type InstallError = service.InstallError

// NewRegistry opens a registry from a DSN ("postgres://...", "sqlite://path"
// or a bare sqlite path) and ensures its schema. The caller owns Close.
func NewRegistry(dsn string) (Registry, error) {
	reg, err := regfactory.NewFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	if err := reg.EnsureSchema(context.Background()); err != nil {
		_ = reg.Close()
		return nil, err
	}
	return reg, nil
}

// NewHistorySink builds a lifecycle-event sink from a DSN
// ("clickhouse://host:9000" or "opensearch://host:9200").
func NewHistorySink(dsn string) (HistorySink, error) {
	return histfactory.NewSinkFromDSN(dsn)
}

// Supervisor is a thin facade over internal/supervisor.Supervisor.
// It provides a stable public API for embedding.
type Supervisor struct {
	inner *supervisor.Supervisor
	reg   Registry // owned when built by Load; closed by Close
}

// Options configures an embedded Supervisor. Registry is required; the
// rest has working defaults (OS environment, archive installer under
// DeployDir when set).
type Options struct {
	Registry  Registry
	Services  []Spec
	DeployDir string
	Installer Installer     // overrides the default archive installer
	History   []HistorySink // lifecycle event sinks
	Resident  bool          // long-lived owner that can hold rotating log writers
}

// New builds a Supervisor for embedding. The caller keeps ownership of
// the registry.
func New(o Options) (*Supervisor, error) {
	inst := o.Installer
	if inst == nil && o.DeployDir != "" {
		inst = installer.NewArchive(o.DeployDir)
	}
	ev := env.New()
	ev.FromOS()
	inner, err := supervisor.New(supervisor.Config{
		Registry:  o.Registry,
		Specs:     o.Services,
		Env:       ev,
		Installer: inst,
		History:   history.NewFanout(o.History...),
		DeployDir: o.DeployDir,
		Resident:  o.Resident,
	})
	if err != nil {
		return nil, err
	}
	return &Supervisor{inner: inner}, nil
}

// LoadConfig reads and validates a grid TOML file.
func LoadConfig(path string) (*cfg.Config, error) {
	return cfg.Load(path)
}

// LoadServices parses only the service descriptors from a grid TOML file.
func LoadServices(path string) ([]Spec, error) {
	return cfg.LoadServices(path)
}

// Load reads a grid TOML file and builds a ready-to-use Supervisor:
// registry from the state DSN, archive installer under the deploy dir
// and any configured history sinks. Close releases the registry.
func Load(path string) (*Supervisor, error) {
	return load(path, false)
}

// LoadResident is Load for a long-lived daemon. The supervisor owns
// rotating writers for captured service output instead of reopening
// the log files per operation.
func LoadResident(path string) (*Supervisor, error) {
	return load(path, true)
}

func load(path string, resident bool) (*Supervisor, error) {
	c, err := cfg.Load(path)
	if err != nil {
		return nil, err
	}
	reg, err := regfactory.NewFromDSN(resolveStateDSN(path, c.StateDSN))
	if err != nil {
		return nil, err
	}
	if err := reg.EnsureSchema(context.Background()); err != nil {
		_ = reg.Close()
		return nil, err
	}
	var sinks []HistorySink
	for _, dsn := range c.HistoryDSNs {
		sink, err := histfactory.NewSinkFromDSN(dsn)
		if err != nil {
			_ = reg.Close()
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	// Relative deploy dirs anchor at the config file, like the state DSN.
	deploy := c.DeployDir
	if deploy != "" && !filepath.IsAbs(deploy) {
		deploy = filepath.Join(filepath.Dir(path), deploy)
	}
	var inst Installer
	if deploy != "" {
		inst = installer.NewArchive(deploy)
	}
	inner, err := supervisor.New(supervisor.Config{
		Registry:  reg,
		Specs:     c.Services,
		Env:       c.Env,
		Log:       c.Log,
		Installer: inst,
		History:   history.NewFanout(sinks...),
		DeployDir: deploy,
		Resident:  resident,
	})
	if err != nil {
		_ = reg.Close()
		return nil, err
	}
	return &Supervisor{inner: inner, reg: reg}, nil
}

// resolveStateDSN defaults the state DSN and anchors relative sqlite
// paths at the config file's directory, so every CLI invocation finds
// the same registry no matter where it is run from.
func resolveStateDSN(configPath, dsn string) string {
	d := strings.TrimSpace(dsn)
	if d == "" {
		d = "grid.db"
	}
	ld := strings.ToLower(d)
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return d
	}
	p := d
	if strings.HasPrefix(ld, "sqlite://") {
		p = d[len("sqlite://"):]
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(filepath.Dir(configPath), p)
	}
	return p
}

// Close releases resources owned by the Supervisor (currently the
// registry opened by Load). Supervisors built with New own nothing.
func (s *Supervisor) Close() error {
	if s.reg != nil {
		return s.reg.Close()
	}
	return nil
}

func (s *Supervisor) Names() []string { return s.inner.Names() }

func (s *Supervisor) Install(ctx context.Context, name string) error {
	return s.inner.InstallOne(ctx, name)
}

func (s *Supervisor) InstallAll(ctx context.Context) *Batch { return s.inner.InstallAll(ctx) }

func (s *Supervisor) Start(ctx context.Context, name string) (Status, error) {
	return s.inner.StartOne(ctx, name)
}

func (s *Supervisor) StartAll(ctx context.Context) *Batch { return s.inner.StartAll(ctx) }

func (s *Supervisor) Stop(ctx context.Context, name string) (StopResult, error) {
	return s.inner.StopOne(ctx, name)
}

func (s *Supervisor) StopAll(ctx context.Context) *Batch { return s.inner.StopAll(ctx) }

func (s *Supervisor) Status(ctx context.Context, name string) (Status, error) {
	return s.inner.StatusOne(ctx, name)
}

func (s *Supervisor) StatusAll(ctx context.Context) ([]Status, error) {
	return s.inner.StatusAll(ctx)
}

// Reconcile refreshes registry liveness once, downgrading rows whose
// process has died out of band.
func (s *Supervisor) Reconcile(ctx context.Context) error { return s.inner.ReconcileAll(ctx) }

// LivePIDs reports the PID of every service whose recorded process is
// confirmed alive. Useful as the feed for a resource sampler.
func (s *Supervisor) LivePIDs(ctx context.Context) map[string]int { return s.inner.LivePIDs(ctx) }

// Bootstrap stops everything, wipes the deploy area, reinstalls and
// restarts the full service set.
func (s *Supervisor) Bootstrap(ctx context.Context) error { return s.inner.Bootstrap(ctx) }

// NewHTTPServer starts an HTTP server exposing the control-plane API for
// the given supervisor.
func NewHTTPServer(addr, basePath string, s *Supervisor) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, s.inner)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It returns any immediate listen error; otherwise it
// runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
