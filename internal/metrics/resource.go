package metrics

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ResourceConfig controls periodic resource sampling of managed processes.
type ResourceConfig struct {
	Enabled  bool          `json:"enabled" toml:"enabled" mapstructure:"enabled"`
	Interval time.Duration `json:"interval" toml:"interval" mapstructure:"interval"`
}

// DefaultSampleInterval is used when no interval is configured.
const DefaultSampleInterval = 15 * time.Second

// ResourceSampler periodically samples CPU and memory usage of live
// service processes and exposes them as Prometheus gauges. The set of
// processes to sample is supplied by a callback so the sampler stays
// decoupled from the registry.
type ResourceSampler struct {
	interval time.Duration
	pids     func() map[string]int

	cpuPercent *prometheus.GaugeVec
	rssBytes   *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec

	mu   sync.Mutex
	seen map[string]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// NewResourceSampler builds a sampler that calls pids on every tick to
// learn which services are live. A nil pids func yields a sampler that
// never records anything.
func NewResourceSampler(cfg ResourceConfig, pids func() map[string]int) *ResourceSampler {
	iv := cfg.Interval
	if iv <= 0 {
		iv = DefaultSampleInterval
	}
	return &ResourceSampler{
		interval: iv,
		pids:     pids,
		cpuPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "grid",
			Subsystem: "service",
			Name:      "cpu_percent",
			Help:      "CPU usage percent of the service process.",
		}, []string{"name"}),
		rssBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "grid",
			Subsystem: "service",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the service process in bytes.",
		}, []string{"name"}),
		numThreads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "grid",
			Subsystem: "service",
			Name:      "num_threads",
			Help:      "Thread count of the service process.",
		}, []string{"name"}),
		numFDs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "grid",
			Subsystem: "service",
			Name:      "num_fds",
			Help:      "Open file descriptor count of the service process.",
		}, []string{"name"}),
		seen: make(map[string]struct{}),
	}
}

// Register registers the sampler gauges with the given registerer.
func (s *ResourceSampler) Register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{s.cpuPercent, s.rssBytes, s.numThreads, s.numFDs} {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start launches the sampling loop. It returns immediately; call Stop
// to terminate the loop.
func (s *ResourceSampler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		s.sample()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sample()
			}
		}
	}()
}

// Stop terminates the sampling loop and waits for it to exit.
func (s *ResourceSampler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *ResourceSampler) sample() {
	if s.pids == nil {
		return
	}
	live := s.pids()

	s.mu.Lock()
	defer s.mu.Unlock()

	for name, pid := range live {
		p, err := process.NewProcess(int32(pid))
		if err != nil {
			slog.Debug("resource sample skipped", "service", name, "pid", pid, "err", err)
			continue
		}
		s.seen[name] = struct{}{}
		if cpu, err := p.CPUPercent(); err == nil {
			s.cpuPercent.WithLabelValues(name).Set(cpu)
		}
		if mem, err := p.MemoryInfo(); err == nil && mem != nil {
			s.rssBytes.WithLabelValues(name).Set(float64(mem.RSS))
		}
		if th, err := p.NumThreads(); err == nil {
			s.numThreads.WithLabelValues(name).Set(float64(th))
		}
		if fds, err := p.NumFDs(); err == nil {
			s.numFDs.WithLabelValues(name).Set(float64(fds))
		}
	}

	// Drop series for services that are no longer live.
	for name := range s.seen {
		if _, ok := live[name]; ok {
			continue
		}
		s.cpuPercent.DeleteLabelValues(name)
		s.rssBytes.DeleteLabelValues(name)
		s.numThreads.DeleteLabelValues(name)
		s.numFDs.DeleteLabelValues(name)
		delete(s.seen, name)
	}
}
