package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors, registered via Register.
var (
	regOK atomic.Bool

	installs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "grid",
			Subsystem: "service",
			Name:      "installs_total",
			Help:      "Number of successful service installs.",
		}, []string{"name"},
	)
	installFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "grid",
			Subsystem: "service",
			Name:      "install_failures_total",
			Help:      "Number of failed service installs.",
		}, []string{"name"},
	)
	starts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "grid",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful service starts.",
		}, []string{"name"},
	)
	startFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "grid",
			Subsystem: "service",
			Name:      "start_failures_total",
			Help:      "Number of failed service starts (spawn errors and readiness timeouts).",
		}, []string{"name"},
	)
	stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "grid",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of confirmed service stops.",
		}, []string{"name"},
	)
	stopTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "grid",
			Subsystem: "service",
			Name:      "stop_timeouts_total",
			Help:      "Number of stops where the process survived graceful and forceful signals.",
		}, []string{"name"},
	)
	readyWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "grid",
			Subsystem: "service",
			Name:      "ready_wait_seconds",
			Help:      "Time spent waiting for a started service to become ready.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"},
	)
	up = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "grid",
			Subsystem: "service",
			Name:      "up",
			Help:      "Whether the service currently has a live process (1) or not (0).",
		}, []string{"name"},
	)
	states = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "grid",
			Subsystem: "service",
			Name:      "state",
			Help:      "Current state of services (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
)

// Register registers all metrics with the provided registerer. It is safe
// to call repeatedly, including against multiple registries; duplicate
// registrations are ignored.
func Register(r prometheus.Registerer) error {
	cs := []prometheus.Collector{installs, installFailures, starts, startFailures, stops, stopTimeouts, readyWait, up, states}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves Prometheus metrics for the DefaultGatherer. The caller
// wires it into an HTTP server.
func Handler() http.Handler { return promhttp.Handler() }

// Lightweight helpers used by internal packages. They no-op until
// Register has been called.

func IncInstall(name string) {
	if regOK.Load() {
		installs.WithLabelValues(name).Inc()
	}
}
func IncInstallFailure(name string) {
	if regOK.Load() {
		installFailures.WithLabelValues(name).Inc()
	}
}
func IncStart(name string) {
	if regOK.Load() {
		starts.WithLabelValues(name).Inc()
	}
}
func IncStartFailure(name string) {
	if regOK.Load() {
		startFailures.WithLabelValues(name).Inc()
	}
}
func IncStop(name string) {
	if regOK.Load() {
		stops.WithLabelValues(name).Inc()
	}
}
func IncStopTimeout(name string) {
	if regOK.Load() {
		stopTimeouts.WithLabelValues(name).Inc()
	}
}
func ObserveReadyWait(name string, seconds float64) {
	if regOK.Load() {
		readyWait.WithLabelValues(name).Observe(seconds)
	}
}
func SetUp(name string, isUp bool) {
	if regOK.Load() {
		v := 0.0
		if isUp {
			v = 1.0
		}
		up.WithLabelValues(name).Set(v)
	}
}
func SetState(name, state string, active bool) {
	if regOK.Load() {
		v := 0.0
		if active {
			v = 1.0
		}
		states.WithLabelValues(name, state).Set(v)
	}
}
