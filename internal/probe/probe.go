// Package probe provides readiness checks for launched services and
// identity-aware liveness checks for recorded pids.
package probe

import (
	"fmt"
	"time"
)

// Probe is a strategy deciding whether a launched service has become
// usable. Implementations must be safe for concurrent use.
type Probe interface {
	// Ready returns true once the service is usable.
	Ready() (bool, error)
	// Describe returns a human-readable description of the check.
	Describe() string
}

// Default per-attempt bound for probes that wait on I/O.
const DefaultAttemptTimeout = 2 * time.Second

// Config is the declarative form of a probe, as it appears in a service
// descriptor.
type Config struct {
	Type    string        `json:"type" mapstructure:"type"`       // tcp, http, file or command
	Target  string        `json:"target" mapstructure:"target"`   // address, URL, path or command line
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"` // per-attempt bound (default 2s)
}

// New builds a Probe from its declarative form.
func New(c Config) (Probe, error) {
	if c.Target == "" {
		return nil, fmt.Errorf("ready check %q: empty target", c.Type)
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	switch c.Type {
	case "tcp":
		return TCPProbe{Addr: c.Target, Timeout: timeout}, nil
	case "http":
		return HTTPProbe{URL: c.Target, Timeout: timeout}, nil
	case "file":
		return FileProbe{Path: c.Target}, nil
	case "command":
		return CommandProbe{Command: c.Target}, nil
	default:
		return nil, fmt.Errorf("unknown ready check type %q", c.Type)
	}
}
