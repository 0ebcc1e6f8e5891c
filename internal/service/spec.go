package service

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/gridkit/grid/internal/installer"
	"github.com/gridkit/grid/internal/logger"
	"github.com/gridkit/grid/internal/probe"
)

// Spec is the static descriptor for one manageable service. Specs are
// defined at configuration time and treated as immutable afterwards.
type Spec struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`  // launch line; shell-aware when Args is empty
	Args    []string `json:"args"`     // explicit argv; when set, Command is the bare executable
	WorkDir string   `json:"work_dir"` // optional working dir
	Env     []string `json:"env"`      // optional extra env (K=V)

	// Priority orders batch operations: lower starts first, higher stops
	// first. Ties break on name.
	Priority int `json:"priority"`

	StartTimeout  time.Duration `json:"start_timeout"`  // readiness bound (default 10s)
	StopTimeout   time.Duration `json:"stop_timeout"`   // graceful-exit bound (default 5s)
	ReadyInterval time.Duration `json:"ready_interval"` // readiness poll interval (default 100ms)

	Ready       probe.Probe     `json:"-" mapstructure:"-"`
	ReadyConfig *probe.Config   `json:"ready,omitempty" mapstructure:"ready"` // for config parsing
	Install     *installer.Spec `json:"install,omitempty" mapstructure:"install"`

	Log logger.Config `json:"log"` // per-service capture of stdout/stderr
}

// Validate checks the fields every caller depends on. Name doubles as a
// filesystem path component and an API path segment, so it is restricted.
func (s *Spec) Validate() error {
	if !SafeName(s.Name) {
		return fmt.Errorf("invalid service name %q", s.Name)
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("service %s: empty command", s.Name)
	}
	if s.ReadyConfig != nil {
		if _, err := probe.New(*s.ReadyConfig); err != nil {
			return fmt.Errorf("service %s: %w", s.Name, err)
		}
	}
	if s.Install != nil {
		if err := s.Install.Validate(); err != nil {
			return fmt.Errorf("service %s: %w", s.Name, err)
		}
	}
	return nil
}

// SafeName reports whether name is usable as a service key: non-empty,
// and limited to alphanumerics plus [._-] with no leading dot or dash.
func SafeName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if name[0] == '.' || name[0] == '-' {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}

// ReadyProbe returns the readiness probe for this spec, building one from
// ReadyConfig when no instance was attached. A nil return means the spec
// has no readiness check.
func (s *Spec) ReadyProbe() (probe.Probe, error) {
	if s.Ready != nil {
		return s.Ready, nil
	}
	if s.ReadyConfig == nil {
		return nil, nil
	}
	p, err := probe.New(*s.ReadyConfig)
	if err != nil {
		return nil, fmt.Errorf("service %s: %w", s.Name, err)
	}
	return p, nil
}

// EffectiveStartTimeout returns StartTimeout or the default when unset.
func (s *Spec) EffectiveStartTimeout() time.Duration {
	if s.StartTimeout > 0 {
		return s.StartTimeout
	}
	return DefaultStartTimeout
}

// EffectiveStopTimeout returns StopTimeout or the default when unset.
func (s *Spec) EffectiveStopTimeout() time.Duration {
	if s.StopTimeout > 0 {
		return s.StopTimeout
	}
	return DefaultStopTimeout
}

// BuildCommand constructs the *exec.Cmd that launches this service.
// With explicit Args the command is executed directly, no shell involved.
// Otherwise the launch line is parsed shell-aware: an explicit "sh -c"
// prefix is honored without double-wrapping, metacharacters route the
// line through /bin/sh, and a plain "path arg arg" line is split on
// whitespace.
func (s *Spec) BuildCommand() *exec.Cmd {
	line := strings.TrimSpace(s.Command)
	if len(s.Args) > 0 {
		// #nosec G204
		return exec.Command(line, s.Args...)
	}
	if line == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if script, ok := explicitShellScript(line); ok {
		// Absolute shell path keeps launches independent of PATH overrides.
		// #nosec G204
		return exec.Command("/bin/sh", "-c", script)
	}
	if strings.ContainsAny(line, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", line)
	}
	fields := strings.Fields(line)
	// #nosec G204
	return exec.Command(fields[0], fields[1:]...)
}

// explicitShellScript detects a leading "sh -c <SCRIPT>" (or an absolute
// shell path variant) and returns the script with one layer of outer
// quotes stripped, so redirections inside it keep working.
func explicitShellScript(line string) (string, bool) {
	trimmed := strings.TrimLeft(line, " \t")
	for _, prefix := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if !strings.HasPrefix(trimmed, prefix) {
			continue
		}
		script := trimmed[len(prefix):]
		if n := len(script); n >= 2 {
			if (script[0] == '\'' && script[n-1] == '\'') || (script[0] == '"' && script[n-1] == '"') {
				script = script[1 : n-1]
			}
		}
		return script, true
	}
	return "", false
}
