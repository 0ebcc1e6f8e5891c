// Package installer fetches, verifies and unpacks service archives into
// the deploy area. The supervisor core treats it as a capability: what a
// service needs installed is data on its descriptor, not code.
package installer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Install step names, used to tag failures.
const (
	StepDownload  = "download"
	StepVerify    = "verify"
	StepExtract   = "extract"
	StepConfigure = "configure"
)

// Spec is the declarative install block of a service descriptor.
type Spec struct {
	URL             string   `json:"url" toml:"url" mapstructure:"url"`                                              // http(s):// or file:// tar.gz
	SHA256          string   `json:"sha256,omitempty" toml:"sha256" mapstructure:"sha256"`                           // inline hex digest
	SHA256URL       string   `json:"sha256_url,omitempty" toml:"sha256_url" mapstructure:"sha256_url"`               // sidecar digest URL
	StripComponents int      `json:"strip_components" toml:"strip_components" mapstructure:"strip_components"`       // leading path elements to drop
	Configure       []string `json:"configure,omitempty" toml:"configure" mapstructure:"configure"`                  // post-extract shell lines, run in the service dir
	Env             []string `json:"configure_env,omitempty" toml:"configure_env" mapstructure:"configure_env"`      // extra env for configure lines
}

// Validate checks the fields the install pipeline depends on.
func (s *Spec) Validate() error {
	u, err := url.Parse(strings.TrimSpace(s.URL))
	if err != nil {
		return fmt.Errorf("install url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "file":
	default:
		return fmt.Errorf("install url %q: unsupported scheme %q", s.URL, u.Scheme)
	}
	if s.SHA256 != "" && len(s.SHA256) != 64 {
		return fmt.Errorf("install sha256: want 64 hex chars, got %d", len(s.SHA256))
	}
	if s.StripComponents < 0 {
		return fmt.Errorf("install strip_components: negative")
	}
	return nil
}

// Error tags an install failure with the step it happened in.
type Error struct {
	Step string
	Err  error
}

func (e *Error) Error() string { return e.Step + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Installer is the capability the supervisor consumes.
type Installer interface {
	// Install materializes the service under its deploy dir. Re-running
	// replaces a previous install.
	Install(ctx context.Context, name string, spec Spec) error
	// Installed reports whether the service's deploy dir is populated.
	Installed(name string) bool
	// Uninstall removes the service's deploy dir. Idempotent.
	Uninstall(name string) error
}

// Archive installs services from tar.gz archives. Downloads are cached
// under <DeployDir>/downloads and reused when their checksum still
// matches.
type Archive struct {
	DeployDir string
	Client    *http.Client
}

// NewArchive returns an Archive installer rooted at deployDir.
func NewArchive(deployDir string) *Archive {
	return &Archive{
		DeployDir: deployDir,
		Client:    &http.Client{Timeout: 30 * time.Minute},
	}
}

// ServiceDir returns the install target for name.
func (a *Archive) ServiceDir(name string) string {
	return filepath.Join(a.DeployDir, name)
}

func (a *Archive) downloadDir() string {
	return filepath.Join(a.DeployDir, "downloads")
}

func (a *Archive) Install(ctx context.Context, name string, spec Spec) error {
	if err := spec.Validate(); err != nil {
		return &Error{Step: StepDownload, Err: err}
	}
	archivePath, err := a.fetch(ctx, spec)
	if err != nil {
		return &Error{Step: StepDownload, Err: err}
	}
	want, err := a.expectedChecksum(ctx, spec)
	if err != nil {
		return &Error{Step: StepVerify, Err: err}
	}
	if want != "" {
		got, err := fileSHA256(archivePath)
		if err != nil {
			return &Error{Step: StepVerify, Err: err}
		}
		if !strings.EqualFold(got, want) {
			return &Error{Step: StepVerify, Err: fmt.Errorf("checksum mismatch: want %s, got %s", want, got)}
		}
	}

	dir := a.ServiceDir(name)
	// Replace any previous install wholesale so stale files never linger.
	if err := os.RemoveAll(dir); err != nil {
		return &Error{Step: StepExtract, Err: err}
	}
	if err := extractTarGz(ctx, archivePath, dir, spec.StripComponents); err != nil {
		_ = os.RemoveAll(dir)
		return &Error{Step: StepExtract, Err: err}
	}
	if err := a.configure(ctx, dir, spec); err != nil {
		return &Error{Step: StepConfigure, Err: err}
	}
	slog.Debug("service installed", "name", name, "dir", dir)
	return nil
}

func (a *Archive) Installed(name string) bool {
	entries, err := os.ReadDir(a.ServiceDir(name))
	return err == nil && len(entries) > 0
}

func (a *Archive) Uninstall(name string) error {
	return os.RemoveAll(a.ServiceDir(name))
}

// configure runs the post-install lines with the service dir as cwd.
func (a *Archive) configure(ctx context.Context, dir string, spec Spec) error {
	for _, line := range spec.Configure {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// #nosec G204
		cmd := exec.CommandContext(ctx, "/bin/sh", "-c", line)
		cmd.Dir = dir
		if len(spec.Env) > 0 {
			cmd.Env = append(os.Environ(), spec.Env...)
		}
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("%q: %w: %s", line, err, strings.TrimSpace(string(out)))
		}
	}
	return nil
}
