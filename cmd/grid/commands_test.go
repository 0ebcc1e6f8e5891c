package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/gridkit/grid/pkg/client"
)

func writeTOML(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return p
}

func TestCmdInstallStartStatusStop_WithConfig(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix sleep")
	}
	dir := t.TempDir()
	cfg := `
state = "state.db"

[[service]]
name = "a"
command = "sleep 30"
priority = 10

[[service]]
name = "b"
command = "sleep 30"
priority = 20
`
	path := writeTOML(t, dir, "grid.toml", cfg)
	c := command{}

	if err := c.Install(TargetFlags{ConfigPath: path, Target: "all"}); err != nil {
		t.Fatalf("install all: %v", err)
	}
	if err := c.Start(TargetFlags{ConfigPath: path, Target: "a"}); err != nil {
		t.Fatalf("start a: %v", err)
	}
	// Starting again must be tolerated as already running.
	if err := c.Start(TargetFlags{ConfigPath: path, Target: "a"}); err != nil {
		t.Fatalf("second start a: %v", err)
	}
	if err := c.Status(TargetFlags{ConfigPath: path, Target: "all"}); err != nil {
		t.Fatalf("status all: %v", err)
	}
	if err := c.Status(TargetFlags{ConfigPath: path, Target: "a"}); err != nil {
		t.Fatalf("status a: %v", err)
	}
	if err := c.Stop(TargetFlags{ConfigPath: path, Target: "all"}); err != nil {
		t.Fatalf("stop all: %v", err)
	}
	// Stopping an idle roster reports not_running everywhere and succeeds.
	if err := c.Stop(TargetFlags{ConfigPath: path, Target: "all"}); err != nil {
		t.Fatalf("stop all idle: %v", err)
	}
}

func TestCmdStartAllReportsFailures(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix sleep")
	}
	dir := t.TempDir()
	cfg := `
state = "state.db"

[[service]]
name = "good"
command = "sleep 30"
priority = 10

[[service]]
name = "wrong"
command = "/nonexistent-grid-binary"
priority = 20
`
	path := writeTOML(t, dir, "grid.toml", cfg)
	c := command{}

	if err := c.Start(TargetFlags{ConfigPath: path, Target: "all"}); err == nil {
		t.Fatalf("expected start all to fail when one service cannot spawn")
	}
	t.Cleanup(func() {
		_ = c.Stop(TargetFlags{ConfigPath: path, Target: "all"})
	})
}

func TestCmdStartUnknownService(t *testing.T) {
	dir := t.TempDir()
	cfg := `
state = "state.db"

[[service]]
name = "a"
command = "sleep 1"
`
	path := writeTOML(t, dir, "grid.toml", cfg)
	c := command{}
	if err := c.Start(TargetFlags{ConfigPath: path, Target: "ghost"}); err == nil {
		t.Fatalf("expected error for unknown service")
	}
	if err := c.Status(TargetFlags{ConfigPath: path, Target: "ghost"}); err == nil {
		t.Fatalf("expected error for unknown service status")
	}
}

func TestCmdBootstrap_WithConfig(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix sleep")
	}
	dir := t.TempDir()
	cfg := `
state = "state.db"
deploy_dir = "deploy"

[[service]]
name = "a"
command = "sleep 30"
priority = 10

[[service]]
name = "b"
command = "sleep 30"
priority = 20
`
	path := writeTOML(t, dir, "grid.toml", cfg)
	c := command{}

	if err := c.Bootstrap(BootstrapFlags{ConfigPath: path}); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := c.Status(TargetFlags{ConfigPath: path, Target: "all"}); err != nil {
		t.Fatalf("status after bootstrap: %v", err)
	}
	if err := c.Stop(TargetFlags{ConfigPath: path, Target: "all"}); err != nil {
		t.Fatalf("stop after bootstrap: %v", err)
	}
}

func TestCmdMissingConfig(t *testing.T) {
	c := command{}
	if err := c.Install(TargetFlags{Target: "all"}); err == nil {
		t.Fatalf("expected error when --config is missing for install")
	}
	if err := c.Start(TargetFlags{Target: "all"}); err == nil {
		t.Fatalf("expected error when --config is missing for start")
	}
	if err := c.Stop(TargetFlags{Target: "all"}); err == nil {
		t.Fatalf("expected error when --config is missing for stop")
	}
	if err := c.Status(TargetFlags{Target: "all"}); err == nil {
		t.Fatalf("expected error when --config is missing for status")
	}
	if err := c.Bootstrap(BootstrapFlags{}); err == nil {
		t.Fatalf("expected error when --config is missing for bootstrap")
	}
}

func TestCmdRemoteVerbs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("name") == "a" {
			_ = json.NewEncoder(w).Encode(client.Status{Name: "a", State: "running", PID: 41})
			return
		}
		_ = json.NewEncoder(w).Encode([]client.Status{{Name: "a", State: "running", PID: 41}})
	})
	mux.HandleFunc("POST /start", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(client.Status{Name: r.URL.Query().Get("name"), State: "running", PID: 42})
	})
	mux.HandleFunc("POST /stop", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(client.StopOutcome{Name: r.URL.Query().Get("name"), Result: "stopped"})
	})
	mux.HandleFunc("POST /install", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	mux.HandleFunc("POST /bootstrap", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := command{}
	f := TargetFlags{APIUrl: srv.URL, Target: "a"}
	if err := c.Install(f); err != nil {
		t.Fatalf("remote install: %v", err)
	}
	if err := c.Start(f); err != nil {
		t.Fatalf("remote start: %v", err)
	}
	if err := c.Status(TargetFlags{APIUrl: srv.URL, Target: "all"}); err != nil {
		t.Fatalf("remote status: %v", err)
	}
	if err := c.Stop(f); err != nil {
		t.Fatalf("remote stop: %v", err)
	}
	if err := c.Bootstrap(BootstrapFlags{APIUrl: srv.URL}); err != nil {
		t.Fatalf("remote bootstrap: %v", err)
	}
}
