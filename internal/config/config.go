// Package config reads the grid TOML file and translates it into the
// runtime objects the supervisor consumes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gridkit/grid/internal/env"
	"github.com/gridkit/grid/internal/installer"
	"github.com/gridkit/grid/internal/logger"
	"github.com/gridkit/grid/internal/metrics"
	"github.com/gridkit/grid/internal/probe"
	"github.com/gridkit/grid/internal/service"
)

// FileConfig mirrors the top-level TOML structure.
type FileConfig struct {
	DeployDir string   `toml:"deploy_dir" mapstructure:"deploy_dir"`
	State     string   `toml:"state" mapstructure:"state"`
	Env       []string `toml:"env" mapstructure:"env"`
	EnvFiles  []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv  *bool    `toml:"use_os_env" mapstructure:"use_os_env"` // default true

	Log      *LogConfig      `toml:"log" mapstructure:"log"`
	Server   *ServerConfig   `toml:"server" mapstructure:"server"`
	Metrics  *MetricsConfig  `toml:"metrics" mapstructure:"metrics"`
	History  *HistoryConfig  `toml:"history" mapstructure:"history"`
	Services []ServiceConfig `toml:"service" mapstructure:"service"`
}

type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type MetricsConfig struct {
	Enabled  bool          `toml:"enabled" mapstructure:"enabled"`
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
}

type HistoryConfig struct {
	Sinks []HistorySinkConfig `toml:"sinks" mapstructure:"sinks"`
}

type HistorySinkConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type ServiceConfig struct {
	Name          string        `toml:"name" mapstructure:"name"`
	Command       string        `toml:"command" mapstructure:"command"`
	Args          []string      `toml:"args" mapstructure:"args"`
	WorkDir       string        `toml:"workdir" mapstructure:"workdir"`
	Env           []string      `toml:"env" mapstructure:"env"`
	Priority      int           `toml:"priority" mapstructure:"priority"`
	StartTimeout  time.Duration `toml:"start_timeout" mapstructure:"start_timeout"`
	StopTimeout   time.Duration `toml:"stop_timeout" mapstructure:"stop_timeout"`
	ReadyInterval time.Duration `toml:"ready_interval" mapstructure:"ready_interval"`

	Ready   *ReadyConfig   `toml:"ready" mapstructure:"ready"`
	Install *InstallConfig `toml:"install" mapstructure:"install"`
	Log     *LogConfig     `toml:"log" mapstructure:"log"`
}

type ReadyConfig struct {
	Type    string        `toml:"type" mapstructure:"type"`
	Target  string        `toml:"target" mapstructure:"target"`
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type InstallConfig struct {
	URL             string   `toml:"url" mapstructure:"url"`
	SHA256          string   `toml:"sha256" mapstructure:"sha256"`
	SHA256URL       string   `toml:"sha256_url" mapstructure:"sha256_url"`
	StripComponents int      `toml:"strip_components" mapstructure:"strip_components"`
	Configure       []string `toml:"configure" mapstructure:"configure"`
	Env             []string `toml:"configure_env" mapstructure:"configure_env"`
}

// Server defaults when the [server] section is silent.
const (
	DefaultListen   = "127.0.0.1:9670"
	DefaultBasePath = "/api"
)

// Config is the fully translated runtime configuration.
type Config struct {
	DeployDir   string
	StateDSN    string
	Log         logger.Config
	Env         *env.Env
	Server      ServerConfig
	Sampler     metrics.ResourceConfig
	HistoryDSNs []string
	Services    []service.Spec
}

func readFile(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Load reads and validates the whole grid configuration.
func Load(path string) (*Config, error) {
	fc, err := readFile(path)
	if err != nil {
		return nil, err
	}

	globalLog := translateLog(fc.Log)
	ev, err := buildEnv(fc)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DeployDir: fc.DeployDir,
		StateDSN:  fc.State,
		Log:       globalLog,
		Env:       ev,
		Server:    ServerConfig{Listen: DefaultListen, BasePath: DefaultBasePath},
	}
	if fc.Server != nil {
		if fc.Server.Listen != "" {
			cfg.Server.Listen = fc.Server.Listen
		}
		if fc.Server.BasePath != "" {
			cfg.Server.BasePath = fc.Server.BasePath
		}
	}
	if fc.Metrics != nil {
		cfg.Sampler = metrics.ResourceConfig{Enabled: fc.Metrics.Enabled, Interval: fc.Metrics.Interval}
	}
	if fc.History != nil {
		for _, s := range fc.History.Sinks {
			if strings.TrimSpace(s.DSN) == "" {
				return nil, fmt.Errorf("history sink with empty dsn")
			}
			cfg.HistoryDSNs = append(cfg.HistoryDSNs, s.DSN)
		}
	}

	cfg.Services = make([]service.Spec, 0, len(fc.Services))
	for _, sc := range fc.Services {
		sp, err := translateService(globalLog, sc)
		if err != nil {
			return nil, err
		}
		if err := sp.Validate(); err != nil {
			return nil, err
		}
		cfg.Services = append(cfg.Services, sp)
	}
	return cfg, nil
}

// LoadServices parses only the service list from a grid config file.
func LoadServices(path string) ([]service.Spec, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return cfg.Services, nil
}

func translateLog(lc *LogConfig) logger.Config {
	if lc == nil {
		return logger.Config{}
	}
	return logger.Config{
		Dir:        lc.Dir,
		StdoutPath: lc.Stdout,
		StderrPath: lc.Stderr,
		MaxSizeMB:  lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAgeDays: lc.MaxAgeDays,
		Compress:   lc.Compress,
	}
}

func buildEnv(fc *FileConfig) (*env.Env, error) {
	ev := env.New()
	if fc.UseOSEnv != nil && !*fc.UseOSEnv {
		ev.WithoutOS()
	} else {
		ev.FromOS()
	}
	for _, p := range fc.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		ev.SetAll(pairs)
	}
	ev.SetAll(fc.Env)
	return ev, nil
}

func translateService(globalLog logger.Config, sc ServiceConfig) (service.Spec, error) {
	sp := service.Spec{
		Name:          sc.Name,
		Command:       sc.Command,
		Args:          sc.Args,
		WorkDir:       sc.WorkDir,
		Env:           sc.Env,
		Priority:      sc.Priority,
		StartTimeout:  sc.StartTimeout,
		StopTimeout:   sc.StopTimeout,
		ReadyInterval: sc.ReadyInterval,
		Log:           globalLog.Merge(translateLog(sc.Log)),
	}
	if sc.Ready != nil {
		if sc.Ready.Type == "" {
			return service.Spec{}, fmt.Errorf("service %s: ready block requires type", sc.Name)
		}
		sp.ReadyConfig = &probe.Config{
			Type:    sc.Ready.Type,
			Target:  sc.Ready.Target,
			Timeout: sc.Ready.Timeout,
		}
	}
	if sc.Install != nil {
		if sc.Install.URL == "" {
			return service.Spec{}, fmt.Errorf("service %s: install block requires url", sc.Name)
		}
		sp.Install = &installer.Spec{
			URL:             sc.Install.URL,
			SHA256:          sc.Install.SHA256,
			SHA256URL:       sc.Install.SHA256URL,
			StripComponents: sc.Install.StripComponents,
			Configure:       sc.Install.Configure,
			Env:             sc.Install.Env,
		}
	}
	return sp, nil
}

// LoadEnvFile parses a simple .env file and returns "KEY=VALUE" entries.
// Lines starting with # and blank lines are ignored.
func LoadEnvFile(path string) ([]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			out = append(out, k+"="+v)
		}
	}
	return out, nil
}
