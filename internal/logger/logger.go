package logger

import (
	"fmt"
	"io"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults, in lumberjack units.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// Config describes where a service's stdout/stderr go. With only Dir
// set, files are Dir/<name>.stdout.log and Dir/<name>.stderr.log;
// explicit paths override that. Rotation follows lumberjack semantics.
type Config struct {
	Dir        string `json:"dir" toml:"dir" mapstructure:"dir"`
	StdoutPath string `json:"stdout" toml:"stdout" mapstructure:"stdout"`
	StderrPath string `json:"stderr" toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `json:"max_size_mb" toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" toml:"compress" mapstructure:"compress"`
}

// Merge overlays non-zero fields of other onto a copy of c. Used to apply
// a per-service block on top of the global log section.
func (c Config) Merge(other Config) Config {
	out := c
	if other.Dir != "" {
		out.Dir = other.Dir
	}
	if other.StdoutPath != "" {
		out.StdoutPath = other.StdoutPath
	}
	if other.StderrPath != "" {
		out.StderrPath = other.StderrPath
	}
	if other.MaxSizeMB != 0 {
		out.MaxSizeMB = other.MaxSizeMB
	}
	if other.MaxBackups != 0 {
		out.MaxBackups = other.MaxBackups
	}
	if other.MaxAgeDays != 0 {
		out.MaxAgeDays = other.MaxAgeDays
	}
	if other.Compress {
		out.Compress = true
	}
	return out
}

// StdoutFile returns the effective stdout path for name, or "" when the
// config routes nowhere.
func (c Config) StdoutFile(name string) string {
	if c.StdoutPath != "" {
		return c.StdoutPath
	}
	if c.Dir != "" {
		return filepath.Join(c.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	return ""
}

// StderrFile returns the effective stderr path for name, or "".
func (c Config) StderrFile(name string) string {
	if c.StderrPath != "" {
		return c.StderrPath
	}
	if c.Dir != "" {
		return filepath.Join(c.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	return ""
}

// Writers returns rotating WriteClosers for stdout and stderr of the
// named service. Either may be nil when the config routes it nowhere.
func (c Config) Writers(name string) (io.WriteCloser, io.WriteCloser, error) {
	var outW, errW io.WriteCloser
	if p := c.StdoutFile(name); p != "" {
		outW = c.rotating(p)
	}
	if p := c.StderrFile(name); p != "" {
		errW = c.rotating(p)
	}
	return outW, errW, nil
}

func (c Config) rotating(path string) io.WriteCloser {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
