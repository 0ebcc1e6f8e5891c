// Package env composes the environment a service is launched with:
// OS base, then global overrides from the grid config, then the
// service's own pairs, with ${VAR} expansion over the composed map.
package env

import (
	"os"
	"strings"
)

type Var map[string]string

type Env struct {
	Var  Var // global overrides (K -> V)
	base Var // cached OS environment
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// FromOS snapshots the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if k, v, ok := splitPair(kv); ok {
			base[k] = v
		}
	}
	e.base = base
}

// WithoutOS pins an empty base so launch environments contain only
// declared variables.
func (e *Env) WithoutOS() {
	e.base = make(Var)
}

// Set sets a global override.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// SetAll applies a list of "K=V" pairs as global overrides, skipping
// malformed entries.
func (e *Env) SetAll(pairs []string) {
	for _, kv := range pairs {
		if k, v, ok := splitPair(kv); ok {
			e.Set(k, v)
		}
	}
}

// Unset removes a global override.
func (e *Env) Unset(k string) {
	if e.Var != nil {
		delete(e.Var, k)
	}
}

// Merge returns the launch environment for one service as a "K=V" slice:
// OS base, then global overrides, then perService pairs, each ${VAR}
// expanded once against the composed map (no recursion).
func (e *Env) Merge(perService []string) []string {
	if e.base == nil {
		e.FromOS()
	}
	m := make(Var, len(e.base)+len(e.Var)+len(perService))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.Var {
		if k != "" {
			m[k] = v
		}
	}
	for _, kv := range perService {
		if k, v, ok := splitPair(kv); ok {
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	return out
}

func splitPair(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

// expand substitutes ${VAR} occurrences from m. Bare $VAR is left alone
// so launch lines can pass through shell variables untouched.
func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
