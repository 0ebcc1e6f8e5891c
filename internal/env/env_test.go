package env

import (
	"strings"
	"testing"
)

func toMap(t *testing.T, pairs []string) map[string]string {
	t.Helper()
	m := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			t.Fatalf("malformed pair %q", kv)
		}
		if _, dup := m[kv[:i]]; dup {
			t.Fatalf("duplicate key %q in %v", kv[:i], pairs)
		}
		m[kv[:i]] = kv[i+1:]
	}
	return m
}

func TestMergePrecedence(t *testing.T) {
	e := New()
	e.WithoutOS()
	e.Set("SHARED", "global")
	e.Set("ONLY_GLOBAL", "1")

	got := toMap(t, e.Merge([]string{"SHARED=service", "ONLY_SERVICE=2"}))
	if got["SHARED"] != "service" {
		t.Fatalf("service pair should win, got %q", got["SHARED"])
	}
	if got["ONLY_GLOBAL"] != "1" || got["ONLY_SERVICE"] != "2" {
		t.Fatalf("unexpected merge result: %v", got)
	}
}

func TestMergeUsesOSBase(t *testing.T) {
	t.Setenv("GRID_ENV_TEST_BASE", "from-os")
	e := New()
	e.FromOS()

	got := toMap(t, e.Merge(nil))
	if got["GRID_ENV_TEST_BASE"] != "from-os" {
		t.Fatalf("OS base missing: %v", got["GRID_ENV_TEST_BASE"])
	}

	e.Set("GRID_ENV_TEST_BASE", "override")
	got = toMap(t, e.Merge(nil))
	if got["GRID_ENV_TEST_BASE"] != "override" {
		t.Fatalf("global override should beat OS base, got %q", got["GRID_ENV_TEST_BASE"])
	}
}

func TestWithoutOSDropsBase(t *testing.T) {
	t.Setenv("GRID_ENV_TEST_DROP", "x")
	e := New()
	e.WithoutOS()
	got := toMap(t, e.Merge(nil))
	if _, ok := got["GRID_ENV_TEST_DROP"]; ok {
		t.Fatalf("WithoutOS must not leak the OS environment")
	}
}

func TestMergeExpandsBraced(t *testing.T) {
	e := New()
	e.WithoutOS()
	e.Set("ROOT", "/opt/grid")

	got := toMap(t, e.Merge([]string{"BIN=${ROOT}/bin", "RAW=$ROOT/bin"}))
	if got["BIN"] != "/opt/grid/bin" {
		t.Fatalf("expected ${VAR} expansion, got %q", got["BIN"])
	}
	// Bare $VAR passes through for the shell to handle.
	if got["RAW"] != "$ROOT/bin" {
		t.Fatalf("bare $VAR must stay untouched, got %q", got["RAW"])
	}
}

func TestSetAllSkipsMalformed(t *testing.T) {
	e := New()
	e.WithoutOS()
	e.SetAll([]string{"OK=1", "NOEQUALS", "=empty-key"})
	got := toMap(t, e.Merge(nil))
	if len(got) != 1 || got["OK"] != "1" {
		t.Fatalf("only well-formed pairs should apply: %v", got)
	}
}

func TestUnset(t *testing.T) {
	e := New()
	e.WithoutOS()
	e.Set("GONE", "1")
	e.Unset("GONE")
	if _, ok := toMap(t, e.Merge(nil))["GONE"]; ok {
		t.Fatalf("Unset should remove the override")
	}
}
