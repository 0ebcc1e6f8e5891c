// Package registrytest holds the behavioral contract every registry
// backend must satisfy. Backend test files call RunContract with an
// opener for a fresh, schema-initialized store.
package registrytest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gridkit/grid/internal/registry"
)

// RunContract exercises the Registry semantics against a fresh backend
// returned by open. The backend is closed via t.Cleanup.
func RunContract(t *testing.T, open func(t *testing.T) registry.Registry) {
	t.Helper()

	t.Run("RoundTrip", func(t *testing.T) {
		reg := open(t)
		ctx := context.Background()
		started := time.Now().UTC().Truncate(time.Second)
		rec := registry.Record{
			Name: "svc", PID: 12345, StartUnix: 987654321,
			StartedAt: started, State: "running", LogPath: "/var/log/svc.log",
		}
		if err := reg.Record(ctx, rec); err != nil {
			t.Fatalf("record: %v", err)
		}
		got, ok, err := reg.Lookup(ctx, "svc")
		if err != nil || !ok {
			t.Fatalf("lookup: ok=%v err=%v", ok, err)
		}
		if got.PID != 12345 || got.StartUnix != 987654321 || got.State != "running" || got.LogPath != "/var/log/svc.log" {
			t.Fatalf("unexpected record: %+v", got)
		}
		if !got.StartedAt.Equal(started) {
			t.Fatalf("started_at mangled: want %v got %v", started, got.StartedAt)
		}
		if got.UpdatedAt.IsZero() {
			t.Fatalf("updated_at not set")
		}
	})

	t.Run("DuplicateLiveRejected", func(t *testing.T) {
		reg := open(t)
		ctx := context.Background()
		rec := registry.Record{Name: "svc", PID: 1, StartUnix: 1, StartedAt: time.Now(), State: "running"}
		if err := reg.Record(ctx, rec); err != nil {
			t.Fatalf("first record: %v", err)
		}
		rec.PID = 2
		if err := reg.Record(ctx, rec); !errors.Is(err, registry.ErrDuplicateService) {
			t.Fatalf("expected ErrDuplicateService, got %v", err)
		}
		// The original handle must survive the rejected insert.
		got, _, err := reg.Lookup(ctx, "svc")
		if err != nil || got.PID != 1 {
			t.Fatalf("row mutated by rejected record: %+v err=%v", got, err)
		}
	})

	t.Run("DeadRowReplaced", func(t *testing.T) {
		reg := open(t)
		ctx := context.Background()
		if err := reg.Record(ctx, registry.Record{Name: "svc", PID: 1, StartUnix: 1, StartedAt: time.Now(), State: "stopped"}); err != nil {
			t.Fatalf("seed dead row: %v", err)
		}
		if err := reg.Record(ctx, registry.Record{Name: "svc", PID: 2, StartUnix: 2, StartedAt: time.Now(), State: "starting"}); err != nil {
			t.Fatalf("replace dead row: %v", err)
		}
		got, _, err := reg.Lookup(ctx, "svc")
		if err != nil || got.PID != 2 || got.State != "starting" {
			t.Fatalf("replacement not applied: %+v err=%v", got, err)
		}
	})

	t.Run("SetState", func(t *testing.T) {
		reg := open(t)
		ctx := context.Background()
		if err := reg.Record(ctx, registry.Record{Name: "svc", PID: 1, StartUnix: 1, StartedAt: time.Now(), State: "starting"}); err != nil {
			t.Fatalf("record: %v", err)
		}
		if err := reg.SetState(ctx, "svc", "running"); err != nil {
			t.Fatalf("set state: %v", err)
		}
		got, _, _ := reg.Lookup(ctx, "svc")
		if got.State != "running" {
			t.Fatalf("state not updated: %+v", got)
		}
		if err := reg.SetState(ctx, "ghost", "running"); err != nil {
			t.Fatalf("set state on missing row should be ignored: %v", err)
		}
	})

	t.Run("LookupMissing", func(t *testing.T) {
		reg := open(t)
		_, ok, err := reg.Lookup(context.Background(), "ghost")
		if err != nil {
			t.Fatalf("lookup missing: %v", err)
		}
		if ok {
			t.Fatalf("missing row reported present")
		}
	})

	t.Run("RemoveIdempotent", func(t *testing.T) {
		reg := open(t)
		ctx := context.Background()
		if err := reg.Record(ctx, registry.Record{Name: "svc", PID: 1, StartUnix: 1, StartedAt: time.Now(), State: "stopped"}); err != nil {
			t.Fatalf("record: %v", err)
		}
		if err := reg.Remove(ctx, "svc"); err != nil {
			t.Fatalf("remove: %v", err)
		}
		if err := reg.Remove(ctx, "svc"); err != nil {
			t.Fatalf("second remove should be a no-op: %v", err)
		}
		if _, ok, _ := reg.Lookup(ctx, "svc"); ok {
			t.Fatalf("row still present after remove")
		}
	})

	t.Run("ListOrderedByName", func(t *testing.T) {
		reg := open(t)
		ctx := context.Background()
		for _, name := range []string{"charlie", "alpha", "bravo"} {
			rec := registry.Record{Name: name, PID: 1, StartUnix: 1, StartedAt: time.Now(), State: "stopped"}
			if err := reg.Record(ctx, rec); err != nil {
				t.Fatalf("record %s: %v", name, err)
			}
		}
		rows, err := reg.List(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(rows) != 3 || rows[0].Name != "alpha" || rows[1].Name != "bravo" || rows[2].Name != "charlie" {
			t.Fatalf("unexpected list order: %+v", rows)
		}
	})
}
