package store

import (
	"testing"
	"time"

	"github.com/danmuck/tidectl/internal/state"
	"github.com/danmuck/tidectl/internal/testutil/testlog"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	b, err := OpenBadger(t.TempDir())
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"badger": b,
	}
}

func TestLastAppliedRoundTrip(t *testing.T) {
	testlog.Start(t)
	cfg := state.ResourceID{Kind: state.KindConfig, Namespace: "edge", Name: "app-settings"}
	svc := state.ResourceID{Kind: state.KindService, Namespace: "edge", Name: "api"}

	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.PutLastApplied("checkout", cfg, "h1"); err != nil {
				t.Fatalf("put: %v", err)
			}
			if err := s.PutLastApplied("checkout", svc, "h2"); err != nil {
				t.Fatalf("put: %v", err)
			}
			if err := s.PutLastApplied("other", cfg, "h3"); err != nil {
				t.Fatalf("put: %v", err)
			}

			applied, err := s.LastApplied("checkout")
			if err != nil {
				t.Fatalf("last applied: %v", err)
			}
			if len(applied) != 2 {
				t.Fatalf("expected 2 entries, got %d", len(applied))
			}
			if applied[cfg] != "h1" || applied[svc] != "h2" {
				t.Fatalf("unexpected hashes: %v", applied)
			}

			if err := s.PutLastApplied("checkout", cfg, "h1b"); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			applied, _ = s.LastApplied("checkout")
			if applied[cfg] != "h1b" {
				t.Fatalf("overwrite not visible: %v", applied)
			}

			if err := s.DeleteLastApplied("checkout", svc); err != nil {
				t.Fatalf("delete: %v", err)
			}
			applied, _ = s.LastApplied("checkout")
			if _, ok := applied[svc]; ok {
				t.Fatalf("deleted entry still present")
			}

			if err := s.ClearLastApplied("checkout"); err != nil {
				t.Fatalf("clear: %v", err)
			}
			applied, _ = s.LastApplied("checkout")
			if len(applied) != 0 {
				t.Fatalf("clear left %d entries", len(applied))
			}

			other, _ := s.LastApplied("other")
			if other[cfg] != "h3" {
				t.Fatalf("clear leaked across applications: %v", other)
			}
		})
	}
}

func TestOperationsNewestFirst(t *testing.T) {
	testlog.Start(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				op := state.SyncOperation{
					ID:          string(rune('a' + i)),
					Application: "checkout",
					Revision:    state.Revision("rev"),
					Phase:       state.SyncPhaseSucceeded,
					StartedAt:   base.Add(time.Duration(i) * time.Minute),
				}
				if err := s.AppendOperation(op); err != nil {
					t.Fatalf("append: %v", err)
				}
			}

			ops, err := s.Operations("checkout", 0)
			if err != nil {
				t.Fatalf("operations: %v", err)
			}
			if len(ops) != 5 {
				t.Fatalf("expected 5 ops, got %d", len(ops))
			}
			for i := 1; i < len(ops); i++ {
				if ops[i].StartedAt.After(ops[i-1].StartedAt) {
					t.Fatalf("ops not newest-first at %d", i)
				}
			}

			ops, _ = s.Operations("checkout", 2)
			if len(ops) != 2 {
				t.Fatalf("limit ignored, got %d", len(ops))
			}
			if ops[0].ID != "e" {
				t.Fatalf("expected newest op first, got %s", ops[0].ID)
			}

			ops, _ = s.Operations("missing", 0)
			if len(ops) != 0 {
				t.Fatalf("unknown application returned %d ops", len(ops))
			}
		})
	}
}

func TestBadgerSurvivesReopen(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	id := state.ResourceID{Kind: state.KindWorkload, Namespace: "edge", Name: "api"}

	b, err := OpenBadger(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := b.PutLastApplied("checkout", id, "h1"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := b.AppendOperation(state.SyncOperation{
		ID: "op-1", Application: "checkout", Phase: state.SyncPhaseSucceeded,
		StartedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err = OpenBadger(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()

	applied, err := b.LastApplied("checkout")
	if err != nil {
		t.Fatalf("last applied: %v", err)
	}
	if applied[id] != "h1" {
		t.Fatalf("bookkeeping lost across reopen: %v", applied)
	}
	ops, _ := b.Operations("checkout", 0)
	if len(ops) != 1 || ops[0].ID != "op-1" {
		t.Fatalf("operation history lost across reopen: %v", ops)
	}
}
