package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/tidectl/internal/cluster"
	"github.com/danmuck/tidectl/internal/diff"
	"github.com/danmuck/tidectl/internal/state"
	"github.com/danmuck/tidectl/internal/store"
	"github.com/danmuck/tidectl/internal/testutil/testlog"
)

func fastConfig() Config {
	return Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func desc(kind, ns, name, payload string) state.Descriptor {
	return state.Descriptor{
		ID:      state.ResourceID{Kind: kind, Namespace: ns, Name: name},
		Content: map[string]any{"payload": payload},
	}
}

func plan(desired *state.Tree, applied map[state.ResourceID]string, live *state.Tree, t *testing.T) diff.ChangeSet {
	t.Helper()
	cs, err := diff.ThreeWay(desired, applied, live, diff.Options{Prune: true, SelfHeal: true})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	return cs
}

func TestExecuteConvergesAndIsIdempotent(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	mem := cluster.NewMemory()
	st := store.NewMemory()
	r := New(mem, st, fastConfig())

	desired := state.NewTree(
		desc(state.KindNamespace, "", "edge", "ns"),
		desc(state.KindConfig, "edge", "settings", "v1"),
		desc(state.KindWorkload, "edge", "api", "v1"),
	)

	applied, _ := st.LastApplied("checkout")
	op, err := r.Execute(ctx, "checkout", plan(desired, applied, state.NewTree(), t))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if op.Phase != state.SyncPhaseSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", op.Phase, op.Message)
	}
	if len(op.Changes) != 3 {
		t.Fatalf("expected 3 changes, got %d", len(op.Changes))
	}

	applied, _ = st.LastApplied("checkout")
	if len(applied) != 3 {
		t.Fatalf("bookkeeping incomplete: %v", applied)
	}

	// A second pass over converged state must not mutate the cluster.
	before := mem.MutationCount()
	live, _ := cluster.LiveTree(ctx, mem, "edge")
	op, err = r.Execute(ctx, "checkout", plan(desired, applied, live, t))
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if op.Phase != state.SyncPhaseSucceeded || op.Message != "already converged" {
		t.Fatalf("expected converged no-op, got %s (%s)", op.Phase, op.Message)
	}
	if mem.MutationCount() != before {
		t.Fatalf("converged pass mutated cluster: %d -> %d", before, mem.MutationCount())
	}
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	testlog.Start(t)
	mem := cluster.NewMemory()
	st := store.NewMemory()
	r := New(mem, st, fastConfig())

	desired := state.NewTree(desc(state.KindConfig, "edge", "settings", "v1"))
	mem.FailNext(2)

	op, err := r.Execute(context.Background(), "checkout", plan(desired, nil, state.NewTree(), t))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if op.Phase != state.SyncPhaseSucceeded {
		t.Fatalf("expected succeeded after retries, got %s", op.Phase)
	}
	if op.Changes[0].Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", op.Changes[0].Attempts)
	}
}

func TestExecuteRejectionFailsResourceNotOperation(t *testing.T) {
	testlog.Start(t)
	mem := cluster.NewMemory()
	st := store.NewMemory()
	r := New(mem, st, fastConfig())
	mem.RejectKind(state.KindSecret)

	desired := state.NewTree(
		desc(state.KindConfig, "edge", "settings", "v1"),
		desc(state.KindSecret, "edge", "creds", "v1"),
		desc(state.KindService, "edge", "api", "v1"),
	)

	op, err := r.Execute(context.Background(), "checkout", plan(desired, nil, state.NewTree(), t))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if op.Phase != state.SyncPhaseFailed {
		t.Fatalf("expected failed, got %s", op.Phase)
	}

	var rejected, succeeded int
	for _, ch := range op.Changes {
		if ch.Error != "" {
			rejected++
			if ch.ID.Kind != state.KindSecret {
				t.Fatalf("unexpected rejected change: %+v", ch)
			}
		} else {
			succeeded++
		}
	}
	if rejected != 1 || succeeded != 2 {
		t.Fatalf("expected rejection isolated to one resource: %d rejected, %d ok", rejected, succeeded)
	}

	// The healthy resources still got bookkeeping; the rejected one did not.
	applied, _ := st.LastApplied("checkout")
	if len(applied) != 2 {
		t.Fatalf("expected 2 bookkeeping entries, got %d", len(applied))
	}
}

func TestExecuteUnreachableClusterErrorsOut(t *testing.T) {
	testlog.Start(t)
	mem := cluster.NewMemory()
	st := store.NewMemory()
	r := New(mem, st, fastConfig())
	mem.SetUnreachable(true)

	desired := state.NewTree(desc(state.KindConfig, "edge", "settings", "v1"))
	op, err := r.Execute(context.Background(), "checkout", plan(desired, nil, state.NewTree(), t))
	if !errors.Is(err, ErrClusterDown) {
		t.Fatalf("expected ErrClusterDown, got %v", err)
	}
	if op.Phase != state.SyncPhaseError {
		t.Fatalf("expected error phase, got %s", op.Phase)
	}

	ops, _ := st.Operations("checkout", 0)
	if len(ops) != 1 || ops[0].Phase != state.SyncPhaseError {
		t.Fatalf("errored operation missing from history: %v", ops)
	}
}

func TestExecuteDeleteClearsBookkeeping(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	mem := cluster.NewMemory()
	st := store.NewMemory()
	r := New(mem, st, fastConfig())

	stale := desc(state.KindConfig, "edge", "old", "v1")
	if err := mem.Apply(ctx, stale); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := st.PutLastApplied("checkout", stale.ID, state.HashContent(stale.Content)); err != nil {
		t.Fatalf("seed bookkeeping: %v", err)
	}

	applied, _ := st.LastApplied("checkout")
	live, _ := cluster.LiveTree(ctx, mem, "edge")
	op, err := r.Execute(ctx, "checkout", plan(state.NewTree(), applied, live, t))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if op.Phase != state.SyncPhaseSucceeded {
		t.Fatalf("expected succeeded, got %s", op.Phase)
	}
	if _, err := mem.Get(ctx, stale.ID); !errors.Is(err, cluster.ErrNotFound) {
		t.Fatalf("resource not pruned: %v", err)
	}
	applied, _ = st.LastApplied("checkout")
	if len(applied) != 0 {
		t.Fatalf("bookkeeping not cleared: %v", applied)
	}
}

func TestExecuteDiscardClearsStaleBookkeeping(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	mem := cluster.NewMemory()
	st := store.NewMemory()
	r := New(mem, st, fastConfig())

	cfg := desc(state.KindConfig, "edge", "settings", "v1")
	if err := st.PutLastApplied("checkout", cfg.ID, state.HashContent(cfg.Content)); err != nil {
		t.Fatalf("seed bookkeeping: %v", err)
	}

	// Prune pass with the resource already gone from desired and live.
	applied, _ := st.LastApplied("checkout")
	cs, err := diff.ThreeWay(state.NewTree(), applied, state.NewTree(), diff.Options{Prune: true})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	op, err := r.Execute(ctx, "checkout", cs)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if op.Phase != state.SyncPhaseSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", op.Phase, op.Message)
	}
	applied, _ = st.LastApplied("checkout")
	if len(applied) != 0 {
		t.Fatalf("stale bookkeeping survived: %v", applied)
	}

	// Re-adding the resource now plans a plain create even without
	// self-heal, instead of reading as an out-of-band deletion.
	cs, err = diff.ThreeWay(state.NewTree(cfg), applied, state.NewTree(), diff.Options{Prune: true})
	if err != nil {
		t.Fatalf("re-add plan: %v", err)
	}
	if len(cs.Changes) != 1 || cs.Changes[0].Action != diff.ActionCreate {
		t.Fatalf("expected single create, got %+v", cs.Changes)
	}
}
