package diff

import (
	"errors"
	"testing"

	"github.com/danmuck/tidectl/internal/state"
	"github.com/danmuck/tidectl/internal/testutil/testlog"
)

func workload(name string, replicas int) state.Descriptor {
	return state.Descriptor{
		ID:      state.ResourceID{Kind: state.KindWorkload, Namespace: "prod", Name: name},
		Content: map[string]any{"replicas": replicas, "image": "app:v1"},
	}
}

func namespace(name string) state.Descriptor {
	return state.Descriptor{
		ID:      state.ResourceID{Kind: state.KindNamespace, Name: name},
		Content: map[string]any{"name": name},
	}
}

func config(name string) state.Descriptor {
	return state.Descriptor{
		ID:      state.ResourceID{Kind: state.KindConfig, Namespace: "prod", Name: name},
		Content: map[string]any{"data": map[string]any{"mode": "live"}},
	}
}

func applied(descs ...state.Descriptor) map[state.ResourceID]string {
	out := make(map[state.ResourceID]string, len(descs))
	for _, d := range descs {
		out[d.ID] = state.HashContent(d.Content)
	}
	return out
}

func TestThreeWayCreateMissingResource(t *testing.T) {
	testlog.Start(t)

	r := workload("api", 2)
	cs, err := ThreeWay(state.NewTree(r), nil, state.NewTree(), Options{})
	if err != nil {
		t.Fatalf("three-way: %v", err)
	}
	if len(cs.Changes) != 1 {
		t.Fatalf("expected single change, got %d", len(cs.Changes))
	}
	if cs.Changes[0].Action != ActionCreate || cs.Changes[0].ID != r.ID {
		t.Fatalf("unexpected change: %+v", cs.Changes[0])
	}
}

func TestThreeWayConvergedIsEmpty(t *testing.T) {
	testlog.Start(t)

	r := workload("api", 2)
	cs, err := ThreeWay(state.NewTree(r), applied(r), state.NewTree(r), Options{Prune: true})
	if err != nil {
		t.Fatalf("three-way: %v", err)
	}
	if !cs.Empty() {
		t.Fatalf("expected empty change-set, got %+v", cs.Changes)
	}
	if len(cs.Orphans) != 0 || len(cs.Conflicts) != 0 {
		t.Fatalf("expected clean converged plan: %+v", cs)
	}
}

func TestThreeWayApplyOrdering(t *testing.T) {
	testlog.Start(t)

	ns := namespace("prod")
	cfg := config("api-env")
	wl := workload("api", 2)
	stale := config("old-env")
	staleNS := namespace("legacy")

	desired := state.NewTree(wl, cfg, ns)
	lastApplied := applied(stale, staleNS)
	live := state.NewTree(stale, staleNS)

	cs, err := ThreeWay(desired, lastApplied, live, Options{Prune: true})
	if err != nil {
		t.Fatalf("three-way: %v", err)
	}

	var got []string
	for _, c := range cs.Changes {
		got = append(got, c.Action+":"+c.ID.String())
	}
	want := []string{
		"create:Namespace//prod",
		"create:Config/prod/api-env",
		"create:Workload/prod/api",
		"delete:Config/prod/old-env",
		"delete:Namespace//legacy",
	}
	if len(got) != len(want) {
		t.Fatalf("change count mismatch: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch at %d: got %v want %v", i, got, want)
		}
	}
}

func TestThreeWayPrunedWhileGoneIsDiscarded(t *testing.T) {
	testlog.Start(t)

	stale := config("settings")
	cs, err := ThreeWay(state.NewTree(), applied(stale), state.NewTree(), Options{Prune: true})
	if err != nil {
		t.Fatalf("three-way: %v", err)
	}
	if !cs.Empty() {
		t.Fatalf("expected no cluster operations, got %+v", cs.Changes)
	}
	if len(cs.Discard) != 1 || cs.Discard[0] != stale.ID {
		t.Fatalf("expected bookkeeping discard for %s, got %+v", stale.ID, cs.Discard)
	}
}

func TestThreeWayOrphanWithoutPrune(t *testing.T) {
	testlog.Start(t)

	stale := config("old-env")
	cs, err := ThreeWay(state.NewTree(), applied(stale), state.NewTree(stale), Options{Prune: false})
	if err != nil {
		t.Fatalf("three-way: %v", err)
	}
	if !cs.Empty() {
		t.Fatalf("expected no cluster operations, got %+v", cs.Changes)
	}
	if len(cs.Orphans) != 1 || cs.Orphans[0] != stale.ID {
		t.Fatalf("expected orphan report for %s, got %+v", stale.ID, cs.Orphans)
	}
}

func TestThreeWayDriftConflictWithoutSelfHeal(t *testing.T) {
	testlog.Start(t)

	want := workload("api", 2)
	drifted := workload("api", 7)
	cs, err := ThreeWay(state.NewTree(want), applied(want), state.NewTree(drifted), Options{SelfHeal: false})
	if !errors.Is(err, ErrResourceConflict) {
		t.Fatalf("expected ErrResourceConflict, got %v", err)
	}
	if len(cs.Conflicts) != 1 || cs.Conflicts[0].ID != want.ID {
		t.Fatalf("expected conflict report, got %+v", cs.Conflicts)
	}
	if !cs.Empty() {
		t.Fatalf("conflicted resource must not be planned: %+v", cs.Changes)
	}
}

func TestThreeWayDriftFoldedWithSelfHeal(t *testing.T) {
	testlog.Start(t)

	want := workload("api", 2)
	drifted := workload("api", 7)
	cs, err := ThreeWay(state.NewTree(want), applied(want), state.NewTree(drifted), Options{SelfHeal: true})
	if err != nil {
		t.Fatalf("three-way: %v", err)
	}
	if len(cs.Changes) != 1 || cs.Changes[0].Action != ActionUpdate {
		t.Fatalf("expected heal update, got %+v", cs.Changes)
	}
}

func TestThreeWayRecreateAfterOutOfBandDelete(t *testing.T) {
	testlog.Start(t)

	want := workload("api", 2)

	// Self-heal disabled: missing applied resource is a conflict.
	cs, err := ThreeWay(state.NewTree(want), applied(want), state.NewTree(), Options{SelfHeal: false})
	if !errors.Is(err, ErrResourceConflict) {
		t.Fatalf("expected conflict for deleted live resource, got %v", err)
	}
	if !cs.Empty() {
		t.Fatalf("expected no planned changes under conflict")
	}

	// Self-heal enabled: recreate.
	cs, err = ThreeWay(state.NewTree(want), applied(want), state.NewTree(), Options{SelfHeal: true})
	if err != nil {
		t.Fatalf("three-way: %v", err)
	}
	if len(cs.Changes) != 1 || cs.Changes[0].Action != ActionCreate {
		t.Fatalf("expected recreate, got %+v", cs.Changes)
	}
}

func TestThreeWayPruneSkipsAlreadyGone(t *testing.T) {
	testlog.Start(t)

	stale := config("old-env")
	cs, err := ThreeWay(state.NewTree(), applied(stale), state.NewTree(), Options{Prune: true})
	if err != nil {
		t.Fatalf("three-way: %v", err)
	}
	if !cs.Empty() {
		t.Fatalf("expected no delete for resource already gone, got %+v", cs.Changes)
	}
}
