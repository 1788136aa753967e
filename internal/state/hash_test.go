package state

import (
	"testing"

	"github.com/danmuck/tidectl/internal/testutil/testlog"
)

func TestHashContentStableAcrossKeyOrder(t *testing.T) {
	testlog.Start(t)

	a := map[string]any{"replicas": 3, "image": "app:v1", "labels": map[string]any{"tier": "web", "env": "prod"}}
	b := map[string]any{"labels": map[string]any{"env": "prod", "tier": "web"}, "image": "app:v1", "replicas": 3}

	if HashContent(a) != HashContent(b) {
		t.Fatalf("expected identical hashes for reordered content")
	}
}

func TestHashContentDetectsChange(t *testing.T) {
	testlog.Start(t)

	a := map[string]any{"replicas": 3}
	b := map[string]any{"replicas": 4}
	if HashContent(a) == HashContent(b) {
		t.Fatalf("expected different hashes for different content")
	}
}

func TestHashContentNormalizesYAMLMaps(t *testing.T) {
	testlog.Start(t)

	a := map[string]any{"spec": map[any]any{"replicas": 2}}
	b := map[string]any{"spec": map[string]any{"replicas": 2}}
	if HashContent(a) != HashContent(b) {
		t.Fatalf("expected yaml map normalization to converge hashes")
	}
}

func TestComputeRevisionDeterministic(t *testing.T) {
	testlog.Start(t)

	d1 := Descriptor{
		ID:      ResourceID{Kind: KindWorkload, Namespace: "prod", Name: "api"},
		Content: map[string]any{"replicas": 2},
	}
	d2 := Descriptor{
		ID:      ResourceID{Kind: KindConfig, Namespace: "prod", Name: "api-env"},
		Content: map[string]any{"data": map[string]any{"mode": "live"}},
	}

	r1 := ComputeRevision(NewTree(d1, d2))
	r2 := ComputeRevision(NewTree(d2, d1))
	if r1 != r2 {
		t.Fatalf("revision depends on insertion order: %s vs %s", r1, r2)
	}

	d1.Content["replicas"] = 5
	r3 := ComputeRevision(NewTree(d1, d2))
	if r3 == r1 {
		t.Fatalf("expected revision change after content change")
	}
}

func TestTreeImmutableAgainstCallerMutation(t *testing.T) {
	testlog.Start(t)

	content := map[string]any{"replicas": 1}
	d := Descriptor{ID: ResourceID{Kind: KindWorkload, Namespace: "prod", Name: "api"}, Content: content}
	tree := NewTree(d)
	before := ComputeRevision(tree)

	content["replicas"] = 9
	if got := ComputeRevision(tree); got != before {
		t.Fatalf("tree mutated through caller reference")
	}

	fetched, ok := tree.Get(d.ID)
	if !ok {
		t.Fatalf("expected descriptor in tree")
	}
	fetched.Content["replicas"] = 42
	if got := ComputeRevision(tree); got != before {
		t.Fatalf("tree mutated through fetched copy")
	}
}
