package health

import (
	"errors"
	"testing"

	"github.com/danmuck/tidectl/internal/state"
	"github.com/danmuck/tidectl/internal/testutil/testlog"
)

func workloadWithStatus(name string, desired, ready, restarts int, stalled bool) state.Descriptor {
	return state.Descriptor{
		ID: state.ResourceID{Kind: state.KindWorkload, Namespace: "prod", Name: name},
		Content: map[string]any{
			"spec": map[string]any{"replicas": desired},
			"status": map[string]any{
				"ready_replicas": ready,
				"restarts":       restarts,
				"stalled":        stalled,
			},
		},
	}
}

func TestWorseFollowsSeverityOrder(t *testing.T) {
	testlog.Start(t)

	ordered := []Status{StatusHealthy, StatusProgressing, StatusUnknown, StatusDegraded, StatusMissing}
	for i := range ordered {
		for j := range ordered {
			want := ordered[i]
			if j > i {
				want = ordered[j]
			}
			if got := Worse(ordered[i], ordered[j]); got != want {
				t.Fatalf("Worse(%s, %s) = %s, want %s", ordered[i], ordered[j], got, want)
			}
		}
	}
}

func TestWorkloadRule(t *testing.T) {
	testlog.Start(t)

	rule := WorkloadRule{RestartThreshold: 5}
	cases := []struct {
		name string
		desc state.Descriptor
		want Status
	}{
		{"healthy", workloadWithStatus("api", 3, 3, 1, false), StatusHealthy},
		{"progressing", workloadWithStatus("api", 3, 1, 0, false), StatusProgressing},
		{"degraded after grace", workloadWithStatus("api", 3, 1, 0, true), StatusDegraded},
		{"restart churn", workloadWithStatus("api", 3, 3, 9, false), StatusDegraded},
		{"scaled to zero", workloadWithStatus("api", 0, 0, 0, false), StatusHealthy},
	}
	for _, tc := range cases {
		if got, _ := rule.Assess(tc.desc); got != tc.want {
			t.Fatalf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}

func TestServiceRule(t *testing.T) {
	testlog.Start(t)

	rule := ServiceRule{}
	ready := state.Descriptor{
		ID:      state.ResourceID{Kind: state.KindService, Namespace: "prod", Name: "api"},
		Content: map[string]any{"status": map[string]any{"endpoints": 2}},
	}
	if got, _ := rule.Assess(ready); got != StatusHealthy {
		t.Fatalf("expected healthy service, got %s", got)
	}

	empty := state.Descriptor{
		ID:      state.ResourceID{Kind: state.KindService, Namespace: "prod", Name: "api"},
		Content: map[string]any{"status": map[string]any{"endpoints": 0}},
	}
	if got, _ := rule.Assess(empty); got != StatusDegraded {
		t.Fatalf("expected degraded service, got %s", got)
	}

	unreported := state.Descriptor{
		ID:      state.ResourceID{Kind: state.KindService, Namespace: "prod", Name: "api"},
		Content: map[string]any{"spec": map[string]any{"port": 80}},
	}
	if got, _ := rule.Assess(unreported); got != StatusUnknown {
		t.Fatalf("expected unknown service, got %s", got)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	testlog.Start(t)

	r := NewRegistry()
	if err := r.Register(ServiceRule{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(ServiceRule{}); !errors.Is(err, ErrRuleExists) {
		t.Fatalf("expected ErrRuleExists, got %v", err)
	}
	if err := r.Register(nil); !errors.Is(err, ErrRuleNil) {
		t.Fatalf("expected ErrRuleNil, got %v", err)
	}
}

func TestAssessAggregatesWorst(t *testing.T) {
	testlog.Start(t)

	reg := DefaultRegistry()
	healthyWL := workloadWithStatus("api", 2, 2, 0, false)
	progressing := workloadWithStatus("worker", 2, 1, 0, false)
	cfg := state.Descriptor{
		ID:      state.ResourceID{Kind: state.KindConfig, Namespace: "prod", Name: "env"},
		Content: map[string]any{"data": map[string]any{}},
	}

	desired := state.NewTree(healthyWL, progressing, cfg)
	live := state.NewTree(healthyWL, progressing, cfg)

	got := Assess(reg, desired, live)
	if got.Status != StatusProgressing {
		t.Fatalf("expected progressing aggregate, got %s", got.Status)
	}

	// Remove a resource from live state: aggregate worsens to missing.
	live = state.NewTree(healthyWL, progressing)
	got = Assess(reg, desired, live)
	if got.Status != StatusMissing {
		t.Fatalf("expected missing aggregate, got %s", got.Status)
	}

	// Config has no kind rule: presence alone reads healthy.
	got = Assess(reg, state.NewTree(cfg), state.NewTree(cfg))
	if got.Status != StatusHealthy {
		t.Fatalf("expected healthy ruleless kind, got %s", got.Status)
	}
}
