package health

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/tidectl/internal/state"
)

var (
	ErrRuleExists = errors.New("health: rule already exists")
	ErrRuleNil    = errors.New("health: rule is nil")
)

// Rule computes health for one resource kind from its live descriptor.
type Rule interface {
	Kind() string
	Assess(d state.Descriptor) (Status, string)
}

// Registry dispatches assessment over the closed resource-kind set.
// Kinds without a rule assess as Healthy: presence is the only signal the
// engine has for them.
type Registry struct {
	items map[string]Rule
}

// NewRegistry creates an empty rule registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Rule)}
}

// DefaultRegistry returns the built-in rules for the known kind set.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	// Registration of built-ins cannot collide.
	_ = r.Register(WorkloadRule{RestartThreshold: 5})
	_ = r.Register(ServiceRule{})
	return r
}

// Register adds one kind rule.
func (r *Registry) Register(rule Rule) error {
	if rule == nil {
		return ErrRuleNil
	}
	kind := strings.TrimSpace(rule.Kind())
	if kind == "" {
		return fmt.Errorf("health: rule kind required")
	}
	if _, ok := r.items[kind]; ok {
		return fmt.Errorf("%w: %s", ErrRuleExists, kind)
	}
	r.items[kind] = rule
	return nil
}

// Assess dispatches one live descriptor to its kind rule.
func (r *Registry) Assess(d state.Descriptor) (Status, string) {
	rule, ok := r.items[d.ID.Kind]
	if !ok {
		return StatusHealthy, ""
	}
	return rule.Assess(d)
}

// Kinds returns registered kinds in deterministic order.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.items))
	for kind := range r.items {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

// WorkloadRule assesses replicated workloads from spec/status counters.
//
// Healthy: ready replicas match desired and restarts stay under threshold.
// Progressing: fewer ready than desired while an update is still moving.
// Degraded: ready persistently below desired after the grace window, or
// restart churn above threshold.
type WorkloadRule struct {
	RestartThreshold int
}

func (WorkloadRule) Kind() string { return state.KindWorkload }

func (r WorkloadRule) Assess(d state.Descriptor) (Status, string) {
	desired := intPath(d.Content, "spec", "replicas")
	ready := intPath(d.Content, "status", "ready_replicas")
	restarts := intPath(d.Content, "status", "restarts")
	stalled := boolPath(d.Content, "status", "stalled")

	if desired <= 0 {
		// Scale-to-zero workloads are healthy when nothing runs.
		if ready == 0 {
			return StatusHealthy, ""
		}
		return StatusProgressing, fmt.Sprintf("scaling down, %d replica(s) remain", ready)
	}
	if restarts > r.RestartThreshold {
		return StatusDegraded, fmt.Sprintf("%d restarts exceed threshold %d", restarts, r.RestartThreshold)
	}
	if ready < desired {
		if stalled {
			return StatusDegraded, fmt.Sprintf("%d/%d ready past grace period", ready, desired)
		}
		return StatusProgressing, fmt.Sprintf("%d/%d ready", ready, desired)
	}
	return StatusHealthy, ""
}

// ServiceRule assesses services from endpoint counts.
type ServiceRule struct{}

func (ServiceRule) Kind() string { return state.KindService }

func (ServiceRule) Assess(d state.Descriptor) (Status, string) {
	endpoints := intPath(d.Content, "status", "endpoints")
	if endpoints > 0 {
		return StatusHealthy, ""
	}
	if _, ok := mapPath(d.Content, "status"); !ok {
		return StatusUnknown, "no status reported"
	}
	return StatusDegraded, "no ready endpoints"
}

func mapPath(content map[string]any, keys ...string) (map[string]any, bool) {
	cur := content
	for _, key := range keys {
		next, ok := cur[key].(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func intPath(content map[string]any, keys ...string) int {
	parent, ok := mapPath(content, keys[:len(keys)-1]...)
	if !ok {
		return 0
	}
	switch v := parent[keys[len(keys)-1]].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func boolPath(content map[string]any, keys ...string) bool {
	parent, ok := mapPath(content, keys[:len(keys)-1]...)
	if !ok {
		return false
	}
	v, _ := parent[keys[len(keys)-1]].(bool)
	return v
}
