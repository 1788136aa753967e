package health

import (
	"github.com/danmuck/tidectl/internal/state"
)

// Status is one resource or application health value.
type Status string

const (
	StatusHealthy     Status = "healthy"
	StatusProgressing Status = "progressing"
	StatusUnknown     Status = "unknown"
	StatusDegraded    Status = "degraded"
	StatusMissing     Status = "missing"
)

// severity fixes the aggregation order: Healthy < Progressing < Unknown <
// Degraded < Missing.
var severity = map[Status]int{
	StatusHealthy:     0,
	StatusProgressing: 1,
	StatusUnknown:     2,
	StatusDegraded:    3,
	StatusMissing:     4,
}

// Worse returns the more severe of two statuses.
func Worse(a, b Status) Status {
	if severity[b] > severity[a] {
		return b
	}
	return a
}

// ResourceHealth pairs one identity with its assessed status.
type ResourceHealth struct {
	ID     state.ResourceID `json:"id"`
	Status Status           `json:"status"`
	Detail string           `json:"detail,omitempty"`
}

// AppHealth is the aggregated application view.
type AppHealth struct {
	Status    Status           `json:"status"`
	Resources []ResourceHealth `json:"resources"`
}

// Assess maps every desired resource to a status using the registry rules
// and aggregates to the worst observed status. Desired resources absent
// from live state are Missing; an empty application is Healthy.
func Assess(reg *Registry, desired *state.Tree, live *state.Tree) AppHealth {
	out := AppHealth{Status: StatusHealthy}
	for _, id := range desired.IDs() {
		rh := ResourceHealth{ID: id}
		got, inLive := live.Get(id)
		if !inLive {
			rh.Status = StatusMissing
			rh.Detail = "not present in live state"
		} else {
			rh.Status, rh.Detail = reg.Assess(got)
		}
		out.Resources = append(out.Resources, rh)
		out.Status = Worse(out.Status, rh.Status)
	}
	return out
}
