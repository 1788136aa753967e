package diff

import (
	"sort"

	"github.com/danmuck/tidectl/internal/state"
)

// kindPrecedence is the static apply order for the closed kind set.
// Namespaces and resource definitions come first so dependents land in an
// existing scope; workloads come last. Deletes run in reverse.
var kindPrecedence = map[string]int{
	state.KindNamespace:          0,
	state.KindResourceDefinition: 1,
	state.KindConfig:             2,
	state.KindSecret:             3,
	state.KindService:            4,
	state.KindWorkload:           5,
}

const unknownKindPrecedence = 6

func precedence(kind string) int {
	if p, ok := kindPrecedence[kind]; ok {
		return p
	}
	return unknownKindPrecedence
}

// less orders two identities by precedence, then lexically for stability.
func less(a, b state.ResourceID) bool {
	pa, pb := precedence(a.Kind), precedence(b.Kind)
	if pa != pb {
		return pa < pb
	}
	return a.String() < b.String()
}

// ApplyOrder returns identities sorted into apply order. Callers deleting
// resources walk the result backwards.
func ApplyOrder(ids []state.ResourceID) []state.ResourceID {
	out := make([]state.ResourceID, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}
