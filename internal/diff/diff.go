package diff

import (
	"errors"
	"fmt"
	"sort"

	"github.com/danmuck/tidectl/internal/state"
)

var ErrResourceConflict = errors.New("diff: resource conflict")

// Actions inside a change-set. Creates precede updates precede deletes.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Change is one planned operation against the cluster.
type Change struct {
	Action  string           `json:"action"`
	ID      state.ResourceID `json:"id"`
	Desired state.Descriptor `json:"desired,omitempty"`
	Reason  string           `json:"reason,omitempty"`
}

// Conflict records out-of-band live drift on a self-heal-disabled application.
type Conflict struct {
	ID              state.ResourceID `json:"id"`
	LastAppliedHash string           `json:"last_applied_hash"`
	LiveHash        string           `json:"live_hash"`
}

// ChangeSet is the ordered plan produced by one three-way comparison.
// Discard lists last-applied entries whose resources are already gone from
// live; they need their bookkeeping dropped but no cluster call.
type ChangeSet struct {
	Revision  state.Revision     `json:"revision"`
	Changes   []Change           `json:"changes"`
	Discard   []state.ResourceID `json:"discard,omitempty"`
	Orphans   []state.ResourceID `json:"orphans,omitempty"`
	Conflicts []Conflict         `json:"conflicts,omitempty"`
}

// Empty reports whether the plan carries no cluster operations.
func (cs ChangeSet) Empty() bool {
	return len(cs.Changes) == 0
}

// Options carry the application policy bits the planner honors.
type Options struct {
	Prune    bool
	SelfHeal bool
}

// ThreeWay compares desired, last-applied hashes, and live state into an
// ordered change-set.
//
// Rules:
// - desired == live content hash: omitted (idempotent no-op)
// - desired absent live: create
// - desired differs from live: update, unless the divergence is live drift
//   on a self-heal-disabled application, which becomes a Conflict and the
//   call fails with ErrResourceConflict (plan still returned for reporting)
// - last-applied but not desired: delete when prune is set, orphan
//   otherwise; a pruned resource already gone from live lands in Discard
//   so its bookkeeping is still cleared
func ThreeWay(desired *state.Tree, lastApplied map[state.ResourceID]string, live *state.Tree, opts Options) (ChangeSet, error) {
	out := ChangeSet{Revision: state.ComputeRevision(desired)}

	var creates, updates, deletes []Change

	for _, id := range desired.IDs() {
		want, _ := desired.Get(id)
		wantHash := state.HashContent(want.Content)

		got, inLive := live.Get(id)
		appliedHash, wasApplied := lastApplied[id]

		if !inLive {
			reason := "missing from live state"
			if wasApplied {
				// Applied before and gone now: deleted out of band.
				if !opts.SelfHeal {
					out.Conflicts = append(out.Conflicts, Conflict{ID: id, LastAppliedHash: appliedHash})
					continue
				}
				reason = "recreating resource deleted outside reconciliation"
			}
			creates = append(creates, Change{Action: ActionCreate, ID: id, Desired: want, Reason: reason})
			continue
		}

		liveHash := state.HashContent(got.Content)
		if liveHash == wantHash {
			// Converged; nothing to do regardless of bookkeeping.
			continue
		}

		drifted := wasApplied && liveHash != appliedHash
		if drifted && !opts.SelfHeal {
			out.Conflicts = append(out.Conflicts, Conflict{ID: id, LastAppliedHash: appliedHash, LiveHash: liveHash})
			continue
		}
		reason := "desired content changed"
		if drifted {
			reason = "healing live drift"
		}
		updates = append(updates, Change{Action: ActionUpdate, ID: id, Desired: want, Reason: reason})
	}

	for id := range lastApplied {
		if desired.Has(id) {
			continue
		}
		if !opts.Prune {
			out.Orphans = append(out.Orphans, id)
			continue
		}
		if !live.Has(id) {
			// Already gone; only the bookkeeping entry needs to go, and it
			// must go, or re-adding the resource later reads as drift.
			out.Discard = append(out.Discard, id)
			continue
		}
		deletes = append(deletes, Change{Action: ActionDelete, ID: id, Reason: "no longer desired"})
	}

	sortChanges(creates)
	sortChanges(updates)
	sortChangesReverse(deletes)

	out.Changes = append(out.Changes, creates...)
	out.Changes = append(out.Changes, updates...)
	out.Changes = append(out.Changes, deletes...)
	out.Discard = state.SortedIDs(out.Discard)
	out.Orphans = state.SortedIDs(out.Orphans)
	sort.Slice(out.Conflicts, func(i, j int) bool {
		return out.Conflicts[i].ID.String() < out.Conflicts[j].ID.String()
	})

	if len(out.Conflicts) > 0 {
		return out, fmt.Errorf("%w: %d drifted resource(s)", ErrResourceConflict, len(out.Conflicts))
	}
	return out, nil
}

func sortChanges(changes []Change) {
	sort.Slice(changes, func(i, j int) bool { return less(changes[i].ID, changes[j].ID) })
}

func sortChangesReverse(changes []Change) {
	sort.Slice(changes, func(i, j int) bool { return less(changes[j].ID, changes[i].ID) })
}
