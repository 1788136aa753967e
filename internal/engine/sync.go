package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/tidectl/internal/cluster"
	"github.com/danmuck/tidectl/internal/diff"
	"github.com/danmuck/tidectl/internal/health"
	"github.com/danmuck/tidectl/internal/rollout"
	"github.com/danmuck/tidectl/internal/state"
)

// sync is the scheduler callback: one full reconciliation pass for one
// application at one revision.
func (e *Engine) sync(ctx context.Context, name string, rev state.Revision) error {
	e.mu.RLock()
	as, ok := e.apps[name]
	var task *rollout.Task
	if ok {
		task = as.task
	}
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownApplication, name)
	}
	spec := as.spec

	ref := spec.App.Source
	ref.Revision = string(rev)
	fetchedRev, desired, err := e.src.Fetch(ctx, ref)
	if err != nil {
		e.updateStatus(name, func(s *Status) { s.SyncStatus = state.SyncStatusUnknown })
		return fmt.Errorf("engine: fetch %s: %w", name, err)
	}

	applied, err := e.store.LastApplied(name)
	if err != nil {
		return err
	}
	live, err := cluster.LiveTree(ctx, e.cluster, spec.App.Destination.Namespace)
	if err != nil {
		e.updateStatus(name, func(s *Status) { s.SyncStatus = state.SyncStatusUnknown })
		return fmt.Errorf("engine: live read %s: %w", name, err)
	}

	plan, planErr := diff.ThreeWay(desired, applied, live, diff.Options{
		Prune:    spec.App.Policy.Prune,
		SelfHeal: spec.App.Policy.SelfHeal,
	})
	if planErr != nil && !errors.Is(planErr, diff.ErrResourceConflict) {
		return planErr
	}
	if planErr != nil {
		// Conflicted resources were held out of the plan; the rest proceeds.
		log.Warn().
			Str("application", name).
			Int("conflicts", len(plan.Conflicts)).
			Msg("drift conflicts excluded from sync")
	}

	op, execErr := e.rec.Execute(ctx, name, plan)

	// Reassess against fresh live state; a partial pass still moves health.
	if after, err := cluster.LiveTree(ctx, e.cluster, spec.App.Destination.Namespace); err == nil {
		live = after
	}
	appHealth := health.Assess(e.rules, desired, live)

	e.updateStatus(name, func(s *Status) {
		s.Revision = fetchedRev
		s.LastOperation = &op
		s.Health = appHealth
		s.Orphans = plan.Orphans
		s.Conflicts = plan.Conflicts
		switch {
		case op.Phase == state.SyncPhaseError:
			s.SyncStatus = state.SyncStatusUnknown
		case op.Phase == state.SyncPhaseSucceeded && len(plan.Conflicts) == 0:
			s.SyncStatus = state.SyncStatusSynced
		default:
			s.SyncStatus = state.SyncStatusOutOfSync
		}
	})

	if execErr != nil {
		return execErr
	}

	// A clean sync that changed the rollout's workload hands the revision
	// to the canary. Config-only changes leave a live rollout alone.
	if task != nil && op.Phase == state.SyncPhaseSucceeded && touchesWorkload(plan, spec.Workload) {
		if err := task.Begin(ctx, fetchedRev); err != nil {
			log.Warn().Str("application", name).Err(err).Msg("rollout begin refused")
		}
	}
	return nil
}

// touchesWorkload reports whether the plan creates or updates the named
// workload resource.
func touchesWorkload(cs diff.ChangeSet, workload string) bool {
	for _, ch := range cs.Changes {
		if ch.Action == diff.ActionDelete {
			continue
		}
		if ch.ID.Kind == state.KindWorkload && ch.ID.Name == workload {
			return true
		}
	}
	return false
}

// clusterShifter writes canary weight into a managed traffic resource, so
// weight changes flow through the same apply path as everything else.
type clusterShifter struct {
	cluster   cluster.Interface
	namespace string
}

func (c *clusterShifter) SetWeight(ctx context.Context, workload string, percent int) error {
	if c.cluster == nil {
		return nil
	}
	ns := c.namespace
	if ns == "" {
		ns = "default"
	}
	return c.cluster.Apply(ctx, state.Descriptor{
		ID: state.ResourceID{
			Kind:      state.KindConfig,
			Namespace: ns,
			Name:      workload + "-traffic",
		},
		Content: map[string]any{
			"workload":       workload,
			"canary_percent": percent,
		},
	})
}
