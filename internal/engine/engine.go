package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/tidectl/internal/analysis"
	"github.com/danmuck/tidectl/internal/cluster"
	"github.com/danmuck/tidectl/internal/diff"
	"github.com/danmuck/tidectl/internal/health"
	"github.com/danmuck/tidectl/internal/reconcile"
	"github.com/danmuck/tidectl/internal/rollout"
	"github.com/danmuck/tidectl/internal/scheduler"
	"github.com/danmuck/tidectl/internal/source"
	"github.com/danmuck/tidectl/internal/state"
	"github.com/danmuck/tidectl/internal/store"
)

var (
	ErrUnknownApplication = errors.New("engine: unknown application")
	ErrNotRunning         = errors.New("engine: not running")
	ErrNoRollout          = errors.New("engine: application has no rollout")
)

// AppSpec is everything the engine needs to manage one application.
type AppSpec struct {
	App      state.Application
	Windows  scheduler.Windows
	Workload string
	Rollout  *rollout.Config
	Analysis *analysis.Spec
}

// Status is the engine's aggregated view of one application.
type Status struct {
	Application   string               `json:"application"`
	SyncStatus    string               `json:"sync_status"`
	Revision      state.Revision       `json:"revision,omitempty"`
	Health        health.AppHealth     `json:"health"`
	LastOperation *state.SyncOperation `json:"last_operation,omitempty"`
	Rollout       *rollout.Status      `json:"rollout,omitempty"`
	Orphans       []state.ResourceID   `json:"orphans,omitempty"`
	Conflicts     []diff.Conflict      `json:"conflicts,omitempty"`
}

type appState struct {
	spec   AppSpec
	status Status
	task   *rollout.Task
	stop   context.CancelFunc
}

// Options collect the engine's collaborators.
type Options struct {
	Source    source.Store
	Cluster   cluster.Interface
	Store     store.Store
	Health    *health.Registry
	Provider  analysis.Provider
	Shifter   rollout.TrafficShifter
	Reconcile reconcile.Config
}

// Engine coordinates sync scheduling, reconciliation, health, and rollouts
// for every registered application.
type Engine struct {
	src      source.Store
	cluster  cluster.Interface
	store    store.Store
	rules    *health.Registry
	provider analysis.Provider
	shifter  rollout.TrafficShifter
	rec      *reconcile.Reconciler
	sched    *scheduler.Scheduler

	mu    sync.RWMutex
	apps  map[string]*appState
	ctx   context.Context
	group *errgroup.Group
}

// New wires an engine; nil options fall back to safe defaults where one
// exists.
func New(opts Options) *Engine {
	if opts.Health == nil {
		opts.Health = health.DefaultRegistry()
	}
	e := &Engine{
		src:      opts.Source,
		cluster:  opts.Cluster,
		store:    opts.Store,
		rules:    opts.Health,
		provider: opts.Provider,
		shifter:  opts.Shifter,
		apps:     make(map[string]*appState),
	}
	if e.shifter == nil {
		e.shifter = &clusterShifter{cluster: opts.Cluster}
	}
	e.rec = reconcile.New(opts.Cluster, opts.Store, opts.Reconcile)
	e.sched = scheduler.New(e.sync)
	return e
}

// Run blocks until ctx ends, driving the scheduler and every rollout task.
func (e *Engine) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)

	e.mu.Lock()
	e.ctx = gctx
	e.group = group
	pending := make([]*appState, 0, len(e.apps))
	for _, as := range e.apps {
		if as.spec.Rollout != nil && as.task == nil {
			pending = append(pending, as)
		}
	}
	e.mu.Unlock()

	group.Go(func() error {
		err := e.sched.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	for _, as := range pending {
		e.mu.Lock()
		e.startRolloutLocked(as)
		e.mu.Unlock()
	}
	return group.Wait()
}

// Register adds one application and starts scheduling it.
func (e *Engine) Register(spec AppSpec) error {
	if err := spec.App.Validate(); err != nil {
		return err
	}
	name := strings.TrimSpace(spec.App.Name)

	if err := e.sched.Register(scheduler.AppConfig{
		Application: name,
		Mode:        spec.App.Policy.Mode,
		Windows:     spec.Windows,
	}); err != nil {
		return err
	}

	as := &appState{
		spec: spec,
		status: Status{
			Application: name,
			SyncStatus:  state.SyncStatusUnknown,
			Health:      health.AppHealth{Status: health.StatusUnknown},
		},
	}
	e.mu.Lock()
	e.apps[name] = as
	if e.ctx != nil && spec.Rollout != nil {
		e.startRolloutLocked(as)
	}
	e.mu.Unlock()

	log.Info().Str("application", name).Str("mode", spec.App.Policy.Mode).Msg("application registered")
	return nil
}

// Deregister removes an application. With cascade the engine deletes every
// resource it applied for the application before forgetting it.
func (e *Engine) Deregister(ctx context.Context, name string, cascade bool) error {
	e.mu.Lock()
	as, ok := e.apps[name]
	if ok {
		delete(e.apps, name)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownApplication, name)
	}

	e.sched.Deregister(name)
	if as.stop != nil {
		as.stop()
	}

	if cascade {
		applied, err := e.store.LastApplied(name)
		if err != nil {
			return err
		}
		// Reverse apply order, same as a prune pass.
		ids := diff.ApplyOrder(idsOf(applied))
		for i := len(ids) - 1; i >= 0; i-- {
			if err := e.cluster.Delete(ctx, ids[i]); err != nil && !errors.Is(err, cluster.ErrNotFound) {
				return fmt.Errorf("engine: cascade delete %s: %w", ids[i], err)
			}
		}
	}
	if err := e.store.ClearLastApplied(name); err != nil {
		return err
	}
	log.Info().Str("application", name).Bool("cascade", cascade).Msg("application deregistered")
	return nil
}

func idsOf(applied map[state.ResourceID]string) []state.ResourceID {
	out := make([]state.ResourceID, 0, len(applied))
	for id := range applied {
		out = append(out, id)
	}
	return out
}

// Trigger queues a sync. Source triggers on manual-mode applications are
// swallowed after marking the application out of sync, so operators can see
// pending drift without the engine acting on it.
func (e *Engine) Trigger(name string, rev state.Revision, cause string) error {
	err := e.sched.Trigger(name, rev, cause)
	if errors.Is(err, scheduler.ErrManualMode) {
		e.updateStatus(name, func(s *Status) {
			s.SyncStatus = state.SyncStatusOutOfSync
			s.Revision = rev
		})
		return nil
	}
	if errors.Is(err, scheduler.ErrUnknownApplication) {
		return fmt.Errorf("%w: %s", ErrUnknownApplication, name)
	}
	if errors.Is(err, scheduler.ErrNotRunning) {
		return ErrNotRunning
	}
	return err
}

// RolloutCommand forwards one manual command to an application's task and
// reports the state the rollout landed in.
func (e *Engine) RolloutCommand(ctx context.Context, name, command string) (rollout.Status, error) {
	e.mu.RLock()
	as, ok := e.apps[name]
	var task *rollout.Task
	if ok {
		task = as.task
	}
	e.mu.RUnlock()
	if !ok {
		return rollout.Status{}, fmt.Errorf("%w: %s", ErrUnknownApplication, name)
	}
	if task == nil {
		return rollout.Status{}, fmt.Errorf("%w: %s", ErrNoRollout, name)
	}
	if err := task.Command(ctx, command); err != nil {
		return rollout.Status{}, err
	}
	return task.Status(ctx)
}

// Status returns the aggregated view for one application.
func (e *Engine) Status(ctx context.Context, name string) (Status, error) {
	e.mu.RLock()
	as, ok := e.apps[name]
	var out Status
	var task *rollout.Task
	if ok {
		out = as.status
		task = as.task
	}
	e.mu.RUnlock()
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownApplication, name)
	}
	if task != nil {
		if rs, err := task.Status(ctx); err == nil {
			out.Rollout = &rs
		}
	}
	return out, nil
}

// List returns every application's status in registration map order.
func (e *Engine) List(ctx context.Context) []Status {
	e.mu.RLock()
	names := make([]string, 0, len(e.apps))
	for name := range e.apps {
		names = append(names, name)
	}
	e.mu.RUnlock()

	out := make([]Status, 0, len(names))
	for _, name := range names {
		if s, err := e.Status(ctx, name); err == nil {
			out = append(out, s)
		}
	}
	return out
}

// Operations returns recent sync history for one application.
func (e *Engine) Operations(name string, limit int) ([]state.SyncOperation, error) {
	e.mu.RLock()
	_, ok := e.apps[name]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownApplication, name)
	}
	return e.store.Operations(name, limit)
}

func (e *Engine) updateStatus(name string, f func(*Status)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if as, ok := e.apps[name]; ok {
		f(&as.status)
	}
}

func (e *Engine) startRolloutLocked(as *appState) {
	spec := as.spec
	var judge rollout.Judge
	if spec.Analysis != nil && e.provider != nil {
		eng, err := analysis.NewEngine(spec.Workload, e.provider, *spec.Analysis)
		if err != nil {
			log.Error().Str("application", spec.App.Name).Err(err).Msg("analysis spec rejected")
		} else {
			judge = rollout.JudgeFunc(func(ctx context.Context) string {
				return eng.Evaluate(ctx).Verdict
			})
		}
	}

	task, err := rollout.NewTask(spec.Workload, *spec.Rollout, e.shifter, judge)
	if err != nil {
		log.Error().Str("application", spec.App.Name).Err(err).Msg("rollout config rejected")
		return
	}
	ctx, cancel := context.WithCancel(e.ctx)
	as.task = task
	as.stop = cancel
	e.group.Go(func() error {
		err := task.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}
