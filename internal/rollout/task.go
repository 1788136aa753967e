package rollout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/tidectl/internal/observability"
	"github.com/danmuck/tidectl/internal/state"
)

var ErrTaskStopped = errors.New("rollout: task stopped")

// TrafficShifter moves canary traffic weight for one workload.
type TrafficShifter interface {
	SetWeight(ctx context.Context, workload string, percent int) error
}

// Judge produces one analysis verdict per dwell interval.
type Judge interface {
	Evaluate(ctx context.Context) string
}

// JudgeFunc adapts a plain function to the Judge interface.
type JudgeFunc func(ctx context.Context) string

func (f JudgeFunc) Evaluate(ctx context.Context) string { return f(ctx) }

// Commands accepted by a running task.
const (
	CommandPause   = "pause"
	CommandResume  = "resume"
	CommandAbort   = "abort"
	CommandPromote = "promote"
)

// Status is a point-in-time snapshot of one rollout task.
type Status struct {
	Workload string         `json:"workload"`
	State    string         `json:"state"`
	Step     int            `json:"step"`
	Weight   int            `json:"weight"`
	Revision state.Revision `json:"revision"`
}

type command struct {
	name  string
	reply chan error
}

type beginReq struct {
	revision state.Revision
	reply    chan error
}

// Task drives one workload's rollouts on a single goroutine. Commands,
// revision hand-offs, and the dwell timer all land in one select loop, so
// the machine never needs a lock and manual commands win races against the
// analysis tick by construction.
type Task struct {
	workload string
	machine  *Machine
	shifter  TrafficShifter
	judge    Judge
	dwell    time.Duration

	cmds   chan command
	begins chan beginReq
	status chan chan Status
	done   chan struct{}
}

// NewTask wires a task around a validated machine.
func NewTask(workload string, cfg Config, shifter TrafficShifter, judge Judge) (*Task, error) {
	m, err := NewMachine(cfg)
	if err != nil {
		return nil, err
	}
	return &Task{
		workload: workload,
		machine:  m,
		shifter:  shifter,
		judge:    judge,
		dwell:    m.cfg.Dwell,
		cmds:     make(chan command),
		begins:   make(chan beginReq),
		status:   make(chan chan Status),
		done:     make(chan struct{}),
	}, nil
}

// Run owns the task loop until the context ends.
func (t *Task) Run(ctx context.Context) error {
	defer close(t.done)
	ticker := time.NewTicker(t.dwell)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-t.begins:
			req.reply <- t.begin(ctx, req.revision)
			ticker.Reset(t.dwell)
		case cmd := <-t.cmds:
			cmd.reply <- t.command(ctx, cmd.name)
		case ch := <-t.status:
			ch <- t.snapshot()
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

// Begin starts or preempts a rollout for one revision.
func (t *Task) Begin(ctx context.Context, rev state.Revision) error {
	req := beginReq{revision: rev, reply: make(chan error, 1)}
	select {
	case t.begins <- req:
		return <-req.reply
	case <-t.done:
		return ErrTaskStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Command executes one manual rollout command.
func (t *Task) Command(ctx context.Context, name string) error {
	cmd := command{name: name, reply: make(chan error, 1)}
	select {
	case t.cmds <- cmd:
		return <-cmd.reply
	case <-t.done:
		return ErrTaskStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reads a snapshot from the task loop.
func (t *Task) Status(ctx context.Context) (Status, error) {
	ch := make(chan Status, 1)
	select {
	case t.status <- ch:
		return <-ch, nil
	case <-t.done:
		return Status{}, ErrTaskStopped
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

func (t *Task) snapshot() Status {
	return Status{
		Workload: t.workload,
		State:    t.machine.State(),
		Step:     t.machine.Step(),
		Weight:   t.machine.Weight(),
		Revision: t.machine.Revision(),
	}
}

// begin starts a fresh run, aborting any live one first. A new revision
// preempts the rollout in flight rather than queueing behind it.
func (t *Task) begin(ctx context.Context, rev state.Revision) error {
	if t.machine.State() == StateStepping || t.machine.State() == StatePaused {
		if t.machine.Revision() == rev {
			return nil
		}
		log.Warn().
			Str("workload", t.workload).
			Str("live", string(t.machine.Revision())).
			Str("next", string(rev)).
			Msg("rollout preempted by new revision")
		t.machine.Abort()
		t.applyWeight(ctx)
	}
	if err := t.machine.Begin(rev); err != nil {
		return err
	}
	t.transitioned(ctx, "begin")
	return nil
}

func (t *Task) command(ctx context.Context, name string) error {
	var err error
	switch name {
	case CommandPause:
		err = t.machine.Pause()
	case CommandResume:
		err = t.machine.Resume()
	case CommandPromote:
		err = t.machine.Promote()
	case CommandAbort:
		t.machine.Abort()
	default:
		return fmt.Errorf("rollout: unknown command %q", name)
	}
	if err != nil {
		return err
	}
	t.transitioned(ctx, name)
	return nil
}

// tick runs one analysis pass. Paused and terminal runs skip judgment.
func (t *Task) tick(ctx context.Context) {
	if t.machine.State() != StateStepping || t.judge == nil {
		return
	}
	verdict := t.judge.Evaluate(ctx)
	before := t.snapshot()
	if err := t.machine.Verdict(verdict); err != nil {
		log.Warn().Str("workload", t.workload).Err(err).Msg("verdict dropped")
		return
	}
	after := t.snapshot()
	if before.State != after.State || before.Weight != after.Weight {
		t.transitioned(ctx, "verdict:"+verdict)
	}
}

// transitioned applies the machine's weight and records the move.
func (t *Task) transitioned(ctx context.Context, cause string) {
	t.applyWeight(ctx)
	s := t.snapshot()
	observability.RecordRolloutTransition(t.workload, s.State)
	log.Info().
		Str("workload", t.workload).
		Str("state", s.State).
		Int("weight", s.Weight).
		Int("step", s.Step).
		Str("cause", cause).
		Msg("rollout transition")
}

func (t *Task) applyWeight(ctx context.Context) {
	if t.shifter == nil {
		return
	}
	if err := t.shifter.SetWeight(ctx, t.workload, t.machine.Weight()); err != nil {
		log.Error().
			Str("workload", t.workload).
			Int("weight", t.machine.Weight()).
			Err(err).
			Msg("traffic shift failed")
	}
}
