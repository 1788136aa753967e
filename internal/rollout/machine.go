package rollout

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/tidectl/internal/analysis"
	"github.com/danmuck/tidectl/internal/state"
)

var (
	ErrInvalidSteps  = errors.New("rollout: invalid step weights")
	ErrNotLive       = errors.New("rollout: no rollout in progress")
	ErrAlreadyLive   = errors.New("rollout: rollout already in progress")
	ErrPausedRollout = errors.New("rollout: rollout is paused")
)

// Rollout states. Completed and RolledBack are terminal.
const (
	StateIdle       = "idle"
	StateStepping   = "stepping"
	StatePaused     = "paused"
	StateCompleted  = "completed"
	StateRolledBack = "rolled_back"
)

// Config shapes one rollout run.
type Config struct {
	Steps            []int         `json:"steps"`
	Dwell            time.Duration `json:"dwell"`
	FailureThreshold int           `json:"failure_threshold"`
}

// DefaultConfig returns the staged weights used when none are configured.
// The failure threshold defaults to 1 so a single Fail verdict rolls the
// run back; raising it trades safety for tolerance of flaky analysis.
func DefaultConfig() Config {
	return Config{
		Steps:            []int{10, 25, 50, 100},
		Dwell:            30 * time.Second,
		FailureThreshold: 1,
	}
}

// Validate enforces strictly ascending weights ending at full traffic.
func (c Config) Validate() error {
	if len(c.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidSteps)
	}
	prev := 0
	for _, w := range c.Steps {
		if w <= prev || w > 100 {
			return fmt.Errorf("%w: %v", ErrInvalidSteps, c.Steps)
		}
		prev = w
	}
	if c.Steps[len(c.Steps)-1] != 100 {
		return fmt.Errorf("%w: final step must be 100, got %d", ErrInvalidSteps, c.Steps[len(c.Steps)-1])
	}
	return nil
}

// Machine is the pure rollout state machine. It tracks state, step, and
// weight; callers apply the weight it reports. Not safe for concurrent use,
// the task wraps it behind a channel loop.
type Machine struct {
	cfg      Config
	state    string
	step     int
	weight   int
	fails    int
	revision state.Revision
}

// NewMachine validates the config and starts idle at zero weight.
func NewMachine(cfg Config) (*Machine, error) {
	if cfg.Dwell <= 0 {
		cfg.Dwell = DefaultConfig().Dwell
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if len(cfg.Steps) == 0 {
		cfg.Steps = DefaultConfig().Steps
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Machine{cfg: cfg, state: StateIdle}, nil
}

func (m *Machine) State() string            { return m.state }
func (m *Machine) Weight() int              { return m.weight }
func (m *Machine) Step() int                { return m.step }
func (m *Machine) Revision() state.Revision { return m.revision }

// Terminal reports whether the run can no longer move.
func (m *Machine) Terminal() bool {
	return m.state == StateCompleted || m.state == StateRolledBack
}

// Begin starts a rollout for one revision at the first step weight.
// Preempting a live rollout is the caller's job; Begin refuses it.
func (m *Machine) Begin(rev state.Revision) error {
	if m.state == StateStepping || m.state == StatePaused {
		return fmt.Errorf("%w: revision %s", ErrAlreadyLive, m.revision)
	}
	m.state = StateStepping
	m.step = 0
	m.weight = m.cfg.Steps[0]
	m.fails = 0
	m.revision = rev
	return nil
}

// Verdict feeds one analysis outcome into the machine.
//
// Pass advances one step and resets the failure streak; reaching the final
// step completes the rollout. Fail extends the streak and aborts once it
// reaches the threshold, which is immediate under the default threshold
// of 1. Inconclusive holds position; the analysis engine escalates a long
// inconclusive streak to Fail on its own.
func (m *Machine) Verdict(verdict string) error {
	switch m.state {
	case StateStepping:
	case StatePaused:
		return ErrPausedRollout
	default:
		return ErrNotLive
	}

	switch verdict {
	case analysis.VerdictPass:
		m.fails = 0
		if m.step == len(m.cfg.Steps)-1 {
			m.state = StateCompleted
			return nil
		}
		m.step++
		m.weight = m.cfg.Steps[m.step]
	case analysis.VerdictFail:
		m.fails++
		if m.fails >= m.cfg.FailureThreshold {
			m.abort()
		}
	case analysis.VerdictInconclusive:
	default:
		return fmt.Errorf("rollout: unknown verdict %q", verdict)
	}
	return nil
}

// Pause freezes a stepping rollout at its current weight.
func (m *Machine) Pause() error {
	if m.state != StateStepping {
		return ErrNotLive
	}
	m.state = StatePaused
	return nil
}

// Resume unfreezes a paused rollout with a fresh failure streak.
func (m *Machine) Resume() error {
	if m.state != StatePaused {
		return ErrNotLive
	}
	m.state = StateStepping
	m.fails = 0
	return nil
}

// Promote skips remaining steps and completes at full weight.
func (m *Machine) Promote() error {
	if m.state != StateStepping && m.state != StatePaused {
		return ErrNotLive
	}
	m.step = len(m.cfg.Steps) - 1
	m.weight = 100
	m.state = StateCompleted
	return nil
}

// Abort drops a live rollout to zero weight. Repeating it changes nothing,
// and in idle or terminal states it is a no-op, so operators can always
// reach for it.
func (m *Machine) Abort() {
	switch m.state {
	case StateStepping, StatePaused:
		m.abort()
	}
}

func (m *Machine) abort() {
	m.weight = 0
	m.state = StateRolledBack
}
