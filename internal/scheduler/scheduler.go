package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/tidectl/internal/state"
)

var (
	ErrUnknownApplication = errors.New("scheduler: unknown application")
	ErrAlreadyRegistered  = errors.New("scheduler: application already registered")
	ErrManualMode         = errors.New("scheduler: application syncs manually")
	ErrNotRunning         = errors.New("scheduler: not running")
)

// Trigger causes. Source triggers come from revision watchers; operator
// triggers come from the control surface and ignore manual-mode gating.
const (
	CauseSource   = "source"
	CauseOperator = "operator"
)

// SyncFunc performs one reconciliation pass for an application at a revision.
type SyncFunc func(ctx context.Context, application string, revision state.Revision) error

// AppConfig registers one application's scheduling policy.
type AppConfig struct {
	Application string
	Mode        string
	Windows     Windows
}

// worker serializes syncs for one application. A single goroutine drains
// pending, so two syncs for the same application can never overlap.
type worker struct {
	app     string
	mode    string
	windows Windows

	mu      sync.Mutex
	next    state.Revision
	queued  bool
	running bool

	kick chan struct{}
}

// Scheduler fans applications out to per-app workers.
type Scheduler struct {
	syncFn SyncFunc
	now    func() time.Time

	mu      sync.Mutex
	workers map[string]*worker
	ctx     context.Context
	wg      sync.WaitGroup
}

// New builds a scheduler around one sync callback.
func New(syncFn SyncFunc) *Scheduler {
	return &Scheduler{
		syncFn:  syncFn,
		now:     time.Now,
		workers: make(map[string]*worker),
	}
}

// Run starts workers for registered applications and blocks until ctx ends,
// then waits for in-flight syncs to drain.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	for _, w := range s.workers {
		s.startLocked(w)
	}
	s.mu.Unlock()

	<-ctx.Done()
	s.wg.Wait()
	return ctx.Err()
}

// Register adds an application. Registration before Run is queued; after
// Run the worker starts immediately.
func (s *Scheduler) Register(cfg AppConfig) error {
	name := strings.TrimSpace(cfg.Application)
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrUnknownApplication)
	}
	if err := cfg.Windows.Validate(); err != nil {
		return err
	}
	mode := cfg.Mode
	if mode == "" {
		mode = state.SyncModeAutomatic
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workers[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	w := &worker{
		app:     name,
		mode:    mode,
		windows: cfg.Windows,
		kick:    make(chan struct{}, 1),
	}
	s.workers[name] = w
	if s.ctx != nil {
		s.startLocked(w)
	}
	return nil
}

// Deregister forgets an application. Its worker exits once idle.
func (s *Scheduler) Deregister(application string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workers, application)
}

// Trigger queues one sync. Source triggers against a manual-mode application
// are refused; the caller reports out-of-sync status instead. While a sync
// runs, pending triggers collapse so only the newest revision executes next.
func (s *Scheduler) Trigger(application string, revision state.Revision, cause string) error {
	s.mu.Lock()
	w, ok := s.workers[application]
	running := s.ctx != nil
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownApplication, application)
	}
	if !running {
		return ErrNotRunning
	}
	if w.mode == state.SyncModeManual && cause != CauseOperator {
		return fmt.Errorf("%w: %s", ErrManualMode, application)
	}

	w.mu.Lock()
	w.next = revision
	w.queued = true
	w.mu.Unlock()

	select {
	case w.kick <- struct{}{}:
	default:
	}
	return nil
}

// Busy reports whether an application has a sync executing right now.
func (s *Scheduler) Busy(application string) bool {
	s.mu.Lock()
	w, ok := s.workers[application]
	s.mu.Unlock()
	if !ok {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (s *Scheduler) startLocked(w *worker) {
	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx, w)
	}()
}

func (s *Scheduler) loop(ctx context.Context, w *worker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.kick:
		}
		for {
			rev, ok := w.take()
			if !ok {
				break
			}
			if !s.waitForWindow(ctx, w) {
				return
			}
			// A newer revision may have queued while the window was shut.
			if latest, again := w.take(); again {
				rev = latest
			}
			w.setRunning(true)
			err := s.syncFn(ctx, w.app, rev)
			w.setRunning(false)
			if err != nil {
				log.Warn().
					Str("application", w.app).
					Str("revision", string(rev)).
					Err(err).
					Msg("scheduled sync failed")
			}
			if s.forgotten(w.app) {
				return
			}
		}
	}
}

// waitForWindow blocks until the schedule opens. Returns false on shutdown.
func (s *Scheduler) waitForWindow(ctx context.Context, w *worker) bool {
	for {
		now := s.now()
		if w.windows.Open(now) {
			return true
		}
		next := w.windows.NextOpen(now)
		wait := next.Sub(now)
		if wait <= 0 {
			return true
		}
		log.Info().
			Str("application", w.app).
			Time("next_open", next).
			Msg("sync deferred by window")
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
}

func (s *Scheduler) forgotten(application string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.workers[application]
	return !ok
}

func (w *worker) take() (state.Revision, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.queued {
		return "", false
	}
	w.queued = false
	return w.next, true
}

func (w *worker) setRunning(v bool) {
	w.mu.Lock()
	w.running = v
	w.mu.Unlock()
}
