package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/tidectl/internal/cluster"
	"github.com/danmuck/tidectl/internal/diff"
	"github.com/danmuck/tidectl/internal/observability"
	"github.com/danmuck/tidectl/internal/state"
	"github.com/danmuck/tidectl/internal/store"
)

var ErrClusterDown = errors.New("reconcile: cluster unreachable")

// Config bounds retry behavior for one reconciler.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns the retry policy used when none is supplied.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    4,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

func (c Config) normalize() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 250 * time.Millisecond
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	return c
}

// Reconciler executes change-sets against one cluster, persisting
// last-applied bookkeeping as each resource lands.
type Reconciler struct {
	cluster cluster.Interface
	store   store.Store
	cfg     Config
}

// New builds a reconciler around a cluster endpoint and a bookkeeping store.
func New(c cluster.Interface, s store.Store, cfg Config) *Reconciler {
	return &Reconciler{cluster: c, store: s, cfg: cfg.normalize()}
}

// Execute runs one change-set in plan order and returns the finalized sync
// operation. Rejected resources fail individually and execution continues;
// an unreachable cluster aborts the pass with phase Error. The operation is
// appended to history before returning, whatever its outcome.
func (r *Reconciler) Execute(ctx context.Context, application string, cs diff.ChangeSet) (state.SyncOperation, error) {
	op := state.SyncOperation{
		ID:          uuid.NewString(),
		Application: application,
		Revision:    cs.Revision,
		Phase:       state.SyncPhasePending,
		StartedAt:   time.Now().UTC(),
	}
	log.Info().
		Str("application", application).
		Str("operation", op.ID).
		Str("revision", string(cs.Revision)).
		Int("changes", len(cs.Changes)).
		Msg("sync operation started")

	// Resources pruned while already absent carry no cluster work, but
	// their stale bookkeeping entries still have to go.
	for _, id := range cs.Discard {
		if serr := r.store.DeleteLastApplied(application, id); serr != nil {
			log.Error().Err(serr).Str("resource", id.String()).Msg("bookkeeping discard failed")
		}
	}

	if cs.Empty() {
		op.Phase = state.SyncPhaseSucceeded
		op.Message = "already converged"
		return r.finalize(op, nil)
	}

	op.Phase = state.SyncPhaseRunning

	var failures int
	for _, ch := range cs.Changes {
		applied := state.AppliedChange{ID: ch.ID, Action: ch.Action}
		err := r.executeChange(ctx, application, ch, &applied)
		op.Changes = append(op.Changes, applied)

		if err == nil {
			continue
		}
		if cluster.Infrastructure(err) || errors.Is(err, context.Canceled) {
			op.Phase = state.SyncPhaseError
			op.Message = err.Error()
			return r.finalize(op, fmt.Errorf("%w: %v", ErrClusterDown, err))
		}
		failures++
		log.Warn().
			Str("application", application).
			Str("resource", ch.ID.String()).
			Str("action", ch.Action).
			Err(err).
			Msg("change failed")
	}

	if failures > 0 {
		op.Phase = state.SyncPhaseFailed
		op.Message = fmt.Sprintf("%d of %d changes failed", failures, len(cs.Changes))
		return r.finalize(op, nil)
	}
	op.Phase = state.SyncPhaseSucceeded
	return r.finalize(op, nil)
}

// executeChange applies or deletes one resource with bounded retries, then
// updates bookkeeping so a crash between resources resumes where it left off.
func (r *Reconciler) executeChange(ctx context.Context, application string, ch diff.Change, applied *state.AppliedChange) error {
	var err error
	backoff := r.cfg.InitialBackoff
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		applied.Attempts = attempt
		switch ch.Action {
		case diff.ActionDelete:
			err = r.cluster.Delete(ctx, ch.ID)
		default:
			err = r.cluster.Apply(ctx, ch.Desired)
		}
		if err == nil {
			break
		}
		if !cluster.Transient(err) || attempt == r.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > r.cfg.MaxBackoff {
			backoff = r.cfg.MaxBackoff
		}
	}
	if err != nil {
		applied.Error = err.Error()
		return err
	}

	switch ch.Action {
	case diff.ActionDelete:
		if serr := r.store.DeleteLastApplied(application, ch.ID); serr != nil {
			log.Error().Err(serr).Str("resource", ch.ID.String()).Msg("bookkeeping delete failed")
		}
	default:
		hash := state.HashContent(ch.Desired.Content)
		if serr := r.store.PutLastApplied(application, ch.ID, hash); serr != nil {
			log.Error().Err(serr).Str("resource", ch.ID.String()).Msg("bookkeeping write failed")
		}
	}
	return nil
}

func (r *Reconciler) finalize(op state.SyncOperation, err error) (state.SyncOperation, error) {
	op.FinishedAt = time.Now().UTC()
	observability.RecordSyncOperation(op.Application, op.Phase, op.FinishedAt.Sub(op.StartedAt))
	if serr := r.store.AppendOperation(op); serr != nil {
		log.Error().Err(serr).Str("operation", op.ID).Msg("operation history write failed")
	}
	log.Info().
		Str("application", op.Application).
		Str("operation", op.ID).
		Str("phase", op.Phase).
		Msg("sync operation finished")
	return op, err
}
