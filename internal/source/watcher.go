package source

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/danmuck/tidectl/internal/state"
)

// RevisionChange notifies one application that its tracked source moved.
type RevisionChange struct {
	Application string
	Revision    state.Revision
}

// Watcher turns filesystem activity under tracked checkouts into revision
// change notifications. Bursty editor/git writes are debounced so one
// checkout update produces one notification.
type Watcher struct {
	store    *DirStore
	debounce time.Duration
	logger   zerolog.Logger

	apps map[string]state.SourceRef
}

// NewWatcher builds a watcher over one directory store.
func NewWatcher(store *DirStore, logger zerolog.Logger) *Watcher {
	return &Watcher{
		store:    store,
		debounce: 500 * time.Millisecond,
		logger:   logger,
		apps:     make(map[string]state.SourceRef),
	}
}

// Track registers one application's source ref for change detection.
func (w *Watcher) Track(application string, ref state.SourceRef) {
	w.apps[strings.TrimSpace(application)] = ref
}

// Run emits revision changes until ctx cancellation. The returned channel
// closes when the watcher stops.
func (w *Watcher) Run(ctx context.Context) (<-chan RevisionChange, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	heads := make(map[string]state.Revision, len(w.apps))
	for app, ref := range w.apps {
		dir := filepath.Join(ref.Repo, ref.Path)
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, err
		}
		if rev, err := w.store.Head(ref); err == nil {
			heads[app] = rev
		}
	}

	out := make(chan RevisionChange, 16)
	go func() {
		defer close(out)
		defer fsw.Close()

		var pending bool
		timer := time.NewTimer(w.debounce)
		if !timer.Stop() {
			<-timer.C
		}

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-fsw.Events:
				if !ok {
					return
				}
				if !pending {
					pending = true
					timer.Reset(w.debounce)
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Warn().Err(err).Msg("source.watch error")
			case <-timer.C:
				pending = false
				for app, ref := range w.apps {
					rev, err := w.store.Head(ref)
					if err != nil {
						w.logger.Warn().Str("application", app).Err(err).Msg("source.watch head")
						continue
					}
					if heads[app] == rev {
						continue
					}
					heads[app] = rev
					select {
					case out <- RevisionChange{Application: app, Revision: rev}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}
