package source

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/tidectl/internal/state"
)

// RemoteStore reads snapshots from a repository checkout on another host.
// File discovery and reads go through a Runner, so the same store works
// against a local checkout (LocalRunner) or over SSH (SSHRunner).
type RemoteStore struct {
	runner Runner

	mu        sync.RWMutex
	snapshots map[state.Revision]*state.Tree
}

// NewRemoteStore binds a store to one command runner.
func NewRemoteStore(runner Runner) *RemoteStore {
	return &RemoteStore{
		runner:    runner,
		snapshots: make(map[state.Revision]*state.Tree),
	}
}

// Fetch loads the snapshot for one source ref through the runner.
func (s *RemoteStore) Fetch(ctx context.Context, ref state.SourceRef) (state.Revision, *state.Tree, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	dir := path.Join(strings.TrimSpace(ref.Repo), strings.TrimSpace(ref.Path))
	listing, err := s.runner.Run("find", dir, "-type", "f", "(", "-name", "*.yaml", "-o", "-name", "*.yml", ")")
	if err != nil {
		pinned := state.Revision(strings.TrimSpace(ref.Revision))
		if pinned != "" {
			if cached, ok := s.cached(pinned); ok {
				return pinned, cached, nil
			}
		}
		return "", nil, fmt.Errorf("%w: list %s: %v", ErrSourceUnreachable, dir, err)
	}

	files := splitListing(listing)
	var descriptors []state.Descriptor
	for _, file := range files {
		raw, err := s.runner.Run("cat", file)
		if err != nil {
			return "", nil, fmt.Errorf("%w: read %s: %v", ErrSourceUnreachable, file, err)
		}
		docs, err := ParseDocuments([]byte(raw))
		if err != nil {
			return "", nil, fmt.Errorf("%s: %w", file, err)
		}
		descriptors = append(descriptors, docs...)
	}

	tree := state.NewTree(descriptors...)
	head := state.ComputeRevision(tree)

	s.mu.Lock()
	s.snapshots[head] = tree
	s.mu.Unlock()

	pinned := state.Revision(strings.TrimSpace(ref.Revision))
	if pinned == "" || pinned == head {
		return head, tree, nil
	}
	if cached, ok := s.cached(pinned); ok {
		return pinned, cached, nil
	}
	return "", nil, fmt.Errorf("%w: %s", ErrRevisionNotFound, pinned)
}

func (s *RemoteStore) cached(rev state.Revision) (*state.Tree, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.snapshots[rev]
	return t, ok
}

func splitListing(raw string) []string {
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	sort.Strings(out)
	return out
}
