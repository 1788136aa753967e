package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/tidectl/internal/state"
)

// DirStore reads desired-state snapshots from local repository checkouts.
// A snapshot is every .yaml/.yml document under <repo>/<path>, and its
// revision is the content hash of the resulting tree. Previously fetched
// revisions stay resolvable from an in-memory snapshot cache so pinned
// fetches keep working after the checkout moves on.
type DirStore struct {
	mu        sync.RWMutex
	snapshots map[state.Revision]*state.Tree
}

// NewDirStore returns an empty directory-backed store.
func NewDirStore() *DirStore {
	return &DirStore{snapshots: make(map[state.Revision]*state.Tree)}
}

// Fetch loads the snapshot for one source ref.
func (s *DirStore) Fetch(ctx context.Context, ref state.SourceRef) (state.Revision, *state.Tree, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	head, tree, err := s.readHead(ref)
	if err != nil {
		pinned := state.Revision(strings.TrimSpace(ref.Revision))
		if pinned != "" {
			if cached, ok := s.cached(pinned); ok {
				return pinned, cached, nil
			}
		}
		return "", nil, err
	}

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

// Head returns the current snapshot revision without pin resolution.
func (s *DirStore) Head(ref state.SourceRef) (state.Revision, error) {
	rev, _, err := s.readHead(ref)
	return rev, err
}

func (s *DirStore) cached(rev state.Revision) (*state.Tree, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.snapshots[rev]
	return t, ok
}

func (s *DirStore) readHead(ref state.SourceRef) (state.Revision, *state.Tree, error) {
	dir := filepath.Join(strings.TrimSpace(ref.Repo), strings.TrimSpace(ref.Path))
	paths, err := listDocumentFiles(dir)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s: %v", ErrSourceUnreachable, dir, err)
	}

	var descriptors []state.Descriptor
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %s: %v", ErrSourceUnreachable, p, err)
		}
		docs, err := ParseDocuments(raw)
		if err != nil {
			return "", nil, fmt.Errorf("%s: %w", p, err)
		}
		descriptors = append(descriptors, docs...)
	}

	tree := state.NewTree(descriptors...)
	return state.ComputeRevision(tree), tree, nil
}

func listDocumentFiles(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
