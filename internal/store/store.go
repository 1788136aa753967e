package store

import (
	"errors"
	"sort"
	"sync"

	"github.com/danmuck/tidectl/internal/state"
)

var ErrClosed = errors.New("store: closed")

// Store is the engine bookkeeping contract.
type Store interface {
	PutLastApplied(application string, id state.ResourceID, hash string) error
	DeleteLastApplied(application string, id state.ResourceID) error
	LastApplied(application string) (map[state.ResourceID]string, error)
	ClearLastApplied(application string) error

	AppendOperation(op state.SyncOperation) error
	Operations(application string, limit int) ([]state.SyncOperation, error)

	Close() error
}

// Memory is the in-process store used by tests and ephemeral runs.
type Memory struct {
	mu      sync.RWMutex
	applied map[string]map[state.ResourceID]string
	ops     map[string][]state.SyncOperation
	closed  bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		applied: make(map[string]map[state.ResourceID]string),
		ops:     make(map[string][]state.SyncOperation),
	}
}

func (m *Memory) PutLastApplied(application string, id state.ResourceID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	bucket := m.applied[application]
	if bucket == nil {
		bucket = make(map[state.ResourceID]string)
		m.applied[application] = bucket
	}
	bucket[id] = hash
	return nil
}

func (m *Memory) DeleteLastApplied(application string, id state.ResourceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.applied[application], id)
	return nil
}

func (m *Memory) LastApplied(application string) (map[state.ResourceID]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make(map[state.ResourceID]string, len(m.applied[application]))
	for id, hash := range m.applied[application] {
		out[id] = hash
	}
	return out, nil
}

func (m *Memory) ClearLastApplied(application string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.applied, application)
	return nil
}

func (m *Memory) AppendOperation(op state.SyncOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.ops[op.Application] = append(m.ops[op.Application], op)
	return nil
}

func (m *Memory) Operations(application string, limit int) ([]state.SyncOperation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	history := m.ops[application]
	out := make([]state.SyncOperation, len(history))
	copy(out, history)
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
