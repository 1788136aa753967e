package cluster

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/danmuck/tidectl/internal/state"
)

// Memory is an in-process cluster used by tests and the standalone demo.
// It honors the Interface idempotence contract: re-applying identical
// content is a no-op and emits no watch event.
type Memory struct {
	mu        sync.RWMutex
	items     map[state.ResourceID]state.Descriptor
	watchers  map[int]watchSub
	nextWatch int

	unavailable  int
	unreachable  bool
	rejectKinds  map[string]struct{}
	applyCount   int
	mutationSeen int
}

type watchSub struct {
	namespace string
	ch        chan Event
}

// NewMemory returns an empty in-memory cluster.
func NewMemory() *Memory {
	return &Memory{
		items:       make(map[state.ResourceID]state.Descriptor),
		watchers:    make(map[int]watchSub),
		rejectKinds: make(map[string]struct{}),
	}
}

// FailNext makes the next n calls report ErrUnavailable (transient).
func (m *Memory) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = n
}

// SetUnreachable toggles infrastructure-level failure of every call.
func (m *Memory) SetUnreachable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreachable = down
}

// RejectKind makes descriptors of one kind fail terminally with ErrRejected.
func (m *Memory) RejectKind(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectKinds[strings.TrimSpace(kind)] = struct{}{}
}

// ApplyCount returns total Apply calls accepted (including no-ops).
func (m *Memory) ApplyCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.applyCount
}

// MutationCount returns state-changing applies/deletes, excluding no-ops.
func (m *Memory) MutationCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mutationSeen
}

func (m *Memory) gateLocked() error {
	if m.unreachable {
		return ErrUnreachable
	}
	if m.unavailable > 0 {
		m.unavailable--
		return ErrUnavailable
	}
	return nil
}

// Apply upserts one descriptor; identical content is a no-op.
func (m *Memory) Apply(ctx context.Context, d state.Descriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.ID.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}

	m.mu.Lock()
	if err := m.gateLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if _, rejected := m.rejectKinds[d.ID.Kind]; rejected {
		m.mu.Unlock()
		return fmt.Errorf("%w: kind %s not admitted", ErrRejected, d.ID.Kind)
	}
	m.applyCount++
	if prev, ok := m.items[d.ID]; ok && state.HashContent(prev.Content) == state.HashContent(d.Content) {
		m.mu.Unlock()
		return nil
	}
	m.mutationSeen++
	stored := d.Clone()
	m.items[d.ID] = stored
	subs := m.subscribersLocked(d.ID.Namespace)
	m.mu.Unlock()

	m.notify(subs, Event{Type: EventPut, ID: d.ID, Resource: stored.Clone()})
	return nil
}

// Delete removes one resource; deleting a missing identity is a no-op.
func (m *Memory) Delete(ctx context.Context, id state.ResourceID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if err := m.gateLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if _, ok := m.items[id]; !ok {
		m.mu.Unlock()
		return nil
	}
	m.mutationSeen++
	delete(m.items, id)
	subs := m.subscribersLocked(id.Namespace)
	m.mu.Unlock()

	m.notify(subs, Event{Type: EventDelete, ID: id})
	return nil
}

// Get returns one descriptor copy or ErrNotFound.
func (m *Memory) Get(ctx context.Context, id state.ResourceID) (state.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return state.Descriptor{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gateLocked(); err != nil {
		return state.Descriptor{}, err
	}
	d, ok := m.items[id]
	if !ok {
		return state.Descriptor{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return d.Clone(), nil
}

// List returns descriptor copies for one namespace; empty namespace lists all.
func (m *Memory) List(ctx context.Context, namespace string) ([]state.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.gateLocked(); err != nil {
		return nil, err
	}
	out := make([]state.Descriptor, 0, len(m.items))
	for id, d := range m.items {
		if namespace != "" && id.Namespace != namespace && !state.ClusterScoped(id.Kind) {
			continue
		}
		out = append(out, d.Clone())
	}
	return out, nil
}

// Watch streams change notifications until ctx cancellation.
func (m *Memory) Watch(ctx context.Context, namespace string) (<-chan Event, error) {
	m.mu.Lock()
	if m.unreachable {
		m.mu.Unlock()
		return nil, ErrUnreachable
	}
	key := m.nextWatch
	m.nextWatch++
	ch := make(chan Event, 64)
	m.watchers[key] = watchSub{namespace: namespace, ch: ch}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		if sub, ok := m.watchers[key]; ok {
			delete(m.watchers, key)
			close(sub.ch)
		}
		m.mu.Unlock()
	}()
	return ch, nil
}

// Ping reports endpoint reachability.
func (m *Memory) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unreachable {
		return ErrUnreachable
	}
	return nil
}

func (m *Memory) subscribersLocked(namespace string) []chan Event {
	out := make([]chan Event, 0, len(m.watchers))
	for _, sub := range m.watchers {
		if sub.namespace != "" && namespace != "" && sub.namespace != namespace {
			continue
		}
		out = append(out, sub.ch)
	}
	return out
}

func (m *Memory) notify(subs []chan Event, ev Event) {
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// Slow watcher; drop rather than block mutations. Watchers
			// restart from List after a disconnect.
		}
	}
}
