package state

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrInvalidResourceID  = errors.New("state: invalid resource id")
	ErrInvalidApplication = errors.New("state: invalid application")
)

// Resource kinds form a closed set known to the engine. Apply precedence
// and health rules dispatch on these values.
const (
	KindNamespace          = "Namespace"
	KindResourceDefinition = "ResourceDefinition"
	KindConfig             = "Config"
	KindSecret             = "Secret"
	KindService            = "Service"
	KindWorkload           = "Workload"
)

// ResourceID is the stable identity of one managed resource.
type ResourceID struct {
	Kind      string `json:"kind" yaml:"kind"`
	Namespace string `json:"namespace" yaml:"namespace"`
	Name      string `json:"name" yaml:"name"`
}

// String renders the identity in kind/namespace/name form.
func (id ResourceID) String() string {
	return id.Kind + "/" + id.Namespace + "/" + id.Name
}

// Validate enforces identity fields; cluster-scoped kinds may omit namespace.
func (id ResourceID) Validate() error {
	if strings.TrimSpace(id.Kind) == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidResourceID)
	}
	if strings.TrimSpace(id.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidResourceID)
	}
	if strings.TrimSpace(id.Namespace) == "" && !ClusterScoped(id.Kind) {
		return fmt.Errorf("%w: missing namespace for %s", ErrInvalidResourceID, id.Kind)
	}
	return nil
}

// ClusterScoped reports whether a kind lives outside any namespace.
func ClusterScoped(kind string) bool {
	switch strings.TrimSpace(kind) {
	case KindNamespace, KindResourceDefinition:
		return true
	default:
		return false
	}
}

// Descriptor is one declared or observed resource document.
type Descriptor struct {
	ID      ResourceID     `json:"id" yaml:"id"`
	Content map[string]any `json:"content" yaml:"content"`
}

// Clone returns a deep copy so stored trees stay immutable.
func (d Descriptor) Clone() Descriptor {
	return Descriptor{ID: d.ID, Content: cloneContent(d.Content)}
}

func cloneContent(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneContent(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

// Revision is an immutable content-addressed snapshot identifier.
type Revision string

// Tree is one desired or live snapshot keyed by resource identity.
type Tree struct {
	items map[ResourceID]Descriptor
}

// NewTree builds a tree from descriptors, cloning content defensively.
func NewTree(descriptors ...Descriptor) *Tree {
	t := &Tree{items: make(map[ResourceID]Descriptor, len(descriptors))}
	for i := range descriptors {
		t.items[descriptors[i].ID] = descriptors[i].Clone()
	}
	return t
}

// Get returns one descriptor copy by identity.
func (t *Tree) Get(id ResourceID) (Descriptor, bool) {
	if t == nil {
		return Descriptor{}, false
	}
	d, ok := t.items[id]
	if !ok {
		return Descriptor{}, false
	}
	return d.Clone(), true
}

// Has reports identity membership without copying content.
func (t *Tree) Has(id ResourceID) bool {
	if t == nil {
		return false
	}
	_, ok := t.items[id]
	return ok
}

// Len returns the resource count.
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.items)
}

// IDs returns identities in deterministic order.
func (t *Tree) IDs() []ResourceID {
	if t == nil {
		return nil
	}
	out := make([]ResourceID, 0, len(t.items))
	for id := range t.items {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// List returns descriptor copies in deterministic identity order.
func (t *Tree) List() []Descriptor {
	ids := t.IDs()
	out := make([]Descriptor, 0, len(ids))
	for _, id := range ids {
		d, _ := t.Get(id)
		out = append(out, d)
	}
	return out
}

// SyncMode gates whether reconciliation triggers require operator action.
const (
	SyncModeAutomatic = "automatic"
	SyncModeManual    = "manual"
)

// SyncPolicy is per-application reconciliation policy.
type SyncPolicy struct {
	Mode     string `json:"mode"`
	Prune    bool   `json:"prune"`
	SelfHeal bool   `json:"self_heal"`
}

// SourceRef points at one tracked path inside a desired-state repository.
type SourceRef struct {
	Repo     string `json:"repo"`
	Path     string `json:"path"`
	Revision string `json:"revision"`
}

// Destination names the target cluster namespace for an application.
type Destination struct {
	Cluster   string `json:"cluster"`
	Namespace string `json:"namespace"`
}

// Application is one registered reconciliation unit.
type Application struct {
	Name        string      `json:"name"`
	Namespace   string      `json:"namespace"`
	Source      SourceRef   `json:"source"`
	Destination Destination `json:"destination"`
	Policy      SyncPolicy  `json:"policy"`
}

// Validate enforces registration fields for one application.
func (a Application) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidApplication)
	}
	if strings.TrimSpace(a.Source.Repo) == "" {
		return fmt.Errorf("%w: missing source repo", ErrInvalidApplication)
	}
	if strings.TrimSpace(a.Destination.Namespace) == "" {
		return fmt.Errorf("%w: missing destination namespace", ErrInvalidApplication)
	}
	switch strings.TrimSpace(a.Policy.Mode) {
	case SyncModeAutomatic, SyncModeManual:
	default:
		return fmt.Errorf("%w: sync mode %q", ErrInvalidApplication, a.Policy.Mode)
	}
	return nil
}

// ManagedResource tracks apply/live hash bookkeeping for one resource.
type ManagedResource struct {
	ID              ResourceID `json:"id"`
	Application     string     `json:"application"`
	LastAppliedHash string     `json:"last_applied_hash"`
	LiveHash        string     `json:"live_hash"`
}

// Sync operation phases. Pending and Running are transient; the rest are
// terminal outcomes. Error means the cluster was unreachable as a whole,
// Failed means the cluster rejected part of the change-set.
const (
	SyncPhasePending   = "pending"
	SyncPhaseRunning   = "running"
	SyncPhaseSucceeded = "succeeded"
	SyncPhaseFailed    = "failed"
	SyncPhaseError     = "error"
)

// SyncStatus summarizes desired-vs-live convergence for reporting.
const (
	SyncStatusSynced    = "synced"
	SyncStatusOutOfSync = "out_of_sync"
	SyncStatusUnknown   = "unknown"
)

// AppliedChange records the outcome of one change inside a sync operation.
type AppliedChange struct {
	ID       ResourceID `json:"id"`
	Action   string     `json:"action"`
	Attempts int        `json:"attempts"`
	Error    string     `json:"error,omitempty"`
}

// SyncOperation is one reconciliation attempt; immutable once finalized.
type SyncOperation struct {
	ID          string          `json:"id"`
	Application string          `json:"application"`
	Revision    Revision        `json:"revision"`
	Phase       string          `json:"phase"`
	Message     string          `json:"message,omitempty"`
	Changes     []AppliedChange `json:"changes"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at,omitempty"`
}

// Terminal reports whether the operation phase can no longer change.
func (op SyncOperation) Terminal() bool {
	switch op.Phase {
	case SyncPhaseSucceeded, SyncPhaseFailed, SyncPhaseError:
		return true
	default:
		return false
	}
}
