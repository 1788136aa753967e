package cluster

import (
	"context"
	"errors"

	"github.com/danmuck/tidectl/internal/state"
)

var (
	// ErrUnavailable marks transient cluster trouble; callers retry with backoff.
	ErrUnavailable = errors.New("cluster: temporarily unavailable")
	// ErrRejected marks a descriptor the cluster refused; terminal per resource.
	ErrRejected = errors.New("cluster: descriptor rejected")
	// ErrUnreachable marks infrastructure-level failure of the whole endpoint.
	ErrUnreachable = errors.New("cluster: unreachable")
	// ErrNotFound marks a lookup miss for one resource identity.
	ErrNotFound = errors.New("cluster: resource not found")
)

// Watch event types.
const (
	EventPut    = "put"
	EventDelete = "delete"
)

// Event is one live-state change notification.
type Event struct {
	Type     string           `json:"type"`
	ID       state.ResourceID `json:"id"`
	Resource state.Descriptor `json:"resource,omitempty"`
}

// Interface is the narrow execution-cluster contract the engine consumes.
// Apply and Delete are idempotent from the caller's perspective.
type Interface interface {
	Apply(ctx context.Context, d state.Descriptor) error
	Delete(ctx context.Context, id state.ResourceID) error
	Get(ctx context.Context, id state.ResourceID) (state.Descriptor, error)
	List(ctx context.Context, namespace string) ([]state.Descriptor, error)
	Watch(ctx context.Context, namespace string) (<-chan Event, error)
	Ping(ctx context.Context) error
}

// Transient reports whether an apply failure is worth retrying.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

// Infrastructure reports whether the cluster endpoint itself is down.
func Infrastructure(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// LiveTree snapshots one namespace into a tree for diffing.
func LiveTree(ctx context.Context, c Interface, namespace string) (*state.Tree, error) {
	items, err := c.List(ctx, namespace)
	if err != nil {
		return nil, err
	}
	return state.NewTree(items...), nil
}
