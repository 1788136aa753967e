package cluster

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/danmuck/tidectl/internal/state"
)

// Agent control actions spoken over the newline-delimited JSON wire.
const (
	agentActionApply  = "apply"
	agentActionDelete = "delete"
	agentActionGet    = "get"
	agentActionList   = "list"
	agentActionPing   = "ping"
)

type agentRequest struct {
	Action    string            `json:"action"`
	Namespace string            `json:"namespace,omitempty"`
	ID        *state.ResourceID `json:"id,omitempty"`
	Resource  *state.Descriptor `json:"resource,omitempty"`
}

type agentResponse struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Error codes the agent uses to round-trip the package sentinels.
const (
	agentCodeRejected    = "rejected"
	agentCodeUnavailable = "unavailable"
	agentCodeNotFound    = "not_found"
)

// AgentClient talks to a remote cluster agent over one-request TCP exchanges.
// Each call dials, writes one JSON line, and reads one JSON line back.
type AgentClient struct {
	addr         string
	timeout      time.Duration
	pollInterval time.Duration
}

// NewAgentClient constructs a client bound to one agent address.
func NewAgentClient(addr string) *AgentClient {
	return &AgentClient{
		addr:         strings.TrimSpace(addr),
		timeout:      5 * time.Second,
		pollInterval: 10 * time.Second,
	}
}

// WithTimeout overrides the per-exchange deadline.
func (c *AgentClient) WithTimeout(d time.Duration) *AgentClient {
	if d > 0 {
		c.timeout = d
	}
	return c
}

func (c *AgentClient) roundTrip(ctx context.Context, req agentRequest) (agentResponse, error) {
	addr := strings.TrimSpace(c.addr)
	if addr == "" {
		return agentResponse{}, fmt.Errorf("cluster: agent addr required")
	}
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return agentResponse{}, fmt.Errorf("%w: dial %s: %v", ErrUnreachable, addr, err)
	}
	defer conn.Close()

	line, err := json.Marshal(req)
	if err != nil {
		return agentResponse{}, err
	}
	line = append(line, '\n')
	_ = conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := conn.Write(line); err != nil {
		return agentResponse{}, fmt.Errorf("%w: write: %v", ErrUnavailable, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.timeout))
	respLine, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return agentResponse{}, fmt.Errorf("%w: read: %v", ErrUnavailable, err)
	}
	var resp agentResponse
	if err := json.Unmarshal(respLine, &resp); err != nil {
		return agentResponse{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if !resp.OK {
		return resp, agentError(resp)
	}
	return resp, nil
}

func agentError(resp agentResponse) error {
	msg := strings.TrimSpace(resp.Error)
	switch resp.Code {
	case agentCodeRejected:
		return fmt.Errorf("%w: %s", ErrRejected, msg)
	case agentCodeUnavailable:
		return fmt.Errorf("%w: %s", ErrUnavailable, msg)
	case agentCodeNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	default:
		return fmt.Errorf("cluster: agent error: %s", msg)
	}
}

// Apply submits one descriptor to the agent.
func (c *AgentClient) Apply(ctx context.Context, d state.Descriptor) error {
	_, err := c.roundTrip(ctx, agentRequest{Action: agentActionApply, Resource: &d})
	return err
}

// Delete removes one resource through the agent.
func (c *AgentClient) Delete(ctx context.Context, id state.ResourceID) error {
	_, err := c.roundTrip(ctx, agentRequest{Action: agentActionDelete, ID: &id})
	return err
}

// Get fetches one live descriptor.
func (c *AgentClient) Get(ctx context.Context, id state.ResourceID) (state.Descriptor, error) {
	resp, err := c.roundTrip(ctx, agentRequest{Action: agentActionGet, ID: &id})
	if err != nil {
		return state.Descriptor{}, err
	}
	var out state.Descriptor
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return state.Descriptor{}, fmt.Errorf("%w: decode descriptor: %v", ErrUnavailable, err)
	}
	return out, nil
}

// List fetches the live snapshot of one namespace.
func (c *AgentClient) List(ctx context.Context, namespace string) ([]state.Descriptor, error) {
	resp, err := c.roundTrip(ctx, agentRequest{Action: agentActionList, Namespace: namespace})
	if err != nil {
		return nil, err
	}
	var out []state.Descriptor
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &out); err != nil {
			return nil, fmt.Errorf("%w: decode list: %v", ErrUnavailable, err)
		}
	}
	return out, nil
}

// Watch emulates change notifications by polling List; the stream restarts
// itself after transient disconnects and closes only on ctx cancellation.
func (c *AgentClient) Watch(ctx context.Context, namespace string) (<-chan Event, error) {
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		known := make(map[state.ResourceID]string)
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()
		for {
			items, err := c.List(ctx, namespace)
			if err == nil {
				seen := make(map[state.ResourceID]struct{}, len(items))
				for _, d := range items {
					seen[d.ID] = struct{}{}
					h := state.HashContent(d.Content)
					if known[d.ID] != h {
						known[d.ID] = h
						select {
						case out <- Event{Type: EventPut, ID: d.ID, Resource: d}:
						case <-ctx.Done():
							return
						}
					}
				}
				for id := range known {
					if _, ok := seen[id]; !ok {
						delete(known, id)
						select {
						case out <- Event{Type: EventDelete, ID: id}:
						case <-ctx.Done():
							return
						}
					}
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out, nil
}

// Ping checks agent reachability.
func (c *AgentClient) Ping(ctx context.Context) error {
	_, err := c.roundTrip(ctx, agentRequest{Action: agentActionPing})
	return err
}
