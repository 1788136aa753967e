package cluster

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/tidectl/internal/state"
)

// AgentServer exposes one backing cluster over the newline-delimited JSON
// control wire so a remote engine can manage it through AgentClient.
type AgentServer struct {
	backend     Interface
	callTimeout time.Duration
	clientCount atomic.Int64
}

// NewAgentServer wraps one backing cluster implementation.
func NewAgentServer(backend Interface) *AgentServer {
	return &AgentServer{backend: backend, callTimeout: 5 * time.Second}
}

// Serve accepts agent connections until ctx cancellation.
func (s *AgentServer) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	log.Info().Str("addr", ln.Addr().String()).Msg("cluster.agent listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// handleConn decodes one request per line and writes one response per line.
func (s *AgentServer) handleConn(conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	active := s.clientCount.Add(1)
	log.Info().Str("remote", remote).Int64("active_clients", active).Msg("cluster.agent client connected")
	defer func() {
		remaining := s.clientCount.Add(-1)
		log.Info().Str("remote", remote).Int64("active_clients", remaining).Msg("cluster.agent client disconnected")
	}()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				log.Warn().Err(err).Msg("cluster.agent read")
			}
			return
		}
		var req agentRequest
		if err := json.Unmarshal(line, &req); err != nil {
			_ = writeAgentResponse(conn, agentResponse{OK: false, Error: err.Error()})
			continue
		}
		resp := s.handleRequest(req)
		if err := writeAgentResponse(conn, resp); err != nil {
			log.Warn().Err(err).Msg("cluster.agent write")
			return
		}
	}
}

// handleRequest routes one agent action to the backing cluster.
func (s *AgentServer) handleRequest(req agentRequest) agentResponse {
	ctx, cancel := context.WithTimeout(context.Background(), s.callTimeout)
	defer cancel()

	switch strings.TrimSpace(req.Action) {
	case agentActionApply:
		if req.Resource == nil {
			return agentResponse{OK: false, Error: "resource required"}
		}
		if err := s.backend.Apply(ctx, *req.Resource); err != nil {
			return errorResponse(err)
		}
		return agentResponse{OK: true}
	case agentActionDelete:
		if req.ID == nil {
			return agentResponse{OK: false, Error: "id required"}
		}
		if err := s.backend.Delete(ctx, *req.ID); err != nil {
			return errorResponse(err)
		}
		return agentResponse{OK: true}
	case agentActionGet:
		if req.ID == nil {
			return agentResponse{OK: false, Error: "id required"}
		}
		d, err := s.backend.Get(ctx, *req.ID)
		if err != nil {
			return errorResponse(err)
		}
		return dataResponse(d)
	case agentActionList:
		items, err := s.backend.List(ctx, req.Namespace)
		if err != nil {
			return errorResponse(err)
		}
		if items == nil {
			items = []state.Descriptor{}
		}
		return dataResponse(items)
	case agentActionPing:
		if err := s.backend.Ping(ctx); err != nil {
			return errorResponse(err)
		}
		return agentResponse{OK: true}
	default:
		return agentResponse{OK: false, Error: fmt.Sprintf("unknown action: %s", req.Action)}
	}
}

func errorResponse(err error) agentResponse {
	resp := agentResponse{OK: false, Error: err.Error()}
	switch {
	case errors.Is(err, ErrRejected):
		resp.Code = agentCodeRejected
	case errors.Is(err, ErrNotFound):
		resp.Code = agentCodeNotFound
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrUnreachable):
		resp.Code = agentCodeUnavailable
	}
	return resp
}

func dataResponse(v any) agentResponse {
	raw, err := json.Marshal(v)
	if err != nil {
		return agentResponse{OK: false, Error: err.Error()}
	}
	return agentResponse{OK: true, Data: raw}
}

func writeAgentResponse(conn net.Conn, resp agentResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	raw = append(raw, '\n')
	_, err = conn.Write(raw)
	return err
}
