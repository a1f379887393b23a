package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/tasklane/tasklane/internal/agent"
	"github.com/tasklane/tasklane/internal/domain"
)

// turnCallTimeout is the maximum duration for one conversational turn,
// including every model round-trip and tool execution.
const turnCallTimeout = 5 * time.Minute

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("POST /v1/turns", s.handleTurn)
	mux.HandleFunc("GET /v1/threads", s.handleThreadsList)
	mux.HandleFunc("GET /v1/threads/{id}/items", s.handleThreadItems)
	mux.HandleFunc("DELETE /v1/threads/{id}", s.handleThreadDelete)

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up all WebSocket RPC method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("chat.send", s.rpcChatSend)
	s.Handle("threads.list", s.rpcThreadsList)
	s.Handle("threads.delete", s.rpcThreadsDelete)
}

// Built-in RPC handlers

func (s *Server) rpcHealth(rc *RequestContext) {
	rc.Respond(HealthResponse{
		Status:  "ok",
		Version: s.version,
		Clients: s.clients.Count(),
	})
}

type chatSendParams struct {
	Message  string `json:"message"`
	ThreadID string `json:"threadId,omitempty"`
	Stream   bool   `json:"stream,omitempty"`
}

// rpcChatSend runs one turn for the connection's identity. With
// stream=true, item events are forwarded as turn.event frames before the
// response carries the final outcome.
func (s *Server) rpcChatSend(rc *RequestContext) {
	var p chatSendParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if strings.TrimSpace(p.Message) == "" {
		rc.RespondError("invalid_params", "message is required")
		return
	}

	// The turn runs under the connection's context so a disconnect
	// cancels the in-flight model call.
	ctx, cancel := context.WithTimeout(rc.Client.Context(), turnCallTimeout)
	defer cancel()

	req := agent.TurnRequest{
		OwnerID:   rc.Client.Identity,
		ThreadRef: p.ThreadID,
		Message:   p.Message,
	}

	var emit domain.EmitFunc
	if p.Stream {
		emit = func(ev domain.TurnEvent) {
			rc.Client.SendEvent("turn.event", map[string]any{
				"requestId": rc.Frame.ID,
				"event":     ev,
			}, s.eventSeq.Add(1))
		}
	}

	outcome, err := s.turns.Run(ctx, req, emit)
	if err != nil {
		rc.RespondError("turn_failed", "turn could not be completed")
		s.log.Error().Err(err).Str("identity", rc.Client.Identity).Msg("rpc turn failed")
		return
	}
	rc.Respond(outcome)
}

type threadsListParams struct {
	After string `json:"after,omitempty"`
	Limit int    `json:"limit,omitempty"`
	Order string `json:"order,omitempty"`
}

func (s *Server) rpcThreadsList(rc *RequestContext) {
	var p threadsListParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Order == "" {
		p.Order = "desc"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	threads, hasMore, err := s.threads.ListThreads(ctx, rc.Client.Identity, p.After, p.Limit, p.Order)
	if err != nil {
		rc.RespondError("store_error", "could not list threads")
		return
	}
	rc.Respond(map[string]any{"threads": threads, "hasMore": hasMore})
}

type threadsDeleteParams struct {
	ThreadID string `json:"threadId"`
}

func (s *Server) rpcThreadsDelete(rc *RequestContext) {
	var p threadsDeleteParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.ThreadID == "" {
		rc.RespondError("invalid_params", "threadId is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.threads.DeleteThread(ctx, rc.Client.Identity, p.ThreadID); err != nil {
		rc.RespondError("not_found", "thread not found")
		return
	}
	rc.Respond(map[string]any{"deleted": p.ThreadID})
}
