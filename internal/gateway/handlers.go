package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/tasklane/tasklane/internal/agent"
	"github.com/tasklane/tasklane/internal/domain"
)

// HealthResponse is returned by health endpoints. The public HTTP endpoint
// only populates Status; the authenticated RPC handler populates all fields.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Clients int    `json:"clients,omitempty"`
}

// handleHealth returns the server health status. Only status is exposed
// publicly; detailed info is available via the authenticated RPC health method.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

// turnParams is the POST /v1/turns request body.
type turnParams struct {
	Message  string `json:"message"`
	ThreadID string `json:"threadId,omitempty"`
	Stream   bool   `json:"stream,omitempty"`
}

// handleTurn runs one conversational turn for the authenticated identity.
// With stream=true (or an event-stream Accept header) the turn's item
// events are delivered over SSE before the final outcome; otherwise the
// outcome is returned as a single JSON document.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	var p turnParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}
	if strings.TrimSpace(p.Message) == "" {
		writeError(w, http.StatusBadRequest, "invalid_params", "message is required")
		return
	}

	// The request context carries client disconnects into the turn so an
	// abandoned stream cancels the model call.
	ctx, cancel := context.WithTimeout(r.Context(), turnCallTimeout)
	defer cancel()

	req := agent.TurnRequest{
		OwnerID:   identity,
		ThreadRef: p.ThreadID,
		Message:   p.Message,
	}

	if p.Stream || strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		s.streamTurn(ctx, w, req)
		return
	}

	outcome, err := s.turns.Run(ctx, req, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "turn_failed", "turn could not be completed")
		s.log.Error().Err(err).Str("identity", identity).Msg("turn failed")
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// streamTurn delivers a turn's events over SSE followed by a final
// turn.completed event carrying the persisted outcome.
func (s *Server) streamTurn(ctx context.Context, w http.ResponseWriter, req agent.TurnRequest) {
	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stream_unsupported", err.Error())
		return
	}

	emit := func(ev domain.TurnEvent) {
		if err := sse.WriteEvent(string(ev.Type), ev); err != nil {
			s.log.Warn().Err(err).Msg("dropped stream event")
		}
	}

	outcome, err := s.turns.Run(ctx, req, emit)
	if err != nil {
		sse.WriteError("turn_failed", "turn could not be completed")
		s.log.Error().Err(err).Str("identity", req.OwnerID).Msg("streamed turn failed")
		return
	}
	if err := sse.WriteEvent("turn.completed", outcome); err != nil {
		s.log.Warn().Err(err).Msg("failed to send final stream event")
	}
}

// handleThreadsList returns the identity's threads, newest first by default.
func (s *Server) handleThreadsList(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	limit := 50
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			writeError(w, http.StatusBadRequest, "invalid_params", "limit must be between 1 and 200")
			return
		}
		limit = n
	}
	order := q.Get("order")
	if order == "" {
		order = "desc"
	}

	threads, hasMore, err := s.threads.ListThreads(r.Context(), identity, q.Get("after"), limit, order)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", "could not list threads")
		s.log.Error().Err(err).Msg("list threads failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": threads, "hasMore": hasMore})
}

// handleThreadItems returns a thread's items in conversation order.
func (s *Server) handleThreadItems(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	threadID := r.PathValue("id")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_params", "limit must be a positive integer")
			return
		}
		limit = n
	}

	if _, err := s.threads.LoadThread(r.Context(), identity, threadID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "thread not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "store_error", "could not load thread")
		return
	}

	items, err := s.threads.ListItems(r.Context(), identity, threadID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", "could not list items")
		s.log.Error().Err(err).Msg("list items failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleThreadDelete removes a thread and its items.
func (s *Server) handleThreadDelete(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	err := s.threads.DeleteThread(r.Context(), identity, r.PathValue("id"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "thread not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", "could not delete thread")
		s.log.Error().Err(err).Msg("delete thread failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requireIdentity authenticates the request and returns the resolved
// identity, writing a 401/403 response when it cannot.
func (s *Server) requireIdentity(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !s.authLimiter.allow(r.RemoteAddr) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many failed attempts")
		return "", false
	}

	result := AuthorizeRequest(s.cfg.Auth, r)
	if !result.OK {
		s.authLimiter.recordFailure(r.RemoteAddr)
		status := http.StatusUnauthorized
		if result.Reason == "identity_mismatch" {
			status = http.StatusForbidden
		}
		writeError(w, status, "unauthorized", result.Reason)
		return "", false
	}
	return result.Identity, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

// RequestHandler processes an incoming RPC request frame from a client.
type RequestHandler func(ctx *RequestContext)

// RequestContext carries everything a handler needs.
type RequestContext struct {
	Client *Client
	Frame  Frame
	Server *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{
		Code:    code,
		Message: message,
	})
}

// Params unmarshals the request params into the given target.
func (rc *RequestContext) Params(target any) error {
	if rc.Frame.Params == nil {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, target)
}
