package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasklane/tasklane/internal/agent"
	"github.com/tasklane/tasklane/internal/config"
	"github.com/tasklane/tasklane/internal/llm"
	"github.com/tasklane/tasklane/internal/logging"
	"github.com/tasklane/tasklane/internal/store"
	"github.com/tasklane/tasklane/internal/tools"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

// echoClient answers with the last user message, no tool calls.
func echoClient() *llm.MockClient {
	return &llm.MockClient{
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			last := req.Messages[len(req.Messages)-1].Content
			ch := make(chan llm.StreamEvent, 2)
			ch <- llm.StreamEvent{Type: "delta", Content: "You said: " + last}
			ch <- llm.StreamEvent{Type: "done", Response: &llm.CompletionResponse{
				Content: "You said: " + last, FinishReason: "stop",
			}}
			close(ch)
			return ch, nil
		},
	}
}

func testServer(t *testing.T, client llm.Client) (*Server, *httptest.Server) {
	t.Helper()

	cfg := config.Defaults()
	cfg.Auth.Tokens = map[string]string{
		"alice": "alice-token",
		"bob":   "bob-token",
	}

	db, err := store.Open(":memory:", silentLog())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	threads := store.NewThreadStore(db)
	tasks := store.NewTaskStore(db)

	reg := tools.NewRegistry(silentLog())
	require.NoError(t, tools.RegisterTaskTools(reg, tasks))

	orch := agent.NewOrchestrator(agent.Config{
		Model:        "mock",
		ModelTimeout: 5 * time.Second,
	}, client, reg, silentLog())
	turns := agent.NewService(orch, threads, nil, 20, silentLog())

	srv := New(cfg, turns, threads, silentLog())

	mux := http.NewServeMux()
	srv.registerHTTPRoutes(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, ts
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := testServer(t, echoClient())

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	// Public endpoint only returns status; no version or client count
	assert.Empty(t, health.Version)
}

func TestNotFoundEndpoint(t *testing.T) {
	_, ts := testServer(t, echoClient())

	resp, err := http.Get(ts.URL + "/nonexistent")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTurnEndpoint(t *testing.T) {
	_, ts := testServer(t, echoClient())

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/turns", "alice-token", turnParams{Message: "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var outcome agent.TurnOutcome
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&outcome))
	assert.Equal(t, agent.StateDone, outcome.State)
	assert.Equal(t, "You said: hello", outcome.Answer)
	assert.NotEmpty(t, outcome.ThreadID)

	// The thread is listable afterwards.
	list := doJSON(t, http.MethodGet, ts.URL+"/v1/threads", "alice-token", nil)
	require.Equal(t, http.StatusOK, list.StatusCode)
	var listBody struct {
		Threads []json.RawMessage `json:"threads"`
		HasMore bool              `json:"hasMore"`
	}
	require.NoError(t, json.NewDecoder(list.Body).Decode(&listBody))
	assert.Len(t, listBody.Threads, 1)

	// And its items are readable.
	items := doJSON(t, http.MethodGet, ts.URL+"/v1/threads/"+outcome.ThreadID+"/items", "alice-token", nil)
	require.Equal(t, http.StatusOK, items.StatusCode)
	var itemsBody struct {
		Items []json.RawMessage `json:"items"`
	}
	require.NoError(t, json.NewDecoder(items.Body).Decode(&itemsBody))
	assert.Len(t, itemsBody.Items, 2)
}

func TestTurnEndpointRequiresAuth(t *testing.T) {
	_, ts := testServer(t, echoClient())

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/turns", "", turnParams{Message: "hello"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/turns", "wrong-token", turnParams{Message: "hello"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTurnEndpointIdentityMismatch(t *testing.T) {
	_, ts := testServer(t, echoClient())

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(turnParams{Message: "hi"}))
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/turns", &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer alice-token")
	req.Header.Set("X-Identity", "bob")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestTurnEndpointEmptyMessage(t *testing.T) {
	_, ts := testServer(t, echoClient())

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/turns", "alice-token", turnParams{Message: "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTurnEndpointStreaming(t *testing.T) {
	_, ts := testServer(t, echoClient())

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(turnParams{Message: "stream me", Stream: true}))
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/turns", &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer alice-token")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			events = append(events, name)
		}
	}

	assert.Contains(t, events, "item.added")
	assert.Contains(t, events, "item.updated")
	assert.Contains(t, events, "item.done")
	assert.Equal(t, "turn.completed", events[len(events)-1])
}

func TestThreadOwnershipOverHTTP(t *testing.T) {
	_, ts := testServer(t, echoClient())

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/turns", "alice-token", turnParams{Message: "mine"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var outcome agent.TurnOutcome
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&outcome))

	// Bob cannot read or delete Alice's thread.
	items := doJSON(t, http.MethodGet, ts.URL+"/v1/threads/"+outcome.ThreadID+"/items", "bob-token", nil)
	assert.Equal(t, http.StatusNotFound, items.StatusCode)

	del := doJSON(t, http.MethodDelete, ts.URL+"/v1/threads/"+outcome.ThreadID, "bob-token", nil)
	assert.Equal(t, http.StatusNotFound, del.StatusCode)

	// Alice can delete it.
	del = doJSON(t, http.MethodDelete, ts.URL+"/v1/threads/"+outcome.ThreadID, "alice-token", nil)
	assert.Equal(t, http.StatusNoContent, del.StatusCode)
}

// authenticatedConn returns a WebSocket connection that has completed the handshake.
func authenticatedConn(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	// Read challenge
	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))

	// Send connect
	connectReq, _ := NewRequest("auth-req", "connect", ConnectParams{
		MinProtocol: 1,
		MaxProtocol: 1,
		Client:      ClientInfo{ID: "test-client", Version: "1.0.0", Platform: "linux"},
		Auth:        &ConnectAuth{Token: token},
	})
	require.NoError(t, conn.WriteJSON(connectReq))

	// Read hello-ok
	var helloResp Frame
	require.NoError(t, conn.ReadJSON(&helloResp))
	require.NotNil(t, helloResp.OK)
	require.True(t, *helloResp.OK, "handshake should succeed")

	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketHandshakeSuccess(t *testing.T) {
	_, ts := testServer(t, echoClient())

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))
	assert.Equal(t, FrameTypeEvent, challenge.Type)
	assert.Equal(t, "connect.challenge", challenge.Event)

	connectReq, err := NewRequest("req-1", "connect", ConnectParams{
		MinProtocol: 1,
		MaxProtocol: 1,
		Client:      ClientInfo{ID: "test-client", Version: "1.0.0", Platform: "linux"},
		Auth:        &ConnectAuth{Token: "alice-token"},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(connectReq))

	var helloResp Frame
	require.NoError(t, conn.ReadJSON(&helloResp))
	assert.Equal(t, FrameTypeResponse, helloResp.Type)
	assert.Equal(t, "req-1", helloResp.ID)
	require.NotNil(t, helloResp.OK)
	assert.True(t, *helloResp.OK)

	var hello HelloOK
	require.NoError(t, json.Unmarshal(helloResp.Payload, &hello))
	assert.Equal(t, ProtocolVersion, hello.Protocol)
	assert.Equal(t, "alice", hello.Identity)
	assert.NotEmpty(t, hello.Server.ConnID)
	assert.NotEmpty(t, hello.Features.Methods)
	assert.Greater(t, hello.Policy.MaxPayload, 0)
}

func TestWebSocketHandshakeWrongToken(t *testing.T) {
	_, ts := testServer(t, echoClient())

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))

	connectReq, _ := NewRequest("req-1", "connect", ConnectParams{
		MinProtocol: 1,
		MaxProtocol: 1,
		Client:      ClientInfo{ID: "test-client", Version: "1.0.0"},
		Auth:        &ConnectAuth{Token: "wrong-token"},
	})
	require.NoError(t, conn.WriteJSON(connectReq))

	var errResp Frame
	require.NoError(t, conn.ReadJSON(&errResp))
	assert.Equal(t, FrameTypeResponse, errResp.Type)
	require.NotNil(t, errResp.OK)
	assert.False(t, *errResp.OK)
	require.NotNil(t, errResp.Error)
	assert.Equal(t, "unauthorized", errResp.Error.Code)
}

func TestWebSocketRPCHealth(t *testing.T) {
	_, ts := testServer(t, echoClient())
	conn := authenticatedConn(t, ts, "alice-token")

	req, _ := NewRequest("req-2", "health", nil)
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "req-2", resp.ID)
	require.NotNil(t, resp.OK)
	assert.True(t, *resp.OK)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(resp.Payload, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Clients)
}

func TestWebSocketChatSend(t *testing.T) {
	_, ts := testServer(t, echoClient())
	conn := authenticatedConn(t, ts, "alice-token")

	req, _ := NewRequest("chat-1", "chat.send", chatSendParams{Message: "Hello bot!", Stream: true})
	require.NoError(t, conn.WriteJSON(req))

	// Events arrive before the final response.
	sawEvent := false
	for {
		var frame Frame
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type == FrameTypeEvent {
			assert.Equal(t, "turn.event", frame.Event)
			sawEvent = true
			continue
		}
		require.Equal(t, FrameTypeResponse, frame.Type)
		assert.Equal(t, "chat-1", frame.ID)
		require.NotNil(t, frame.OK)
		assert.True(t, *frame.OK)

		var outcome agent.TurnOutcome
		require.NoError(t, json.Unmarshal(frame.Payload, &outcome))
		assert.Equal(t, "You said: Hello bot!", outcome.Answer)
		break
	}
	assert.True(t, sawEvent)
}

func TestWebSocketDisconnectCancelsTurn(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	client := &llm.MockClient{
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			ch := make(chan llm.StreamEvent)
			close(started)
			go func() {
				<-ctx.Done()
				close(cancelled)
				close(ch)
			}()
			return ch, nil
		},
	}

	_, ts := testServer(t, client)
	conn := authenticatedConn(t, ts, "alice-token")

	req, _ := NewRequest("chat-cancel", "chat.send", chatSendParams{Message: "slow one"})
	require.NoError(t, conn.WriteJSON(req))

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("model call never started")
	}

	require.NoError(t, conn.Close())

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight model call kept running after disconnect")
	}
}

func TestWebSocketChatSendEmptyMessage(t *testing.T) {
	_, ts := testServer(t, echoClient())
	conn := authenticatedConn(t, ts, "alice-token")

	req, _ := NewRequest("chat-2", "chat.send", chatSendParams{Message: ""})
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.OK)
	assert.False(t, *resp.OK)
	assert.Equal(t, "invalid_params", resp.Error.Code)
}

func TestWebSocketUnknownMethod(t *testing.T) {
	_, ts := testServer(t, echoClient())
	conn := authenticatedConn(t, ts, "alice-token")

	req, _ := NewRequest("req-6", "nonexistent.method", nil)
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.OK)
	assert.False(t, *resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "method_not_found", resp.Error.Code)
}

func TestWebSocketThreadsRPC(t *testing.T) {
	_, ts := testServer(t, echoClient())
	conn := authenticatedConn(t, ts, "alice-token")

	req, _ := NewRequest("chat-1", "chat.send", chatSendParams{Message: "hi"})
	require.NoError(t, conn.WriteJSON(req))
	var chatResp Frame
	require.NoError(t, conn.ReadJSON(&chatResp))
	require.True(t, *chatResp.OK)

	var outcome agent.TurnOutcome
	require.NoError(t, json.Unmarshal(chatResp.Payload, &outcome))

	listReq, _ := NewRequest("list-1", "threads.list", threadsListParams{})
	require.NoError(t, conn.WriteJSON(listReq))
	var listResp Frame
	require.NoError(t, conn.ReadJSON(&listResp))
	require.True(t, *listResp.OK)

	var listBody struct {
		Threads []json.RawMessage `json:"threads"`
	}
	require.NoError(t, json.Unmarshal(listResp.Payload, &listBody))
	assert.Len(t, listBody.Threads, 1)

	delReq, _ := NewRequest("del-1", "threads.delete", threadsDeleteParams{ThreadID: outcome.ThreadID})
	require.NoError(t, conn.WriteJSON(delReq))
	var delResp Frame
	require.NoError(t, conn.ReadJSON(&delResp))
	require.True(t, *delResp.OK)
}

func TestResolveBindAddr(t *testing.T) {
	tests := []struct {
		bind string
		port int
		want string
	}{
		{"loopback", 8321, "127.0.0.1:8321"},
		{"lan", 9999, "0.0.0.0:9999"},
		{"custom", 3000, "0.0.0.0:3000"},
		{"unknown", 5000, "127.0.0.1:5000"},
	}

	for _, tt := range tests {
		t.Run(tt.bind, func(t *testing.T) {
			addr := resolveBindAddr(config.ServerConfig{Bind: tt.bind, Port: tt.port})
			assert.Equal(t, tt.want, addr)
		})
	}
}

func TestServerStart(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.Port = 0 // let OS pick a port
	cfg.Auth.Tokens = map[string]string{"alice": "alice-token"}

	db, err := store.Open(":memory:", silentLog())
	require.NoError(t, err)
	defer db.Close()

	threads := store.NewThreadStore(db)
	reg := tools.NewRegistry(silentLog())
	orch := agent.NewOrchestrator(agent.Config{Model: "mock"}, echoClient(), reg, silentLog())
	turns := agent.NewService(orch, threads, nil, 20, silentLog())

	srv := New(cfg, turns, threads, silentLog())

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	// Give it a moment to start
	time.Sleep(100 * time.Millisecond)

	cancel()
	assert.NoError(t, <-errCh)
}
