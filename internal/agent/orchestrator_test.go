package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasklane/tasklane/internal/domain"
	"github.com/tasklane/tasklane/internal/llm"
	"github.com/tasklane/tasklane/internal/logging"
	"github.com/tasklane/tasklane/internal/tools"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

type capturedCall struct {
	Name   string
	UserID string
}

// captureRegistry records dispatched calls including the injected identity.
func captureRegistry(t *testing.T, calls *[]capturedCall) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(silentLog())
	type args struct {
		Title  string `json:"title"`
		UserID string `json:"user_id"`
	}
	err := reg.Register(tools.Definition{
		Name:        "add_task",
		Description: "Create a new task",
		Args:        args{},
		Trusted:     []string{tools.TrustedUserID},
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a args
			if err := json.Unmarshal(raw, &a); err != nil {
				return nil, err
			}
			*calls = append(*calls, capturedCall{Name: "add_task", UserID: a.UserID})
			return map[string]any{"task_id": 1, "status": "created"}, nil
		},
	})
	require.NoError(t, err)
	return reg
}

func streamEvents(events ...llm.StreamEvent) <-chan llm.StreamEvent {
	ch := make(chan llm.StreamEvent, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	return ch
}

func collectEmit(events *[]domain.TurnEvent) domain.EmitFunc {
	return func(ev domain.TurnEvent) {
		*events = append(*events, ev)
	}
}

func newTestOrchestrator(client llm.Client, reg *tools.Registry) *Orchestrator {
	return NewOrchestrator(Config{
		Model:         "gpt-4o-mini",
		MaxTokens:     1000,
		MaxToolRounds: 8,
		ModelTimeout:  5 * time.Second,
	}, client, reg, silentLog())
}

func TestRunTurnTextOnly(t *testing.T) {
	client := &llm.MockClient{
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			return streamEvents(
				llm.StreamEvent{Type: "delta", Content: "Hello "},
				llm.StreamEvent{Type: "delta", Content: "there!"},
				llm.StreamEvent{Type: "done", Response: &llm.CompletionResponse{
					Content:      "Hello there!",
					FinishReason: "stop",
					Usage:        llm.Usage{InputTokens: 10, OutputTokens: 4},
				}},
			), nil
		},
	}

	var events []domain.TurnEvent
	o := newTestOrchestrator(client, tools.NewRegistry(silentLog()))

	result, err := o.RunTurn(context.Background(), "alice",
		[]llm.Message{{Role: llm.RoleUser, Content: "hi"}}, collectEmit(&events))
	require.NoError(t, err)

	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, "Hello there!", result.Answer)
	assert.Equal(t, 0, result.ToolRounds)
	assert.Equal(t, 10, result.Usage.InputTokens)

	require.Len(t, events, 4)
	assert.Equal(t, domain.TurnItemAdded, events[0].Type)
	assert.Equal(t, domain.TurnItemUpdated, events[1].Type)
	assert.Equal(t, "Hello ", events[1].Delta)
	assert.Equal(t, domain.TurnItemUpdated, events[2].Type)
	assert.Equal(t, domain.TurnItemDone, events[3].Type)
	assert.Equal(t, "Hello there!", events[3].Item.Text)
	assert.Equal(t, events[0].ItemID, events[3].ItemID)
}

func TestRunTurnToolRound(t *testing.T) {
	callN := 0
	var requests []llm.CompletionRequest
	client := &llm.MockClient{
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			requests = append(requests, req)
			callN++
			if callN == 1 {
				return streamEvents(llm.StreamEvent{Type: "done", Response: &llm.CompletionResponse{
					FinishReason: "tool_calls",
					ToolCalls: []llm.ToolCall{
						{ID: "tc1", Name: "add_task", Arguments: `{"title":"buy milk"}`},
					},
				}}), nil
			}
			return streamEvents(
				llm.StreamEvent{Type: "delta", Content: "Added it."},
				llm.StreamEvent{Type: "done", Response: &llm.CompletionResponse{
					Content: "Added it.", FinishReason: "stop",
				}},
			), nil
		},
	}

	var calls []capturedCall
	reg := captureRegistry(t, &calls)

	var events []domain.TurnEvent
	o := newTestOrchestrator(client, reg)

	result, err := o.RunTurn(context.Background(), "alice",
		[]llm.Message{{Role: llm.RoleUser, Content: "add buy milk"}}, collectEmit(&events))
	require.NoError(t, err)

	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, "Added it.", result.Answer)
	assert.Equal(t, 1, result.ToolRounds)

	// The handler saw the injected identity, not a model-supplied one.
	require.Len(t, calls, 1)
	assert.Equal(t, "alice", calls[0].UserID)

	// Second model call carries the assistant tool request and its result.
	require.Len(t, requests, 2)
	second := requests[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, llm.RoleAssistant, second[1].Role)
	require.Len(t, second[1].ToolCalls, 1)
	assert.Equal(t, "tc1", second[1].ToolCalls[0].ID)
	assert.Equal(t, llm.RoleTool, second[2].Role)
	assert.Equal(t, "tc1", second[2].ToolCallID)
	assert.Contains(t, second[2].Content, `"task_id"`)

	// Tool item lifecycle showed up in the stream.
	var toolAdded, toolDone *domain.TurnEvent
	for i := range events {
		if events[i].Item != nil && events[i].Item.Kind == domain.KindToolCall {
			switch events[i].Type {
			case domain.TurnItemAdded:
				toolAdded = &events[i]
			case domain.TurnItemDone:
				toolDone = &events[i]
			}
		}
	}
	require.NotNil(t, toolAdded)
	require.NotNil(t, toolDone)
	assert.Equal(t, domain.StatusInProgress, toolAdded.Item.Status)
	assert.Empty(t, toolAdded.Item.ToolCall.Output)
	assert.Equal(t, domain.StatusCompleted, toolDone.Item.Status)
	assert.Contains(t, toolDone.Item.ToolCall.Output, "created")
}

func TestRunTurnToolRoundCap(t *testing.T) {
	client := &llm.MockClient{
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			return streamEvents(llm.StreamEvent{Type: "done", Response: &llm.CompletionResponse{
				FinishReason: "tool_calls",
				ToolCalls: []llm.ToolCall{
					{ID: "tc", Name: "add_task", Arguments: `{"title":"again"}`},
				},
			}}), nil
		},
	}

	var calls []capturedCall
	reg := captureRegistry(t, &calls)

	o := NewOrchestrator(Config{Model: "m", MaxToolRounds: 3, ModelTimeout: time.Second}, client, reg, silentLog())
	result, err := o.RunTurn(context.Background(), "alice",
		[]llm.Message{{Role: llm.RoleUser, Content: "loop"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, StateErrored, result.State)
	assert.Equal(t, errorApology, result.Answer)
	assert.Len(t, calls, 3)
}

func TestRunTurnModelTimeout(t *testing.T) {
	client := &llm.MockClient{
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			ch := make(chan llm.StreamEvent, 1)
			go func() {
				<-ctx.Done()
				ch <- llm.StreamEvent{Type: "error", Error: ctx.Err().Error()}
				close(ch)
			}()
			return ch, nil
		},
	}

	var events []domain.TurnEvent
	o := NewOrchestrator(Config{Model: "m", ModelTimeout: 50 * time.Millisecond}, client, tools.NewRegistry(silentLog()), silentLog())

	result, err := o.RunTurn(context.Background(), "alice",
		[]llm.Message{{Role: llm.RoleUser, Content: "slow"}}, collectEmit(&events))
	require.NoError(t, err)

	assert.Equal(t, StateTimedOut, result.State)
	assert.Equal(t, timeoutApology, result.Answer)

	// The apology is streamed as a complete item, never a partial one.
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, domain.TurnItemDone, last.Type)
	assert.Equal(t, timeoutApology, last.Item.Text)
}

func TestRunTurnModelError(t *testing.T) {
	client := &llm.MockClient{
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			return streamEvents(llm.StreamEvent{Type: "error", Error: "backend exploded"}), nil
		},
	}

	o := newTestOrchestrator(client, tools.NewRegistry(silentLog()))
	result, err := o.RunTurn(context.Background(), "alice",
		[]llm.Message{{Role: llm.RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, StateErrored, result.State)
	assert.Equal(t, errorApology, result.Answer)
}

func TestRunTurnCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &llm.MockClient{
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			cancel()
			ch := make(chan llm.StreamEvent, 1)
			go func() {
				<-ctx.Done()
				ch <- llm.StreamEvent{Type: "error", Error: ctx.Err().Error()}
				close(ch)
			}()
			return ch, nil
		},
	}

	o := newTestOrchestrator(client, tools.NewRegistry(silentLog()))
	_, err := o.RunTurn(ctx, "alice",
		[]llm.Message{{Role: llm.RoleUser, Content: "hi"}}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildSystemPrompt(t *testing.T) {
	prompt := BuildSystemPrompt(PromptConfig{})
	for _, name := range []string{"add_task", "list_tasks", "complete_task", "update_task", "delete_task"} {
		assert.Contains(t, prompt, name)
	}
	assert.Contains(t, prompt, "Current date: "+time.Now().Format("2006-01-02"))
	assert.False(t, strings.HasSuffix(prompt, " "))

	withExtra := BuildSystemPrompt(PromptConfig{ExtraPrompt: "Answer in French."})
	assert.Contains(t, withExtra, "Answer in French.")
}
