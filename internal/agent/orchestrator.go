// Package agent runs conversational turns: it drives the model, executes
// tool calls, and streams item events to the caller.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/tasklane/tasklane/internal/domain"
	"github.com/tasklane/tasklane/internal/llm"
	"github.com/tasklane/tasklane/internal/logging"
	"github.com/tasklane/tasklane/internal/tools"
)

// Turn states reported in TurnResult.
const (
	StateAwaitingModel  = "awaiting_model"
	StateExecutingTools = "executing_tools"
	StateDone           = "done"
	StateTimedOut       = "timed_out"
	StateErrored        = "errored"
)

// Fallback answers delivered to the user when a turn cannot complete.
const (
	timeoutApology = "I apologize, but the request took too long to process. Please try again."
	errorApology   = "I encountered an error while processing your request. Please try again later."
)

// Config controls the turn loop.
type Config struct {
	Model         string
	MaxTokens     int
	Temperature   *float64
	MaxToolRounds int
	ModelTimeout  time.Duration
	ExtraPrompt   string
}

// TurnResult is the outcome of one turn.
type TurnResult struct {
	State      string        `json:"state"`
	Answer     string        `json:"answer"`
	Usage      llm.Usage     `json:"usage"`
	ToolRounds int           `json:"toolRounds"`
	Duration   time.Duration `json:"duration"`
}

// Orchestrator runs the model/tool loop for a single turn. It is stateless
// across turns and safe to share between concurrent turns on different
// threads; turns on the same thread must be serialized by the caller.
type Orchestrator struct {
	cfg    Config
	client llm.Client
	tools  *tools.Registry
	log    *logging.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg Config, client llm.Client, registry *tools.Registry, log *logging.Logger) *Orchestrator {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 8
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = 30 * time.Second
	}
	return &Orchestrator{
		cfg:    cfg,
		client: client,
		tools:  registry,
		log:    log.Sub("agent"),
	}
}

// RunTurn drives one turn to completion. The history carries the prior
// conversation; emit receives item events in causal order as the turn
// progresses. Item ids in emitted events are backend-local to this turn
// and are expected to be remapped at the transport boundary.
//
// Timeouts and model failures do not return an error: the turn finishes
// with an apologetic answer and a timed_out or errored state so the
// caller can still persist the exchange. An error is returned only when
// the caller's context is cancelled.
func (o *Orchestrator) RunTurn(ctx context.Context, ownerID string, history []llm.Message, emit domain.EmitFunc) (*TurnResult, error) {
	start := time.Now()

	system := BuildSystemPrompt(PromptConfig{ExtraPrompt: o.cfg.ExtraPrompt})
	defs := o.tools.Schemas()
	trusted := map[string]any{tools.TrustedUserID: ownerID}

	messages := make([]llm.Message, len(history))
	copy(messages, history)

	var usage llm.Usage
	seq := 0
	localID := func(prefix string) string {
		seq++
		return fmt.Sprintf("%s_%d", prefix, seq)
	}

	state := StateAwaitingModel
	for round := 0; round < o.cfg.MaxToolRounds; round++ {
		o.log.Debug().
			Str("state", state).
			Int("round", round).
			Int("messages", len(messages)).
			Msg("calling model")

		resp, failState := o.streamOnce(ctx, system, messages, defs, emit, localID)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if failState != "" {
			answer := errorApology
			if failState == StateTimedOut {
				answer = timeoutApology
			}
			return o.finish(failState, answer, usage, round, start, emit, localID), nil
		}

		usage.InputTokens += resp.Usage.InputTokens
		usage.OutputTokens += resp.Usage.OutputTokens

		if len(resp.ToolCalls) == 0 {
			result := &TurnResult{
				State:      StateDone,
				Answer:     resp.Content,
				Usage:      usage,
				ToolRounds: round,
				Duration:   time.Since(start),
			}
			o.log.Info().
				Int("toolRounds", round).
				Int("inputTokens", usage.InputTokens).
				Int("outputTokens", usage.OutputTokens).
				Dur("duration", result.Duration).
				Msg("turn completed")
			return result, nil
		}

		state = StateExecutingTools
		o.log.Info().Int("toolCalls", len(resp.ToolCalls)).Msg("executing tool calls")

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		// Tools run one at a time, in the order the model requested them.
		// Each event carries its own item snapshot: consumers may retain
		// events, so the done-side mutation must not reach the added event.
		for _, call := range resp.ToolCalls {
			item := domain.NewToolCallItem(call.ID, call.Name, call.Arguments)
			item.ID = localID("call")
			item.Status = domain.StatusInProgress
			emitEvent(emit, domain.TurnEvent{Type: domain.TurnItemAdded, Item: snapshotItem(item), ItemID: item.ID})

			output := o.tools.Dispatch(ctx, call.Name, call.Arguments, trusted)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			item.ToolCall.Output = output
			item.Status = domain.StatusCompleted
			emitEvent(emit, domain.TurnEvent{Type: domain.TurnItemDone, Item: snapshotItem(item), ItemID: item.ID})

			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    output,
				ToolCallID: call.ID,
			})
		}
		state = StateAwaitingModel
	}

	o.log.Warn().Int("maxToolRounds", o.cfg.MaxToolRounds).Msg("tool round cap reached")
	return o.finish(StateErrored, errorApology, usage, o.cfg.MaxToolRounds, start, emit, localID), nil
}

// streamOnce performs a single model call under the configured timeout,
// forwarding text deltas as item events. A non-empty failState means the
// call did not produce a usable response.
func (o *Orchestrator) streamOnce(ctx context.Context, system string, messages []llm.Message, defs []llm.ToolDefinition, emit domain.EmitFunc, localID func(string) string) (resp *llm.CompletionResponse, failState string) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.ModelTimeout)
	defer cancel()

	req := llm.CompletionRequest{
		Model:       o.cfg.Model,
		System:      system,
		Messages:    messages,
		Tools:       defs,
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
		Stream:      true,
	}

	ch, err := o.client.Stream(callCtx, req)
	if err != nil {
		o.log.Error().Err(err).Msg("model stream failed to start")
		return nil, StateErrored
	}

	var itemID string
	var content string
	var streamErr string

	for evt := range ch {
		switch evt.Type {
		case "delta":
			if itemID == "" {
				item := domain.NewMessageItem(domain.RoleAssistant, "")
				item.ID = localID("msg")
				itemID = item.ID
				emitEvent(emit, domain.TurnEvent{Type: domain.TurnItemAdded, Item: &item, ItemID: item.ID})
			}
			content += evt.Content
			emitEvent(emit, domain.TurnEvent{Type: domain.TurnItemUpdated, ItemID: itemID, Delta: evt.Content})
		case "done":
			if evt.Response != nil {
				resp = evt.Response
			}
		case "error":
			streamErr = evt.Error
		}
	}

	if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		o.log.Warn().Dur("timeout", o.cfg.ModelTimeout).Msg("model call timed out")
		return nil, StateTimedOut
	}
	if streamErr != "" {
		o.log.Error().Str("error", streamErr).Msg("model stream error")
		return nil, StateErrored
	}
	if resp == nil {
		resp = &llm.CompletionResponse{Content: content, Model: o.cfg.Model}
	}
	if resp.Content == "" {
		resp.Content = content
	}

	// Text that turned out to be the preamble of a tool round still gets
	// its closing event; the final answer's item is closed here too.
	if itemID == "" && resp.Content != "" && len(resp.ToolCalls) == 0 {
		// Backend answered without deltas. Emit the item whole.
		item := domain.NewMessageItem(domain.RoleAssistant, "")
		item.ID = localID("msg")
		itemID = item.ID
		emitEvent(emit, domain.TurnEvent{Type: domain.TurnItemAdded, Item: &item, ItemID: itemID})
	}
	if itemID != "" {
		final := domain.NewMessageItem(domain.RoleAssistant, resp.Content)
		final.ID = itemID
		emitEvent(emit, domain.TurnEvent{Type: domain.TurnItemDone, Item: &final, ItemID: itemID})
	}
	return resp, ""
}

// finish closes out a failed turn by streaming the apology as a complete
// assistant item and assembling the result.
func (o *Orchestrator) finish(state, answer string, usage llm.Usage, rounds int, start time.Time, emit domain.EmitFunc, localID func(string) string) *TurnResult {
	item := domain.NewMessageItem(domain.RoleAssistant, answer)
	item.ID = localID("msg")
	emitEvent(emit, domain.TurnEvent{Type: domain.TurnItemAdded, Item: &item, ItemID: item.ID})
	emitEvent(emit, domain.TurnEvent{Type: domain.TurnItemDone, Item: &item, ItemID: item.ID})

	return &TurnResult{
		State:      state,
		Answer:     answer,
		Usage:      usage,
		ToolRounds: rounds,
		Duration:   time.Since(start),
	}
}

func emitEvent(emit domain.EmitFunc, ev domain.TurnEvent) {
	if emit != nil {
		emit(ev)
	}
}

// snapshotItem copies an item, including its tool-call detail, so an
// emitted event stays frozen while the turn keeps mutating its working copy.
func snapshotItem(item domain.Item) *domain.Item {
	if item.ToolCall != nil {
		detail := *item.ToolCall
		item.ToolCall = &detail
	}
	return &item
}
