package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tasklane/tasklane/internal/domain"
	"github.com/tasklane/tasklane/internal/hooks"
	"github.com/tasklane/tasklane/internal/llm"
	"github.com/tasklane/tasklane/internal/logging"
)

// ThreadStore is the slice of the persistence layer the turn service needs.
type ThreadStore interface {
	Resolve(ctx context.Context, ownerID, ref string) (*domain.Thread, error)
	RecentItems(ctx context.Context, ownerID, threadID string, n int) ([]*domain.Item, error)
	AppendTurn(ctx context.Context, user, assistant *domain.Item) error
}

// TurnRequest is one inbound user message.
type TurnRequest struct {
	OwnerID   string
	ThreadRef string
	Message   string
}

// TurnOutcome is the persisted result of a turn.
type TurnOutcome struct {
	ThreadID      string      `json:"threadId"`
	State         string      `json:"state"`
	Answer        string      `json:"answer"`
	UserItem      domain.Item `json:"userItem"`
	AssistantItem domain.Item `json:"assistantItem"`
	Usage         llm.Usage   `json:"usage"`
}

// Service ties a turn together: it resolves the thread, loads history,
// runs the orchestrator, and persists the resulting user/assistant pair.
type Service struct {
	orch         *Orchestrator
	threads      ThreadStore
	hooks        *hooks.Manager
	historyLimit int
	log          *logging.Logger
}

// NewService creates a turn service. hookMgr may be nil.
func NewService(orch *Orchestrator, threads ThreadStore, hookMgr *hooks.Manager, historyLimit int, log *logging.Logger) *Service {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &Service{
		orch:         orch,
		threads:      threads,
		hooks:        hookMgr,
		historyLimit: historyLimit,
		log:          log.Sub("turns"),
	}
}

// Run processes one user message and returns the persisted outcome.
// Events stream through emit with transport-safe ids; only the final
// user/assistant pair is persisted, never the intermediate tool rounds.
// The persisted assistant item reuses the id the stream announced for
// the final answer, so clients can correlate the two.
func (s *Service) Run(ctx context.Context, req TurnRequest, emit domain.EmitFunc) (*TurnOutcome, error) {
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return nil, errors.New("message cannot be empty")
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, errors.New("user_id cannot be empty")
	}

	thread, err := s.threads.Resolve(ctx, req.OwnerID, req.ThreadRef)
	if err != nil {
		return nil, fmt.Errorf("resolve thread: %w", err)
	}

	recent, err := s.threads.RecentItems(ctx, req.OwnerID, thread.ID, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	history := historyMessages(recent)
	history = append(history, llm.Message{Role: llm.RoleUser, Content: req.Message})

	s.log.Info().
		Str("threadId", thread.ID).
		Str("owner", req.OwnerID).
		Int("historyLen", len(history)).
		Msg("turn started")

	remapper := NewRemapper()
	var finalID, finalText string
	wrapped := remapper.Wrap(func(ev domain.TurnEvent) {
		if ev.Type == domain.TurnItemDone && ev.Item != nil &&
			ev.Item.Kind == domain.KindMessage && ev.Item.Role == domain.RoleAssistant {
			finalID = ev.Item.ID
			finalText = ev.Item.Text
		}
		if emit != nil {
			emit(ev)
		}
	})

	result, err := s.orch.RunTurn(ctx, req.OwnerID, history, wrapped)
	if err != nil {
		return nil, err
	}

	userItem := domain.NewMessageItem(domain.RoleUser, req.Message)
	assistantItem := domain.NewMessageItem(domain.RoleAssistant, result.Answer)
	// Reuse the streamed id only when it closed with exactly the final
	// answer. A preamble item from an earlier tool round must not lend
	// its id to an assistant item with different text; the store assigns
	// a fresh id instead.
	if finalID != "" && finalText == result.Answer {
		assistantItem.ID = finalID
	}
	userItem.ThreadID = thread.ID
	userItem.OwnerID = req.OwnerID
	assistantItem.ThreadID = thread.ID
	assistantItem.OwnerID = req.OwnerID

	if err := s.threads.AppendTurn(ctx, &userItem, &assistantItem); err != nil {
		return nil, fmt.Errorf("persist turn: %w", err)
	}

	outcome := &TurnOutcome{
		ThreadID:      thread.ID,
		State:         result.State,
		Answer:        result.Answer,
		UserItem:      userItem,
		AssistantItem: assistantItem,
		Usage:         result.Usage,
	}

	s.log.Info().
		Str("threadId", thread.ID).
		Str("state", result.State).
		Int("toolRounds", result.ToolRounds).
		Dur("duration", result.Duration).
		Msg("turn persisted")

	if s.hooks != nil {
		s.hooks.EmitAsync(context.WithoutCancel(ctx), hooks.EventTurnCompleted, map[string]any{
			"thread_id": thread.ID,
			"owner_id":  req.OwnerID,
			"state":     result.State,
		})
	}
	return outcome, nil
}

// historyMessages converts persisted items to model messages. Tool rounds
// are never persisted, so only message items survive into history.
func historyMessages(items []*domain.Item) []llm.Message {
	msgs := make([]llm.Message, 0, len(items))
	for _, item := range items {
		if item.Kind != domain.KindMessage {
			continue
		}
		role := llm.RoleUser
		if item.Role == domain.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: item.Text})
	}
	return msgs
}
