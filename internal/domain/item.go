package domain

import "time"

// Role identifies who produced an item.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ItemKind discriminates the item content payload.
type ItemKind string

const (
	KindMessage  ItemKind = "message"
	KindToolCall ItemKind = "tool_call"
)

// ItemStatus tracks the lifecycle of tool-call items.
type ItemStatus string

const (
	StatusPending    ItemStatus = "pending"
	StatusInProgress ItemStatus = "in_progress"
	StatusCompleted  ItemStatus = "completed"
	StatusErrored    ItemStatus = "errored"
)

// Item is one unit of conversation: a user message, an assistant message,
// or a tool call with its result. Item ids are unique across the whole
// system, not just within a thread.
type Item struct {
	ID        string          `json:"id"`
	ThreadID  string          `json:"threadId"`
	OwnerID   string          `json:"ownerId,omitempty"`
	Kind      ItemKind        `json:"kind"`
	Role      Role            `json:"role"`
	Text      string          `json:"text,omitempty"`
	ToolCall  *ToolCallDetail `json:"toolCall,omitempty"`
	Status    ItemStatus      `json:"status,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// ToolCallDetail is the payload of a tool_call item.
type ToolCallDetail struct {
	CallID    string `json:"callId,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"` // JSON as produced by the model
	Output    string `json:"output,omitempty"`    // JSON result fed back to the model
}

// NewMessageItem builds an unsaved message item. The id is assigned by the
// store when the item is persisted, or by the remapper during streaming.
func NewMessageItem(role Role, text string) Item {
	return Item{
		Kind:      KindMessage,
		Role:      role,
		Text:      text,
		Status:    StatusCompleted,
		CreatedAt: time.Now().UTC(),
	}
}

// NewToolCallItem builds an unsaved tool_call item in the pending state.
func NewToolCallItem(callID, name, arguments string) Item {
	return Item{
		Kind:      KindToolCall,
		Role:      RoleTool,
		ToolCall:  &ToolCallDetail{CallID: callID, Name: name, Arguments: arguments},
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}
