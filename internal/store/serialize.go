package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tasklane/tasklane/internal/domain"
)

// storedItem is the JSON envelope written to the items content column.
// The type field is the discriminator.
type storedItem struct {
	Type     string                 `json:"type"` // "message" | "tool_call"
	Role     domain.Role            `json:"role,omitempty"`
	Text     string                 `json:"text,omitempty"`
	ToolCall *domain.ToolCallDetail `json:"tool_call,omitempty"`
	Status   domain.ItemStatus      `json:"status,omitempty"`
}

// encodeItem serializes an item for storage.
func encodeItem(item *domain.Item) (string, error) {
	stored := storedItem{
		Type:     string(item.Kind),
		Role:     item.Role,
		Text:     item.Text,
		ToolCall: item.ToolCall,
		Status:   item.Status,
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("encoding item %s: %w", item.ID, err)
	}
	return string(data), nil
}

// decodeItem deserializes a stored row back into an item. Rows written
// before the JSON envelope existed hold plain text; those are wrapped as
// completed message items using the row's role column.
func decodeItem(id, threadID, ownerID, role, content string, createdAt time.Time) *domain.Item {
	item := &domain.Item{
		ID:        id,
		ThreadID:  threadID,
		OwnerID:   ownerID,
		CreatedAt: createdAt,
	}

	var stored storedItem
	err := json.Unmarshal([]byte(content), &stored)
	if err == nil {
		switch stored.Type {
		case string(domain.KindMessage):
			item.Kind = domain.KindMessage
			item.Role = stored.Role
			item.Text = stored.Text
			item.Status = stored.Status
			if item.Status == "" {
				item.Status = domain.StatusCompleted
			}
			return item
		case string(domain.KindToolCall):
			item.Kind = domain.KindToolCall
			item.Role = stored.Role
			item.ToolCall = stored.ToolCall
			item.Status = stored.Status
			return item
		}
	}

	// Legacy plain-text row, or JSON with an unknown discriminator.
	item.Kind = domain.KindMessage
	item.Role = domain.Role(role)
	item.Text = content
	item.Status = domain.StatusCompleted
	return item
}
