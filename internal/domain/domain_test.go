package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageItem(t *testing.T) {
	item := NewMessageItem(RoleUser, "hello")
	assert.Equal(t, KindMessage, item.Kind)
	assert.Equal(t, RoleUser, item.Role)
	assert.Equal(t, "hello", item.Text)
	assert.Equal(t, StatusCompleted, item.Status)
	assert.Empty(t, item.ID, "id is assigned at persist time")
	assert.False(t, item.CreatedAt.IsZero())
}

func TestNewToolCallItem(t *testing.T) {
	item := NewToolCallItem("call_1", "add_task", `{"title":"buy milk"}`)
	assert.Equal(t, KindToolCall, item.Kind)
	assert.Equal(t, RoleTool, item.Role)
	assert.Equal(t, StatusPending, item.Status)
	require.NotNil(t, item.ToolCall)
	assert.Equal(t, "add_task", item.ToolCall.Name)
	assert.Equal(t, "call_1", item.ToolCall.CallID)
}

func TestItemJSONRoundTrip(t *testing.T) {
	item := NewToolCallItem("call_9", "list_tasks", `{"status":"pending"}`)
	item.ID = "tool_abc123"
	item.ThreadID = "thread_def456"

	data, err := json.Marshal(item)
	require.NoError(t, err)

	var decoded Item
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, item.ID, decoded.ID)
	assert.Equal(t, item.Kind, decoded.Kind)
	require.NotNil(t, decoded.ToolCall)
	assert.Equal(t, "list_tasks", decoded.ToolCall.Name)
}

func TestValidTaskFilter(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"all", true},
		{"pending", true},
		{"completed", true},
		{"", false},
		{"done", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidTaskFilter(tt.input))
		})
	}
}

func TestTurnEventShapes(t *testing.T) {
	item := NewMessageItem(RoleAssistant, "hi")
	item.ID = "msg_1"

	added := TurnEvent{Type: TurnItemAdded, Item: &item}
	updated := TurnEvent{Type: TurnItemUpdated, ItemID: "msg_1", Delta: " there"}
	done := TurnEvent{Type: TurnItemDone, Item: &item}

	assert.Equal(t, "msg_1", added.Item.ID)
	assert.Equal(t, "msg_1", updated.ItemID)
	assert.Equal(t, TurnItemDone, done.Type)
}
