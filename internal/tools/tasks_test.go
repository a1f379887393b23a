package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasklane/tasklane/internal/domain"
)

// fakeTaskStore is an in-memory TaskStore for handler tests.
type fakeTaskStore struct {
	nextID int64
	tasks  map[int64]*domain.Task
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{nextID: 1, tasks: make(map[int64]*domain.Task)}
}

func (f *fakeTaskStore) CreateTask(ctx context.Context, ownerID, title, description string) (*domain.Task, error) {
	task := &domain.Task{
		ID:          f.nextID,
		OwnerID:     ownerID,
		Title:       title,
		Description: description,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	f.tasks[f.nextID] = task
	f.nextID++
	return task, nil
}

func (f *fakeTaskStore) ListTasks(ctx context.Context, ownerID, filter string) ([]*domain.Task, error) {
	var out []*domain.Task
	for _, task := range f.tasks {
		if task.OwnerID != ownerID {
			continue
		}
		switch filter {
		case domain.TaskFilterPending:
			if task.Completed {
				continue
			}
		case domain.TaskFilterCompleted:
			if !task.Completed {
				continue
			}
		}
		out = append(out, task)
	}
	return out, nil
}

func (f *fakeTaskStore) get(ownerID string, id int64) (*domain.Task, error) {
	task, ok := f.tasks[id]
	if !ok || task.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return task, nil
}

func (f *fakeTaskStore) CompleteTask(ctx context.Context, ownerID string, id int64) (*domain.Task, error) {
	task, err := f.get(ownerID, id)
	if err != nil {
		return nil, err
	}
	task.Completed = true
	return task, nil
}

func (f *fakeTaskStore) UpdateTask(ctx context.Context, ownerID string, id int64, title, description *string) (*domain.Task, error) {
	task, err := f.get(ownerID, id)
	if err != nil {
		return nil, err
	}
	if title != nil {
		task.Title = *title
	}
	if description != nil {
		task.Description = *description
	}
	return task, nil
}

func (f *fakeTaskStore) DeleteTask(ctx context.Context, ownerID string, id int64) (*domain.Task, error) {
	task, err := f.get(ownerID, id)
	if err != nil {
		return nil, err
	}
	delete(f.tasks, id)
	return task, nil
}

func taskRegistry(t *testing.T) (*Registry, *fakeTaskStore) {
	t.Helper()
	reg := NewRegistry(silentLog())
	store := newFakeTaskStore()
	require.NoError(t, RegisterTaskTools(reg, store))
	return reg, store
}

func dispatch(t *testing.T, reg *Registry, name, args string) map[string]any {
	t.Helper()
	out := reg.Dispatch(context.Background(), name, args, map[string]any{TrustedUserID: "alice"})
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	return payload
}

func TestRegisterTaskToolsRegistersAll(t *testing.T) {
	reg, _ := taskRegistry(t)
	assert.Equal(t, []string{"add_task", "list_tasks", "complete_task", "update_task", "delete_task"}, reg.Names())

	// user_id never appears in any advertised schema
	for _, def := range reg.Schemas() {
		var schema map[string]any
		require.NoError(t, json.Unmarshal(def.InputSchema, &schema))
		props := schema["properties"].(map[string]any)
		assert.NotContains(t, props, "user_id", def.Name)
	}
}

func TestAddTask(t *testing.T) {
	reg, store := taskRegistry(t)

	payload := dispatch(t, reg, "add_task", `{"title":"  buy milk  ","description":"2%"}`)
	assert.Equal(t, float64(1), payload["task_id"])
	assert.Equal(t, "created", payload["status"])
	assert.Equal(t, "buy milk", payload["title"])

	assert.Equal(t, "alice", store.tasks[1].OwnerID)
	assert.Equal(t, "buy milk", store.tasks[1].Title)
}

func TestAddTaskValidation(t *testing.T) {
	reg, _ := taskRegistry(t)

	tests := []struct {
		name    string
		args    string
		wantErr string
	}{
		{"empty title", `{"title":"   "}`, "title cannot be empty"},
		{"long title", `{"title":"` + longString(201) + `"}`, "title cannot exceed 200 characters"},
		{"long description", `{"title":"ok","description":"` + longString(1001) + `"}`, "description cannot exceed 1000 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := dispatch(t, reg, "add_task", tt.args)
			assert.Equal(t, tt.wantErr, payload["error"])
		})
	}
}

func TestAddTaskTitleLimitCountsRunes(t *testing.T) {
	reg, store := taskRegistry(t)

	// 200 multibyte runes are within the limit even though the byte
	// length is far beyond it.
	ok := strings.Repeat("ü", 200)
	payload := dispatch(t, reg, "add_task", `{"title":"`+ok+`"}`)
	assert.Equal(t, "created", payload["status"])
	assert.Equal(t, ok, store.tasks[1].Title)

	payload = dispatch(t, reg, "add_task", `{"title":"`+strings.Repeat("ü", 201)+`"}`)
	assert.Equal(t, "title cannot exceed 200 characters", payload["error"])
}

func TestAddTaskRequiresUserID(t *testing.T) {
	reg, _ := taskRegistry(t)

	out := reg.Dispatch(context.Background(), "add_task", `{"title":"x"}`, nil)
	assert.JSONEq(t, `{"error":"user_id cannot be empty"}`, out)
}

func TestListTasks(t *testing.T) {
	reg, store := taskRegistry(t)
	_, err := store.CreateTask(context.Background(), "alice", "one", "")
	require.NoError(t, err)
	done, err := store.CreateTask(context.Background(), "alice", "two", "")
	require.NoError(t, err)
	done.Completed = true
	_, err = store.CreateTask(context.Background(), "bob", "hidden", "")
	require.NoError(t, err)

	out := reg.Dispatch(context.Background(), "list_tasks", `{}`, map[string]any{TrustedUserID: "alice"})
	var all []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &all))
	assert.Len(t, all, 2)

	out = reg.Dispatch(context.Background(), "list_tasks", `{"status":"pending"}`, map[string]any{TrustedUserID: "alice"})
	var pending []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, "one", pending[0]["title"])
}

func TestListTasksInvalidStatus(t *testing.T) {
	reg, _ := taskRegistry(t)
	payload := dispatch(t, reg, "list_tasks", `{"status":"done"}`)
	assert.Equal(t, "status must be one of: all, pending, completed", payload["error"])
}

func TestCompleteTaskIdempotent(t *testing.T) {
	reg, store := taskRegistry(t)
	_, err := store.CreateTask(context.Background(), "alice", "one", "")
	require.NoError(t, err)

	first := dispatch(t, reg, "complete_task", `{"task_id":1}`)
	assert.Equal(t, "completed", first["status"])

	// Completing again is success, not an error
	second := dispatch(t, reg, "complete_task", `{"task_id":1}`)
	assert.Equal(t, "completed", second["status"])
	assert.Equal(t, "one", second["title"])
}

func TestCompleteTaskNotFoundOrForeign(t *testing.T) {
	reg, store := taskRegistry(t)
	_, err := store.CreateTask(context.Background(), "bob", "bobs", "")
	require.NoError(t, err)

	// Missing and foreign-owned tasks produce the same error
	missing := dispatch(t, reg, "complete_task", `{"task_id":99}`)
	foreign := dispatch(t, reg, "complete_task", `{"task_id":1}`)
	assert.Equal(t, "Task 99 not found or you don't have permission to complete it", missing["error"])
	assert.Equal(t, "Task 1 not found or you don't have permission to complete it", foreign["error"])
}

func TestCompleteTaskInvalidID(t *testing.T) {
	reg, _ := taskRegistry(t)
	payload := dispatch(t, reg, "complete_task", `{"task_id":0}`)
	assert.Equal(t, "task_id must be a positive integer", payload["error"])
}

func TestUpdateTask(t *testing.T) {
	reg, store := taskRegistry(t)
	_, err := store.CreateTask(context.Background(), "alice", "old", "desc")
	require.NoError(t, err)

	payload := dispatch(t, reg, "update_task", `{"task_id":1,"title":"new"}`)
	assert.Equal(t, "updated", payload["status"])
	assert.Equal(t, "new", payload["title"])
	assert.Equal(t, "desc", store.tasks[1].Description)
}

func TestUpdateTaskValidation(t *testing.T) {
	reg, store := taskRegistry(t)
	_, err := store.CreateTask(context.Background(), "alice", "old", "")
	require.NoError(t, err)

	tests := []struct {
		name    string
		args    string
		wantErr string
	}{
		{"no fields", `{"task_id":1}`, "at least one of title or description must be provided"},
		{"blank title", `{"task_id":1,"title":"  "}`, "title cannot be empty if provided"},
		{"missing task", `{"task_id":7,"title":"x"}`, "Task 7 not found or you don't have permission to update it"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := dispatch(t, reg, "update_task", tt.args)
			assert.Equal(t, tt.wantErr, payload["error"])
		})
	}
}

func TestDeleteTask(t *testing.T) {
	reg, store := taskRegistry(t)
	_, err := store.CreateTask(context.Background(), "alice", "gone", "")
	require.NoError(t, err)

	payload := dispatch(t, reg, "delete_task", `{"task_id":1}`)
	assert.Equal(t, "deleted", payload["status"])
	assert.Equal(t, "gone", payload["title"])
	assert.Empty(t, store.tasks)

	again := dispatch(t, reg, "delete_task", `{"task_id":1}`)
	assert.Equal(t, "Task 1 not found or you don't have permission to delete it", again["error"])
}

func longString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}
