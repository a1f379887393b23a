package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tasklane/tasklane/internal/domain"
)

// TrustedUserID is the parameter carrying the caller identity. It is
// stripped from advertised schemas and injected at dispatch time.
const TrustedUserID = "user_id"

const (
	maxTitleLen       = 200
	maxDescriptionLen = 1000
)

// TaskStore is the persistence surface the task tools operate on.
// All operations are owner-scoped.
type TaskStore interface {
	CreateTask(ctx context.Context, ownerID, title, description string) (*domain.Task, error)
	ListTasks(ctx context.Context, ownerID, filter string) ([]*domain.Task, error)
	CompleteTask(ctx context.Context, ownerID string, id int64) (*domain.Task, error)
	UpdateTask(ctx context.Context, ownerID string, id int64, title, description *string) (*domain.Task, error)
	DeleteTask(ctx context.Context, ownerID string, id int64) (*domain.Task, error)
}

type addTaskArgs struct {
	UserID      string `json:"user_id" jsonschema_description:"The unique identifier for the user"`
	Title       string `json:"title" jsonschema_description:"The title of the task (1-200 characters)"`
	Description string `json:"description,omitempty" jsonschema_description:"Optional detailed description of the task (max 1000 characters)"`
}

type listTasksArgs struct {
	UserID string `json:"user_id" jsonschema_description:"The unique identifier for the user"`
	Status string `json:"status,omitempty" jsonschema_description:"Filter by status - 'all', 'pending', or 'completed'"`
}

type completeTaskArgs struct {
	UserID string `json:"user_id" jsonschema_description:"The unique identifier for the user"`
	TaskID int64  `json:"task_id" jsonschema_description:"The ID of the task to mark as completed"`
}

type updateTaskArgs struct {
	UserID      string  `json:"user_id" jsonschema_description:"The unique identifier for the user"`
	TaskID      int64   `json:"task_id" jsonschema_description:"The ID of the task to update"`
	Title       *string `json:"title,omitempty" jsonschema_description:"New title for the task (1-200 characters)"`
	Description *string `json:"description,omitempty" jsonschema_description:"New description for the task (max 1000 characters)"`
}

type deleteTaskArgs struct {
	UserID string `json:"user_id" jsonschema_description:"The unique identifier for the user"`
	TaskID int64  `json:"task_id" jsonschema_description:"The ID of the task to delete"`
}

// taskResult is the shape returned by mutating task tools.
type taskResult struct {
	TaskID int64  `json:"task_id"`
	Status string `json:"status"`
	Title  string `json:"title"`
}

// taskView is a single entry in a list_tasks result.
type taskView struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
	CreatedAt   string `json:"created_at"`
}

// RegisterTaskTools registers the five task tools on the registry.
func RegisterTaskTools(reg *Registry, store TaskStore) error {
	defs := []Definition{
		{
			Name:        "add_task",
			Description: "Create a new task for the user.",
			Args:        &addTaskArgs{},
			Trusted:     []string{TrustedUserID},
			Handler:     addTaskHandler(store),
		},
		{
			Name:        "list_tasks",
			Description: "Retrieve tasks for the user with optional status filter.",
			Args:        &listTasksArgs{},
			Trusted:     []string{TrustedUserID},
			Handler:     listTasksHandler(store),
		},
		{
			Name:        "complete_task",
			Description: "Mark a task as complete. This operation is idempotent.",
			Args:        &completeTaskArgs{},
			Trusted:     []string{TrustedUserID},
			Handler:     completeTaskHandler(store),
		},
		{
			Name:        "update_task",
			Description: "Update task title or description. At least one field must be provided.",
			Args:        &updateTaskArgs{},
			Trusted:     []string{TrustedUserID},
			Handler:     updateTaskHandler(store),
		},
		{
			Name:        "delete_task",
			Description: "Permanently delete a task. Returns the deleted task title for confirmation.",
			Args:        &deleteTaskArgs{},
			Trusted:     []string{TrustedUserID},
			Handler:     deleteTaskHandler(store),
		},
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func addTaskHandler(store TaskStore) HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args addTaskArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		ownerID, err := requireUserID(args.UserID)
		if err != nil {
			return nil, err
		}

		title := strings.TrimSpace(args.Title)
		if title == "" {
			return nil, errors.New("title cannot be empty")
		}
		if utf8.RuneCountInString(title) > maxTitleLen {
			return nil, fmt.Errorf("title cannot exceed %d characters", maxTitleLen)
		}
		description := strings.TrimSpace(args.Description)
		if utf8.RuneCountInString(description) > maxDescriptionLen {
			return nil, fmt.Errorf("description cannot exceed %d characters", maxDescriptionLen)
		}

		task, err := store.CreateTask(ctx, ownerID, title, description)
		if err != nil {
			return nil, err
		}
		return taskResult{TaskID: task.ID, Status: "created", Title: task.Title}, nil
	}
}

func listTasksHandler(store TaskStore) HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args listTasksArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		ownerID, err := requireUserID(args.UserID)
		if err != nil {
			return nil, err
		}

		status := args.Status
		if status == "" {
			status = domain.TaskFilterAll
		}
		if !domain.ValidTaskFilter(status) {
			return nil, errors.New("status must be one of: all, pending, completed")
		}

		tasks, err := store.ListTasks(ctx, ownerID, status)
		if err != nil {
			return nil, err
		}

		views := make([]taskView, 0, len(tasks))
		for _, task := range tasks {
			views = append(views, taskView{
				ID:          task.ID,
				Title:       task.Title,
				Description: task.Description,
				Completed:   task.Completed,
				CreatedAt:   task.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		return views, nil
	}
}

func completeTaskHandler(store TaskStore) HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args completeTaskArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		ownerID, err := requireUserID(args.UserID)
		if err != nil {
			return nil, err
		}
		if args.TaskID <= 0 {
			return nil, errors.New("task_id must be a positive integer")
		}

		task, err := store.CompleteTask(ctx, ownerID, args.TaskID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, notOwnedError(args.TaskID, "complete")
		}
		if err != nil {
			return nil, err
		}
		return taskResult{TaskID: task.ID, Status: "completed", Title: task.Title}, nil
	}
}

func updateTaskHandler(store TaskStore) HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args updateTaskArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		ownerID, err := requireUserID(args.UserID)
		if err != nil {
			return nil, err
		}
		if args.TaskID <= 0 {
			return nil, errors.New("task_id must be a positive integer")
		}
		if args.Title == nil && args.Description == nil {
			return nil, errors.New("at least one of title or description must be provided")
		}

		var title *string
		if args.Title != nil {
			cleaned := strings.TrimSpace(*args.Title)
			if cleaned == "" {
				return nil, errors.New("title cannot be empty if provided")
			}
			if utf8.RuneCountInString(cleaned) > maxTitleLen {
				return nil, fmt.Errorf("title cannot exceed %d characters", maxTitleLen)
			}
			title = &cleaned
		}
		var description *string
		if args.Description != nil {
			cleaned := strings.TrimSpace(*args.Description)
			if utf8.RuneCountInString(cleaned) > maxDescriptionLen {
				return nil, fmt.Errorf("description cannot exceed %d characters", maxDescriptionLen)
			}
			description = &cleaned
		}

		task, err := store.UpdateTask(ctx, ownerID, args.TaskID, title, description)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, notOwnedError(args.TaskID, "update")
		}
		if err != nil {
			return nil, err
		}
		return taskResult{TaskID: task.ID, Status: "updated", Title: task.Title}, nil
	}
}

func deleteTaskHandler(store TaskStore) HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args deleteTaskArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		ownerID, err := requireUserID(args.UserID)
		if err != nil {
			return nil, err
		}
		if args.TaskID <= 0 {
			return nil, errors.New("task_id must be a positive integer")
		}

		task, err := store.DeleteTask(ctx, ownerID, args.TaskID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, notOwnedError(args.TaskID, "delete")
		}
		if err != nil {
			return nil, err
		}
		return taskResult{TaskID: task.ID, Status: "deleted", Title: task.Title}, nil
	}
}

func requireUserID(raw string) (string, error) {
	ownerID := strings.TrimSpace(raw)
	if ownerID == "" {
		return "", errors.New("user_id cannot be empty")
	}
	return ownerID, nil
}

// notOwnedError deliberately does not reveal whether the task exists.
func notOwnedError(taskID int64, verb string) error {
	return fmt.Errorf("Task %d not found or you don't have permission to %s it", taskID, verb)
}
