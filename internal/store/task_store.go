package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tasklane/tasklane/internal/domain"
)

// TaskStore persists tasks. Every query is scoped by owner.
type TaskStore struct {
	db *DB
}

// NewTaskStore creates a task store using the given database.
func NewTaskStore(db *DB) *TaskStore {
	return &TaskStore{db: db}
}

// CreateTask inserts a new task for the owner.
func (s *TaskStore) CreateTask(ctx context.Context, ownerID, title, description string) (*domain.Task, error) {
	now := time.Now().UTC().Truncate(time.Second)
	res, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO tasks (owner_id, title, description, completed, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		ownerID, title, description, now.Format(time.DateTime), now.Format(time.DateTime),
	)
	if err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading task id: %w", err)
	}

	return &domain.Task{
		ID:          id,
		OwnerID:     ownerID,
		Title:       title,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ListTasks returns the owner's tasks, newest first, optionally filtered
// by completion status.
func (s *TaskStore) ListTasks(ctx context.Context, ownerID, filter string) ([]*domain.Task, error) {
	query := `SELECT id, owner_id, title, description, completed, created_at, updated_at
		FROM tasks WHERE owner_id = ?`
	switch filter {
	case domain.TaskFilterPending:
		query += ` AND completed = 0`
	case domain.TaskFilterCompleted:
		query += ` AND completed = 1`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.sql.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// GetTask returns one of the owner's tasks by id.
func (s *TaskStore) GetTask(ctx context.Context, ownerID string, id int64) (*domain.Task, error) {
	row := s.db.sql.QueryRowContext(ctx,
		`SELECT id, owner_id, title, description, completed, created_at, updated_at
		 FROM tasks WHERE id = ? AND owner_id = ?`, id, ownerID,
	)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return task, err
}

// CompleteTask marks a task complete. Completing an already completed
// task succeeds without touching the row.
func (s *TaskStore) CompleteTask(ctx context.Context, ownerID string, id int64) (*domain.Task, error) {
	task, err := s.GetTask(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if task.Completed {
		return task, nil
	}

	now := time.Now().UTC().Truncate(time.Second)
	if _, err := s.db.sql.ExecContext(ctx,
		`UPDATE tasks SET completed = 1, updated_at = ? WHERE id = ? AND owner_id = ?`,
		now.Format(time.DateTime), id, ownerID,
	); err != nil {
		return nil, fmt.Errorf("completing task %d: %w", id, err)
	}

	task.Completed = true
	task.UpdatedAt = now
	return task, nil
}

// UpdateTask changes the title and/or description of a task.
// Nil fields are left untouched.
func (s *TaskStore) UpdateTask(ctx context.Context, ownerID string, id int64, title, description *string) (*domain.Task, error) {
	task, err := s.GetTask(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if title != nil {
		task.Title = *title
	}
	if description != nil {
		task.Description = *description
	}
	task.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	if _, err := s.db.sql.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		task.Title, task.Description, task.UpdatedAt.Format(time.DateTime), id, ownerID,
	); err != nil {
		return nil, fmt.Errorf("updating task %d: %w", id, err)
	}
	return task, nil
}

// DeleteTask removes a task and returns it for confirmation.
func (s *TaskStore) DeleteTask(ctx context.Context, ownerID string, id int64) (*domain.Task, error) {
	task, err := s.GetTask(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.sql.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = ? AND owner_id = ?`, id, ownerID,
	); err != nil {
		return nil, fmt.Errorf("deleting task %d: %w", id, err)
	}
	return task, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var task domain.Task
	var completed int
	var createdAt, updatedAt string

	if err := row.Scan(&task.ID, &task.OwnerID, &task.Title, &task.Description,
		&completed, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	task.Completed = completed != 0
	task.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	task.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)
	return &task, nil
}
