package domain

import "time"

// Task is a single todo entry owned by one user.
type Task struct {
	ID          int64     `json:"id"`
	OwnerID     string    `json:"-"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Task status filter values accepted by list operations.
const (
	TaskFilterAll       = "all"
	TaskFilterPending   = "pending"
	TaskFilterCompleted = "completed"
)

// ValidTaskFilter reports whether s is a recognized task status filter.
func ValidTaskFilter(s string) bool {
	switch s {
	case TaskFilterAll, TaskFilterPending, TaskFilterCompleted:
		return true
	}
	return false
}
