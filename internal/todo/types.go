// Package todo stores the per-session task list an agent maintains while it
// works through multi-step requests.
package todo

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a todo.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// AllStatuses lists every status.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusInProgress, StatusCompleted, StatusCancelled}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s ends a todo's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Todo is one entry of a session's task list.
type Todo struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Position  int       `json:"position"`
	Content   string    `json:"content"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Item is the input form of a todo for SetTodos. An empty ID gets a new one;
// an ID that matches an existing todo keeps its creation time.
type Item struct {
	ID      string `json:"id,omitempty"`
	Content string `json:"content"`
	Status  Status `json:"status,omitempty"`
}

// UpdateResult reports a status change.
type UpdateResult struct {
	Todo     Todo   `json:"todo"`
	Previous Status `json:"previous"`
}

// Counts summarizes a list by status.
type Counts map[Status]int

// Summarize counts todos by status.
func Summarize(list []Todo) Counts {
	c := make(Counts, 4)
	for _, t := range list {
		c[t.Status]++
	}
	return c
}

var (
	// ErrLimitExceeded is returned when a list is longer than the per-session limit.
	ErrLimitExceeded = errors.New("todo: limit exceeded")

	// ErrInvalidStatus is returned for unknown statuses and disallowed transitions.
	ErrInvalidStatus = errors.New("todo: invalid status")

	// ErrInvalidTransition is returned when a transition is not in the edge set.
	// It matches ErrInvalidStatus with errors.Is.
	ErrInvalidTransition = &transitionError{}

	// ErrMissingField is returned when a required field is empty.
	ErrMissingField = errors.New("todo: missing required field")

	// ErrDuplicateID is returned when SetTodos receives the same id twice.
	ErrDuplicateID = errors.New("todo: duplicate id")

	// ErrNotFound is returned for an unknown todo id.
	ErrNotFound = errors.New("todo: not found")
)

// transitionError carries the rejected edge.
type transitionError struct {
	From, To Status
}

func (e *transitionError) Error() string {
	if e.From == "" && e.To == "" {
		return "todo: invalid status transition"
	}
	return "todo: invalid status transition " + string(e.From) + " -> " + string(e.To)
}

func (e *transitionError) Is(target error) bool {
	if target == ErrInvalidStatus {
		return true
	}
	_, ok := target.(*transitionError)
	return ok
}
