package todo

import (
	"context"
	"errors"
	"fmt"

	"conduit/internal/tools"
)

// WriteArgs are the todo_write arguments.
type WriteArgs struct {
	Todos []Item `json:"todos" jsonschema:"description=The complete ordered task list. Replaces the current list.,required"`
}

// UpdateArgs are the todo_update arguments.
type UpdateArgs struct {
	ID     string `json:"id" jsonschema:"description=Todo id,required"`
	Status Status `json:"status" jsonschema:"description=New status,enum=pending|in_progress|completed|cancelled,required"`
}

// WriteTool lets the model replace its task list.
type WriteTool struct {
	tools.BaseTool
	store *Store
}

// UpdateTool lets the model move one todo to a new status.
type UpdateTool struct {
	tools.BaseTool
	store *Store
}

// NewWriteTool creates the todo_write tool.
func NewWriteTool(s *Store) *WriteTool {
	return &WriteTool{
		BaseTool: tools.BaseTool{
			ToolName:        "todo_write",
			ToolDescription: fmt.Sprintf("Replace the session task list (at most %d items).", s.Limit()),
			ToolParameters:  tools.BuildSchema(WriteArgs{}),
		},
		store: s,
	}
}

// NewUpdateTool creates the todo_update tool.
func NewUpdateTool(s *Store) *UpdateTool {
	return &UpdateTool{
		BaseTool: tools.BaseTool{
			ToolName:        "todo_update",
			ToolDescription: "Change the status of one task.",
			ToolParameters:  tools.BuildSchema(UpdateArgs{}),
		},
		store: s,
	}
}

// RegisterTools adds todo_write and todo_update to r.
func RegisterTools(r *tools.Registry, s *Store) error {
	if err := r.Register(NewWriteTool(s)); err != nil {
		return err
	}
	return r.Register(NewUpdateTool(s))
}

func (t *WriteTool) Execute(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	sessionID, ok := tools.SessionIDFromContext(ctx)
	if !ok {
		return tools.ToolResult{}, tools.NewInvalidArgsError(t.Name(), "no session in context", nil)
	}
	var a WriteArgs
	if err := tools.DecodeArgs(t.Name(), args, &a); err != nil {
		return tools.ToolResult{}, err
	}

	list, err := t.store.SetTodos(ctx, sessionID, a.Todos)
	if err != nil {
		if isCallerError(err) {
			return tools.NewErrorResult(err.Error()), nil
		}
		return tools.ToolResult{}, err
	}
	res := tools.NewJSONResult(list)
	res.Metadata = map[string]any{"counts": Summarize(list)}
	return res, nil
}

func (t *UpdateTool) Execute(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	sessionID, ok := tools.SessionIDFromContext(ctx)
	if !ok {
		return tools.ToolResult{}, tools.NewInvalidArgsError(t.Name(), "no session in context", nil)
	}
	var a UpdateArgs
	if err := tools.DecodeArgs(t.Name(), args, &a); err != nil {
		return tools.ToolResult{}, err
	}

	res, err := t.store.UpdateStatus(ctx, sessionID, a.ID, a.Status)
	if err != nil {
		if isCallerError(err) {
			return tools.NewErrorResult(err.Error()), nil
		}
		return tools.ToolResult{}, err
	}
	return tools.NewJSONResult(res), nil
}

// isCallerError reports validation failures the model can correct.
func isCallerError(err error) bool {
	return errors.Is(err, ErrLimitExceeded) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrDuplicateID) ||
		errors.Is(err, ErrNotFound)
}
