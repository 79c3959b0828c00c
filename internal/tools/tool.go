// Package tools defines the tool contract the runner executes and a registry
// of available tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

type contextKey string

const sessionIDKey contextKey = "session_id"

// WithSessionID attaches the calling session to ctx.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromContext returns the calling session, if any.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok && id != ""
}

// Tool is a capability the model can invoke.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON Schema of the arguments.
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (ToolResult, error)
}

// ToolResult is the outcome of a tool execution.
type ToolResult struct {
	Content  string         `json:"content"`
	IsError  bool           `json:"is_error"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewSuccessResult creates a successful result.
func NewSuccessResult(content string) ToolResult {
	return ToolResult{Content: content}
}

// NewErrorResult creates an error result.
func NewErrorResult(msg string) ToolResult {
	return ToolResult{Content: msg, IsError: true}
}

// NewJSONResult marshals v as the result content.
func NewJSONResult(v any) ToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return NewErrorResult(fmt.Sprintf("encode result: %v", err))
	}
	return NewSuccessResult(string(data))
}

func (r ToolResult) String() string {
	if r.IsError {
		return "[error] " + r.Content
	}
	return r.Content
}

// Definition is what the model sees of a tool.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// BaseTool implements the descriptive half of Tool.
type BaseTool struct {
	ToolName        string
	ToolDescription string
	ToolParameters  map[string]any
}

func (t *BaseTool) Name() string        { return t.ToolName }
func (t *BaseTool) Description() string { return t.ToolDescription }

func (t *BaseTool) Parameters() map[string]any {
	if t.ToolParameters == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return t.ToolParameters
}

// DecodeArgs converts loosely typed arguments into a struct through JSON.
func DecodeArgs(tool string, args map[string]any, dst any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return NewInvalidArgsError(tool, "encode arguments", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return NewInvalidArgsError(tool, "decode arguments", err)
	}
	return nil
}
