package runner

import (
	"conduit/internal/hooks"
	"conduit/internal/taskstate"
)

// EventType represents the type of event emitted during a turn.
type EventType int

const (
	// EventTypeTurnStart indicates a drained batch started a turn.
	EventTypeTurnStart EventType = iota
	// EventTypeContent indicates model output.
	EventTypeContent
	// EventTypeToolCall indicates the model wants to call a tool.
	EventTypeToolCall
	// EventTypeApprovalRequired indicates a tool call waits on an approval.
	EventTypeApprovalRequired
	// EventTypeToolResult indicates a tool result, real or synthesized.
	EventTypeToolResult
	// EventTypeDone indicates the turn finished.
	EventTypeDone
	// EventTypeError indicates the turn failed.
	EventTypeError
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventTypeTurnStart:
		return "turn_start"
	case EventTypeContent:
		return "content"
	case EventTypeToolCall:
		return "tool_call"
	case EventTypeApprovalRequired:
		return "approval_required"
	case EventTypeToolResult:
		return "tool_result"
	case EventTypeDone:
		return "done"
	case EventTypeError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the type by name.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Event represents an event emitted during a turn.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id"`
	Iteration int       `json:"iteration,omitempty"`

	Content    string           `json:"content,omitempty"`
	ToolCall   *hooks.ToolCall  `json:"tool_call,omitempty"`
	ToolResult *ToolResultEvent `json:"tool_result,omitempty"`
	ApprovalID string           `json:"approval_id,omitempty"`

	// Outcome is set on done and error events.
	Outcome taskstate.Outcome `json:"outcome,omitempty"`
	// ShortCircuit is the request a before_model_request handler canceled.
	ShortCircuit *hooks.ModelRequest `json:"short_circuit,omitempty"`

	Error    error  `json:"-"`
	ErrorMsg string `json:"error,omitempty"`
}

// ToolResultEvent represents the result of a tool execution.
type ToolResultEvent struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Output     string `json:"output"`
	IsError    bool   `json:"is_error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// NewContentEvent creates a content event.
func NewContentEvent(content string) Event {
	return Event{Type: EventTypeContent, Content: content}
}

// NewToolCallEvent creates a tool call event.
func NewToolCallEvent(tc *hooks.ToolCall) Event {
	return Event{Type: EventTypeToolCall, ToolCall: tc}
}

// NewApprovalEvent creates an approval-required event.
func NewApprovalEvent(tc *hooks.ToolCall, approvalID string) Event {
	return Event{Type: EventTypeApprovalRequired, ToolCall: tc, ApprovalID: approvalID}
}

// NewToolResultEvent creates a tool result event.
func NewToolResultEvent(callID, toolName, output string, isError bool, durationMs int64) Event {
	return Event{
		Type: EventTypeToolResult,
		ToolResult: &ToolResultEvent{
			ToolCallID: callID,
			ToolName:   toolName,
			Output:     output,
			IsError:    isError,
			DurationMs: durationMs,
		},
	}
}

// NewDoneEvent creates a done event.
func NewDoneEvent(outcome taskstate.Outcome) Event {
	return Event{Type: EventTypeDone, Outcome: outcome}
}

// NewErrorEvent creates an error event.
func NewErrorEvent(err error) Event {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Event{
		Type:     EventTypeError,
		Outcome:  taskstate.OutcomeFailed,
		Error:    err,
		ErrorMsg: msg,
	}
}
