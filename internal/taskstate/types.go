// Package taskstate maps a session's internal progress onto the task states
// exposed to agent-to-agent protocol peers.
package taskstate

import "time"

// State is the protocol-visible task state.
type State string

const (
	StateSubmitted     State = "submitted"
	StateWorking       State = "working"
	StateInputRequired State = "input-required"
	StateCompleted     State = "completed"
	StateCanceled      State = "canceled"
	StateFailed        State = "failed"
)

// Terminal reports whether no further transitions can follow s for the same task.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCanceled, StateFailed:
		return true
	}
	return false
}

// Outcome records how a turn ended. The zero value means it has not ended.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeCompleted Outcome = "completed"
	OutcomeCanceled  Outcome = "canceled"
	OutcomeFailed    Outcome = "failed"
)

// SessionState is the internal view Derive reads.
type SessionState struct {
	SessionID string `json:"session_id"`
	TaskID    string `json:"task_id,omitempty"`
	// Turns counts turns begun in this session.
	Turns      int  `json:"turns"`
	TurnActive bool `json:"turn_active"`
	// PendingApprovals holds approval ids the active turn is waiting on.
	PendingApprovals []string  `json:"pending_approvals,omitempty"`
	Outcome          Outcome   `json:"outcome,omitempty"`
	Error            string    `json:"error,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// MessageStatus is the lifecycle of a single message.
type MessageStatus string

const (
	MessagePending          MessageStatus = "pending"
	MessageStreaming        MessageStatus = "streaming"
	MessageAwaitingApproval MessageStatus = "awaiting_approval"
	MessageDone             MessageStatus = "done"
	MessageCanceled         MessageStatus = "canceled"
	MessageError            MessageStatus = "error"
)

// Message is the single-message view observers derive a state from.
type Message struct {
	ID     string        `json:"id,omitempty"`
	Role   Role          `json:"role"`
	Status MessageStatus `json:"status"`
	// HasToolCalls is true when an assistant message still expects tool results.
	HasToolCalls bool `json:"has_tool_calls,omitempty"`
}

// TaskStatus is the protocol-facing status object.
type TaskStatus struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	State     State     `json:"state"`
	Message   string    `json:"message,omitempty"`
	Pending   []string  `json:"pending_approvals,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
