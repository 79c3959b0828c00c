// Package v1 provides the v1 HTTP API: sessions, approvals, todos, policy
// and the agent-to-agent task view.
package v1

import (
	"time"

	"conduit/internal/approval"
	"conduit/internal/hooks"
	"conduit/internal/policy"
	"conduit/internal/queue"
	"conduit/internal/storage"
	"conduit/internal/taskstate"
	"conduit/internal/todo"
	"conduit/internal/tools"
)

// =============================================================================
// Sessions
// =============================================================================

// EnqueueRequest submits input to a session. Either Text or Parts is required.
type EnqueueRequest struct {
	Text     string         `json:"text,omitempty"`
	Parts    []queue.Part   `json:"parts,omitempty"`
	Kind     queue.Kind     `json:"kind,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EnqueueResponse acknowledges a queued message.
type EnqueueResponse struct {
	MessageID string    `json:"message_id"`
	SessionID string    `json:"session_id"`
	QueuedAt  time.Time `json:"queued_at"`
	Busy      bool      `json:"busy"`
}

// SessionResponse describes a session's live state.
type SessionResponse struct {
	SessionID string               `json:"session_id"`
	Busy      bool                 `json:"busy"`
	Task      taskstate.TaskStatus `json:"task"`
	Pending   []*approval.Request  `json:"pending_approvals"`
	History   []hooks.Message      `json:"history"`
}

// CloseSessionResponse reports what closing a session released.
type CloseSessionResponse struct {
	SessionID         string `json:"session_id"`
	ApprovalsCanceled int    `json:"approvals_canceled"`
}

// =============================================================================
// Approvals
// =============================================================================

// ApprovalListResponse lists pending requests and, when storage is
// available, the recorded history.
type ApprovalListResponse struct {
	Pending []*approval.Request       `json:"pending"`
	History []*storage.ApprovalRecord `json:"history,omitempty"`
	Count   int                       `json:"count"`
}

// ApprovalResponse is a single request with its decision, if any.
type ApprovalResponse struct {
	Request *approval.Request `json:"request"`
	Result  *approval.Result  `json:"result,omitempty"`
	Pending bool              `json:"pending"`
}

// ResolveRequest carries a resolver's decision.
type ResolveRequest struct {
	Decision  string `json:"decision"`
	By        string `json:"by,omitempty"`
	Note      string `json:"note,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// ResolveResponse acknowledges a decision.
type ResolveResponse struct {
	RequestID string            `json:"request_id"`
	Decision  approval.Decision `json:"decision"`
}

// =============================================================================
// Todos
// =============================================================================

// TodosRequest replaces a session's todo list.
type TodosRequest struct {
	Todos []todo.Item `json:"todos"`
}

// TodosResponse is a session's todo list with counts.
type TodosResponse struct {
	SessionID string      `json:"session_id"`
	Todos     []todo.Todo `json:"todos"`
	Counts    todo.Counts `json:"counts"`
	Limit     int         `json:"limit"`
}

// TodoStatusRequest changes the status of one todo.
type TodoStatusRequest struct {
	Status todo.Status `json:"status"`
}

// =============================================================================
// Policy
// =============================================================================

// PolicyCheckRequest is a dry-run policy check of a tool call.
type PolicyCheckRequest struct {
	Tool      string `json:"tool"`
	Arguments string `json:"arguments,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// PolicyCheckResponse is the outcome of a dry-run check.
type PolicyCheckResponse struct {
	Tool string `json:"tool"`
	*policy.Result
}

// =============================================================================
// Tools
// =============================================================================

// ToolsListResponse lists the tools the model can call.
type ToolsListResponse struct {
	Tools []tools.Definition `json:"tools"`
	Count int                `json:"count"`
}

// =============================================================================
// Agent-to-agent
// =============================================================================

// TaskResponse is the protocol-facing view of a session's current task.
type TaskResponse struct {
	ProtocolVersion string `json:"protocol_version"`
	taskstate.TaskStatus
}
