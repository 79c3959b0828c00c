// Package websocket pushes session activity to connected resolvers and
// accepts their approval decisions.
package websocket

import "encoding/json"

// WSMessage is an inbound client message.
type WSMessage struct {
	Type    string `json:"type"`
	Session string `json:"session,omitempty"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`

	// approval_response fields
	RequestID string `json:"request_id,omitempty"`
	Decision  string `json:"decision,omitempty"`
	By        string `json:"by,omitempty"`
	Note      string `json:"note,omitempty"`
}

// Envelope is an outbound server message.
type Envelope struct {
	Type    string          `json:"type"`
	Session string          `json:"session,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// BroadcastMessage wraps a message with its target session.
type BroadcastMessage struct {
	Session string
	Data    []byte
}

// AllSessions subscribes a client to every session.
const AllSessions = "*"

// Message types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeError       = "error"

	// TypeChat enqueues Message into Session.
	TypeChat = "chat"
	TypeAck  = "ack"

	TypeEvent        = "event"
	TypeTaskStatus   = "task_status"
	TypeTodos        = "todos"
	TypePolicyReload = "policy_reload"

	TypeApprovalRequest  = "approval_request"
	TypeApprovalResponse = "approval_response"
	TypeApprovalResolved = "approval_resolved"
)

// Error codes sent in TypeError messages.
const (
	CodeInvalidMessage  = "INVALID_MESSAGE"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeNotFound        = "NOT_FOUND"
	CodeAlreadyResolved = "ALREADY_RESOLVED"
	CodeApprovalError   = "APPROVAL_ERROR"
	CodeChatError       = "CHAT_ERROR"
)
