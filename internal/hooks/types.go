// Package hooks provides the interception pipeline that wraps model calls and
// tool invocations. Sites are a closed set; each one carries a typed payload.
package hooks

import (
	"context"
	"time"

	"conduit/internal/queue"
)

// Site names an interception point in a turn.
type Site string

const (
	SiteBeforeModelRequest Site = "before_model_request"
	SiteAfterModelResponse Site = "after_model_response"
	SiteBeforeToolCall     Site = "before_tool_call"
	SiteAfterToolResult    Site = "after_tool_result"
	SiteTurnEnd            Site = "turn_end"
)

// AllSites returns every site in turn order.
func AllSites() []Site {
	return []Site{
		SiteBeforeModelRequest,
		SiteAfterModelResponse,
		SiteBeforeToolCall,
		SiteAfterToolResult,
		SiteTurnEnd,
	}
}

// IsValidSite reports whether s is one of the known sites.
func IsValidSite(s Site) bool {
	for _, known := range AllSites() {
		if known == s {
			return true
		}
	}
	return false
}

// Point binds a site to the payload type its handlers receive.
type Point[T any] struct {
	site Site
}

// Site returns the site name.
func (p Point[T]) Site() Site { return p.site }

// The typed interception points.
var (
	BeforeModelRequest = Point[*ModelRequest]{site: SiteBeforeModelRequest}
	AfterModelResponse = Point[*ModelResponse]{site: SiteAfterModelResponse}
	BeforeToolCall     = Point[*ToolCall]{site: SiteBeforeToolCall}
	AfterToolResult    = Point[*ToolResult]{site: SiteAfterToolResult}
	TurnEnd            = Point[*TurnSummary]{site: SiteTurnEnd}
)

// Envelope carries a payload through the handlers of one site.
// Setting Canceled stops the chain.
type Envelope[T any] struct {
	Payload  T      `json:"payload"`
	Canceled bool   `json:"canceled"`
	Reason   string `json:"reason,omitempty"`
}

// Cancel marks the envelope canceled with a reason.
func (e *Envelope[T]) Cancel(reason string) {
	e.Canceled = true
	e.Reason = reason
}

// HandlerFunc observes or mutates an envelope. Returning an error aborts the
// run; use Cancel for deliberate short-circuits.
type HandlerFunc[T any] func(ctx context.Context, env *Envelope[T]) error

// Handler is a registered handler for one site.
type Handler[T any] struct {
	ID          string
	Source      string
	Description string
	Fn          HandlerFunc[T]
}

// Info describes a registered handler without its function.
type Info struct {
	ID          string `json:"id"`
	Site        Site   `json:"site"`
	Source      string `json:"source"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// ModelRequest is the payload of before_model_request.
type ModelRequest struct {
	SessionID string         `json:"session_id"`
	TurnID    string         `json:"turn_id"`
	Iteration int            `json:"iteration"`
	System    string         `json:"system,omitempty"`
	Parts     []queue.Part   `json:"parts"`
	History   []Message      `json:"history,omitempty"`
	Tools     []string       `json:"tools,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Message is one entry of the conversation sent to the model.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ModelResponse is the payload of after_model_response.
type ModelResponse struct {
	SessionID  string     `json:"session_id"`
	TurnID     string     `json:"turn_id"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
	TokensUsed int        `json:"tokens_used,omitempty"`
}

// ToolCall is the payload of before_tool_call.
type ToolCall struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolResult is the payload of after_tool_result.
type ToolResult struct {
	CallID    string        `json:"call_id"`
	SessionID string        `json:"session_id"`
	Name      string        `json:"name"`
	Content   string        `json:"content"`
	IsError   bool          `json:"is_error"`
	Duration  time.Duration `json:"duration"`
}

// TurnSummary is the payload of turn_end. Canceling it has no effect.
type TurnSummary struct {
	SessionID  string `json:"session_id"`
	TurnID     string `json:"turn_id"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
	Iterations int    `json:"iterations"`
	ToolCalls  int    `json:"tool_calls"`
}
