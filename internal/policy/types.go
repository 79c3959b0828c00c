// Package policy decides, per tool call, whether it runs, is blocked, or
// must pass the approval gate first.
package policy

import (
	"context"
	"errors"
	"time"
)

// Action is what a matching rule does to a tool call.
type Action string

const (
	ActionBlock   Action = "block"
	ActionApprove Action = "approve"
	ActionWarn    Action = "warn"
)

// ToolCall is the policy view of a tool invocation.
type ToolCall struct {
	Name      string `json:"name"`
	SessionID string `json:"session_id"`
	// Arguments is the JSON encoding of the call arguments.
	Arguments string `json:"arguments"`
}

// Rule matches tool calls by tool name and an argument regex.
type Rule struct {
	Name    string `yaml:"name" json:"name"`
	Tool    string `yaml:"tool" json:"tool"`
	Pattern string `yaml:"pattern" json:"pattern"`
	Action  Action `yaml:"action" json:"action"`
	// ApprovalType labels the approval request; defaults to "tool:<name>".
	ApprovalType string        `yaml:"approval_type,omitempty" json:"approval_type,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Message      string        `yaml:"message" json:"message"`
	Enabled      *bool         `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled reports whether the rule is active. Rules are on unless disabled.
func (r *Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

func (r *Rule) label() string {
	if r.Name != "" {
		return r.Name
	}
	if r.Message != "" {
		return r.Message
	}
	return "rule:" + r.Tool
}

// Policy is a complete rule set.
type Policy struct {
	DefaultAllow bool `yaml:"default_allow" json:"default_allow"`
	// RequireApproval gates every allowed call.
	RequireApproval bool     `yaml:"require_approval" json:"require_approval"`
	Allowlist       []string `yaml:"allowlist" json:"allowlist"`
	Blocklist       []string `yaml:"blocklist" json:"blocklist"`
	Rules           []Rule   `yaml:"rules" json:"rules"`
}

// Result is the outcome of a check.
type Result struct {
	Allowed         bool          `json:"allowed"`
	RequireApproval bool          `json:"require_approval"`
	ApprovalType    string        `json:"approval_type,omitempty"`
	ApprovalReason  string        `json:"approval_reason,omitempty"`
	Timeout         time.Duration `json:"timeout,omitempty"`
	Reason          string        `json:"reason,omitempty"`
	Warnings        []string      `json:"warnings,omitempty"`
	MatchedRules    []string      `json:"matched_rules,omitempty"`
}

// Checker evaluates tool calls.
type Checker interface {
	Check(ctx context.Context, call *ToolCall) (*Result, error)
}

var (
	// ErrInvalidPattern indicates a malformed regex.
	ErrInvalidPattern = errors.New("policy: invalid regex pattern")

	// ErrInvalidConfig indicates a rule set that fails validation.
	ErrInvalidConfig = errors.New("policy: invalid config")
)
