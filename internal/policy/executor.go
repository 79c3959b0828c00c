package policy

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"conduit/pkg/logger"
)

// Executor checks tool calls against the current policy. The policy can be
// swapped while checks run.
type Executor struct {
	policy  atomic.Pointer[Policy]
	matcher *Matcher
	log     zerolog.Logger
}

// NewExecutor creates an executor. A nil policy allows everything.
func NewExecutor(p *Policy) *Executor {
	e := &Executor{matcher: &Matcher{}, log: logger.Component("policy")}
	e.SetPolicy(p)
	return e
}

// SetPolicy replaces the active policy.
func (e *Executor) SetPolicy(p *Policy) {
	if p == nil {
		p = &Policy{DefaultAllow: true}
	}
	e.policy.Store(p)
}

// Policy returns the active policy.
func (e *Executor) Policy() *Policy {
	return e.policy.Load()
}

// Check evaluates call. Order: blocklist, allowlist, rules, global approval.
// The first block wins; approve rules accumulate and the first one sets the
// approval type and timeout.
func (e *Executor) Check(ctx context.Context, call *ToolCall) (*Result, error) {
	if call == nil {
		return nil, fmt.Errorf("policy: nil tool call")
	}
	p := e.policy.Load()
	res := &Result{Allowed: true}

	if len(p.Blocklist) > 0 && e.matcher.MatchTool(call.Name, ExpandGroups(p.Blocklist)) {
		res.Allowed = false
		res.Reason = fmt.Sprintf("tool '%s' is in blocklist", call.Name)
		res.MatchedRules = append(res.MatchedRules, "blocklist")
		return e.done(call, res), nil
	}

	if !p.DefaultAllow && !e.matcher.MatchTool(call.Name, ExpandGroups(p.Allowlist)) {
		res.Allowed = false
		res.Reason = fmt.Sprintf("tool '%s' is not in allowlist", call.Name)
		res.MatchedRules = append(res.MatchedRules, "allowlist")
		return e.done(call, res), nil
	}

	for i := range p.Rules {
		rule := &p.Rules[i]
		if !rule.IsEnabled() {
			continue
		}
		if rule.Tool != "" && !e.matcher.MatchTool(call.Name, ExpandGroups([]string{rule.Tool})) {
			continue
		}
		if rule.Pattern != "" {
			ok, err := e.matcher.MatchArgs(call.Arguments, rule.Pattern)
			if err != nil {
				e.log.Warn().Err(err).Str("rule", rule.label()).Msg("skipping rule with bad pattern")
				continue
			}
			if !ok {
				continue
			}
		}

		res.MatchedRules = append(res.MatchedRules, rule.label())
		switch rule.Action {
		case ActionBlock:
			res.Allowed = false
			res.RequireApproval = false
			res.Reason = rule.Message
			return e.done(call, res), nil
		case ActionApprove:
			if !res.RequireApproval {
				res.RequireApproval = true
				res.ApprovalType = rule.ApprovalType
				res.ApprovalReason = rule.Message
				res.Timeout = rule.Timeout
			}
		default:
			res.Warnings = append(res.Warnings, rule.Message)
		}
	}

	if p.RequireApproval && !res.RequireApproval {
		res.RequireApproval = true
		res.ApprovalReason = "global approval required"
	}
	if res.RequireApproval && res.ApprovalType == "" {
		res.ApprovalType = "tool:" + call.Name
	}
	return e.done(call, res), nil
}

func (e *Executor) done(call *ToolCall, res *Result) *Result {
	e.log.Debug().
		Str("tool", call.Name).
		Str("session_id", call.SessionID).
		Bool("allowed", res.Allowed).
		Bool("require_approval", res.RequireApproval).
		Strs("matched", res.MatchedRules).
		Msg("policy check")
	return res
}
