package builtin

import (
	"context"
	"regexp"
	"sort"

	"github.com/rs/zerolog"

	"conduit/internal/hooks"
	"conduit/pkg/logger"
)

// FilterAction defines what happens when a rule matches.
type FilterAction string

const (
	FilterActionMask  FilterAction = "mask"
	FilterActionBlock FilterAction = "block"
	FilterActionAllow FilterAction = "allow"
	FilterActionWarn  FilterAction = "warn"
)

// FilterRule is one content rule.
type FilterRule struct {
	Name        string       `mapstructure:"name" yaml:"name"`
	Pattern     string       `mapstructure:"pattern" yaml:"pattern"`
	Action      FilterAction `mapstructure:"action" yaml:"action"`
	Replacement string       `mapstructure:"replacement" yaml:"replacement"`
	compiled    *regexp.Regexp
}

// FilterConfig configures the filter hook.
type FilterConfig struct {
	Rules        []FilterRule
	BlockMessage string
}

// FilterHook masks or blocks text parts of model requests.
type FilterHook struct {
	rules        []FilterRule
	blockMessage string
	log          zerolog.Logger
}

// ErrInvalidPattern is returned when a rule pattern does not compile.
type ErrInvalidPattern struct {
	Pattern string
	Err     error
}

func (e *ErrInvalidPattern) Error() string {
	return "invalid filter pattern '" + e.Pattern + "': " + e.Err.Error()
}

func (e *ErrInvalidPattern) Unwrap() error { return e.Err }

// NewFilterHook compiles the rules.
func NewFilterHook(cfg FilterConfig) (*FilterHook, error) {
	rules := make([]FilterRule, 0, len(cfg.Rules))
	for _, rule := range cfg.Rules {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, &ErrInvalidPattern{Pattern: rule.Pattern, Err: err}
		}
		rule.compiled = re
		if rule.Replacement == "" {
			rule.Replacement = "***"
		}
		rules = append(rules, rule)
	}
	msg := cfg.BlockMessage
	if msg == "" {
		msg = "request blocked by content filter"
	}
	return &FilterHook{rules: rules, blockMessage: msg, log: logger.Component("hooks.filter")}, nil
}

// Apply runs the rules over content and reports the rewritten text and
// whether it must be blocked.
func (h *FilterHook) Apply(content string) (out string, blocked bool) {
	for _, rule := range h.rules {
		if !rule.compiled.MatchString(content) {
			continue
		}
		switch rule.Action {
		case FilterActionMask:
			content = rule.compiled.ReplaceAllString(content, rule.Replacement)
		case FilterActionBlock:
			return content, true
		case FilterActionWarn:
			h.log.Warn().Str("rule_name", rule.Name).Msg("filter warn: suspicious content detected")
		case FilterActionAllow:
			return content, false
		}
	}
	return content, false
}

func (h *FilterHook) handle(_ context.Context, env *hooks.Envelope[*hooks.ModelRequest]) error {
	for i, p := range env.Payload.Parts {
		if p.Type != "text" || p.Text == "" {
			continue
		}
		text, blocked := h.Apply(p.Text)
		if blocked {
			h.log.Info().Str("session_id", env.Payload.SessionID).Msg("model request blocked by filter")
			env.Cancel(h.blockMessage)
			return nil
		}
		env.Payload.Parts[i].Text = text
	}
	return nil
}

// Handler returns the hook handler.
func (h *FilterHook) Handler(id string) hooks.Handler[*hooks.ModelRequest] {
	return hooks.Handler[*hooks.ModelRequest]{
		ID:          id,
		Source:      "_builtin",
		Description: "Filters model request content",
		Fn:          h.handle,
	}
}

// RegisterFilterHook registers a filter on before_model_request.
func RegisterFilterHook(m *hooks.Manager, cfg FilterConfig) error {
	h, err := NewFilterHook(cfg)
	if err != nil {
		return err
	}
	return hooks.Register(m, hooks.BeforeModelRequest, h.Handler("builtin:filter"))
}

// CommonFilterPatterns holds patterns for common sensitive data.
var CommonFilterPatterns = struct {
	CreditCard string
	SSN        string
	APIKey     string
}{
	CreditCard: `\b(?:\d[ -]*?){13,16}\b`,
	SSN:        `\b\d{3}-\d{2}-\d{4}\b`,
	APIKey:     `\b(?:sk|api|key|token|secret)[-_]?[A-Za-z0-9]{20,}\b`,
}

// NewSensitiveDataFilter masks card numbers, SSNs and API keys.
func NewSensitiveDataFilter() (*FilterHook, error) {
	return NewFilterHook(FilterConfig{
		Rules: []FilterRule{
			{Name: "credit_card", Pattern: CommonFilterPatterns.CreditCard, Action: FilterActionMask},
			{Name: "ssn", Pattern: CommonFilterPatterns.SSN, Action: FilterActionMask},
			{Name: "api_key", Pattern: CommonFilterPatterns.APIKey, Action: FilterActionMask},
		},
	})
}

// PromptInjectionPatterns detect common prompt injection attempts.
var PromptInjectionPatterns = map[string]string{
	"IgnorePrevious":  `(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions?`,
	"SystemOverride":  `(?i)system\s*:\s*you\s+are`,
	"NewInstructions": `(?i)new\s+instructions?\s*:`,
}

// NewPromptInjectionDetector returns a filter that only warns.
func NewPromptInjectionDetector() (*FilterHook, error) {
	names := make([]string, 0, len(PromptInjectionPatterns))
	for name := range PromptInjectionPatterns {
		names = append(names, name)
	}
	sort.Strings(names)

	rules := make([]FilterRule, 0, len(names))
	for _, name := range names {
		rules = append(rules, FilterRule{
			Name:    "injection_" + name,
			Pattern: PromptInjectionPatterns[name],
			Action:  FilterActionWarn,
		})
	}
	return NewFilterHook(FilterConfig{Rules: rules})
}
