// Package builtin provides stock hook handlers.
package builtin

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"conduit/internal/hooks"
	"conduit/pkg/logger"
)

// LoggingHook logs every payload passing through the sites it is registered on.
type LoggingHook struct {
	logger zerolog.Logger
	level  zerolog.Level
}

// LoggingConfig configures the logging hook.
type LoggingConfig struct {
	// Level is the event level (default: debug).
	Level zerolog.Level
	// Logger overrides the component logger.
	Logger *zerolog.Logger
}

// NewLoggingHook creates a logging hook.
func NewLoggingHook(cfg LoggingConfig) *LoggingHook {
	l := logger.Component("hooks.logging")
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	level := cfg.Level
	if level == 0 {
		level = zerolog.DebugLevel
	}
	return &LoggingHook{logger: l, level: level}
}

func (h *LoggingHook) event(site hooks.Site) *zerolog.Event {
	return h.logger.WithLevel(h.level).Str("site", string(site))
}

func (h *LoggingHook) modelRequest(_ context.Context, env *hooks.Envelope[*hooks.ModelRequest]) error {
	r := env.Payload
	h.event(hooks.SiteBeforeModelRequest).
		Str("session_id", r.SessionID).
		Str("turn_id", r.TurnID).
		Int("iteration", r.Iteration).
		Int("parts", len(r.Parts)).
		Int("history", len(r.History)).
		Msg("hook triggered")
	return nil
}

func (h *LoggingHook) modelResponse(_ context.Context, env *hooks.Envelope[*hooks.ModelResponse]) error {
	r := env.Payload
	h.event(hooks.SiteAfterModelResponse).
		Str("session_id", r.SessionID).
		Str("turn_id", r.TurnID).
		Int("content_length", len(r.Content)).
		Int("tool_calls", len(r.ToolCalls)).
		Int("tokens_used", r.TokensUsed).
		Msg("hook triggered")
	return nil
}

func (h *LoggingHook) toolCall(_ context.Context, env *hooks.Envelope[*hooks.ToolCall]) error {
	c := env.Payload
	h.event(hooks.SiteBeforeToolCall).
		Str("session_id", c.SessionID).
		Str("tool_id", c.ID).
		Str("tool_name", c.Name).
		Int("param_count", len(c.Arguments)).
		Msg("hook triggered")
	return nil
}

func (h *LoggingHook) toolResult(_ context.Context, env *hooks.Envelope[*hooks.ToolResult]) error {
	r := env.Payload
	h.event(hooks.SiteAfterToolResult).
		Str("session_id", r.SessionID).
		Str("tool_id", r.CallID).
		Str("tool_name", r.Name).
		Dur("duration", r.Duration).
		Bool("has_error", r.IsError).
		Msg("hook triggered")
	return nil
}

func (h *LoggingHook) turnEnd(_ context.Context, env *hooks.Envelope[*hooks.TurnSummary]) error {
	s := env.Payload
	h.event(hooks.SiteTurnEnd).
		Str("session_id", s.SessionID).
		Str("turn_id", s.TurnID).
		Str("outcome", s.Outcome).
		Str("error", s.Error).
		Int("iterations", s.Iterations).
		Msg("hook triggered")
	return nil
}

// RegisterLoggingHooks registers the logging hook on every site.
func RegisterLoggingHooks(m *hooks.Manager, cfg LoggingConfig) error {
	h := NewLoggingHook(cfg)
	id := func(s hooks.Site) string { return fmt.Sprintf("builtin:logging:%s", s) }
	desc := "Logs hook payloads"

	if err := hooks.Register(m, hooks.BeforeModelRequest, hooks.Handler[*hooks.ModelRequest]{
		ID: id(hooks.SiteBeforeModelRequest), Source: "_builtin", Description: desc, Fn: h.modelRequest,
	}); err != nil {
		return err
	}
	if err := hooks.Register(m, hooks.AfterModelResponse, hooks.Handler[*hooks.ModelResponse]{
		ID: id(hooks.SiteAfterModelResponse), Source: "_builtin", Description: desc, Fn: h.modelResponse,
	}); err != nil {
		return err
	}
	if err := hooks.Register(m, hooks.BeforeToolCall, hooks.Handler[*hooks.ToolCall]{
		ID: id(hooks.SiteBeforeToolCall), Source: "_builtin", Description: desc, Fn: h.toolCall,
	}); err != nil {
		return err
	}
	if err := hooks.Register(m, hooks.AfterToolResult, hooks.Handler[*hooks.ToolResult]{
		ID: id(hooks.SiteAfterToolResult), Source: "_builtin", Description: desc, Fn: h.toolResult,
	}); err != nil {
		return err
	}
	return hooks.Register(m, hooks.TurnEnd, hooks.Handler[*hooks.TurnSummary]{
		ID: id(hooks.SiteTurnEnd), Source: "_builtin", Description: desc, Fn: h.turnEnd,
	})
}
