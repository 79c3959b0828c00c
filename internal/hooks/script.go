package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// JSExecutor evaluates a script and returns its exported completion value.
type JSExecutor interface {
	Eval(ctx context.Context, script, name string) (any, error)
}

// scriptReply is what a script handler returns from handler(envelope).
type scriptReply struct {
	Cancel  bool            `json:"cancel"`
	Reason  string          `json:"reason"`
	Payload json.RawMessage `json:"payload"`
}

// ScriptHandler builds a handler that runs the JavaScript file at path.
// The script defines handler(envelope) and may return
// {cancel, reason, payload}; a returned payload is merged into the Go payload.
// The file is read on every run so edits apply without a restart.
func ScriptHandler[T any](js JSExecutor, id, path string) Handler[T] {
	return Handler[T]{
		ID:          id,
		Source:      "script",
		Description: filepath.Base(path),
		Fn: func(ctx context.Context, env *Envelope[T]) error {
			if js == nil {
				return ErrScriptRuntime
			}
			src, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read script: %w", err)
			}
			in, err := json.Marshal(env)
			if err != nil {
				return fmt.Errorf("encode envelope: %w", err)
			}

			wrapped := fmt.Sprintf(`(function() {
	const envelope = %s;
%s
	if (typeof handler !== 'function') { return "{}"; }
	return JSON.stringify(handler(envelope) || {});
})();`, in, src)

			out, err := js.Eval(ctx, wrapped, filepath.Base(path))
			if err != nil {
				return err
			}
			return applyScriptReply(out, env)
		},
	}
}

func applyScriptReply[T any](out any, env *Envelope[T]) error {
	s, ok := out.(string)
	if !ok || s == "" {
		return nil
	}
	var reply scriptReply
	if err := json.Unmarshal([]byte(s), &reply); err != nil {
		return fmt.Errorf("decode script reply: %w", err)
	}
	if len(reply.Payload) > 0 && string(reply.Payload) != "null" {
		if err := json.Unmarshal(reply.Payload, &env.Payload); err != nil {
			return fmt.Errorf("decode script payload: %w", err)
		}
	}
	if reply.Cancel {
		env.Cancel(reply.Reason)
	}
	return nil
}

// RegisterScript registers a script handler on the named site.
func RegisterScript(m *Manager, site Site, id, path string) error {
	if m == nil {
		return fmt.Errorf("register script %s: nil manager", id)
	}
	if m.js == nil {
		return fmt.Errorf("register script %s: %w", id, ErrScriptRuntime)
	}
	switch site {
	case SiteBeforeModelRequest:
		return Register(m, BeforeModelRequest, ScriptHandler[*ModelRequest](m.js, id, path))
	case SiteAfterModelResponse:
		return Register(m, AfterModelResponse, ScriptHandler[*ModelResponse](m.js, id, path))
	case SiteBeforeToolCall:
		return Register(m, BeforeToolCall, ScriptHandler[*ToolCall](m.js, id, path))
	case SiteAfterToolResult:
		return Register(m, AfterToolResult, ScriptHandler[*ToolResult](m.js, id, path))
	case SiteTurnEnd:
		return Register(m, TurnEnd, ScriptHandler[*TurnSummary](m.js, id, path))
	default:
		return fmt.Errorf("%w: %s", ErrSiteInvalid, site)
	}
}
