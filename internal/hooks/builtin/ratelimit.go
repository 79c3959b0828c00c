package builtin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"conduit/internal/hooks"
	"conduit/pkg/logger"
)

// RateLimitConfig configures the tool-call rate limit hook.
type RateLimitConfig struct {
	// MaxCalls is the number of tool calls allowed per session in Window.
	MaxCalls int
	Window   time.Duration
	// Now overrides the clock.
	Now func() time.Time
}

// RateLimitHook cancels tool calls once a session exceeds its budget.
type RateLimitHook struct {
	maxCalls int
	window   time.Duration
	now      func() time.Time
	log      zerolog.Logger

	mu       sync.Mutex
	counters map[string]*slidingWindow
}

type slidingWindow struct {
	timestamps []time.Time
}

// NewRateLimitHook creates a rate limit hook.
func NewRateLimitHook(cfg RateLimitConfig) *RateLimitHook {
	if cfg.MaxCalls <= 0 {
		cfg.MaxCalls = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RateLimitHook{
		maxCalls: cfg.MaxCalls,
		window:   cfg.Window,
		now:      cfg.Now,
		log:      logger.Component("hooks.ratelimit"),
		counters: make(map[string]*slidingWindow),
	}
}

func (h *RateLimitHook) handle(_ context.Context, env *hooks.Envelope[*hooks.ToolCall]) error {
	key := env.Payload.SessionID
	count := h.add(key)
	if count > h.maxCalls {
		h.log.Warn().
			Str("session_id", key).
			Int("count", count).
			Int("max", h.maxCalls).
			Dur("window", h.window).
			Msg("rate limit exceeded")
		env.Cancel(fmt.Sprintf("rate limit exceeded: %d tool calls in %s", h.maxCalls, h.window))
	}
	return nil
}

// add records a call and returns the count inside the window.
func (h *RateLimitHook) add(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	w, ok := h.counters[key]
	if !ok {
		w = &slidingWindow{}
		h.counters[key] = w
	}

	now := h.now()
	cutoff := now.Add(-h.window)
	kept := w.timestamps[:0]
	for _, ts := range w.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.timestamps = append(kept, now)
	return len(w.timestamps)
}

// Reset clears a session's counter.
func (h *RateLimitHook) Reset(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.counters, sessionID)
}

// Handler returns the hook handler.
func (h *RateLimitHook) Handler(id string) hooks.Handler[*hooks.ToolCall] {
	return hooks.Handler[*hooks.ToolCall]{
		ID:          id,
		Source:      "_builtin",
		Description: "Limits tool calls per session",
		Fn:          h.handle,
	}
}

// RegisterRateLimitHook registers the rate limiter on before_tool_call.
func RegisterRateLimitHook(m *hooks.Manager, cfg RateLimitConfig) (*RateLimitHook, error) {
	h := NewRateLimitHook(cfg)
	if err := hooks.Register(m, hooks.BeforeToolCall, h.Handler("builtin:ratelimit")); err != nil {
		return nil, err
	}
	return h, nil
}
