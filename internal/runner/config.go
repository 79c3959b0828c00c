package runner

import "time"

// Config holds configuration for the turn runner.
type Config struct {
	// MaxIterations bounds model calls per turn. Default is 10.
	MaxIterations int `json:"max_iterations"`

	// TurnTimeout bounds a single turn. Zero disables it.
	TurnTimeout time.Duration `json:"turn_timeout"`

	// DenialEndsTurn fails the turn when a gated tool call is denied or
	// times out. When false the model sees the "not authorized" result and
	// the turn continues.
	DenialEndsTurn bool `json:"denial_ends_turn"`

	// MaxToolResultBytes bounds a tool result before it enters history.
	MaxToolResultBytes int `json:"max_tool_result_bytes"`

	// MaxHistory is the number of messages kept per session. Default is 100.
	MaxHistory int `json:"max_history"`

	// WorkerIdleTimeout stops a session worker after it has been idle this long.
	WorkerIdleTimeout time.Duration `json:"worker_idle_timeout"`

	// SystemPrompt is passed to the model on every request.
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:      10,
		TurnTimeout:        10 * time.Minute,
		DenialEndsTurn:     true,
		MaxToolResultBytes: DefaultMaxToolResultBytes,
		MaxHistory:         100,
		WorkerIdleTimeout:  5 * time.Minute,
	}
}

// WithMaxIterations returns a copy of the config with the specified max iterations.
func (c Config) WithMaxIterations(n int) Config {
	c.MaxIterations = n
	return c
}

// WithTurnTimeout returns a copy of the config with the specified turn timeout.
func (c Config) WithTurnTimeout(d time.Duration) Config {
	c.TurnTimeout = d
	return c
}

// WithDenialEndsTurn returns a copy of the config with the denial policy set.
func (c Config) WithDenialEndsTurn(v bool) Config {
	c.DenialEndsTurn = v
	return c
}

// WithSystemPrompt returns a copy of the config with the specified system prompt.
func (c Config) WithSystemPrompt(prompt string) Config {
	c.SystemPrompt = prompt
	return c
}

// WithWorkerIdleTimeout returns a copy of the config with the specified idle timeout.
func (c Config) WithWorkerIdleTimeout(d time.Duration) Config {
	c.WorkerIdleTimeout = d
	return c
}

// normalized fills zero values with defaults.
func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.TurnTimeout < 0 {
		c.TurnTimeout = 0
	}
	if c.MaxToolResultBytes <= 0 {
		c.MaxToolResultBytes = d.MaxToolResultBytes
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = d.MaxHistory
	}
	if c.WorkerIdleTimeout <= 0 {
		c.WorkerIdleTimeout = d.WorkerIdleTimeout
	}
	return c
}
