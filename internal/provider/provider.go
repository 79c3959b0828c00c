// Package provider builds the model collaborator the runner calls.
package provider

import (
	"context"
	"fmt"
	"time"

	"conduit/internal/provider/ollama"
	"conduit/internal/runner"
)

// Config selects and configures a model provider.
type Config struct {
	// Name is "echo" or "ollama". Empty means echo.
	Name      string
	Endpoint  string
	Model     string
	Timeout   time.Duration
	KeepAlive string
}

// Pinger is implemented by models that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// New returns the model named by cfg.Name.
func New(cfg Config, src ollama.ToolSource) (runner.Model, error) {
	switch cfg.Name {
	case "", "echo":
		return NewEcho(), nil
	case "ollama":
		return ollama.New(ollama.Config{
			Endpoint:  cfg.Endpoint,
			Model:     cfg.Model,
			Timeout:   cfg.Timeout,
			KeepAlive: cfg.KeepAlive,
		}, src), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Name)
	}
}
