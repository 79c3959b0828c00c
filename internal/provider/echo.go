package provider

import (
	"context"

	"conduit/internal/hooks"
)

// Echo answers every request with the latest user message. It needs no
// network and is the default when no provider is configured.
type Echo struct{}

// NewEcho returns an Echo model.
func NewEcho() *Echo { return &Echo{} }

// Complete implements runner.Model.
func (Echo) Complete(ctx context.Context, req *hooks.ModelRequest) (*hooks.ModelResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var text string
	for i := len(req.History) - 1; i >= 0; i-- {
		if req.History[i].Role == "user" {
			text = req.History[i].Content
			break
		}
	}
	return &hooks.ModelResponse{Content: text, StopReason: "stop"}, nil
}
