package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conduit/internal/hooks"
	"conduit/internal/provider/ollama"
)

func TestNew(t *testing.T) {
	m, err := New(Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Echo{}, m)

	m, err = New(Config{Name: "ollama", Model: "qwen2.5"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &ollama.Model{}, m)
	_, ok := m.(Pinger)
	assert.True(t, ok)

	_, err = New(Config{Name: "gpt"}, nil)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestEcho(t *testing.T) {
	resp, err := NewEcho().Complete(context.Background(), &hooks.ModelRequest{
		History: []hooks.Message{
			{Role: "user", Content: "first"},
			{Role: "assistant", Content: "first"},
			{Role: "user", Content: "second"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Content)
	assert.Empty(t, resp.ToolCalls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewEcho().Complete(ctx, &hooks.ModelRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}
