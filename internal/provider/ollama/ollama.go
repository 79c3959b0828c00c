// Package ollama talks to an Ollama server's chat API as the runner's model.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"conduit/internal/hooks"
	"conduit/internal/tools"
	"conduit/pkg/logger"
)

var (
	ErrConnectionFailed = errors.New("failed to connect to Ollama server")
	ErrModelNotFound    = errors.New("model not found")
	ErrInvalidResponse  = errors.New("invalid response from Ollama")
	ErrRequestTimeout   = errors.New("request timeout")
)

// ToolSource supplies the schemas of the tools the model may call.
type ToolSource interface {
	Definitions() []tools.Definition
}

// Model implements runner.Model against /api/chat.
type Model struct {
	endpoint   string
	model      string
	keepAlive  string
	httpClient *http.Client
	tools      ToolSource
	log        zerolog.Logger
}

// New creates a Model. src may be nil, in which case no tools are offered.
func New(cfg Config, src ToolSource) *Model {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.KeepAlive == "" {
		cfg.KeepAlive = DefaultKeepAlive
	}
	return &Model{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		model:      cfg.Model,
		keepAlive:  cfg.KeepAlive,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tools:      src,
		log:        logger.Component("ollama"),
	}
}

// Name returns the provider name.
func (m *Model) Name() string { return "ollama" }

// Complete sends the conversation and returns the assistant's reply.
func (m *Model) Complete(ctx context.Context, req *hooks.ModelRequest) (*hooks.ModelResponse, error) {
	body := m.buildRequest(req)
	m.log.Debug().
		Str("model", body.Model).
		Str("session_id", req.SessionID).
		Int("messages", len(body.Messages)).
		Int("tools", len(body.Tools)).
		Msg("chat request")

	resp, err := m.do(ctx, http.MethodPost, "/api/chat", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		m.log.Error().Int("status", resp.StatusCode).Str("body", string(data)).Msg("ollama error response")
		return nil, errorFromStatus(resp.StatusCode, data)
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return convertResponse(&out), nil
}

func (m *Model) buildRequest(req *hooks.ModelRequest) *chatRequest {
	out := &chatRequest{
		Model:     m.model,
		Messages:  make([]chatMessage, 0, len(req.History)+1),
		KeepAlive: m.keepAlive,
	}
	if req.System != "" {
		out.Messages = append(out.Messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.History {
		cm := chatMessage{Role: msg.Role, Content: msg.Content}
		for _, tc := range msg.ToolCalls {
			var c toolCall
			c.ID = tc.ID
			c.Type = "function"
			c.Function.Name = tc.Name
			c.Function.Arguments = tc.Arguments
			if c.Function.Arguments == nil {
				c.Function.Arguments = map[string]any{}
			}
			cm.ToolCalls = append(cm.ToolCalls, c)
		}
		out.Messages = append(out.Messages, cm)
	}
	out.Tools = m.toolSpecs(req.Tools)
	return out
}

// toolSpecs returns schemas for the tools named in the request, in order.
func (m *Model) toolSpecs(names []string) []toolSpec {
	if m.tools == nil || len(names) == 0 {
		return nil
	}
	byName := make(map[string]tools.Definition)
	for _, d := range m.tools.Definitions() {
		byName[d.Name] = d
	}
	specs := make([]toolSpec, 0, len(names))
	for _, name := range names {
		d, ok := byName[name]
		if !ok {
			continue
		}
		specs = append(specs, toolSpec{
			Type: "function",
			Function: toolFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return specs
}

func convertResponse(resp *chatResponse) *hooks.ModelResponse {
	out := &hooks.ModelResponse{
		Content:    resp.Message.Content,
		StopReason: "stop",
		TokensUsed: resp.PromptEvalCount + resp.EvalCount,
	}
	for _, tc := range resp.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, hooks.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if len(out.ToolCalls) > 0 {
		out.StopReason = "tool_calls"
	}
	return out
}

func (m *Model) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.endpoint+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrRequestTimeout
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return resp, nil
}

func errorFromStatus(status int, body []byte) error {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		if status == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrModelNotFound, er.Error)
		}
		return fmt.Errorf("ollama error: %s", er.Error)
	}
	switch status {
	case http.StatusNotFound:
		return ErrModelNotFound
	case http.StatusServiceUnavailable:
		return ErrConnectionFailed
	default:
		return fmt.Errorf("ollama returned status %d: %s", status, string(body))
	}
}

// Models lists the models installed on the server.
func (m *Model) Models(ctx context.Context) ([]string, error) {
	resp, err := m.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch models: status %d", resp.StatusCode)
	}
	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("failed to decode models response: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, t := range tags.Models {
		names = append(names, t.Name)
	}
	return names, nil
}

// Ping checks that the server answers within three seconds.
func (m *Model) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	resp, err := m.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrConnectionFailed, resp.StatusCode)
	}
	return nil
}
