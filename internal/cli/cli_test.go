package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "conduit/api/v1"
	"conduit/internal/approval"
	"conduit/internal/config"
	"conduit/internal/cron"
	"conduit/internal/gateway/handlers"
	"conduit/internal/gateway/middleware"
	"conduit/internal/todo"
)

type recorded struct {
	Method   string
	Path     string
	Query    string
	Protocol string
	Body     []byte
}

type fakeServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recorded
}

func newFakeServer(t *testing.T, handler http.HandlerFunc) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fs.mu.Lock()
		fs.requests = append(fs.requests, recorded{
			Method:   r.Method,
			Path:     r.URL.Path,
			Query:    r.URL.RawQuery,
			Protocol: r.Header.Get(middleware.ProtocolVersionHeader),
			Body:     body,
		})
		fs.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) last(t *testing.T) recorded {
	t.Helper()
	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.NotEmpty(t, fs.requests)
	return fs.requests[len(fs.requests)-1]
}

func (fs *fakeServer) count() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.requests)
}

func testContext(t *testing.T, serverURL string) context.Context {
	t.Helper()
	cfg := &config.Config{}
	cfg.Protocol.Version = "1.2.0"
	cfg.Storage.Driver = "sqlite"
	cliCtx := NewCLIContext(cfg, "", nil, t.TempDir()+"/data.db", GlobalFlags{ServerURL: serverURL})
	t.Cleanup(func() { _ = cliCtx.Close() })
	return context.WithValue(context.Background(), contextKey{}, cliCtx)
}

// execute runs cmd with args under a CLI context pointing at serverURL.
func execute(t *testing.T, serverURL string, cmd *cobra.Command, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(testContext(t, serverURL))
	return out.String(), err
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	handlers.SendJSON(w, status, v)
}

func TestAPIClient_Do(t *testing.T) {
	fs := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		sendJSON(w, http.StatusOK, map[string]string{"echo": r.URL.Path})
	})

	c := NewAPIClient(fs.URL, "1.2.0")
	var out map[string]string
	require.NoError(t, c.Post(context.Background(), "/api/v1/x", map[string]int{"n": 1}, &out))
	assert.Equal(t, "/api/v1/x", out["echo"])

	req := fs.last(t)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "1.2.0", req.Protocol)
	assert.JSONEq(t, `{"n":1}`, string(req.Body))
}

func TestAPIClient_Errors(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		status   int
		code     string
		message  string
		notFound bool
	}{
		{
			name: "structured",
			handler: func(w http.ResponseWriter, r *http.Request) {
				handlers.SendError(w, http.StatusConflict, handlers.ErrCodeConflict, "already resolved")
			},
			status:  http.StatusConflict,
			code:    handlers.ErrCodeConflict,
			message: "already resolved",
		},
		{
			name: "plain",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", http.StatusNotFound)
			},
			status:   http.StatusNotFound,
			message:  "nope",
			notFound: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFakeServer(t, tt.handler)
			err := NewAPIClient(fs.URL, "").Get(context.Background(), "/", nil)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, tt.message, apiErr.Message)
			assert.Equal(t, tt.notFound, IsNotFound(err))
		})
	}
}

func TestAPIClient_NoServer(t *testing.T) {
	fs := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {})
	url := fs.URL
	fs.Close()

	err := NewAPIClient(url, "").Get(context.Background(), "/health", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conduit serve")
	assert.False(t, IsNotFound(err))
}

func TestApprovals_List(t *testing.T) {
	now := time.Now()
	fs := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		sendJSON(w, http.StatusOK, v1.ApprovalListResponse{
			Pending: []*approval.Request{{
				ID:        "req-1",
				Type:      "tool:shell",
				SessionID: "s1",
				CreatedAt: now,
				ExpiresAt: now.Add(time.Minute),
				Metadata:  map[string]any{"tool": "shell"},
			}},
			Count: 1,
		})
	})

	out, err := execute(t, fs.URL, NewApprovalsCmd(), "", "list", "--session", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "req-1")
	assert.Contains(t, out, "shell")
	assert.Contains(t, out, "Total: 1 pending")

	req := fs.last(t)
	assert.Equal(t, "/api/v1/approvals", req.Path)
	assert.Equal(t, "session=s1", req.Query)
}

func TestApprovals_Resolve(t *testing.T) {
	orig := stdinIsTerminal
	t.Cleanup(func() { stdinIsTerminal = orig })

	fs := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		sendJSON(w, http.StatusOK, v1.ResolveResponse{RequestID: "req-1", Decision: approval.DecisionDenied})
	})

	t.Run("non-interactive", func(t *testing.T) {
		stdinIsTerminal = func() bool { return false }
		out, err := execute(t, fs.URL, NewApprovalsCmd(), "",
			"resolve", "req-1", "deny", "--note", "not on prod", "--by", "alice")
		require.NoError(t, err)
		assert.Contains(t, out, "req-1 denied")

		req := fs.last(t)
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "/api/v1/approvals/req-1", req.Path)
		var body v1.ResolveRequest
		require.NoError(t, json.Unmarshal(req.Body, &body))
		assert.Equal(t, "denied", body.Decision)
		assert.Equal(t, "alice", body.By)
		assert.Equal(t, "not on prod", body.Note)
	})

	t.Run("declined prompt", func(t *testing.T) {
		stdinIsTerminal = func() bool { return true }
		before := fs.count()
		out, err := execute(t, fs.URL, NewApprovalsCmd(), "n\n", "approve", "req-1")
		require.NoError(t, err)
		assert.Contains(t, out, "Aborted.")
		assert.Equal(t, before, fs.count())
	})

	t.Run("confirmed prompt", func(t *testing.T) {
		stdinIsTerminal = func() bool { return true }
		_, err := execute(t, fs.URL, NewApprovalsCmd(), "yes\n", "approve", "req-1")
		require.NoError(t, err)
		var body v1.ResolveRequest
		require.NoError(t, json.Unmarshal(fs.last(t).Body, &body))
		assert.Equal(t, "approved", body.Decision)
		assert.True(t, strings.HasPrefix(body.By, "cli"))
	})

	t.Run("bad decision", func(t *testing.T) {
		stdinIsTerminal = func() bool { return false }
		_, err := execute(t, fs.URL, NewApprovalsCmd(), "", "resolve", "req-1", "maybe")
		assert.ErrorIs(t, err, approval.ErrInvalidDecision)
	})
}

func TestApprovals_ResolveConflict(t *testing.T) {
	orig := stdinIsTerminal
	stdinIsTerminal = func() bool { return false }
	t.Cleanup(func() { stdinIsTerminal = orig })

	fs := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		handlers.SendError(w, http.StatusConflict, "ALREADY_RESOLVED", "request already resolved")
	})

	_, err := execute(t, fs.URL, NewApprovalsCmd(), "", "approve", "req-1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "ALREADY_RESOLVED", apiErr.Code)
}

func TestSession_Send(t *testing.T) {
	fs := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		sendJSON(w, http.StatusAccepted, v1.EnqueueResponse{MessageID: "m1", SessionID: "ops", Busy: true})
	})

	out, err := execute(t, fs.URL, NewSessionCmd(), "", "send", "ops", "hello", "there", "--background")
	require.NoError(t, err)
	assert.Contains(t, out, "Queued m1 for session ops (session was busy)")

	req := fs.last(t)
	assert.Equal(t, "/api/v1/sessions/ops/messages", req.Path)
	var body v1.EnqueueRequest
	require.NoError(t, json.Unmarshal(req.Body, &body))
	assert.Equal(t, "hello there", body.Text)
	assert.EqualValues(t, "background", body.Kind)
	assert.Equal(t, "cli", body.Metadata["source"])
}

func TestTodos_List(t *testing.T) {
	fs := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		sendJSON(w, http.StatusOK, v1.TodosResponse{
			SessionID: "s1",
			Todos: []todo.Todo{
				{ID: "t1", Content: "write docs", Status: todo.StatusCompleted},
				{ID: "t2", Content: "ship it", Status: todo.StatusInProgress},
			},
		})
	})

	out, err := execute(t, fs.URL, NewTodosCmd(), "", "list", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "[x] write docs  (t1)")
	assert.Contains(t, out, "[~] ship it  (t2)")
	assert.Contains(t, out, "0 pending, 1 in progress, 1 completed, 0 cancelled")
}

func TestTodos_ListLocal(t *testing.T) {
	out, err := execute(t, "http://127.0.0.1:1", NewTodosCmd(), "", "list", "s1", "--local")
	require.NoError(t, err)
	assert.Contains(t, out, "No todos.")
}

func TestCron_AddValidates(t *testing.T) {
	fs := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		sendJSON(w, http.StatusCreated, cron.Job{Name: "digest", Schedule: "@hourly", SessionID: "ops", Enabled: true})
	})

	_, err := execute(t, fs.URL, NewCronCmd(), "", "add", "digest", "not a schedule", "-s", "ops", "-m", "go")
	require.Error(t, err)
	assert.Equal(t, 0, fs.count())

	out, err := execute(t, fs.URL, NewCronCmd(), "", "add", "digest", "@hourly", "-s", "ops", "-m", "post the digest")
	require.NoError(t, err)
	assert.Contains(t, out, "Cron job 'digest' created")

	var body cron.JobCreate
	require.NoError(t, json.Unmarshal(fs.last(t).Body, &body))
	assert.Equal(t, "post the digest", body.Message)
	assert.True(t, body.Enabled)
}

func TestCron_RemoveNotFound(t *testing.T) {
	fs := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		handlers.SendError(w, http.StatusNotFound, handlers.ErrCodeNotFound, "job not found")
	})

	_, err := execute(t, fs.URL, NewCronCmd(), "", "remove", "ghost")
	require.Error(t, err)
	assert.Equal(t, "cron job not found: ghost", err.Error())
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"\n", false},
		{"no\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got, err := confirm(strings.NewReader(tt.input), &out, "Proceed?")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		assert.Equal(t, "Proceed? [y/N]: ", out.String())
	}
}

func TestFlattenAndMask(t *testing.T) {
	keys := flattenSettings("", map[string]any{
		"gateway": map[string]any{"port": 8787, "rate_limit": map[string]any{"burst": 60}},
		"model":   map[string]any{"provider": "echo"},
	})
	assert.ElementsMatch(t, []string{"gateway.port", "gateway.rate_limit.burst", "model.provider"}, keys)

	assert.Equal(t, "***", maskValue("abc"))
	assert.Equal(t, "se**et", maskValue("secret"))
	assert.True(t, isSensitiveKey("model.api_key"))
	assert.False(t, isSensitiveKey("model.name"))
}

func TestNewCLIContext_ServerURL(t *testing.T) {
	cfg := &config.Config{}
	cfg.Gateway.Host = "0.0.0.0"
	cfg.Gateway.Port = 9000

	c := NewCLIContext(cfg, "", nil, "", GlobalFlags{})
	assert.Equal(t, "http://127.0.0.1:9000", c.ServerURL)

	c = NewCLIContext(cfg, "", nil, "", GlobalFlags{ServerURL: "http://example.test/"})
	assert.Equal(t, "http://example.test", c.ServerURL)
}
