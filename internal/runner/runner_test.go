package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conduit/internal/approval"
	"conduit/internal/hooks"
	"conduit/internal/policy"
	"conduit/internal/queue"
	"conduit/internal/taskstate"
	"conduit/internal/tools"
)

// scriptedModel replies from a fixed script and then with plain text.
type scriptedModel struct {
	mu      sync.Mutex
	calls   []*hooks.ModelRequest
	replies []hooks.ModelResponse
	gate    chan struct{} // when set, the first call waits on it
	panics  bool          // when set, the first call panics
}

func (m *scriptedModel) Complete(ctx context.Context, req *hooks.ModelRequest) (*hooks.ModelResponse, error) {
	m.mu.Lock()
	n := len(m.calls)
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if n == 0 && m.panics {
		panic("model exploded")
	}
	if n == 0 && m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n < len(m.replies) {
		resp := m.replies[n]
		resp.ToolCalls = append([]hooks.ToolCall(nil), resp.ToolCalls...)
		return &resp, nil
	}
	return &hooks.ModelResponse{Content: "ok"}, nil
}

func (m *scriptedModel) requests() []*hooks.ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*hooks.ModelRequest(nil), m.calls...)
}

type countingTool struct {
	tools.BaseTool
	calls atomic.Int32
}

func newCountingTool(name string) *countingTool {
	return &countingTool{BaseTool: tools.BaseTool{ToolName: name, ToolDescription: "test tool"}}
}

func (t *countingTool) Execute(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	t.calls.Add(1)
	return tools.NewSuccessResult("ran " + t.ToolName), nil
}

type fixture struct {
	queue   *queue.Queue
	tools   *tools.Registry
	model   *scriptedModel
	tool    *countingTool
	gate    *approval.Gate
	runner  *Runner
	events  <-chan Event
	manager *hooks.Manager
}

func newFixture(t *testing.T, cfg Config, model *scriptedModel, p *policy.Policy) *fixture {
	t.Helper()
	q := queue.New()
	reg := tools.NewRegistry()
	tool := newCountingTool("deploy")
	require.NoError(t, reg.Register(tool))

	r, err := NewRunner(q, model, reg, cfg)
	require.NoError(t, err)

	gate := approval.New(approval.Config{DefaultTimeout: time.Minute})
	manager := hooks.NewManager()
	r.SetGate(gate)
	r.SetHookManager(manager)
	if p != nil {
		r.SetPolicy(policy.NewExecutor(p))
	}

	events, unsubscribe := r.Subscribe(256)
	t.Cleanup(func() {
		unsubscribe()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
		gate.Close()
	})

	return &fixture{queue: q, tools: reg, model: model, tool: tool, gate: gate, runner: r, events: events, manager: manager}
}

func (f *fixture) send(t *testing.T, sessionID, text string) {
	t.Helper()
	_, err := f.runner.Enqueue(sessionID, []queue.Part{queue.TextPart(text)}, queue.KindDefault, nil)
	require.NoError(t, err)
}

func waitEvent(t *testing.T, events <-chan Event, types ...EventType) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e := <-events:
			for _, typ := range types {
				if e.Type == typ {
					return e
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v", types)
			return Event{}
		}
	}
}

func gatedPolicy() *policy.Policy {
	return &policy.Policy{
		DefaultAllow: true,
		Rules: []policy.Rule{{
			Name:         "deploy needs approval",
			Tool:         "deploy",
			Action:       policy.ActionApprove,
			ApprovalType: "deploy:prod",
		}},
	}
}

func deployReply() hooks.ModelResponse {
	return hooks.ModelResponse{ToolCalls: []hooks.ToolCall{{ID: "call-1", Name: "deploy", Arguments: map[string]any{"env": "prod"}}}}
}

func TestNewRunner_Validation(t *testing.T) {
	_, err := NewRunner(nil, &scriptedModel{}, nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNoQueue)

	_, err = NewRunner(queue.New(), nil, nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestRunner_SimpleTurn(t *testing.T) {
	model := &scriptedModel{replies: []hooks.ModelResponse{{Content: "hello back"}}}
	f := newFixture(t, DefaultConfig(), model, nil)

	f.send(t, "s1", "hello")

	done := waitEvent(t, f.events, EventTypeDone, EventTypeError)
	assert.Equal(t, EventTypeDone, done.Type)
	assert.Equal(t, taskstate.OutcomeCompleted, done.Outcome)
	assert.Equal(t, taskstate.StateCompleted, f.runner.Tracker().State("s1"))

	history := f.runner.History("s1")
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "hello back", history[1].Content)

	reqs := model.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, []string{"deploy"}, reqs[0].Tools)
}

func TestRunner_CoalescesWhileBusy(t *testing.T) {
	model := &scriptedModel{gate: make(chan struct{})}
	f := newFixture(t, DefaultConfig(), model, nil)

	f.send(t, "s1", "A")
	require.Eventually(t, func() bool { return len(model.requests()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, f.runner.Busy("s1"))
	assert.Equal(t, taskstate.StateWorking, f.runner.Tracker().State("s1"))

	f.send(t, "s1", "B")
	f.send(t, "s1", "C")
	close(model.gate)

	waitEvent(t, f.events, EventTypeDone)
	waitEvent(t, f.events, EventTypeDone)

	reqs := model.requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[1].Parts, 2)
	assert.Equal(t, "B", reqs[1].Parts[0].Text)
	assert.Equal(t, "C", reqs[1].Parts[1].Text)
	assert.Equal(t, 2, f.runner.Tracker().Snapshot("s1").Turns)
}

func TestRunner_ExecutesTools(t *testing.T) {
	model := &scriptedModel{replies: []hooks.ModelResponse{deployReply(), {Content: "deployed"}}}
	f := newFixture(t, DefaultConfig(), model, nil)

	var seen []string
	require.NoError(t, hooks.Register(f.manager, hooks.AfterToolResult, hooks.Handler[*hooks.ToolResult]{
		ID: "observe",
		Fn: func(ctx context.Context, env *hooks.Envelope[*hooks.ToolResult]) error {
			seen = append(seen, env.Payload.Content)
			env.Payload.Content += " (checked)"
			return nil
		},
	}))

	f.send(t, "s1", "ship it")
	res := waitEvent(t, f.events, EventTypeToolResult)
	assert.Equal(t, "ran deploy (checked)", res.ToolResult.Output)
	done := waitEvent(t, f.events, EventTypeDone, EventTypeError)
	assert.Equal(t, taskstate.OutcomeCompleted, done.Outcome)

	assert.Equal(t, int32(1), f.tool.calls.Load())
	assert.Equal(t, []string{"ran deploy"}, seen)

	reqs := model.requests()
	require.Len(t, reqs, 2)
	last := reqs[1].History[len(reqs[1].History)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Equal(t, "call-1", last.ToolCallID)
}

func TestRunner_ApprovalDeniedFailsTurn(t *testing.T) {
	model := &scriptedModel{replies: []hooks.ModelResponse{deployReply()}}
	f := newFixture(t, DefaultConfig(), model, gatedPolicy())

	f.send(t, "s1", "deploy please")

	pending := waitEvent(t, f.events, EventTypeApprovalRequired)
	require.NotEmpty(t, pending.ApprovalID)
	assert.Equal(t, taskstate.StateInputRequired, f.runner.Tracker().State("s1"))
	assert.Equal(t, []string{pending.ApprovalID}, f.runner.Tracker().Status("s1").Pending)

	req, ok := f.gate.Get(pending.ApprovalID)
	require.True(t, ok)
	assert.Equal(t, "deploy:prod", req.Type)

	require.NoError(t, f.gate.Resolve(pending.ApprovalID, approval.DecisionDenied, approval.By("reviewer")))

	res := waitEvent(t, f.events, EventTypeToolResult)
	assert.True(t, res.ToolResult.IsError)
	assert.Contains(t, res.ToolResult.Output, "not authorized")

	failed := waitEvent(t, f.events, EventTypeError, EventTypeDone)
	assert.Equal(t, EventTypeError, failed.Type)
	assert.ErrorIs(t, failed.Error, ErrNotAuthorized)

	status := f.runner.Tracker().Status("s1")
	assert.Equal(t, taskstate.StateFailed, status.State)
	assert.Empty(t, status.Pending)
	assert.Equal(t, int32(0), f.tool.calls.Load())

	assert.ErrorIs(t, f.gate.Resolve(pending.ApprovalID, approval.DecisionApproved), approval.ErrAlreadyResolved)
	assert.Equal(t, taskstate.StateFailed, f.runner.Tracker().State("s1"))
}

func TestRunner_ApprovalGrantedRunsTool(t *testing.T) {
	model := &scriptedModel{replies: []hooks.ModelResponse{deployReply(), {Content: "done"}}}
	f := newFixture(t, DefaultConfig(), model, gatedPolicy())

	f.send(t, "s1", "deploy please")
	pending := waitEvent(t, f.events, EventTypeApprovalRequired)
	require.NoError(t, f.gate.Resolve(pending.ApprovalID, approval.DecisionApproved))

	done := waitEvent(t, f.events, EventTypeDone, EventTypeError)
	assert.Equal(t, taskstate.OutcomeCompleted, done.Outcome)
	assert.Equal(t, int32(1), f.tool.calls.Load())
	assert.Equal(t, taskstate.StateCompleted, f.runner.Tracker().State("s1"))
}

func TestRunner_DenialContinuesWhenConfigured(t *testing.T) {
	model := &scriptedModel{replies: []hooks.ModelResponse{deployReply(), {Content: "understood"}}}
	f := newFixture(t, DefaultConfig().WithDenialEndsTurn(false), model, gatedPolicy())

	f.send(t, "s1", "deploy please")
	pending := waitEvent(t, f.events, EventTypeApprovalRequired)
	require.NoError(t, f.gate.Resolve(pending.ApprovalID, approval.DecisionDenied))

	done := waitEvent(t, f.events, EventTypeDone, EventTypeError)
	assert.Equal(t, taskstate.OutcomeCompleted, done.Outcome)

	reqs := model.requests()
	require.Len(t, reqs, 2)
	last := reqs[1].History[len(reqs[1].History)-1]
	assert.True(t, strings.HasPrefix(last.Content, "not authorized"))
}

func TestRunner_ApprovalTimeout(t *testing.T) {
	model := &scriptedModel{replies: []hooks.ModelResponse{deployReply()}}
	p := gatedPolicy()
	p.Rules[0].Timeout = 50 * time.Millisecond
	f := newFixture(t, DefaultConfig(), model, p)

	f.send(t, "s1", "deploy please")
	pending := waitEvent(t, f.events, EventTypeApprovalRequired)

	failed := waitEvent(t, f.events, EventTypeError, EventTypeDone)
	assert.ErrorIs(t, failed.Error, ErrNotAuthorized)

	res, ok := f.gate.Decision(pending.ApprovalID)
	require.True(t, ok)
	assert.Equal(t, approval.DecisionTimedOut, res.Decision)
}

func TestRunner_BlockedByPolicy(t *testing.T) {
	model := &scriptedModel{replies: []hooks.ModelResponse{deployReply(), {Content: "fine"}}}
	f := newFixture(t, DefaultConfig(), model, &policy.Policy{DefaultAllow: true, Blocklist: []string{"deploy"}})

	f.send(t, "s1", "deploy please")
	res := waitEvent(t, f.events, EventTypeToolResult)
	assert.True(t, res.ToolResult.IsError)
	assert.Contains(t, res.ToolResult.Output, "blocked by policy")

	done := waitEvent(t, f.events, EventTypeDone, EventTypeError)
	assert.Equal(t, taskstate.OutcomeCompleted, done.Outcome)
	assert.Equal(t, int32(0), f.tool.calls.Load())
}

func TestRunner_BeforeModelRequestCancel(t *testing.T) {
	model := &scriptedModel{}
	f := newFixture(t, DefaultConfig(), model, nil)

	require.NoError(t, hooks.Register(f.manager, hooks.BeforeModelRequest, hooks.Handler[*hooks.ModelRequest]{
		ID: "stop",
		Fn: func(ctx context.Context, env *hooks.Envelope[*hooks.ModelRequest]) error {
			env.Payload.System = "rewritten"
			env.Cancel("quota exhausted")
			return nil
		},
	}))

	f.send(t, "s1", "hi")
	done := waitEvent(t, f.events, EventTypeDone, EventTypeError)
	assert.Equal(t, EventTypeDone, done.Type)
	assert.Equal(t, taskstate.OutcomeCanceled, done.Outcome)
	require.NotNil(t, done.ShortCircuit)
	assert.Equal(t, "rewritten", done.ShortCircuit.System)
	assert.Contains(t, done.ErrorMsg, "quota exhausted")

	assert.Empty(t, model.requests())
	assert.Equal(t, taskstate.StateCanceled, f.runner.Tracker().State("s1"))
}

func TestRunner_BeforeToolCallCancelSkipsTool(t *testing.T) {
	model := &scriptedModel{replies: []hooks.ModelResponse{deployReply(), {Content: "ok"}}}
	f := newFixture(t, DefaultConfig(), model, nil)

	require.NoError(t, hooks.Register(f.manager, hooks.BeforeToolCall, hooks.Handler[*hooks.ToolCall]{
		ID: "veto",
		Fn: func(ctx context.Context, env *hooks.Envelope[*hooks.ToolCall]) error {
			env.Cancel("frozen")
			return nil
		},
	}))

	f.send(t, "s1", "deploy")
	res := waitEvent(t, f.events, EventTypeToolResult)
	assert.Contains(t, res.ToolResult.Output, "frozen")
	waitEvent(t, f.events, EventTypeDone)
	assert.Equal(t, int32(0), f.tool.calls.Load())
}

func TestRunner_HandlerErrorFailsTurn(t *testing.T) {
	model := &scriptedModel{}
	f := newFixture(t, DefaultConfig(), model, nil)

	require.NoError(t, hooks.Register(f.manager, hooks.AfterModelResponse, hooks.Handler[*hooks.ModelResponse]{
		ID: "broken",
		Fn: func(ctx context.Context, env *hooks.Envelope[*hooks.ModelResponse]) error {
			return errors.New("boom")
		},
	}))

	f.send(t, "s1", "hi")
	failed := waitEvent(t, f.events, EventTypeError, EventTypeDone)
	assert.Equal(t, EventTypeError, failed.Type)
	assert.ErrorIs(t, failed.Error, hooks.ErrHandlerFailed)
	assert.Equal(t, taskstate.StateFailed, f.runner.Tracker().State("s1"))
}

func TestRunner_ModelPanicFailsTurn(t *testing.T) {
	model := &scriptedModel{panics: true}
	f := newFixture(t, DefaultConfig(), model, nil)

	f.send(t, "s1", "hi")
	failed := waitEvent(t, f.events, EventTypeError, EventTypeDone)
	assert.Equal(t, EventTypeError, failed.Type)
	assert.ErrorIs(t, failed.Error, ErrTurnPanic)
	assert.Contains(t, failed.ErrorMsg, "model exploded")

	require.Eventually(t, func() bool { return !f.runner.Busy("s1") }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, taskstate.StateFailed, f.runner.Tracker().State("s1"))

	// the session keeps working after the panic
	f.send(t, "s1", "again")
	done := waitEvent(t, f.events, EventTypeDone, EventTypeError)
	assert.Equal(t, EventTypeDone, done.Type)
	assert.Equal(t, taskstate.StateCompleted, f.runner.Tracker().State("s1"))
}

type panickingTool struct {
	tools.BaseTool
}

func (*panickingTool) Execute(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	panic("tool exploded")
}

func TestRunner_ToolPanicFailsTurn(t *testing.T) {
	model := &scriptedModel{replies: []hooks.ModelResponse{{
		ToolCalls: []hooks.ToolCall{{ID: "call-1", Name: "explode"}},
	}}}
	f := newFixture(t, DefaultConfig(), model, nil)
	require.NoError(t, f.tools.Register(&panickingTool{
		BaseTool: tools.BaseTool{ToolName: "explode", ToolDescription: "panics"},
	}))

	f.send(t, "s1", "hi")
	failed := waitEvent(t, f.events, EventTypeError, EventTypeDone)
	assert.ErrorIs(t, failed.Error, ErrTurnPanic)
	assert.Equal(t, taskstate.StateFailed, f.runner.Tracker().State("s1"))
}

func TestRunner_ClearedPayloadFailsTurn(t *testing.T) {
	model := &scriptedModel{replies: []hooks.ModelResponse{deployReply()}}
	f := newFixture(t, DefaultConfig(), model, nil)

	require.NoError(t, hooks.Register(f.manager, hooks.BeforeToolCall, hooks.Handler[*hooks.ToolCall]{
		ID: "wipe",
		Fn: func(ctx context.Context, env *hooks.Envelope[*hooks.ToolCall]) error {
			env.Payload = nil
			return nil
		},
	}))

	f.send(t, "s1", "hi")
	failed := waitEvent(t, f.events, EventTypeError, EventTypeDone)
	assert.ErrorIs(t, failed.Error, hooks.ErrNilPayload)
	assert.Equal(t, taskstate.StateFailed, f.runner.Tracker().State("s1"))
	assert.Equal(t, int32(0), f.tool.calls.Load())
}

func TestRunner_MaxIterations(t *testing.T) {
	replies := make([]hooks.ModelResponse, 5)
	for i := range replies {
		replies[i] = hooks.ModelResponse{ToolCalls: []hooks.ToolCall{{Name: "deploy"}}}
	}
	model := &scriptedModel{replies: replies}
	f := newFixture(t, DefaultConfig().WithMaxIterations(3), model, nil)

	f.send(t, "s1", "loop")
	failed := waitEvent(t, f.events, EventTypeError, EventTypeDone)
	assert.ErrorIs(t, failed.Error, ErrMaxIterations)
	assert.Len(t, model.requests(), 3)
	assert.Equal(t, int32(3), f.tool.calls.Load())
}

func TestRunner_TurnTimeout(t *testing.T) {
	model := &scriptedModel{gate: make(chan struct{})}
	f := newFixture(t, DefaultConfig().WithTurnTimeout(50*time.Millisecond), model, nil)

	f.send(t, "s1", "slow")
	failed := waitEvent(t, f.events, EventTypeError, EventTypeDone)
	assert.ErrorIs(t, failed.Error, ErrTurnTimeout)
	assert.Equal(t, taskstate.StateFailed, f.runner.Tracker().State("s1"))
}

func TestRunner_CloseSessionCancelsPendingApproval(t *testing.T) {
	model := &scriptedModel{replies: []hooks.ModelResponse{deployReply()}}
	f := newFixture(t, DefaultConfig(), model, gatedPolicy())

	f.send(t, "s1", "deploy please")
	pending := waitEvent(t, f.events, EventTypeApprovalRequired)

	f.runner.CloseSession("s1")

	done := waitEvent(t, f.events, EventTypeDone, EventTypeError)
	assert.Equal(t, taskstate.OutcomeCanceled, done.Outcome)
	assert.Equal(t, taskstate.StateCanceled, f.runner.Tracker().State("s1"))
	assert.Zero(t, f.gate.PendingCount())

	res, ok := f.gate.Decision(pending.ApprovalID)
	require.True(t, ok)
	assert.Equal(t, approval.DecisionCanceled, res.Decision)
	require.Eventually(t, func() bool { return len(f.runner.History("s1")) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRunner_SessionsAreIndependent(t *testing.T) {
	model := &scriptedModel{replies: []hooks.ModelResponse{deployReply()}}
	f := newFixture(t, DefaultConfig(), model, gatedPolicy())

	f.send(t, "blocked", "deploy please")
	waitEvent(t, f.events, EventTypeApprovalRequired)

	f.send(t, "free", "hello")
	for {
		e := waitEvent(t, f.events, EventTypeDone, EventTypeError)
		if e.SessionID == "free" {
			assert.Equal(t, taskstate.OutcomeCompleted, e.Outcome)
			break
		}
	}
	assert.Equal(t, taskstate.StateInputRequired, f.runner.Tracker().State("blocked"))
}

func TestRunner_EnqueueAfterShutdown(t *testing.T) {
	f := newFixture(t, DefaultConfig(), &scriptedModel{}, nil)
	require.NoError(t, f.runner.Shutdown(context.Background()))

	_, err := f.runner.Enqueue("s1", []queue.Part{queue.TextPart("late")}, queue.KindDefault, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRunner_WorkerRetiresWhenIdle(t *testing.T) {
	f := newFixture(t, DefaultConfig().WithWorkerIdleTimeout(30*time.Millisecond), &scriptedModel{}, nil)

	f.send(t, "s1", "hi")
	waitEvent(t, f.events, EventTypeDone)
	require.Eventually(t, func() bool { return f.runner.ActiveSessions() == 0 }, 2*time.Second, 10*time.Millisecond)

	f.send(t, "s1", "again")
	waitEvent(t, f.events, EventTypeDone)
	assert.Equal(t, 2, f.runner.Tracker().Snapshot("s1").Turns)
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	outcome, err := classify(ctx, nil)
	assert.Equal(t, taskstate.OutcomeCompleted, outcome)
	assert.NoError(t, err)

	outcome, _ = classify(ctx, ErrNotAuthorized)
	assert.Equal(t, taskstate.OutcomeFailed, outcome)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	outcome, err = classify(canceled, context.Canceled)
	assert.Equal(t, taskstate.OutcomeCanceled, outcome)
	assert.ErrorIs(t, err, ErrTurnCanceled)
}
