// Package runner processes turns: it drains a session's queued messages,
// passes them through the interception pipeline to the model, and executes
// the requested tools behind the policy check and the approval gate.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"conduit/internal/approval"
	"conduit/internal/hooks"
	"conduit/internal/policy"
	"conduit/internal/queue"
	"conduit/internal/taskstate"
	"conduit/internal/tools"
	"conduit/pkg/logger"
)

// Model produces the next assistant response for a request.
type Model interface {
	Complete(ctx context.Context, req *hooks.ModelRequest) (*hooks.ModelResponse, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, req *hooks.ModelRequest) (*hooks.ModelResponse, error)

// Complete calls f.
func (f ModelFunc) Complete(ctx context.Context, req *hooks.ModelRequest) (*hooks.ModelResponse, error) {
	return f(ctx, req)
}

// ToolExecutor runs tools by name. *tools.Registry implements it.
type ToolExecutor interface {
	Execute(ctx context.Context, sessionID, name string, args map[string]any) (tools.ToolResult, error)
	Names() []string
}

// Runner owns one worker per active session.
type Runner struct {
	cfg     Config
	queue   *queue.Queue
	model   Model
	tools   ToolExecutor
	hooks   *hooks.Manager
	policy  policy.Checker
	gate    *approval.Gate
	tracker *taskstate.Tracker
	history *historyStore
	log     zerolog.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers map[string]*sessionWorker
	retired map[string]<-chan struct{}
	closed  bool
	wg      sync.WaitGroup

	subMu       sync.RWMutex
	subscribers map[int]chan Event
	nextSub     int
}

// NewRunner creates a runner that starts a session worker whenever q accepts
// a message. Collaborators set with the Set* methods must be in place before
// messages arrive.
func NewRunner(q *queue.Queue, model Model, executor ToolExecutor, cfg Config) (*Runner, error) {
	if q == nil {
		return nil, ErrNoQueue
	}
	if model == nil {
		return nil, ErrNoModel
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		cfg:         cfg.normalized(),
		queue:       q,
		model:       model,
		tools:       executor,
		tracker:     taskstate.NewTracker(),
		log:         logger.Component("runner"),
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		workers:     make(map[string]*sessionWorker),
		retired:     make(map[string]<-chan struct{}),
		subscribers: make(map[int]chan Event),
	}
	r.history = newHistoryStore(r.cfg.MaxHistory)
	q.OnEnqueue(func(msg *queue.QueuedMessage) { r.wake(msg.SessionID) })
	return r, nil
}

// SetHookManager sets the interception pipeline.
func (r *Runner) SetHookManager(m *hooks.Manager) { r.hooks = m }

// SetPolicy sets the checker that decides which tool calls need approval.
func (r *Runner) SetPolicy(c policy.Checker) { r.policy = c }

// SetGate sets the approval gate.
func (r *Runner) SetGate(g *approval.Gate) { r.gate = g }

// SetTracker replaces the task-state tracker.
func (r *Runner) SetTracker(t *taskstate.Tracker) { r.tracker = t }

// Tracker returns the task-state tracker the runner writes.
func (r *Runner) Tracker() *taskstate.Tracker { return r.tracker }

// Config returns the effective configuration.
func (r *Runner) Config() Config { return r.cfg }

// Enqueue submits input for a session.
func (r *Runner) Enqueue(sessionID string, parts []queue.Part, kind queue.Kind, metadata map[string]any) (*queue.QueuedMessage, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return r.queue.Enqueue(sessionID, parts, kind, metadata)
}

// History returns a copy of a session's conversation.
func (r *Runner) History(sessionID string) []hooks.Message {
	return r.history.snapshot(sessionID)
}

// Busy reports whether a turn is running for the session.
func (r *Runner) Busy(sessionID string) bool {
	r.mu.Lock()
	w, ok := r.workers[sessionID]
	r.mu.Unlock()
	return ok && w.isBusy()
}

// ActiveSessions returns the number of sessions with a live worker.
func (r *Runner) ActiveSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// CloseSession tears a session down: the running turn is canceled, its
// pending approvals are settled as canceled, and queued input and history
// are dropped.
// It returns the number of approvals it canceled.
func (r *Runner) CloseSession(sessionID string) int {
	r.mu.Lock()
	w, ok := r.workers[sessionID]
	if ok {
		delete(r.workers, sessionID)
		r.retired[sessionID] = w.done
	}
	r.mu.Unlock()

	if ok {
		w.stop()
		go func() {
			<-w.done
			r.mu.Lock()
			if r.retired[sessionID] == w.done {
				delete(r.retired, sessionID)
			}
			r.mu.Unlock()
		}()
	}

	canceled := 0
	if r.gate != nil {
		canceled = r.gate.CancelSession(sessionID)
	}
	dropped := r.queue.Discard(sessionID)
	if !ok {
		r.history.reset(sessionID)
	}

	r.log.Info().
		Str("session_id", sessionID).
		Int("approvals_canceled", canceled).
		Int("messages_dropped", dropped).
		Msg("session closed")
	return canceled
}

// Shutdown stops every worker and waits for running turns to unwind.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	workers := make([]*sessionWorker, 0, len(r.workers))
	for _, w := range r.workers {
		workers = append(workers, w)
	}
	r.mu.Unlock()

	r.cancel()
	for _, w := range workers {
		w.stop()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.subMu.Lock()
	for id, ch := range r.subscribers {
		close(ch)
		delete(r.subscribers, id)
	}
	r.subMu.Unlock()
	return nil
}

// Subscribe returns a channel of every turn event and a function that ends
// the subscription. Events are dropped for a subscriber whose buffer is full.
func (r *Runner) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subscribers[id] = ch
	r.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subMu.Lock()
			if c, ok := r.subscribers[id]; ok {
				close(c)
				delete(r.subscribers, id)
			}
			r.subMu.Unlock()
		})
	}
}

// turn is the state of one running turn.
type turn struct {
	id           string
	sessionID    string
	iterations   int
	toolCalls    int
	shortCircuit *hooks.ModelRequest
	log          zerolog.Logger
}

func (r *Runner) emit(t *turn, e Event) {
	e.SessionID = t.sessionID
	e.TurnID = t.id
	if e.Iteration == 0 {
		e.Iteration = t.iterations
	}

	r.subMu.RLock()
	defer r.subMu.RUnlock()
	for _, ch := range r.subscribers {
		select {
		case ch <- e:
		default:
			t.log.Warn().Str("event", e.Type.String()).Msg("event subscriber full, dropping event")
		}
	}
}

func (r *Runner) runTurn(w *sessionWorker, batch *queue.CoalescedMessage) {
	ctx, cancel := context.WithCancel(r.ctx)
	defer cancel()
	if r.cfg.TurnTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeoutCause(ctx, r.cfg.TurnTimeout, ErrTurnTimeout)
		defer cancelTimeout()
	}
	w.begin(cancel)
	defer w.end()

	taskID := r.tracker.Begin(w.sessionID)
	t := &turn{
		id:        taskID,
		sessionID: w.sessionID,
		log:       r.log.With().Str("session_id", w.sessionID).Str("turn_id", taskID).Logger(),
	}
	t.log.Info().
		Int("messages", len(batch.Messages)).
		Bool("background", batch.Background()).
		Msg("turn started")
	r.emit(t, Event{Type: EventTypeTurnStart, Content: batch.Text()})

	start := r.now()
	err := r.safeExecute(ctx, t, batch)
	outcome, err := classify(ctx, err)
	r.tracker.Finish(t.sessionID, t.id, outcome, err)

	summary := &hooks.TurnSummary{
		SessionID:  t.sessionID,
		TurnID:     t.id,
		Outcome:    string(outcome),
		Iterations: t.iterations,
		ToolCalls:  t.toolCalls,
	}
	if err != nil {
		summary.Error = err.Error()
	}
	if _, herr := hooks.Run(context.WithoutCancel(ctx), r.hooks, hooks.TurnEnd, summary); herr != nil {
		t.log.Warn().Err(herr).Msg("turn_end hook failed")
	}

	ev := t.log.Info()
	if outcome == taskstate.OutcomeFailed {
		ev = t.log.Warn().Err(err)
	}
	ev.Str("outcome", string(outcome)).
		Int("iterations", t.iterations).
		Int("tool_calls", t.toolCalls).
		Dur("duration", r.now().Sub(start)).
		Msg("turn finished")

	if outcome == taskstate.OutcomeFailed {
		r.emit(t, NewErrorEvent(err))
		return
	}
	done := NewDoneEvent(outcome)
	done.ShortCircuit = t.shortCircuit
	if err != nil {
		done.ErrorMsg = err.Error()
	}
	r.emit(t, done)
}

// classify maps the end of a turn to its outcome.
func classify(ctx context.Context, err error) (taskstate.Outcome, error) {
	if err == nil {
		return taskstate.OutcomeCompleted, nil
	}
	if errors.Is(context.Cause(ctx), ErrTurnTimeout) {
		return taskstate.OutcomeFailed, ErrTurnTimeout
	}
	if errors.Is(err, ErrTurnCanceled) {
		return taskstate.OutcomeCanceled, err
	}
	if ctx.Err() != nil {
		return taskstate.OutcomeCanceled, ErrTurnCanceled
	}
	return taskstate.OutcomeFailed, err
}

// safeExecute runs the turn body and turns a panic from the model or a tool
// into ErrTurnPanic so the turn still reaches a terminal state.
func (r *Runner) safeExecute(ctx context.Context, t *turn, batch *queue.CoalescedMessage) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			t.log.Error().
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Msg("panic in turn")
			err = fmt.Errorf("%w: %v", ErrTurnPanic, rec)
		}
	}()
	return r.execute(ctx, t, batch)
}

func (r *Runner) execute(ctx context.Context, t *turn, batch *queue.CoalescedMessage) error {
	r.history.append(t.sessionID, hooks.Message{Role: "user", Content: batch.Text()})

	for t.iterations < r.cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.iterations++

		req := &hooks.ModelRequest{
			SessionID: t.sessionID,
			TurnID:    t.id,
			Iteration: t.iterations,
			System:    r.cfg.SystemPrompt,
			Parts:     batch.Parts,
			History:   r.history.snapshot(t.sessionID),
			Tools:     r.toolNames(),
			Metadata: map[string]any{
				"background":    batch.Background(),
				"message_count": len(batch.Messages),
			},
		}
		env, err := hooks.Run(ctx, r.hooks, hooks.BeforeModelRequest, req)
		if err != nil {
			return err
		}
		if env.Canceled {
			t.shortCircuit = env.Payload
			return fmt.Errorf("%w: %s", ErrTurnCanceled, env.Reason)
		}

		resp, err := r.model.Complete(ctx, env.Payload)
		if err != nil {
			return fmt.Errorf("model: %w", err)
		}
		if resp == nil {
			resp = &hooks.ModelResponse{}
		}
		resp.SessionID = t.sessionID
		resp.TurnID = t.id
		for i := range resp.ToolCalls {
			resp.ToolCalls[i].SessionID = t.sessionID
			if resp.ToolCalls[i].ID == "" {
				resp.ToolCalls[i].ID = uuid.NewString()
			}
		}

		renv, err := hooks.Run(ctx, r.hooks, hooks.AfterModelResponse, resp)
		if err != nil {
			return err
		}
		resp = renv.Payload
		if renv.Canceled {
			t.log.Debug().Str("reason", renv.Reason).Msg("after_model_response canceled, skipping tool calls")
			resp.ToolCalls = nil
		}

		r.history.append(t.sessionID, hooks.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})
		if resp.Content != "" {
			r.emit(t, NewContentEvent(resp.Content))
		}
		if len(resp.ToolCalls) == 0 {
			return nil
		}

		for i := range resp.ToolCalls {
			call := resp.ToolCalls[i]
			msg, err := r.runTool(ctx, t, &call)
			if msg.Role != "" {
				r.history.append(t.sessionID, msg)
			}
			if err != nil {
				return err
			}
		}
	}
	return ErrMaxIterations
}

func (r *Runner) toolNames() []string {
	if r.tools == nil {
		return nil
	}
	return r.tools.Names()
}

// runTool takes one call through before_tool_call, the policy check, the
// approval gate, execution, and after_tool_result. A non-nil error ends the
// turn; the returned message is still recorded when it has a role.
func (r *Runner) runTool(ctx context.Context, t *turn, call *hooks.ToolCall) (hooks.Message, error) {
	t.toolCalls++
	r.emit(t, NewToolCallEvent(call))

	env, err := hooks.Run(ctx, r.hooks, hooks.BeforeToolCall, call)
	if err != nil {
		return hooks.Message{}, err
	}
	call = env.Payload
	if env.Canceled {
		return r.synthesize(t, call, "tool call canceled: "+env.Reason), nil
	}

	if r.policy != nil {
		res, err := r.policy.Check(ctx, &policy.ToolCall{
			Name:      call.Name,
			SessionID: t.sessionID,
			Arguments: encodeArgs(call.Arguments),
		})
		if err != nil {
			return r.synthesize(t, call, "policy check failed: "+err.Error()), nil
		}
		if !res.Allowed {
			return r.synthesize(t, call, "blocked by policy: "+res.Reason), nil
		}
		if res.RequireApproval {
			decision, err := r.authorize(ctx, t, call, res)
			if err != nil {
				return r.synthesize(t, call, notAuthorized(approval.DecisionCanceled)), err
			}
			if !decision.Allowed() {
				msg := r.synthesize(t, call, notAuthorized(decision))
				if r.cfg.DenialEndsTurn {
					return msg, fmt.Errorf("%w: %s was %s", ErrNotAuthorized, call.Name, decision)
				}
				return msg, nil
			}
		}
	}

	result := &hooks.ToolResult{CallID: call.ID, SessionID: t.sessionID, Name: call.Name}
	start := r.now()
	if r.tools == nil {
		result.Content = tools.NewToolNotFoundError(call.Name).Error()
		result.IsError = true
	} else {
		out, err := r.tools.Execute(ctx, t.sessionID, call.Name, call.Arguments)
		if err != nil {
			result.Content = err.Error()
			result.IsError = true
		} else {
			result.Content = out.Content
			result.IsError = out.IsError
		}
	}
	result.Duration = r.now().Sub(start)

	if n := len(result.Content); n > r.cfg.MaxToolResultBytes {
		result.Content = TruncateToolResult(result.Content, r.cfg.MaxToolResultBytes)
		t.log.Debug().Str("tool", call.Name).Int("before", n).Int("after", len(result.Content)).Msg("truncated tool result")
	}

	renv, err := hooks.Run(ctx, r.hooks, hooks.AfterToolResult, result)
	if err != nil {
		return hooks.Message{}, err
	}
	result = renv.Payload

	r.emit(t, NewToolResultEvent(call.ID, call.Name, result.Content, result.IsError, result.Duration.Milliseconds()))
	return hooks.Message{Role: "tool", Content: result.Content, ToolCallID: call.ID}, nil
}

// authorize asks the gate and waits. The task is input-required while it waits.
// A denial that will end the turn leaves the approval recorded as pending so
// observers see input-required turn straight into failed.
func (r *Runner) authorize(ctx context.Context, t *turn, call *hooks.ToolCall, res *policy.Result) (approval.Decision, error) {
	if r.gate == nil {
		t.log.Warn().Str("tool", call.Name).Msg("tool requires approval but no gate is configured")
		return approval.DecisionDenied, nil
	}

	req, err := r.gate.Request(ctx, res.ApprovalType, t.sessionID, res.Timeout, map[string]any{
		"tool":      call.Name,
		"call_id":   call.ID,
		"turn_id":   t.id,
		"arguments": call.Arguments,
		"reason":    res.ApprovalReason,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		t.log.Warn().Err(err).Str("tool", call.Name).Msg("approval request failed")
		return approval.DecisionDenied, nil
	}

	r.tracker.Block(t.sessionID, t.id, req.ID)
	r.emit(t, NewApprovalEvent(call, req.ID))

	result, err := r.gate.Await(ctx, req.ID)
	if err != nil {
		r.tracker.Unblock(t.sessionID, t.id, req.ID)
		return "", err
	}

	switch {
	case result.Decision == approval.DecisionCanceled:
		r.tracker.Unblock(t.sessionID, t.id, req.ID)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: approval %s canceled", ErrTurnCanceled, req.ID)
	case result.Decision.Allowed() || !r.cfg.DenialEndsTurn:
		r.tracker.Unblock(t.sessionID, t.id, req.ID)
	}

	t.log.Info().
		Str("tool", call.Name).
		Str("request_id", req.ID).
		Str("decision", string(result.Decision)).
		Msg("approval settled")
	return result.Decision, nil
}

// synthesize produces an error tool result without running the tool.
func (r *Runner) synthesize(t *turn, call *hooks.ToolCall, content string) hooks.Message {
	r.emit(t, NewToolResultEvent(call.ID, call.Name, content, true, 0))
	return hooks.Message{Role: "tool", Content: content, ToolCallID: call.ID}
}

func notAuthorized(d approval.Decision) string {
	return fmt.Sprintf("not authorized: approval %s", d)
}

func encodeArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}
