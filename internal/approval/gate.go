package approval

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"conduit/pkg/logger"
)

// pendingRequest is the one-shot slot behind a request. result is written
// once by the winner of terminal before done is closed.
type pendingRequest struct {
	request  *Request
	terminal atomic.Bool
	result   *Result
	done     chan struct{}
	timer    atomic.Pointer[time.Timer]
}

// Config configures a Gate.
type Config struct {
	DefaultTimeout time.Duration
	MaxPending     int
	// History bounds how many settled decisions are remembered for late callers.
	History  int
	Notifier Notifier
	Recorder Recorder
	Logger   *zerolog.Logger
}

// Gate is the process-wide approval service.
type Gate struct {
	pending sync.Map // id -> *pendingRequest
	count   atomic.Int64
	closed  atomic.Bool

	settled *history

	timeout    time.Duration
	maxPending int
	notifier   Notifier
	recorder   Recorder
	log        zerolog.Logger
	now        func() time.Time
}

// New creates a gate.
func New(cfg Config) *Gate {
	g := &Gate{
		timeout:    cfg.DefaultTimeout,
		maxPending: cfg.MaxPending,
		notifier:   cfg.Notifier,
		recorder:   cfg.Recorder,
		now:        time.Now,
	}
	if g.timeout <= 0 {
		g.timeout = 5 * time.Minute
	}
	if g.maxPending <= 0 {
		g.maxPending = 100
	}
	size := cfg.History
	if size <= 0 {
		size = 1024
	}
	g.settled = newHistory(size)
	if cfg.Logger != nil {
		g.log = *cfg.Logger
	} else {
		g.log = logger.Component("approval")
	}
	return g
}

// SetNotifier replaces the notifier. Call before the gate is in use.
func (g *Gate) SetNotifier(n Notifier) { g.notifier = n }

// Request registers a pending approval and returns without waiting.
// A non-positive timeout uses the gate default. The timer starts once the
// request has been recorded and announced.
func (g *Gate) Request(ctx context.Context, typ, sessionID string, timeout time.Duration, metadata map[string]any) (*Request, error) {
	if typ == "" || sessionID == "" {
		return nil, ErrMissingField
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.closed.Load() {
		return nil, ErrGateClosed
	}
	if g.count.Add(1) > int64(g.maxPending) {
		g.count.Add(-1)
		return nil, ErrMaxPendingExceeded
	}
	if timeout <= 0 {
		timeout = g.timeout
	}

	now := g.now()
	req := &Request{
		ID:        uuid.NewString(),
		Type:      typ,
		SessionID: sessionID,
		Timeout:   timeout,
		CreatedAt: now,
		ExpiresAt: now.Add(timeout),
		Metadata:  metadata,
	}
	pr := &pendingRequest{request: req, done: make(chan struct{})}
	g.pending.Store(req.ID, pr)

	g.log.Info().
		Str("request_id", req.ID).
		Str("session_id", sessionID).
		Str("type", typ).
		Dur("timeout", timeout).
		Msg("approval request created")

	// Publish before the timer starts so observers never see the decision
	// ahead of the request.
	if g.recorder != nil {
		if err := g.recorder.RecordRequest(req); err != nil {
			g.log.Warn().Err(err).Str("request_id", req.ID).Msg("failed to record approval request")
		}
	}
	if g.notifier != nil {
		if err := g.notifier.NotifyRequest(req); err != nil {
			g.log.Warn().Err(err).Str("request_id", req.ID).Msg("failed to send approval notification")
		}
	}

	// The timer fires regardless of resolvers and goes through the same
	// terminal guard as Resolve.
	t := time.AfterFunc(timeout, func() {
		if g.finish(pr, DecisionTimedOut, "", "approval request timed out") {
			g.log.Warn().
				Str("request_id", req.ID).
				Str("session_id", sessionID).
				Str("type", typ).
				Dur("timeout", timeout).
				Msg("approval request timed out")
		}
	})
	pr.timer.Store(t)
	if pr.terminal.Load() {
		// Settled while it was being published.
		t.Stop()
	}
	return req, nil
}

// ResolveOption adjusts a resolution.
type ResolveOption func(*resolveOptions)

type resolveOptions struct {
	by        string
	note      string
	sessionID string
}

// By names the resolver.
func By(who string) ResolveOption { return func(o *resolveOptions) { o.by = who } }

// WithNote attaches a free-form note to the decision.
func WithNote(note string) ResolveOption { return func(o *resolveOptions) { o.note = note } }

// InSession restricts resolution to requests owned by sessionID. A mismatch
// reports ErrRequestNotFound.
func InSession(sessionID string) ResolveOption {
	return func(o *resolveOptions) { o.sessionID = sessionID }
}

// Resolve settles a pending request with approved or denied. A request that
// already reached a terminal decision reports ErrAlreadyResolved and is left
// untouched.
func (g *Gate) Resolve(id string, decision Decision, opts ...ResolveOption) error {
	if !decision.Resolvable() {
		return ErrInvalidDecision
	}
	var o resolveOptions
	for _, opt := range opts {
		opt(&o)
	}

	v, ok := g.pending.Load(id)
	if !ok {
		if res, ok := g.settled.get(id); ok && (o.sessionID == "" || res.SessionID == o.sessionID) {
			return ErrAlreadyResolved
		}
		return ErrRequestNotFound
	}
	pr := v.(*pendingRequest)
	if o.sessionID != "" && pr.request.SessionID != o.sessionID {
		return ErrRequestNotFound
	}
	if o.by == "" {
		o.by = "user"
	}
	if !g.finish(pr, decision, o.by, o.note) {
		return ErrAlreadyResolved
	}

	g.log.Info().
		Str("request_id", id).
		Str("decision", string(decision)).
		Str("by", o.by).
		Msg("approval decision")
	return nil
}

// Await blocks until the request is settled and returns its decision.
// If ctx ends first the request is settled as canceled. A request settled
// before Await was called still returns its decision while it is remembered.
func (g *Gate) Await(ctx context.Context, id string) (*Result, error) {
	v, ok := g.pending.Load(id)
	if !ok {
		if res, ok := g.settled.get(id); ok {
			return res, nil
		}
		return nil, ErrRequestNotFound
	}
	pr := v.(*pendingRequest)

	select {
	case <-pr.done:
	case <-ctx.Done():
		g.finish(pr, DecisionCanceled, "", "turn canceled")
		<-pr.done
	}
	return pr.result, nil
}

// Get returns a pending request.
func (g *Gate) Get(id string) (*Request, bool) {
	v, ok := g.pending.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*pendingRequest).request, true
}

// Decision returns a remembered terminal decision.
func (g *Gate) Decision(id string) (*Result, bool) {
	return g.settled.get(id)
}

// ListPending returns pending requests, oldest first. An empty sessionID
// lists every session.
func (g *Gate) ListPending(sessionID string) []*Request {
	var out []*Request
	g.pending.Range(func(_, v any) bool {
		pr := v.(*pendingRequest)
		if pr.terminal.Load() {
			return true
		}
		if sessionID == "" || pr.request.SessionID == sessionID {
			out = append(out, pr.request)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// PendingCount returns the number of pending requests.
func (g *Gate) PendingCount() int {
	return int(g.count.Load())
}

// CancelSession settles every pending request of a session as canceled and
// returns how many it settled.
func (g *Gate) CancelSession(sessionID string) int {
	n := 0
	g.pending.Range(func(_, v any) bool {
		pr := v.(*pendingRequest)
		if pr.request.SessionID == sessionID && g.finish(pr, DecisionCanceled, "", "session closed") {
			n++
		}
		return true
	})
	if n > 0 {
		g.log.Info().Str("session_id", sessionID).Int("count", n).Msg("pending approvals canceled")
	}
	return n
}

// Close cancels every pending request and rejects new ones.
func (g *Gate) Close() {
	g.closed.Store(true)
	g.pending.Range(func(_, v any) bool {
		g.finish(v.(*pendingRequest), DecisionCanceled, "", "gate closed")
		return true
	})
}

// finish is the single path to a terminal decision. Only the first caller
// for a request wins; the rest get false and change nothing. Awaiters are
// released after the decision is recorded.
func (g *Gate) finish(pr *pendingRequest, decision Decision, by, note string) bool {
	if !pr.terminal.CompareAndSwap(false, true) {
		return false
	}
	if t := pr.timer.Load(); t != nil {
		t.Stop()
	}

	res := &Result{
		RequestID: pr.request.ID,
		SessionID: pr.request.SessionID,
		Decision:  decision,
		DecidedBy: by,
		Note:      note,
		DecidedAt: g.now(),
	}
	pr.result = res
	g.settled.put(res)
	g.pending.Delete(pr.request.ID)
	g.count.Add(-1)

	if g.recorder != nil {
		if err := g.recorder.RecordDecision(pr.request, res); err != nil {
			g.log.Warn().Err(err).Str("request_id", res.RequestID).Msg("failed to record approval decision")
		}
	}
	if g.notifier != nil {
		if err := g.notifier.NotifyResolved(pr.request, res); err != nil {
			g.log.Warn().Err(err).Str("request_id", res.RequestID).Msg("failed to send resolution notification")
		}
	}
	close(pr.done)
	return true
}
