package taskstate

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"conduit/pkg/logger"
)

// Listener observes every recorded change.
type Listener func(SessionState)

// Tracker holds the per-session snapshot the runner writes and protocol
// readers derive from. Updates naming a task that already ended are ignored.
type Tracker struct {
	mu        sync.RWMutex
	sessions  map[string]*SessionState
	listeners []Listener
	now       func() time.Time
	log       zerolog.Logger
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		sessions: make(map[string]*SessionState),
		now:      time.Now,
		log:      logger.Component("taskstate"),
	}
}

// OnChange registers a listener. Register before the tracker is shared.
func (t *Tracker) OnChange(fn Listener) {
	t.listeners = append(t.listeners, fn)
}

// Begin starts a new task for the session and returns its id.
func (t *Tracker) Begin(sessionID string) string {
	taskID := uuid.NewString()

	t.mu.Lock()
	s, ok := t.sessions[sessionID]
	if !ok {
		s = &SessionState{SessionID: sessionID}
		t.sessions[sessionID] = s
	}
	s.TaskID = taskID
	s.Turns++
	s.TurnActive = true
	s.PendingApprovals = nil
	s.Outcome = OutcomeNone
	s.Error = ""
	s.UpdatedAt = t.now()
	snap := copyState(s)
	t.mu.Unlock()

	t.log.Debug().Str("session_id", sessionID).Str("task_id", taskID).Msg("task started")
	t.notify(snap)
	return taskID
}

// Block records that the task waits on an approval.
func (t *Tracker) Block(sessionID, taskID, approvalID string) {
	t.update(sessionID, taskID, func(s *SessionState) bool {
		for _, id := range s.PendingApprovals {
			if id == approvalID {
				return false
			}
		}
		s.PendingApprovals = append(s.PendingApprovals, approvalID)
		return true
	})
}

// Unblock records that an approval the task waited on has terminated.
func (t *Tracker) Unblock(sessionID, taskID, approvalID string) {
	t.update(sessionID, taskID, func(s *SessionState) bool {
		for i, id := range s.PendingApprovals {
			if id == approvalID {
				s.PendingApprovals = append(s.PendingApprovals[:i:i], s.PendingApprovals[i+1:]...)
				return true
			}
		}
		return false
	})
}

// Finish records the task outcome. Only the first call for a task has effect.
func (t *Tracker) Finish(sessionID, taskID string, outcome Outcome, err error) {
	if outcome == OutcomeNone {
		return
	}
	t.update(sessionID, taskID, func(s *SessionState) bool {
		s.TurnActive = false
		s.PendingApprovals = nil
		s.Outcome = outcome
		if err != nil {
			s.Error = err.Error()
		}
		return true
	})
}

// Snapshot returns a copy of the session state. Unknown sessions report as
// never started.
func (t *Tracker) Snapshot(sessionID string) SessionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		return SessionState{SessionID: sessionID}
	}
	return copyState(s)
}

// State derives the protocol state of a session.
func (t *Tracker) State(sessionID string) State {
	return Derive(t.Snapshot(sessionID))
}

// Status returns the protocol status object of a session.
func (t *Tracker) Status(sessionID string) TaskStatus {
	return View(t.Snapshot(sessionID))
}

// Forget drops a session.
func (t *Tracker) Forget(sessionID string) {
	t.mu.Lock()
	delete(t.sessions, sessionID)
	t.mu.Unlock()
}

// update applies fn to the live task. fn reports whether it changed anything.
func (t *Tracker) update(sessionID, taskID string, fn func(*SessionState) bool) {
	t.mu.Lock()
	s, ok := t.sessions[sessionID]
	if !ok || s.TaskID != taskID || s.Outcome != OutcomeNone {
		t.mu.Unlock()
		t.log.Debug().
			Str("session_id", sessionID).
			Str("task_id", taskID).
			Msg("ignoring update for inactive task")
		return
	}
	if !fn(s) {
		t.mu.Unlock()
		return
	}
	s.UpdatedAt = t.now()
	snap := copyState(s)
	t.mu.Unlock()

	t.notify(snap)
}

func (t *Tracker) notify(s SessionState) {
	for _, fn := range t.listeners {
		fn(s)
	}
}

func copyState(s *SessionState) SessionState {
	out := *s
	if s.PendingApprovals != nil {
		out.PendingApprovals = append([]string(nil), s.PendingApprovals...)
	}
	return out
}
