package todo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"conduit/pkg/logger"
)

// Persister is an optional durable backing for todo lists.
type Persister interface {
	LoadTodos(ctx context.Context, sessionID string) ([]Todo, error)
	ReplaceTodos(ctx context.Context, sessionID string, todos []Todo) error
	UpdateTodo(ctx context.Context, t Todo) error
	DeleteTodos(ctx context.Context, sessionID string) error
}

// ChangeFunc observes a session's list after every successful mutation.
type ChangeFunc func(sessionID string, todos []Todo)

// Config configures a Store.
type Config struct {
	// MaxPerSession bounds the list length. Zero means 50.
	MaxPerSession int
	// Transitions overrides the edge set. Nil means DefaultTransitions.
	Transitions Transitions
	Persister   Persister
	Now         func() time.Time
}

type sessionTodos struct {
	mu     sync.Mutex
	loaded bool
	items  []Todo
}

// Store holds todo lists keyed by session. Each session has its own lock.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*sessionTodos

	max         int
	transitions Transitions
	persister   Persister
	now         func() time.Time
	listeners   []ChangeFunc
	log         zerolog.Logger
}

// NewStore creates a store.
func NewStore(cfg Config) *Store {
	s := &Store{
		sessions:    make(map[string]*sessionTodos),
		max:         cfg.MaxPerSession,
		transitions: cfg.Transitions,
		persister:   cfg.Persister,
		now:         cfg.Now,
		log:         logger.Component("todo"),
	}
	if s.max <= 0 {
		s.max = 50
	}
	if s.transitions == nil {
		s.transitions = DefaultTransitions()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// OnChange registers a listener. Register before the store is shared.
// Listeners run under the session lock and must not call back into the store.
func (s *Store) OnChange(fn ChangeFunc) {
	s.listeners = append(s.listeners, fn)
}

// Limit returns the per-session maximum.
func (s *Store) Limit() int { return s.max }

// Transitions returns the edge set in use.
func (s *Store) Transitions() Transitions { return s.transitions }

// SetTodos replaces a session's list. Validation happens before anything is
// written: on error the previous list is untouched.
func (s *Store) SetTodos(ctx context.Context, sessionID string, items []Item) ([]Todo, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session_id", ErrMissingField)
	}
	if len(items) > s.max {
		return nil, fmt.Errorf("%w: %d todos, max %d", ErrLimitExceeded, len(items), s.max)
	}

	st, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	existing := make(map[string]Todo, len(st.items))
	for _, t := range st.items {
		existing[t.ID] = t
	}

	now := s.now()
	seen := make(map[string]struct{}, len(items))
	next := make([]Todo, 0, len(items))
	for i, it := range items {
		content := strings.TrimSpace(it.Content)
		if content == "" {
			return nil, fmt.Errorf("%w: content of item %d", ErrMissingField, i)
		}
		status := it.Status
		if status == "" {
			status = StatusPending
		}
		if !status.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
		}
		id := it.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
		seen[id] = struct{}{}

		t := Todo{
			ID:        id,
			SessionID: sessionID,
			Position:  i,
			Content:   content,
			Status:    status,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if prev, ok := existing[id]; ok {
			t.CreatedAt = prev.CreatedAt
			if prev.Content == t.Content && prev.Status == t.Status && prev.Position == t.Position {
				t.UpdatedAt = prev.UpdatedAt
			}
		}
		next = append(next, t)
	}

	if s.persister != nil {
		if err := s.persister.ReplaceTodos(ctx, sessionID, next); err != nil {
			return nil, fmt.Errorf("persist todos: %w", err)
		}
	}
	st.items = next

	s.log.Debug().Str("session_id", sessionID).Int("count", len(next)).Msg("todos replaced")
	s.notify(sessionID, clone(next))
	return clone(next), nil
}

// UpdateStatus moves one todo to a new status if the edge set allows it.
func (s *Store) UpdateStatus(ctx context.Context, sessionID, todoID string, status Status) (*UpdateResult, error) {
	if sessionID == "" || todoID == "" {
		return nil, fmt.Errorf("%w: session_id and todo id", ErrMissingField)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	st, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	idx := -1
	for i := range st.items {
		if st.items[i].ID == todoID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, todoID)
	}

	cur := st.items[idx]
	if !s.transitions.Allows(cur.Status, status) {
		return nil, &transitionError{From: cur.Status, To: status}
	}
	if cur.Status == status {
		return &UpdateResult{Todo: cur, Previous: cur.Status}, nil
	}

	updated := cur
	updated.Status = status
	updated.UpdatedAt = s.now()
	if s.persister != nil {
		if err := s.persister.UpdateTodo(ctx, updated); err != nil {
			return nil, fmt.Errorf("persist todo: %w", err)
		}
	}
	st.items[idx] = updated

	s.log.Debug().
		Str("session_id", sessionID).
		Str("todo_id", todoID).
		Str("from", string(cur.Status)).
		Str("to", string(status)).
		Msg("todo status updated")
	s.notify(sessionID, clone(st.items))
	return &UpdateResult{Todo: updated, Previous: cur.Status}, nil
}

// List returns a session's todos ordered by position.
func (s *Store) List(ctx context.Context, sessionID string) ([]Todo, error) {
	st, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return clone(st.items), nil
}

// Clear removes a session's list.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	if s.persister != nil {
		if err := s.persister.DeleteTodos(ctx, sessionID); err != nil {
			return fmt.Errorf("delete todos: %w", err)
		}
	}
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	s.notify(sessionID, nil)
	return nil
}

// session returns the session bucket, loading it from the persister once.
func (s *Store) session(ctx context.Context, sessionID string) (*sessionTodos, error) {
	s.mu.RLock()
	st, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		s.mu.Lock()
		if st, ok = s.sessions[sessionID]; !ok {
			st = &sessionTodos{}
			s.sessions[sessionID] = st
		}
		s.mu.Unlock()
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.loaded {
		return st, nil
	}
	if s.persister != nil {
		items, err := s.persister.LoadTodos(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("load todos: %w", err)
		}
		st.items = items
	}
	st.loaded = true
	return st, nil
}

func (s *Store) notify(sessionID string, todos []Todo) {
	for _, fn := range s.listeners {
		fn(sessionID, todos)
	}
}

func clone(in []Todo) []Todo {
	if in == nil {
		return []Todo{}
	}
	out := make([]Todo, len(in))
	copy(out, in)
	return out
}
