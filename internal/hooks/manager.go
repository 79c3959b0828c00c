package hooks

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"

	"github.com/rs/zerolog"

	"conduit/pkg/logger"
)

// Manager owns the handler registry and runs sites.
// A nil *Manager behaves as a manager with no handlers.
type Manager struct {
	registry     *Registry
	recoverPanic bool
	js           JSExecutor
	log          zerolog.Logger
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithPanicRecovery sets whether handler panics are converted into errors.
func WithPanicRecovery(recover bool) ManagerOption {
	return func(m *Manager) { m.recoverPanic = recover }
}

// WithJSExecutor sets the runtime used by script handlers.
func WithJSExecutor(js JSExecutor) ManagerOption {
	return func(m *Manager) { m.js = js }
}

// WithLogger overrides the manager logger.
func WithLogger(l zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// NewManager creates a hook manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		registry:     NewRegistry(),
		recoverPanic: true,
		log:          logger.Component("hooks"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds h to the end of p's handler list.
func Register[T any](m *Manager, p Point[T], h Handler[T]) error {
	if m == nil {
		return fmt.Errorf("register %s: nil manager", p.site)
	}
	if h.Fn == nil {
		return fmt.Errorf("register %s/%s: nil handler func", p.site, h.ID)
	}
	source := h.Source
	if source == "" {
		source = "user"
	}
	return m.registry.add(p.site, &entry{
		info: Info{ID: h.ID, Site: p.site, Source: source, Description: h.Description, Enabled: true},
		fn:   h.Fn,
	})
}

// Run passes payload through p's handlers in registration order.
// Handlers see the mutations of the handlers before them. The first handler
// that cancels stops the chain. Handler errors and panics abort with a
// *HandlerError, as does a handler that clears the payload. Context
// cancellation returns the context error.
func Run[T any](ctx context.Context, m *Manager, p Point[T], payload T) (Envelope[T], error) {
	env := Envelope[T]{Payload: payload}
	if m == nil {
		return env, nil
	}

	entries := m.registry.snapshot(p.site)
	if len(entries) == 0 {
		return env, nil
	}

	for _, e := range entries {
		if !e.info.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return env, err
		}

		fn, ok := e.fn.(HandlerFunc[T])
		if !ok {
			return env, &HandlerError{Site: p.site, HandlerID: e.info.ID, Err: fmt.Errorf("payload type mismatch")}
		}
		if err := m.call(ctx, p.site, e.info.ID, func() error { return fn(ctx, &env) }); err != nil {
			return env, err
		}
		if isNil(env.Payload) && !isNil(payload) {
			env.Payload = payload
			return env, &HandlerError{Site: p.site, HandlerID: e.info.ID, Err: ErrNilPayload}
		}
		if env.Canceled {
			m.log.Debug().
				Str("site", string(p.site)).
				Str("handler_id", e.info.ID).
				Str("reason", env.Reason).
				Msg("hook chain canceled")
			break
		}
	}
	return env, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func (m *Manager) call(ctx context.Context, site Site, id string, fn func() error) (err error) {
	if m.recoverPanic {
		defer func() {
			if r := recover(); r != nil {
				m.log.Error().
					Str("site", string(site)).
					Str("handler_id", id).
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Msg("handler panicked")
				err = &HandlerError{Site: site, HandlerID: id, Err: fmt.Errorf("%w: %v", ErrHandlerPanic, r)}
			}
		}()
	}

	if herr := fn(); herr != nil {
		if cerr := ctx.Err(); cerr != nil && errors.Is(herr, cerr) {
			return herr
		}
		m.log.Error().
			Err(herr).
			Str("site", string(site)).
			Str("handler_id", id).
			Msg("handler execution error")
		return &HandlerError{Site: site, HandlerID: id, Err: herr}
	}
	return nil
}

// Unregister removes a handler from a site.
func (m *Manager) Unregister(site Site, id string) error {
	return m.registry.Remove(site, id)
}

// SetEnabled toggles a handler.
func (m *Manager) SetEnabled(site Site, id string, enabled bool) error {
	return m.registry.SetEnabled(site, id, enabled)
}

// Handlers lists the handlers of a site in execution order.
func (m *Manager) Handlers(site Site) []Info {
	if m == nil {
		return nil
	}
	return m.registry.List(site)
}

// Count returns the total number of registered handlers.
func (m *Manager) Count() int {
	if m == nil {
		return 0
	}
	return m.registry.Count()
}

// Close removes every handler.
func (m *Manager) Close() error {
	if m != nil {
		m.registry.Clear()
	}
	return nil
}
