package v1

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"conduit/internal/approval"
	"conduit/internal/gateway/handlers"
	"conduit/internal/gateway/middleware"
	"conduit/internal/policy"
	"conduit/internal/queue"
	"conduit/internal/runner"
	"conduit/internal/storage"
	"conduit/internal/taskstate"
	"conduit/internal/todo"
	"conduit/internal/tools"
	"conduit/pkg/logger"
)

// RouterDeps holds dependencies for the v1 API router. Nil dependencies
// turn the routes that need them into 503 responses.
type RouterDeps struct {
	Runner     *runner.Runner
	Gate       *approval.Gate
	Tracker    *taskstate.Tracker
	Todos      *todo.Store
	Policy     *policy.Executor
	Tools      *tools.Registry
	DB         *storage.DB
	Negotiator *middleware.Negotiator
}

// Router wraps v1 API dependencies.
type Router struct {
	runner     *runner.Runner
	gate       *approval.Gate
	tracker    *taskstate.Tracker
	todos      *todo.Store
	policy     *policy.Executor
	tools      *tools.Registry
	db         *storage.DB
	negotiator *middleware.Negotiator
	log        zerolog.Logger
}

// NewRouter creates a new v1 API router.
func NewRouter(deps *RouterDeps) *Router {
	if deps == nil {
		deps = &RouterDeps{}
	}
	tracker := deps.Tracker
	if tracker == nil && deps.Runner != nil {
		tracker = deps.Runner.Tracker()
	}
	return &Router{
		runner:     deps.Runner,
		gate:       deps.Gate,
		tracker:    tracker,
		todos:      deps.Todos,
		policy:     deps.Policy,
		tools:      deps.Tools,
		db:         deps.DB,
		negotiator: deps.Negotiator,
		log:        logger.Component("api"),
	}
}

// RegisterRoutes registers all v1 API routes.
func (r *Router) RegisterRoutes(router *mux.Router) {
	v1 := router.PathPrefix("/api/v1").Subrouter()

	// Sessions
	v1.HandleFunc("/sessions/{id}", r.HandleGetSession).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}", r.HandleCloseSession).Methods(http.MethodDelete)
	v1.HandleFunc("/sessions/{id}/messages", r.HandleEnqueue).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/task", r.HandleGetTask).Methods(http.MethodGet)

	// Todos
	v1.HandleFunc("/sessions/{id}/todos", r.HandleListTodos).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}/todos", r.HandleSetTodos).Methods(http.MethodPut)
	v1.HandleFunc("/sessions/{id}/todos", r.HandleClearTodos).Methods(http.MethodDelete)
	v1.HandleFunc("/sessions/{id}/todos/{todo}", r.HandleUpdateTodo).Methods(http.MethodPatch)

	// Approvals
	v1.HandleFunc("/approvals", r.HandleListApprovals).Methods(http.MethodGet)
	v1.HandleFunc("/approvals/{id}", r.HandleGetApproval).Methods(http.MethodGet)
	v1.HandleFunc("/approvals/{id}", r.HandleResolveApproval).Methods(http.MethodPost)

	// Policy
	v1.HandleFunc("/policy", r.HandleGetPolicy).Methods(http.MethodGet)
	v1.HandleFunc("/policy/check", r.HandlePolicyCheck).Methods(http.MethodPost)

	// Tools
	v1.HandleFunc("/tools", r.HandleListTools).Methods(http.MethodGet)

	// Agent-to-agent task view
	router.HandleFunc("/a2a/sessions/{id}", r.HandleA2ATask).Methods(http.MethodGet)
}

// sendDomainError maps an error from the core packages onto an HTTP status.
func (r *Router) sendDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, approval.ErrRequestNotFound),
		errors.Is(err, todo.ErrNotFound),
		errors.Is(err, storage.ErrNotFound):
		handlers.SendError(w, http.StatusNotFound, handlers.ErrCodeNotFound, err.Error())

	case errors.Is(err, approval.ErrAlreadyResolved):
		handlers.SendError(w, http.StatusConflict, handlers.ErrCodeConflict, err.Error())

	case errors.Is(err, todo.ErrLimitExceeded),
		errors.Is(err, approval.ErrMaxPendingExceeded):
		handlers.SendError(w, http.StatusUnprocessableEntity, handlers.ErrCodeLimitExceeded, err.Error())

	case errors.Is(err, approval.ErrInvalidDecision),
		errors.Is(err, approval.ErrMissingField),
		errors.Is(err, todo.ErrInvalidStatus),
		errors.Is(err, todo.ErrMissingField),
		errors.Is(err, todo.ErrDuplicateID),
		errors.Is(err, queue.ErrMissingSession),
		errors.Is(err, queue.ErrInvalidKind):
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeValidationFailed, err.Error())

	case errors.Is(err, runner.ErrClosed),
		errors.Is(err, queue.ErrClosed),
		errors.Is(err, approval.ErrGateClosed):
		handlers.SendError(w, http.StatusServiceUnavailable, handlers.ErrCodeServiceUnavailable, err.Error())

	default:
		r.log.Error().Err(err).Msg("request failed")
		handlers.SendError(w, http.StatusInternalServerError, handlers.ErrCodeInternalError, "internal error")
	}
}

func unavailable(w http.ResponseWriter, what string) {
	handlers.SendError(w, http.StatusServiceUnavailable, handlers.ErrCodeServiceUnavailable, what+" not available")
}
