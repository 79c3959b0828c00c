package v1

import (
	"net/http"

	"github.com/gorilla/mux"

	"conduit/internal/gateway/handlers"
	"conduit/internal/todo"
)

// HandleListTodos returns a session's todo list.
// GET /api/v1/sessions/{id}/todos
func (r *Router) HandleListTodos(w http.ResponseWriter, req *http.Request) {
	if r.todos == nil {
		unavailable(w, "todo store")
		return
	}
	sessionID := mux.Vars(req)["id"]

	list, err := r.todos.List(req.Context(), sessionID)
	if err != nil {
		r.sendDomainError(w, err)
		return
	}
	r.sendTodos(w, sessionID, list)
}

// HandleSetTodos replaces a session's todo list atomically.
// PUT /api/v1/sessions/{id}/todos
func (r *Router) HandleSetTodos(w http.ResponseWriter, req *http.Request) {
	if r.todos == nil {
		unavailable(w, "todo store")
		return
	}
	sessionID := mux.Vars(req)["id"]

	var body TodosRequest
	if err := handlers.DecodeJSON(req, &body); err != nil {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeInvalidRequest, "invalid request body")
		return
	}

	list, err := r.todos.SetTodos(req.Context(), sessionID, body.Todos)
	if err != nil {
		r.sendDomainError(w, err)
		return
	}
	r.sendTodos(w, sessionID, list)
}

// HandleUpdateTodo changes one todo's status.
// PATCH /api/v1/sessions/{id}/todos/{todo}
func (r *Router) HandleUpdateTodo(w http.ResponseWriter, req *http.Request) {
	if r.todos == nil {
		unavailable(w, "todo store")
		return
	}
	vars := mux.Vars(req)

	var body TodoStatusRequest
	if err := handlers.DecodeJSON(req, &body); err != nil {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeInvalidRequest, "invalid request body")
		return
	}

	res, err := r.todos.UpdateStatus(req.Context(), vars["id"], vars["todo"], body.Status)
	if err != nil {
		r.sendDomainError(w, err)
		return
	}
	handlers.SendJSON(w, http.StatusOK, res)
}

// HandleClearTodos removes a session's todo list.
// DELETE /api/v1/sessions/{id}/todos
func (r *Router) HandleClearTodos(w http.ResponseWriter, req *http.Request) {
	if r.todos == nil {
		unavailable(w, "todo store")
		return
	}
	sessionID := mux.Vars(req)["id"]

	if err := r.todos.Clear(req.Context(), sessionID); err != nil {
		r.sendDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) sendTodos(w http.ResponseWriter, sessionID string, list []todo.Todo) {
	if list == nil {
		list = []todo.Todo{}
	}
	handlers.SendJSON(w, http.StatusOK, TodosResponse{
		SessionID: sessionID,
		Todos:     list,
		Counts:    todo.Summarize(list),
		Limit:     r.todos.Limit(),
	})
}
