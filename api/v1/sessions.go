package v1

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"conduit/internal/approval"
	"conduit/internal/gateway/handlers"
	"conduit/internal/queue"
)

// HandleEnqueue queues input for a session. A busy session coalesces it
// into its next turn.
// POST /api/v1/sessions/{id}/messages
func (r *Router) HandleEnqueue(w http.ResponseWriter, req *http.Request) {
	if r.runner == nil {
		unavailable(w, "runner")
		return
	}
	sessionID := mux.Vars(req)["id"]

	var body EnqueueRequest
	if err := handlers.DecodeJSON(req, &body); err != nil {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeInvalidRequest, "invalid request body")
		return
	}

	parts := body.Parts
	if strings.TrimSpace(body.Text) != "" {
		parts = append([]queue.Part{queue.TextPart(body.Text)}, parts...)
	}
	if len(parts) == 0 {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeValidationFailed, "text or parts is required")
		return
	}
	kind := body.Kind
	if kind == "" {
		kind = queue.KindDefault
	}

	busy := r.runner.Busy(sessionID)
	msg, err := r.runner.Enqueue(sessionID, parts, kind, body.Metadata)
	if err != nil {
		r.sendDomainError(w, err)
		return
	}

	handlers.SendJSON(w, http.StatusAccepted, EnqueueResponse{
		MessageID: msg.ID,
		SessionID: msg.SessionID,
		QueuedAt:  msg.QueuedAt,
		Busy:      busy,
	})
}

// HandleGetSession returns a session's task state, pending approvals and history.
// GET /api/v1/sessions/{id}
func (r *Router) HandleGetSession(w http.ResponseWriter, req *http.Request) {
	if r.runner == nil {
		unavailable(w, "runner")
		return
	}
	sessionID := mux.Vars(req)["id"]

	resp := SessionResponse{
		SessionID: sessionID,
		Busy:      r.runner.Busy(sessionID),
		History:   r.runner.History(sessionID),
		Pending:   []*approval.Request{},
	}
	if r.tracker != nil {
		resp.Task = r.tracker.Status(sessionID)
	}
	if r.gate != nil {
		resp.Pending = r.gate.ListPending(sessionID)
	}
	handlers.SendJSON(w, http.StatusOK, resp)
}

// HandleCloseSession cancels a session's turn and pending approvals and
// drops its queued input.
// DELETE /api/v1/sessions/{id}
func (r *Router) HandleCloseSession(w http.ResponseWriter, req *http.Request) {
	if r.runner == nil {
		unavailable(w, "runner")
		return
	}
	sessionID := mux.Vars(req)["id"]

	canceled := r.runner.CloseSession(sessionID)
	handlers.SendJSON(w, http.StatusOK, CloseSessionResponse{
		SessionID:         sessionID,
		ApprovalsCanceled: canceled,
	})
}

// HandleGetTask returns the protocol task status of a session.
// GET /api/v1/sessions/{id}/task
func (r *Router) HandleGetTask(w http.ResponseWriter, req *http.Request) {
	if r.tracker == nil {
		unavailable(w, "task tracker")
		return
	}
	handlers.SendJSON(w, http.StatusOK, r.tracker.Status(mux.Vars(req)["id"]))
}
