package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"conduit/internal/approval"
	"conduit/internal/gateway/handlers"
	"conduit/internal/storage"
)

const defaultHistoryLimit = 50

// HandleListApprovals lists pending requests, optionally for one session.
// GET /api/v1/approvals?session=&history=true&limit=
func (r *Router) HandleListApprovals(w http.ResponseWriter, req *http.Request) {
	if r.gate == nil {
		unavailable(w, "approval gate")
		return
	}
	q := req.URL.Query()
	sessionID := q.Get("session")

	pending := r.gate.ListPending(sessionID)
	if pending == nil {
		pending = []*approval.Request{}
	}
	resp := ApprovalListResponse{Pending: pending, Count: len(pending)}

	if q.Get("history") == "true" && r.db != nil {
		limit := defaultHistoryLimit
		if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
			limit = v
		}
		history, err := r.db.ListApprovals(sessionID, limit)
		if err != nil {
			r.sendDomainError(w, err)
			return
		}
		resp.History = history
	}

	handlers.SendJSON(w, http.StatusOK, resp)
}

// HandleGetApproval returns a request and its decision. Requests no longer
// remembered by the gate are looked up in storage.
// GET /api/v1/approvals/{id}
func (r *Router) HandleGetApproval(w http.ResponseWriter, req *http.Request) {
	if r.gate == nil {
		unavailable(w, "approval gate")
		return
	}
	id := mux.Vars(req)["id"]

	if pending, ok := r.gate.Get(id); ok {
		if res, settled := r.gate.Decision(id); settled {
			handlers.SendJSON(w, http.StatusOK, ApprovalResponse{Request: pending, Result: res})
			return
		}
		handlers.SendJSON(w, http.StatusOK, ApprovalResponse{Request: pending, Pending: true})
		return
	}

	if r.db != nil {
		rec, err := r.db.GetApproval(id)
		if err == nil {
			handlers.SendJSON(w, http.StatusOK, ApprovalResponse{
				Request: &rec.Request,
				Result:  rec.Result,
				Pending: rec.Result == nil,
			})
			return
		}
		if !errors.Is(err, storage.ErrNotFound) {
			r.sendDomainError(w, err)
			return
		}
	}

	if res, ok := r.gate.Decision(id); ok {
		handlers.SendJSON(w, http.StatusOK, ApprovalResponse{
			Request: &approval.Request{ID: res.RequestID, SessionID: res.SessionID},
			Result:  res,
		})
		return
	}
	r.sendDomainError(w, approval.ErrRequestNotFound)
}

// HandleResolveApproval submits a decision. Only the first decision for a
// request wins; later ones get 409.
// POST /api/v1/approvals/{id}
func (r *Router) HandleResolveApproval(w http.ResponseWriter, req *http.Request) {
	if r.gate == nil {
		unavailable(w, "approval gate")
		return
	}
	id := mux.Vars(req)["id"]

	var body ResolveRequest
	if err := handlers.DecodeJSON(req, &body); err != nil {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeInvalidRequest, "invalid request body")
		return
	}
	decision, err := approval.ParseDecision(body.Decision)
	if err != nil {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeValidationFailed,
			"decision must be approved or denied")
		return
	}

	by := body.By
	if by == "" {
		by = "api"
	}
	opts := []approval.ResolveOption{approval.By(by)}
	if body.Note != "" {
		opts = append(opts, approval.WithNote(body.Note))
	}
	if body.SessionID != "" {
		opts = append(opts, approval.InSession(body.SessionID))
	}

	if err := r.gate.Resolve(id, decision, opts...); err != nil {
		r.sendDomainError(w, err)
		return
	}

	r.log.Info().Str("request_id", id).Str("decision", string(decision)).Str("by", by).Msg("approval resolved via api")
	handlers.SendJSON(w, http.StatusOK, ResolveResponse{RequestID: id, Decision: decision})
}
