package v1

import (
	"net/http"

	"conduit/internal/gateway/handlers"
	"conduit/internal/policy"
)

// HandleGetPolicy returns the active policy.
// GET /api/v1/policy
func (r *Router) HandleGetPolicy(w http.ResponseWriter, req *http.Request) {
	if r.policy == nil {
		unavailable(w, "policy")
		return
	}
	handlers.SendJSON(w, http.StatusOK, r.policy.Policy())
}

// HandlePolicyCheck evaluates a tool call against the active policy
// without running it.
// POST /api/v1/policy/check
func (r *Router) HandlePolicyCheck(w http.ResponseWriter, req *http.Request) {
	if r.policy == nil {
		unavailable(w, "policy")
		return
	}

	var body PolicyCheckRequest
	if err := handlers.DecodeJSON(req, &body); err != nil {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeInvalidRequest, "invalid request body")
		return
	}
	if body.Tool == "" {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeValidationFailed, "tool is required")
		return
	}

	res, err := r.policy.Check(req.Context(), &policy.ToolCall{
		Name:      body.Tool,
		SessionID: body.SessionID,
		Arguments: body.Arguments,
	})
	if err != nil {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeValidationFailed, err.Error())
		return
	}
	handlers.SendJSON(w, http.StatusOK, PolicyCheckResponse{Tool: body.Tool, Result: res})
}
