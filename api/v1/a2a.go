package v1

import (
	"net/http"

	"github.com/gorilla/mux"

	"conduit/internal/gateway/handlers"
	"conduit/internal/gateway/middleware"
)

// HandleA2ATask returns a session's task status for agent-to-agent peers,
// stamped with the negotiated protocol version.
// GET /a2a/sessions/{id}
func (r *Router) HandleA2ATask(w http.ResponseWriter, req *http.Request) {
	if r.tracker == nil {
		unavailable(w, "task tracker")
		return
	}

	version := ""
	if v := middleware.ProtocolVersionFrom(req.Context()); v != nil {
		version = v.String()
	} else if r.negotiator != nil {
		version = r.negotiator.Current().String()
	}

	handlers.SendJSON(w, http.StatusOK, TaskResponse{
		ProtocolVersion: version,
		TaskStatus:      r.tracker.Status(mux.Vars(req)["id"]),
	})
}
