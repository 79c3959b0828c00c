package v1

import (
	"net/http"

	"conduit/internal/gateway/handlers"
	"conduit/internal/tools"
)

// HandleListTools returns the tools offered to the model.
// GET /api/v1/tools
func (r *Router) HandleListTools(w http.ResponseWriter, req *http.Request) {
	if r.tools == nil {
		handlers.SendJSON(w, http.StatusOK, ToolsListResponse{Tools: []tools.Definition{}})
		return
	}
	defs := r.tools.Definitions()
	handlers.SendJSON(w, http.StatusOK, ToolsListResponse{Tools: defs, Count: len(defs)})
}
