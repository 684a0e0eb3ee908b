package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/buremba/capsulegate/internal/gwerr"
)

// mcpsRPCRequest is the body of POST /mcps-rpc, a direct proxy to a
// configured upstream's tools/call, bypassing the sandbox entirely (spec
// §4.6, for callers that want to invoke an MCP tool without running guest
// code).
type mcpsRPCRequest struct {
	MCP       string                 `json:"mcp"`
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

func (s *Server) handleMCPsRPC(w http.ResponseWriter, r *http.Request) {
	var req mcpsRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, gwerr.New(gwerr.Validation, "invalid request body: %v", err))
		return
	}
	if req.MCP == "" || req.Tool == "" {
		writeJSONError(w, http.StatusBadRequest, gwerr.New(gwerr.Validation, "mcp and tool are required"))
		return
	}

	result, err := s.upstreams.CallTool(r.Context(), req.MCP, req.Tool, req.Arguments)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, gwerr.Wrap(gwerr.Internal, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}

// handleMCPsTools implements GET /mcps/{name}/tools: the upstream's
// advertised tools list, for a client populating a picker before it ever
// calls run_js (spec §4.6).
func (s *Server) handleMCPsTools(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	result, err := s.upstreams.ListTools(r.Context(), name)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, gwerr.Wrap(gwerr.Internal, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": result})
}
