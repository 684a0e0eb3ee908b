package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// handleMCP implements POST /mcp: JSON-RPC dispatch for initialize,
// notifications/initialized, tools/list, and tools/call (spec §4.8).
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	var req RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, nil, errParse, "invalid JSON-RPC request")
		return
	}

	switch req.Method {
	case "initialize":
		writeRPCResult(w, req.ID, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities:    Capabilities{Tools: &ToolsCapability{}},
			ServerInfo:      ServerInfo{Name: ServerName, Version: ServerVersion},
		})
	case "notifications/initialized":
		// Accepted and ignored (spec §4.8); notifications carry no id.
		w.WriteHeader(http.StatusNoContent)
	case "tools/list":
		writeRPCResult(w, req.ID, ListToolsResult{Tools: s.toolSchemas()})
	case "tools/call":
		s.handleToolsCall(w, r, req)
	default:
		writeRPCError(w, req.ID, errMethodNotFound, "method not found: "+req.Method)
	}
}

func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request, req RPCRequest) {
	var params CallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeRPCError(w, req.ID, errInvalidParams, "invalid tools/call params: "+err.Error())
			return
		}
	}
	if params.Name != "run_js" {
		writeRPCError(w, req.ID, errInvalidParams, "unknown tool: "+params.Name)
		return
	}

	result, err := s.runTool(r.Context(), params.Arguments)
	if err != nil {
		log.Warn().Err(err).Str("tool", params.Name).Msg("gateway: tools/call failed")
		writeRPCResult(w, req.ID, newErrorResult(err))
		return
	}
	writeRPCResult(w, req.ID, result)
}

func writeRPCResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func writeRPCError(w http.ResponseWriter, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}})
}
