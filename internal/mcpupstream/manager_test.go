package mcpupstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManagerUnknownUpstreamErrors(t *testing.T) {
	m := NewManager(nil)
	_, err := m.CallTool(context.Background(), "missing", "tool", nil)
	require.Error(t, err)
}

func TestHTTPTransportCallTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "tools/call", req.Method)
		resp := Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"ok":true}`)}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	m := NewManager([]UpstreamConfig{{Name: "demo", Transport: TransportHTTP, Endpoint: srv.URL}})
	result, err := m.CallTool(context.Background(), "demo", "echo", map[string]interface{}{"x": 1})
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"ok": true}, result)
}

func TestHTTPTransportSurfacesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := Response{JSONRPC: "2.0", ID: 1, Error: &RPCError{Code: -32601, Message: "tool not found"}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	m := NewManager([]UpstreamConfig{{Name: "demo", Transport: TransportHTTP, Endpoint: srv.URL}})
	_, err := m.CallTool(context.Background(), "demo", "missing", nil)
	require.ErrorContains(t, err, "tool not found")
}

func TestListToolsHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "tools/list", req.Method)
		resp := Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`[{"name":"echo"}]`)}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	m := NewManager([]UpstreamConfig{{Name: "demo", Transport: TransportHTTP, Endpoint: srv.URL}})
	result, err := m.ListTools(context.Background(), "demo")
	require.NoError(t, err)
	require.Equal(t, []interface{}{map[string]interface{}{"name": "echo"}}, result)
}
