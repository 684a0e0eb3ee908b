package mcpupstream

import (
	"context"
	"encoding/json"
	"fmt"
)

type conn interface {
	call(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
}

// Manager holds one connection per configured upstream and implements the
// callTool/listTools contract (spec §4.6). It satisfies sandbox.MCPCaller.
type Manager struct {
	conns map[string]conn
}

func NewManager(upstreams []UpstreamConfig) *Manager {
	m := &Manager{conns: make(map[string]conn, len(upstreams))}
	for _, u := range upstreams {
		switch u.Transport {
		case TransportStdio:
			m.conns[u.Name] = newStdioConn(u)
		case TransportHTTP:
			m.conns[u.Name] = newHTTPConn(u)
		}
	}
	return m
}

func (m *Manager) get(name string) (conn, error) {
	c, ok := m.conns[name]
	if !ok {
		return nil, fmt.Errorf("mcpupstream: unknown upstream %q", name)
	}
	return c, nil
}

// CallTool invokes tools/call on the named upstream and returns the
// decoded result field, or an error carrying the upstream's reported
// message.
func (m *Manager) CallTool(ctx context.Context, mcpName, toolName string, params map[string]interface{}) (interface{}, error) {
	c, err := m.get(mcpName)
	if err != nil {
		return nil, err
	}
	raw, err := c.call(ctx, "tools/call", map[string]interface{}{"name": toolName, "arguments": params})
	if err != nil {
		return nil, err
	}
	var result interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("mcpupstream: decode result from %q: %w", mcpName, err)
		}
	}
	return result, nil
}

// ListTools returns the named upstream's advertised tools list.
func (m *Manager) ListTools(ctx context.Context, mcpName string) (interface{}, error) {
	c, err := m.get(mcpName)
	if err != nil {
		return nil, err
	}
	raw, err := c.call(ctx, "tools/list", map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	var result interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("mcpupstream: decode tools list from %q: %w", mcpName, err)
		}
	}
	return result, nil
}

// Shutdown terminates every stdio upstream child, force-killing after the
// grace window (spec §4.6).
func (m *Manager) Shutdown() {
	for _, c := range m.conns {
		if sc, ok := c.(*stdioConn); ok {
			sc.shutdown()
		}
	}
}
