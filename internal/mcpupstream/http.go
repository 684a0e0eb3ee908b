package mcpupstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// httpConn is a stateless upstream: every call is a single POST carrying
// a JSON-RPC body (spec §4.6).
type httpConn struct {
	cfg    UpstreamConfig
	client *http.Client
	nextID int64
}

func newHTTPConn(cfg UpstreamConfig) *httpConn {
	return &httpConn{cfg: cfg, client: &http.Client{Timeout: stdioRequestTimeout}}
}

func (c *httpConn) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	body, err := json.Marshal(Request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("mcpupstream: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("mcpupstream: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcpupstream: %q request failed after %s: %w", c.cfg.Name, time.Since(start), err)
	}
	defer resp.Body.Close()

	var decoded Response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("mcpupstream: decode %q response: %w", c.cfg.Name, err)
	}
	if decoded.Error != nil {
		return nil, decoded.Error
	}
	return decoded.Result, nil
}
