package mcpupstream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// stdioRequestTimeout is the default per-request deadline for the stdio
// transport (spec §4.6).
const stdioRequestTimeout = 30 * time.Second

// stdioShutdownGrace is how long a child process is given to exit after
// SIGTERM before it is force-killed (spec §4.6 shutdown).
const stdioShutdownGrace = 5 * time.Second

// stdioConn is one lazily-spawned child MCP server speaking newline
// delimited JSON-RPC over its stdin/stdout. Only the manager goroutine
// writes to stdin; a single reader goroutine owns stdout.
type stdioConn struct {
	mu      sync.Mutex
	cfg     UpstreamConfig
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	started bool
	ready   bool

	nextID   int64
	pending  map[int64]chan Response
	pendMu   sync.Mutex

	cancel context.CancelFunc
	// exited is closed by waitExit once cmd.Wait() returns. shutdown
	// synchronizes on this instead of calling cmd.Wait() itself, since
	// exec.Cmd.Wait may only be called once per process.
	exited chan struct{}
}

func newStdioConn(cfg UpstreamConfig) *stdioConn {
	return &stdioConn{cfg: cfg, pending: make(map[int64]chan Response)}
}

func (c *stdioConn) ensureStarted(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, c.cfg.Command, c.cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("mcpupstream: stdin pipe for %q: %w", c.cfg.Name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("mcpupstream: stdout pipe for %q: %w", c.cfg.Name, err)
	}
	cmd.Stderr = &logWriter{name: c.cfg.Name}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("mcpupstream: start %q: %w", c.cfg.Name, err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.cancel = cancel
	c.started = true
	c.ready = false
	c.exited = make(chan struct{})

	go c.readLoop(stdout)
	go c.waitExit()

	if err := c.handshake(ctx); err != nil {
		log.Warn().Err(err).Str("mcp", c.cfg.Name).Msg("initialize handshake failed, continuing anyway")
	} else {
		c.ready = true
	}
	return nil
}

func (c *stdioConn) handshake(ctx context.Context) error {
	_, err := c.call(ctx, "initialize", map[string]interface{}{})
	return err
}

func (c *stdioConn) readLoop(stdout io.ReadCloser) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var resp Response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			log.Warn().Err(err).Str("mcp", c.cfg.Name).Msg("malformed upstream frame")
			continue
		}
		c.pendMu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.pendMu.Unlock()
		if ok {
			ch <- resp
		}
	}
	c.rejectAllPending(fmt.Errorf("mcpupstream: %q stdout closed", c.cfg.Name))
}

func (c *stdioConn) waitExit() {
	_ = c.cmd.Wait()
	c.mu.Lock()
	c.started = false
	c.ready = false
	exited := c.exited
	c.mu.Unlock()
	close(exited)
	c.rejectAllPending(fmt.Errorf("mcpupstream: %q process exited", c.cfg.Name))
}

func (c *stdioConn) rejectAllPending(err error) {
	c.pendMu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan Response)
	c.pendMu.Unlock()
	for _, ch := range pending {
		ch <- Response{Error: &RPCError{Code: -32000, Message: err.Error()}}
	}
}

func (c *stdioConn) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if err := c.ensureStarted(ctx); err != nil {
		return nil, err
	}

	id := atomic.AddInt64(&c.nextID, 1)
	req := Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("mcpupstream: encode request: %w", err)
	}

	respCh := make(chan Response, 1)
	c.pendMu.Lock()
	c.pending[id] = respCh
	c.pendMu.Unlock()
	defer func() {
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
	}()

	c.mu.Lock()
	stdin := c.stdin
	c.mu.Unlock()
	if _, err := stdin.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("mcpupstream: write to %q: %w", c.cfg.Name, err)
	}

	timer := time.NewTimer(stdioRequestTimeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-timer.C:
		return nil, fmt.Errorf("mcpupstream: %q request %q timed out after %s", c.cfg.Name, method, stdioRequestTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// shutdown sends SIGTERM and force-kills after stdioShutdownGrace.
func (c *stdioConn) shutdown() {
	c.mu.Lock()
	cmd := c.cmd
	cancel := c.cancel
	started := c.started
	exited := c.exited
	c.mu.Unlock()
	if !started || cmd == nil || cmd.Process == nil {
		return
	}

	_ = cmd.Process.Signal(stdioTermSignal)

	select {
	case <-exited:
	case <-time.After(stdioShutdownGrace):
		_ = cmd.Process.Kill()
	}
	if cancel != nil {
		cancel()
	}
}

type logWriter struct{ name string }

func (w *logWriter) Write(p []byte) (int, error) {
	log.Debug().Str("mcp", w.name).Str("stderr", string(p)).Msg("upstream stderr")
	return len(p), nil
}
