// Package sandbox embeds a JavaScript engine (goja) and executes a single
// capsule run to completion: it injects console, VFS, guarded fetch, and
// MCP proxy bridges, enforces wall-clock and memory limits, and reports
// the exit code and last expression value.
package sandbox

import (
	"context"

	"github.com/buremba/capsulegate/internal/policy"
	"github.com/buremba/capsulegate/internal/vfs"
)

// Exit codes, matching spec §4.5.
const (
	ExitOK      = 0
	ExitError   = 1
	ExitTimeout = 124
	ExitOOM     = 137
)

// MCPCaller is the subset of the upstream manager the sandbox's proxy
// bridge needs; kept as a narrow interface so sandbox never imports the
// manager's transport internals.
type MCPCaller interface {
	CallTool(ctx context.Context, mcpName, toolName string, params map[string]interface{}) (interface{}, error)
}

// StreamFunc receives one chunk of stdout or stderr as it is produced.
type StreamFunc func(chunk []byte)

// Request is everything one run needs.
type Request struct {
	Source       string // entry.js contents, already bundled
	Stdin        string
	Args         []string
	Env          map[string]string
	Policy       policy.Policy
	VFS          *vfs.FS // nil disables fs.*
	MCP          map[string]MCPCaller // name -> caller, nil disables MCP proxies
	OnStdout     StreamFunc
	OnStderr     StreamFunc
}

// Result is what a run produces.
type Result struct {
	ExitCode  int
	LastValue string
	HasValue  bool
	Stdout    []byte
	Stderr    []byte
}
