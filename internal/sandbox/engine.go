package sandbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"

	"github.com/buremba/capsulegate/internal/gwerr"
	"github.com/buremba/capsulegate/internal/policy"
)

// Engine executes capsule runs. It holds no state between runs: every
// Execute call builds a fresh goja.Runtime and discards it on return, per
// the isolation invariant in spec §4.5.
type Engine struct{}

func New() *Engine { return &Engine{} }

// Execute runs req.Source to completion (or to a resource-limit abort) and
// returns the exit code, last expression value, and captured output.
func (e *Engine) Execute(ctx context.Context, req Request) (Result, error) {
	stdoutLimit := req.Policy.Limits.StdoutBytes
	stderrLimit := 2 * stdoutLimit

	var result Result
	stdout := newBoundedBuffer(stdoutLimit, req.OnStdout)
	stderr := newBoundedBuffer(stderrLimit, req.OnStderr)

	vm := goja.New()

	if err := installConsole(vm, stdout, stderr); err != nil {
		return result, fmt.Errorf("sandbox: install console: %w", err)
	}
	if err := installStdin(vm, req.Stdin); err != nil {
		return result, fmt.Errorf("sandbox: install stdin: %w", err)
	}
	if req.VFS != nil {
		fsEnforcer := policy.NewFilesystemEnforcer(req.Policy.Filesystem)
		if err := installVFS(vm, req.VFS, fsEnforcer); err != nil {
			return result, fmt.Errorf("sandbox: install vfs: %w", err)
		}
	}
	if !req.Policy.Network.IsZero() {
		if err := installFetch(vm, req.Policy.Network); err != nil {
			return result, fmt.Errorf("sandbox: install fetch: %w", err)
		}
	}
	if len(req.MCP) > 0 {
		if err := installMCPProxies(ctx, vm, req.MCP); err != nil {
			return result, fmt.Errorf("sandbox: install mcp proxies: %w", err)
		}
	}

	wd := startWatchdog(vm, req.Policy.Limits.TimeoutMs, req.Policy.Limits.MemMb)
	_, runErr := vm.RunString(entryWrapper(req.Source))
	wd.stop()

	result.Stdout = stdout.Bytes()
	result.Stderr = stderr.Bytes()

	if runErr != nil {
		return finishOnError(result, stderr, runErr)
	}

	if done, _ := vm.RunString("globalThis.__capsule_done"); done != nil && done.ToBoolean() {
		if guestErr, _ := vm.RunString("globalThis.__capsule_error"); guestErr != nil && guestErr != goja.Undefined() && guestErr != goja.Null() {
			_ = stderr.Write([]byte(guestErr.String() + "\n"))
			result.Stderr = stderr.Bytes()
			result.ExitCode = ExitError
			return result, nil
		}
	}

	if last, _ := vm.RunString("globalThis.__capsule_last"); last != nil && last != goja.Undefined() {
		result.HasValue = true
		result.LastValue = stringifyLastValue(vm, last)
	}
	result.ExitCode = ExitOK
	return result, nil
}

func finishOnError(result Result, stderr *boundedBuffer, runErr error) (Result, error) {
	var interrupted *goja.InterruptedError
	if errors.As(runErr, &interrupted) {
		reason := fmt.Sprint(interrupted.Value())
		switch reason {
		case interruptReasonTimeout:
			_ = stderr.Write([]byte("execution timeout exceeded\n"))
			result.ExitCode = ExitTimeout
		case interruptReasonMemory:
			_ = stderr.Write([]byte("memory limit exceeded\n"))
			result.ExitCode = ExitOOM
		default:
			_ = stderr.Write([]byte(reason + "\n"))
			result.ExitCode = ExitError
		}
		result.Stderr = stderr.Bytes()
		return result, nil
	}

	if gwErr, ok := gwerr.As(runErr); ok && gwErr.Kind == gwerr.OutputLimitExceeded {
		result.ExitCode = ExitError
		return result, runErr
	}

	_ = stderr.Write([]byte(runErr.Error() + "\n"))
	result.Stderr = stderr.Bytes()
	result.ExitCode = ExitError
	return result, nil
}

// stringifyLastValue renders a completion value per spec §4.5: objects and
// arrays are JSON-serialized, primitives are stringified directly.
func stringifyLastValue(vm *goja.Runtime, v goja.Value) string {
	switch v.ExportType() {
	case nil:
		return v.String()
	default:
	}
	o := v.ToObject(vm)
	if o == nil {
		return v.String()
	}
	switch o.ClassName() {
	case "Object", "Array":
		jsonStringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
		if !ok {
			return v.String()
		}
		out, err := jsonStringify(goja.Undefined(), v)
		if err != nil {
			return v.String()
		}
		return out.String()
	default:
		return v.String()
	}
}
