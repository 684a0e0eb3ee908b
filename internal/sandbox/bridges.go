package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dop251/goja"

	"github.com/buremba/capsulegate/internal/policy"
	"github.com/buremba/capsulegate/internal/vfs"
)

// installConsole wires console.{log,info,warn,error} to the run's
// stdout/stderr buffers with string-join-and-newline semantics (spec §4.5).
func installConsole(vm *goja.Runtime, stdout, stderr *boundedBuffer) error {
	console := vm.NewObject()
	logTo := func(buf *boundedBuffer) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = a.String()
			}
			line := strings.Join(parts, " ") + "\n"
			if err := buf.Write([]byte(line)); err != nil {
				panic(vm.ToValue(err.Error()))
			}
			return goja.Undefined()
		}
	}
	for _, name := range []string{"log", "info"} {
		if err := console.Set(name, logTo(stdout)); err != nil {
			return err
		}
	}
	for _, name := range []string{"warn", "error"} {
		if err := console.Set(name, logTo(stderr)); err != nil {
			return err
		}
	}
	return vm.Set("console", console)
}

// installStdin exposes the run's stdin text as a plain global string, the
// way console is a plain global object: guest code reads it directly
// rather than through a stream (spec §4.5 stdin is a single fixed string
// per run, not a pipe).
func installStdin(vm *goja.Runtime, stdin string) error {
	return vm.Set("stdin", stdin)
}

// installVFS exposes low-level __vfs_* host bridges plus a high-level
// fs.{read,write,readdir,mkdir,exists,stat} JS object whose methods each
// return an already-resolved Promise (the underlying VFS calls are
// synchronous Go calls; the Promise wrapping exists only so guest code can
// use idiomatic `await fs.read(...)`).
func installVFS(vm *goja.Runtime, fsys *vfs.FS, fsEnforcer *policy.FilesystemEnforcer) error {
	resolved := func(value interface{}, err error) goja.Value {
		promise, resolve, reject := vm.NewPromise()
		if err != nil {
			reject(err.Error())
		} else {
			resolve(value)
		}
		return vm.ToValue(promise)
	}

	if err := vm.Set("__vfs_read", func(path string, maxBytes int64) goja.Value {
		if err := fsEnforcer.CheckRead(path); err != nil {
			return resolved(nil, err)
		}
		data, err := fsys.ReadFile(path, vfs.ReadOptions{MaxBytes: maxBytes})
		if err != nil {
			return resolved(nil, err)
		}
		return resolved(string(data), nil)
	}); err != nil {
		return err
	}

	if err := vm.Set("__vfs_write", func(path, data, mode string) goja.Value {
		if err := fsEnforcer.CheckWrite(path); err != nil {
			return resolved(nil, err)
		}
		err := fsys.WriteFile(path, []byte(data), parseWriteMode(mode))
		return resolved(true, err)
	}); err != nil {
		return err
	}

	if err := vm.Set("__vfs_readdir", func(path string) goja.Value {
		if err := fsEnforcer.CheckRead(path); err != nil {
			return resolved(nil, err)
		}
		entries, err := fsys.Readdir(path)
		if err != nil {
			return resolved(nil, err)
		}
		return resolved(entries, nil)
	}); err != nil {
		return err
	}

	if err := vm.Set("__vfs_mkdir", func(path string) goja.Value {
		if err := fsEnforcer.CheckWrite(path); err != nil {
			return resolved(nil, err)
		}
		return resolved(true, fsys.Mkdir(path))
	}); err != nil {
		return err
	}

	if err := vm.Set("__vfs_exists", func(path string) goja.Value {
		if err := fsEnforcer.CheckRead(path); err != nil {
			return resolved(false, nil)
		}
		return resolved(fsys.Exists(path), nil)
	}); err != nil {
		return err
	}

	if err := vm.Set("__vfs_stat", func(path string) goja.Value {
		if err := fsEnforcer.CheckRead(path); err != nil {
			return resolved(nil, err)
		}
		st, err := fsys.Stat(path)
		if err != nil {
			return resolved(nil, err)
		}
		return resolved(st, nil)
	}); err != nil {
		return err
	}

	_, err := vm.RunString(fsBootstrap)
	return err
}

func parseWriteMode(mode string) vfs.WriteMode {
	switch mode {
	case "create":
		return vfs.WriteCreate
	case "append":
		return vfs.WriteAppend
	default:
		return vfs.WriteOverwrite
	}
}

const fsBootstrap = `
globalThis.fs = {
  read: function(path, opts) { return __vfs_read(path, (opts && opts.maxBytes) || 0); },
  write: function(path, data, opts) { return __vfs_write(path, data, (opts && opts.mode) || "overwrite"); },
  appendFile: function(path, data) { return __vfs_write(path, data, "append"); },
  readdir: function(path) { return __vfs_readdir(path); },
  mkdir: function(path) { return __vfs_mkdir(path); },
  exists: function(path) { return __vfs_exists(path); },
  stat: function(path) { return __vfs_stat(path); },
};
`

// installFetch exposes a guarded fetch(url, init?) that pre-flight checks
// the target against the network enforcer, performs the request with
// manual redirect handling (re-checking each hop), and enforces the
// configured body-size and redirect-count limits (spec §4.5).
func installFetch(vm *goja.Runtime, net policy.Network) error {
	enforcer := policy.NewNetworkEnforcer(net)
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= net.MaxRedirects {
				return fmt.Errorf("too many redirects")
			}
			if err := enforcer.CheckURL(req.URL.String()); err != nil {
				return err
			}
			return nil
		},
	}

	return vm.Set("fetch", func(call goja.FunctionCall) goja.Value {
		promise, resolve, reject := vm.NewPromise()
		url := call.Argument(0).String()

		if err := enforcer.CheckURL(url); err != nil {
			reject(err.Error())
			return vm.ToValue(promise)
		}

		method := "GET"
		var bodyReader io.Reader
		if len(call.Arguments) > 1 {
			init := call.Argument(1).ToObject(vm)
			if m := init.Get("method"); m != nil && m != goja.Undefined() {
				method = m.String()
			}
			if b := init.Get("body"); b != nil && b != goja.Undefined() {
				bodyReader = strings.NewReader(b.String())
			}
		}

		req, err := http.NewRequest(method, url, bodyReader)
		if err != nil {
			reject(err.Error())
			return vm.ToValue(promise)
		}
		resp, err := client.Do(req)
		if err != nil {
			reject(err.Error())
			return vm.ToValue(promise)
		}
		defer resp.Body.Close()

		limited := io.LimitReader(resp.Body, net.MaxBodyBytes+1)
		data, err := io.ReadAll(limited)
		if err != nil {
			reject(err.Error())
			return vm.ToValue(promise)
		}
		if int64(len(data)) > net.MaxBodyBytes {
			reject(fmt.Sprintf("response exceeded %d bytes", net.MaxBodyBytes))
			return vm.ToValue(promise)
		}

		result := vm.NewObject()
		_ = result.Set("status", resp.StatusCode)
		_ = result.Set("ok", resp.StatusCode >= 200 && resp.StatusCode < 300)
		_ = result.Set("text", func(goja.FunctionCall) goja.Value {
			p2, res2, _ := vm.NewPromise()
			res2(string(data))
			return vm.ToValue(p2)
		})
		_ = result.Set("json", func(goja.FunctionCall) goja.Value {
			p2, res2, rej2 := vm.NewPromise()
			var v interface{}
			if err := json.Unmarshal(data, &v); err != nil {
				rej2(err.Error())
			} else {
				res2(v)
			}
			return vm.ToValue(p2)
		})
		resolve(result)
		return vm.ToValue(promise)
	})
}

// installMCPProxies exposes one global object per configured upstream
// name, each routing property-style calls through __mcp_call into the
// upstream manager's CallTool (spec §4.5).
func installMCPProxies(ctx context.Context, vm *goja.Runtime, callers map[string]MCPCaller) error {
	if err := vm.Set("__mcp_call", func(mcpName, toolName string, params map[string]interface{}) goja.Value {
		promise, resolve, reject := vm.NewPromise()
		caller, ok := callers[mcpName]
		if !ok {
			reject(fmt.Sprintf("unknown mcp %q", mcpName))
			return vm.ToValue(promise)
		}
		result, err := caller.CallTool(ctx, mcpName, toolName, params)
		if err != nil {
			reject(err.Error())
			return vm.ToValue(promise)
		}
		resolve(result)
		return vm.ToValue(promise)
	}); err != nil {
		return err
	}

	var sb strings.Builder
	for name := range callers {
		fmt.Fprintf(&sb, `globalThis[%q] = new Proxy({}, { get(_t, prop) { return function(params) { return __mcp_call(%q, String(prop), params || {}); }; } });`+"\n", name, name)
	}
	if sb.Len() == 0 {
		return nil
	}
	_, err := vm.RunString(sb.String())
	return err
}
