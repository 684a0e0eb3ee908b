package gateway

// toolSchemas returns the static tools/list schema (spec §4.8): run_js
// always, run_py only when the Python runtime is linked (it is not, in
// this build, so only run_js is advertised).
func (s *Server) toolSchemas() []Tool {
	codeProp := PropertySchema{Type: "string", Description: "source code to execute"}
	stdinProp := PropertySchema{Type: "string", Description: "text piped to stdin"}
	argsProp := PropertySchema{Type: "array", Description: "argv strings"}
	envProp := PropertySchema{Type: "object", Description: "environment variables"}
	cwdProp := PropertySchema{Type: "string", Description: "working directory inside the VFS"}
	policyProp := PropertySchema{Type: "object", Description: "client policy override, intersected with the server default"}

	runJS := Tool{
		Name:        "run_js",
		Description: "Execute JavaScript in the sandboxed capsule runtime",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]PropertySchema{
				"code":   codeProp,
				"stdin":  stdinProp,
				"args":   argsProp,
				"env":    envProp,
				"cwd":    cwdProp,
				"policy": policyProp,
			},
			Required: []string{"code"},
		},
	}
	return []Tool{runJS}
}
