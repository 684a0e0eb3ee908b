package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/buremba/capsulegate/internal/capsule"
	"github.com/buremba/capsulegate/internal/gwerr"
	"github.com/buremba/capsulegate/internal/policy"
	"github.com/buremba/capsulegate/internal/redact"
	"github.com/buremba/capsulegate/internal/sandbox"
	"github.com/buremba/capsulegate/internal/session"
	"github.com/buremba/capsulegate/internal/vfs"
	"github.com/google/uuid"
)

// runTool builds a capsule from the run_js arguments, then either routes
// it to an attached browser executor or runs it locally (spec §4.7
// Routing): if any session has a browser attached, dispatch; otherwise
// fall back to the embedded sandbox.
func (s *Server) runTool(ctx context.Context, args map[string]interface{}) (CallToolResult, error) {
	req, err := buildRequestFromArgs(args)
	if err != nil {
		return CallToolResult{}, err
	}

	built, err := s.builder.Build(req)
	if err != nil {
		return CallToolResult{}, err
	}
	s.metrics.RecordCapsuleBuild(built.CacheHit)

	start := time.Now()
	if sess, ok := s.dispatcher.AnyAttached(); ok {
		result, err := s.runViaBrowser(sess, built)
		s.metrics.RecordRunDuration("browser", outcomeLabel(err), time.Since(start).Seconds())
		return result, err
	}

	result, err := s.runLocally(ctx, built)
	s.metrics.RecordRunDuration("local", outcomeLabel(err), time.Since(start).Seconds())
	return result, err
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func buildRequestFromArgs(args map[string]interface{}) (capsule.BuildRequest, error) {
	code, _ := args["code"].(string)
	if code == "" {
		return capsule.BuildRequest{}, gwerr.New(gwerr.Validation, "code is required")
	}

	req := capsule.BuildRequest{Code: code, Language: capsule.LanguageJS}
	if stdin, ok := args["stdin"].(string); ok {
		req.Stdin = stdin
	}
	if cwd, ok := args["cwd"].(string); ok {
		req.Cwd = cwd
	}
	if rawArgs, ok := args["args"].([]interface{}); ok {
		for _, a := range rawArgs {
			if s, ok := a.(string); ok {
				req.Args = append(req.Args, s)
			}
		}
	}
	if rawEnv, ok := args["env"].(map[string]interface{}); ok {
		req.Env = make(map[string]string, len(rawEnv))
		for k, v := range rawEnv {
			if s, ok := v.(string); ok {
				req.Env[k] = s
			}
		}
	}
	if rawPolicy, ok := args["policy"]; ok {
		data, err := json.Marshal(rawPolicy)
		if err != nil {
			return capsule.BuildRequest{}, gwerr.Wrap(gwerr.Validation, err)
		}
		var p policy.Policy
		if err := json.Unmarshal(data, &p); err != nil {
			return capsule.BuildRequest{}, gwerr.New(gwerr.Validation, "invalid policy override: %v", err)
		}
		req.Policy = &p
	}
	return req, nil
}

// runLocally unzips the code layer and runs it through the embedded
// sandbox engine (spec §4.5).
func (s *Server) runLocally(ctx context.Context, built capsule.BuildResult) (CallToolResult, error) {
	source, err := s.cache.ReadEntrySource(built.Hash)
	if err != nil {
		return CallToolResult{}, gwerr.Wrap(gwerr.Internal, err)
	}

	stdin, err := s.cache.ReadStdin(built.Hash)
	if err != nil {
		return CallToolResult{}, gwerr.Wrap(gwerr.Internal, err)
	}

	if err := s.materializeMounts(built); err != nil {
		return CallToolResult{}, gwerr.Wrap(gwerr.Internal, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(built.Manifest.Policy.Limits.TimeoutMs)*time.Millisecond)
	defer cancel()

	mcpCallers := make(map[string]sandbox.MCPCaller, len(s.cfg.MCPs))
	for _, u := range s.cfg.MCPs {
		mcpCallers[u.Name] = s.upstreams
	}

	result, err := s.engine.Execute(runCtx, sandbox.Request{
		Source: source,
		Stdin:  stdin,
		Args:   built.Manifest.Entry.Argv,
		Env:    built.Manifest.Entry.Env,
		Policy: built.Manifest.Policy,
		VFS:    s.vfsRoot,
		MCP:    mcpCallers,
	})
	if err != nil {
		return CallToolResult{}, gwerr.Wrap(gwerr.Internal, err)
	}

	text := string(result.Stdout)
	if result.HasValue {
		if text != "" {
			text += "\n"
		}
		text += result.LastValue
	}
	if result.ExitCode != sandbox.ExitOK && len(result.Stderr) > 0 {
		text = string(result.Stderr)
	}
	text, _ = redact.Text(text)
	return newTextResult(text, result.ExitCode != sandbox.ExitOK), nil
}

// materializeMounts extracts every declared mount layer onto the shared
// sandbox VFS at its target path so the local runtime sees the same
// filesystem a browser-routed run gets by downloading the layer ZIPs
// directly (spec Glossary, §3, §4.4 step 4). Layers are content-addressed
// by hash, so a target already present is assumed already materialized and
// is skipped.
func (s *Server) materializeMounts(built capsule.BuildResult) error {
	for _, l := range built.Manifest.FSLayers {
		if l.Path == capsule.CodeLayerFile {
			continue
		}
		if s.vfsRoot.Exists(l.Target) {
			continue
		}
		err := s.cache.ExtractLayer(built.Hash, l.Path, l.Target, func(guestPath string, data []byte) error {
			return s.vfsRoot.WriteFile(guestPath, data, vfs.WriteOverwrite)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// runViaBrowser pushes a capsule command to the attached session and polls
// the backchannel for the terminal event (spec §4.7 Routing).
func (s *Server) runViaBrowser(sess *session.Session, built capsule.BuildResult) (CallToolResult, error) {
	runID := uuid.NewString()
	cmd := session.Command{
		Type:        "capsule",
		RunID:       runID,
		ManifestURL: fmt.Sprintf("/capsules/%s/%s", built.Hash, capsule.ManifestFile),
		CodeURL:     fmt.Sprintf("/capsules/%s/%s", built.Hash, capsule.CodeLayerFile),
	}
	for _, l := range built.Manifest.FSLayers {
		if l.Path == capsule.CodeLayerFile {
			continue
		}
		cmd.LayerURLs = append(cmd.LayerURLs, fmt.Sprintf("/capsules/%s/%s", built.Hash, l.Path))
	}

	if err := s.dispatcher.SendCommand(sess.ID, cmd); err != nil {
		return CallToolResult{}, gwerr.Wrap(gwerr.NoExecutorAttached, err)
	}

	timeout := time.Duration(built.Manifest.Policy.Limits.TimeoutMs) * time.Millisecond
	events, err := s.dispatcher.AwaitTerminal(sess.ID, runID, timeout)
	if err != nil {
		return CallToolResult{}, err
	}
	return coalesceEvents(events), nil
}

// coalesceEvents assembles the per-run FIFO event stream into a single
// tool result (spec §4.7 Routing: "coalesces stdout/stderr chunks").
func coalesceEvents(events []session.ResultEvent) CallToolResult {
	var stdout, stderr string
	var exitCode int
	var lastValue string
	var hasValue bool
	isError := false

	for _, ev := range events {
		switch ev.Type {
		case "stdout":
			stdout += ev.Data
		case "stderr":
			stderr += ev.Data
		case "exit":
			exitCode = ev.ExitCode
			lastValue = ev.LastValue
			hasValue = ev.HasValue
		case "error":
			isError = true
			stderr += ev.Message
		}
	}

	text := stdout
	if hasValue {
		if text != "" {
			text += "\n"
		}
		text += lastValue
	}
	if exitCode != 0 || isError {
		if stderr != "" {
			text = stderr
		}
		isError = true
	}
	text, _ = redact.Text(text)
	return newTextResult(text, isError)
}
