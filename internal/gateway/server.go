// Package gateway implements the JSON-RPC-over-HTTP surface (SPEC_FULL.md
// component H / spec §4.8): /mcp, the session SSE/backchannel endpoints,
// capsule file serving, the MCP upstream proxy, and /metrics.
package gateway

import (
	"net/http"
	"time"

	"github.com/buremba/capsulegate/internal/capsule"
	"github.com/buremba/capsulegate/internal/gwconfig"
	"github.com/buremba/capsulegate/internal/mcpupstream"
	"github.com/buremba/capsulegate/internal/sandbox"
	"github.com/buremba/capsulegate/internal/session"
	"github.com/buremba/capsulegate/internal/signer"
	"github.com/buremba/capsulegate/internal/vfs"
)

// ProtocolVersion is the MCP protocol version this gateway implements.
const ProtocolVersion = "2024-11-05"

// ServerName/ServerVersion identify this gateway in initialize responses,
// matching tools.ServerVersion's role in the teacher's MCP tool package.
const ServerName = "capsulegate"
const ServerVersion = "0.1.0"

// Server wires together every gateway component: the capsule builder, the
// embedded sandbox engine, the MCP upstream manager, and the session
// dispatcher.
type Server struct {
	cfg *gwconfig.Config

	builder    *capsule.Builder
	cache      *capsule.Cache
	engine     *sandbox.Engine
	upstreams  *mcpupstream.Manager
	dispatcher *session.Dispatcher
	signer     *signer.Signer
	vfsRoot    *vfs.FS
	metrics    *Metrics

	mux *http.ServeMux
}

// New constructs a Server ready to be handed to http.Server as its Handler.
func New(cfg *gwconfig.Config, builder *capsule.Builder, cache *capsule.Cache, sg *signer.Signer, root *vfs.FS) (*Server, error) {
	upstreams := mcpupstream.NewManager(cfg.MCPs)
	dispatcher := session.NewDispatcher(sg, time.Duration(cfg.SessionTTLMs)*time.Millisecond)

	s := &Server{
		cfg:        cfg,
		builder:    builder,
		cache:      cache,
		engine:     sandbox.New(),
		upstreams:  upstreams,
		dispatcher: dispatcher,
		signer:     sg,
		vfsRoot:    root,
		metrics:    GetMetrics(),
	}
	s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Shutdown tears down the MCP upstream manager and session dispatcher.
func (s *Server) Shutdown() {
	s.dispatcher.Shutdown(5000)
	s.upstreams.Shutdown()
}

func (s *Server) routes() {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /mcp", s.withCORS(s.handleMCP))
	mux.HandleFunc("OPTIONS /mcp", s.withCORS(func(w http.ResponseWriter, r *http.Request) {}))

	mux.HandleFunc("POST /session", s.withCORS(s.handleCreateSession))
	mux.HandleFunc("GET /session/{id}/events", s.withCORS(s.handleSessionEvents))
	mux.HandleFunc("POST /session/{id}/result", s.withCORS(s.handleSessionResult))

	mux.HandleFunc("GET /capsules/{hash}/{file}", s.withCORS(s.handleCapsuleFile))

	mux.HandleFunc("POST /mcps-rpc", s.withCORS(s.handleMCPsRPC))
	mux.HandleFunc("GET /mcps/{name}/tools", s.withCORS(s.handleMCPsTools))

	mux.Handle("GET /metrics", metricsHandler())

	s.mux = mux
}
