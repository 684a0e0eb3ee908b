package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buremba/capsulegate/internal/capsule"
	"github.com/buremba/capsulegate/internal/gwconfig"
	"github.com/buremba/capsulegate/internal/signer"
	"github.com/buremba/capsulegate/internal/vfs"
)

func identityBundle(code string, externals []string) (string, error) {
	return "(function(){" + code + "})();", nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := gwconfig.Default()
	cfg.SessionTTLMs = 60000

	sg, err := signer.Generate()
	require.NoError(t, err)

	cache := capsule.NewCache(t.TempDir())
	builder := capsule.NewBuilder(capsule.NewBundler(identityBundle), cache, sg, cfg.Policy)

	root, err := vfs.New(t.TempDir())
	require.NoError(t, err)

	s, err := New(cfg, builder, cache, sg, root)
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)
	return s
}

func TestInitializeReturnsServerInfo(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), ServerName)
	require.Contains(t, w.Body.String(), ProtocolVersion)
}

func TestToolsListAdvertisesRunJS(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Contains(t, w.Body.String(), "run_js")
}

func TestToolsCallRunsLocally(t *testing.T) {
	s := newTestServer(t)
	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"run_js","arguments":{"code":"console.log(1+1)"}}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "2")
}

func TestToolsCallRejectsUnknownTool(t *testing.T) {
	s := newTestServer(t)
	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"not_a_tool","arguments":{}}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Contains(t, w.Body.String(), "unknown tool")
}

func TestCORSEchoesOrigin(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/mcp", nil)
	req.Header.Set("Origin", "https://example.test")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "https://example.test", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCreateAndAttachSessionViaHTTP(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/session", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "sessionId")
	require.Contains(t, w.Body.String(), "attachToken")
}

func TestCapsuleFileRejectsDisallowedName(t *testing.T) {
	s := newTestServer(t)
	built, err := s.builder.Build(capsule.BuildRequest{Code: "1"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/capsules/"+built.Hash+"/../../etc/passwd", nil))
	require.NotEqual(t, http.StatusOK, w.Code)
}

func TestCapsuleFileServesManifest(t *testing.T) {
	s := newTestServer(t)
	built, err := s.builder.Build(capsule.BuildRequest{Code: "1"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/capsules/"+built.Hash+"/capsule.json", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "\"version\"")
}

