package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntersectNilClientReturnsServer(t *testing.T) {
	server := Default()
	got := Intersect(server, nil)
	assert.Equal(t, server, got)
}

func TestIntersectIsNeverMorePermissive(t *testing.T) {
	server := Policy{
		Network: Network{
			AllowedDomains: []string{"api.github.com", "example.com"},
			MaxBodyBytes:   1000,
			MaxRedirects:   5,
		},
		Filesystem: Filesystem{
			Readonly: []string{"/", "/srv"},
			Writable: []string{"/tmp", "/out"},
		},
		Limits: Limits{TimeoutMs: 60000, MemMb: 256, StdoutBytes: 1 << 20},
	}
	client := Policy{
		Network: Network{
			AllowedDomains:     []string{"example.com", "other.org"},
			DenyIPLiterals:     true,
			BlockPrivateRanges: false,
			MaxBodyBytes:       5000,
			MaxRedirects:       1,
		},
		Filesystem: Filesystem{
			Readonly: []string{"/srv"},
			Writable: []string{"/tmp"},
		},
		Limits: Limits{TimeoutMs: 120000, MemMb: 64, StdoutBytes: 1 << 10},
	}

	got := Intersect(server, &client)

	require.Equal(t, []string{"example.com"}, got.Network.AllowedDomains)
	assert.True(t, got.Network.DenyIPLiterals)
	assert.Equal(t, int64(1000), got.Network.MaxBodyBytes)
	assert.Equal(t, 1, got.Network.MaxRedirects)

	assert.Equal(t, []string{"/srv"}, got.Filesystem.Readonly)
	assert.Equal(t, []string{"/tmp"}, got.Filesystem.Writable)

	assert.Equal(t, int64(60000), got.Limits.TimeoutMs)
	assert.Equal(t, int64(64), got.Limits.MemMb)
	assert.Equal(t, int64(1<<10), got.Limits.StdoutBytes)
}

func TestIntersectDeniedDomainsUnion(t *testing.T) {
	server := Policy{Network: Network{DeniedDomains: []string{"evil.com"}}}
	client := Policy{Network: Network{DeniedDomains: []string{"also-evil.com"}}}
	got := Intersect(server, &client)
	assert.ElementsMatch(t, []string{"evil.com", "also-evil.com"}, got.Network.DeniedDomains)
}

func TestIntersectUnsetListInheritsOther(t *testing.T) {
	server := Policy{Filesystem: Filesystem{Readonly: []string{"/"}}}
	client := Policy{}
	got := Intersect(server, &client)
	assert.Equal(t, []string{"/"}, got.Filesystem.Readonly)
}

func TestIntersectMountsConcatenate(t *testing.T) {
	server := Policy{Filesystem: Filesystem{Mounts: []Mount{{Source: "a", Target: "/a"}}}}
	client := Policy{Filesystem: Filesystem{Mounts: []Mount{{Source: "b", Target: "/b"}}}}
	got := Intersect(server, &client)
	require.Len(t, got.Filesystem.Mounts, 2)
}

func TestNetworkEnforcerAllowList(t *testing.T) {
	e := NewNetworkEnforcer(Network{AllowedDomains: []string{"api.github.com", "*.npmjs.org"}})
	assert.NoError(t, e.CheckURL("https://api.github.com/repos"))
	assert.NoError(t, e.CheckURL("https://registry.npmjs.org/pkg"))
	assert.Error(t, e.CheckURL("https://evil.com/"))
}

func TestNetworkEnforcerDeniesIPLiterals(t *testing.T) {
	e := NewNetworkEnforcer(Network{DenyIPLiterals: true})
	assert.Error(t, e.CheckURL("http://93.184.216.34/"))
}

func TestNetworkEnforcerBlocksPrivateRanges(t *testing.T) {
	e := NewNetworkEnforcer(Network{BlockPrivateRanges: true})
	assert.Error(t, e.CheckURL("http://169.254.169.254/latest/meta-data"))
	assert.Error(t, e.CheckURL("http://localhost:8080/"))
}

func TestNetworkEnforcerRejectsBadScheme(t *testing.T) {
	e := NewNetworkEnforcer(Network{})
	assert.Error(t, e.CheckURL("file:///etc/passwd"))
}

func TestFilesystemEnforcerReadWrite(t *testing.T) {
	f := NewFilesystemEnforcer(Filesystem{Readonly: []string{"/"}, Writable: []string{"/tmp", "/out"}})
	assert.NoError(t, f.CheckRead("/etc/hosts"))
	assert.NoError(t, f.CheckWrite("/tmp/scratch.txt"))
	assert.Error(t, f.CheckWrite("/etc/hosts"))
}

func TestFilesystemEnforcerTraversalStaysUnderPrefix(t *testing.T) {
	f := NewFilesystemEnforcer(Filesystem{Writable: []string{"/tmp"}})
	assert.Error(t, f.CheckWrite("/tmp/../etc/passwd"))
}

func TestNetworkIsZero(t *testing.T) {
	assert.True(t, Network{}.IsZero())
	assert.False(t, Network{MaxRedirects: 1}.IsZero())
}
