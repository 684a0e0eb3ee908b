// Package policy implements the network/filesystem/limits policy model and
// the monotone intersection rule that binds a server default to a client
// override without ever becoming more permissive than either side.
package policy

// Network describes what the sandboxed guest may reach over fetch().
type Network struct {
	AllowedDomains     []string `json:"allowedDomains,omitempty"`
	DeniedDomains      []string `json:"deniedDomains,omitempty"`
	DenyIPLiterals     bool     `json:"denyIpLiterals"`
	BlockPrivateRanges bool     `json:"blockPrivateRanges"`
	MaxBodyBytes       int64    `json:"maxBodyBytes"`
	MaxRedirects       int      `json:"maxRedirects"`
}

// Mount describes a host-declared directory or git checkout materialized
// under the VFS at Target when the capsule runs.
type Mount struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Type     string `json:"type"` // "directory" | "git"
	ReadOnly bool   `json:"readonly"`
	GitRef   string `json:"gitRef,omitempty"`
}

// Filesystem describes what VFS paths the guest may read or write.
type Filesystem struct {
	Readonly  []string `json:"readonly,omitempty"`
	Writable  []string `json:"writable,omitempty"`
	Mounts    []Mount  `json:"mounts,omitempty"`
}

// Limits bounds wall-clock time, memory, and stdout volume for a run.
type Limits struct {
	TimeoutMs   int64 `json:"timeoutMs"`
	MemMb       int64 `json:"memMb"`
	StdoutBytes int64 `json:"stdoutBytes"`
}

// Policy is the full three-record policy bound into a capsule manifest.
type Policy struct {
	Network    Network    `json:"network"`
	Filesystem Filesystem `json:"filesystem"`
	Limits     Limits     `json:"limits"`
}

// Default returns the server's baked-in default policy (spec §6).
func Default() Policy {
	return Policy{
		Network: Network{
			AllowedDomains:     []string{"api.github.com", "*.npmjs.org"},
			DenyIPLiterals:     true,
			BlockPrivateRanges: true,
			MaxBodyBytes:       5 * 1024 * 1024,
			MaxRedirects:       5,
		},
		Filesystem: Filesystem{
			Readonly: []string{"/"},
			Writable: []string{"/tmp", "/out"},
		},
		Limits: Limits{
			TimeoutMs:   60000,
			MemMb:       256,
			StdoutBytes: 1024 * 1024,
		},
	}
}

// IsZero reports whether n is the Network zero value, i.e. a request body
// that omitted the network block entirely. The capsule builder uses this to
// decide whether the client asked for network access at all (spec §9, Open
// Question iii): a manifest built from a zero Network still receives the
// server default through Intersect, but the builder records the client's
// explicit intent separately so the sandbox only installs fetch() when
// either side actually declared a network policy.
func (n Network) IsZero() bool {
	return len(n.AllowedDomains) == 0 && len(n.DeniedDomains) == 0 &&
		!n.DenyIPLiterals && !n.BlockPrivateRanges &&
		n.MaxBodyBytes == 0 && n.MaxRedirects == 0
}
