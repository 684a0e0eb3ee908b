package policy

import (
	"net"
	"net/url"
	"path"
	"strings"

	"github.com/IGLOU-EU/go-wildcard/v2"

	"github.com/buremba/capsulegate/internal/gwerr"
)

// Decision mirrors the allow/deny outcome of evaluating a single request
// against a compiled Policy.
type Decision string

const (
	Allow Decision = "allow"
	Deny  Decision = "deny"
)

// NetworkEnforcer compiles a Network policy once per run so fetch() calls
// are checked against precomputed domain patterns instead of re-parsing
// the policy on every call.
type NetworkEnforcer struct {
	policy        Network
	allowPatterns []string
	denyPatterns  []string
}

func NewNetworkEnforcer(p Network) *NetworkEnforcer {
	return &NetworkEnforcer{
		policy:        p,
		allowPatterns: indexDomains(p.AllowedDomains),
		denyPatterns:  indexDomains(p.DeniedDomains),
	}
}

// indexDomains lowercases and trims a policy's domain list, leaving glob
// patterns (e.g. "*.example.com") intact for wildcard.Match.
func indexDomains(domains []string) []string {
	patterns := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		patterns = append(patterns, d)
	}
	return patterns
}

// matchDomain reports whether host matches any of the given glob patterns
// via go-wildcard, so "*.example.com" matches subdomains without matching
// the apex domain itself.
func matchDomain(host string, patterns []string) bool {
	for _, p := range patterns {
		if wildcard.Match(p, host) {
			return true
		}
	}
	return false
}

// CheckURL evaluates a fetch() target against the network policy: scheme,
// IP-literal/private-range rules, and the allow/deny domain lists. It does
// not perform DNS resolution; BlockPrivateRanges only catches literal IPs
// and loopback/.local hostnames, matching spec §4.1's stated scope.
func (e *NetworkEnforcer) CheckURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return gwerr.New(gwerr.Validation, "invalid url %q: %v", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return gwerr.New(gwerr.PolicyDenied, "scheme %q not permitted", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return gwerr.New(gwerr.Validation, "url %q has no host", raw)
	}

	if ip := net.ParseIP(host); ip != nil {
		if e.policy.DenyIPLiterals {
			return gwerr.New(gwerr.PolicyDenied, "IP literal host %q denied", host)
		}
		if e.policy.BlockPrivateRanges && isPrivateOrLoopback(ip) {
			return gwerr.New(gwerr.PolicyDenied, "private/loopback address %q denied", host)
		}
	} else if e.policy.BlockPrivateRanges && (host == "localhost" || strings.HasSuffix(host, ".local")) {
		return gwerr.New(gwerr.PolicyDenied, "local hostname %q denied", host)
	}

	if matchDomain(host, e.denyPatterns) {
		return gwerr.New(gwerr.PolicyDenied, "host %q is on the deny list", host)
	}
	if len(e.allowPatterns) > 0 {
		if !matchDomain(host, e.allowPatterns) {
			return gwerr.New(gwerr.PolicyDenied, "host %q is not on the allow list", host)
		}
	}
	return nil
}

func isPrivateOrLoopback(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	private4 := []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "169.254.0.0/16"}
	for _, cidr := range private4 {
		_, block, err := net.ParseCIDR(cidr)
		if err == nil && block.Contains(ip) {
			return true
		}
	}
	return ip.IsPrivate()
}

// FilesystemEnforcer checks VFS paths against a policy's readonly/writable
// prefix lists. Paths are always evaluated in their cleaned, absolute form
// so a traversal segment can never escape the declared prefixes.
type FilesystemEnforcer struct {
	policy Filesystem
}

func NewFilesystemEnforcer(p Filesystem) *FilesystemEnforcer {
	return &FilesystemEnforcer{policy: p}
}

// CheckRead reports whether p may be read: it must fall under some
// readonly or writable prefix (write access implies read access).
func (f *FilesystemEnforcer) CheckRead(p string) error {
	clean := cleanAbs(p)
	if hasPrefixIn(clean, f.policy.Readonly) || hasPrefixIn(clean, f.policy.Writable) {
		return nil
	}
	return gwerr.New(gwerr.PolicyDenied, "path %q is not readable under the current policy", p)
}

// CheckWrite reports whether p may be written: it must fall under a
// writable prefix. Being also listed readonly does not grant write access.
func (f *FilesystemEnforcer) CheckWrite(p string) error {
	clean := cleanAbs(p)
	if hasPrefixIn(clean, f.policy.Writable) {
		return nil
	}
	return gwerr.New(gwerr.PolicyDenied, "path %q is not writable under the current policy", p)
}

func cleanAbs(p string) string {
	if !path.IsAbs(p) {
		p = "/" + p
	}
	return path.Clean(p)
}

func hasPrefixIn(clean string, prefixes []string) bool {
	for _, prefix := range prefixes {
		prefix = cleanAbs(prefix)
		if clean == prefix || strings.HasPrefix(clean, prefix+"/") {
			return true
		}
	}
	return false
}
