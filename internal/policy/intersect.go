package policy

// Intersect combines a server default policy with an optional client
// override so the result is no more permissive than either side (spec
// §4.1, invariant §8.2). Intersect is a pure function and is cheap enough
// to run once per capsule build.
func Intersect(server Policy, client *Policy) Policy {
	if client == nil {
		return server
	}

	return Policy{
		Network:    intersectNetwork(server.Network, client.Network),
		Filesystem: intersectFilesystem(server.Filesystem, client.Filesystem),
		Limits:     intersectLimits(server.Limits, client.Limits),
	}
}

func intersectNetwork(a, b Network) Network {
	out := Network{
		AllowedDomains:     intersectStrings(a.AllowedDomains, b.AllowedDomains),
		DeniedDomains:      unionStrings(a.DeniedDomains, b.DeniedDomains),
		DenyIPLiterals:     a.DenyIPLiterals || b.DenyIPLiterals,
		BlockPrivateRanges: a.BlockPrivateRanges || b.BlockPrivateRanges,
		MaxBodyBytes:       minPositive(a.MaxBodyBytes, b.MaxBodyBytes),
		MaxRedirects:       int(minPositive(int64(a.MaxRedirects), int64(b.MaxRedirects))),
	}
	return out
}

func intersectFilesystem(a, b Filesystem) Filesystem {
	return Filesystem{
		Readonly: intersectStrings(a.Readonly, b.Readonly),
		Writable: intersectStrings(a.Writable, b.Writable),
		Mounts:   append(append([]Mount{}, a.Mounts...), b.Mounts...),
	}
}

func intersectLimits(a, b Limits) Limits {
	return Limits{
		TimeoutMs:   minPositive(a.TimeoutMs, b.TimeoutMs),
		MemMb:       minPositive(a.MemMb, b.MemMb),
		StdoutBytes: minPositive(a.StdoutBytes, b.StdoutBytes),
	}
}

// minPositive returns the smaller of a, b, treating a non-positive value
// as "unset" so it does not spuriously win against a configured sibling.
func minPositive(a, b int64) int64 {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}

// intersectStrings returns the set intersection of two allow-lists. An
// empty list is treated as "not yet restricted" (unset), not "allow
// nothing" — a client that never mentions readonly/writable/allowedDomains
// inherits the server's list unchanged rather than zeroing it out.
func intersectStrings(a, b []string) []string {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(a))
	for _, v := range a {
		if _, ok := set[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

// unionStrings returns the set union of two deny-lists, deduplicated.
func unionStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
