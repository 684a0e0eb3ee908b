package capsule

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
)

// defaultBundleCacheSize bounds the in-process bundle LRU (spec §4.4 step 1).
const defaultBundleCacheSize = 1000

// bundleKey identifies a bundle by its deterministic inputs: source code
// plus the externalized npm package names.
func bundleKey(code string, externals []string) string {
	sorted := append([]string(nil), externals...)
	sort.Strings(sorted)
	h := sha256.New()
	h.Write([]byte(code))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(h.Sum(nil))
}

// BundleFunc performs the actual external-bundler invocation. Swappable for
// tests; production wiring shells out to the configured bundler binary.
type BundleFunc func(code string, externals []string) (string, error)

// Bundler memoizes bundle output by (code, externals) in a bounded,
// insertion-order LRU: same shape as the teacher's per-session fact
// accumulator, but keyed on bundle identity instead of session facts.
type Bundler struct {
	mu       sync.Mutex
	entries  map[string]string
	order    []string
	capacity int
	run      BundleFunc
}

func NewBundler(run BundleFunc) *Bundler {
	return &Bundler{
		entries:  make(map[string]string),
		capacity: defaultBundleCacheSize,
		run:      run,
	}
}

// Bundle returns the cached bundle for (code, externals), invoking the
// underlying BundleFunc only on a cache miss.
func (b *Bundler) Bundle(code string, externals []string) (string, error) {
	key := bundleKey(code, externals)

	b.mu.Lock()
	if out, ok := b.entries[key]; ok {
		b.touchLocked(key)
		b.mu.Unlock()
		return out, nil
	}
	b.mu.Unlock()

	out, err := b.run(code, externals)
	if err != nil {
		return "", fmt.Errorf("capsule: bundle: %w", err)
	}

	b.mu.Lock()
	b.insertLocked(key, out)
	b.mu.Unlock()
	return out, nil
}

func (b *Bundler) touchLocked(key string) {
	for i, k := range b.order {
		if k == key {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.order = append(b.order, key)
}

func (b *Bundler) insertLocked(key, out string) {
	if _, exists := b.entries[key]; exists {
		b.entries[key] = out
		b.touchLocked(key)
		return
	}
	if len(b.order) >= b.capacity {
		oldest := b.order[0]
		b.order = b.order[1:]
		delete(b.entries, oldest)
	}
	b.entries[key] = out
	b.order = append(b.order, key)
}

// ExternalBundle shells out to an external bundler binary (e.g. esbuild) to
// produce a single IIFE script. The bundle step is treated as an opaque,
// deterministic external tool per spec §4.4; this is the non-test BundleFunc.
func ExternalBundle(bundlerPath string) BundleFunc {
	return func(code string, externals []string) (string, error) {
		args := []string{"--bundle", "--format=iife", "--minify=false"}
		for _, ext := range externals {
			args = append(args, "--external:"+ext)
		}
		cmd := exec.Command(bundlerPath, args...)
		cmd.Stdin = strings.NewReader(code)
		out, err := cmd.Output()
		if err != nil {
			if ee, ok := err.(*exec.ExitError); ok {
				return "", fmt.Errorf("bundler failed: %s", strings.TrimSpace(string(ee.Stderr)))
			}
			return "", fmt.Errorf("bundler invocation failed: %w", err)
		}
		return string(out), nil
	}
}

// entryShim is prepended to the bundled code so a console object always
// exists in the sandbox, even if the guest script never references it.
const entryShim = `if (typeof console === "undefined") { var console = { log(){}, info(){}, warn(){}, error(){} }; }
`

func buildEntrySource(bundled string) string {
	return entryShim + bundled
}
