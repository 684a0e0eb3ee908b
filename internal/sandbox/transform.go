package sandbox

import "strings"

// controlKeywords are statement forms that can never be the tail of a
// bare-expression completion; a trailing line starting with one of these
// is left untouched.
var controlKeywords = []string{
	"if", "for", "while", "function", "return", "const", "let", "var",
	"class", "import", "export", "try", "switch", "do", "throw",
}

// wrapLastCompletion is a best-effort rewrite of user script source so its
// trailing bare expression (if any) is captured into __capsule_last,
// approximating the "last expression value" semantics of a REPL without a
// full parser (spec §4.5). Scripts that end in a statement, declaration,
// or block are left as-is; lastValue is simply absent for those.
func wrapLastCompletion(src string) string {
	lines := strings.Split(src, "\n")
	lastIdx := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			lastIdx = i
			break
		}
	}
	if lastIdx == -1 {
		return src
	}

	trimmed := strings.TrimSpace(lines[lastIdx])
	trimmed = strings.TrimSuffix(trimmed, ";")

	if trimmed == "" || strings.HasSuffix(trimmed, "}") || strings.HasSuffix(trimmed, "{") {
		return src
	}
	for _, kw := range controlKeywords {
		if strings.HasPrefix(trimmed, kw+" ") || trimmed == kw {
			return src
		}
	}

	lines[lastIdx] = "return (" + trimmed + ");"
	return strings.Join(lines, "\n")
}

// entryWrapper wraps the transformed source in an async IIFE so guest code
// may use top-level await against the (synchronously resolving) host
// bridges, and records completion/error state the host reads back after
// the engine returns. The IIFE's resolved value, whether from a genuine
// top-level return or from wrapLastCompletion's rewritten trailing
// expression, is captured into __capsule_last by the success callback.
func entryWrapper(userSource string) string {
	return `globalThis.__capsule_last = undefined;
globalThis.__capsule_done = false;
globalThis.__capsule_error = null;
(function() {
  return (async function() {
` + wrapLastCompletion(userSource) + `
  })();
})().then(function(v){
  globalThis.__capsule_last = v;
  globalThis.__capsule_done = true;
}, function(e) {
  globalThis.__capsule_done = true;
  globalThis.__capsule_error = (e && e.message) ? e.message : String(e);
});
`
}
