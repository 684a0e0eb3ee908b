package capsule

import (
	"fmt"

	"github.com/buremba/capsulegate/internal/gwerr"
	"github.com/buremba/capsulegate/internal/policy"
	"github.com/buremba/capsulegate/internal/signer"
)

// RuntimeID identifies the embedded engine a built manifest targets.
const RuntimeID = "goja@es2020"

// Builder turns a BuildRequest into a cached, signed capsule (spec §4.4).
type Builder struct {
	bundler        *Bundler
	cache          *Cache
	signer         *signer.Signer
	defaultPolicy  policy.Policy
}

func NewBuilder(bundler *Bundler, cache *Cache, s *signer.Signer, defaultPolicy policy.Policy) *Builder {
	return &Builder{bundler: bundler, cache: cache, signer: s, defaultPolicy: defaultPolicy}
}

// Build implements the full pipeline: bundle, entry shim, code layer,
// mount layers, policy intersection, manifest assembly, cache check, sign,
// persist. Identical inputs always yield the same hash and never re-sign
// an already-cached capsule (spec §4.4 caching laws, §8 invariant 1).
func (b *Builder) Build(req BuildRequest) (BuildResult, error) {
	if req.Code == "" {
		return BuildResult{}, gwerr.New(gwerr.Validation, "code is required")
	}
	lang := req.Language
	if lang == "" {
		lang = LanguageJS
	}

	bundled, err := b.bundler.Bundle(req.Code, req.NPM)
	if err != nil {
		return BuildResult{}, gwerr.Wrap(gwerr.DepsResolutionFailed, err)
	}
	entrySource := buildEntrySource(bundled)

	codeZip, codeSha, err := buildCodeLayer(entrySource, req.Stdin)
	if err != nil {
		return BuildResult{}, gwerr.Wrap(gwerr.Internal, err)
	}

	mounts, err := buildMounts(req.Mounts)
	if err != nil {
		return BuildResult{}, gwerr.Wrap(gwerr.DepsResolutionFailed, err)
	}

	effectivePolicy := policy.Intersect(b.defaultPolicy, req.Policy)

	layers := make([]Layer, 0, 1+len(mounts))
	layers = append(layers, Layer{ID: codeLayerID, SHA256: codeSha, Path: CodeLayerFile})
	for _, m := range mounts {
		layers = append(layers, m.layer)
	}

	manifest := Manifest{
		Version:  ManifestVersion,
		Language: lang,
		Runtime:  RuntimeInfo{ID: RuntimeID},
		Entry: Entry{
			Path: "entry.js",
			Argv: req.Args,
			Env:  req.Env,
			Cwd:  req.Cwd,
		},
		FSLayers: layers,
		Policy:   effectivePolicy,
	}

	hash, err := ContentHash(manifest)
	if err != nil {
		return BuildResult{}, gwerr.Wrap(gwerr.Internal, err)
	}

	if b.cache.Has(hash) {
		return BuildResult{Hash: hash, Manifest: manifest, CacheHit: true}, nil
	}

	canonical, err := canonicalJSON(manifest)
	if err != nil {
		return BuildResult{}, gwerr.Wrap(gwerr.Internal, err)
	}
	sig := b.signer.SignManifest(canonical)

	signed := Capsule{Manifest: manifest, Sig: sig}
	if err := b.cache.Persist(hash, signed, codeZip, mounts); err != nil {
		return BuildResult{}, gwerr.Wrap(gwerr.Internal, fmt.Errorf("persist capsule %s: %w", hash, err))
	}

	return BuildResult{Hash: hash, Manifest: manifest, CacheHit: false}, nil
}
