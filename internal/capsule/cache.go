package capsule

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ManifestFile, CodeLayerFile name the fixed files inside a capsule's cache
// directory (spec §6 on-disk layout).
const ManifestFile = "capsule.json"
const CodeLayerFile = "fs.code.zip"

// Cache persists and retrieves capsules under a single root directory,
// one subdirectory per content hash. It is safe for concurrent use: the
// builder is the sole writer per hash, and "capsule.json absent" is always
// treated as a cache miss rather than an error (spec §5, shared resources).
type Cache struct {
	root string
}

func NewCache(root string) *Cache {
	return &Cache{root: root}
}

func (c *Cache) dir(hash string) string {
	return filepath.Join(c.root, hash)
}

// Has reports whether a capsule with this hash is already fully persisted.
func (c *Cache) Has(hash string) bool {
	_, err := os.Stat(filepath.Join(c.dir(hash), ManifestFile))
	return err == nil
}

// Load reads a persisted capsule.json.
func (c *Cache) Load(hash string) (*Capsule, error) {
	data, err := os.ReadFile(filepath.Join(c.dir(hash), ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("capsule: load %q: %w", hash, err)
	}
	var capsule Capsule
	if err := json.Unmarshal(data, &capsule); err != nil {
		return nil, fmt.Errorf("capsule: parse %q: %w", hash, err)
	}
	return &capsule, nil
}

// LayerPath resolves the on-disk path of a named file within a capsule's
// cache directory, for the gateway's capsule-serving endpoint.
func (c *Cache) LayerPath(hash, file string) string {
	return filepath.Join(c.dir(hash), file)
}

// ReadEntrySource extracts entry.js from a persisted code layer ZIP, for
// the gateway's local-runtime path (spec §4.5 takes already-bundled source
// text, not a ZIP, so this is the one place that unwraps it).
func (c *Cache) ReadEntrySource(hash string) (string, error) {
	r, err := zip.OpenReader(c.LayerPath(hash, CodeLayerFile))
	if err != nil {
		return "", fmt.Errorf("capsule: open code layer %q: %w", hash, err)
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name != "entry.js" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("capsule: open entry.js in %q: %w", hash, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return "", fmt.Errorf("capsule: read entry.js in %q: %w", hash, err)
		}
		return string(data), nil
	}
	return "", fmt.Errorf("capsule: entry.js not found in code layer %q", hash)
}

// ReadStdin extracts _stdin.txt from a persisted code layer ZIP, if
// present. Absence is not an error: most runs carry no stdin.
func (c *Cache) ReadStdin(hash string) (string, error) {
	r, err := zip.OpenReader(c.LayerPath(hash, CodeLayerFile))
	if err != nil {
		return "", fmt.Errorf("capsule: open code layer %q: %w", hash, err)
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name != "_stdin.txt" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("capsule: open _stdin.txt in %q: %w", hash, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return "", fmt.Errorf("capsule: read _stdin.txt in %q: %w", hash, err)
		}
		return string(data), nil
	}
	return "", nil
}

// ExtractLayer unzips a persisted non-code layer (mount or similar),
// calling write once per file entry with its path under target joined to
// the entry's path within the ZIP (spec §4.4 step 4, §3 mounts).
// Directory entries are skipped; write is expected to create parent
// directories as needed.
func (c *Cache) ExtractLayer(hash, file, target string, write func(guestPath string, data []byte) error) error {
	r, err := zip.OpenReader(c.LayerPath(hash, file))
	if err != nil {
		return fmt.Errorf("capsule: open layer %q: %w", file, err)
	}
	defer r.Close()

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("capsule: open %q in %q: %w", f.Name, file, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("capsule: read %q in %q: %w", f.Name, file, err)
		}
		guestPath := filepath.ToSlash(filepath.Join(target, f.Name))
		if err := write(guestPath, data); err != nil {
			return fmt.Errorf("capsule: materialize %q: %w", guestPath, err)
		}
	}
	return nil
}

// Persist writes the signed capsule and all of its layer ZIPs to
// <root>/<hash>/, creating the directory if needed. Called only after the
// hash has been confirmed absent from the cache.
func (c *Cache) Persist(hash string, capsule Capsule, codeZip []byte, mounts []builtMount) error {
	dir := c.dir(hash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("capsule: mkdir %q: %w", dir, err)
	}

	data, err := json.MarshalIndent(capsule, "", "  ")
	if err != nil {
		return fmt.Errorf("capsule: marshal signed capsule: %w", err)
	}

	// capsule.json is the cache-hit marker (Has checks only for it), so it
	// must land last: readers must never observe it present while a layer
	// ZIP it references is still missing (spec §5).
	if err := os.WriteFile(filepath.Join(dir, CodeLayerFile), codeZip, 0o644); err != nil {
		return fmt.Errorf("capsule: write %s: %w", CodeLayerFile, err)
	}
	for _, m := range mounts {
		if err := os.WriteFile(filepath.Join(dir, m.layer.Path), m.zip, 0o644); err != nil {
			return fmt.Errorf("capsule: write %s: %w", m.layer.Path, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644); err != nil {
		return fmt.Errorf("capsule: write %s: %w", ManifestFile, err)
	}
	return nil
}

// AllowedFile reports whether name is one of the files a capsule's cache
// directory is permitted to serve (spec §8 invariant 5: anything else is a
// 400, regardless of whether it happens to exist on disk).
func AllowedFile(manifest Manifest, name string) bool {
	if name == ManifestFile || name == CodeLayerFile {
		return true
	}
	for _, l := range manifest.FSLayers {
		if l.ID != codeLayerID && l.Path == name {
			return true
		}
	}
	return false
}
