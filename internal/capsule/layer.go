package capsule

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// zipEntry is one path->bytes pair destined for a layer ZIP.
type zipEntry struct {
	name string
	data []byte
}

// buildZip writes entries into a deterministic ZIP: sorted name order and
// fixed timestamps, so identical entries always produce identical bytes
// (required for the content hash to be stable across builds).
func buildZip(entries []zipEntry) ([]byte, error) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.name, Method: zip.Deflate}
		fw, err := w.CreateHeader(hdr)
		if err != nil {
			return nil, fmt.Errorf("capsule: zip entry %q: %w", e.name, err)
		}
		if _, err := fw.Write(e.data); err != nil {
			return nil, fmt.Errorf("capsule: zip write %q: %w", e.name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("capsule: close zip: %w", err)
	}
	return buf.Bytes(), nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// buildCodeLayer assembles entry.js (and _stdin.txt when stdin is present)
// into the code layer ZIP (spec §4.4 step 3).
func buildCodeLayer(entrySource, stdin string) (zipData []byte, sha string, err error) {
	entries := []zipEntry{{name: "entry.js", data: []byte(entrySource)}}
	if stdin != "" {
		entries = append(entries, zipEntry{name: "_stdin.txt", data: []byte(stdin)})
	}
	zipData, err = buildZip(entries)
	if err != nil {
		return nil, "", err
	}
	return zipData, sha256Hex(zipData), nil
}

// excludedNames are skipped when walking a directory mount: VCS metadata,
// dependency trees, and dotfiles that typically carry secrets (spec §4.4
// step 4), matching the noise categories the teacher's safety package
// flags as sensitive.
var excludedNames = map[string]bool{
	".git":         true,
	"node_modules": true,
}

func isExcluded(name string) bool {
	if excludedNames[name] {
		return true
	}
	if strings.HasPrefix(name, ".") {
		return true
	}
	if strings.HasSuffix(name, ".log") {
		return true
	}
	return false
}

// buildDirectoryMountLayer walks source, ZIPping its contents excluding
// common noise, relative to source's own root.
func buildDirectoryMountLayer(source string) (zipData []byte, sha string, err error) {
	var entries []zipEntry
	err = filepath.WalkDir(source, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, relErr := filepath.Rel(source, p)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		for _, seg := range strings.Split(rel, string(filepath.Separator)) {
			if isExcluded(seg) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if d.IsDir() {
			return nil
		}
		data, readErr := os.ReadFile(p)
		if readErr != nil {
			return readErr
		}
		entries = append(entries, zipEntry{name: filepath.ToSlash(rel), data: data})
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("capsule: walk mount source %q: %w", source, err)
	}
	zipData, err = buildZip(entries)
	if err != nil {
		return nil, "", err
	}
	return zipData, sha256Hex(zipData), nil
}

// buildGitMountLayer clones source at ref into a temporary directory, then
// ZIPs its working tree, removing the temp clone regardless of outcome
// (spec §4.4 step 4, §9 mount-builder note).
func buildGitMountLayer(source, ref string) (zipData []byte, sha string, err error) {
	tmp, err := os.MkdirTemp("", "capsule-mount-*")
	if err != nil {
		return nil, "", fmt.Errorf("capsule: create clone dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	args := []string{"clone", "--depth", "1"}
	if ref != "" {
		args = append(args, "--branch", ref)
	}
	args = append(args, source, tmp)

	cmd := exec.Command("git", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, "", fmt.Errorf("capsule: git clone %q@%q: %s", source, ref, strings.TrimSpace(stderr.String()))
	}

	return buildDirectoryMountLayer(tmp)
}
