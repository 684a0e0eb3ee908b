package capsule

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildZipIsDeterministic(t *testing.T) {
	entries := []zipEntry{{name: "b.txt", data: []byte("B")}, {name: "a.txt", data: []byte("A")}}
	z1, err := buildZip(entries)
	require.NoError(t, err)
	z2, err := buildZip(entries)
	require.NoError(t, err)
	require.Equal(t, z1, z2)
}

func TestBuildCodeLayerIncludesStdin(t *testing.T) {
	zipData, sha, err := buildCodeLayer("console.log(1)", "hello")
	require.NoError(t, err)
	require.NotEmpty(t, sha)
	require.Equal(t, sha256Hex(zipData), sha)

	r, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range r.File {
		names[f.Name] = true
	}
	require.True(t, names["entry.js"])
	require.True(t, names["_stdin.txt"])
}

func TestBuildCodeLayerOmitsStdinWhenEmpty(t *testing.T) {
	zipData, _, err := buildCodeLayer("console.log(1)", "")
	require.NoError(t, err)
	r, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	require.NoError(t, err)
	for _, f := range r.File {
		require.NotEqual(t, "_stdin.txt", f.Name)
	}
}

func TestBuildDirectoryMountLayerExcludesNoise(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("k"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "skip.js"), []byte("s"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("secret"), 0o644))

	zipData, _, err := buildDirectoryMountLayer(dir)
	require.NoError(t, err)

	r, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range r.File {
		names[f.Name] = true
	}
	require.True(t, names["keep.txt"])
	require.False(t, names[".env"])
	for name := range names {
		require.NotContains(t, name, "node_modules")
	}
}

func TestIsExcluded(t *testing.T) {
	require.True(t, isExcluded(".git"))
	require.True(t, isExcluded(".env"))
	require.True(t, isExcluded("debug.log"))
	require.False(t, isExcluded("index.js"))
}
