package vfs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestFS(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	f, err := New(dir)
	require.NoError(t, err)
	return f
}

func TestResolveStaysUnderBase(t *testing.T) {
	f := newTestFS(t)
	real, err := f.Resolve("/a/b.txt")
	require.NoError(t, err)
	require.True(t, real == f.Base || strings.HasPrefix(real, f.Base+string(filepath.Separator)))
}

func TestResolveRejectsTraversal(t *testing.T) {
	f := newTestFS(t)
	_, err := f.Resolve("../../../etc/passwd")
	require.Error(t, err)
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	f := newTestFS(t)
	require.NoError(t, f.WriteFile("/out/hello.txt", []byte("hi"), WriteOverwrite))
	data, err := f.ReadFile("/out/hello.txt", ReadOptions{})
	require.NoError(t, err)
	require.Equal(t, "hi", string(data))
}

func TestWriteCreateFailsIfExists(t *testing.T) {
	f := newTestFS(t)
	require.NoError(t, f.WriteFile("/x.txt", []byte("1"), WriteCreate))
	err := f.WriteFile("/x.txt", []byte("2"), WriteCreate)
	require.Error(t, err)
}

func TestWriteAppend(t *testing.T) {
	f := newTestFS(t)
	require.NoError(t, f.WriteFile("/log.txt", []byte("a"), WriteOverwrite))
	require.NoError(t, f.WriteFile("/log.txt", []byte("b"), WriteAppend))
	data, err := f.ReadFile("/log.txt", ReadOptions{})
	require.NoError(t, err)
	require.Equal(t, "ab", string(data))
}

func TestReadFileMaxBytes(t *testing.T) {
	f := newTestFS(t)
	require.NoError(t, f.WriteFile("/big.txt", []byte("0123456789"), WriteOverwrite))
	data, err := f.ReadFile("/big.txt", ReadOptions{MaxBytes: 4})
	require.NoError(t, err)
	require.Equal(t, "0123", string(data))
}

func TestReaddirSorted(t *testing.T) {
	f := newTestFS(t)
	require.NoError(t, f.Mkdir("/dir"))
	require.NoError(t, f.WriteFile("/dir/b.txt", []byte("b"), WriteOverwrite))
	require.NoError(t, f.WriteFile("/dir/a.txt", []byte("a"), WriteOverwrite))
	entries, err := f.Readdir("/dir")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "a.txt", entries[0].Name)
	require.Equal(t, "b.txt", entries[1].Name)
}

func TestStatAndExists(t *testing.T) {
	f := newTestFS(t)
	require.False(t, f.Exists("/missing.txt"))
	require.NoError(t, f.WriteFile("/present.txt", []byte("xx"), WriteOverwrite))
	require.True(t, f.Exists("/present.txt"))
	st, err := f.Stat("/present.txt")
	require.NoError(t, err)
	require.Equal(t, int64(2), st.Size)
	require.False(t, st.IsDir)
}

func TestUnlinkAndRmdir(t *testing.T) {
	f := newTestFS(t)
	require.NoError(t, f.WriteFile("/tmp/f.txt", []byte("1"), WriteOverwrite))
	require.NoError(t, f.Unlink("/tmp/f.txt"))
	require.False(t, f.Exists("/tmp/f.txt"))
	require.NoError(t, f.Rmdir("/tmp"))
	_, err := os.Stat(filepath.Join(f.Base, "tmp"))
	require.True(t, os.IsNotExist(err))
}
