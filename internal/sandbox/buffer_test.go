package sandbox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoundedBufferAccumulates(t *testing.T) {
	var chunks [][]byte
	b := newBoundedBuffer(100, func(c []byte) { chunks = append(chunks, append([]byte(nil), c...)) })
	require.NoError(t, b.Write([]byte("hello ")))
	require.NoError(t, b.Write([]byte("world")))
	require.Equal(t, "hello world", string(b.Bytes()))
	require.Len(t, chunks, 2)
}

func TestBoundedBufferRejectsOverflow(t *testing.T) {
	b := newBoundedBuffer(4, nil)
	require.NoError(t, b.Write([]byte("1234")))
	require.Error(t, b.Write([]byte("5")))
}

func TestParseWriteMode(t *testing.T) {
	require.Equal(t, 1, int(parseWriteMode("create")))
	require.Equal(t, 2, int(parseWriteMode("append")))
	require.Equal(t, 0, int(parseWriteMode("overwrite")))
	require.Equal(t, 0, int(parseWriteMode("")))
}
