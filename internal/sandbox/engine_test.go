package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/buremba/capsulegate/internal/policy"
	"github.com/buremba/capsulegate/internal/vfs"
)

func TestExecuteHelloWorld(t *testing.T) {
	e := New()
	var stdout []byte
	res, err := e.Execute(context.Background(), Request{
		Source: "console.log('hello')",
		Policy: policy.Default(),
		OnStdout: func(c []byte) { stdout = append(stdout, c...) },
	})
	require.NoError(t, err)
	require.Equal(t, ExitOK, res.ExitCode)
	require.Equal(t, "hello\n", string(stdout))
}

func TestExecuteLastValue(t *testing.T) {
	e := New()
	res, err := e.Execute(context.Background(), Request{
		Source: "40+2",
		Policy: policy.Default(),
	})
	require.NoError(t, err)
	require.True(t, res.HasValue)
	require.Equal(t, "42", res.LastValue)
}

func TestExecuteLastValueFromTopLevelReturn(t *testing.T) {
	root, err := vfs.New(t.TempDir())
	require.NoError(t, err)

	e := New()
	res, err := e.Execute(context.Background(), Request{
		Source: "await fs.write('/tmp/x','y'); return await fs.read('/tmp/x')",
		Policy: policy.Default(),
		VFS:    root,
	})
	require.NoError(t, err)
	require.True(t, res.HasValue)
	require.Equal(t, "y", res.LastValue)
}

func TestExecuteTimeout(t *testing.T) {
	e := New()
	p := policy.Default()
	p.Limits.TimeoutMs = 200
	res, err := e.Execute(context.Background(), Request{
		Source: "while(true){}",
		Policy: p,
	})
	require.NoError(t, err)
	require.Equal(t, ExitTimeout, res.ExitCode)
}

func TestExecuteRunsWithinDeadline(t *testing.T) {
	e := New()
	p := policy.Default()
	p.Limits.TimeoutMs = 5000

	start := time.Now()
	res, err := e.Execute(context.Background(), Request{Source: "1+1", Policy: p})
	require.NoError(t, err)
	require.Less(t, time.Since(start), 5*time.Second)
	require.Equal(t, ExitOK, res.ExitCode)
}
