package session

import (
	"testing"
	"time"

	"github.com/buremba/capsulegate/internal/gwerr"
	"github.com/buremba/capsulegate/internal/signer"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T, ttl time.Duration) *Dispatcher {
	t.Helper()
	sg, err := signer.Generate()
	require.NoError(t, err)
	d := NewDispatcher(sg, ttl)
	t.Cleanup(func() { d.Shutdown(0) })
	return d
}

func TestCreateAndAttachSession(t *testing.T) {
	d := newTestDispatcher(t, time.Minute)

	id, token, err := d.CreateSession()
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NotEmpty(t, token)

	sess, err := d.AttachBrowser(id, token)
	require.NoError(t, err)
	require.Equal(t, StateAttached, sess.State())
	require.True(t, sess.BrowserAttached())
}

func TestAttachBrowserRejectsBadToken(t *testing.T) {
	d := newTestDispatcher(t, time.Minute)
	id, _, err := d.CreateSession()
	require.NoError(t, err)

	_, err = d.AttachBrowser(id, "garbage")
	require.Error(t, err)
}

func TestAttachBrowserRejectsWrongSession(t *testing.T) {
	d := newTestDispatcher(t, time.Minute)
	id1, _, err := d.CreateSession()
	require.NoError(t, err)
	_, token2, err := d.CreateSession()
	require.NoError(t, err)

	_, err = d.AttachBrowser(id1, token2)
	require.Error(t, err)
}

func TestAnyAttachedReflectsState(t *testing.T) {
	d := newTestDispatcher(t, time.Minute)
	_, ok := d.AnyAttached()
	require.False(t, ok)

	id, token, err := d.CreateSession()
	require.NoError(t, err)
	_, err = d.AttachBrowser(id, token)
	require.NoError(t, err)

	sess, ok := d.AnyAttached()
	require.True(t, ok)
	require.Equal(t, id, sess.ID)
}

func TestSendCommandTransitionsToRunning(t *testing.T) {
	d := newTestDispatcher(t, time.Minute)
	id, token, err := d.CreateSession()
	require.NoError(t, err)
	sess, err := d.AttachBrowser(id, token)
	require.NoError(t, err)

	require.NoError(t, d.SendCommand(id, Command{Type: "capsule", RunID: "run-1"}))
	require.Equal(t, StateRunning, sess.State())

	select {
	case cmd := <-sess.Commands():
		require.Equal(t, "capsule", cmd.Type)
	default:
		t.Fatal("expected queued command")
	}
}

func TestSendCommandRejectsWhileRunning(t *testing.T) {
	d := newTestDispatcher(t, time.Minute)
	id, token, err := d.CreateSession()
	require.NoError(t, err)
	_, err = d.AttachBrowser(id, token)
	require.NoError(t, err)
	require.NoError(t, d.SendCommand(id, Command{Type: "capsule", RunID: "run-1"}))

	err = d.SendCommand(id, Command{Type: "capsule", RunID: "run-2"})
	require.Error(t, err)
}

func TestAddResultTransitionsBackToIdle(t *testing.T) {
	d := newTestDispatcher(t, time.Minute)
	id, token, err := d.CreateSession()
	require.NoError(t, err)
	sess, err := d.AttachBrowser(id, token)
	require.NoError(t, err)
	require.NoError(t, d.SendCommand(id, Command{Type: "capsule", RunID: "run-1"}))

	require.NoError(t, d.AddResult(id, ResultEvent{RunID: "run-1", Type: "stdout", Data: "hi"}))
	require.Equal(t, StateRunning, sess.State())

	require.NoError(t, d.AddResult(id, ResultEvent{RunID: "run-1", Type: "exit", ExitCode: 0}))
	require.Equal(t, StateIdle, sess.State())
}

func TestAwaitTerminalCollectsAndClears(t *testing.T) {
	d := newTestDispatcher(t, time.Minute)
	id, token, err := d.CreateSession()
	require.NoError(t, err)
	_, err = d.AttachBrowser(id, token)
	require.NoError(t, err)
	require.NoError(t, d.SendCommand(id, Command{Type: "capsule", RunID: "run-1"}))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = d.AddResult(id, ResultEvent{RunID: "run-1", Type: "stdout", Data: "line1"})
		time.Sleep(20 * time.Millisecond)
		_ = d.AddResult(id, ResultEvent{RunID: "run-1", Type: "exit", ExitCode: 0})
	}()

	events, err := d.AwaitTerminal(id, "run-1", time.Second)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "stdout", events[0].Type)
	require.Equal(t, "exit", events[1].Type)

	remaining, err := d.GetResults(id, "run-1")
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestAwaitTerminalTimesOutAndCancels(t *testing.T) {
	d := newTestDispatcher(t, time.Minute)
	id, token, err := d.CreateSession()
	require.NoError(t, err)
	_, err = d.AttachBrowser(id, token)
	require.NoError(t, err)
	require.NoError(t, d.SendCommand(id, Command{Type: "capsule", RunID: "run-1"}))

	_, err = d.AwaitTerminal(id, "run-1", 50*time.Millisecond)
	require.Error(t, err)
	gwErr, ok := gwerr.As(err)
	require.True(t, ok)
	require.Equal(t, gwerr.Timeout, gwErr.Kind)
}

func TestReapExpiredClosesSession(t *testing.T) {
	d := newTestDispatcher(t, 30*time.Millisecond)
	id, token, err := d.CreateSession()
	require.NoError(t, err)
	_, err = d.AttachBrowser(id, token)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := d.get(id)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}
