package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/buremba/capsulegate/internal/gwerr"
	"github.com/buremba/capsulegate/internal/signer"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// pollInterval is the dispatcher's bounded sleep between poll iterations
// while waiting for a terminal event (spec §5, "bounded sleep ~100ms").
const pollInterval = 100 * time.Millisecond

// Dispatcher owns every live Session and implements the four operations
// named in spec §4.7: createSession, attachBrowser, sendCommand, and the
// addResult/getResults/clearResults backchannel trio.
type Dispatcher struct {
	signer *signer.Signer
	ttl    time.Duration

	mu       sync.Mutex
	sessions map[string]*Session

	stopGC chan struct{}
}

// NewDispatcher constructs a Dispatcher and starts its background TTL
// reaper. ttl <= 0 uses DefaultTTL.
func NewDispatcher(sg *signer.Signer, ttl time.Duration) *Dispatcher {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	d := &Dispatcher{
		signer:   sg,
		ttl:      ttl,
		sessions: make(map[string]*Session),
		stopGC:   make(chan struct{}),
	}
	go d.gcLoop()
	return d
}

// CreateSession mints a new session and a 5-minute attach token signed with
// the gateway's Ed25519 key (spec §4.7).
func (d *Dispatcher) CreateSession() (sessionID, attachToken string, err error) {
	id := uuid.NewString()
	sess := newSession(id)

	d.mu.Lock()
	d.sessions[id] = sess
	d.mu.Unlock()

	token, err := d.signer.IssueAttachToken(id, time.Now())
	if err != nil {
		return "", "", fmt.Errorf("session: issue attach token: %w", err)
	}
	return id, token, nil
}

func (d *Dispatcher) get(sessionID string) (*Session, error) {
	d.mu.Lock()
	sess, ok := d.sessions[sessionID]
	d.mu.Unlock()
	if !ok {
		return nil, gwerr.New(gwerr.Validation, "session: unknown session %q", sessionID)
	}
	return sess, nil
}

// AttachBrowser validates the attach token and transitions new -> attached,
// called implicitly when a browser opens the SSE channel (spec §4.7).
func (d *Dispatcher) AttachBrowser(sessionID, token string) (*Session, error) {
	sess, err := d.get(sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := d.signer.VerifyAttachToken(token, sessionID, time.Now()); err != nil {
		return nil, gwerr.Wrap(gwerr.Validation, err)
	}

	sess.mu.Lock()
	sess.browserAttached = true
	if sess.state == StateNew {
		sess.state = StateAttached
	}
	sess.lastSeen = time.Now()
	sess.mu.Unlock()
	return sess, nil
}

// AnyAttached reports whether at least one session currently has a browser
// attached, used by the tools/call handler to decide local-vs-dispatched
// routing (spec §4.7 Routing).
func (d *Dispatcher) AnyAttached() (*Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sess := range d.sessions {
		if sess.BrowserAttached() && sess.State() != StateClosed {
			return sess, true
		}
	}
	return nil, false
}

// SendCommand pushes a command onto the session's SSE stream. Sending a
// capsule command transitions attached/idle -> running.
func (d *Dispatcher) SendCommand(sessionID string, cmd Command) error {
	sess, err := d.get(sessionID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	if cmd.Type == "capsule" {
		if sess.state != StateAttached && sess.state != StateIdle {
			sess.mu.Unlock()
			return gwerr.New(gwerr.Validation, "session: cannot dispatch to session in state %q", sess.state)
		}
		sess.state = StateRunning
		sess.runningRunID = cmd.RunID
		sess.results[cmd.RunID] = nil
	}
	sess.lastSeen = time.Now()
	sess.mu.Unlock()

	select {
	case sess.commands <- cmd:
		return nil
	default:
		return gwerr.New(gwerr.Internal, "session: command queue full")
	}
}

// AddResult enqueues a backchannel event reported by the dispatching
// endpoint's POST /session/:id/result handler. A terminal event (exit or
// error) transitions running -> idle.
func (d *Dispatcher) AddResult(sessionID string, event ResultEvent) error {
	sess, err := d.get(sessionID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	sess.results[event.RunID] = append(sess.results[event.RunID], event)
	if event.IsTerminal() && sess.runningRunID == event.RunID {
		sess.state = StateIdle
		sess.runningRunID = ""
	}
	sess.lastSeen = time.Now()
	sess.mu.Unlock()
	return nil
}

// GetResults returns the events queued for runID without removing them.
func (d *Dispatcher) GetResults(sessionID, runID string) ([]ResultEvent, error) {
	sess, err := d.get(sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	events := sess.results[runID]
	out := make([]ResultEvent, len(events))
	copy(out, events)
	return out, nil
}

// ClearResults drops the queued events for runID once the dispatching
// endpoint has consumed them.
func (d *Dispatcher) ClearResults(sessionID, runID string) error {
	sess, err := d.get(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	delete(sess.results, runID)
	sess.mu.Unlock()
	return nil
}

// AwaitTerminal polls GetResults every pollInterval until a terminal event
// for runID arrives or deadline elapses, coalescing stdout/stderr chunks
// into the returned slice (spec §4.7 Routing). On deadline it synthesizes a
// cancel command and returns a Timeout error.
func (d *Dispatcher) AwaitTerminal(sessionID, runID string, timeout time.Duration) ([]ResultEvent, error) {
	deadline := time.Now().Add(timeout)
	seen := 0
	var collected []ResultEvent

	for {
		events, err := d.GetResults(sessionID, runID)
		if err != nil {
			return collected, err
		}
		if len(events) > seen {
			fresh := events[seen:]
			collected = append(collected, fresh...)
			seen = len(events)
			for _, ev := range fresh {
				if ev.IsTerminal() {
					_ = d.ClearResults(sessionID, runID)
					return collected, nil
				}
			}
		}

		if time.Now().After(deadline) {
			_ = d.SendCommand(sessionID, Command{Type: "cancel", RunID: runID})
			return collected, gwerr.New(gwerr.Timeout, "session: run %q timed out after %s", runID, timeout)
		}
		time.Sleep(pollInterval)
	}
}

// Close transitions a session to closed, sending a best-effort cancel for
// any in-flight run first (spec §4.7).
func (d *Dispatcher) Close(sessionID string) {
	sess, err := d.get(sessionID)
	if err != nil {
		return
	}
	sess.mu.Lock()
	running := sess.runningRunID
	sess.state = StateClosed
	sess.browserAttached = false
	sess.mu.Unlock()

	if running != "" {
		_ = d.SendCommand(sessionID, Command{Type: "cancel", RunID: running})
	}

	d.mu.Lock()
	delete(d.sessions, sessionID)
	d.mu.Unlock()
}

func (d *Dispatcher) gcLoop() {
	ticker := time.NewTicker(d.ttl / 5)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.reapExpired()
		case <-d.stopGC:
			return
		}
	}
}

func (d *Dispatcher) reapExpired() {
	now := time.Now()
	d.mu.Lock()
	var expired []string
	for id, sess := range d.sessions {
		sess.mu.Lock()
		stale := now.Sub(sess.lastSeen) > d.ttl
		sess.mu.Unlock()
		if stale {
			expired = append(expired, id)
		}
	}
	d.mu.Unlock()

	for _, id := range expired {
		log.Info().Str("sessionId", id).Msg("session: reaping idle session")
		d.Close(id)
	}
}

// Shutdown stops the GC loop and sends a shutdown command to every session.
func (d *Dispatcher) Shutdown(gracePeriodMs int64) {
	close(d.stopGC)
	d.mu.Lock()
	ids := make([]string, 0, len(d.sessions))
	for id := range d.sessions {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	for _, id := range ids {
		_ = d.SendCommand(id, Command{Type: "shutdown", GracePeriodMs: gracePeriodMs})
	}
}
