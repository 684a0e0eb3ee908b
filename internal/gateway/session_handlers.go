package gateway

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/buremba/capsulegate/internal/gwerr"
	"github.com/buremba/capsulegate/internal/session"
)

// handleCreateSession implements POST /session: mints a session id and a
// signed attach token the browser executor presents on the SSE channel
// (spec §4.7).
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, token, err := s.dispatcher.CreateSession()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"sessionId":   id,
		"attachToken": token,
	})
}

// handleSessionEvents implements GET /session/{id}/events: the browser
// executor's SSE channel. Attaching validates the token and transitions
// the session new -> attached; thereafter every dispatched Command is
// written as an `event: command` frame, grounded on
// internal/api/ai_handler.go's SSE handler shape (flusher, disabled
// deadlines, heartbeat, disconnect tracking).
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	token := r.URL.Query().Get("token")

	sess, err := s.dispatcher.AttachBrowser(id, token)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	_ = rc.SetReadDeadline(time.Time{})
	flusher.Flush()

	var disconnected atomic.Bool
	heartbeatDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = rc.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
					disconnected.Store(true)
					return
				}
				flusher.Flush()
			case <-heartbeatDone:
				return
			}
		}
	}()
	defer close(heartbeatDone)

	for {
		select {
		case <-r.Context().Done():
			return
		case cmd, ok := <-sess.Commands():
			if !ok || disconnected.Load() {
				return
			}
			data, err := json.Marshal(cmd)
			if err != nil {
				log.Warn().Err(err).Msg("gateway: marshal session command")
				continue
			}
			_ = rc.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if _, err := w.Write([]byte("event: command\ndata: " + string(data) + "\n\n")); err != nil {
				disconnected.Store(true)
				return
			}
			flusher.Flush()
		}
	}
}

// handleSessionResult implements POST /session/{id}/result: the backchannel
// the browser executor POSTs stdout/stderr/exit/error events to (spec
// §4.7, §4.8).
func (s *Server) handleSessionResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var event session.ResultEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeJSONError(w, http.StatusBadRequest, gwerr.New(gwerr.Validation, "invalid result event: %v", err))
		return
	}
	if err := s.dispatcher.AddResult(id, event); err != nil {
		writeJSONError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
