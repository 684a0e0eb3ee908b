package gwconfig

import (
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher hot-reloads a Config's default policy and MCP upstream list on
// file change, the way config.NewConfigWatcher watches .env in the teacher.
// SIGHUP-triggered reload (cmd/pulse/main.go's reloadChan) calls Reload
// directly instead of waiting on the fsnotify event.
type Watcher struct {
	mu  sync.RWMutex
	cfg *Config

	fsw    *fsnotify.Watcher
	done   chan struct{}
	onLoad func(*Config)
}

// NewWatcher starts watching cfg's source file for writes. onLoad, if
// non-nil, is invoked with the freshly reloaded Config after every
// successful reload (from fsnotify or from Reload()).
func NewWatcher(cfg *Config, onLoad func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(cfg.path); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return &Watcher{cfg: cfg, fsw: fsw, done: make(chan struct{}), onLoad: onLoad}, nil
}

// Start runs the fsnotify event loop in a background goroutine.
func (w *Watcher) Start() {
	go w.loop()
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.Reload()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("gwconfig: watcher error")
		case <-w.done:
			return
		}
	}
}

// Reload re-reads the config file from disk and, on success, swaps it in
// and invokes onLoad. Failures are logged and the previous config is kept,
// mirroring the teacher's "log and continue" handling of a bad .env write.
func (w *Watcher) Reload() {
	w.mu.RLock()
	path := w.cfg.path
	w.mu.RUnlock()

	fresh, err := Load(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("gwconfig: reload failed, keeping previous config")
		return
	}

	w.mu.Lock()
	w.cfg = fresh
	w.mu.Unlock()

	log.Info().Str("path", path).Msg("gwconfig: configuration reloaded")
	if w.onLoad != nil {
		w.onLoad(fresh)
	}
}

// Current returns the most recently loaded Config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Stop closes the underlying fsnotify watcher.
func (w *Watcher) Stop() {
	close(w.done)
	_ = w.fsw.Close()
}

// DetectContainer reports whether the process appears to be running inside
// a container, used by cmd/gateway to decide whether --bind should
// auto-switch from 127.0.0.1 to 0.0.0.0 (spec §6).
func DetectContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	data, err := os.ReadFile("/proc/1/cgroup")
	if err != nil {
		return false
	}
	s := string(data)
	return strings.Contains(s, "docker") || strings.Contains(s, "kubepods") || strings.Contains(s, "containerd")
}
