// Package watcher provides file system watching of a reader-app session
// file so position changes can be pushed without polling.
//
// Reader applications that cannot call the engine directly drop their
// current position into a small JSON session file
// ({"path": ..., "position": ..., "total": ...}); the watcher decodes
// each rewrite and emits it for a debounced push.
package watcher

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Session is one decoded observation from the session file.
type Session struct {
	// Path is the document the reader has open.
	Path string `json:"path"`
	// Position is the current reading position.
	Position int64 `json:"position"`
	// Total is the document length in the same unit as Position.
	Total int64 `json:"total"`
}

// Validate checks if the Session has usable field values.
func (s *Session) Validate() error {
	if s.Path == "" {
		return fmt.Errorf("path is required")
	}
	if s.Position < 0 {
		return fmt.Errorf("position must not be negative (got %d)", s.Position)
	}
	return nil
}

// SessionWatcher watches a single session file for rewrites.
// It uses fsnotify for cross-platform file system event monitoring and
// watches the file's directory, so atomic temp-and-rename writers are
// seen as well as in-place writes.
type SessionWatcher struct {
	watcher  *fsnotify.Watcher
	sessions chan Session
	errors   chan error
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	file     string
}

// New creates a SessionWatcher for the given session file path.
// The watcher must be started with Start() before it will emit sessions.
func New(file string) (*SessionWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	abs, err := filepath.Abs(file)
	if err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to resolve session file path: %w", err)
	}

	return &SessionWatcher{
		watcher:  watcher,
		sessions: make(chan Session, 16),
		errors:   make(chan error, 4),
		done:     make(chan struct{}),
		file:     abs,
	}, nil
}

// Start begins watching the session file's directory for changes.
// If the session file already exists, its current content is emitted
// immediately so a restart doesn't miss the latest position.
func (sw *SessionWatcher) Start() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.running {
		return fmt.Errorf("watcher already running")
	}

	dir := filepath.Dir(sw.file)
	if err := sw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch session directory %s: %w", dir, err)
	}

	sw.running = true
	sw.wg.Add(1)
	go sw.processEvents()

	if session, ok := sw.readSession(); ok {
		sw.sessions <- session
	}

	return nil
}

// Stop stops watching and cleans up resources. It blocks until the
// event processing goroutine has exited.
func (sw *SessionWatcher) Stop() error {
	sw.mu.Lock()
	if !sw.running {
		sw.mu.Unlock()
		return nil
	}
	sw.running = false
	sw.mu.Unlock()

	close(sw.done)

	if err := sw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	sw.wg.Wait()

	close(sw.sessions)
	close(sw.errors)

	return nil
}

// Sessions returns the channel that emits decoded session observations.
// This channel is closed when the watcher is stopped.
func (sw *SessionWatcher) Sessions() <-chan Session {
	return sw.sessions
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (sw *SessionWatcher) Errors() <-chan error {
	return sw.errors
}

// processEvents converts fsnotify events on the session file into
// decoded Session values.
func (sw *SessionWatcher) processEvents() {
	defer sw.wg.Done()

	for {
		select {
		case <-sw.done:
			return

		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if !sw.isSessionEvent(event) {
				continue
			}
			session, ok := sw.readSession()
			if !ok {
				continue
			}
			select {
			case sw.sessions <- session:
			case <-sw.done:
				return
			}

		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case sw.errors <- err:
			case <-sw.done:
				return
			}
		}
	}
}

// isSessionEvent reports whether an fsnotify event is a content change
// of the watched session file. Deletions and chmods are ignored.
func (sw *SessionWatcher) isSessionEvent(event fsnotify.Event) bool {
	abs, err := filepath.Abs(event.Name)
	if err != nil || abs != sw.file {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

// readSession decodes the current session file. Partial writes and
// malformed content report ok=false; the next rewrite will be seen as a
// fresh event.
func (sw *SessionWatcher) readSession() (Session, bool) {
	data, err := os.ReadFile(sw.file)
	if err != nil {
		return Session{}, false
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return Session{}, false
	}
	if err := session.Validate(); err != nil {
		return Session{}, false
	}
	return session, true
}

// IsRunning returns true if the watcher is currently running.
func (sw *SessionWatcher) IsRunning() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.running
}
