// Package control provides a file-based operator channel for a running
// coordinator. Dropping signal files into the control directory requests a
// graceful shutdown, a scheduling pause or resume, or the cancellation of
// a single workflow, without requiring any network surface.
package control

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Signal file names inside the control directory.
const (
	// shutdownFile requests a graceful coordinator shutdown.
	shutdownFile = "shutdown"
	// cancelPrefix plus a workflow ID requests that workflow's cancellation.
	cancelPrefix = "cancel-"
	// pauseFile suspends new task assignments.
	pauseFile = "pause"
	// resumeFile lifts a pause.
	resumeFile = "resume"
)

// Handlers receives control signals. Any handler may be nil.
type Handlers struct {
	// OnCancel is invoked with the workflow ID of each cancel file.
	OnCancel func(workflowID string)
	// OnPause is invoked when a pause file appears.
	OnPause func()
	// OnResume is invoked when a resume file appears while paused.
	OnResume func()
}

// Watcher monitors the control directory for signal files. Detection uses
// fsnotify with a stat fallback, so a missed event never loses a signal.
type Watcher struct {
	dir      string
	handlers Handlers

	mu             sync.RWMutex
	shutdownSignal bool
	paused         bool
	seenCancels    map[string]bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New creates a Watcher over dir, creating it if needed. If the fsnotify
// watcher cannot start, the Watcher still works through the stat fallback
// in ShouldShutdown.
func New(dir string, h Handlers) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	w := &Watcher{
		dir:         dir,
		handlers:    h,
		seenCancels: make(map[string]bool),
		done:        make(chan struct{}),
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return w, nil
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return w, nil
	}
	w.watcher = fw
	go w.watch()

	return w, nil
}

// watch reacts to signal file creation.
func (w *Watcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.handleSignal(filepath.Base(event.Name))
		case <-w.watcher.Errors:
			// Keep watching; the stat fallback covers missed events.
		}
	}
}

func (w *Watcher) handleSignal(name string) {
	switch {
	case name == shutdownFile:
		w.mu.Lock()
		w.shutdownSignal = true
		w.mu.Unlock()
		log.Printf("[control] shutdown signal received")
	case strings.HasPrefix(name, cancelPrefix):
		workflowID := strings.TrimPrefix(name, cancelPrefix)
		if workflowID == "" {
			return
		}
		w.mu.Lock()
		already := w.seenCancels[workflowID]
		w.seenCancels[workflowID] = true
		w.mu.Unlock()
		if already {
			return
		}
		log.Printf("[control] cancel signal for workflow %s", workflowID)
		if w.handlers.OnCancel != nil {
			w.handlers.OnCancel(workflowID)
		}
	case name == pauseFile:
		w.mu.Lock()
		already := w.paused
		w.paused = true
		w.mu.Unlock()
		if already {
			return
		}
		log.Printf("[control] pause signal received")
		if w.handlers.OnPause != nil {
			w.handlers.OnPause()
		}
	case name == resumeFile:
		w.mu.Lock()
		wasPaused := w.paused
		w.paused = false
		w.mu.Unlock()
		if !wasPaused {
			return
		}
		log.Printf("[control] resume signal received")
		if w.handlers.OnResume != nil {
			w.handlers.OnResume()
		}
		os.Remove(filepath.Join(w.dir, pauseFile))
		os.Remove(filepath.Join(w.dir, resumeFile))
	}
}

// ShouldShutdown returns true if a shutdown signal has been received. It
// also stats the signal file directly in case the watcher missed it.
func (w *Watcher) ShouldShutdown() bool {
	if _, err := os.Stat(filepath.Join(w.dir, shutdownFile)); err == nil {
		w.mu.Lock()
		w.shutdownSignal = true
		w.mu.Unlock()
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.shutdownSignal
}

// SendShutdown creates the shutdown signal file.
func (w *Watcher) SendShutdown() error {
	return WriteShutdown(w.dir)
}

// SendCancel creates a cancel signal file for the workflow.
func (w *Watcher) SendCancel(workflowID string) error {
	return WriteCancel(w.dir, workflowID)
}

// WriteShutdown creates the shutdown signal file in dir. It is how a second
// process asks a running engine to stop.
func WriteShutdown(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	path := filepath.Join(dir, shutdownFile)
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

// WriteCancel creates a cancel signal file for the workflow in dir.
func WriteCancel(dir, workflowID string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	path := filepath.Join(dir, cancelPrefix+workflowID)
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

// WritePause creates the pause signal file in dir.
func WritePause(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	path := filepath.Join(dir, pauseFile)
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

// WriteResume creates the resume signal file in dir.
func WriteResume(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	path := filepath.Join(dir, resumeFile)
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

// ClearSignals removes all signal files and resets signal state.
func (w *Watcher) ClearSignals() {
	w.mu.Lock()
	w.shutdownSignal = false
	w.paused = false
	w.seenCancels = make(map[string]bool)
	w.mu.Unlock()

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if name == shutdownFile || name == pauseFile || name == resumeFile ||
			strings.HasPrefix(name, cancelPrefix) {
			os.Remove(filepath.Join(w.dir, name))
		}
	}
}

// Dir returns the control directory path.
func (w *Watcher) Dir() string {
	return w.dir
}

// Close shuts down the watcher.
func (w *Watcher) Close() {
	close(w.done)
	if w.watcher != nil {
		w.watcher.Close()
	}
}
