package storage

import (
	"errors"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"archivist/pkg/logging"
)

// DefaultDebounceInterval is the quiet period after the last change before
// OnChange fires. A login writes several keys in a row.
const DefaultDebounceInterval = 250 * time.Millisecond

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Dirs are the directories to watch, usually Vault.WatchDirs().
	Dirs []string

	// Debounce overrides DefaultDebounceInterval.
	Debounce time.Duration

	// OnChange is called once per burst of changes.
	OnChange func()
}

// Watcher reports changes made to file-backed storage by other processes.
type Watcher struct {
	mu sync.Mutex

	config    WatcherConfig
	fsWatcher *fsnotify.Watcher
	stopCh    chan struct{}
	running   bool

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// NewWatcher creates a watcher. It does nothing until Start is called.
func NewWatcher(config WatcherConfig) *Watcher {
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounceInterval
	}
	return &Watcher{config: config}
}

// Start begins watching. Starting a running watcher is a no-op.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}
	if len(w.config.Dirs) == 0 {
		return errors.New("storage: nothing to watch")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, dir := range w.config.Dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return err
		}
	}

	w.fsWatcher = fsw
	w.stopCh = make(chan struct{})
	w.running = true

	// Capture channels before releasing the lock so Stop can't race us.
	go w.processEvents(fsw.Events, fsw.Errors, w.stopCh)

	logging.Debug("Storage", "Watching %d storage directories for external changes", len(w.config.Dirs))
	return nil
}

func (w *Watcher) processEvents(eventsCh <-chan fsnotify.Event, errorsCh <-chan error, stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return

		case event, ok := <-eventsCh:
			if !ok {
				return
			}
			if !isValueFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			logging.Debug("Storage", "Storage file changed: %s", event.Name)
			w.triggerDebounced()

		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			logging.Error("Storage", err, "fsnotify error")
		}
	}
}

func (w *Watcher) triggerDebounced() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.config.Debounce, func() {
		w.mu.Lock()
		running := w.running
		callback := w.config.OnChange
		w.mu.Unlock()

		if running && callback != nil {
			callback()
		}
	})
}

// Stop stops watching. Pending debounced callbacks are discarded.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	fsw := w.fsWatcher
	w.fsWatcher = nil
	w.mu.Unlock()

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceMu.Unlock()

	if fsw != nil {
		if err := fsw.Close(); err != nil {
			logging.Debug("Storage", "Error closing fsnotify watcher: %v", err)
		}
	}
}
