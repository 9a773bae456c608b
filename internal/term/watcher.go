package term

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"ucode/internal/logging"
)

// ConfigWatcher watches the workspace config file for changes and triggers
// a reload callback. It is a bounded-lifetime background worker: change
// notices are only printed while the IO phase is Background, so a reload
// message never corrupts a prompt or an in-flight render.
type ConfigWatcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	phases      *PhaseManager
	out         io.Writer
	configPath  string
	onReload    func() error
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewConfigWatcher creates a watcher for configPath. onReload is invoked
// after changes settle past the debounce window.
func NewConfigWatcher(configPath string, phases *PhaseManager, out io.Writer, onReload func() error) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &ConfigWatcher{
		watcher:     watcher,
		phases:      phases,
		out:         out,
		configPath:  configPath,
		onReload:    onReload,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond, // Debounce rapid saves
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching the config directory. Non-blocking; the watcher
// runs in a goroutine until Stop or context cancellation.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	cw.mu.Lock()
	if cw.running {
		cw.mu.Unlock()
		return nil // Already running
	}
	cw.running = true
	cw.mu.Unlock()

	// Watch the directory, not the file: editors replace files on save
	// and a file watch dies with the old inode.
	dir := filepath.Dir(cw.configPath)
	if err := cw.watcher.Add(dir); err != nil {
		logging.Get(logging.CategoryWatcher).Warn("initial watch failed (dir may not exist): %v", err)
	} else {
		logging.Watcher("watching %s", dir)
	}

	go cw.run(ctx)
	return nil
}

// Stop stops the watcher and waits for cleanup.
func (cw *ConfigWatcher) Stop() {
	cw.mu.Lock()
	if !cw.running {
		cw.mu.Unlock()
		return
	}
	cw.running = false
	cw.mu.Unlock()

	close(cw.stopCh)
	<-cw.doneCh

	if err := cw.watcher.Close(); err != nil {
		logging.Get(logging.CategoryWatcher).Error("error closing watcher: %v", err)
	}
}

// run is the main event loop.
func (cw *ConfigWatcher) run(ctx context.Context) {
	defer close(cw.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-cw.stopCh:
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			cw.handleEvent(event)

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWatcher).Error("watch error: %v", err)

		case <-debounceTicker.C:
			cw.processDebounced()
		}
	}
}

// handleEvent records a config-file event for debounced processing.
func (cw *ConfigWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(cw.configPath) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return // Ignore chmod, remove, etc.
	}

	logging.Watcher("config event: %s %s", event.Op, event.Name)

	cw.mu.Lock()
	cw.debounceMap[event.Name] = time.Now()
	cw.mu.Unlock()
}

// processDebounced fires the reload for events settled past the window.
func (cw *ConfigWatcher) processDebounced() {
	cw.mu.Lock()
	now := time.Now()
	fire := false
	for path, eventTime := range cw.debounceMap {
		if now.Sub(eventTime) >= cw.debounceDur {
			delete(cw.debounceMap, path)
			fire = true
		}
	}
	cw.mu.Unlock()

	if !fire {
		return
	}

	if err := cw.onReload(); err != nil {
		logging.Get(logging.CategoryWatcher).Error("config reload failed: %v", err)
		cw.notify(fmt.Sprintf("config reload failed: %v", err))
		return
	}

	logging.Watcher("config reloaded")
	cw.notify("config reloaded")
}

// notify prints a one-line notice, but only when the terminal is idle.
// During Input or Render the notice is dropped rather than risked
// corrupting the foreground's output.
func (cw *ConfigWatcher) notify(msg string) {
	if cw.phases.Current() != PhaseBackground {
		logging.Watcher("suppressed notice (phase %s): %s", cw.phases.Current(), msg)
		return
	}
	fmt.Fprintf(cw.out, "\r\033[K[watcher] %s\n", msg)
}
