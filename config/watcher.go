package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sourcegraph/conc/panics"

	"github.com/flowwatch/flowwatch/pkg/logger"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher reloads the config file when it changes and hands every valid
// result to the registered callbacks. Invalid files are logged and skipped.
type Watcher struct {
	path     string
	loader   *Loader
	fs       *fsnotify.Watcher
	debounce time.Duration
	log      logger.Logger

	mu        sync.Mutex
	callbacks []func(*Config)

	running  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
	closeErr error
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the file must stay quiet before a reload.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger for reload outcomes.
func WithWatcherLogger(l logger.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher prepares a watcher for path. A nil loader gets a fresh one.
func NewWatcher(path string, loader *Loader, opts ...WatcherOption) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("config path is required for watching")
	}
	if loader == nil {
		loader = NewLoader()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		path:     filepath.Clean(path),
		loader:   loader,
		fs:       fsw,
		debounce: defaultDebounce,
		log:      logger.Global(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Watch blocks until ctx ends or Stop is called. Stop makes it return nil.
func (w *Watcher) Watch(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return errors.New("watcher is already running")
	}
	defer w.running.Store(false)

	// The directory is watched because editors usually replace the file
	// rather than write it in place.
	dir := filepath.Dir(w.path)
	if err := w.fs.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	settle := time.NewTimer(time.Hour)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if w.relevant(ev) {
				settle.Reset(w.debounce)
			}
		case <-settle.C:
			w.reload()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

// reload loads the file and runs the callbacks in registration order. A
// panicking callback is logged and does not stop the ones after it.
func (w *Watcher) reload() {
	cfg, err := w.loader.Load(w.path, nil)
	if err != nil {
		w.log.Error("config reload rejected", "path", w.path, "error", err)
		return
	}
	w.log.Info("config reloaded", "path", w.path)

	w.mu.Lock()
	callbacks := slices.Clone(w.callbacks)
	w.mu.Unlock()

	for _, cb := range callbacks {
		if r := panics.Try(func() { cb(cfg) }); r != nil {
			w.log.Error("config callback panicked", "panic", r.String())
		}
	}
}

// OnChange registers a callback. Callbacks run on the Watch goroutine.
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, callback)
	w.mu.Unlock()
}

// Stop ends Watch and closes the file watcher. Later calls are no-ops.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
		w.closeErr = w.fs.Close()
	})
	return w.closeErr
}

// IsRunning reports whether Watch is active.
func (w *Watcher) IsRunning() bool { return w.running.Load() }

// ConfigPath returns the cleaned path being watched.
func (w *Watcher) ConfigPath() string { return w.path }

// HotReloadableConfig holds the settings a running daemon applies without
// a restart.
type HotReloadableConfig struct {
	LogLevel     string
	PollInterval time.Duration
}

// ExtractHotReloadable picks the hot-reloadable settings out of cfg.
func ExtractHotReloadable(cfg *Config) HotReloadableConfig {
	return HotReloadableConfig{
		LogLevel:     cfg.Log.Level,
		PollInterval: cfg.Monitor.PollInterval,
	}
}

// Changed reports whether any hot-reloadable setting differs.
func (h HotReloadableConfig) Changed(other HotReloadableConfig) bool {
	return h != other
}
