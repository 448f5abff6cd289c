package config

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the config file and reloads it after edits settle.
type Watcher struct {
	baseDir  string
	onChange func(*Config)

	watcher *fsnotify.Watcher

	// Debouncing
	pendingMu    sync.Mutex
	pendingAt    time.Time
	pending      bool
	debounceTime time.Duration
}

// WatcherConfig contains watcher configuration.
type WatcherConfig struct {
	BaseDir      string
	OnChange     func(*Config)
	DebounceTime time.Duration // Default: 500ms
}

// NewWatcher creates a new config file watcher.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debounceTime := cfg.DebounceTime
	if debounceTime == 0 {
		debounceTime = 500 * time.Millisecond
	}

	return &Watcher{
		baseDir:      cfg.BaseDir,
		onChange:     cfg.OnChange,
		watcher:      watcher,
		debounceTime: debounceTime,
	}, nil
}

// Watch starts watching for config changes.
// It blocks until the context is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	// Watch the directory, not the file: editors replace the file and
	// a watch on the old inode goes stale.
	if err := w.watcher.Add(Dir(w.baseDir)); err != nil {
		return err
	}

	slog.Info("watching for config changes", "path", Path(w.baseDir))

	// Start debounce processor
	go w.processDebounced(ctx)

	// Event loop
	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping config watcher")
			return w.watcher.Close()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}

// handleEvent marks a reload pending when the config file changed.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	if event.Name != Path(w.baseDir) {
		return
	}

	w.pendingMu.Lock()
	w.pending = true
	w.pendingAt = time.Now()
	w.pendingMu.Unlock()

	slog.Debug("config file changed", "op", event.Op.String())
}

// processDebounced reloads the config once edits have been stable for the
// debounce period.
func (w *Watcher) processDebounced(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pendingMu.Lock()
			ready := w.pending && time.Since(w.pendingAt) >= w.debounceTime
			if ready {
				w.pending = false
			}
			w.pendingMu.Unlock()

			if !ready {
				continue
			}

			cfg, warnings, err := Load(w.baseDir)
			if err != nil {
				slog.Warn("failed to reload config", "error", err)
				continue
			}
			for _, warning := range warnings {
				slog.Debug("config warning", "message", warning)
			}
			if errs := Validate(cfg); len(errs) > 0 {
				slog.Warn("ignoring invalid config", "errors", len(errs))
				continue
			}

			slog.Info("config reloaded")
			if w.onChange != nil {
				w.onChange(cfg)
			}
		}
	}
}

// Close closes the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
