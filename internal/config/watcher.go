package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/muurk/tinyhttps/internal/logging"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the watcher waits after the last file event
// before reloading.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reloads a configuration file when it changes. Only settings that
// can change at runtime are applied: the log level is set directly, the
// rest is handed to the reload callback. Pool size and routes stay as built.
type Watcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher

	mu      sync.Mutex
	timer   *time.Timer
	current *Config
}

// NewWatcher prepares a watcher for path. The directory is watched rather
// than the file so editors that replace the file by rename are seen.
func NewWatcher(path string, current *Config, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		watcher:  fw,
		current:  current,
	}, nil
}

// Current returns the last successfully loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Watch processes file events until ctx is cancelled. onReload, if not nil,
// receives every configuration that loaded and validated. A file that fails
// to load is logged and the previous configuration kept.
func (w *Watcher) Watch(ctx context.Context, onReload func(*Config)) error {
	defer w.watcher.Close()

	logging.Info("Config watcher started",
		zap.String("path", w.path),
		zap.Duration("debounce", w.debounce),
	)

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			logging.Debug("Config file event",
				zap.String("path", event.Name),
				zap.String("op", event.Op.String()),
			)
			w.schedule(func() { w.reload(onReload) })

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			logging.Error("Config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) schedule(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, fn)
}

func (w *Watcher) reload(onReload func(*Config)) {
	cfg, err := Load(w.path)
	if err != nil {
		logging.Error("Config reload failed, keeping previous settings",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = cfg
	w.mu.Unlock()

	if prev == nil || prev.Logging.Level != cfg.Logging.Level {
		logging.SetLevel(cfg.Logging.Level)
		logging.Info("Log level changed", zap.String("level", cfg.Logging.Level))
	}
	if prev != nil && prev.Server != cfg.Server {
		logging.Warn("Server settings changed on disk; restart to apply them")
	}

	if onReload != nil {
		onReload(cfg)
	}
}
