package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// reloadDebounce coalesces the burst of filesystem events an editor save
// produces into a single reload.
const reloadDebounce = 200 * time.Millisecond

// Watcher reloads the configuration whenever the config file changes on
// disk and hands each validated result to the callback. Edits that fail
// validation are logged and skipped, so a half-saved file never replaces a
// running configuration.
type Watcher struct {
	path    string
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	onLoad  func(*Config)
	stop    chan struct{}
}

// NewWatcher creates a watcher for configPath. An empty path watches the
// default location. onLoad receives every successfully loaded config.
func NewWatcher(configPath string, logger *zap.Logger, onLoad func(*Config)) (*Watcher, error) {
	if onLoad == nil {
		return nil, errors.New("config: nil onLoad callback")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "banditd", "config.yaml")
	}
	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	return &Watcher{
		path:    configPath,
		logger:  logger,
		watcher: watcher,
		onLoad:  onLoad,
		stop:    make(chan struct{}),
	}, nil
}

// Start begins watching for config changes. It watches the containing
// directory rather than the file itself because editors typically replace
// the file by rename, which would silently drop a file-level watch.
//
// Call Stop to clean up resources.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watching config directory %s: %w", dir, err)
	}

	go w.processEvents(ctx)

	return nil
}

// Stop stops the watcher and cleans up resources.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		// Already stopped
		return
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}
}

// Path returns the watched config file path.
func (w *Watcher) Path() string {
	return w.path
}

// processEvents debounces filesystem events for the config file and reloads
// once the burst settles.
func (w *Watcher) processEvents(ctx context.Context) {
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// reload loads and validates the file, keeping the previous configuration
// when the new one is unusable.
func (w *Watcher) reload() {
	cfg, err := LoadWithFile(w.path)
	if err != nil {
		w.logger.Warn("config reload skipped",
			zap.String("path", w.path),
			zap.Error(err))
		return
	}

	w.logger.Info("config reloaded", zap.String("path", w.path))
	w.onLoad(cfg)
}
