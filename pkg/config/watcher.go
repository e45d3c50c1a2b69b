package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ReloadFunc receives the freshly loaded configuration after a file change.
type ReloadFunc func(cfg *Config)

// Watcher watches the configuration file and reloads it on change. Only a
// subset of settings can take effect at runtime (currently the log level);
// the reload callback decides what to apply.
type Watcher struct {
	path     string
	onReload ReloadFunc
	logger   zerolog.Logger

	watcher *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
}

// NewWatcher starts watching the config file's directory. Editors often
// replace files on save, so watching the directory catches renames too.
func NewWatcher(path string, logger zerolog.Logger, onReload ReloadFunc) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}

	w := &Watcher{
		path:     path,
		onReload: onReload,
		logger:   logger.With().Str("component", "config-watcher").Logger(),
		watcher:  fsWatcher,
		done:     make(chan struct{}),
	}
	go w.watch()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) watch() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).
				Msg("Config file changed")
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Config watcher error")
		}
	}
}

// scheduleReload debounces bursts of write events into one reload.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(250*time.Millisecond, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Ignoring invalid config after change")
		return
	}
	w.logger.Info().Msg("Config reloaded")
	w.onReload(cfg)
}
