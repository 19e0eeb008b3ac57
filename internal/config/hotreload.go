package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeHandler receives the freshly loaded config after the file on disk
// changed.
type ChangeHandler func(cfg *Config)

// Watcher reloads the config file when it changes. It watches the parent
// directory rather than the file itself: editors that save by renaming a
// temp file over the original would otherwise detach the watch, and a
// config file created after startup would never be seen.
type Watcher struct {
	path     string
	dir      string
	base     string
	fw       *fsnotify.Watcher
	debounce time.Duration
	stopChan chan struct{}

	mu       sync.Mutex
	handlers []ChangeHandler
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		path:     path,
		dir:      filepath.Dir(path),
		base:     filepath.Base(path),
		fw:       fw,
		debounce: 300 * time.Millisecond,
	}, nil
}

// OnChange registers a handler invoked after every successful reload.
func (w *Watcher) OnChange(handler ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Start begins watching. It fails when the config directory does not exist.
func (w *Watcher) Start() error {
	if err := w.fw.Add(w.dir); err != nil {
		return err
	}

	w.stopChan = make(chan struct{})
	go w.loop()

	slog.Info("config watcher started", "path", w.path)
	return nil
}

// Stop halts the watcher.
func (w *Watcher) Stop() {
	if w.stopChan != nil {
		close(w.stopChan)
	}
	w.fw.Close()
}

func (w *Watcher) loop() {
	var debounce *time.Timer

	for {
		select {
		case <-w.stopChan:
			if debounce != nil {
				debounce.Stop()
			}
			return

		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != w.base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}

			// Editors fire several events per save; collapse them into
			// one reload.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher error", "error", err)
		}
	}
}

// reload re-reads the file and fans out to the handlers. A deleted file is
// not an error: Load falls back to defaults, so removing the config reverts
// the reloadable settings.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		slog.Warn("config reload failed, keeping previous settings",
			"path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	handlers := make([]ChangeHandler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.Unlock()

	for _, h := range handlers {
		h(cfg)
	}
}
