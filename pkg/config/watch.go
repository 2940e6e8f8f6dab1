package config

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 100 * time.Millisecond

// Watcher reloads the config file when it changes on disk and hands
// the new Config to a callback. Editors that write via rename are
// handled by watching the parent directory.
type Watcher struct {
	path     string
	onChange func(Config)
	log      *slog.Logger

	fsw    *fsnotify.Watcher
	stopCh chan struct{}
	doneCh chan struct{}
}

// Watch starts watching path. The callback runs on the watcher
// goroutine, debounced, only after a successful reload; parse errors
// are logged and the previous config stays in effect.
func Watch(path string, onChange func(Config), log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     path,
		onChange: onChange,
		log:      log,
		fsw:      fsw,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(watchDebounce)
		case <-timer.C:
			cfg, err := Load(w.path)
			if err != nil {
				w.log.Warn("config: reload failed, keeping previous", "error", err)
				continue
			}
			w.log.Info("config: reloaded", "path", w.path)
			w.onChange(cfg)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("config: watch error", "error", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() {
	close(w.stopCh)
	_ = w.fsw.Close()
	<-w.doneCh
}
