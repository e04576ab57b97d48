package config

import (
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file on change and pushes the result into a
// Holder. Editors that replace files on save emit Create/Rename instead of
// Write, so all three are treated as a change.
type Watcher struct {
	path    string
	holder  *Holder
	logger  *log.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func Watch(path string, holder *Holder, logger *log.Logger) (*Watcher, error) {
	if logger == nil {
		logger = log.Default()
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: a rename-on-save briefly removes
	// the file and would kill a direct watch.
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}
	w := &Watcher{
		path:    path,
		holder:  holder,
		logger:  logger,
		watcher: fsWatcher,
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
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
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Printf("config reload failed, keeping previous config: %v", err)
				continue
			}
			w.holder.Store(cfg)
			w.logger.Printf("config reloaded from %s", w.path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) Close() error {
	if w == nil || w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	<-w.done
	return err
}
