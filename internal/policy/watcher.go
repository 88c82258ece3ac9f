package policy

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads an Engine's rules when the policy file changes on
// disk. A reload failure keeps the previous rules and is reported via
// the onError callback.
type Watcher struct {
	engine  *Engine
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Watch starts watching path and applying rule changes to engine.
// onError may be nil.
func Watch(engine *Engine, path string, onError func(error)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch policy file: %w", err)
	}

	w := &Watcher{
		engine:  engine,
		path:    path,
		watcher: fw,
		done:    make(chan struct{}),
	}
	go w.run(onError)
	return w, nil
}

func (w *Watcher) run(onError func(error)) {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Let the write settle before re-reading.
			time.Sleep(100 * time.Millisecond)
			rules, err := LoadRules(w.path)
			if err == nil {
				err = w.engine.Reload(rules)
			}
			if err != nil && onError != nil {
				onError(err)
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
