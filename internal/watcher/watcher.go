// Package watcher follows the service configuration file and reports when it
// has been rewritten.
package watcher

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/Fybrk/syncpair/internal/logging"
)

// ConfigWatcher reports changes to a single file. The parent directory is
// watched so that atomic replacements are seen.
type ConfigWatcher struct {
	watcher *fsnotify.Watcher
	dir     string
	name    string
	changes chan struct{}
	errors  chan error
	done    chan struct{}
	closed  sync.Once
	logger  *logging.Logger
}

// NewConfigWatcher starts watching path. The file's directory must exist.
func NewConfigWatcher(path string, logger *logging.Logger) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "unable to create file watcher")
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "unable to watch %s", dir)
	}

	cw := &ConfigWatcher{
		watcher: watcher,
		dir:     dir,
		name:    filepath.Base(path),
		changes: make(chan struct{}, 1),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
		logger:  logger,
	}

	go cw.run()
	return cw, nil
}

// Changes delivers a notice whenever the file was written or replaced.
// Notices that arrive before the previous one was consumed are merged.
func (cw *ConfigWatcher) Changes() <-chan struct{} {
	return cw.changes
}

// Errors delivers watcher failures.
func (cw *ConfigWatcher) Errors() <-chan error {
	return cw.errors
}

// Close stops watching.
func (cw *ConfigWatcher) Close() error {
	var err error
	cw.closed.Do(func() {
		close(cw.done)
		err = cw.watcher.Close()
	})
	return err
}

func (cw *ConfigWatcher) run() {
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			cw.handleEvent(event)

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case cw.errors <- err:
			default:
				cw.logger.Warn(errors.Wrap(err, "dropping watcher error"))
			}

		case <-cw.done:
			return
		}
	}
}

func (cw *ConfigWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Base(event.Name) != cw.name {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	cw.logger.Tracef("%s: %s", event.Name, event.Op)

	select {
	case cw.changes <- struct{}{}:
	default:
	}
}

// Follow reloads the display name after every change and calls rename when
// it differs from the last one seen. It returns when ctx is cancelled or the
// watcher is closed.
func Follow(ctx context.Context, cw *ConfigWatcher, current string, load func() (string, error), rename func(string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-cw.done:
			return
		case err := <-cw.errors:
			cw.logger.Warn(err)
		case <-cw.changes:
			name, err := load()
			if err != nil {
				cw.logger.Warn(errors.Wrap(err, "unable to reload configuration"))
				continue
			}
			if name == "" || name == current {
				continue
			}
			cw.logger.Infof("display name changed from %q to %q", current, name)
			current = name
			rename(name)
		}
	}
}
