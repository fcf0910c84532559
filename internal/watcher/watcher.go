// Package watcher reloads the assistant when the documents directory changes.
package watcher

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const defaultDebounce = 500 * time.Millisecond

// ReloadFunc rebuilds the pipeline after a change.
type ReloadFunc func() error

type Options struct {
	Debounce   time.Duration
	Extensions []string
	Logger     *logrus.Entry
}

// Watcher collapses bursts of filesystem events into a single reload.
type Watcher struct {
	dir        string
	reload     ReloadFunc
	debounce   time.Duration
	extensions map[string]bool
	logger     *logrus.Entry
	watcher    *fsnotify.Watcher

	mu      sync.Mutex
	timer   *time.Timer
	reloads int
	done    chan struct{}
}

func New(dir string, reload ReloadFunc, opts Options) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".txt"}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.WithField("component", "watcher")
	}

	exts := make(map[string]bool, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		exts[strings.ToLower(ext)] = true
	}

	return &Watcher{
		dir:        dir,
		reload:     reload,
		debounce:   opts.Debounce,
		extensions: exts,
		logger:     opts.Logger,
		watcher:    fw,
		done:       make(chan struct{}),
	}, nil
}

// Run processes events until ctx is cancelled or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.done)
	w.logger.WithField("dir", w.Dir()).Info("Watching documents directory")

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				w.stopTimer()
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.WithFields(logrus.Fields{"file": event.Name, "op": event.Op.String()}).Debug("Document changed")
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				w.stopTimer()
				return
			}
			w.logger.WithError(err).Warn("Watcher error")
		}
	}
}

// SetDir moves the watch to dir, for when a reload changes the documents directory.
func (w *Watcher) SetDir(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if filepath.Clean(dir) == filepath.Clean(w.dir) {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	if err := w.watcher.Remove(w.dir); err != nil {
		w.logger.WithError(err).WithField("dir", w.dir).Debug("Failed to drop previous watch")
	}
	w.logger.WithFields(logrus.Fields{"from": w.dir, "to": dir}).Info("Documents directory changed")
	w.dir = dir
	return nil
}

// Dir returns the directory being watched.
func (w *Watcher) Dir() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dir
}

// Close stops the underlying watcher. Run returns once its channels drain.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// Done is closed when Run returns.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Reloads returns how many reloads the watcher has triggered.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	return w.extensions[strings.ToLower(filepath.Ext(event.Name))]
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Reset(w.debounce)
		return
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	w.timer = nil
	w.reloads++
	w.mu.Unlock()

	if err := w.reload(); err != nil {
		w.logger.WithError(err).Error("Reload after document change failed")
		return
	}
	w.logger.Info("Reloaded after document change")
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
