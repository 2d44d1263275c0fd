package config

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/dshills/flowsense/internal/event"
)

// TopicReloaded is published after a successful live reload. The payload
// is the freshly loaded Config.
const TopicReloaded event.Topic = "config:reloaded"

// DefaultReloadDebounce coalesces editor write bursts into one reload.
const DefaultReloadDebounce = 100 * time.Millisecond

// Watcher reloads the config file on change and announces the result.
type Watcher struct {
	path     string
	bus      *event.Bus
	log      *logrus.Entry
	debounce time.Duration

	fsw *fsnotify.Watcher

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
	done   chan struct{}
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithReloadDebounce sets the reload debounce window.
func WithReloadDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatchLogger sets the structured logger.
func WithWatchLogger(log *logrus.Entry) WatchOption {
	return func(w *Watcher) {
		if log != nil {
			w.log = log
		}
	}
}

// Watch starts watching path's directory for changes to the config file.
// The directory is watched rather than the file itself so atomic
// rename-replace saves keep working.
func Watch(path string, bus *event.Bus, opts ...WatchOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     filepath.Clean(path),
		bus:      bus,
		log:      discardEntry(),
		debounce: DefaultReloadDebounce,
		fsw:      fsw,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename) {
				w.schedule()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("config watch error")
		}
	}
}

// schedule restarts the debounce timer; only the trailing edge reloads.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	cfg, err := Load(w.path)
	if err != nil {
		w.log.WithError(err).Warn("config reload failed")
		return
	}

	w.log.WithField("path", w.path).Info("config reloaded")
	w.bus.PublishContext(context.Background(), TopicReloaded, cfg)
}

// Close stops watching. Pending debounced reloads are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWatcherClosed
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	<-w.done
	return err
}

func discardEntry() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}
