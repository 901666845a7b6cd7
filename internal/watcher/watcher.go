// Package watcher turns files dropped into an inbox folder into callbacks
// once they stop changing.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

type Watcher interface {
	Watch(ctx context.Context, path string) error
	Stop() error
	OnChange(callback func(path string, event EventType))
}

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	}
	return "unknown"
}

// DefaultSettle is how long a file must be quiet before it is reported.
const DefaultSettle = 2 * time.Second

// InboxWatcher reports new files in a single directory. A file is reported
// as EventCreate once no write, create or rename event has touched it for
// the settle period, so copies in progress are not picked up half-written.
// A reported file is not reported again until it is removed or renamed.
type InboxWatcher struct {
	logger *slog.Logger
	settle time.Duration
	accept func(path string) bool

	mu       sync.Mutex
	callback func(path string, event EventType)
	timers   map[string]*time.Timer
	emitted  map[string]bool
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewInboxWatcher creates a watcher. accept filters paths; nil accepts all.
func NewInboxWatcher(settle time.Duration, accept func(path string) bool, logger *slog.Logger) *InboxWatcher {
	if settle <= 0 {
		settle = DefaultSettle
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InboxWatcher{
		logger:  logger,
		settle:  settle,
		accept:  accept,
		timers:  make(map[string]*time.Timer),
		emitted: make(map[string]bool),
		stopped: make(chan struct{}),
	}
}

func (w *InboxWatcher) OnChange(callback func(path string, event EventType)) {
	w.mu.Lock()
	w.callback = callback
	w.mu.Unlock()
}

// Watch creates path if needed and blocks until ctx is done or Stop is
// called.
func (w *InboxWatcher) Watch(ctx context.Context, path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	w.logger.Info("watching inbox", "path", path, "settle", w.settle.String())
	defer w.cancelTimers()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.stopped:
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("inbox events dropped", "error", err)
				continue
			}
			w.logger.Error("inbox watcher error", "error", err)
		}
	}
}

func (w *InboxWatcher) Stop() error {
	w.stopOnce.Do(func() { close(w.stopped) })
	return nil
}

func (w *InboxWatcher) handle(event fsnotify.Event) {
	name := filepath.Clean(event.Name)
	if filepath.Base(name)[0] == '.' {
		return
	}
	if w.accept != nil && !w.accept(name) {
		return
	}

	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		w.arm(name)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// Rename reports the old name; the new name arrives as Create.
		w.forget(name)
		if w.disarm(name) {
			return
		}
		w.emit(name, EventDelete)
	}
}

func (w *InboxWatcher) arm(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.emitted[name] {
		return
	}
	if t, ok := w.timers[name]; ok {
		t.Reset(w.settle)
		return
	}
	w.timers[name] = time.AfterFunc(w.settle, func() { w.settled(name) })
}

// disarm drops a pending timer and reports whether one existed.
func (w *InboxWatcher) disarm(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.timers[name]
	if ok {
		t.Stop()
		delete(w.timers, name)
	}
	return ok
}

func (w *InboxWatcher) forget(name string) {
	w.mu.Lock()
	delete(w.emitted, name)
	w.mu.Unlock()
}

func (w *InboxWatcher) settled(name string) {
	w.mu.Lock()
	delete(w.timers, name)
	w.mu.Unlock()

	info, err := os.Stat(name)
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	w.mu.Lock()
	w.emitted[name] = true
	w.mu.Unlock()
	w.emit(name, EventCreate)
}

func (w *InboxWatcher) emit(name string, event EventType) {
	w.mu.Lock()
	cb := w.callback
	w.mu.Unlock()

	w.logger.Debug("inbox change", "path", name, "event", event.String())
	if cb != nil {
		cb(name, event)
	}
}

func (w *InboxWatcher) cancelTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for name, t := range w.timers {
		t.Stop()
		delete(w.timers, name)
	}
}
