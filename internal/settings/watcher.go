package settings

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vyrodovalexey/localrest/internal/coalesce"
	"github.com/vyrodovalexey/localrest/internal/observability"
)

// ChangeCallback is called with freshly loaded settings after an external
// edit of the settings file.
type ChangeCallback func(*Settings)

// ErrorCallback is called when an external edit cannot be loaded.
type ErrorCallback func(error)

// Watcher watches a FileStore's file for edits made outside the process.
type Watcher struct {
	store         *FileStore
	path          string
	watcher       *fsnotify.Watcher
	callback      ChangeCallback
	errorCallback ErrorCallback
	logger        observability.Logger
	debounceDelay time.Duration
	clock         coalesce.Clock
	reloader      *coalesce.Coalescer[struct{}]
	mu            sync.Mutex
	stopCh        chan struct{}
	stoppedCh     chan struct{}
	running       bool
}

// WatcherOption is a functional option for configuring the watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay sets the debounce delay for file events.
func WithDebounceDelay(delay time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounceDelay = delay
	}
}

// WithLogger sets the logger for the watcher.
func WithLogger(logger observability.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithErrorCallback sets the error callback for the watcher.
func WithErrorCallback(callback ErrorCallback) WatcherOption {
	return func(w *Watcher) {
		w.errorCallback = callback
	}
}

// WithClock sets the clock used for debouncing.
func WithClock(clock coalesce.Clock) WatcherOption {
	return func(w *Watcher) {
		w.clock = clock
	}
}

// NewWatcher creates a watcher for store's file.
func NewWatcher(store *FileStore, callback ChangeCallback, opts ...WatcherOption) (*Watcher, error) {
	absPath, err := filepath.Abs(store.Path())
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		store:         store,
		path:          absPath,
		watcher:       fsWatcher,
		callback:      callback,
		debounceDelay: 100 * time.Millisecond,
		logger:        observability.NopLogger(),
		clock:         coalesce.RealClock(),
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	w.reloader = coalesce.Wrap(func(struct{}) { w.reload() }, w.debounceDelay, coalesce.WithClock(w.clock))

	return w, nil
}

// Start begins watching the settings file. The containing directory is
// watched so that atomic replace-by-rename is observed.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}

	w.logger.Info("started watching settings file",
		observability.String("path", w.path),
	)

	go w.watch(ctx)

	return nil
}

// Stop stops watching and releases the underlying watcher. A pending reload
// is dropped.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		w.reloader.Stop()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	w.reloader.Stop()
	close(w.stopCh)
	<-w.stoppedCh

	return w.watcher.Close()
}

// watch is the main watch loop.
func (w *Watcher) watch(ctx context.Context) {
	defer close(w.stoppedCh)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("settings watcher stopped due to context cancellation")
			return

		case <-w.stopCh:
			w.logger.Info("settings watcher stopped")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFileEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.handleWatchError(err)
		}
	}
}

// handleFileEvent schedules a debounced reload for writes to the settings
// file.
func (w *Watcher) handleFileEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}

	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	w.logger.Debug("settings file changed",
		observability.String("path", event.Name),
		observability.String("op", event.Op.String()),
	)

	w.reloader.Trigger(struct{}{})
}

// handleWatchError handles watcher errors.
func (w *Watcher) handleWatchError(err error) {
	w.logger.Error("settings watcher error",
		observability.Error(err),
	)
	if w.errorCallback != nil {
		w.errorCallback(err)
	}
}

// reload loads the edited file and hands it to the callback unless it is an
// echo of the store's own save or fails validation.
func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.fail("failed to read settings file", err)
		return
	}

	if w.store.IsOwnWrite(data) {
		w.logger.Debug("ignoring own settings write")
		return
	}

	s, err := w.store.Load()
	if err != nil {
		w.fail("failed to load settings", err)
		return
	}

	if err := s.Validate(); err != nil {
		w.fail("settings validation failed", err)
		return
	}

	w.logger.Info("settings reloaded from file",
		observability.String("path", w.path),
	)

	if w.callback != nil {
		w.callback(s)
	}
}

func (w *Watcher) fail(msg string, err error) {
	w.logger.Error(msg, observability.Error(err))
	if w.errorCallback != nil {
		w.errorCallback(err)
	}
}
