// Package watch reacts to external changes of persisted state files by
// invoking a reload callback after the writes settle.
package watch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger used for watch diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Watcher) { w.logger = logger }
}

// WithDebounce overrides the settle window applied before the callback fires.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounceDur = d }
}

// WithTickInterval overrides how often settled events are checked. Tests use
// a short interval to avoid slow sleeps.
func WithTickInterval(d time.Duration) Option {
	return func(w *Watcher) { w.tick = d }
}

// Watcher monitors a directory and invokes onChange once per settled path.
// Rapid successive writes to the same path collapse into one callback.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	dir         string
	match       func(path string) bool
	onChange    func(ctx context.Context, path string)
	debounceMap map[string]time.Time
	debounceDur time.Duration
	tick        time.Duration
	logger      zerolog.Logger
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// New constructs a watcher for dir. The match function filters paths; nil
// matches everything. onChange runs on the watcher goroutine.
func New(dir string, match func(path string) bool, onChange func(ctx context.Context, path string), opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if match == nil {
		match = func(string) bool { return true }
	}
	w := &Watcher{
		watcher:     fsw,
		dir:         dir,
		match:       match,
		onChange:    onChange,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		tick:        100 * time.Millisecond,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// MatchSuffix returns a match function accepting paths with the given suffix.
func MatchSuffix(suffix string) func(path string) bool {
	return func(path string) bool { return strings.HasSuffix(path, suffix) }
}

// Start begins watching. Non-blocking; events are handled on a goroutine
// until Stop is called or ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	w.logger.Debug().Str("dir", w.dir).Msg("watching for state changes")
	go w.run(ctx)
	return nil
}

// Stop halts the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	stop := w.stopCh
	done := w.doneCh
	w.mu.Unlock()

	close(stop)
	<-done
	if err := w.watcher.Close(); err != nil {
		w.logger.Error().Err(err).Msg("close watcher")
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("watch error")
		case <-ticker.C:
			w.processSettled(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	if !w.match(event.Name) {
		return
	}
	w.mu.Lock()
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processSettled(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, at := range w.debounceMap {
		if now.Sub(at) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range settled {
		w.logger.Debug().Str("path", path).Msg("state file settled")
		w.onChange(ctx, path)
	}
}
