package registry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce coalesces the event bursts editors and compilers
// produce for a single logical write.
const DefaultDebounce = 500 * time.Millisecond

// watcherConfig holds configuration for the Watcher.
type watcherConfig struct {
	debounce time.Duration
	logger   *zap.Logger
}

// WatcherOption configures a Watcher instance.
type WatcherOption func(*watcherConfig)

// WithDebounce sets the quiet period before a change is acted on.
func WithDebounce(d time.Duration) WatcherOption {
	return func(c *watcherConfig) {
		c.debounce = d
	}
}

// WithWatcherLogger sets the logger. Defaults to a no-op logger.
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(c *watcherConfig) {
		c.logger = logger
	}
}

// Watcher keeps a Registry in sync with a plugin directory: new or
// rewritten .wasm files are loaded, deleted ones unpublished. Events
// are debounced per path.
type Watcher struct {
	config   watcherConfig
	registry *Registry
	dir      string

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewWatcher creates a Watcher over dir feeding registry.
func NewWatcher(registry *Registry, dir string, opts ...WatcherOption) *Watcher {
	cfg := watcherConfig{
		debounce: DefaultDebounce,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Watcher{
		config:   cfg,
		registry: registry,
		dir:      dir,
		timers:   map[string]*time.Timer{},
	}
}

// Scan loads every .wasm file already present in the directory. Load
// failures are logged and skipped so one broken plugin cannot block
// the rest.
func (w *Watcher) Scan(ctx context.Context) error {
	dirEntries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, de := range dirEntries {
		if de.IsDir() || !isWasm(de.Name()) {
			continue
		}
		path := filepath.Join(w.dir, de.Name())
		if err := w.registry.Load(ctx, path); err != nil {
			w.config.logger.Warn("skipping plugin", zap.String("path", path), zap.Error(err))
		}
	}
	return nil
}

// Run watches the directory until ctx is done. It performs an initial
// Scan first.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Scan(ctx); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()
	if err := fsw.Add(w.dir); err != nil {
		return err
	}
	w.config.logger.Info("watching plugin directory", zap.String("dir", w.dir))

	for {
		select {
		case <-ctx.Done():
			w.cancelPending()
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.config.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if !isWasm(event.Name) {
		return
	}
	switch {
	case event.Op.Has(fsnotify.Create), event.Op.Has(fsnotify.Write):
		w.debounce(event.Name, func() {
			if err := w.registry.Load(ctx, event.Name); err != nil {
				w.config.logger.Warn("reload failed", zap.String("path", event.Name), zap.Error(err))
			}
		})
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		w.debounce(event.Name, func() {
			// A rename often precedes a re-create; only unpublish when
			// the file is really gone after the quiet period.
			if _, err := os.Stat(event.Name); err == nil {
				if err := w.registry.Load(ctx, event.Name); err != nil {
					w.config.logger.Warn("reload failed", zap.String("path", event.Name), zap.Error(err))
				}
				return
			}
			w.registry.Remove(ctx, event.Name)
		})
	}
}

// debounce schedules fn after the quiet period, replacing any pending
// action for the same path.
func (w *Watcher) debounce(path string, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.config.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		fn()
	})
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

func isWasm(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".wasm")
}
