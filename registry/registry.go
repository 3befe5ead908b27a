// Package registry tracks loaded plugins, routes command invocations to
// them, and hot-swaps modules when their files change on disk.
package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wasmcmd-dev/wasmcmd/application/permission"
	"github.com/wasmcmd-dev/wasmcmd/domain/entities"
	"github.com/wasmcmd-dev/wasmcmd/domain/errors"
	"github.com/wasmcmd-dev/wasmcmd/sandbox"
)

// Module is one loaded plugin as the registry sees it. *sandbox.Plugin
// satisfies it; tests substitute stubs.
type Module interface {
	Manifest() entities.PluginManifest
	Invoke(ctx context.Context, args []string, streams sandbox.InvokeIO) (entities.ExecuteResult, error)
	Path() string
	Close(ctx context.Context) error
}

// Loader turns a wasm file into a Module.
type Loader interface {
	Load(ctx context.Context, path string) (Module, error)
}

// RuntimeLoader adapts a sandbox.Runtime to the Loader interface.
type RuntimeLoader struct {
	Runtime *sandbox.Runtime
}

func (l RuntimeLoader) Load(ctx context.Context, path string) (Module, error) {
	return l.Runtime.Load(ctx, path)
}

// entry is one published command. The reference count starts at one for
// the registry itself; each in-flight invocation holds another. The
// module closes when the count reaches zero, so a hot swap never
// interrupts a running call.
type entry struct {
	module Module
	refs   atomic.Int64
}

func newEntry(m Module) *entry {
	e := &entry{module: m}
	e.refs.Store(1)
	return e
}

func (e *entry) acquire() { e.refs.Add(1) }

func (e *entry) release(ctx context.Context) {
	if e.refs.Add(-1) == 0 {
		_ = e.module.Close(ctx)
	}
}

// registryConfig holds configuration for the Registry.
type registryConfig struct {
	builtins  map[string]bool
	evaluator *permission.Evaluator
	logger    *zap.Logger
}

// Option configures a Registry instance.
type Option func(*registryConfig)

// WithBuiltins reserves command names plugins may not claim.
func WithBuiltins(names ...string) Option {
	return func(c *registryConfig) {
		for _, n := range names {
			c.builtins[n] = true
		}
	}
}

// WithEvaluator gates invocations behind the permission evaluator.
// Without one, capabilities are not checked.
func WithEvaluator(e *permission.Evaluator) Option {
	return func(c *registryConfig) {
		c.evaluator = e
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *registryConfig) {
		c.logger = logger
	}
}

// Registry maps command names to loaded plugins. All methods are safe
// for concurrent use; lookups never block on loads.
type Registry struct {
	config registryConfig
	loader Loader

	mu      sync.RWMutex
	byName  map[string]*entry
	byPath  map[string]string // wasm path -> command name
}

// New creates a Registry loading modules through loader.
func New(loader Loader, opts ...Option) *Registry {
	cfg := registryConfig{
		builtins: map[string]bool{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Registry{
		config: cfg,
		loader: loader,
		byName: map[string]*entry{},
		byPath: map[string]string{},
	}
}

// Load loads or reloads the plugin at path and publishes its command.
// When an evaluator is configured, every declared capability must clear
// it before the command becomes listable or invocable. A failed load,
// denial included, never disturbs an already-published entry for the
// same path: callers keep the old module until a good one replaces it.
func (r *Registry) Load(ctx context.Context, path string) error {
	module, err := r.loader.Load(ctx, path)
	if err != nil {
		r.config.logger.Warn("plugin load failed, keeping previous version",
			zap.String("path", path), zap.Error(err))
		return err
	}
	name := module.Manifest().Command.Name

	// Capability denial is a load failure: the command is never
	// published, and a reload that fails re-evaluation keeps the
	// previous entry serving.
	if r.config.evaluator != nil {
		if err := r.config.evaluator.Evaluate(ctx, name, name, module.Manifest().Capabilities); err != nil {
			_ = module.Close(ctx)
			r.config.logger.Warn("plugin capabilities denied, not publishing",
				zap.String("path", path), zap.String("command", name), zap.Error(err))
			return err
		}
	}

	r.mu.Lock()
	if r.config.builtins[name] {
		r.mu.Unlock()
		_ = module.Close(ctx)
		return &errors.LoadError{Path: path, Err: fmt.Errorf("command %q collides with a built-in", name)}
	}
	if existing, ok := r.byName[name]; ok && existing.module.Path() != path {
		r.mu.Unlock()
		_ = module.Close(ctx)
		return &errors.LoadError{Path: path, Err: fmt.Errorf("command %q already provided by %s", name, existing.module.Path())}
	}

	var old *entry
	if oldName, ok := r.byPath[path]; ok {
		old = r.byName[oldName]
		delete(r.byName, oldName)
	}
	r.byName[name] = newEntry(module)
	r.byPath[path] = name
	r.mu.Unlock()

	if old != nil {
		// In-flight calls on the old module finish before it closes.
		old.release(ctx)
		r.config.logger.Info("plugin reloaded", zap.String("path", path), zap.String("command", name))
	} else {
		r.config.logger.Info("plugin loaded", zap.String("path", path), zap.String("command", name))
	}
	return nil
}

// Remove unpublishes the command backed by path, if any. The module
// closes once in-flight invocations drain.
func (r *Registry) Remove(ctx context.Context, path string) {
	r.mu.Lock()
	name, ok := r.byPath[path]
	if !ok {
		r.mu.Unlock()
		return
	}
	e := r.byName[name]
	delete(r.byName, name)
	delete(r.byPath, path)
	r.mu.Unlock()

	e.release(ctx)
	r.config.logger.Info("plugin removed", zap.String("path", path), zap.String("command", name))
}

// Lookup returns the manifest of the named command.
func (r *Registry) Lookup(name string) (entities.PluginManifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return entities.PluginManifest{}, &errors.CommandNotFoundError{Name: name}
	}
	return e.module.Manifest(), nil
}

// List returns the specs of all published commands.
func (r *Registry) List() []entities.CommandSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]entities.CommandSpec, 0, len(r.byName))
	for _, e := range r.byName {
		out = append(out, e.module.Manifest().Command)
	}
	return out
}

// Invoke runs the named command. Capabilities already cleared at load
// time are re-checked here so a grant revoked mid-session takes effect
// without waiting for a reload. The module in use is
// pinned for the duration, so a concurrent reload or removal cannot
// pull it out from under the call.
func (r *Registry) Invoke(ctx context.Context, name string, args []string, streams sandbox.InvokeIO) (entities.ExecuteResult, error) {
	r.mu.RLock()
	e, ok := r.byName[name]
	if ok {
		e.acquire()
	}
	r.mu.RUnlock()
	if !ok {
		return entities.ExecuteResult{}, &errors.CommandNotFoundError{Name: name}
	}
	defer e.release(ctx)

	manifest := e.module.Manifest()
	if r.config.evaluator != nil {
		if err := r.config.evaluator.Evaluate(ctx, manifest.Command.Name, name, manifest.Capabilities); err != nil {
			return entities.ExecuteResult{}, err
		}
	}
	return e.module.Invoke(ctx, args, streams)
}
