// Package sandbox runs wasm plugins under wazero with hard resource
// limits: a fuel budget, a guest call-depth cap and a wall-clock
// timeout. Every invocation gets a fresh instance so no guest state
// survives between calls.
package sandbox

import (
	"context"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
)

// Defaults applied by NewRuntime.
const (
	// DefaultFuel is the per-invocation budget of guest function
	// transitions.
	DefaultFuel uint64 = 10_000_000
	// DefaultMaxCallDepth caps concurrent guest frames.
	DefaultMaxCallDepth = 250
	// DefaultInvokeTimeout bounds one invocation's wall-clock time.
	DefaultInvokeTimeout = 30 * time.Second
	// DefaultMemoryLimitPages caps guest linear memory (64 KiB pages).
	DefaultMemoryLimitPages = 4096 // 256 MiB
)

// runtimeConfig holds configuration for the Runtime.
type runtimeConfig struct {
	fuel             uint64
	maxCallDepth     int
	invokeTimeout    time.Duration
	memoryLimitPages uint32
	logger           *zap.Logger
}

func defaultRuntimeConfig() runtimeConfig {
	return runtimeConfig{
		fuel:             DefaultFuel,
		maxCallDepth:     DefaultMaxCallDepth,
		invokeTimeout:    DefaultInvokeTimeout,
		memoryLimitPages: DefaultMemoryLimitPages,
		logger:           zap.NewNop(),
	}
}

// RuntimeOption configures a Runtime instance.
type RuntimeOption func(*runtimeConfig)

// WithFuel sets the per-invocation fuel budget.
func WithFuel(fuel uint64) RuntimeOption {
	return func(c *runtimeConfig) {
		c.fuel = fuel
	}
}

// WithMaxCallDepth sets the guest call-depth cap.
func WithMaxCallDepth(depth int) RuntimeOption {
	return func(c *runtimeConfig) {
		c.maxCallDepth = depth
	}
}

// WithInvokeTimeout sets the wall-clock limit for one invocation.
func WithInvokeTimeout(d time.Duration) RuntimeOption {
	return func(c *runtimeConfig) {
		c.invokeTimeout = d
	}
}

// WithMemoryLimitPages caps guest linear memory in 64 KiB pages.
func WithMemoryLimitPages(pages uint32) RuntimeOption {
	return func(c *runtimeConfig) {
		c.memoryLimitPages = pages
	}
}

// WithRuntimeLogger sets the logger. Defaults to a no-op logger.
func WithRuntimeLogger(logger *zap.Logger) RuntimeOption {
	return func(c *runtimeConfig) {
		c.logger = logger
	}
}

// Runtime owns one wazero runtime and compiles plugins against it.
// Close tears down everything it instantiated.
type Runtime struct {
	config runtimeConfig
	rt     wazero.Runtime
}

// NewRuntime creates a Runtime. Context cancellation is wired through
// to running guests: when an invocation context expires, the in-flight
// call is aborted rather than left to spin.
func NewRuntime(ctx context.Context, opts ...RuntimeOption) (*Runtime, error) {
	cfg := defaultRuntimeConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	rc := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithMemoryLimitPages(cfg.memoryLimitPages)
	rt := wazero.NewRuntimeWithConfig(ctx, rc)
	wasi_snapshot_preview1.MustInstantiate(ctx, rt)

	return &Runtime{config: cfg, rt: rt}, nil
}

// NewMeter creates an invocation meter from the configured budgets.
func (r *Runtime) NewMeter() *Meter {
	return NewMeter(r.config.fuel, r.config.maxCallDepth)
}

// Close releases the runtime and all compiled modules.
func (r *Runtime) Close(ctx context.Context) error {
	return r.rt.Close(ctx)
}
