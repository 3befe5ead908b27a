package sandbox

import (
	"context"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

// Exit codes used when the listener force-closes a runaway module. They
// only need to be distinguishable from guest-chosen codes in logs; the
// meter flags are the source of truth for fault classification.
const (
	exitCodeFuelExhausted uint32 = 0xf0e1
	exitCodeStackOverflow uint32 = 0xf0e2
)

// Meter budgets one invocation. Fuel is charged per function transition
// rather than per instruction, which keeps limits deterministic across
// hosts while still bounding guest work. Depth tracks live guest frames
// against a hard cap.
type Meter struct {
	remaining atomic.Int64
	depth     atomic.Int64
	maxDepth  int64
	exhausted atomic.Bool
	overflow  atomic.Bool
}

// NewMeter creates a meter with the given fuel and call-depth budget.
func NewMeter(fuel uint64, maxDepth int) *Meter {
	m := &Meter{maxDepth: int64(maxDepth)}
	m.remaining.Store(int64(fuel))
	return m
}

// enter charges one unit and pushes a frame. It reports false when a
// budget is blown; the first violation wins and is latched.
func (m *Meter) enter() bool {
	if m.remaining.Add(-1) < 0 {
		m.exhausted.Store(true)
		return false
	}
	if m.depth.Add(1) > m.maxDepth {
		m.overflow.Store(true)
		return false
	}
	return true
}

func (m *Meter) exit() {
	m.depth.Add(-1)
}

// Remaining returns the unspent fuel, never negative.
func (m *Meter) Remaining() uint64 {
	r := m.remaining.Load()
	if r < 0 {
		return 0
	}
	return uint64(r)
}

// Exhausted reports whether the fuel budget was blown.
func (m *Meter) Exhausted() bool { return m.exhausted.Load() }

// Overflowed reports whether the call-depth cap was blown.
func (m *Meter) Overflowed() bool { return m.overflow.Load() }

type meterKey struct{}

// WithMeter attaches a meter to the context passed into a guest call.
// The compiled-in listener picks it up on every function transition.
func WithMeter(ctx context.Context, m *Meter) context.Context {
	return context.WithValue(ctx, meterKey{}, m)
}

func meterFrom(ctx context.Context) *Meter {
	m, _ := ctx.Value(meterKey{}).(*Meter)
	return m
}

// meterFactory installs a stateless listener on every guest function at
// compile time. Per-invocation state lives in the context meter, so one
// compiled module serves concurrent invocations with independent
// budgets.
type meterFactory struct{}

func (meterFactory) NewFunctionListener(api.FunctionDefinition) experimental.FunctionListener {
	return meterListener{}
}

type meterListener struct{}

func (meterListener) Before(ctx context.Context, mod api.Module, _ api.FunctionDefinition, _ []uint64, _ experimental.StackIterator) {
	m := meterFrom(ctx)
	if m == nil {
		return
	}
	if m.enter() {
		return
	}
	code := exitCodeFuelExhausted
	if m.Overflowed() {
		code = exitCodeStackOverflow
	}
	// Closing the module makes the in-flight call trap immediately.
	_ = mod.CloseWithExitCode(ctx, code)
}

func (meterListener) After(ctx context.Context, _ api.Module, _ api.FunctionDefinition, _ []uint64) {
	if m := meterFrom(ctx); m != nil {
		m.exit()
	}
}

func (meterListener) Abort(ctx context.Context, _ api.Module, _ api.FunctionDefinition, _ error) {
	if m := meterFrom(ctx); m != nil {
		m.exit()
	}
}

// listenerContext returns a context wazero's compiler inspects for the
// metering factory. Must be used for CompileModule, not for calls.
func listenerContext(ctx context.Context) context.Context {
	return experimental.WithFunctionListenerFactory(ctx, meterFactory{})
}
