package sandbox

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wasmcmd-dev/wasmcmd/domain/entities"
	"github.com/wasmcmd-dev/wasmcmd/domain/errors"
	"github.com/wasmcmd-dev/wasmcmd/internal/abi"
	"github.com/wasmcmd-dev/wasmcmd/protocol"
)

// Exports every plugin must provide. The packed-i64 convention is
// described in package abi.
const (
	exportAlloc       = "alloc"
	exportDealloc     = "dealloc"
	exportGetManifest = "get_manifest"
	exportInvoke      = "invoke"
	exportInitialize  = "_initialize"
)

var requiredExports = []string{exportAlloc, exportDealloc, exportGetManifest, exportInvoke}

// Plugin is one compiled wasm module plus its validated manifest. It is
// immutable after Load; invocations instantiate fresh instances, so a
// Plugin is safe for concurrent use.
type Plugin struct {
	runtime  *Runtime
	compiled wazero.CompiledModule
	manifest entities.PluginManifest
	path     string
	logger   *zap.Logger
}

// Load reads, compiles and validates the module at path, then runs its
// get_manifest export inside a capability-free instance. Any failure is
// a LoadError and leaves nothing registered.
func (r *Runtime) Load(ctx context.Context, path string) (*Plugin, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.LoadError{Path: path, Err: err}
	}

	// The metering listener attaches at compile time; calls without a
	// meter in their context run unmetered.
	compiled, err := r.rt.CompileModule(listenerContext(ctx), data)
	if err != nil {
		return nil, &errors.LoadError{Path: path, Err: fmt.Errorf("compile failed: %w", err)}
	}

	exports := compiled.ExportedFunctions()
	for _, name := range requiredExports {
		if _, ok := exports[name]; !ok {
			_ = compiled.Close(ctx)
			return nil, &errors.LoadError{Path: path, Err: fmt.Errorf("missing required export %q", name)}
		}
	}

	p := &Plugin{
		runtime:  r,
		compiled: compiled,
		path:     path,
		logger:   r.config.logger.With(zap.String("plugin", path)),
	}
	manifest, err := p.fetchManifest(ctx)
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, &errors.LoadError{Path: path, Err: err}
	}
	if err := protocol.CheckAPIVersion(manifest); err != nil {
		_ = compiled.Close(ctx)
		return nil, &errors.LoadError{Path: path, Err: err}
	}
	if err := protocol.ValidateManifest(manifest); err != nil {
		_ = compiled.Close(ctx)
		return nil, &errors.LoadError{Path: path, Err: err}
	}
	p.manifest = manifest
	p.logger.Debug("plugin loaded",
		zap.String("command", manifest.Command.Name),
		zap.Uint32("api_version", manifest.APIVersion))
	return p, nil
}

// Manifest returns the validated manifest.
func (p *Plugin) Manifest() entities.PluginManifest {
	return p.manifest
}

// Path returns the wasm file the plugin was loaded from.
func (p *Plugin) Path() string {
	return p.path
}

// Close releases the compiled module.
func (p *Plugin) Close(ctx context.Context) error {
	return p.compiled.Close(ctx)
}

// fetchManifest runs get_manifest in an instance with no filesystem,
// environment or stdio access. Manifests are metadata; nothing a
// manifest does should touch the outside world.
func (p *Plugin) fetchManifest(ctx context.Context) (entities.PluginManifest, error) {
	machine := NewStateMachine()
	if err := machine.Transition(StateValidating); err != nil {
		return entities.PluginManifest{}, err
	}

	meter := p.runtime.NewMeter()
	ctx, cancel := context.WithTimeout(WithMeter(ctx, meter), p.runtime.config.invokeTimeout)
	defer cancel()

	mod, err := p.instantiate(ctx, wazero.NewModuleConfig())
	if err != nil {
		_ = machine.Transition(StateTrapped)
		return entities.PluginManifest{}, p.fault(ctx, meter, fmt.Errorf("instantiate for manifest: %w", err))
	}
	defer mod.Close(ctx)
	if err := machine.Transition(StateInstantiated); err != nil {
		return entities.PluginManifest{}, err
	}

	if err := machine.Transition(StateExecuting); err != nil {
		return entities.PluginManifest{}, err
	}
	results, err := mod.ExportedFunction(exportGetManifest).Call(ctx)
	if err != nil {
		_ = machine.Transition(StateTrapped)
		return entities.PluginManifest{}, p.fault(ctx, meter, err)
	}
	raw, err := p.readAndFree(ctx, mod, results[0])
	if err != nil {
		_ = machine.Transition(StateTrapped)
		return entities.PluginManifest{}, err
	}
	manifest, err := protocol.DecodeManifest(raw)
	if err != nil {
		_ = machine.Transition(StateTrapped)
		return entities.PluginManifest{}, err
	}
	_ = machine.Transition(StateCompleted)
	return manifest, nil
}

// Invoke runs the plugin's invoke export with the given argv in a fresh
// instance whose WASI view is projected from the manifest capabilities.
// The caller must have granted those capabilities already.
func (p *Plugin) Invoke(ctx context.Context, args []string, streams InvokeIO) (entities.ExecuteResult, error) {
	machine := NewStateMachine()
	if err := machine.Transition(StateValidating); err != nil {
		return entities.ExecuteResult{}, err
	}

	meter := p.runtime.NewMeter()
	ctx, cancel := context.WithTimeout(WithMeter(ctx, meter), p.runtime.config.invokeTimeout)
	defer cancel()

	mod, err := p.instantiate(ctx, buildModuleConfig(p.manifest.Capabilities, streams))
	if err != nil {
		_ = machine.Transition(StateTrapped)
		return entities.ExecuteResult{}, p.fault(ctx, meter, fmt.Errorf("instantiate: %w", err))
	}
	defer mod.Close(ctx)
	if err := machine.Transition(StateInstantiated); err != nil {
		return entities.ExecuteResult{}, err
	}

	argBytes := protocol.EncodeArgs(args)
	packedArgs, err := p.writeGuest(ctx, mod, argBytes)
	if err != nil {
		_ = machine.Transition(StateTrapped)
		return entities.ExecuteResult{}, p.fault(ctx, meter, err)
	}

	if err := machine.Transition(StateExecuting); err != nil {
		return entities.ExecuteResult{}, err
	}
	results, err := mod.ExportedFunction(exportInvoke).Call(ctx, packedArgs)
	if err != nil {
		fault := p.fault(ctx, meter, err)
		var sf *errors.SandboxFault
		if stderrors.As(fault, &sf) && sf.Kind == errors.FaultTimeout {
			_ = machine.Transition(StateTimedOut)
		} else {
			_ = machine.Transition(StateTrapped)
		}
		return entities.ExecuteResult{}, fault
	}
	// The guest owns the argument buffer once invoke returns.
	p.freeGuest(ctx, mod, packedArgs)

	raw, err := p.readAndFree(ctx, mod, results[0])
	if err != nil {
		_ = machine.Transition(StateTrapped)
		return entities.ExecuteResult{}, err
	}
	result, err := protocol.DecodeResult(raw)
	if err != nil {
		_ = machine.Transition(StateTrapped)
		return entities.ExecuteResult{}, err
	}
	_ = machine.Transition(StateCompleted)
	p.logger.Debug("invocation finished",
		zap.Uint64("fuel_left", meter.Remaining()),
		zap.Bool("ok", result.OK()))
	return result, nil
}

// instantiate creates an anonymous instance. Reactor-style modules
// expose _initialize instead of _start; run it when present.
func (p *Plugin) instantiate(ctx context.Context, cfg wazero.ModuleConfig) (api.Module, error) {
	cfg = cfg.WithName("").WithStartFunctions()
	mod, err := p.runtime.rt.InstantiateModule(ctx, p.compiled, cfg)
	if err != nil {
		return nil, err
	}
	if init := mod.ExportedFunction(exportInitialize); init != nil {
		if _, err := init.Call(ctx); err != nil {
			_ = mod.Close(ctx)
			return nil, err
		}
	}
	return mod, nil
}

// writeGuest copies data into guest memory via the guest's own
// allocator and returns the packed address.
func (p *Plugin) writeGuest(ctx context.Context, mod api.Module, data []byte) (uint64, error) {
	if len(data) == 0 {
		return 0, nil
	}
	results, err := mod.ExportedFunction(exportAlloc).Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("guest alloc failed: %w", err)
	}
	addr := uint32(results[0])
	if addr == 0 {
		return 0, fmt.Errorf("guest alloc returned null for %d bytes", len(data))
	}
	if !mod.Memory().Write(addr, data) {
		return 0, fmt.Errorf("write of %d bytes at 0x%x is outside guest memory", len(data), addr)
	}
	return abi.Pack(addr, uint32(len(data))), nil
}

// readAndFree copies the region a packed value describes out of guest
// memory, then returns the buffer to the guest allocator. The copy
// happens before the dealloc so the view cannot be reused after free.
func (p *Plugin) readAndFree(ctx context.Context, mod api.Module, packed uint64) ([]byte, error) {
	addr, length, err := abi.Unpack(packed)
	if err != nil {
		return nil, errors.NewProtocolError(0, "guest returned invalid packed pointer: %v", err)
	}
	if length == 0 {
		return nil, errors.NewProtocolError(0, "guest returned empty payload")
	}
	view, ok := mod.Memory().Read(addr, length)
	if !ok {
		return nil, errors.NewProtocolError(0, "guest pointer 0x%x+%d is outside linear memory", addr, length)
	}
	data := make([]byte, length)
	copy(data, view)
	p.freeGuest(ctx, mod, packed)
	return data, nil
}

func (p *Plugin) freeGuest(ctx context.Context, mod api.Module, packed uint64) {
	if abi.IsEmpty(packed) {
		return
	}
	addr, length, err := abi.Unpack(packed)
	if err != nil {
		return
	}
	if _, err := mod.ExportedFunction(exportDealloc).Call(ctx, uint64(addr), uint64(length)); err != nil {
		p.logger.Debug("guest dealloc failed", zap.Error(err))
	}
}

// fault classifies a guest failure. The meter flags win over the
// context state because a fuel abort also surfaces as a closed module.
func (p *Plugin) fault(ctx context.Context, meter *Meter, err error) error {
	switch {
	case meter.Exhausted():
		return &errors.SandboxFault{Kind: errors.FaultFuelExhausted, Err: err}
	case meter.Overflowed():
		return &errors.SandboxFault{Kind: errors.FaultStackOverflow, Err: err}
	case ctx.Err() != nil:
		return &errors.SandboxFault{Kind: errors.FaultTimeout, Err: err}
	default:
		return &errors.SandboxFault{Kind: errors.FaultTrap, Err: err}
	}
}
