package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wasmcmd-dev/wasmcmd/application/permission"
	"github.com/wasmcmd-dev/wasmcmd/domain/entities"
	"github.com/wasmcmd-dev/wasmcmd/domain/errors"
	"github.com/wasmcmd-dev/wasmcmd/domain/policy"
	"github.com/wasmcmd-dev/wasmcmd/infrastructure/grantstore"
	"github.com/wasmcmd-dev/wasmcmd/sandbox"
)

// stubModule implements Module without any wasm behind it.
type stubModule struct {
	manifest entities.PluginManifest
	path     string
	invoke   func(args []string, streams sandbox.InvokeIO) (entities.ExecuteResult, error)

	mu     sync.Mutex
	closed bool
}

func (m *stubModule) Manifest() entities.PluginManifest { return m.manifest }
func (m *stubModule) Path() string                      { return m.path }

func (m *stubModule) Invoke(_ context.Context, args []string, streams sandbox.InvokeIO) (entities.ExecuteResult, error) {
	return m.invoke(args, streams)
}

func (m *stubModule) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *stubModule) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// stubLoader maps paths to canned modules or errors.
type stubLoader struct {
	mu      sync.Mutex
	modules map[string]func() (Module, error)
}

func newStubLoader() *stubLoader {
	return &stubLoader{modules: map[string]func() (Module, error){}}
}

func (l *stubLoader) set(path string, fn func() (Module, error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.modules[path] = fn
}

func (l *stubLoader) Load(_ context.Context, path string) (Module, error) {
	l.mu.Lock()
	fn, ok := l.modules[path]
	l.mu.Unlock()
	if !ok {
		return nil, &errors.LoadError{Path: path, Err: fmt.Errorf("no such module")}
	}
	return fn()
}

func echoModule(path string) *stubModule {
	return &stubModule{
		path: path,
		manifest: entities.PluginManifest{
			APIVersion: entities.APIVersion,
			Command: entities.CommandSpec{
				Name:  "echo",
				About: "Echo the arguments back",
				Args: []entities.ArgSpec{{
					Name:         "message",
					Help:         "Message to echo",
					DefaultValue: "Hello from Zig!",
				}},
			},
		},
		invoke: func(args []string, _ sandbox.InvokeIO) (entities.ExecuteResult, error) {
			if len(args) == 0 {
				return entities.Success("Echo: Hello from Zig!"), nil
			}
			return entities.Success("Echo: " + strings.Join(args, " ")), nil
		},
	}
}

func envReaderModule(path string) *stubModule {
	return &stubModule{
		path: path,
		manifest: entities.PluginManifest{
			APIVersion: entities.APIVersion,
			Command: entities.CommandSpec{
				Name:  "envdump",
				About: "Print selected environment variables",
			},
			Capabilities: entities.Capabilities{
				EnvRead: []string{"HOME"},
			},
		},
		invoke: func([]string, sandbox.InvokeIO) (entities.ExecuteResult, error) {
			return entities.Success("HOME=/home/user"), nil
		},
	}
}

func strictEvaluator() *permission.Evaluator {
	return permission.NewEvaluator(policy.NewStrict(), grantstore.NewMemoryStore())
}

func TestLoadGatesOnCapabilityEvaluation(t *testing.T) {
	ctx := context.Background()
	loader := newStubLoader()
	path := "envdump.wasm"
	mod := envReaderModule(path)
	loader.set(path, func() (Module, error) { return mod, nil })

	reg := New(loader, WithEvaluator(strictEvaluator()))
	err := reg.Load(ctx, path)
	require.Error(t, err)
	assert.True(t, errors.IsCapabilityDenied(err))

	// A denied plugin is never published.
	assert.Empty(t, reg.List())
	_, err = reg.Lookup("envdump")
	assert.True(t, errors.IsCommandNotFound(err))
	_, err = reg.Invoke(ctx, "envdump", nil, sandbox.InvokeIO{})
	assert.True(t, errors.IsCommandNotFound(err))
	assert.True(t, mod.isClosed())
}

func TestLoadWithGrantedCapabilitiesPublishes(t *testing.T) {
	ctx := context.Background()
	loader := newStubLoader()
	path := "envdump.wasm"
	loader.set(path, func() (Module, error) { return envReaderModule(path), nil })

	evaluator := permission.NewEvaluator(policy.NewPermissive(), grantstore.NewMemoryStore())
	reg := New(loader, WithEvaluator(evaluator))
	require.NoError(t, reg.Load(ctx, path))

	list := reg.List()
	require.Len(t, list, 1)
	assert.Equal(t, "envdump", list[0].Name)
}

func TestDeniedReloadKeepsOldEntry(t *testing.T) {
	ctx := context.Background()
	loader := newStubLoader()
	path := "envdump.wasm"

	// First version declares nothing, so even strict clears it.
	v1 := envReaderModule(path)
	v1.manifest.Capabilities = entities.Capabilities{}
	v1.invoke = func([]string, sandbox.InvokeIO) (entities.ExecuteResult, error) {
		return entities.Success("v1"), nil
	}
	loader.set(path, func() (Module, error) { return v1, nil })

	reg := New(loader, WithEvaluator(strictEvaluator()))
	require.NoError(t, reg.Load(ctx, path))

	// The rewritten file wants env access; strict denies, and the old
	// version keeps serving.
	v2 := envReaderModule(path)
	loader.set(path, func() (Module, error) { return v2, nil })
	err := reg.Load(ctx, path)
	assert.True(t, errors.IsCapabilityDenied(err))
	assert.True(t, v2.isClosed())
	assert.False(t, v1.isClosed())

	result, err := reg.Invoke(ctx, "envdump", nil, sandbox.InvokeIO{})
	require.NoError(t, err)
	assert.Equal(t, "v1", result.Output)
}

func TestLoadAndInvokeEcho(t *testing.T) {
	ctx := context.Background()
	loader := newStubLoader()
	path := filepath.Join("plugins", "echo.wasm")
	loader.set(path, func() (Module, error) { return echoModule(path), nil })

	reg := New(loader)
	require.NoError(t, reg.Load(ctx, path))

	result, err := reg.Invoke(ctx, "echo", []string{"World"}, sandbox.InvokeIO{})
	require.NoError(t, err)
	require.True(t, result.OK())
	assert.Equal(t, "Echo: World", result.Output)

	list := reg.List()
	require.Len(t, list, 1)
	assert.Equal(t, "echo", list[0].Name)
}

func TestInvokeUnknownCommand(t *testing.T) {
	reg := New(newStubLoader())
	_, err := reg.Invoke(context.Background(), "nope", nil, sandbox.InvokeIO{})
	assert.True(t, errors.IsCommandNotFound(err))
}

func TestBuiltinCollisionRejected(t *testing.T) {
	ctx := context.Background()
	loader := newStubLoader()
	loader.set("echo.wasm", func() (Module, error) { return echoModule("echo.wasm"), nil })

	reg := New(loader, WithBuiltins("echo", "help"))
	err := reg.Load(ctx, "echo.wasm")
	assert.True(t, errors.IsLoadError(err))
	assert.Empty(t, reg.List())
}

func TestDuplicateCommandFromOtherPathRejected(t *testing.T) {
	ctx := context.Background()
	loader := newStubLoader()
	loader.set("a.wasm", func() (Module, error) { return echoModule("a.wasm"), nil })
	loader.set("b.wasm", func() (Module, error) { return echoModule("b.wasm"), nil })

	reg := New(loader)
	require.NoError(t, reg.Load(ctx, "a.wasm"))
	err := reg.Load(ctx, "b.wasm")
	assert.True(t, errors.IsLoadError(err))

	// Original still published.
	_, err = reg.Lookup("echo")
	assert.NoError(t, err)
}

func TestFailedReloadKeepsOldModule(t *testing.T) {
	ctx := context.Background()
	loader := newStubLoader()
	path := "echo.wasm"
	loader.set(path, func() (Module, error) { return echoModule(path), nil })

	reg := New(loader)
	require.NoError(t, reg.Load(ctx, path))

	loader.set(path, func() (Module, error) {
		return nil, &errors.LoadError{Path: path, Err: fmt.Errorf("truncated module")}
	})
	assert.Error(t, reg.Load(ctx, path))

	result, err := reg.Invoke(ctx, "echo", []string{"still", "here"}, sandbox.InvokeIO{})
	require.NoError(t, err)
	assert.Equal(t, "Echo: still here", result.Output)
}

func TestReloadSwapsModuleAndClosesOld(t *testing.T) {
	ctx := context.Background()
	loader := newStubLoader()
	path := "echo.wasm"
	old := echoModule(path)
	loader.set(path, func() (Module, error) { return old, nil })

	reg := New(loader)
	require.NoError(t, reg.Load(ctx, path))

	updated := echoModule(path)
	updated.invoke = func([]string, sandbox.InvokeIO) (entities.ExecuteResult, error) {
		return entities.Success("v2"), nil
	}
	loader.set(path, func() (Module, error) { return updated, nil })
	require.NoError(t, reg.Load(ctx, path))

	assert.True(t, old.isClosed())
	result, err := reg.Invoke(ctx, "echo", nil, sandbox.InvokeIO{})
	require.NoError(t, err)
	assert.Equal(t, "v2", result.Output)
}

func TestInFlightInvocationSurvivesReload(t *testing.T) {
	ctx := context.Background()
	loader := newStubLoader()
	path := "echo.wasm"

	started := make(chan struct{})
	unblock := make(chan struct{})
	old := echoModule(path)
	old.invoke = func([]string, sandbox.InvokeIO) (entities.ExecuteResult, error) {
		close(started)
		<-unblock
		return entities.Success("old result"), nil
	}
	loader.set(path, func() (Module, error) { return old, nil })

	reg := New(loader)
	require.NoError(t, reg.Load(ctx, path))

	type outcome struct {
		result entities.ExecuteResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := reg.Invoke(ctx, "echo", nil, sandbox.InvokeIO{})
		done <- outcome{result, err}
	}()
	<-started

	// Swap while the call is in flight.
	loader.set(path, func() (Module, error) { return echoModule(path), nil })
	require.NoError(t, reg.Load(ctx, path))
	assert.False(t, old.isClosed(), "old module must stay open while a call runs")

	close(unblock)
	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, "old result", got.result.Output)
	assert.True(t, old.isClosed(), "old module closes once the call drains")
}

func TestRemoveUnpublishes(t *testing.T) {
	ctx := context.Background()
	loader := newStubLoader()
	path := "echo.wasm"
	mod := echoModule(path)
	loader.set(path, func() (Module, error) { return mod, nil })

	reg := New(loader)
	require.NoError(t, reg.Load(ctx, path))
	reg.Remove(ctx, path)

	assert.True(t, mod.isClosed())
	_, err := reg.Lookup("echo")
	assert.True(t, errors.IsCommandNotFound(err))

	// Removing an unknown path is a no-op.
	reg.Remove(ctx, "ghost.wasm")
}

func TestHelpText(t *testing.T) {
	spec := echoModule("echo.wasm").manifest.Command
	help := HelpText("wasmcmd", spec)

	assert.Contains(t, help, "Echo the arguments back")
	assert.Contains(t, help, "Usage: wasmcmd echo")
	assert.Contains(t, help, "message")
	assert.Contains(t, help, `default: "Hello from Zig!"`)
}
