package sandbox

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tetratelabs/wazero"

	"github.com/wasmcmd-dev/wasmcmd/domain/entities"
	"github.com/wasmcmd-dev/wasmcmd/domain/policy"
)

// InvokeIO carries the invocation's standard streams. Nil fields fall
// back to discarding output and an empty stdin, so an ungranted stream
// capability leaks nothing by accident.
type InvokeIO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// buildModuleConfig projects granted capabilities onto the WASI
// preopens, environment and stdio of a fresh instance. Anything not
// declared stays closed.
func buildModuleConfig(caps entities.Capabilities, streams InvokeIO) wazero.ModuleConfig {
	cfg := wazero.NewModuleConfig()

	fs := wazero.NewFSConfig()
	mounted := map[string]bool{}
	// Writable mounts first so a path granted for both read and write
	// keeps write access.
	for _, p := range caps.FSWrite {
		root := mountRoot(p.String())
		if !mounted[root] {
			mounted[root] = true
			fs = fs.WithDirMount(root, root)
		}
	}
	for _, p := range caps.FSRead {
		root := mountRoot(p.String())
		if !mounted[root] {
			mounted[root] = true
			fs = fs.WithReadOnlyDirMount(root, root)
		}
	}
	cfg = cfg.WithFSConfig(fs)

	for _, kv := range environMatches(caps.EnvRead) {
		cfg = cfg.WithEnv(kv.name, kv.value)
	}

	if caps.Stdio.Stdin && streams.Stdin != nil {
		cfg = cfg.WithStdin(streams.Stdin)
	}
	if caps.Stdio.Stdout && streams.Stdout != nil {
		cfg = cfg.WithStdout(streams.Stdout)
	}
	if caps.Stdio.Stderr && streams.Stderr != nil {
		cfg = cfg.WithStderr(streams.Stderr)
	}
	return cfg
}

// mountRoot reduces a path pattern to the deepest concrete directory
// that can be preopened. Glob metacharacters and everything after them
// are cut; a pattern naming a regular file mounts its parent, since
// only directories can be preopened. File reads inside the mount are
// still policed by the pattern at grant time.
func mountRoot(pattern string) string {
	segments := strings.Split(pattern, "/")
	var kept []string
	for _, seg := range segments {
		if strings.ContainsAny(seg, "*?[{") {
			break
		}
		kept = append(kept, seg)
	}
	root := strings.Join(kept, "/")
	if root == "" {
		root = "."
	}
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		root = filepath.Dir(root)
	}
	return root
}

type envPair struct {
	name  string
	value string
}

// environMatches expands env_read patterns against the host
// environment. Patterns are usually exact names but globs work too.
func environMatches(patterns []string) []envPair {
	if len(patterns) == 0 {
		return nil
	}
	var out []envPair
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		for _, pat := range patterns {
			if name == pat || policy.Matches(pat, name) {
				out = append(out, envPair{name: name, value: value})
				break
			}
		}
	}
	return out
}
