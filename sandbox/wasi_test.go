package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMountRoot(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"./data", "./data"},
		{"./data/**", "./data"},
		{"./data/*.json", "./data"},
		{"/var/log/app/**", "/var/log/app"},
		{"**", "."},
		{"*.txt", "."},
		{"./a/b?/c", "./a"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mountRoot(tt.pattern), "pattern %q", tt.pattern)
	}
}

func TestMountRootFileFallsBackToParent(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "hosts")
	require.NoError(t, os.WriteFile(file, []byte("127.0.0.1 localhost\n"), 0o644))

	assert.Equal(t, dir, mountRoot(file))
	// Directories are preopened as-is.
	assert.Equal(t, dir, mountRoot(dir))
}

func TestEnvironMatches(t *testing.T) {
	t.Setenv("WASMCMD_TEST_ONE", "1")
	t.Setenv("WASMCMD_TEST_TWO", "2")
	t.Setenv("UNRELATED_VAR", "x")

	exact := environMatches([]string{"WASMCMD_TEST_ONE"})
	require.Len(t, exact, 1)
	assert.Equal(t, "WASMCMD_TEST_ONE", exact[0].name)
	assert.Equal(t, "1", exact[0].value)

	glob := environMatches([]string{"WASMCMD_TEST_*"})
	names := map[string]bool{}
	for _, kv := range glob {
		names[kv.name] = true
	}
	assert.True(t, names["WASMCMD_TEST_ONE"])
	assert.True(t, names["WASMCMD_TEST_TWO"])
	assert.False(t, names["UNRELATED_VAR"])

	assert.Empty(t, environMatches(nil))
}
