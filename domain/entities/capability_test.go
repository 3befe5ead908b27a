package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilitiesIsEmpty(t *testing.T) {
	assert.True(t, Capabilities{}.IsEmpty())
	assert.False(t, Capabilities{EnvRead: []string{"HOME"}}.IsEmpty())
	assert.False(t, Capabilities{Stdio: StdioCapability{Stdout: true}}.IsEmpty())
	assert.False(t, Capabilities{FSRead: []PathPattern{{Pattern: "./data"}}}.IsEmpty())
}

func TestRequestsExpansionIsDeterministic(t *testing.T) {
	c := Capabilities{
		FSRead:  []PathPattern{{Pattern: "./data", Recursive: true}},
		FSWrite: []PathPattern{{Pattern: "./out"}},
		EnvRead: []string{"HOME", "APP_*"},
		Stdio:   StdioCapability{Stdout: true, Stderr: true},
	}
	want := []CapabilityRequest{
		{Kind: KindEnvRead, Pattern: "APP_*"},
		{Kind: KindEnvRead, Pattern: "HOME"},
		{Kind: KindFSRead, Pattern: "./data/**"},
		{Kind: KindFSWrite, Pattern: "./out"},
		{Kind: KindStdio, Pattern: "stderr"},
		{Kind: KindStdio, Pattern: "stdout"},
	}
	assert.Equal(t, want, c.Requests())
	assert.Equal(t, want, c.Requests(), "expansion must be stable across calls")
}

func TestHashBoundToDeclaredSet(t *testing.T) {
	a := Capabilities{EnvRead: []string{"HOME", "PATH"}}
	b := Capabilities{EnvRead: []string{"PATH", "HOME"}}
	c := Capabilities{EnvRead: []string{"HOME", "PATH"}, Stdio: StdioCapability{Stdout: true}}

	assert.Equal(t, a.Hash(), b.Hash(), "reordering is not an escalation")
	assert.NotEqual(t, a.Hash(), c.Hash(), "adding a capability changes the hash")
	assert.NotEmpty(t, Capabilities{}.Hash())
}

func TestPathPatternString(t *testing.T) {
	assert.Equal(t, "./data", PathPattern{Pattern: "./data"}.String())
	assert.Equal(t, "./data/**", PathPattern{Pattern: "./data", Recursive: true}.String())
}
