package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wasmcmd-dev/wasmcmd/domain/entities"
	"github.com/wasmcmd-dev/wasmcmd/domain/errors"
	"github.com/wasmcmd-dev/wasmcmd/wire"
)

func echoManifest() entities.PluginManifest {
	return entities.PluginManifest{
		APIVersion: entities.APIVersion,
		Command: entities.CommandSpec{
			Name:    "echo",
			About:   "Echoes its argument back",
			Version: "1.0.0",
			Author:  "example",
			Args: []entities.ArgSpec{
				{
					Name:         "message",
					Help:         "Message to echo",
					DefaultValue: "Hello from Zig!",
				},
			},
		},
		Capabilities: entities.Capabilities{
			Stdio: entities.StdioCapability{Stdout: true},
		},
	}
}

func TestManifestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		m    entities.PluginManifest
	}{
		{"echo", echoManifest()},
		{"minimal", entities.PluginManifest{
			APIVersion: 1,
			Command:    entities.CommandSpec{Name: "noop"},
		}},
		{"full", entities.PluginManifest{
			APIVersion: 1,
			Command: entities.CommandSpec{
				Name:  "db",
				About: "Database tools",
				Args: []entities.ArgSpec{
					{Name: "output", Long: "output", Short: "o", Required: true,
						ValueName: "FILE", PossibleValues: []string{"json", "text"}},
				},
				Subcommands: []entities.CommandSpec{
					{Name: "migrate", About: "Run migrations"},
					{Name: "seed", Args: []entities.ArgSpec{{Name: "count", DefaultValue: "10"}}},
				},
			},
			Capabilities: entities.Capabilities{
				FSRead:  []entities.PathPattern{{Pattern: "./data", Recursive: true}},
				FSWrite: []entities.PathPattern{{Pattern: "./out"}},
				EnvRead: []string{"HOME", "DB_*"},
				Stdio:   entities.StdioCapability{Stdout: true, Stderr: true},
			},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeManifest(EncodeManifest(tt.m))
			require.NoError(t, err)
			assert.Equal(t, tt.m, got)
		})
	}
}

func TestDecodeManifestIgnoresUnknownKeys(t *testing.T) {
	// A future guest may append keys; this host must skip them.
	e := wire.NewEncoder()
	e.MapHeader(4)
	e.String("api_version")
	e.Uint(1)
	e.String("command")
	e.MapHeader(1)
	e.String("name")
	e.String("hello")
	e.String("capabilities")
	e.MapHeader(0)
	e.String("license") // unknown trailing key with a nested value
	e.MapHeader(1)
	e.String("spdx")
	e.String("MIT")

	m, err := DecodeManifest(e.Bytes())
	require.NoError(t, err)
	assert.Equal(t, uint32(1), m.APIVersion)
	assert.Equal(t, "hello", m.Command.Name)
}

func TestDecodeManifestMalformed(t *testing.T) {
	tests := [][]byte{
		nil,
		{},
		{0xff},
		{0x81, 0xab, 'a', 'p', 'i', '_', 'v', 'e', 'r', 's', 'i', 'o'}, // truncated key
		{0x81, 0xa7, 'c', 'o', 'm', 'm', 'a', 'n', 'd', 0xc1},          // unknown tag value
	}
	for _, data := range tests {
		_, err := DecodeManifest(data)
		require.Error(t, err)
		assert.True(t, errors.IsProtocolError(err), "input % x: %v", data, err)
	}
}

func TestCheckAPIVersion(t *testing.T) {
	err := CheckAPIVersion(entities.PluginManifest{APIVersion: entities.APIVersion + 1})
	require.Error(t, err)
	var vErr *errors.APIVersionError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, entities.APIVersion, vErr.Expected)

	assert.NoError(t, CheckAPIVersion(entities.PluginManifest{APIVersion: entities.APIVersion}))
}

func TestValidateManifest(t *testing.T) {
	m := echoManifest()
	assert.NoError(t, ValidateManifest(m))

	m.Command.Name = ""
	assert.Error(t, ValidateManifest(m))

	m = echoManifest()
	m.APIVersion = 99
	err := ValidateManifest(m)
	var vErr *errors.APIVersionError
	assert.ErrorAs(t, err, &vErr)
}

func TestArgsRoundTrip(t *testing.T) {
	for _, argv := range [][]string{nil, {}, {"World"}, {"a", "b", "c"}} {
		got, err := DecodeArgs(EncodeArgs(argv))
		require.NoError(t, err)
		assert.Len(t, got, len(argv))
		for i := range argv {
			assert.Equal(t, argv[i], got[i])
		}
	}
}

func TestResultRoundTrip(t *testing.T) {
	tests := []entities.ExecuteResult{
		entities.Success("Echo: World"),
		entities.Success(""),
		entities.UserError("missing argument"),
		entities.SystemError("out of memory"),
	}
	for _, r := range tests {
		got, err := DecodeResult(EncodeResult(r))
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
}

func TestDecodeResultRejectsBadVariants(t *testing.T) {
	e := wire.NewEncoder()
	e.MapHeader(1)
	e.String("partial")
	e.String("nope")
	_, err := DecodeResult(e.Bytes())
	require.Error(t, err)
	assert.True(t, errors.IsProtocolError(err))

	e = wire.NewEncoder()
	e.MapHeader(2)
	e.String("success")
	e.String("a")
	e.String("error")
	e.MapHeader(0)
	_, err = DecodeResult(e.Bytes())
	require.Error(t, err)
	assert.True(t, errors.IsProtocolError(err))

	// error code out of uint8 range
	e = wire.NewEncoder()
	e.MapHeader(1)
	e.String("error")
	e.MapHeader(2)
	e.String("code")
	e.Uint(1000)
	e.String("message")
	e.String("boom")
	_, err = DecodeResult(e.Bytes())
	require.Error(t, err)
	assert.True(t, errors.IsProtocolError(err))
}
