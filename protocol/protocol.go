// Package protocol implements the manifest and invocation payloads on top
// of the wire codec: the PluginManifest a guest returns from get_manifest,
// the argv array passed to invoke, and the ExecuteResult it returns.
//
// Encoders write map keys in a fixed insertion order and omit absent
// optional fields. Decoders ignore unknown trailing map keys so the schema
// can grow without breaking older hosts or guests.
package protocol

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/wasmcmd-dev/wasmcmd/domain/entities"
	"github.com/wasmcmd-dev/wasmcmd/domain/errors"
	"github.com/wasmcmd-dev/wasmcmd/wire"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// CheckAPIVersion rejects any manifest version other than the one this
// host supports. Fail-closed: there is no best-effort downgrade.
func CheckAPIVersion(m entities.PluginManifest) error {
	if m.APIVersion != entities.APIVersion {
		return &errors.APIVersionError{Expected: entities.APIVersion, Actual: m.APIVersion}
	}
	return nil
}

// ValidateManifest performs structural validation of a decoded manifest.
// The api_version check is separate (and earlier): no other field is
// trusted before it passes.
func ValidateManifest(m entities.PluginManifest) error {
	if err := CheckAPIVersion(m); err != nil {
		return err
	}
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}
	return nil
}

// EncodeManifest encodes a PluginManifest. Used by wasip1 guests and by
// tests exercising the round-trip law.
func EncodeManifest(m entities.PluginManifest) []byte {
	e := wire.NewEncoder()
	e.MapHeader(3)
	e.String("api_version")
	e.Uint(m.APIVersion)
	e.String("command")
	encodeCommandSpec(e, m.Command)
	e.String("capabilities")
	encodeCapabilities(e, m.Capabilities)
	return e.Bytes()
}

// DecodeManifest decodes a PluginManifest from guest bytes. Malformed input
// yields a ProtocolError, never a panic.
func DecodeManifest(data []byte) (entities.PluginManifest, error) {
	var m entities.PluginManifest
	d := wire.NewDecoder(data)
	n, err := d.MapHeader()
	if err != nil {
		return m, err
	}
	for i := 0; i < n; i++ {
		key, err := d.String()
		if err != nil {
			return m, err
		}
		switch key {
		case "api_version":
			if m.APIVersion, err = d.Uint(); err != nil {
				return m, err
			}
		case "command":
			if m.Command, err = decodeCommandSpec(d); err != nil {
				return m, err
			}
		case "capabilities":
			if m.Capabilities, err = decodeCapabilities(d); err != nil {
				return m, err
			}
		default:
			if err := d.Skip(); err != nil {
				return m, err
			}
		}
	}
	return m, nil
}

func encodeCommandSpec(e *wire.Encoder, c entities.CommandSpec) {
	keys := 1
	if c.About != "" {
		keys++
	}
	if c.Version != "" {
		keys++
	}
	if c.Author != "" {
		keys++
	}
	if len(c.Args) > 0 {
		keys++
	}
	if len(c.Subcommands) > 0 {
		keys++
	}
	e.MapHeader(keys)
	e.String("name")
	e.String(c.Name)
	if c.About != "" {
		e.String("about")
		e.String(c.About)
	}
	if c.Version != "" {
		e.String("version")
		e.String(c.Version)
	}
	if c.Author != "" {
		e.String("author")
		e.String(c.Author)
	}
	if len(c.Args) > 0 {
		e.String("args")
		e.ArrayHeader(len(c.Args))
		for _, a := range c.Args {
			encodeArgSpec(e, a)
		}
	}
	if len(c.Subcommands) > 0 {
		e.String("subcommands")
		e.ArrayHeader(len(c.Subcommands))
		for _, s := range c.Subcommands {
			encodeCommandSpec(e, s)
		}
	}
}

func decodeCommandSpec(d *wire.Decoder) (entities.CommandSpec, error) {
	var c entities.CommandSpec
	n, err := d.MapHeader()
	if err != nil {
		return c, err
	}
	for i := 0; i < n; i++ {
		key, err := d.String()
		if err != nil {
			return c, err
		}
		switch key {
		case "name":
			if c.Name, err = d.String(); err != nil {
				return c, err
			}
		case "about":
			if c.About, err = d.String(); err != nil {
				return c, err
			}
		case "version":
			if c.Version, err = d.String(); err != nil {
				return c, err
			}
		case "author":
			if c.Author, err = d.String(); err != nil {
				return c, err
			}
		case "args":
			cnt, err := d.ArrayHeader()
			if err != nil {
				return c, err
			}
			c.Args = make([]entities.ArgSpec, 0, min(cnt, 64))
			for j := 0; j < cnt; j++ {
				a, err := decodeArgSpec(d)
				if err != nil {
					return c, err
				}
				c.Args = append(c.Args, a)
			}
		case "subcommands":
			cnt, err := d.ArrayHeader()
			if err != nil {
				return c, err
			}
			c.Subcommands = make([]entities.CommandSpec, 0, min(cnt, 64))
			for j := 0; j < cnt; j++ {
				s, err := decodeCommandSpec(d)
				if err != nil {
					return c, err
				}
				c.Subcommands = append(c.Subcommands, s)
			}
		default:
			if err := d.Skip(); err != nil {
				return c, err
			}
		}
	}
	return c, nil
}

func encodeArgSpec(e *wire.Encoder, a entities.ArgSpec) {
	keys := 2 // name and required are always present
	if a.Long != "" {
		keys++
	}
	if a.Short != "" {
		keys++
	}
	if a.Help != "" {
		keys++
	}
	if a.ValueName != "" {
		keys++
	}
	if a.DefaultValue != "" {
		keys++
	}
	if len(a.PossibleValues) > 0 {
		keys++
	}
	e.MapHeader(keys)
	e.String("name")
	e.String(a.Name)
	if a.Long != "" {
		e.String("long")
		e.String(a.Long)
	}
	if a.Short != "" {
		e.String("short")
		e.String(a.Short)
	}
	e.String("required")
	e.Bool(a.Required)
	if a.Help != "" {
		e.String("help")
		e.String(a.Help)
	}
	if a.ValueName != "" {
		e.String("value_name")
		e.String(a.ValueName)
	}
	if a.DefaultValue != "" {
		e.String("default_value")
		e.String(a.DefaultValue)
	}
	if len(a.PossibleValues) > 0 {
		e.String("possible_values")
		e.StringArray(a.PossibleValues)
	}
}

func decodeArgSpec(d *wire.Decoder) (entities.ArgSpec, error) {
	var a entities.ArgSpec
	n, err := d.MapHeader()
	if err != nil {
		return a, err
	}
	for i := 0; i < n; i++ {
		key, err := d.String()
		if err != nil {
			return a, err
		}
		switch key {
		case "name":
			if a.Name, err = d.String(); err != nil {
				return a, err
			}
		case "long":
			if a.Long, err = d.String(); err != nil {
				return a, err
			}
		case "short":
			if a.Short, err = d.String(); err != nil {
				return a, err
			}
		case "required":
			if a.Required, err = d.Bool(); err != nil {
				return a, err
			}
		case "help":
			if a.Help, err = d.String(); err != nil {
				return a, err
			}
		case "value_name":
			if a.ValueName, err = d.String(); err != nil {
				return a, err
			}
		case "default_value":
			if a.DefaultValue, err = d.String(); err != nil {
				return a, err
			}
		case "possible_values":
			if a.PossibleValues, err = d.StringArray(); err != nil {
				return a, err
			}
		default:
			if err := d.Skip(); err != nil {
				return a, err
			}
		}
	}
	return a, nil
}

func encodeCapabilities(e *wire.Encoder, c entities.Capabilities) {
	keys := 0
	if len(c.FSRead) > 0 {
		keys++
	}
	if len(c.FSWrite) > 0 {
		keys++
	}
	if len(c.EnvRead) > 0 {
		keys++
	}
	stdio := c.Stdio.Stdin || c.Stdio.Stdout || c.Stdio.Stderr
	if stdio {
		keys++
	}
	e.MapHeader(keys)
	if len(c.FSRead) > 0 {
		e.String("fs_read")
		encodePathPatterns(e, c.FSRead)
	}
	if len(c.FSWrite) > 0 {
		e.String("fs_write")
		encodePathPatterns(e, c.FSWrite)
	}
	if len(c.EnvRead) > 0 {
		e.String("env_read")
		e.StringArray(c.EnvRead)
	}
	if stdio {
		e.String("stdio")
		e.MapHeader(3)
		e.String("stdin")
		e.Bool(c.Stdio.Stdin)
		e.String("stdout")
		e.Bool(c.Stdio.Stdout)
		e.String("stderr")
		e.Bool(c.Stdio.Stderr)
	}
}

func encodePathPatterns(e *wire.Encoder, pats []entities.PathPattern) {
	e.ArrayHeader(len(pats))
	for _, p := range pats {
		e.MapHeader(2)
		e.String("pattern")
		e.String(p.Pattern)
		e.String("recursive")
		e.Bool(p.Recursive)
	}
}

func decodeCapabilities(d *wire.Decoder) (entities.Capabilities, error) {
	var c entities.Capabilities
	n, err := d.MapHeader()
	if err != nil {
		return c, err
	}
	for i := 0; i < n; i++ {
		key, err := d.String()
		if err != nil {
			return c, err
		}
		switch key {
		case "fs_read":
			if c.FSRead, err = decodePathPatterns(d); err != nil {
				return c, err
			}
		case "fs_write":
			if c.FSWrite, err = decodePathPatterns(d); err != nil {
				return c, err
			}
		case "env_read":
			if c.EnvRead, err = d.StringArray(); err != nil {
				return c, err
			}
		case "stdio":
			cnt, err := d.MapHeader()
			if err != nil {
				return c, err
			}
			for j := 0; j < cnt; j++ {
				sk, err := d.String()
				if err != nil {
					return c, err
				}
				switch sk {
				case "stdin":
					if c.Stdio.Stdin, err = d.Bool(); err != nil {
						return c, err
					}
				case "stdout":
					if c.Stdio.Stdout, err = d.Bool(); err != nil {
						return c, err
					}
				case "stderr":
					if c.Stdio.Stderr, err = d.Bool(); err != nil {
						return c, err
					}
				default:
					if err := d.Skip(); err != nil {
						return c, err
					}
				}
			}
		default:
			if err := d.Skip(); err != nil {
				return c, err
			}
		}
	}
	return c, nil
}

func decodePathPatterns(d *wire.Decoder) ([]entities.PathPattern, error) {
	n, err := d.ArrayHeader()
	if err != nil {
		return nil, err
	}
	out := make([]entities.PathPattern, 0, min(n, 64))
	for i := 0; i < n; i++ {
		var p entities.PathPattern
		cnt, err := d.MapHeader()
		if err != nil {
			return nil, err
		}
		for j := 0; j < cnt; j++ {
			key, err := d.String()
			if err != nil {
				return nil, err
			}
			switch key {
			case "pattern":
				if p.Pattern, err = d.String(); err != nil {
					return nil, err
				}
			case "recursive":
				if p.Recursive, err = d.Bool(); err != nil {
					return nil, err
				}
			default:
				if err := d.Skip(); err != nil {
					return nil, err
				}
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// EncodeArgs encodes the raw argument tail passed to a plugin's invoke
// export.
func EncodeArgs(argv []string) []byte {
	e := wire.NewEncoder()
	e.StringArray(argv)
	return e.Bytes()
}

// DecodeArgs decodes an argv array. Used by wasip1 guests.
func DecodeArgs(data []byte) ([]string, error) {
	return wire.NewDecoder(data).StringArray()
}

// EncodeResult encodes an ExecuteResult as a single-key map:
// {"success": output} or {"error": {"code": n, "message": msg}}.
func EncodeResult(r entities.ExecuteResult) []byte {
	e := wire.NewEncoder()
	e.MapHeader(1)
	if r.Err == nil {
		e.String("success")
		e.String(r.Output)
	} else {
		e.String("error")
		e.MapHeader(2)
		e.String("code")
		e.Uint(uint32(r.Err.Code))
		e.String("message")
		e.String(r.Err.Message)
	}
	return e.Bytes()
}

// DecodeResult decodes an ExecuteResult from guest bytes.
func DecodeResult(data []byte) (entities.ExecuteResult, error) {
	var r entities.ExecuteResult
	d := wire.NewDecoder(data)
	n, err := d.MapHeader()
	if err != nil {
		return r, err
	}
	if n != 1 {
		return r, errors.NewProtocolError(0, "execute result must have exactly one variant key, got %d", n)
	}
	key, err := d.String()
	if err != nil {
		return r, err
	}
	switch key {
	case "success":
		if r.Output, err = d.String(); err != nil {
			return r, err
		}
	case "error":
		cnt, err := d.MapHeader()
		if err != nil {
			return r, err
		}
		r.Err = &entities.ExecuteError{}
		for i := 0; i < cnt; i++ {
			k, err := d.String()
			if err != nil {
				return r, err
			}
			switch k {
			case "code":
				code, err := d.Uint()
				if err != nil {
					return r, err
				}
				if code > 255 {
					return r, errors.NewProtocolError(0, "error code %d out of range", code)
				}
				r.Err.Code = uint8(code)
			case "message":
				if r.Err.Message, err = d.String(); err != nil {
					return r, err
				}
			default:
				if err := d.Skip(); err != nil {
					return r, err
				}
			}
		}
	default:
		return r, errors.NewProtocolError(0, "unknown execute result variant %q", key)
	}
	return r, nil
}
