// Package schema generates JSON Schema documents for the manifest
// types, so plugin authors can validate their manifests in editors and
// CI before shipping a wasm binary.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/wasmcmd-dev/wasmcmd/domain/entities"
)

// Generate creates a JSON Schema (Draft 2020-12) from a Go struct.
func Generate(v interface{}) ([]byte, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(v)

	jsonBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return jsonBytes, nil
}

// ManifestSchema returns the schema for a plugin manifest.
func ManifestSchema() ([]byte, error) {
	return Generate(entities.PluginManifest{})
}

// CapabilitiesSchema returns the schema for the capabilities block
// alone, for tooling that edits grants files.
func CapabilitiesSchema() ([]byte, error) {
	return Generate(entities.Capabilities{})
}
