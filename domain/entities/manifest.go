// Package entities defines the core types exchanged between the plugin host
// and its guests: the manifest a plugin declares about itself, the
// capabilities it requests, and the result of an invocation.
package entities

// APIVersion is the protocol version this host supports. A manifest
// declaring any other version is rejected before the guest runs.
const APIVersion uint32 = 1

// PluginManifest is the guest's self-description, returned by its
// get_manifest export. The host validates APIVersion before trusting any
// other field.
type PluginManifest struct {
	APIVersion   uint32       `json:"api_version" validate:"required"`
	Command      CommandSpec  `json:"command" validate:"required"`
	Capabilities Capabilities `json:"capabilities"`
}

// CommandSpec describes the command a plugin contributes. Name is the
// unique key under which the registry exposes it; a collision with a
// built-in or another loaded plugin is a load-time error.
type CommandSpec struct {
	Name        string        `json:"name" validate:"required"`
	About       string        `json:"about,omitempty"`
	Version     string        `json:"version,omitempty"`
	Author      string        `json:"author,omitempty"`
	Args        []ArgSpec     `json:"args,omitempty" validate:"dive"`
	Subcommands []CommandSpec `json:"subcommands,omitempty" validate:"dive"`
}

// ArgSpec is descriptive metadata about one argument, consumed by help
// generation and the router. The plugin does its own parsing from the raw
// string list it receives.
type ArgSpec struct {
	Name           string   `json:"name" validate:"required"`
	Long           string   `json:"long,omitempty"`
	Short          string   `json:"short,omitempty" validate:"omitempty,len=1"`
	Required       bool     `json:"required,omitempty"`
	Help           string   `json:"help,omitempty"`
	ValueName      string   `json:"value_name,omitempty"`
	DefaultValue   string   `json:"default_value,omitempty"`
	PossibleValues []string `json:"possible_values,omitempty"`
}
