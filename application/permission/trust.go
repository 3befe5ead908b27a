package permission

// TrustDirectives pre-authorize plugins from the command line before
// any prompting happens. They always grant for the session only.
type TrustDirectives struct {
	// All trusts every plugin and command. Development use only.
	All bool
	// Plugins trusts every capability of the named plugins.
	Plugins []string
	// Commands trusts every capability when the named command is run,
	// regardless of which plugin provides it.
	Commands []string
}

// Covers reports whether the directives pre-authorize the given
// plugin/command pair.
func (t TrustDirectives) Covers(subject, command string) bool {
	if t.All {
		return true
	}
	for _, p := range t.Plugins {
		if p == subject {
			return true
		}
	}
	for _, c := range t.Commands {
		if command != "" && c == command {
			return true
		}
	}
	return false
}

// Empty reports whether no directive is set.
func (t TrustDirectives) Empty() bool {
	return !t.All && len(t.Plugins) == 0 && len(t.Commands) == 0
}
