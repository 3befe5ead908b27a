package entities

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// CapabilityKind identifies one class of capability a guest may request.
type CapabilityKind string

const (
	KindFSRead  CapabilityKind = "fs_read"
	KindFSWrite CapabilityKind = "fs_write"
	KindEnvRead CapabilityKind = "env_read"
	KindStdio   CapabilityKind = "stdio"

	// KindNet is reserved for future network-equivalent capabilities.
	// No manifest field maps to it yet; the Permissive strategy refuses
	// to auto-allow it.
	KindNet CapabilityKind = "net"
)

// PathPattern is a declarative filesystem access request.
type PathPattern struct {
	Pattern   string `json:"pattern" yaml:"pattern" validate:"required"`
	Recursive bool   `json:"recursive,omitempty" yaml:"recursive,omitempty"`
}

func (p PathPattern) String() string {
	if p.Recursive {
		return p.Pattern + "/**"
	}
	return p.Pattern
}

// StdioCapability declares which standard streams the guest wants.
type StdioCapability struct {
	Stdin  bool `json:"stdin,omitempty" yaml:"stdin,omitempty"`
	Stdout bool `json:"stdout,omitempty" yaml:"stdout,omitempty"`
	Stderr bool `json:"stderr,omitempty" yaml:"stderr,omitempty"`
}

// Capabilities is the additive-only set of permissions a plugin requests in
// its manifest. Absence of a field means no access requested; there is no
// implicit grant.
type Capabilities struct {
	FSRead  []PathPattern   `json:"fs_read,omitempty" yaml:"fs_read,omitempty" validate:"dive"`
	FSWrite []PathPattern   `json:"fs_write,omitempty" yaml:"fs_write,omitempty" validate:"dive"`
	EnvRead []string        `json:"env_read,omitempty" yaml:"env_read,omitempty"`
	Stdio   StdioCapability `json:"stdio,omitempty" yaml:"stdio,omitempty"`
}

// IsEmpty reports whether no capability at all is requested.
func (c Capabilities) IsEmpty() bool {
	return len(c.FSRead) == 0 && len(c.FSWrite) == 0 && len(c.EnvRead) == 0 &&
		!c.Stdio.Stdin && !c.Stdio.Stdout && !c.Stdio.Stderr
}

// CapabilityRequest is one (kind, pattern) pair expanded from a manifest's
// capability set. It is the unit the permission system decides on.
type CapabilityRequest struct {
	Kind    CapabilityKind
	Pattern string
}

// Description renders a human-readable line for prompts and audit entries.
func (r CapabilityRequest) Description() string {
	switch r.Kind {
	case KindFSRead:
		return fmt.Sprintf("read files under %q", r.Pattern)
	case KindFSWrite:
		return fmt.Sprintf("write files under %q", r.Pattern)
	case KindEnvRead:
		return fmt.Sprintf("read environment variable(s) %q", r.Pattern)
	case KindStdio:
		return fmt.Sprintf("access standard stream %s", r.Pattern)
	default:
		return fmt.Sprintf("%s: %s", r.Kind, r.Pattern)
	}
}

// Requests expands the capability set into individual (kind, pattern)
// requests in a deterministic order.
func (c Capabilities) Requests() []CapabilityRequest {
	var reqs []CapabilityRequest
	for _, p := range c.FSRead {
		reqs = append(reqs, CapabilityRequest{Kind: KindFSRead, Pattern: p.String()})
	}
	for _, p := range c.FSWrite {
		reqs = append(reqs, CapabilityRequest{Kind: KindFSWrite, Pattern: p.String()})
	}
	for _, v := range c.EnvRead {
		reqs = append(reqs, CapabilityRequest{Kind: KindEnvRead, Pattern: v})
	}
	for stream, on := range map[string]bool{"stdin": c.Stdio.Stdin, "stdout": c.Stdio.Stdout, "stderr": c.Stdio.Stderr} {
		if on {
			reqs = append(reqs, CapabilityRequest{Kind: KindStdio, Pattern: stream})
		}
	}
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].Kind != reqs[j].Kind {
			return reqs[i].Kind < reqs[j].Kind
		}
		return reqs[i].Pattern < reqs[j].Pattern
	})
	return reqs
}

// Hash returns a canonical digest of the declared capability set. Trust is
// bound to this digest: when a plugin's declared capabilities change, the
// stored hash no longer matches and the permission system re-evaluates.
// The digest is order-insensitive so reordering declarations is not an
// escalation.
func (c Capabilities) Hash() string {
	reqs := c.Requests()
	lines := make([]string, 0, len(reqs))
	for _, r := range reqs {
		lines = append(lines, string(r.Kind)+":"+r.Pattern)
	}
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}
