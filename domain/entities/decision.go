package entities

import "time"

// Verdict is the outcome of a permission decision.
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictDeny  Verdict = "deny"
)

// Scope controls how long a decision lives. Session decisions are held in
// memory only; persistent decisions survive process restarts.
type Scope string

const (
	ScopeSession    Scope = "session"
	ScopePersistent Scope = "persistent"
)

// Decision is one persisted permission verdict, keyed by
// (subject, capability kind, pattern). Absence of a decision is Deny,
// never Allow.
type Decision struct {
	Subject   string         `json:"subject" yaml:"subject"`
	Kind      CapabilityKind `json:"kind" yaml:"kind"`
	Pattern   string         `json:"pattern" yaml:"pattern"`
	Verdict   Verdict        `json:"verdict" yaml:"verdict"`
	Scope     Scope          `json:"scope" yaml:"scope"`
	DecidedAt time.Time      `json:"decided_at" yaml:"decided_at"`
}

// DecisionKey identifies a decision in the grant store.
type DecisionKey struct {
	Subject string         `yaml:"subject"`
	Kind    CapabilityKind `yaml:"kind"`
	Pattern string         `yaml:"pattern"`
}

// Key returns the store key for this decision.
func (d Decision) Key() DecisionKey {
	return DecisionKey{Subject: d.Subject, Kind: d.Kind, Pattern: d.Pattern}
}
