package ports

import (
	"context"
	"time"
)

// AuditEvent records a single permission ruling.
type AuditEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject"`
	Kind      string    `json:"kind"`
	Pattern   string    `json:"pattern"`
	Verdict   string    `json:"verdict"`
	Source    string    `json:"source"`
	Strategy  string    `json:"strategy"`
}

// Audit event sources.
const (
	SourceStored   = "stored"
	SourceStrategy = "strategy"
	SourcePrompt   = "prompt"
	SourceTrust    = "trust"
)

// AuditSink receives permission audit events. Sinks must tolerate
// concurrent Record calls.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
	Close() error
}
