package ports

import (
	"context"

	"github.com/wasmcmd-dev/wasmcmd/domain/entities"
)

// GrantStore persists permission decisions between runs. Session-scoped
// decisions are held in memory by the caller and never reach the store.
type GrantStore interface {
	// Get returns the stored decision for the exact key, or ok=false
	// when none has been recorded.
	Get(ctx context.Context, key entities.DecisionKey) (entities.Decision, bool, error)

	// Put records a decision, replacing any existing entry for the
	// same key.
	Put(ctx context.Context, decision entities.Decision) error

	// SubjectHash returns the capability-set hash last seen for subject,
	// or ok=false when the subject has never been recorded.
	SubjectHash(ctx context.Context, subject string) (string, bool, error)

	// SetSubjectHash records the capability-set hash for subject.
	SetSubjectHash(ctx context.Context, subject, hash string) error

	// DropSubject removes all decisions and the recorded hash for
	// subject. Used when a plugin's capability set changes.
	DropSubject(ctx context.Context, subject string) error

	// List returns every stored decision.
	List(ctx context.Context) ([]entities.Decision, error)
}
