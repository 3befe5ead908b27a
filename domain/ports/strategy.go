package ports

import (
	"context"

	"github.com/wasmcmd-dev/wasmcmd/domain/entities"
)

// StrategyOutcome is a strategy's ruling on a single capability request.
type StrategyOutcome int

const (
	// OutcomeDeny rejects the request.
	OutcomeDeny StrategyOutcome = iota
	// OutcomeAllowSession grants the request for the current session.
	OutcomeAllowSession
	// OutcomeAllowPersist grants the request and asks the evaluator to
	// persist the decision.
	OutcomeAllowPersist
	// OutcomePrompt defers the ruling to the user via a Prompter.
	OutcomePrompt
)

// Strategy decides how capability requests without a stored decision are
// resolved. Stored grants are consulted by the evaluator before the
// strategy is asked.
type Strategy interface {
	// Name identifies the strategy in logs and audit records.
	Name() string

	// Decide rules on a single capability request for subject.
	Decide(ctx context.Context, subject string, req entities.CapabilityRequest) StrategyOutcome
}
