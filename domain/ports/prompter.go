package ports

import (
	"context"

	"github.com/wasmcmd-dev/wasmcmd/domain/entities"
)

// PromptAnswer is the user's response to a capability prompt.
type PromptAnswer int

const (
	// AnswerDeny rejects the request for this invocation.
	AnswerDeny PromptAnswer = iota
	// AnswerAllowOnce grants the request for the current session only.
	AnswerAllowOnce
	// AnswerAllowAlways grants the request and persists the decision.
	AnswerAllowAlways
)

// Prompter asks the user whether a plugin may use a capability.
type Prompter interface {
	// Ask presents a single capability request for subject and returns
	// the user's answer. Implementations that cannot interact (no TTY)
	// should return AnswerDeny.
	Ask(ctx context.Context, subject string, req entities.CapabilityRequest) (PromptAnswer, error)

	// Interactive reports whether this prompter can actually reach a
	// user. Strategies use it to decide between prompting and denying.
	Interactive() bool
}
