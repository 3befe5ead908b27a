package prompter

import (
	"context"

	"github.com/wasmcmd-dev/wasmcmd/domain/entities"
	"github.com/wasmcmd-dev/wasmcmd/domain/ports"
)

// Auto answers every prompt with a fixed response without touching a
// terminal. Used for scripted runs and in tests.
type Auto struct {
	answer      ports.PromptAnswer
	interactive bool
}

// NewAuto creates a prompter that always returns answer. It reports
// itself as interactive so strategies route prompts to it.
func NewAuto(answer ports.PromptAnswer) *Auto {
	return &Auto{answer: answer, interactive: true}
}

// NewDenyAll creates a non-interactive prompter that denies everything.
func NewDenyAll() *Auto {
	return &Auto{answer: ports.AnswerDeny}
}

var _ ports.Prompter = (*Auto)(nil)

func (p *Auto) Interactive() bool { return p.interactive }

func (p *Auto) Ask(ctx context.Context, _ string, _ entities.CapabilityRequest) (ports.PromptAnswer, error) {
	if err := ctx.Err(); err != nil {
		return ports.AnswerDeny, err
	}
	return p.answer, nil
}
