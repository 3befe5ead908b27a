// Package prompter implements interactive and scripted capability
// prompts.
package prompter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/wasmcmd-dev/wasmcmd/domain/entities"
	"github.com/wasmcmd-dev/wasmcmd/domain/ports"
)

// CliPrompter implements ports.Prompter for terminal environments.
type CliPrompter struct {
	in  io.Reader
	out io.Writer
}

// NewCliPrompter creates a new CliPrompter reading answers from in and
// writing questions to out.
func NewCliPrompter(in io.Reader, out io.Writer) *CliPrompter {
	return &CliPrompter{in: in, out: out}
}

var _ ports.Prompter = (*CliPrompter)(nil)

// Interactive checks if the input is a terminal.
func (p *CliPrompter) Interactive() bool {
	if f, ok := p.in.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil {
			return false
		}
		return (stat.Mode() & os.ModeCharDevice) != 0
	}
	return false
}

// Ask presents a single capability request and reads one line.
// Anything other than yes or always denies.
func (p *CliPrompter) Ask(ctx context.Context, subject string, req entities.CapabilityRequest) (ports.PromptAnswer, error) {
	if err := ctx.Err(); err != nil {
		return ports.AnswerDeny, err
	}
	_, _ = fmt.Fprintf(p.out, "Plugin %q requests: %s\n", subject, req.Description())
	_, _ = fmt.Fprintf(p.out, "Allow? [y/n/always]: ")

	scanner := bufio.NewScanner(p.in)
	if scanner.Scan() {
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "y", "yes":
			return ports.AnswerAllowOnce, nil
		case "a", "always":
			return ports.AnswerAllowAlways, nil
		default:
			return ports.AnswerDeny, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return ports.AnswerDeny, err
	}
	return ports.AnswerDeny, io.EOF
}
