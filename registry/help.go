package registry

import (
	"fmt"
	"strings"

	"github.com/wasmcmd-dev/wasmcmd/domain/entities"
)

// HelpText renders usage for a plugin command from its spec, in the
// same shape the host's own commands use. prog is the host binary name.
func HelpText(prog string, spec entities.CommandSpec) string {
	var b strings.Builder

	if spec.About != "" {
		b.WriteString(spec.About)
		b.WriteString("\n\n")
	}

	b.WriteString("Usage: ")
	b.WriteString(prog)
	b.WriteByte(' ')
	b.WriteString(spec.Name)
	if len(spec.Subcommands) > 0 {
		b.WriteString(" <command>")
	}
	for _, arg := range spec.Args {
		b.WriteByte(' ')
		b.WriteString(argUsage(arg))
	}
	b.WriteByte('\n')

	if len(spec.Subcommands) > 0 {
		b.WriteString("\nCommands:\n")
		for _, sub := range spec.Subcommands {
			fmt.Fprintf(&b, "  %-18s %s\n", sub.Name, sub.About)
		}
	}

	if len(spec.Args) > 0 {
		b.WriteString("\nArguments:\n")
		for _, arg := range spec.Args {
			fmt.Fprintf(&b, "  %-18s %s%s\n", argLabel(arg), arg.Help, argDefault(arg))
		}
	}

	if spec.Version != "" || spec.Author != "" {
		b.WriteByte('\n')
		if spec.Version != "" {
			fmt.Fprintf(&b, "Version: %s\n", spec.Version)
		}
		if spec.Author != "" {
			fmt.Fprintf(&b, "Author:  %s\n", spec.Author)
		}
	}
	return b.String()
}

func argUsage(arg entities.ArgSpec) string {
	name := arg.ValueName
	if name == "" {
		name = strings.ToUpper(arg.Name)
	}
	switch {
	case arg.Long != "":
		if arg.Required {
			return fmt.Sprintf("--%s <%s>", arg.Long, name)
		}
		return fmt.Sprintf("[--%s <%s>]", arg.Long, name)
	case arg.Required:
		return fmt.Sprintf("<%s>", name)
	default:
		return fmt.Sprintf("[%s]", name)
	}
}

func argLabel(arg entities.ArgSpec) string {
	switch {
	case arg.Long != "" && arg.Short != "":
		return fmt.Sprintf("-%s, --%s", arg.Short, arg.Long)
	case arg.Long != "":
		return "--" + arg.Long
	case arg.Short != "":
		return "-" + arg.Short
	default:
		return arg.Name
	}
}

func argDefault(arg entities.ArgSpec) string {
	var extras []string
	if len(arg.PossibleValues) > 0 {
		extras = append(extras, "one of: "+strings.Join(arg.PossibleValues, ", "))
	}
	if arg.DefaultValue != "" {
		extras = append(extras, fmt.Sprintf("default: %q", arg.DefaultValue))
	}
	if len(extras) == 0 {
		return ""
	}
	return " [" + strings.Join(extras, "; ") + "]"
}
