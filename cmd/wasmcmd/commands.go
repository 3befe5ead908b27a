package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/wasmcmd-dev/wasmcmd/registry"
	"github.com/wasmcmd-dev/wasmcmd/sandbox"
)

func newRunCommand(a *app) *cobra.Command {
	var showHelp bool
	cmd := &cobra.Command{
		Use:   "run <command> [args...]",
		Short: "Invoke a plugin command",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.scanPlugins(ctx); err != nil {
				return err
			}
			name := args[0]

			if showHelp {
				manifest, err := a.registry.Lookup(name)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), registry.HelpText("wasmcmd run", manifest.Command))
				return nil
			}

			result, err := a.registry.Invoke(ctx, name, args[1:], sandbox.InvokeIO{
				Stdin:  os.Stdin,
				Stdout: cmd.OutOrStdout(),
				Stderr: cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			if result.Err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "Error:", result.Err.Message)
				a.exitCode = int(result.Err.Code)
				return nil
			}
			if result.Output != "" {
				fmt.Fprintln(cmd.OutOrStdout(), result.Output)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showHelp, "describe", false, "show the command's usage instead of running it")
	return cmd
}

func newListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available plugin commands",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.scanPlugins(cmd.Context()); err != nil {
				return err
			}
			specs := a.registry.List()
			if len(specs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No plugins installed in", a.flags.pluginDir)
				return nil
			}
			sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
			for _, spec := range specs {
				about := spec.About
				if spec.Version != "" {
					about = fmt.Sprintf("%s (v%s)", about, spec.Version)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", spec.Name, about)
			}
			return nil
		},
	}
}

func newWatchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the plugin directory and hot-reload on change",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := registry.NewWatcher(a.registry, a.flags.pluginDir,
				registry.WithWatcherLogger(a.logger))
			err := w.Run(cmd.Context())
			if err != nil && cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}
}

func newGrantsCommand(a *app) *cobra.Command {
	grants := &cobra.Command{
		Use:   "grants",
		Short: "Inspect and edit persisted permission grants",
	}

	grants.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List persisted grants",
		RunE: func(cmd *cobra.Command, _ []string) error {
			decisions, err := a.store.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(decisions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No grants recorded")
				return nil
			}
			sort.Slice(decisions, func(i, j int) bool {
				if decisions[i].Subject != decisions[j].Subject {
					return decisions[i].Subject < decisions[j].Subject
				}
				return decisions[i].Pattern < decisions[j].Pattern
			})
			for _, d := range decisions {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-10s %-8s %s\n", d.Subject, d.Kind, d.Verdict, d.Pattern)
			}
			return nil
		},
	})

	grants.AddCommand(&cobra.Command{
		Use:   "revoke <plugin>",
		Short: "Revoke every grant for a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.DropSubject(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Revoked grants for", args[0])
			return nil
		},
	})
	return grants
}
