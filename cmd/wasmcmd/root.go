package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wasmcmd-dev/wasmcmd/application/permission"
	"github.com/wasmcmd-dev/wasmcmd/application/schema"
	"github.com/wasmcmd-dev/wasmcmd/domain/policy"
	"github.com/wasmcmd-dev/wasmcmd/domain/ports"
	"github.com/wasmcmd-dev/wasmcmd/infrastructure/audit"
	"github.com/wasmcmd-dev/wasmcmd/infrastructure/grantstore"
	"github.com/wasmcmd-dev/wasmcmd/infrastructure/prompter"
	"github.com/wasmcmd-dev/wasmcmd/internal/logging"
	"github.com/wasmcmd-dev/wasmcmd/registry"
	"github.com/wasmcmd-dev/wasmcmd/sandbox"
)

// Reserved names plugins may not claim.
var builtinCommands = []string{"run", "list", "watch", "grants", "schema", "help", "completion"}

type appFlags struct {
	pluginDir     string
	strategy      string
	grantsFile    string
	auditLog      string
	noAudit       bool
	trustAll      bool
	trustPlugins  []string
	trustCommands []string
	verbose       bool
}

// app holds everything the subcommands share, built once in the root
// PersistentPreRunE.
type app struct {
	flags     appFlags
	logger    *zap.Logger
	runtime   *sandbox.Runtime
	registry  *registry.Registry
	evaluator *permission.Evaluator
	store     ports.GrantStore
	audit     ports.AuditSink

	// exitCode carries a plugin-reported failure code to the process
	// exit without treating it as a host error.
	exitCode int
}

func defaultPluginDir() string {
	return filepath.Join(os.Getenv("HOME"), ".wasmcmd", "plugins")
}

func run(args []string) (int, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	root := newRootCommand(a)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		return exitCodeFor(err), err
	}
	return a.exitCode, nil
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "wasmcmd",
		Short:         "Run sandboxed wasm plugins as commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.flags.pluginDir, "plugin-dir", defaultPluginDir(), "directory holding .wasm plugins")
	root.PersistentFlags().StringVar(&a.flags.strategy, "strategy", policy.NameDefault, "permission strategy: default, strict, permissive, ci, trust-all")
	root.PersistentFlags().StringVar(&a.flags.grantsFile, "grants-file", "", "path to the persisted grants file")
	root.PersistentFlags().StringVar(&a.flags.auditLog, "audit-log", "", "path to the permission audit log")
	root.PersistentFlags().BoolVar(&a.flags.noAudit, "no-audit", false, "disable the permission audit log")
	root.PersistentFlags().BoolVar(&a.flags.trustAll, "trust-all", false, "trust every plugin for this run")
	root.PersistentFlags().StringSliceVar(&a.flags.trustPlugins, "trust-plugin", nil, "trust the named plugin for this run (repeatable)")
	root.PersistentFlags().StringSliceVar(&a.flags.trustCommands, "trust-command", nil, "trust the named command for this run (repeatable)")
	root.PersistentFlags().BoolVarP(&a.flags.verbose, "verbose", "v", false, "enable debug logging")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return a.setup(cmd.Context())
	}
	root.PersistentPostRun = func(cmd *cobra.Command, _ []string) {
		a.teardown(cmd.Context())
	}

	root.AddCommand(
		newRunCommand(a),
		newListCommand(a),
		newWatchCommand(a),
		newGrantsCommand(a),
		newSchemaCommand(a),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	logger, err := logging.New(a.flags.verbose)
	if err != nil {
		return err
	}
	a.logger = logger

	strategy, ok := policy.ByName(a.flags.strategy)
	if !ok {
		return fmt.Errorf("unknown strategy %q", a.flags.strategy)
	}
	if a.flags.strategy == policy.NameTrustAll {
		logger.Warn("trust-all strategy grants everything, development use only")
	}

	var storeOpts []grantstore.FileStoreOption
	if a.flags.grantsFile != "" {
		storeOpts = append(storeOpts, grantstore.WithPath(a.flags.grantsFile))
	}
	a.store = grantstore.NewFileStore(storeOpts...)
	if a.flags.strategy == policy.NameCI {
		// CI runs never persist decisions: prior grants are readable,
		// writes are rejected.
		a.store = grantstore.NewReadOnly(a.store)
	}

	if a.flags.noAudit {
		a.audit = audit.NewNullSink()
	} else {
		var auditOpts []audit.FileSinkOption
		if a.flags.auditLog != "" {
			auditOpts = append(auditOpts, audit.WithPath(a.flags.auditLog))
		}
		a.audit = audit.NewFileSink(auditOpts...)
		if a.flags.verbose {
			a.audit = audit.NewComposite(a.audit, audit.NewLoggerSink(logger))
		}
	}

	a.evaluator = permission.NewEvaluator(strategy, a.store,
		permission.WithPrompter(prompter.NewCliPrompter(os.Stdin, os.Stderr)),
		permission.WithAuditSink(a.audit),
		permission.WithLogger(logger),
		permission.WithTrustDirectives(permission.TrustDirectives{
			All:      a.flags.trustAll,
			Plugins:  a.flags.trustPlugins,
			Commands: a.flags.trustCommands,
		}),
	)

	rt, err := sandbox.NewRuntime(ctx, sandbox.WithRuntimeLogger(logger))
	if err != nil {
		return err
	}
	a.runtime = rt

	a.registry = registry.New(registry.RuntimeLoader{Runtime: rt},
		registry.WithBuiltins(builtinCommands...),
		registry.WithEvaluator(a.evaluator),
		registry.WithLogger(logger),
	)
	return nil
}

func (a *app) teardown(ctx context.Context) {
	if a.audit != nil {
		_ = a.audit.Close()
	}
	if a.runtime != nil {
		_ = a.runtime.Close(ctx)
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// scanPlugins loads everything in the plugin directory. A missing
// directory just means no plugins yet.
func (a *app) scanPlugins(ctx context.Context) error {
	w := registry.NewWatcher(a.registry, a.flags.pluginDir, registry.WithWatcherLogger(a.logger))
	if err := w.Scan(ctx); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return nil
}

func newSchemaCommand(a *app) *cobra.Command {
	var capsOnly bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the manifest JSON schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			gen := schema.ManifestSchema
			if capsOnly {
				gen = schema.CapabilitiesSchema
			}
			out, err := gen()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&capsOnly, "capabilities", false, "print only the capabilities schema")
	return cmd
}
