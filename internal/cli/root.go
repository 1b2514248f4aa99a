package cli

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/roach88/entitystore/internal/config"
	"github.com/roach88/entitystore/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string // optional YAML config file
	DBPath     string // overrides db_path from the config

	// Config is loaded before any subcommand runs.
	Config *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the entitystore CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "entitystore",
		Short: "entitystore - versioned entity storage for blockchain indexers",
		Long: `Manage block-versioned entity tables for indexing deployments.

Every entity version is tagged with the block range it is valid for, so
state can be read at any block, rolled back on chain reorganizations and
pruned once history is no longer needed.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.setup(cmd.ErrOrStderr())
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (YAML)")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "database path (overrides db_path)")

	// Add subcommands
	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewDeployCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewApplyCommand(opts))
	cmd.AddCommand(NewRevertCommand(opts))
	cmd.AddCommand(NewPruneCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// setup loads the configuration, applies flag overrides and installs the
// logger. Logs go to w so they never mix with command output.
func (o *RootOptions) setup(w io.Writer) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return NewExitError(ExitCommandError, err.Error())
	}
	if o.DBPath != "" {
		cfg.DBPath = o.DBPath
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}

	logger, err := cfg.NewLogger(w)
	if err != nil {
		return NewExitError(ExitCommandError, err.Error())
	}
	config.UseLogger(logger)
	o.Config = cfg
	return nil
}

// formatter returns an output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// withStore opens the configured database, runs fn and closes it again.
// With metrics enabled the store's collectors are written to stderr in the
// Prometheus text format once fn returns.
func (o *RootOptions) withStore(cmd *cobra.Command, fn func(ctx context.Context, st *store.Store) error) error {
	if o.Config == nil {
		if err := o.setup(cmd.ErrOrStderr()); err != nil {
			return err
		}
	}

	storeOpts := o.Config.StoreOptions()
	var reg *prometheus.Registry
	if o.Config.Metrics {
		reg = prometheus.NewRegistry()
		storeOpts = append(storeOpts, store.WithMetricsRegisterer(reg))
	}

	st, err := store.Open(o.Config.DBPath, storeOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to open database %s", o.Config.DBPath), err)
	}
	defer st.Close()

	runErr := fn(cmd.Context(), st)
	if reg != nil {
		if err := writeMetrics(cmd.ErrOrStderr(), reg); err != nil && runErr == nil {
			runErr = err
		}
	}
	return runErr
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
