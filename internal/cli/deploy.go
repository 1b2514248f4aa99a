package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/entitystore/internal/store"
)

// DeployOptions holds flags for the deploy command.
type DeployOptions struct {
	*RootOptions
	ID string // overrides the content-hash deployment id
}

// NewDeployCommand creates the deploy command.
func NewDeployCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeployOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "deploy <manifest-dir>",
		Short: "Register a deployment and create its tables",
		Long: `Register a deployment from a CUE manifest.

The deployment id defaults to the content hash of the manifest, so
deploying the same manifest twice is a no-op that reports the existing
deployment.

Examples:
  entitystore deploy ./manifest
  entitystore deploy ./manifest --id QmTokens --db tokens.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "deployment id (default: manifest hash)")

	return cmd
}

func runDeploy(opts *DeployOptions, manifestDir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	loadResult, loadErrors := LoadManifest(manifestDir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		code, message := parseCompileError(loadErrors[0])
		return outputCompileError(formatter, code, message, nil)
	}

	return opts.withStore(cmd, func(ctx context.Context, st *store.Store) error {
		d, err := st.CreateDeployment(ctx, opts.ID, *loadResult.Manifest)
		if err != nil {
			return formatter.StoreError("deploy", err)
		}
		formatter.VerboseLog("Deployment %s uses namespace %s", d.ID, d.Namespace)

		if formatter.Format == "json" {
			return formatter.Success(d)
		}
		fmt.Fprintf(formatter.Writer, "✓ Deployed %s\n", d.ID)
		fmt.Fprintf(formatter.Writer, "  namespace:   %s\n", d.Namespace)
		fmt.Fprintf(formatter.Writer, "  network:     %s\n", d.Manifest.Network)
		fmt.Fprintf(formatter.Writer, "  start block: %d\n", d.Manifest.StartBlock)
		return nil
	})
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate <deployment-id> <manifest-dir>",
		Short: "Apply additive schema changes to a deployment",
		Long: `Migrate a deployment to the entity schema of a new manifest.

Only additive changes are allowed: new entity types and new nullable or
list fields. Any other difference is rejected with SCHEMA_ERROR and
leaves the deployment untouched.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, args[0], args[1], cmd)
		},
	}

	return cmd
}

func runMigrate(opts *RootOptions, deploymentID, manifestDir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	loadResult, loadErrors := LoadManifest(manifestDir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		code, message := parseCompileError(loadErrors[0])
		return outputCompileError(formatter, code, message, nil)
	}

	return opts.withStore(cmd, func(ctx context.Context, st *store.Store) error {
		if err := st.MigrateSchema(ctx, deploymentID, loadResult.Manifest.Schema); err != nil {
			return formatter.StoreError("migrate", err)
		}
		if formatter.Format == "json" {
			return formatter.Success(map[string]any{
				"deployment_id": deploymentID,
				"entity_types":  loadResult.Manifest.Schema.TypeNames(),
			})
		}
		fmt.Fprintf(formatter.Writer, "✓ Migrated %s (%d entity type(s))\n", deploymentID, len(loadResult.Manifest.Schema.Types))
		return nil
	})
}
