package cli

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/entitystore/internal/harness"
	"github.com/roach88/entitystore/internal/store"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Network string // filter deployments by network
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status [deployment-id]",
		Short: "Show indexing progress of deployments",
		Long: `Show the head block, sync and failure state and entity counts of one
deployment, or of every deployment (optionally only those on a network).`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Network, "network", "", "only deployments indexing this network")

	return cmd
}

func runStatus(opts *StatusOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	return opts.withStore(cmd, func(ctx context.Context, st *store.Store) error {
		var statuses []store.Status
		if len(args) == 1 {
			s, err := st.Status(ctx, args[0])
			if err != nil {
				return formatter.StoreError("status", err)
			}
			statuses = []store.Status{s}
		} else {
			var err error
			if statuses, err = st.Statuses(ctx, opts.Network); err != nil {
				return formatter.StoreError("status", err)
			}
		}

		if formatter.Format == "json" {
			if len(args) == 1 {
				return formatter.Success(statuses[0])
			}
			return formatter.Success(statuses)
		}
		if len(statuses) == 0 {
			fmt.Fprintln(formatter.Writer, "No deployments found.")
			return nil
		}
		for i, s := range statuses {
			if i > 0 {
				fmt.Fprintln(formatter.Writer)
			}
			writeStatus(formatter.Writer, s)
		}
		return nil
	})
}

func writeStatus(w io.Writer, s store.Status) {
	head := "none"
	if s.HeadBlock != nil {
		head = s.HeadBlock.String()
	}
	fmt.Fprintf(w, "%s (%s, %s)\n", s.DeploymentID, s.Namespace, s.Network)
	fmt.Fprintf(w, "  head:     %s\n", head)
	if s.ChainHead != nil {
		fmt.Fprintf(w, "  chain:    %s\n", s.ChainHead)
	}
	fmt.Fprintf(w, "  earliest: %d\n", s.EarliestBlock)
	fmt.Fprintf(w, "  synced:   %t\n", s.Synced)
	if s.Failed {
		fmt.Fprintf(w, "  failed:   %s\n", s.FatalError)
	}
	if s.CurrentVersion != "" || s.PendingVersion != "" {
		fmt.Fprintf(w, "  versions: current=%s pending=%s\n", s.CurrentVersion, s.PendingVersion)
	}
	fmt.Fprintf(w, "  blocks:   %d\n", s.BlockCount)
	fmt.Fprintf(w, "  entities: %d\n", s.EntityCount)

	types := make([]string, 0, len(s.EntityCounts))
	for t := range s.EntityCounts {
		types = append(types, t)
	}
	slices.Sort(types)
	for _, t := range types {
		fmt.Fprintf(w, "    %s: %d\n", t, s.EntityCounts[t])
	}
}

// UpdateOptions holds flags for the update command.
type UpdateOptions struct {
	*RootOptions
	ChainHead    int64
	ChainHash    string
	Fail         string
	ClearFailure bool
	Current      string
	Pending      string
}

// NewUpdateCommand creates the update command, which records deployment
// state reported by the rest of the indexer.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UpdateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <deployment-id>",
		Short: "Record chain head, failure or manifest versions of a deployment",
		Long: `Record deployment state that comes from outside the store.

Examples:
  entitystore update QmTokens --chain-head 1200
  entitystore update QmTokens --fail "handler panicked"
  entitystore update QmTokens --clear-failure
  entitystore update QmTokens --current v2 --pending ""`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(opts, args[0], cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.ChainHead, "chain-head", 0, "latest block number of the network")
	cmd.Flags().StringVar(&opts.ChainHash, "chain-hash", "", "hash of the chain head block")
	cmd.Flags().StringVar(&opts.Fail, "fail", "", "mark the deployment failed with this message")
	cmd.Flags().BoolVar(&opts.ClearFailure, "clear-failure", false, "clear the failed flag")
	cmd.Flags().StringVar(&opts.Current, "current", "", "current manifest version")
	cmd.Flags().StringVar(&opts.Pending, "pending", "", "pending manifest version")
	cmd.MarkFlagsMutuallyExclusive("fail", "clear-failure")

	return cmd
}

func runUpdate(opts *UpdateOptions, deploymentID string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	flags := cmd.Flags()

	if !flags.Changed("chain-head") && !flags.Changed("fail") && !flags.Changed("clear-failure") &&
		!flags.Changed("current") && !flags.Changed("pending") {
		_ = formatter.Error(ErrCodeInvalidInput, "nothing to update", nil)
		return NewExitError(ExitCommandError, "nothing to update")
	}

	return opts.withStore(cmd, func(ctx context.Context, st *store.Store) error {
		if flags.Changed("chain-head") {
			if err := st.SetChainHead(ctx, deploymentID, harness.BlockPtr(opts.ChainHead, opts.ChainHash)); err != nil {
				return formatter.StoreError("update", err)
			}
		}
		if flags.Changed("fail") {
			if err := st.Fail(ctx, deploymentID, opts.Fail); err != nil {
				return formatter.StoreError("update", err)
			}
		}
		if opts.ClearFailure {
			if err := st.ClearFailure(ctx, deploymentID); err != nil {
				return formatter.StoreError("update", err)
			}
		}
		if flags.Changed("current") || flags.Changed("pending") {
			current, pending := opts.Current, opts.Pending
			if !flags.Changed("current") || !flags.Changed("pending") {
				s, err := st.Status(ctx, deploymentID)
				if err != nil {
					return formatter.StoreError("update", err)
				}
				if !flags.Changed("current") {
					current = s.CurrentVersion
				}
				if !flags.Changed("pending") {
					pending = s.PendingVersion
				}
			}
			if err := st.SetVersions(ctx, deploymentID, current, pending); err != nil {
				return formatter.StoreError("update", err)
			}
		}

		s, err := st.Status(ctx, deploymentID)
		if err != nil {
			return formatter.StoreError("update", err)
		}
		if formatter.Format == "json" {
			return formatter.Success(s)
		}
		writeStatus(formatter.Writer, s)
		return nil
	})
}
