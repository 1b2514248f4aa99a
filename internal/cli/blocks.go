package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/entitystore/internal/harness"
	"github.com/roach88/entitystore/internal/store"
)

// AppliedBlock summarizes one committed block.
type AppliedBlock struct {
	Block   int64                `json:"block"`
	Hash    string               `json:"hash"`
	Changes []store.EntityChange `json:"changes"`
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <deployment-id> <block-file>",
		Short: "Apply blocks of entity writes from a file",
		Long: `Apply a YAML (or JSON) file of blocks to a deployment, in order.

Each block commits atomically. Applying stops at the first rejected block;
the blocks before it stay committed.

Block file format:
  - block: 10
    hash: "0xabc"
    ops:
      - {op: set, entity: Token, id: A1, data: {owner: x, amount: "5"}}
  - block: 11
    ops:
      - {op: remove, entity: Token, id: A1}`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(rootOpts, args[0], args[1], cmd)
		},
	}

	return cmd
}

func runApply(opts *RootOptions, deploymentID, blockFile string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	blocks, err := harness.LoadBlocks(blockFile)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid block file", err)
	}

	return opts.withStore(cmd, func(ctx context.Context, st *store.Store) error {
		sub := st.Subscribe(deploymentID)
		defer sub.Close()

		applied := make([]AppliedBlock, 0, len(blocks))
		for _, b := range blocks {
			ops, err := harness.Operations(b.Ops)
			if err != nil {
				_ = formatter.Error(ErrCodeInvalidInput, fmt.Sprintf("block %d: %v", b.Number, err), nil)
				return WrapExitError(ExitCommandError, "invalid block file", err)
			}
			ptr := b.Ptr()
			if err := st.Apply(ctx, deploymentID, ptr, ops); err != nil {
				return formatter.StoreError(fmt.Sprintf("apply block %d", b.Number), err)
			}

			// Events are published before Apply returns.
			result := AppliedBlock{Block: ptr.Number, Hash: ptr.Hash, Changes: []store.EntityChange{}}
			select {
			case ev := <-sub.C:
				result.Changes = ev.Changes
			default:
			}
			applied = append(applied, result)
			formatter.VerboseLog("Applied block %d: %d change(s)", ptr.Number, len(result.Changes))
		}

		if formatter.Format == "json" {
			return formatter.Success(applied)
		}
		changes := 0
		for _, a := range applied {
			changes += len(a.Changes)
		}
		fmt.Fprintf(formatter.Writer, "✓ Applied %d block(s), %d entity change(s)\n", len(applied), changes)
		return nil
	})
}

// NewRevertCommand creates the revert command.
func NewRevertCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revert <deployment-id> <block>",
		Short: "Roll a deployment back to a block",
		Long: `Discard every change made after the given block, as after a chain
reorganization. Reverting to the head block or above is a no-op; reverting
below the earliest retained block fails with REVERT_TARGET_TOO_OLD.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBlockOp(rootOpts, cmd, "revert", args[0], args[1], (*store.Store).RevertTo)
		},
	}

	return cmd
}

// NewPruneCommand creates the prune command.
func NewPruneCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune <deployment-id> <block>",
		Short: "Discard history before a block",
		Long: `Delete entity versions that ended before the given block and make it the
earliest block the deployment can be read at or reverted to. A block past
the deployment head fails with PRUNE_TARGET_BEYOND_HEAD.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBlockOp(rootOpts, cmd, "prune", args[0], args[1], (*store.Store).Prune)
		},
	}

	return cmd
}

// runBlockOp runs a store operation that takes a single block number and
// reports the resulting deployment status.
func runBlockOp(opts *RootOptions, cmd *cobra.Command, op, deploymentID, blockArg string,
	fn func(*store.Store, context.Context, string, int64) error) error {
	formatter := opts.formatter(cmd)

	block, err := strconv.ParseInt(blockArg, 10, 64)
	if err != nil || block < 0 {
		msg := fmt.Sprintf("invalid block number %q", blockArg)
		_ = formatter.Error(ErrCodeInvalidInput, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	return opts.withStore(cmd, func(ctx context.Context, st *store.Store) error {
		if err := fn(st, ctx, deploymentID, block); err != nil {
			return formatter.StoreError(op, err)
		}
		s, err := st.Status(ctx, deploymentID)
		if err != nil {
			return formatter.StoreError(op, err)
		}

		if formatter.Format == "json" {
			return formatter.Success(s)
		}
		head := "none"
		if s.HeadBlock != nil {
			head = s.HeadBlock.String()
		}
		fmt.Fprintf(formatter.Writer, "✓ %s %s to block %d (head %s, earliest %d)\n", op, deploymentID, block, head, s.EarliestBlock)
		return nil
	})
}
