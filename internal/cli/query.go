package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/entitystore/internal/harness"
	"github.com/roach88/entitystore/internal/ir"
	"github.com/roach88/entitystore/internal/store"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Where string // JSON where map
	Order string // "field" or "field desc"
	First int
	Skip  int
	After string
	Block int64
	ID    string // parent entity id for a relation query
	Field string // relationship field for a relation query
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <deployment-id> <entity-type>",
		Short: "Query entities at a block",
		Long: `Query the entities of a type as of a block (default: the head).

Filters use GraphQL-style where maps: a key is a field name with an
optional suffix (_not, _gt, _lt, _gte, _lte, _in, _not_in, _contains,
_starts_with, _ends_with and their _not_ forms). A key ending in "_"
filters through a relationship. With --id and --field the query returns
the entities a relationship field of one entity points to.

Examples:
  entitystore query QmTokens Token --where '{"owner": "x", "amount_gt": "5"}'
  entitystore query QmTokens Token --order "amount desc" --first 10
  entitystore query QmTokens Owner --id x --field tokens --block 120`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Where, "where", "", "filter as a JSON where map")
	cmd.Flags().StringVar(&opts.Order, "order", "", `order by a field ("field" or "field desc")`)
	cmd.Flags().IntVar(&opts.First, "first", 0, "maximum number of results (0 = no limit)")
	cmd.Flags().IntVar(&opts.Skip, "skip", 0, "number of results to skip")
	cmd.Flags().StringVar(&opts.After, "after", "", "only results after this id")
	cmd.Flags().Int64Var(&opts.Block, "block", 0, "read as of this block (default: head)")
	cmd.Flags().StringVar(&opts.ID, "id", "", "parent entity id (relation query)")
	cmd.Flags().StringVar(&opts.Field, "field", "", "relationship field (relation query)")
	cmd.MarkFlagsRequiredTogether("id", "field")

	return cmd
}

func runQuery(opts *QueryOptions, deploymentID, entityType string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	where, err := parseWhereFlag(opts.Where)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid --where", err)
	}

	step := &harness.QueryStep{
		Entity: entityType,
		ID:     opts.ID,
		Field:  opts.Field,
		Where:  where,
		Order:  opts.Order,
		First:  opts.First,
		Skip:   opts.Skip,
		After:  opts.After,
		Block:  blockFlag(cmd, opts.Block),
	}
	q, err := step.Build()
	if err != nil {
		return formatter.StoreError("query", err)
	}

	return opts.withStore(cmd, func(ctx context.Context, st *store.Store) error {
		entities, err := st.Query(ctx, deploymentID, q)
		if err != nil {
			return formatter.StoreError("query", err)
		}
		formatter.VerboseLog("Query returned %d %s entities", len(entities), entityType)

		if formatter.Format == "json" {
			return formatter.Success(entities)
		}
		return writeEntities(formatter.Writer, entities)
	})
}

// parseWhereFlag decodes a JSON where map, keeping numbers exact.
func parseWhereFlag(s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var where map[string]any
	if err := dec.Decode(&where); err != nil {
		return nil, fmt.Errorf("--where must be a JSON object: %w", err)
	}
	return where, nil
}

// blockFlag returns the --block value, or nil when the flag was not given.
func blockFlag(cmd *cobra.Command, block int64) *int64 {
	if !cmd.Flags().Changed("block") {
		return nil
	}
	return &block
}

// writeEntities prints one canonical JSON object per line.
func writeEntities(w io.Writer, entities []ir.Entity) error {
	if len(entities) == 0 {
		fmt.Fprintln(w, "No entities found.")
		return nil
	}
	for _, e := range entities {
		data, err := e.MarshalJSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
	}
	return nil
}

// GetOptions holds flags for the get command.
type GetOptions struct {
	*RootOptions
	Block int64
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "get <deployment-id> <entity-type> <id>",
		Short:         "Read one entity at a block",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(opts, args[0], args[1], args[2], cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.Block, "block", 0, "read as of this block (default: head)")

	return cmd
}

func runGet(opts *GetOptions, deploymentID, entityType, id string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	block := blockFlag(cmd, opts.Block)

	return opts.withStore(cmd, func(ctx context.Context, st *store.Store) error {
		entity, found, err := st.Get(ctx, deploymentID, entityType, id, block)
		if err != nil {
			return formatter.StoreError("get", err)
		}
		if !found {
			key := ir.EntityKey{EntityType: entityType, EntityID: id}.String()
			_ = formatter.Error(ErrCodeNotFound, key+" not found", nil)
			return NewExitError(ExitFailure, key+" not found")
		}

		if formatter.Format == "json" {
			return formatter.Success(entity)
		}
		return writeEntities(formatter.Writer, []ir.Entity{entity})
	})
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "history <deployment-id> <entity-type> <id>",
		Short:         "List every stored version of an entity",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, args[0], args[1], args[2], cmd)
		},
	}

	return cmd
}

func runHistory(opts *RootOptions, deploymentID, entityType, id string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	return opts.withStore(cmd, func(ctx context.Context, st *store.Store) error {
		versions, err := st.History(ctx, deploymentID, entityType, id)
		if err != nil {
			return formatter.StoreError("history", err)
		}

		if formatter.Format == "json" {
			return formatter.Success(versions)
		}
		if len(versions) == 0 {
			fmt.Fprintln(formatter.Writer, "No versions found.")
			return nil
		}
		for _, v := range versions {
			to := "open"
			if v.ValidTo != nil {
				to = fmt.Sprintf("%d", *v.ValidTo)
			}
			data, err := v.Entity.MarshalJSON()
			if err != nil {
				return err
			}
			fmt.Fprintf(formatter.Writer, "[%d..%s] %s\n", v.ValidFrom, to, data)
		}
		return nil
	})
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <deployment-id>",
		Short: "Verify the version history of a deployment",
		Long: `Check the version history of every entity table: at most one open
version per entity, no overlapping block ranges and no version starting
after the deployment head.

Exit codes:
  0 - No violations
  1 - Violations found
  2 - Command error`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runCheck(opts *RootOptions, deploymentID string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	return opts.withStore(cmd, func(ctx context.Context, st *store.Store) error {
		violations, err := st.Check(ctx, deploymentID)
		if err != nil {
			return formatter.StoreError("check", err)
		}

		if len(violations) == 0 {
			if formatter.Format == "json" {
				return formatter.Success(map[string]any{"violations": []store.Violation{}})
			}
			fmt.Fprintln(formatter.Writer, "✓ No violations")
			return nil
		}

		msg := fmt.Sprintf("%d violation(s) found", len(violations))
		if formatter.Format == "json" {
			_ = formatter.Error(ErrCodeGeneric, msg, violations)
		} else {
			fmt.Fprintf(formatter.Writer, "✗ %s\n\n", msg)
			for _, v := range violations {
				fmt.Fprintf(formatter.Writer, "  %s: %s\n", ir.EntityKey{EntityType: v.EntityType, EntityID: v.EntityID}, v.Message)
			}
		}
		return NewExitError(ExitFailure, msg)
	})
}
