package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pressroom/internal/config"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the journalist search index",
	}
	cmd.AddCommand(
		newIndexSyncCmd(),
		newIndexReconcileCmd(),
		newIndexRebuildCmd(),
		newIndexStatusCmd(),
		newIndexDeleteCmd(),
	)
	return cmd
}

func indexApp(cmd *cobra.Command) (App, error) {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return nil, err
	}
	if err := precondition(cmd.Context(), a, config.Config.RequireIndex); err != nil {
		return nil, err
	}
	return a, nil
}

func parseJournalistID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid journalist id %q", arg)
	}
	return id, nil
}

func newIndexSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <journalist-id>",
		Short: "Push one journalist to the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJournalistID(args[0])
			if err != nil {
				return err
			}
			a, err := indexApp(cmd)
			if err != nil {
				return err
			}
			if err := a.Index().Sync(cmd.Context(), id); err != nil {
				return fmt.Errorf("sync journalist %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced journalist %d\n", id)
			return nil
		},
	}
}

func newIndexDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <journalist-id>",
		Short: "Remove one journalist from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJournalistID(args[0])
			if err != nil {
				return err
			}
			a, err := indexApp(cmd)
			if err != nil {
				return err
			}
			if err := a.Index().Delete(cmd.Context(), id); err != nil {
				return fmt.Errorf("delete journalist %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted journalist %d from the index\n", id)
			return nil
		},
	}
}

func newIndexReconcileCmd() *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Re-push journalists modified within a window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := indexApp(cmd)
			if err != nil {
				return err
			}
			if window <= 0 {
				window = a.Config().Index.ReconcileWindow
			}
			n, err := a.Index().Reconcile(cmd.Context(), window)
			if err != nil {
				return fmt.Errorf("reconcile index: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reconciled %d journalists modified in the last %s\n", n, window)
			return nil
		},
	}
	cmd.Flags().DurationVar(&window, "window", 0, "look-back window (0 uses index.reconcile_window)")
	return cmd
}

func newIndexRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Recreate every journalist document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := indexApp(cmd)
			if err != nil {
				return err
			}
			n, err := a.Index().Rebuild(cmd.Context())
			if err != nil {
				return fmt.Errorf("rebuild index: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rebuilt %d journalists\n", n)
			return nil
		},
	}
}

func newIndexStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Compare the index with the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := indexApp(cmd)
			if err != nil {
				return err
			}
			st, err := a.Index().Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("index status: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(st); err != nil {
				return fmt.Errorf("write status: %w", err)
			}
			return nil
		},
	}
}
