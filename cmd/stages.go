package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pressroom/internal/config"
)

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func newProcessCmd() *cobra.Command {
	var (
		limit     int
		reprocess bool
	)
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Extract journalists from unprocessed pages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := precondition(cmd.Context(), a, config.Config.RequireLLM); err != nil {
				return err
			}
			rep, err := a.Pipeline().Process(cmd.Context(), limit, reprocess)
			if err != nil {
				return fmt.Errorf("process pages: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "processed %d pages: %d news articles, %d journalist links, %d failed\n",
				rep.Pages, rep.News, rep.Journalists, rep.Failed)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum pages to process (0 for all)")
	cmd.Flags().BoolVar(&reprocess, "reprocess", false, "re-extract pages that were already processed")
	return cmd
}

func newCategorizeCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "categorize",
		Short: "Tag uncategorized news articles with categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := precondition(cmd.Context(), a, config.Config.RequireLLM); err != nil {
				return err
			}
			n, err := a.Pipeline().Categorize(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("categorize pages: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "categorized %d pages\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum pages to categorize (0 for all)")
	return cmd
}

func newEmbedCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Generate embeddings for pages, then journalists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := precondition(cmd.Context(), a, config.Config.RequireLLM); err != nil {
				return err
			}
			pages, journalists, err := a.Pipeline().Embed(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("embed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "embedded %d pages and %d journalists\n", pages, journalists)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows per pass (0 for all)")
	return cmd
}

func newSyncCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-categories",
		Short: "Recompute journalist and source categories from their articles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := a.Pipeline().SyncCategories(cmd.Context())
			if err != nil {
				return fmt.Errorf("sync categories: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "re-derived %d rows\n", n)
			return nil
		},
	}
}

func newGuessEmailsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "guess-emails",
		Short: "Fill in missing journalist emails",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = a.Config().Emails.Limit
			}
			res, err := a.Pipeline().GuessEmails(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("guess emails: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked %d journalists: %d guessed, %d from third party, %d skipped, %d conflicts\n",
				res.Checked, res.Guessed, res.ThirdParty, res.Skipped, res.Conflicts)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum journalists to check (0 uses emails.limit)")
	return cmd
}

func newCleanJournalistsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean-journalists",
		Short: "Delete journalists whose names are really bylines like \"staff\"",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := a.Pipeline().CleanJournalists(cmd.Context())
			if err != nil {
				return fmt.Errorf("clean journalists: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d journalists\n", n)
			return nil
		},
	}
}
