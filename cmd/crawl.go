package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pressroom/internal/config"
	"github.com/JakeFAU/pressroom/internal/pipeline"
)

type crawlFlags struct {
	domains int
	pages   int
	depth   int
}

func (f *crawlFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.domains, "domains", 0, "maximum sources to crawl (0 uses scheduler.domain_limit)")
	cmd.Flags().IntVar(&f.pages, "pages", 0, "maximum new pages per source (0 uses crawler.max_pages)")
	cmd.Flags().IntVar(&f.depth, "depth", 0, "maximum link depth (0 uses crawler.max_depth)")
}

func (f *crawlFlags) request() pipeline.CrawlRequest {
	return pipeline.CrawlRequest{DomainLimit: f.domains, PageLimit: f.pages, MaxDepth: f.depth}
}

// newCrawlCmd creates the 'crawl' subcommand, which crawls the stalest
// sources and carries their pages through extraction, categorization and
// embedding.
func newCrawlCmd() *cobra.Command {
	var (
		flags   crawlFlags
		enqueue bool
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl stale sources and run the pipeline over the new pages",
		Long: `Selects the sources least recently crawled, crawls them, then extracts
journalists, categorizes and embeds whatever is pending. With --enqueue the
work is submitted to the task queue for the serve workers instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			req := flags.request()
			if enqueue {
				id, err := a.Submit(cmd.Context(), pipeline.KindCrawlSources, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "submitted %s task %s\n", pipeline.KindCrawlSources, id)
				return nil
			}
			if err := precondition(cmd.Context(), a, config.Config.RequireLLM); err != nil {
				return err
			}
			rep, err := a.Pipeline().Crawl(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("crawl: %w", err)
			}
			printCrawlReport(cmd.OutOrStdout(), rep)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "submit the crawl to the task queue instead of running it here")
	return cmd
}

// newRecrawlCmd creates the 'recrawl' subcommand: crawl, wait, repeat.
func newRecrawlCmd() *cobra.Command {
	var (
		flags    crawlFlags
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "recrawl",
		Short: "Run crawl in a loop until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive, got %s", interval)
			}
			if err := precondition(cmd.Context(), a, config.Config.RequireLLM); err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return recrawl(ctx, a, flags.request(), interval, cmd.OutOrStdout())
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&interval, "interval", 6*time.Hour, "pause between crawls")
	return cmd
}

func recrawl(ctx context.Context, a App, req pipeline.CrawlRequest, interval time.Duration, out io.Writer) error {
	logger := a.Logger().Named("recrawl")
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("recrawl stopped")
			return nil
		case <-timer.C:
		}
		rep, err := a.Pipeline().Crawl(ctx, req)
		switch {
		case ctx.Err() != nil:
			logger.Info("recrawl stopped")
			return nil
		case err != nil:
			logger.Error("crawl failed", zap.Error(err))
		default:
			printCrawlReport(out, rep)
		}
		timer.Reset(interval)
	}
}

func printCrawlReport(w io.Writer, rep pipeline.CrawlReport) {
	fmt.Fprintf(w, "sources crawled:      %d (%d failed)\n", rep.Sources, rep.Failed)
	fmt.Fprintf(w, "pages added:          %d\n", rep.PagesAdded)
	fmt.Fprintf(w, "journalists added:    %d\n", rep.JournalistsAdded)
	fmt.Fprintf(w, "pages processed:      %d (%d news, %d failed)\n", rep.Process.Pages, rep.Process.News, rep.Process.Failed)
	fmt.Fprintf(w, "pages categorized:    %d\n", rep.Categorized)
	fmt.Fprintf(w, "embeddings:           %d pages, %d journalists\n", rep.PagesEmbedded, rep.JournalistsEmbedded)
	fmt.Fprintf(w, "elapsed:              %s\n", rep.Elapsed.Round(time.Second))
}
