package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/pressroom/internal/core"
	"github.com/JakeFAU/pressroom/internal/crawler"
	"github.com/JakeFAU/pressroom/internal/emails"
	"github.com/JakeFAU/pressroom/internal/events"
	"github.com/JakeFAU/pressroom/internal/extract"
	"github.com/JakeFAU/pressroom/internal/publisher"
	"github.com/JakeFAU/pressroom/internal/queue"
)

// RunnerConfig bounds the in-process fan-out per stage.
type RunnerConfig struct {
	CrawlConcurrency   int
	ProcessConcurrency int
}

// Runner runs the pipeline stages synchronously for CLI commands.
type Runner struct {
	deps   Deps
	cfg    RunnerConfig
	logger *zap.Logger
}

// NewRunner builds a Runner. Zero concurrencies use the lane defaults.
func NewRunner(deps Deps, cfg RunnerConfig, logger *zap.Logger) *Runner {
	def := queue.DefaultConcurrency()
	if cfg.CrawlConcurrency <= 0 {
		cfg.CrawlConcurrency = def[queue.LaneCrawl]
	}
	if cfg.ProcessConcurrency <= 0 {
		cfg.ProcessConcurrency = def[queue.LaneProcess]
	}
	return &Runner{deps: deps, cfg: cfg, logger: logger.Named("runner")}
}

// CrawlReport summarizes a full crawl run.
type CrawlReport struct {
	Sources             int
	Failed              int
	PagesAdded          int
	JournalistsAdded    int
	Process             ProcessReport
	Categorized         int
	PagesEmbedded       int
	JournalistsEmbedded int
	Elapsed             time.Duration
}

// Crawl selects stale sources, crawls them, then runs extraction,
// categorization and embedding over what is pending. The operator gets a
// start and an end message.
func (r *Runner) Crawl(ctx context.Context, req CrawlRequest) (CrawlReport, error) {
	var rep CrawlReport
	start := r.now()
	pagesBefore, journalistsBefore, err := r.counts(ctx)
	if err != nil {
		return rep, err
	}
	r.notify(ctx, fmt.Sprintf("[%s] crawl starting", start.Format(time.RFC3339)))

	sources, err := r.deps.Selector.Select(ctx, req.DomainLimit)
	if err != nil {
		return rep, fmt.Errorf("select sources: %w", err)
	}
	rep.Sources = len(sources)
	rep.Failed, err = r.crawlAll(ctx, sources, crawler.Budget{MaxPages: req.PageLimit, MaxDepth: req.MaxDepth})
	if err != nil {
		return rep, err
	}

	if rep.Process, err = r.Process(ctx, 0, false); err != nil {
		return rep, err
	}
	if rep.Categorized, err = r.Categorize(ctx, 0); err != nil {
		return rep, err
	}
	if rep.PagesEmbedded, rep.JournalistsEmbedded, err = r.Embed(ctx, 0); err != nil {
		return rep, err
	}

	pagesAfter, journalistsAfter, err := r.counts(ctx)
	if err != nil {
		return rep, err
	}
	rep.PagesAdded = pagesAfter - pagesBefore
	rep.JournalistsAdded = journalistsAfter - journalistsBefore
	rep.Elapsed = r.now().Sub(start)
	r.notify(ctx, fmt.Sprintf("[%s] crawl completed. %d pages, %d journalists added.",
		r.now().Format(time.RFC3339), rep.PagesAdded, rep.JournalistsAdded))
	return rep, nil
}

func (r *Runner) crawlAll(ctx context.Context, sources []core.Source, budget crawler.Budget) (int, error) {
	var (
		mu     sync.Mutex
		failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.CrawlConcurrency)
	for _, src := range sources {
		g.Go(func() error {
			res, err := r.deps.Crawler.Crawl(gctx, src, budget)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.logger.Warn("crawl failed", zap.Int64("source_id", src.ID), zap.String("source", src.URL), zap.Error(err))
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			r.announceCrawl(gctx, src, res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return failed, fmt.Errorf("crawl sources: %w", err)
	}
	return failed, nil
}

func (r *Runner) announceCrawl(ctx context.Context, src core.Source, res crawler.Result) {
	if r.deps.Publisher == nil || res.Skipped {
		return
	}
	ev := publisher.CrawlCompleted{
		SourceID:   src.ID,
		SourceURL:  src.URL,
		Stored:     res.Stored,
		Duplicates: res.Duplicates,
		Rendered:   res.Rendered,
		Errors:     res.Errors,
		FinishedAt: r.now(),
	}
	if _, err := r.deps.Publisher.Publish(ctx, publisher.EventCrawlCompleted, ev); err != nil {
		r.logger.Warn("publish crawl completed", zap.Int64("source_id", src.ID), zap.Error(err))
	}
}

// ProcessReport summarizes an extraction sweep.
type ProcessReport struct {
	Pages       int
	News        int
	Journalists int
	Failed      int
}

// Process extracts journalists from up to limit unprocessed pages, or from
// processed ones too when reprocess is set. Per-page failures leave the page
// unprocessed for the next sweep.
func (r *Runner) Process(ctx context.Context, limit int, reprocess bool) (ProcessReport, error) {
	var rep ProcessReport
	pages, err := r.deps.Store.FindUnprocessedPages(ctx, limit, reprocess)
	if err != nil {
		return rep, fmt.Errorf("find unprocessed pages: %w", err)
	}
	rep.Pages = len(pages)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.ProcessConcurrency)
	for _, page := range pages {
		g.Go(func() error {
			out, err := r.deps.Extractor.Process(gctx, page)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.logger.Warn("extraction failed", zap.Int64("page_id", page.ID), zap.Error(err))
				rep.Failed++
				return nil
			}
			if out.IsNewsArticle {
				rep.News++
			}
			rep.Journalists += len(out.JournalistIDs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep, fmt.Errorf("process pages: %w", err)
	}
	r.logger.Info("extraction sweep finished",
		zap.Int("pages", rep.Pages), zap.Int("news", rep.News),
		zap.Int("journalists", rep.Journalists), zap.Int("failed", rep.Failed))
	return rep, nil
}

// Categorize tags up to limit uncategorized pages.
func (r *Runner) Categorize(ctx context.Context, limit int) (int, error) {
	return r.deps.Categorizer.Sweep(ctx, limit)
}

// Embed fills page embeddings, then journalist embeddings.
func (r *Runner) Embed(ctx context.Context, limit int) (int, int, error) {
	pages, err := r.deps.Embedder.EmbedPages(ctx, limit)
	if err != nil {
		return pages, 0, err
	}
	journalists, err := r.deps.Embedder.EmbedJournalists(ctx, limit)
	return pages, journalists, err
}

// SyncCategories re-derives every journalist and source.
func (r *Runner) SyncCategories(ctx context.Context) (int, error) {
	return r.deps.Deriver.SyncAll(ctx)
}

// GuessEmails fills missing journalist emails.
func (r *Runner) GuessEmails(ctx context.Context, limit int) (emails.Result, error) {
	return r.deps.Emails.Run(ctx, limit)
}

// CleanJournalists deletes journalists whose names contain an unwanted term
// and announces each deletion so the index drops them.
func (r *Runner) CleanJournalists(ctx context.Context) (int, error) {
	found, err := r.deps.Store.FindJournalistsByNameTerms(ctx, extract.UnwantedNameTerms)
	if err != nil {
		return 0, fmt.Errorf("find unwanted journalists: %w", err)
	}
	deleted := 0
	for _, j := range found {
		if err := r.deps.Store.DeleteJournalist(ctx, j.ID); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			return deleted, fmt.Errorf("delete journalist %d: %w", j.ID, err)
		}
		deleted++
		r.logger.Info("deleted journalist", zap.Int64("journalist_id", j.ID), zap.String("name", j.Name))
		if r.deps.Bus != nil {
			if err := r.deps.Bus.Publish(ctx, events.JournalistDeleted{JournalistID: j.ID}); err != nil {
				r.logger.Warn("publish journalist deleted", zap.Int64("journalist_id", j.ID), zap.Error(err))
			}
		}
	}
	return deleted, nil
}

func (r *Runner) counts(ctx context.Context) (int, int, error) {
	pages, err := r.deps.Store.CountPages(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("count pages: %w", err)
	}
	journalists, err := r.deps.Store.CountJournalists(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("count journalists: %w", err)
	}
	return pages, journalists, nil
}

func (r *Runner) notify(ctx context.Context, message string) {
	r.logger.Info(message)
	if r.deps.Notifier == nil {
		return
	}
	if err := r.deps.Notifier.Notify(ctx, message); err != nil {
		r.logger.Warn("operator notification failed", zap.Error(err))
	}
}

func (r *Runner) now() time.Time {
	if r.deps.Clock == nil {
		return time.Now().UTC()
	}
	return r.deps.Clock.Now()
}
