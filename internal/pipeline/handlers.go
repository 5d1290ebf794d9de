package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pressroom/internal/core"
	"github.com/JakeFAU/pressroom/internal/crawler"
	"github.com/JakeFAU/pressroom/internal/events"
	"github.com/JakeFAU/pressroom/internal/notify"
	"github.com/JakeFAU/pressroom/internal/publisher"
	"github.com/JakeFAU/pressroom/internal/queue"
	"github.com/JakeFAU/pressroom/internal/retry"
)

const submitGrace = 5 * time.Second

// Deps are the stage implementations shared by Handlers and Runner.
type Deps struct {
	Store       Store
	Selector    SourceSelector
	Crawler     Crawler
	Extractor   Extractor
	Categorizer Categorizer
	Embedder    Embedder
	Indexer     Indexer
	Deriver     Deriver
	Emails      EmailGuesser
	Bus         events.Publisher
	Publisher   publisher.Publisher
	Notifier    notify.Notifier
	Clock       core.Clock
}

// Handlers executes queued tasks and enqueues the next stage.
type Handlers struct {
	deps   Deps
	submit Submitter
	logger *zap.Logger
}

// NewHandlers builds Handlers that chain follow-up work through submit.
func NewHandlers(deps Deps, submit Submitter, logger *zap.Logger) *Handlers {
	return &Handlers{deps: deps, submit: submit, logger: logger.Named("pipeline")}
}

// Register binds every kind to its handler on its lane.
func (h *Handlers) Register(r Registrar) {
	table := map[string]func(context.Context, queue.Task) error{
		KindCrawlSources:     h.crawlSources,
		KindCrawlSource:      h.crawlSource,
		KindExtractPage:      h.extractPage,
		KindProcessPages:     h.processPages,
		KindCategorizePage:   h.categorizePage,
		KindCategorizePages:  h.categorizePages,
		KindEmbedPages:       h.embedPages,
		KindEmbedJournalists: h.embedJournalists,
		KindIndexJournalist:  h.indexJournalist,
		KindIndexDelete:      h.indexDelete,
		KindIndexReconcile:   h.indexReconcile,
		KindSyncCategories:   h.syncCategories,
		KindGuessEmails:      h.guessEmails,
		KindHealthCheck:      h.healthCheck,
	}
	for kind, fn := range table {
		r.Register(kind, Lanes[kind], fn)
	}
}

// decode unmarshals a task payload. A bad payload never gets better, so the
// error is permanent.
func decode(task queue.Task, out any) error {
	if len(task.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(task.Payload, out); err != nil {
		return retry.Permanent(fmt.Errorf("decode %s payload: %w", task.Kind, err))
	}
	return nil
}

func (h *Handlers) crawlSources(ctx context.Context, task queue.Task) error {
	var req CrawlRequest
	if err := decode(task, &req); err != nil {
		return err
	}
	sources, err := h.deps.Selector.Select(ctx, req.DomainLimit)
	if err != nil {
		return err
	}
	for _, src := range sources {
		payload := SourceTask{SourceID: src.ID, PageLimit: req.PageLimit, MaxDepth: req.MaxDepth}
		if _, err := h.submit.Submit(ctx, KindCrawlSource, payload); err != nil {
			return fmt.Errorf("submit crawl of source %d: %w", src.ID, err)
		}
	}
	h.logger.Info("crawl scheduled", zap.Int("sources", len(sources)))
	return nil
}

func (h *Handlers) crawlSource(ctx context.Context, task queue.Task) error {
	var req SourceTask
	if err := decode(task, &req); err != nil {
		return err
	}
	src, err := h.deps.Store.GetSource(ctx, req.SourceID)
	if err != nil {
		return notFoundIsPermanent(fmt.Errorf("get source %d: %w", req.SourceID, err))
	}
	budget := crawler.Budget{
		MaxPages:           req.PageLimit,
		MaxDepth:           req.MaxDepth,
		IgnoreFailedDomain: task.Attempt > 1,
	}
	res, err := h.deps.Crawler.Crawl(ctx, src, budget)
	if err == nil {
		h.announceCrawl(ctx, src, res)
	}
	// Pages inserted before a failure are valid and still need extraction.
	if serr := h.submitExtractions(ctx, res.PageIDs); serr != nil {
		return errors.Join(err, serr)
	}
	if errors.Is(err, crawler.ErrNoHost) {
		return retry.Permanent(err)
	}
	return err
}

// submitExtractions enqueues extract-page for ids. A cancelled ctx gets a
// short detached grace period so pages stored before shutdown are not lost.
func (h *Handlers) submitExtractions(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), submitGrace)
		defer cancel()
	}
	for _, id := range ids {
		if _, err := h.submit.Submit(ctx, KindExtractPage, PageTask{PageID: id}); err != nil {
			return fmt.Errorf("submit extraction of page %d: %w", id, err)
		}
	}
	return nil
}

func (h *Handlers) announceCrawl(ctx context.Context, src core.Source, res crawler.Result) {
	if h.deps.Publisher == nil || res.Skipped {
		return
	}
	ev := publisher.CrawlCompleted{
		SourceID:   src.ID,
		SourceURL:  src.URL,
		Stored:     res.Stored,
		Duplicates: res.Duplicates,
		Rendered:   res.Rendered,
		Errors:     res.Errors,
		FinishedAt: h.deps.Clock.Now(),
	}
	if _, err := h.deps.Publisher.Publish(ctx, publisher.EventCrawlCompleted, ev); err != nil {
		h.logger.Warn("publish crawl completed", zap.Int64("source_id", src.ID), zap.Error(err))
	}
}

func (h *Handlers) extractPage(ctx context.Context, task queue.Task) error {
	var req PageTask
	if err := decode(task, &req); err != nil {
		return err
	}
	page, err := h.deps.Store.GetPage(ctx, req.PageID)
	if err != nil {
		return notFoundIsPermanent(fmt.Errorf("get page %d: %w", req.PageID, err))
	}
	journalists, news := page.JournalistIDs, page.IsNewsArticle
	if !page.Processed {
		out, err := h.deps.Extractor.Process(ctx, page)
		if err != nil {
			return err
		}
		journalists, news = out.JournalistIDs, out.IsNewsArticle
	}
	// Follow-ups are idempotent, so a retry after a failed submit re-chains them.
	if len(journalists) > 0 && len(page.Categories) == 0 {
		if _, err := h.submit.Submit(ctx, KindCategorizePage, PageTask{PageID: page.ID}); err != nil {
			return fmt.Errorf("submit categorization of page %d: %w", page.ID, err)
		}
	}
	if news {
		if _, err := h.submit.Submit(ctx, KindEmbedPages, LimitTask{}); err != nil {
			return fmt.Errorf("submit page embedding: %w", err)
		}
	}
	return nil
}

// processPages re-submits extraction for pages still unprocessed, such as
// those whose model answer was malformed or whose task ran out of retries.
func (h *Handlers) processPages(ctx context.Context, task queue.Task) error {
	var req LimitTask
	if err := decode(task, &req); err != nil {
		return err
	}
	pages, err := h.deps.Store.FindUnprocessedPages(ctx, req.Limit, false)
	if err != nil {
		return fmt.Errorf("find unprocessed pages: %w", err)
	}
	ids := make([]int64, 0, len(pages))
	for _, p := range pages {
		ids = append(ids, p.ID)
	}
	if err := h.submitExtractions(ctx, ids); err != nil {
		return err
	}
	h.logger.Info("extraction sweep scheduled", zap.Int("pages", len(ids)))
	return nil
}

func (h *Handlers) categorizePage(ctx context.Context, task queue.Task) error {
	var req PageTask
	if err := decode(task, &req); err != nil {
		return err
	}
	page, err := h.deps.Store.GetPage(ctx, req.PageID)
	if err != nil {
		return notFoundIsPermanent(fmt.Errorf("get page %d: %w", req.PageID, err))
	}
	if len(page.Categories) > 0 || len(page.JournalistIDs) == 0 {
		return nil
	}
	existing, err := h.deps.Store.ListCategoryNames(ctx)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	_, err = h.deps.Categorizer.Categorize(ctx, page, existing)
	return err
}

// categorizePages tags pages left uncategorized and reports the count to the operator.
func (h *Handlers) categorizePages(ctx context.Context, task queue.Task) error {
	var req LimitTask
	if err := decode(task, &req); err != nil {
		return err
	}
	n, err := h.deps.Categorizer.Sweep(ctx, req.Limit)
	if err != nil {
		return err
	}
	if n > 0 && h.deps.Notifier != nil {
		msg := fmt.Sprintf("[%s] categorize completed. %d pages categorized.", h.deps.Clock.Now().Format(time.RFC3339), n)
		if err := h.deps.Notifier.Notify(ctx, msg); err != nil {
			h.logger.Warn("operator notification failed", zap.Error(err))
		}
	}
	return nil
}

func (h *Handlers) embedPages(ctx context.Context, task queue.Task) error {
	var req LimitTask
	if err := decode(task, &req); err != nil {
		return err
	}
	n, err := h.deps.Embedder.EmbedPages(ctx, req.Limit)
	if err != nil {
		return err
	}
	if n > 0 {
		if _, err := h.submit.Submit(ctx, KindEmbedJournalists, LimitTask{}); err != nil {
			return fmt.Errorf("submit journalist embedding: %w", err)
		}
	}
	return nil
}

func (h *Handlers) embedJournalists(ctx context.Context, task queue.Task) error {
	var req LimitTask
	if err := decode(task, &req); err != nil {
		return err
	}
	_, err := h.deps.Embedder.EmbedJournalists(ctx, req.Limit)
	return err
}

func (h *Handlers) indexJournalist(ctx context.Context, task queue.Task) error {
	var req JournalistTask
	if err := decode(task, &req); err != nil {
		return err
	}
	return h.deps.Indexer.Sync(ctx, req.JournalistID)
}

func (h *Handlers) indexDelete(ctx context.Context, task queue.Task) error {
	var req JournalistTask
	if err := decode(task, &req); err != nil {
		return err
	}
	return h.deps.Indexer.Delete(ctx, req.JournalistID)
}

func (h *Handlers) indexReconcile(ctx context.Context, task queue.Task) error {
	var req ReconcileTask
	if err := decode(task, &req); err != nil {
		return err
	}
	_, err := h.deps.Indexer.Reconcile(ctx, req.Window)
	return err
}

func (h *Handlers) syncCategories(ctx context.Context, _ queue.Task) error {
	_, err := h.deps.Deriver.SyncAll(ctx)
	return err
}

func (h *Handlers) guessEmails(ctx context.Context, task queue.Task) error {
	var req LimitTask
	if err := decode(task, &req); err != nil {
		return err
	}
	_, err := h.deps.Emails.Run(ctx, req.Limit)
	return err
}

// healthCheck pings the store and alerts the operator on failure. The task
// itself succeeds so the alert is not repeated by the error hook.
func (h *Handlers) healthCheck(ctx context.Context, _ queue.Task) error {
	if err := h.deps.Store.Ping(ctx); err != nil {
		h.logger.Error("database health check failed", zap.Error(err))
		notify.Alert(ctx, h.deps.Notifier, h.logger, fmt.Sprintf("database health check failed: %v", err))
		return nil
	}
	pages, perr := h.deps.Store.CountPages(ctx)
	journalists, jerr := h.deps.Store.CountJournalists(ctx)
	if err := errors.Join(perr, jerr); err != nil {
		h.logger.Warn("health check counts", zap.Error(err))
		return nil
	}
	h.logger.Info("health check ok", zap.Int("pages", pages), zap.Int("journalists", journalists))
	return nil
}

func notFoundIsPermanent(err error) error {
	if errors.Is(err, core.ErrNotFound) {
		return retry.Permanent(err)
	}
	return err
}

// RouteIndexEvents enqueues index work for journalist events on bus.
func RouteIndexEvents(bus *events.Bus, submit Submitter) {
	bus.Subscribe(events.JournalistChangedName, func(ctx context.Context, ev events.Event) error {
		e, ok := ev.(events.JournalistChanged)
		if !ok {
			return nil
		}
		_, err := submit.Submit(ctx, KindIndexJournalist, JournalistTask{JournalistID: e.JournalistID})
		return err
	})
	bus.Subscribe(events.JournalistDeletedName, func(ctx context.Context, ev events.Event) error {
		e, ok := ev.(events.JournalistDeleted)
		if !ok {
			return nil
		}
		_, err := submit.Submit(ctx, KindIndexDelete, JournalistTask{JournalistID: e.JournalistID})
		return err
	})
}

// PushIndexEvents applies journalist events to the index inline. Index
// failures are logged; the store stays authoritative and reconcile repairs
// the replica.
func PushIndexEvents(bus *events.Bus, index Indexer, logger *zap.Logger) {
	logger = logger.Named("pipeline")
	bus.Subscribe(events.JournalistChangedName, func(ctx context.Context, ev events.Event) error {
		if e, ok := ev.(events.JournalistChanged); ok {
			if err := index.Sync(ctx, e.JournalistID); err != nil {
				logger.Warn("index journalist", zap.Int64("journalist_id", e.JournalistID), zap.Error(err))
			}
		}
		return nil
	})
	bus.Subscribe(events.JournalistDeletedName, func(ctx context.Context, ev events.Event) error {
		if e, ok := ev.(events.JournalistDeleted); ok {
			if err := index.Delete(ctx, e.JournalistID); err != nil {
				logger.Warn("delete index document", zap.Int64("journalist_id", e.JournalistID), zap.Error(err))
			}
		}
		return nil
	})
}
