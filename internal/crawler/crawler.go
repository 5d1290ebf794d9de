// Package crawler fetches a source's pages within a budget and stores the
// ones the repository has not seen yet.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/pressroom/internal/cache"
	"github.com/JakeFAU/pressroom/internal/core"
	"github.com/JakeFAU/pressroom/internal/metrics"
	"github.com/JakeFAU/pressroom/internal/normalize"
)

// Store is the repository surface the crawler writes to.
type Store interface {
	PageExists(ctx context.Context, url string) (bool, error)
	InsertPageIfAbsent(ctx context.Context, page core.Page) (core.Page, bool, error)
	MarkCrawled(ctx context.Context, id int64, at time.Time) error
}

// Normalizer turns raw HTML into page text.
type Normalizer interface {
	Normalize(rawHTML, pageURL string) (normalize.Document, error)
}

// Detector decides whether a static body needs a headless render.
type Detector interface {
	NeedsJS(body []byte) bool
}

// Renderer returns the DOM of a page after scripts ran.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (string, error)
}

// Waiter throttles requests per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Deps are the crawler's collaborators. Store, Normalizer and Clock are
// required; the rest are optional.
type Deps struct {
	Store         Store
	Normalizer    Normalizer
	Clock         core.Clock
	Archiver      *Archiver
	Detector      Detector
	Renderer      Renderer
	FailedDomains cache.FailedDomains
	Limiter       Waiter
}

// ErrNoHost is returned for a source whose URL has no host to crawl.
var ErrNoHost = errors.New("source has no host")

// Budget bounds one crawl. Zero values fall back to the configured defaults.
type Budget struct {
	// MaxPages bounds every request issued, seed included.
	MaxPages int
	// MaxDepth counts link hops from the seed page.
	MaxDepth int
	// IgnoreFailedDomain crawls even when the host is marked failing. Queue
	// retries set it, since the failed attempt is what marked the host.
	IgnoreFailedDomain bool
}

// Result summarizes one crawl.
type Result struct {
	SourceID   int64 `json:"source_id"`
	Stored     int   `json:"stored"`
	Duplicates int   `json:"duplicates"`
	Rendered   int   `json:"rendered"`
	Errors     int   `json:"errors"`
	// Fetched counts every request issued, which is what the page budget bounds.
	Fetched int `json:"fetched"`
	// Skipped is set when the source's host is in the failed-domains cache.
	Skipped bool `json:"skipped,omitempty"`
	// PageIDs lists the pages this crawl created, in completion order.
	PageIDs []int64 `json:"page_ids,omitempty"`
}

// SiteCrawler crawls one source at a time with a fresh colly collector.
type SiteCrawler struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New returns a SiteCrawler.
func New(deps Deps, cfg Config, logger *zap.Logger) *SiteCrawler {
	return &SiteCrawler{deps: deps, cfg: cfg.withDefaults(), logger: logger.Named("crawler")}
}

type crawlRun struct {
	source   core.Source
	maxPages int64

	reserved   atomic.Int64
	stored     atomic.Int64
	duplicates atomic.Int64
	rendered   atomic.Int64
	errors     atomic.Int64

	mu      sync.Mutex
	seedErr error
	pageIDs []int64
}

func (r *crawlRun) budgetSpent() bool {
	return r.reserved.Load() >= r.maxPages
}

// reserve claims one fetch slot. Every request counts, whether its page turns
// out new, duplicate or broken, so a recrawl of a known site stays bounded.
func (r *crawlRun) reserve() bool {
	if r.reserved.Add(1) > r.maxPages {
		r.reserved.Add(-1)
		return false
	}
	return true
}

func (r *crawlRun) fetched() int { return int(r.reserved.Load()) }

func (r *crawlRun) result() Result {
	r.mu.Lock()
	ids := append([]int64(nil), r.pageIDs...)
	r.mu.Unlock()
	return Result{
		PageIDs:    ids,
		SourceID:   r.source.ID,
		Stored:     int(r.stored.Load()),
		Duplicates: int(r.duplicates.Load()),
		Rendered:   int(r.rendered.Load()),
		Errors:     int(r.errors.Load()),
		Fetched:    r.fetched(),
	}
}

// Crawl fetches the source's seed page and follows same-domain links within
// budget. It returns an error and leaves last_crawled alone when the seed
// request fails; per-page failures are only counted.
func (c *SiteCrawler) Crawl(ctx context.Context, src core.Source, budget Budget) (Result, error) {
	if budget.MaxPages <= 0 {
		budget.MaxPages = c.cfg.MaxPages
	}
	if budget.MaxDepth <= 0 {
		budget.MaxDepth = c.cfg.MaxDepth
	}
	logger := c.logger.With(zap.Int64("source_id", src.ID), zap.String("source", src.URL))
	host := core.Hostname(src.URL)
	if host == "" {
		return Result{SourceID: src.ID}, fmt.Errorf("source %d %q: %w", src.ID, src.URL, ErrNoHost)
	}

	if c.deps.FailedDomains != nil && !budget.IgnoreFailedDomain {
		failed, err := c.deps.FailedDomains.IsFailed(ctx, host)
		if err != nil {
			logger.Warn("failed-domains lookup failed", zap.Error(err))
		}
		if failed {
			logger.Info("skipping failing domain", zap.String("host", host))
			return Result{SourceID: src.ID, Skipped: true}, nil
		}
	}

	run := &crawlRun{source: src, maxPages: int64(budget.MaxPages)}
	collector, err := c.newCollector(ctx, host, budget)
	if err != nil {
		return run.result(), err
	}
	c.bind(ctx, collector, run, logger)

	start := c.deps.Clock.Now()
	if err := collector.Visit(src.URL); err != nil {
		run.mu.Lock()
		run.seedErr = err
		run.mu.Unlock()
	}
	collector.Wait()

	res := run.result()
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("crawl %s: %w", src.URL, err)
	}
	run.mu.Lock()
	seedErr := run.seedErr
	run.mu.Unlock()
	if seedErr != nil {
		if c.deps.FailedDomains != nil {
			if err := c.deps.FailedDomains.MarkFailed(ctx, host); err != nil {
				logger.Warn("mark domain failed", zap.Error(err))
			}
		}
		metrics.ObservePage(src.URL, "seed_error")
		return res, fmt.Errorf("crawl %s: seed request: %w", src.URL, seedErr)
	}

	if err := c.deps.Store.MarkCrawled(ctx, src.ID, c.deps.Clock.Now()); err != nil {
		return res, fmt.Errorf("mark source %d crawled: %w", src.ID, err)
	}
	logger.Info("crawl finished",
		zap.Int("stored", res.Stored), zap.Int("duplicates", res.Duplicates),
		zap.Int("rendered", res.Rendered), zap.Int("errors", res.Errors),
		zap.Duration("elapsed", c.deps.Clock.Now().Sub(start)))
	return res, nil
}

func (c *SiteCrawler) newCollector(ctx context.Context, host string, budget Budget) (*colly.Collector, error) {
	collector := colly.NewCollector(
		colly.AllowedDomains(host, "www."+host),
		colly.MaxDepth(budget.MaxDepth+1),
		colly.UserAgent(c.cfg.UserAgent),
		colly.Async(true),
		colly.StdlibContext(ctx),
	)
	collector.AllowURLRevisit = false
	collector.IgnoreRobotsTxt = c.cfg.IgnoreRobots
	collector.SetRequestTimeout(c.cfg.Timeout)
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: c.cfg.Parallelism,
		Delay:       c.cfg.Delay,
	}); err != nil {
		return nil, fmt.Errorf("set collector limits: %w", err)
	}
	return collector, nil
}

func (c *SiteCrawler) bind(ctx context.Context, collector *colly.Collector, run *crawlRun, logger *zap.Logger) {
	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil || !run.reserve() {
			r.Abort()
			return
		}
		if c.deps.Limiter != nil {
			if err := c.deps.Limiter.Wait(ctx, r.URL.String()); err != nil {
				r.Abort()
			}
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		c.handleResponse(ctx, run, r, logger)
	})

	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if run.budgetSpent() || ctx.Err() != nil {
			return
		}
		err := e.Request.Visit(e.Attr("href"))
		if err != nil && !isExpectedVisitError(err) {
			logger.Debug("skip link", zap.String("href", e.Attr("href")), zap.Error(err))
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r.Request.Depth <= 1 {
			run.mu.Lock()
			run.seedErr = err
			run.mu.Unlock()
			return
		}
		run.errors.Add(1)
		metrics.ObservePage(run.source.URL, "fetch_error")
		logger.Warn("request failed",
			zap.String("url", r.Request.URL.String()),
			zap.Int("status_code", r.StatusCode),
			zap.Error(err))
	})
}

func isExpectedVisitError(err error) bool {
	var already *colly.AlreadyVisitedError
	return errors.As(err, &already) ||
		errors.Is(err, colly.ErrForbiddenDomain) ||
		errors.Is(err, colly.ErrMaxDepth) ||
		errors.Is(err, colly.ErrMissingURL)
}

func (c *SiteCrawler) handleResponse(ctx context.Context, run *crawlRun, r *colly.Response, logger *zap.Logger) {
	if !strings.Contains(strings.ToLower(r.Headers.Get("Content-Type")), "html") || len(r.Body) == 0 {
		return
	}
	pageURL := core.CleanURL(r.Request.URL.String())
	pageLog := logger.With(zap.String("url", pageURL))

	exists, err := c.deps.Store.PageExists(ctx, pageURL)
	if err != nil {
		run.errors.Add(1)
		pageLog.Error("page lookup failed", zap.Error(err))
		return
	}
	if exists {
		run.duplicates.Add(1)
		metrics.ObservePage(run.source.URL, "duplicate")
		return
	}

	stored, created, err := c.storePage(ctx, run, pageURL, r.Body, pageLog)
	switch {
	case err != nil:
		run.errors.Add(1)
		metrics.ObservePage(run.source.URL, "error")
		pageLog.Error("store page failed", zap.Error(err))
	case !created:
		run.duplicates.Add(1)
		metrics.ObservePage(run.source.URL, "duplicate")
	default:
		run.stored.Add(1)
		run.mu.Lock()
		run.pageIDs = append(run.pageIDs, stored.ID)
		run.mu.Unlock()
		metrics.ObservePage(run.source.URL, "stored")
	}
}

func (c *SiteCrawler) storePage(ctx context.Context, run *crawlRun, pageURL string, body []byte, logger *zap.Logger) (core.Page, bool, error) {
	if c.deps.Detector != nil && c.deps.Renderer != nil && c.deps.Detector.NeedsJS(body) {
		html, err := c.deps.Renderer.Render(ctx, pageURL)
		if err != nil {
			logger.Warn("headless render failed, keeping static body", zap.Error(err))
		} else {
			body = []byte(html)
			run.rendered.Add(1)
		}
	}

	doc, err := c.deps.Normalizer.Normalize(string(body), pageURL)
	if err != nil {
		return core.Page{}, false, fmt.Errorf("normalize: %w", err)
	}

	page := core.Page{
		URL:      pageURL,
		Title:    doc.Title,
		Content:  doc.Content,
		SourceID: run.source.ID,
	}
	if c.deps.Archiver != nil {
		uri, err := c.deps.Archiver.Archive(ctx, body)
		if err != nil {
			logger.Warn("archive raw html failed", zap.Error(err))
		} else {
			page.BlobURI = uri
		}
	}

	stored, created, err := c.deps.Store.InsertPageIfAbsent(ctx, page)
	if err != nil {
		return core.Page{}, false, fmt.Errorf("insert page: %w", err)
	}
	return stored, created, nil
}
