// Package pipeline chains the crawl, extraction, categorization, embedding
// and indexing stages, either as queued tasks or in process.
package pipeline

import (
	"context"
	"time"

	"github.com/JakeFAU/pressroom/internal/categorize"
	"github.com/JakeFAU/pressroom/internal/core"
	"github.com/JakeFAU/pressroom/internal/crawler"
	"github.com/JakeFAU/pressroom/internal/emails"
	"github.com/JakeFAU/pressroom/internal/extract"
	"github.com/JakeFAU/pressroom/internal/orchestrator"
	"github.com/JakeFAU/pressroom/internal/queue"
	"github.com/JakeFAU/pressroom/internal/search"
)

// Task kinds.
const (
	KindCrawlSources     = "crawl-sources"
	KindCrawlSource      = "crawl-source"
	KindExtractPage      = "extract-page"
	KindProcessPages     = "process-pages"
	KindCategorizePage   = "categorize-page"
	KindCategorizePages  = "categorize-pages"
	KindEmbedPages       = "embed-pages"
	KindEmbedJournalists = "embed-journalists"
	KindIndexJournalist  = "index-journalist"
	KindIndexDelete      = "index-delete"
	KindIndexReconcile   = "index-reconcile"
	KindSyncCategories   = "sync-categories"
	KindGuessEmails      = "guess-emails"
	KindHealthCheck      = "health-check"
)

// Lanes maps each kind to the lane its workers run on.
var Lanes = map[string]string{
	KindCrawlSources:     queue.LaneCrawl,
	KindCrawlSource:      queue.LaneCrawl,
	KindExtractPage:      queue.LaneProcess,
	KindProcessPages:     queue.LaneMaintenance,
	KindCategorizePage:   queue.LaneCategorize,
	KindCategorizePages:  queue.LaneCategorize,
	KindEmbedPages:       queue.LaneEmbed,
	KindEmbedJournalists: queue.LaneEmbed,
	KindIndexJournalist:  queue.LaneIndex,
	KindIndexDelete:      queue.LaneIndex,
	KindIndexReconcile:   queue.LaneIndex,
	KindSyncCategories:   queue.LaneMaintenance,
	KindGuessEmails:      queue.LaneMaintenance,
	KindHealthCheck:      queue.LaneMaintenance,
}

// CrawlRequest starts a crawl of the stalest sources.
type CrawlRequest struct {
	DomainLimit int `json:"domain_limit,omitempty"`
	PageLimit   int `json:"page_limit,omitempty"`
	MaxDepth    int `json:"max_depth,omitempty"`
}

// SourceTask crawls one source.
type SourceTask struct {
	SourceID  int64 `json:"source_id"`
	PageLimit int   `json:"page_limit,omitempty"`
	MaxDepth  int   `json:"max_depth,omitempty"`
}

// PageTask targets one page.
type PageTask struct {
	PageID int64 `json:"page_id"`
}

// JournalistTask targets one journalist.
type JournalistTask struct {
	JournalistID int64 `json:"journalist_id"`
}

// LimitTask bounds a sweep. Zero means the stage default.
type LimitTask struct {
	Limit int `json:"limit,omitempty"`
}

// ReconcileTask re-pushes journalists modified within Window.
type ReconcileTask struct {
	Window time.Duration `json:"window,omitempty"`
}

// Submitter enqueues a task.
type Submitter interface {
	Submit(ctx context.Context, kind string, payload any) (string, error)
}

// Registrar accepts task handlers.
type Registrar interface {
	Register(kind, lane string, h orchestrator.Handler)
}

// Store is the repository surface the pipeline reads directly.
type Store interface {
	GetSource(ctx context.Context, id int64) (core.Source, error)
	GetPage(ctx context.Context, id int64) (core.Page, error)
	FindUnprocessedPages(ctx context.Context, limit int, reprocess bool) ([]core.Page, error)
	ListCategoryNames(ctx context.Context) ([]string, error)
	CountPages(ctx context.Context) (int, error)
	CountJournalists(ctx context.Context) (int, error)
	FindJournalistsByNameTerms(ctx context.Context, terms []string) ([]core.Journalist, error)
	DeleteJournalist(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
}

// SourceSelector picks the sources due for a crawl.
type SourceSelector interface {
	Select(ctx context.Context, limit int) ([]core.Source, error)
}

// Crawler crawls one source.
type Crawler interface {
	Crawl(ctx context.Context, src core.Source, budget crawler.Budget) (crawler.Result, error)
}

// Extractor processes one page.
type Extractor interface {
	Process(ctx context.Context, page core.Page) (extract.Outcome, error)
}

// Categorizer tags pages.
type Categorizer interface {
	Categorize(ctx context.Context, page core.Page, existing []string) ([]core.Category, error)
	Sweep(ctx context.Context, limit int) (int, error)
}

// Embedder fills embedding columns.
type Embedder interface {
	EmbedPages(ctx context.Context, limit int) (int, error)
	EmbedJournalists(ctx context.Context, limit int) (int, error)
}

// Indexer keeps the search index in step with the store.
type Indexer interface {
	Sync(ctx context.Context, journalistID int64) error
	Delete(ctx context.Context, journalistID int64) error
	Reconcile(ctx context.Context, window time.Duration) (int, error)
}

// Deriver recomputes derived categories and sources.
type Deriver interface {
	SyncAll(ctx context.Context) (int, error)
}

// EmailGuesser fills missing journalist emails.
type EmailGuesser interface {
	Run(ctx context.Context, limit int) (emails.Result, error)
}

var (
	_ Categorizer  = (*categorize.Categorizer)(nil)
	_ Indexer      = (*search.Synchronizer)(nil)
	_ EmailGuesser = (*emails.Guesser)(nil)
)
